package msg

import "kernos/kernel"

// MailboxSlots is the capacity of a Mailbox.
const MailboxSlots = 64

// ErrFull is returned when pushing to a mailbox that has no free slot.
var ErrFull = &kernel.Error{Module: "msg", Message: "mailbox is full"}

// Mailbox is a bounded FIFO of messages. It does no locking of its own;
// callers hold the interrupt-masked critical section.
type Mailbox struct {
	head, tail uint32
	slots      [MailboxSlots]Message
}

// Push appends m to the mailbox.
func (mb *Mailbox) Push(m Message) *kernel.Error {
	if mb.head-mb.tail >= MailboxSlots {
		return ErrFull
	}

	mb.slots[mb.head%MailboxSlots] = m
	mb.head++
	return nil
}

// Pop removes and returns the oldest message.
func (mb *Mailbox) Pop() (Message, bool) {
	if mb.tail == mb.head {
		return Message{}, false
	}

	m := mb.slots[mb.tail%MailboxSlots]
	mb.tail++
	return m, true
}

// Len returns the number of queued messages.
func (mb *Mailbox) Len() int {
	return int(mb.head - mb.tail)
}
