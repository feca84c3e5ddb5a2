package main

import (
	"io"
	"kernos/kernel/cpu"
	"kernos/kernel/irq"
	"kernos/kernel/kfmt"
	"kernos/kernel/msg"
	"kernos/kernel/task"
)

// asciiEOT is delivered once the input device is exhausted.
const asciiEOT = 0x04

// keyboard emulates a keyboard controller with a 256 byte FIFO. A host
// goroutine feeds it and raises irq.VectorKeyboard.
type keyboard struct {
	fifo chan byte
	log  io.Writer
}

func newKeyboard(readRune func() (rune, error)) *keyboard {
	kbd := &keyboard{fifo: make(chan byte, 256), log: kfmt.NewLogger("kbd")}
	go kbd.feed(readRune)
	return kbd
}

func (kbd *keyboard) feed(readRune func() (rune, error)) {
	for {
		r, err := readRune()
		if err != nil {
			kbd.fifo <- asciiEOT
			cpu.RaiseInterrupt(irq.VectorKeyboard)
			return
		}

		if r > 0x7f {
			continue
		}
		kbd.fifo <- byte(r)
		cpu.RaiseInterrupt(irq.VectorKeyboard)
	}
}

// interruptHandler returns the handler for irq.VectorKeyboard. Every key in
// the FIFO is sent to the main task as a key press.
func (kbd *keyboard) interruptHandler(sched *task.Scheduler) irq.Handler {
	return func() {
		for {
			select {
			case c := <-kbd.fifo:
				if err := sched.SendMessage(task.MainTaskID, msg.NewKeyPush(0, 0, c, true)); err != nil {
					kfmt.Fprintf(kbd.log, "dropping key %#x: %s\n", c, err.Error())
				}
			default:
				irq.NotifyEndOfInterrupt()
				return
			}
		}
	}
}
