// Package task implements kernel tasks and the round-robin scheduler that
// multiplexes them on the single CPU.
package task

import (
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/mm/vmm"
	"kernos/kernel/msg"
)

// State describes where a task is in its lifecycle.
type State uint8

// Task states.
const (
	Created State = iota
	Runnable
	Running
	Sleeping
	Exiting
)

var stateNames = [...]string{"created", "runnable", "running", "sleeping", "exiting"}

// String implements fmt.Stringer for State.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// TaskFunc is the entry point of a task. It runs with interrupts enabled.
type TaskFunc func(taskID uint64, arg int64)

// Task is a schedulable execution context together with the resources the
// kernel tracks for it.
type Task struct {
	id    uint64
	state State
	sched *Scheduler
	ctx   context

	entry TaskFunc
	arg   int64

	mailbox msg.Mailbox

	as           *vmm.AddressSpace
	dpagingBegin uintptr
	dpagingEnd   uintptr
	fileMaps     []*vmm.FileMapping
	fileMapEnd   uintptr
	files        []FileDescriptor

	exitCode int

	// kernelCont identifies the kernel frame that resumes when the user
	// program running in this task exits.
	kernelCont uint64
}

// ID returns the task id.
func (t *Task) ID() uint64 { return t.id }

// State returns the current task state.
func (t *Task) State() State {
	flags := cpu.DisableInterrupts()
	s := t.state
	cpu.RestoreInterrupts(flags)
	return s
}

// ExitCode returns the code the task exited with.
func (t *Task) ExitCode() int { return t.exitCode }

// InitContext prepares the task to run entry(id, arg) when it is first
// dispatched. The task inherits the active page table.
func (t *Task) InitContext(entry TaskFunc, arg int64) *Task {
	t.entry, t.arg = entry, arg
	t.ctx.cr3 = cpu.ActivePDT()
	return t
}

// Wakeup makes the task runnable. It is a no-op for tasks that are already
// runnable or running.
func (t *Task) Wakeup() *Task {
	flags := cpu.DisableInterrupts()
	t.sched.wakeup(t)
	cpu.RestoreInterrupts(flags)
	return t
}

// Sleep removes the task from the ready rotation. Putting the running task to
// sleep switches to the next runnable task.
func (t *Task) Sleep() *Task {
	flags := cpu.DisableInterrupts()
	t.sched.sleep(t)
	cpu.RestoreInterrupts(flags)
	return t
}

// SendMessage queues m in the task's mailbox and wakes the task if it is
// sleeping.
func (t *Task) SendMessage(m msg.Message) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	if err := t.mailbox.Push(m); err != nil {
		return err
	}

	if t.state == Sleeping {
		t.sched.wakeup(t)
	}
	return nil
}

// ReceiveMessage dequeues the oldest message in the task's mailbox.
func (t *Task) ReceiveMessage() (msg.Message, bool) {
	flags := cpu.DisableInterrupts()
	m, ok := t.mailbox.Pop()
	cpu.RestoreInterrupts(flags)
	return m, ok
}

// AddressSpace returns the task's user address space, if any.
func (t *Task) AddressSpace() *vmm.AddressSpace { return t.as }

// SetAddressSpace attaches a user address space to the task.
func (t *Task) SetAddressSpace(as *vmm.AddressSpace) { t.as = as }

// SetDemandPaging sets the range whose pages are allocated on first touch.
func (t *Task) SetDemandPaging(begin, end uintptr) {
	t.dpagingBegin, t.dpagingEnd = begin, end
}

// DemandPaging returns the [begin, end) demand paging range.
func (t *Task) DemandPaging() (uintptr, uintptr) {
	return t.dpagingBegin, t.dpagingEnd
}

// AddFileMapping registers a file backed address range.
func (t *Task) AddFileMapping(fm *vmm.FileMapping) {
	t.fileMaps = append(t.fileMaps, fm)
}

// FileMapEnd returns the address below which the next file mapping is
// placed.
func (t *Task) FileMapEnd() uintptr { return t.fileMapEnd }

// SetFileMapEnd moves the file mapping boundary.
func (t *Task) SetFileMapEnd(addr uintptr) { t.fileMapEnd = addr }

// FileMappingAt returns the file mapping that covers addr.
func (t *Task) FileMappingAt(addr uintptr) (*vmm.FileMapping, bool) {
	for _, fm := range t.fileMaps {
		if addr >= fm.Begin && addr < fm.End {
			return fm, true
		}
	}
	return nil, false
}

// SetKernelContinuation records the kernel frame that resumes when the user
// program running in this task exits.
func (t *Task) SetKernelContinuation(c uint64) { t.kernelCont = c }

// KernelContinuation returns the value set by SetKernelContinuation.
func (t *Task) KernelContinuation() uint64 { return t.kernelCont }

// ResetMemory forgets the task's address space, demand paging range and
// file mappings.
func (t *Task) ResetMemory() {
	t.as = nil
	t.dpagingBegin, t.dpagingEnd = 0, 0
	t.fileMaps = nil
	t.fileMapEnd = 0
}
