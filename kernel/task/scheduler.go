package task

import (
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"kernos/kernel/msg"
)

var (
	// ErrNoSuchTask is returned when a task id does not name a live task.
	ErrNoSuchTask = &kernel.Error{Module: "task", Message: "no such task"}

	errEmptyRotation = &kernel.Error{Module: "task", Message: "no runnable task left"}
	errExitMainTask  = &kernel.Error{Module: "task", Message: "the boot task cannot exit"}

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// MainTaskID is the id of the task that represents the boot context.
const MainTaskID = 1

// Scheduler owns the set of tasks and the ready rotation. The task at the
// front of the rotation is the running task; the rest are runnable and get
// the CPU in rotation order.
type Scheduler struct {
	tasks    map[uint64]*Task
	rotation []*Task
	nextID   uint64
	idle     *Task
}

// NewScheduler turns the calling context into the running main task and
// creates the idle task.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		tasks:  make(map[uint64]*Task),
		nextID: MainTaskID,
	}

	main := s.NewTask()
	main.state = Running
	main.ctx.started = true
	main.ctx.cr3 = cpu.ActivePDT()

	flags := cpu.DisableInterrupts()
	s.rotation = append(s.rotation, main)
	cpu.RestoreInterrupts(flags)

	s.idle = s.NewTask().InitContext(s.idleLoop, 0).Wakeup()
	return s
}

// NewTask creates a task in the Created state.
func (s *Scheduler) NewTask() *Task {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	t := &Task{
		id:    s.nextID,
		state: Created,
		sched: s,
		ctx:   context{resume: make(chan struct{}, 1)},
	}
	s.nextID++
	s.tasks[t.id] = t
	return t
}

// CurrentTask returns the running task.
func (s *Scheduler) CurrentTask() *Task {
	flags := cpu.DisableInterrupts()
	t := s.rotation[0]
	cpu.RestoreInterrupts(flags)
	return t
}

// FindTask returns the live task with the given id or nil.
func (s *Scheduler) FindTask(id uint64) *Task {
	flags := cpu.DisableInterrupts()
	t := s.tasks[id]
	cpu.RestoreInterrupts(flags)
	return t
}

// Wakeup makes the task with the given id runnable.
func (s *Scheduler) Wakeup(id uint64) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	t, ok := s.tasks[id]
	if !ok {
		return ErrNoSuchTask
	}
	s.wakeup(t)
	return nil
}

// Sleep puts the task with the given id to sleep.
func (s *Scheduler) Sleep(id uint64) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	t, ok := s.tasks[id]
	if !ok {
		return ErrNoSuchTask
	}
	s.sleep(t)
	return nil
}

// SendMessage queues m for the task with the given id, waking it if it is
// sleeping. It is safe to call from interrupt handlers.
func (s *Scheduler) SendMessage(id uint64, m msg.Message) *kernel.Error {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	t, ok := s.tasks[id]
	if !ok {
		return ErrNoSuchTask
	}
	return t.SendMessage(m)
}

// ReceiveMessage dequeues a message for the running task without blocking.
func (s *Scheduler) ReceiveMessage() (msg.Message, bool) {
	return s.CurrentTask().ReceiveMessage()
}

// WaitMessage returns the next message for the running task, sleeping until
// one arrives.
func (s *Scheduler) WaitMessage() msg.Message {
	for {
		flags := cpu.DisableInterrupts()
		cur := s.rotation[0]
		if m, ok := cur.mailbox.Pop(); ok {
			cpu.RestoreInterrupts(flags)
			return m
		}

		s.sleep(cur)
		cpu.RestoreInterrupts(flags)
	}
}

// SwitchTask moves the running task to the back of the rotation and
// dispatches the next runnable task.
func (s *Scheduler) SwitchTask() {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	cur := s.rotation[0]
	if len(s.rotation) == 1 {
		return
	}

	s.rotation = append(s.rotation[1:], cur)
	cur.state = Runnable
	next := s.rotation[0]
	next.state = Running
	switchContext(next, cur)
}

// Exit terminates the running task with the given exit code. It does not
// return.
func (s *Scheduler) Exit(code int) {
	if s.CurrentTask().entry == nil {
		panicFn(errExitMainTask)
		return
	}
	panic(taskExit{code: code})
}

// wakeup appends t to the rotation. Interrupts must be disabled.
func (s *Scheduler) wakeup(t *Task) {
	switch t.state {
	case Runnable, Running, Exiting:
		return
	}

	t.state = Runnable
	s.rotation = append(s.rotation, t)
}

// sleep removes t from the rotation and switches away if t was running.
// Interrupts must be disabled.
func (s *Scheduler) sleep(t *Task) {
	switch t.state {
	case Sleeping, Exiting:
		return
	case Created:
		t.state = Sleeping
		return
	}

	wasRunning := s.rotation[0] == t
	s.remove(t)
	t.state = Sleeping

	if wasRunning {
		next := s.head()
		next.state = Running
		switchContext(next, t)
	}
}

// finish retires a task whose entry point returned and hands the CPU to the
// next runnable task for good.
func (s *Scheduler) finish(t *Task, code int) {
	cpu.DisableInterrupts() //critsec:ignore the exiting context never resumes

	t.state = Exiting
	t.exitCode = code
	s.remove(t)
	delete(s.tasks, t.id)

	next := s.head()
	next.state = Running
	exitContext(next)
}

func (s *Scheduler) remove(t *Task) {
	for i, r := range s.rotation {
		if r == t {
			s.rotation = append(s.rotation[:i], s.rotation[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) head() *Task {
	if len(s.rotation) == 0 {
		panicFn(errEmptyRotation)
		return s.idle
	}
	return s.rotation[0]
}

// idleLoop runs when no other task is runnable. It yields to runnable tasks
// and otherwise halts until the next interrupt.
func (s *Scheduler) idleLoop(uint64, int64) {
	for {
		flags := cpu.DisableInterrupts()
		alone := len(s.rotation) == 1
		cpu.RestoreInterrupts(flags)

		if alone {
			cpu.Halt()
			continue
		}
		s.SwitchTask()
	}
}
