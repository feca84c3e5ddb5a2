package task

import (
	"kernos/kernel/cpu"
	"runtime"
)

// context is the saved execution state of a task. Each task runs on its own
// goroutine; a task that is not running is parked on its resume channel.
type context struct {
	resume  chan struct{}
	started bool
	cr3     uintptr
}

// switchContext transfers the CPU from cur to next and parks cur until it is
// dispatched again. It must be called with interrupts disabled.
func switchContext(next, cur *Task) {
	if next == cur {
		return
	}

	cur.ctx.cr3 = cpu.ActivePDT()
	dispatch(next)
	<-cur.ctx.resume
}

// dispatch hands the CPU to t, starting its goroutine on first use.
func dispatch(t *Task) {
	cpu.SwitchPDT(t.ctx.cr3)

	if !t.ctx.started {
		t.ctx.started = true
		go t.run()
		return
	}

	t.ctx.resume <- struct{}{}
}

// exitContext hands the CPU to next and terminates the calling goroutine.
func exitContext(next *Task) {
	dispatch(next)
	runtime.Goexit()
}

// taskExit unwinds a task that called Scheduler.Exit back to run.
type taskExit struct {
	code int
}

// run is the body of a task goroutine.
func (t *Task) run() {
	code := t.call()
	t.CloseFiles()
	t.sched.finish(t, code)
}

func (t *Task) call() (code int) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(taskExit)
			if !ok {
				panic(r)
			}
			code = e.code
		}
	}()

	cpu.EnableInterrupts()
	t.entry(t.id, t.arg)
	return 0
}
