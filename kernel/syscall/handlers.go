package syscall

import (
	"kernos/kernel"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/task"
	"kernos/kernel/timer"
)

// TimerRelative in the CreateTimer mode argument makes the timeout relative
// to the current tick.
const TimerRelative = 1

func userString(t *task.Task, addr uint64) (string, kernel.Errno) {
	s, err := t.ReadUserString(uintptr(addr), MaxStringLen)
	switch err {
	case nil:
		return s, 0
	case task.ErrStringTooLong:
		return "", kernel.E2BIG
	default:
		return "", kernel.EFAULT
	}
}

func sysLogString(_ *Env, t *task.Task, args Args) Result {
	s, errno := userString(t, args[0])
	if errno != 0 {
		return Result{Err: errno}
	}

	kfmt.Printf("%s", s)
	return Result{Value: uint64(len(s))}
}

func sysPutString(_ *Env, t *task.Task, args Args) Result {
	fd, addr, n := int(args[0]), uintptr(args[1]), args[2]
	if n > MaxStringLen {
		return Result{Err: kernel.E2BIG}
	}

	f, ok := t.File(fd)
	if !ok {
		return Result{Err: kernel.EBADF}
	}

	buf := make([]byte, n)
	if err := t.CopyFromUser(buf, addr); err != nil {
		return Result{Err: kernel.EFAULT}
	}

	written, err := f.Write(buf)
	if err != nil {
		return Result{Err: kernel.EBADF}
	}
	return Result{Value: uint64(written)}
}

// sysExit hands the exit code back together with the kernel continuation
// that the user mode trampoline resumes.
func sysExit(_ *Env, t *task.Task, args Args) Result {
	return Result{Value: t.KernelContinuation(), Err: kernel.Errno(int32(args[0]))}
}

func sysOpenWindow(env *Env, t *task.Task, args Args) Result {
	if env.Compositor == nil {
		return Result{Err: kernel.ENOSYS}
	}

	w, h, x, y := int(int32(args[0])), int(int32(args[1])), int(int32(args[2])), int(int32(args[3]))
	if screenW, screenH := env.Compositor.ScreenSize(); w <= 0 || h <= 0 || w > screenW || h > screenH {
		return Result{Err: kernel.EINVAL}
	}

	title, errno := userString(t, args[4])
	if errno != 0 {
		return Result{Err: errno}
	}

	var layerID uint32
	withInterruptsDisabled(func() {
		layerID = env.Compositor.OpenWindow(w, h, x, y, title)
	})
	return Result{Value: uint64(layerID)}
}

func sysWinWriteString(env *Env, t *task.Task, args Args) Result {
	if env.Compositor == nil {
		return Result{Err: kernel.ENOSYS}
	}

	layerID := uint32(args[0])
	x, y := int(int32(args[1])), int(int32(args[2]))
	color := uint32(args[3])
	s, errno := userString(t, args[4])
	if errno != 0 {
		return Result{Err: errno}
	}

	var found bool
	withInterruptsDisabled(func() {
		if found = env.Compositor.WriteString(layerID, x, y, color, s); found {
			env.Compositor.Draw(layerID)
		}
	})
	if !found {
		return Result{Err: kernel.EBADF}
	}
	return Result{}
}

// sysGetCurrentTick returns the tick count with the timer frequency in the
// second result register.
func sysGetCurrentTick(env *Env, _ *task.Task, _ Args) Result {
	return Result{Value: env.Timers.Now(), Err: kernel.Errno(timer.TimerFreq)}
}

// sysCreateTimer arms a timer owned by the caller. The timeout is given in
// milliseconds, either absolute or relative to now; the absolute deadline
// is returned in milliseconds.
func sysCreateTimer(env *Env, t *task.Task, args Args) Result {
	mode, value, ms := args[0], int32(args[1]), args[2]
	if value <= 0 {
		return Result{Err: kernel.EINVAL}
	}

	deadline := timer.MillisToTicks(ms)
	if mode&TimerRelative != 0 {
		deadline += env.Timers.Now()
	}

	env.Timers.Arm(deadline, value, t.ID())
	return Result{Value: deadline * 1000 / timer.TimerFreq}
}

func sysDemandPages(_ *Env, t *task.Task, args Args) Result {
	numPages := uintptr(args[0])

	begin, end := t.DemandPaging()
	t.SetDemandPaging(begin, end+numPages<<mm.PageShift)
	return Result{Value: uint64(end)}
}
