// Package syscall implements the system call table user programs reach the
// kernel through.
package syscall

import (
	"io/fs"
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"kernos/kernel/task"
	"kernos/kernel/timer"
)

// Number identifies a system call.
type Number uint64

// System call numbers.
const (
	LogString Number = iota
	PutString
	Exit
	OpenWindow
	WinWriteString
	GetCurrentTick
	CreateTimer
	OpenFile
	ReadFile
	DemandPages
	MapFile
)

var numberNames = [...]string{
	"LogString", "PutString", "Exit", "OpenWindow", "WinWriteString",
	"GetCurrentTick", "CreateTimer", "OpenFile", "ReadFile", "DemandPages",
	"MapFile",
}

// String implements fmt.Stringer for Number.
func (n Number) String() string {
	if n < Number(len(numberNames)) {
		return numberNames[n]
	}
	return "unknown"
}

// MaxStringLen is the longest string a syscall accepts from user memory.
const MaxStringLen = 1024

// Args holds the six syscall argument registers.
type Args [6]uint64

// Result is returned to the user task in RAX and RDX.
type Result struct {
	Value uint64
	Err   kernel.Errno
}

// Compositor is the window system the window syscalls are forwarded to.
// Callers hold the critical section.
type Compositor interface {
	// OpenWindow creates a draggable window and returns its layer id.
	OpenWindow(w, h, x, y int, title string) uint32

	// WriteString renders s into the window of layerID. It returns false
	// if the layer does not exist.
	WriteString(layerID uint32, x, y int, color uint32, s string) bool

	// Draw recomposes the screen area covered by layerID.
	Draw(layerID uint32)

	// ScreenSize returns the screen dimensions in pixels. No window may
	// exceed them.
	ScreenSize() (w, h int)
}

// Env is the kernel state the syscall handlers operate on.
type Env struct {
	Sched      *task.Scheduler
	Timers     *timer.Manager
	Compositor Compositor
	FS         fs.FS
}

type handler func(env *Env, t *task.Task, args Args) Result

var table = [...]handler{
	LogString:      sysLogString,
	PutString:      sysPutString,
	Exit:           sysExit,
	OpenWindow:     sysOpenWindow,
	WinWriteString: sysWinWriteString,
	GetCurrentTick: sysGetCurrentTick,
	CreateTimer:    sysCreateTimer,
	OpenFile:       sysOpenFile,
	ReadFile:       sysReadFile,
	DemandPages:    sysDemandPages,
	MapFile:        sysMapFile,
}

var log = kfmt.NewLogger("syscall")

// Dispatch runs syscall nr on behalf of the current task.
func (env *Env) Dispatch(nr Number, args Args) Result {
	if nr >= Number(len(table)) {
		kfmt.Fprintf(log, "unknown syscall %d\n", uint64(nr))
		return Result{Err: kernel.ENOSYS}
	}

	return table[nr](env, env.Sched.CurrentTask(), args)
}

// Handle services the syscall described by f and stores the result in it.
func (env *Env) Handle(f *Frame) {
	f.SetResult(env.Dispatch(Number(f.RAX), f.Args()))
}

func withInterruptsDisabled(fn func()) {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)
	fn()
}
