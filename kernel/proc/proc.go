// Package proc launches user programs inside kernel tasks. A program is an
// ELF image loaded into a fresh address space that shares the kernel half;
// its code runs until it exits through the Exit syscall, returns from its
// entry point or takes a fault the kernel cannot service.
package proc

import (
	"encoding/binary"
	"io"
	"io/fs"
	"kernos/kernel"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/mm/vmm"
	"kernos/kernel/syscall"
	"kernos/kernel/task"
	"path"
	"strings"
)

// Layout of the top of the user half.
const (
	// ArgsPage holds the argv pointer array followed by the argument
	// strings.
	ArgsPage = uintptr(0xfffffffffffff000)

	// StackPage is the initial user stack.
	StackPage = uintptr(0xffffffffffffe000)

	// StackSize is the size of the initial user stack.
	StackSize = mm.PageSize

	// MaxArgs is the size of the argv pointer array, terminating nil
	// included.
	MaxArgs = 32
)

// CrashExitCode is the exit status of a program killed by a fault.
const CrashExitCode = -1

var (
	// ErrArgsTooLong is returned when the arguments do not fit the
	// argument page.
	ErrArgsTooLong = &kernel.Error{Module: "proc", Message: "argument list too long"}
)

// Main is the entry point of a user program. Its return value is the exit
// status.
type Main func(ctx *UserContext) int

// FileSystem is the file tree programs are loaded from.
type FileSystem = fs.FS

// Launcher loads programs and runs them in the calling task.
type Launcher struct {
	mem      *vmm.Memory
	kernelAS *vmm.AddressSpace
	fsys     FileSystem

	// syscallEntry services a syscall frame on behalf of the running task.
	syscallEntry func(f *syscall.Frame)

	// programs maps image entry points to the code found there.
	programs map[uint64]Main
	nextCont uint64

	log io.Writer
}

// NewLauncher returns a launcher that builds user address spaces from mem
// sharing the kernel half of kernelAS, loads program files from fsys and
// routes syscalls to entry.
func NewLauncher(mem *vmm.Memory, kernelAS *vmm.AddressSpace, fsys FileSystem, entry func(*syscall.Frame)) *Launcher {
	return &Launcher{
		mem:          mem,
		kernelAS:     kernelAS,
		fsys:         fsys,
		syscallEntry: entry,
		programs:     make(map[uint64]Main),
		log:          kfmt.NewLogger("proc"),
	}
}

// Register installs main as the code that runs when an image enters at
// entry.
func (l *Launcher) Register(entry uint64, main Main) {
	l.programs[entry] = main
}

// Exec runs the program stored in file name inside t and returns its exit
// status once it terminates. Standard input and output of the program are
// connected to term. Exec fails without running anything if the file cannot
// be loaded.
func (l *Launcher) Exec(t *task.Task, name string, args []string, term io.ReadWriter) (int, *kernel.Error) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return 0, ErrInvalidFile
	}

	img, kerr := parseImage(data)
	if kerr != nil {
		return 0, kerr
	}

	main, ok := l.programs[img.entry]
	if !ok {
		return 0, ErrInvalidFormat
	}

	argv := append([]string{name}, args...)
	as, kerr := l.setupAddressSpace(img, argv)
	if kerr != nil {
		return 0, kerr
	}

	ctx := l.enterUserMode(t, as, img, len(argv), term)
	code := l.run(ctx, main)
	l.exitUserMode(t, as)

	return code, nil
}

// setupAddressSpace builds the address space of a new program: the kernel
// half, the loaded image, the argument page and one stack page.
func (l *Launcher) setupAddressSpace(img *image, argv []string) (*vmm.AddressSpace, *kernel.Error) {
	as, err := vmm.NewAddressSpace(l.mem)
	if err != nil {
		return nil, err
	}

	if err = vmm.CopyAddressSpace(as, l.kernelAS); err == nil {
		if img.end, err = img.load(as); err == nil {
			if err = writeArgs(as, argv); err == nil {
				err = as.Map(StackPage, 1, true)
			}
		}
	}

	if err != nil {
		if derr := as.Destroy(); derr != nil {
			kfmt.Fprintf(l.log, "releasing address space: %s\n", derr.Error())
		}
		return nil, err
	}
	return as, nil
}

// enterUserMode attaches as to t, switches to it and returns the register
// state the program starts with: argc in RDI, argv in RSI.
func (l *Launcher) enterUserMode(t *task.Task, as *vmm.AddressSpace, img *image, argc int, term io.ReadWriter) *UserContext {
	stdio := terminal{term}
	for fd := 0; fd < 3; fd++ {
		t.AllocateFD(stdio)
	}

	t.SetAddressSpace(as)
	t.SetDemandPaging(img.end, img.end)
	t.SetFileMapEnd(StackPage)

	l.nextCont++
	t.SetKernelContinuation(l.nextCont)

	as.Activate()

	ctx := &UserContext{
		task:         t,
		term:         term,
		syscallEntry: l.syscallEntry,
		argc:         argc,
		argv:         ArgsPage,
	}
	ctx.frame.RIP = img.entry
	ctx.frame.RSP = uint64(StackPage) + uint64(StackSize) - 8
	ctx.frame.RDI = uint64(argc)
	ctx.frame.RSI = uint64(ArgsPage)
	return ctx
}

// run executes main and turns every way of leaving user mode into an exit
// status.
func (l *Launcher) run(ctx *UserContext, main Main) (code int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if e, ok := r.(userExit); ok {
			code = e.code
			return
		}

		var reason string
		switch e := r.(type) {
		case *userFault:
			reason = e.Error()
		case error:
			reason = e.Error()
		default:
			reason = "unexpected panic"
		}

		kfmt.Fprintf(l.log, "task %d crashed: %s\n", ctx.task.ID(), reason)
		ctx.frame.DumpTo(l.log)

		code = CrashExitCode
		kfmt.Fprintf(ctx.term, "app crashed: %s\n", reason)
		kfmt.Fprintf(ctx.term, "exit status %d\n", code)
	}()

	return main(ctx)
}

func (l *Launcher) exitUserMode(t *task.Task, as *vmm.AddressSpace) {
	t.CloseFiles()
	l.kernelAS.Activate()

	if err := as.Destroy(); err != nil {
		kfmt.Fprintf(l.log, "releasing address space of task %d: %s\n", t.ID(), err.Error())
	}

	t.ResetMemory()
	t.SetKernelContinuation(0)
}

// writeArgs stores the argv pointer array and the argument strings in the
// argument page of as.
func writeArgs(as *vmm.AddressSpace, argv []string) *kernel.Error {
	if len(argv) >= MaxArgs {
		return ErrArgsTooLong
	}

	page := make([]byte, mm.PageSize)
	strOff := MaxArgs * 8
	for i, arg := range argv {
		if strOff+len(arg)+1 > len(page) {
			return ErrArgsTooLong
		}

		binary.LittleEndian.PutUint64(page[i*8:], uint64(ArgsPage)+uint64(strOff))
		strOff += copy(page[strOff:], arg) + 1
	}

	if err := as.Map(ArgsPage, 1, true); err != nil {
		return err
	}
	if fault := as.Access(ArgsPage, page, true, false); fault != nil {
		return ErrInvalidFormat
	}
	return nil
}

// terminal connects a program's standard descriptors to its terminal. Close
// is not forwarded.
type terminal struct {
	io.ReadWriter
}
