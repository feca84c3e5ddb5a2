// Package kmain brings the kernel up and holds the state of the running
// kernel.
package kmain

import (
	"io"
	"io/fs"
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/hal/bootinfo"
	"kernos/kernel/irq"
	"kernos/kernel/kfmt"
	"kernos/kernel/mm"
	"kernos/kernel/mm/physmem"
	"kernos/kernel/mm/pmm"
	"kernos/kernel/mm/vmm"
	"kernos/kernel/proc"
	"kernos/kernel/syscall"
	"kernos/kernel/task"
	"kernos/kernel/timer"
)

var (
	errNoMemory = &kernel.Error{Module: "kmain", Message: "memory map describes no usable memory"}

	// current is the kernel instance built by Boot.
	current *Kernel

	// stopFn is mocked by tests.
	stopFn = cpu.Stop
)

// Config describes the machine the kernel boots on.
type Config struct {
	// MemoryMap is the firmware memory map.
	MemoryMap bootinfo.MemoryMap

	// IdentityGiB is the amount of physical memory identity mapped into
	// the kernel half. Zero maps enough to cover the memory map.
	IdentityGiB int

	// Console receives kernel output.
	Console io.Writer

	// LAPIC and PMTimer drive the periodic timer interrupt. With a nil
	// LAPIC the timer vector must be raised by the caller.
	LAPIC   timer.LAPIC
	PMTimer timer.PMTimer

	// FS is the file tree user programs and their files are loaded from.
	FS fs.FS

	// Compositor receives the window syscalls. It may be nil.
	Compositor syscall.Compositor

	// StopAfter stops the machine once the tick count reaches it. Zero
	// runs forever.
	StopAfter uint64
}

// Kernel is the state of a booted kernel.
type Kernel struct {
	Frames      *pmm.BitmapAllocator
	Memory      *vmm.Memory
	KernelAS    *vmm.AddressSpace
	Timers      *timer.Manager
	Sched       *task.Scheduler
	Syscalls    *syscall.Env
	Launcher    *proc.Launcher
	Calibration timer.Calibration

	stopAfter uint64
	log       io.Writer
}

// Current returns the kernel built by the last successful Boot or nil.
func Current() *Kernel {
	return current
}

// Boot initializes the frame allocator, the kernel address space, interrupt
// dispatch, the scheduler and the timer from cfg. The calling context
// becomes the main task. Boot returns with interrupts enabled.
func Boot(cfg Config) (*Kernel, *kernel.Error) {
	cpu.DisableInterrupts() //critsec:ignore interrupts stay masked until the kernel is up

	if cfg.Console != nil {
		kfmt.SetOutputSink(cfg.Console)
	}

	k := &Kernel{
		stopAfter: cfg.StopAfter,
		log:       kfmt.NewLogger("kmain"),
	}

	if err := k.initMemory(cfg); err != nil {
		return nil, err
	}

	irq.Init()
	k.Sched = task.NewScheduler()
	k.Timers = timer.NewManager(k.Sched)
	k.Syscalls = &syscall.Env{
		Sched:      k.Sched,
		Timers:     k.Timers,
		Compositor: cfg.Compositor,
		FS:         cfg.FS,
	}
	k.Launcher = proc.NewLauncher(k.Memory, k.KernelAS, cfg.FS, SyscallEntry)

	irq.Register(irq.VectorLAPICTimer, k.onTimerInterrupt)
	if cfg.LAPIC != nil {
		k.Calibration = timer.Calibrate(cfg.LAPIC, cfg.PMTimer)
	}
	k.Timers.Arm(k.Timers.Now()+timer.TaskTimerPeriod, timer.TaskTimerValue, task.MainTaskID)

	current = k
	kfmt.Fprintf(k.log, "boot complete\n")

	cpu.EnableInterrupts()
	return k, nil
}

func (k *Kernel) initMemory(cfg Config) *kernel.Error {
	if cfg.MemoryMap.AvailableEnd() == 0 {
		return errNoMemory
	}

	k.Frames = pmm.Init(cfg.MemoryMap)

	var highest uint64
	cfg.MemoryMap.Visit(func(desc *bootinfo.MemoryDescriptor) bool {
		if end := desc.PhysicalEnd(); end > highest {
			highest = end
		}
		return true
	})
	phys := physmem.New(uintptr(highest) >> mm.PageShift)
	k.Memory = vmm.NewMemory(k.Frames, phys)

	gib := cfg.IdentityGiB
	if gib == 0 {
		gib = int((highest + uint64(mm.Gb) - 1) / uint64(mm.Gb))
	}

	var err *kernel.Error
	if k.KernelAS, err = vmm.NewAddressSpace(k.Memory); err != nil {
		return err
	}
	if err = k.KernelAS.SetupIdentity(gib); err != nil {
		return err
	}
	k.KernelAS.Activate()

	kfmt.Fprintf(k.log, "%s of physical memory, %d GiB identity mapped\n", phys.Size(), gib)
	return nil
}

// onTimerInterrupt services the local APIC timer vector.
func (k *Kernel) onTimerInterrupt() {
	switchTask := k.Timers.OnTick()
	irq.NotifyEndOfInterrupt()

	if k.stopAfter != 0 && k.Timers.Now() >= k.stopAfter {
		kfmt.Fprintf(k.log, "stopping after %d ticks\n", k.stopAfter)
		stopFn()
	}

	if switchTask {
		k.Sched.SwitchTask()
	}
}

// SyscallEntry is the kernel side of the syscall instruction: it services
// the frame against the running kernel.
func SyscallEntry(f *syscall.Frame) {
	Current().Syscalls.Handle(f)
}

// Spawn creates a runnable kernel task that runs fn.
func (k *Kernel) Spawn(fn task.TaskFunc, arg int64) *task.Task {
	return k.Sched.NewTask().InitContext(fn, arg).Wakeup()
}
