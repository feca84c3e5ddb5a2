package a

import "kernos/kernel/cpu"

var global cpu.Flags

func balanced() {
	flags := cpu.DisableInterrupts()
	cpu.RestoreInterrupts(flags)
}

func deferred() {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)
}

func restoredByClosure() {
	flags := cpu.DisableInterrupts()
	defer func() {
		cpu.RestoreInterrupts(flags)
	}()
}

func inline() {
	defer cpu.RestoreInterrupts(cpu.DisableInterrupts())
}

func assigned() {
	var flags cpu.Flags
	flags = cpu.DisableInterrupts()
	cpu.RestoreInterrupts(flags)
}

func declared() {
	var flags = cpu.DisableInterrupts()
	cpu.RestoreInterrupts(flags)
}

func discarded() {
	cpu.DisableInterrupts() // want `result of cpu.DisableInterrupts is discarded`
}

func blank() {
	_ = cpu.DisableInterrupts() // want `result of cpu.DisableInterrupts is discarded`
}

func leaked() {
	flags := cpu.DisableInterrupts() // want `interrupt state saved in flags is never restored`
	_ = flags
}

func ignored() {
	cpu.DisableInterrupts() //critsec:ignore the context never resumes
}

func stored(out *cpu.Flags) {
	*out = cpu.DisableInterrupts() // want `must be saved in a local variable`
}

func argument() {
	consume(cpu.DisableInterrupts()) // want `must be saved in a local variable`
}

func consume(cpu.Flags) {}

func shadowed() {
	flags := cpu.DisableInterrupts() // want `interrupt state saved in flags is never restored`
	go func() {
		flags := cpu.DisableInterrupts()
		cpu.RestoreInterrupts(flags)
	}()
	_ = flags
}

func packageLevel() {
	global = cpu.DisableInterrupts()
	cpu.RestoreInterrupts(global)
}
