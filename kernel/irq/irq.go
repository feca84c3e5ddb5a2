// Package irq maintains the interrupt vector table and routes pending
// vectors raised on the cpu to their registered handlers.
package irq

import (
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"sync/atomic"
)

// Vector identifies an interrupt source.
type Vector = uint8

// Interrupt vectors used by the kernel.
const (
	VectorXHCI       Vector = 0x40
	VectorLAPICTimer Vector = 0x41
	VectorKeyboard   Vector = 0x42
)

// Handler services an interrupt. It runs with interrupts disabled.
type Handler func()

var (
	handlers [256]Handler

	eoiCount atomic.Uint64

	log = kfmt.NewLogger("irq")
)

// Init installs Dispatch as the cpu interrupt dispatcher.
func Init() {
	cpu.SetInterruptDispatcher(Dispatch)
}

// Register installs handler for vector, replacing any previous handler. A
// nil handler removes the entry.
func Register(vector Vector, handler Handler) {
	flags := cpu.DisableInterrupts()
	handlers[vector] = handler
	cpu.RestoreInterrupts(flags)
}

// Dispatch invokes the handler registered for vector.
func Dispatch(vector Vector) {
	if handler := handlers[vector]; handler != nil {
		handler()
		return
	}

	kfmt.Fprintf(log, "unhandled interrupt vector 0x%x\n", vector)
	NotifyEndOfInterrupt()
}

// NotifyEndOfInterrupt signals the local APIC that the current interrupt has
// been serviced.
func NotifyEndOfInterrupt() {
	eoiCount.Add(1)
}

// EndOfInterruptCount returns the number of end-of-interrupt notifications.
func EndOfInterruptCount() uint64 {
	return eoiCount.Load()
}
