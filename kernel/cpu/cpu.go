// Package cpu models the processor state the kernel depends on: the interrupt
// flag, interrupt delivery, HLT, the active page table register and TLB
// invalidation.
//
// The machine has a single logical CPU. Exactly one execution context runs
// kernel code at any time, so the interrupt flag and the CR3 value are plain
// variables owned by whichever context currently holds the CPU. Devices may
// raise interrupts from any goroutine; raised vectors stay pending until the
// running context reaches an interrupt-enable point.
package cpu

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// Flags holds the interrupt-enable state saved by DisableInterrupts.
type Flags bool

// InterruptHandlerFn receives a pending vector once interrupts are enabled.
// The interrupt flag is cleared while it runs.
type InterruptHandlerFn func(vector uint8)

var (
	interruptsEnabled bool

	// pending is a 256-bit set of raised vectors.
	pending [4]atomic.Uint64
	wakeCh  = make(chan struct{}, 1)

	dispatchFn InterruptHandlerFn

	activePDT uintptr

	stopOnce sync.Once
	stopCh   = make(chan struct{})

	tlbFlushes atomic.Uint64
)

// SetInterruptDispatcher installs the function that services pending vectors.
func SetInterruptDispatcher(fn InterruptHandlerFn) {
	dispatchFn = fn
}

// InterruptsEnabled reports the current state of the interrupt flag.
func InterruptsEnabled() bool {
	return interruptsEnabled
}

// EnableInterrupts sets the interrupt flag and services any vectors that were
// raised while it was clear.
func EnableInterrupts() {
	interruptsEnabled = true
	deliverPending()
}

// DisableInterrupts clears the interrupt flag and returns its previous state.
// Every caller must hand the result back to RestoreInterrupts.
func DisableInterrupts() Flags {
	prev := Flags(interruptsEnabled)
	interruptsEnabled = false
	return prev
}

// RestoreInterrupts reinstates an interrupt state saved by DisableInterrupts.
func RestoreInterrupts(flags Flags) {
	if flags {
		EnableInterrupts()
		return
	}
	interruptsEnabled = false
}

// RaiseInterrupt marks vector as pending. It is safe to call from any
// goroutine, including host device emulation.
func RaiseInterrupt(vector uint8) {
	word := &pending[vector>>6]
	mask := uint64(1) << (vector & 63)
	for {
		old := word.Load()
		if old&mask != 0 || word.CompareAndSwap(old, old|mask) {
			break
		}
	}

	select {
	case wakeCh <- struct{}{}:
	default:
	}
}

// Halt enables interrupts and stops instruction execution until at least one
// interrupt has been serviced.
func Halt() {
	interruptsEnabled = true
	for !hasPending() {
		select {
		case <-wakeCh:
		case <-stopCh:
			select {}
		}
	}
	deliverPending()
}

// Stop disables interrupts and halts the machine for good.
func Stop() {
	interruptsEnabled = false
	stopOnce.Do(func() { close(stopCh) })
	select {}
}

// Stopped returns a channel that is closed once Stop has been called.
func Stopped() <-chan struct{} {
	return stopCh
}

// FlushTLBEntry invalidates the cached translation for a virtual address.
func FlushTLBEntry(_ uintptr) {
	tlbFlushes.Add(1)
}

// TLBFlushCount returns the number of FlushTLBEntry calls so far.
func TLBFlushCount() uint64 {
	return tlbFlushes.Load()
}

// SwitchPDT sets the root page table to the specified physical address.
func SwitchPDT(pdtPhysAddr uintptr) {
	activePDT = pdtPhysAddr
}

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr {
	return activePDT
}

func hasPending() bool {
	for i := range pending {
		if pending[i].Load() != 0 {
			return true
		}
	}
	return false
}

// takePending atomically removes and returns the lowest pending vector.
func takePending() (uint8, bool) {
	for i := range pending {
		word := &pending[i]
		for {
			old := word.Load()
			if old == 0 {
				break
			}
			bit := uint(bits.TrailingZeros64(old))
			if word.CompareAndSwap(old, old&^(1<<bit)) {
				return uint8(i<<6) | uint8(bit), true
			}
		}
	}
	return 0, false
}

func deliverPending() {
	for interruptsEnabled {
		vector, ok := takePending()
		if !ok {
			return
		}

		interruptsEnabled = false
		if fn := dispatchFn; fn != nil {
			fn(vector)
		}
		interruptsEnabled = true
	}
}
