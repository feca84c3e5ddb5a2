package cpu

import (
	"testing"
	"time"
)

func resetCPU() {
	interruptsEnabled = false
	for i := range pending {
		pending[i].Store(0)
	}
	dispatchFn = nil
	select {
	case <-wakeCh:
	default:
	}
}

func TestDisableRestoreNesting(t *testing.T) {
	defer resetCPU()
	resetCPU()

	EnableInterrupts()
	outer := DisableInterrupts()
	inner := DisableInterrupts()
	if InterruptsEnabled() {
		t.Fatal("expected interrupts to be disabled")
	}

	RestoreInterrupts(inner)
	if InterruptsEnabled() {
		t.Fatal("expected inner restore to keep interrupts disabled")
	}

	RestoreInterrupts(outer)
	if !InterruptsEnabled() {
		t.Fatal("expected outer restore to re-enable interrupts")
	}
}

func TestPendingDeliveredOnEnable(t *testing.T) {
	defer resetCPU()
	resetCPU()

	var (
		delivered []uint8
		flagInISR []bool
	)
	SetInterruptDispatcher(func(vector uint8) {
		delivered = append(delivered, vector)
		flagInISR = append(flagInISR, InterruptsEnabled())
	})

	flags := DisableInterrupts()
	RaiseInterrupt(0x41)
	RaiseInterrupt(0x40)
	RaiseInterrupt(0x41)
	RaiseInterrupt(0x90)

	if len(delivered) != 0 {
		t.Fatalf("expected no delivery while interrupts are masked; got %v", delivered)
	}

	RestoreInterrupts(flags)
	RestoreInterrupts(true)

	exp := []uint8{0x40, 0x41, 0x90}
	if len(delivered) != len(exp) {
		t.Fatalf("expected vectors %v; got %v", exp, delivered)
	}
	for i := range exp {
		if delivered[i] != exp[i] {
			t.Errorf("expected vector %d to be %#x; got %#x", i, exp[i], delivered[i])
		}
		if flagInISR[i] {
			t.Errorf("expected interrupt flag to be clear inside handler for vector %#x", delivered[i])
		}
	}
}

func TestHaltWaitsForInterrupt(t *testing.T) {
	defer resetCPU()
	resetCPU()

	var got uint8
	SetInterruptDispatcher(func(vector uint8) { got = vector })

	go func() {
		time.Sleep(5 * time.Millisecond)
		RaiseInterrupt(0x41)
	}()

	done := make(chan struct{})
	go func() {
		Halt()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Halt to return")
	}

	if got != 0x41 {
		t.Fatalf("expected vector 0x41 to be serviced; got %#x", got)
	}
}

func TestPDTAndTLB(t *testing.T) {
	SwitchPDT(0x1000)
	if got := ActivePDT(); got != 0x1000 {
		t.Fatalf("expected active PDT 0x1000; got %#x", got)
	}

	before := TLBFlushCount()
	FlushTLBEntry(0xdead000)
	if got := TLBFlushCount(); got != before+1 {
		t.Fatalf("expected flush count %d; got %d", before+1, got)
	}
}
