package timer

import (
	"kernos/kernel/irq"
	"kernos/kernel/kfmt"
)

// Local APIC timer register values.
const (
	// DivideBy1 configures the timer to count at the bus frequency.
	DivideBy1 = uint32(0b1011)

	// LVTMasked suppresses the timer interrupt.
	LVTMasked = uint32(1 << 16)

	// LVTPeriodic reloads the initial count whenever the count reaches 0.
	LVTPeriodic = uint32(1 << 17)

	// CountMax is the largest initial count.
	CountMax = uint32(0xffffffff)

	calibrationMillis = 100
)

// LAPIC exposes the local APIC timer registers.
type LAPIC interface {
	SetDivideConfig(v uint32)
	SetLVTTimer(v uint32)
	SetInitialCount(v uint32)
	CurrentCount() uint32
}

// PMTimer is the platform timer used as a reference clock.
type PMTimer interface {
	WaitMilliseconds(msec uint64)
}

// Calibration records the result of Calibrate.
type Calibration struct {
	// Frequency is the measured local APIC timer rate in counts per
	// second.
	Frequency uint64

	// InitialCount is the periodic reload value that yields TimerFreq
	// interrupts per second.
	InitialCount uint32
}

// Calibrate measures the local APIC timer against the platform timer and
// then programs it to raise irq.VectorLAPICTimer TimerFreq times a second.
func Calibrate(lapic LAPIC, pm PMTimer) Calibration {
	lapic.SetDivideConfig(DivideBy1)
	lapic.SetLVTTimer(LVTMasked)

	lapic.SetInitialCount(CountMax)
	pm.WaitMilliseconds(calibrationMillis)
	elapsed := CountMax - lapic.CurrentCount()
	lapic.SetInitialCount(0)

	cal := Calibration{Frequency: uint64(elapsed) * (1000 / calibrationMillis)}
	cal.InitialCount = uint32(cal.Frequency / TimerFreq)

	lapic.SetDivideConfig(DivideBy1)
	lapic.SetLVTTimer(LVTPeriodic | uint32(irq.VectorLAPICTimer))
	lapic.SetInitialCount(cal.InitialCount)

	kfmt.Fprintf(kfmt.NewLogger("timer"), "local APIC timer: %d Hz, initial count %d\n", cal.Frequency, cal.InitialCount)
	return cal
}
