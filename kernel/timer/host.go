package timer

import (
	"kernos/kernel/cpu"
	"sync"
	"time"
)

// HostLAPIC emulates the local APIC timer with the host clock. The counter
// decrements Rate times per second of wall time. In unmasked periodic mode
// it raises the LVT vector every time the counter wraps.
type HostLAPIC struct {
	// Rate is the number of counts per second.
	Rate uint64

	mu      sync.Mutex
	lvt     uint32
	initial uint32
	start   time.Time
	stopCh  chan struct{}

	// now is mocked by tests.
	now func() time.Time
}

// NewHostLAPIC returns a timer that counts rate times per second.
func NewHostLAPIC(rate uint64) *HostLAPIC {
	return &HostLAPIC{Rate: rate, now: time.Now}
}

// SetDivideConfig is a no-op; the host timer always counts at Rate.
func (l *HostLAPIC) SetDivideConfig(uint32) {}

// SetLVTTimer sets the timer mode and vector.
func (l *HostLAPIC) SetLVTTimer(v uint32) {
	l.mu.Lock()
	l.lvt = v
	l.mu.Unlock()
}

// SetInitialCount restarts the counter from v. A zero count stops the timer.
func (l *HostLAPIC) SetInitialCount(v uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()
	l.initial, l.start = v, l.now()

	if v == 0 || l.lvt&LVTMasked != 0 || l.lvt&LVTPeriodic == 0 || l.Rate == 0 {
		return
	}

	period := time.Duration(uint64(v) * uint64(time.Second) / l.Rate)
	if period <= 0 {
		period = time.Millisecond
	}

	stopCh := make(chan struct{})
	l.stopCh = stopCh
	vector := uint8(l.lvt)

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cpu.RaiseInterrupt(vector)
			case <-stopCh:
				return
			}
		}
	}()
}

// CurrentCount returns the value of the counter.
func (l *HostLAPIC) CurrentCount() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initial == 0 {
		return 0
	}

	elapsed := uint64(l.now().Sub(l.start)) * l.Rate / uint64(time.Second)
	if elapsed < uint64(l.initial) {
		return l.initial - uint32(elapsed)
	}

	if l.lvt&LVTPeriodic != 0 {
		return l.initial - uint32(elapsed%uint64(l.initial))
	}
	return 0
}

// Stop halts the periodic interrupt source.
func (l *HostLAPIC) Stop() {
	l.mu.Lock()
	l.stopLocked()
	l.mu.Unlock()
}

func (l *HostLAPIC) stopLocked() {
	if l.stopCh != nil {
		close(l.stopCh)
		l.stopCh = nil
	}
}

// HostPMTimer is a platform timer backed by the host clock.
type HostPMTimer struct{}

// WaitMilliseconds blocks for msec milliseconds.
func (HostPMTimer) WaitMilliseconds(msec uint64) {
	time.Sleep(time.Duration(msec) * time.Millisecond)
}
