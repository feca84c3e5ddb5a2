// Package timer keeps the kernel's monotonic tick count and the queue of
// armed timers. Each tick of the periodic local APIC timer expires the timers
// whose deadline has passed: the recurring task timer asks the scheduler for
// a context switch and every other timer becomes a message to its owner.
package timer

import (
	"container/heap"
	"kernos/kernel"
	"kernos/kernel/cpu"
	"kernos/kernel/kfmt"
	"kernos/kernel/msg"
	"math"
)

const (
	// TimerFreq is the number of ticks per second.
	TimerFreq = 100

	// TaskTimerPeriod is the number of ticks between task switches.
	TaskTimerPeriod = TimerFreq / 50

	// TaskTimerValue is the payload of the recurring task switch timer.
	TaskTimerValue = math.MinInt32
)

// MillisToTicks converts a duration in milliseconds to ticks.
func MillisToTicks(ms uint64) uint64 {
	return ms * TimerFreq / 1000
}

// Messenger delivers timer expirations to their owners.
type Messenger interface {
	SendMessage(taskID uint64, m msg.Message) *kernel.Error
}

// Timer is a deadline expressed in ticks together with the value reported
// to its owner when it expires.
type Timer struct {
	Deadline uint64
	Value    int32
	Owner    uint64

	// seq orders timers with the same deadline by arming order.
	seq uint64
}

type timerHeap []Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(Timer)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	t := old[len(old)-1]
	*h = old[:len(old)-1]
	return t
}

// Manager owns the tick counter and the armed timers.
type Manager struct {
	tick      uint64
	seq       uint64
	timers    timerHeap
	messenger Messenger
	log       *kfmt.PrefixWriter
}

// NewManager returns a timer manager that delivers expirations through m.
// The queue always holds a sentinel timer that never expires.
func NewManager(m Messenger) *Manager {
	mgr := &Manager{
		messenger: m,
		log:       kfmt.NewLogger("timer"),
	}
	mgr.push(Timer{Deadline: math.MaxUint64, Value: -1, Owner: 1})
	return mgr
}

func (mgr *Manager) push(t Timer) {
	t.seq = mgr.seq
	mgr.seq++
	heap.Push(&mgr.timers, t)
}

// Now returns the current tick.
func (mgr *Manager) Now() uint64 {
	flags := cpu.DisableInterrupts()
	tick := mgr.tick
	cpu.RestoreInterrupts(flags)
	return tick
}

// Arm schedules a timer that expires once the tick count reaches deadline.
func (mgr *Manager) Arm(deadline uint64, value int32, owner uint64) {
	flags := cpu.DisableInterrupts()
	mgr.push(Timer{Deadline: deadline, Value: value, Owner: owner})
	cpu.RestoreInterrupts(flags)
}

// Pending returns the number of armed timers, the sentinel excluded.
func (mgr *Manager) Pending() int {
	flags := cpu.DisableInterrupts()
	n := len(mgr.timers) - 1
	cpu.RestoreInterrupts(flags)
	return n
}

// OnTick advances the tick count and expires every timer whose deadline has
// been reached, in deadline order. It returns true when the task timer
// expired and the running task should be switched out.
func (mgr *Manager) OnTick() bool {
	flags := cpu.DisableInterrupts()
	defer cpu.RestoreInterrupts(flags)

	mgr.tick++

	var switchTask bool
	for mgr.timers[0].Deadline <= mgr.tick {
		t := heap.Pop(&mgr.timers).(Timer)

		if t.Value == TaskTimerValue {
			switchTask = true
			mgr.push(Timer{Deadline: mgr.tick + TaskTimerPeriod, Value: TaskTimerValue, Owner: t.Owner})
			continue
		}

		if mgr.messenger == nil {
			continue
		}
		if err := mgr.messenger.SendMessage(t.Owner, msg.NewTimerTimeout(t.Deadline, t.Value)); err != nil {
			kfmt.Fprintf(mgr.log, "dropping timeout for task %d: %s\n", t.Owner, err.Error())
		}
	}

	return switchTask
}
