// internal/clock/manual.go
package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler whose time only moves when Advance is called.
// Timers fire synchronously inside Advance, in deadline order, which
// keeps tests deterministic: no goroutine races, no sleeps.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	seq    int
}

// NewManual returns a Manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{
		m:        m,
		deadline: m.now.Add(d),
		seq:      m.seq,
		fn:       fn,
	}
	m.seq++
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every due timer along
// the way. A callback that arms a new timer due before the target time
// (the engine's chained tick does exactly this) fires within the same
// Advance call, so advancing five tick intervals delivers five ticks.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		next := m.nextDueLocked(target)
		if next == nil {
			break
		}
		m.now = next.deadline
		next.stopped = true
		m.removeLocked(next)
		fn := next.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// PendingDeadlines lists armed timer deadlines in order. Useful for
// asserting that an eviction or idle timer was actually scheduled.
func (m *Manual) PendingDeadlines() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.stopped {
			out = append(out, t.deadline)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// nextDueLocked returns the earliest live timer due at or before target,
// breaking deadline ties by creation order.
func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	var due *manualTimer
	for _, t := range m.timers {
		if t.stopped || t.deadline.After(target) {
			continue
		}
		if due == nil || t.deadline.Before(due.deadline) ||
			(t.deadline.Equal(due.deadline) && t.seq < due.seq) {
			due = t
		}
	}
	return due
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, cand := range m.timers {
		if cand == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	m        *Manual
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
