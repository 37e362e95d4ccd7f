// internal/clock/clock.go
package clock

import "time"

// Scheduler abstracts one-shot timer creation so the engine tick loop
// and the eviction/idle timers can be driven manually in tests instead
// of by the wall clock. The engine schedules each tick as an AfterFunc
// chained from the previous one, so a manual scheduler advancing time
// runs ticks synchronously inside Advance.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time

	// AfterFunc schedules fn to run once after d. The returned Timer
	// can be stopped before it fires.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a single-shot scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was
	// already stopped.
	Stop() bool
}

// Real is the production Scheduler backed by the time package.
type Real struct{}

// NewReal returns a wall-clock Scheduler.
func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) Stop() bool { return rt.t.Stop() }
