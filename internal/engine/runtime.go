// internal/engine/runtime.go
package engine

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/blastparty/blastparty/internal/clock"
)

// Runtime lifecycle states.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Stop reasons passed to the OnStop callback.
const (
	StopReasonGameOver    = "game_over"
	StopReasonIdleTimeout = "idle_timeout"
	StopReasonForced      = "forced"
)

// Construction and misuse errors. These are fatal to the offending
// call, never retried.
var (
	ErrInvalidTickRate         = errors.New("invalid_tick_rate")
	ErrInvalidSnapshotInterval = errors.New("invalid_snapshot_interval")
	ErrAlreadyStarted          = errors.New("runtime_already_started")
	ErrStopped                 = errors.New("runtime_stopped")
)

// DefaultSnapshotEveryTicks is the snapshot cadence when unspecified.
const DefaultSnapshotEveryTicks = 2

// Callbacks is how a Runtime reports to its owner. Callbacks run on the
// tick goroutine with the runtime's lock held, so they must not call
// back into the Runtime.
type Callbacks struct {
	OnSnapshot     func(tick int64, snapshot json.RawMessage)
	OnEvent        func(ev Event)
	OnGameOver     func(tick int64, results json.RawMessage)
	OnInvalidInput func(playerID string, raw json.RawMessage, err error)
	OnStop         func(reason string)
}

// Runtime is the generic fixed-tick driver for one simulation. One
// logical timeline per room: all work for a tick runs synchronously to
// completion before the next tick is scheduled, which is what keeps
// chained effects inside a tick deterministic.
type Runtime struct {
	mu sync.Mutex

	game          Game
	sched         clock.Scheduler
	tickInterval  time.Duration
	snapshotEvery int64
	cb            Callbacks

	state          State
	tick           int64
	lastEventID    int64
	queue          *InputQueue
	timer          clock.Timer
	latestSnapshot json.RawMessage
	stopReason     string
}

// NewRuntime builds an idle runtime around a created simulation.
// snapshotEvery of 0 takes the default; negative values are rejected.
// The tick interval is floor(1000/tickRate) milliseconds.
func NewRuntime(game Game, tickRate, snapshotEvery int, sched clock.Scheduler, cb Callbacks) (*Runtime, error) {
	if tickRate <= 0 || tickRate > 1000 {
		return nil, ErrInvalidTickRate
	}
	if snapshotEvery < 0 {
		return nil, ErrInvalidSnapshotInterval
	}
	if snapshotEvery == 0 {
		snapshotEvery = DefaultSnapshotEveryTicks
	}
	if sched == nil {
		sched = clock.NewReal()
	}
	return &Runtime{
		game:          game,
		sched:         sched,
		tickInterval:  time.Duration(1000/tickRate) * time.Millisecond,
		snapshotEvery: int64(snapshotEvery),
		cb:            cb,
		state:         StateIdle,
		queue:         NewInputQueue(),
	}, nil
}

// Start begins ticking. Callable exactly once, from idle.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return ErrAlreadyStarted
	}
	r.state = StateRunning
	// Capture the tick-0 snapshot so joiners are caught up before the
	// first cadence snapshot lands.
	r.latestSnapshot = r.game.Snapshot()
	r.scheduleNextLocked()
	return nil
}

// Pause halts the scheduler outright. No ticks are skipped or caught up
// on resume; the timeline simply stops moving.
func (r *Runtime) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return
	}
	r.state = StatePaused
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Resume restarts ticking. Only valid from paused; anything else is a
// no-op.
func (r *Runtime) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return
	}
	r.state = StateRunning
	r.scheduleNextLocked()
}

// Stop terminates the runtime. Idempotent; the first call wins and
// reports its reason through OnStop.
func (r *Runtime) Stop(reason string) {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	r.stopLocked(reason)
	r.mu.Unlock()
}

// EnqueueInput buffers an input for the drain at its scheduled tick.
// A zero tick applies at the next tick.
func (r *Runtime) EnqueueInput(playerID string, tick int64, input json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return ErrStopped
	}
	r.queue.Enqueue(playerID, tick, input)
	return nil
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Tick returns the last completed tick number.
func (r *Runtime) Tick() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick
}

// LatestSnapshot returns the most recently captured snapshot. Valid
// from Start onward.
func (r *Runtime) LatestSnapshot() (int64, json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick, r.latestSnapshot
}

// StopReason returns the reason passed to the terminating Stop, or ""
// while the runtime is live.
func (r *Runtime) StopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopReason
}

// scheduleNextLocked arms the timer for the next tick. Each tick
// schedules its successor, so pausing just drops the pending timer.
func (r *Runtime) scheduleNextLocked() {
	r.timer = r.sched.AfterFunc(r.tickInterval, r.onTick)
}

// onTick runs one full simulation step.
func (r *Runtime) onTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		// A pause or stop raced the timer firing.
		return
	}

	r.tick++

	for _, in := range r.queue.DrainReady(r.tick) {
		if err := r.game.ValidateInput(in.Input); err != nil {
			if r.cb.OnInvalidInput != nil {
				r.cb.OnInvalidInput(in.PlayerID, in.Input, err)
			}
			continue
		}
		r.game.ApplyInput(in.PlayerID, in.Input, r.tick)
	}

	r.game.Tick()

	for _, ev := range r.game.EventsSince(r.lastEventID) {
		r.lastEventID = ev.ID
		if r.cb.OnEvent != nil {
			r.cb.OnEvent(ev)
		}
	}

	if r.tick%r.snapshotEvery == 0 {
		r.latestSnapshot = r.game.Snapshot()
		if r.cb.OnSnapshot != nil {
			r.cb.OnSnapshot(r.tick, r.latestSnapshot)
		}
	}

	if r.game.IsOver() {
		r.latestSnapshot = r.game.Snapshot()
		if r.cb.OnGameOver != nil {
			r.cb.OnGameOver(r.tick, r.game.Results())
		}
		r.stopLocked(StopReasonGameOver)
		return
	}

	r.scheduleNextLocked()
}

func (r *Runtime) stopLocked(reason string) {
	r.state = StateStopped
	r.stopReason = reason
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cb.OnStop != nil {
		r.cb.OnStop(reason)
	}
}
