// internal/engine/module.go
package engine

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Event is a point-in-time occurrence inside a simulation. IDs are
// monotonically increasing within one game.
type Event struct {
	ID   int64           `json:"id"`
	Tick int64           `json:"tick"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Seat is one participant slot handed to a simulation at creation.
type Seat struct {
	PlayerID string
	Nickname string
}

// Config is the game-agnostic creation config for a simulation.
type Config struct {
	Seats    []Seat
	TickRate int
	// Options carries module-specific tuning (movement strategy, tick
	// limits). Modules decode what they understand and default the rest.
	Options json.RawMessage
}

// Game is one running deterministic simulation instance. All methods
// are called from a single goroutine at a time by the runtime; a Game
// does no locking of its own.
type Game interface {
	// Tick advances the simulation one fixed step.
	Tick()

	// ApplyInput applies a validated input for a player at the given
	// tick. Inputs arrive in enqueue order.
	ApplyInput(playerID string, input json.RawMessage, tick int64)

	// ValidateInput checks a raw input without mutating state. A non-nil
	// error marks the input invalid; it will be dropped.
	ValidateInput(raw json.RawMessage) error

	// Snapshot fully re-derives the serializable world state.
	// Structurally identical states must serialize identically.
	Snapshot() json.RawMessage

	// EventsSince returns, in id order, all events with id > lastEventID.
	EventsSince(lastEventID int64) []Event

	// IsOver reports whether the game has reached a terminal state.
	IsOver() bool

	// Results returns the final standings once IsOver is true.
	Results() json.RawMessage
}

// Module is a game implementation that can be plugged into the runtime.
type Module interface {
	// ID is the gameId string clients vote for.
	ID() string

	// NewGame creates a fresh simulation from config and seed. The same
	// seed and input sequence must reproduce identical snapshots and
	// events.
	NewGame(cfg Config, seed int64) (Game, error)
}

// Registry maps gameId strings to modules.
type Registry struct {
	modules map[string]Module
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module, replacing any previous module with the same id.
func (r *Registry) Register(m Module) {
	r.modules[m.ID()] = m
}

// Resolve looks up the module for a gameId.
func (r *Registry) Resolve(gameID string) (Module, error) {
	m, ok := r.modules[gameID]
	if !ok {
		return nil, fmt.Errorf("no module registered for game %q", gameID)
	}
	return m, nil
}

// IDs lists registered gameIds in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
