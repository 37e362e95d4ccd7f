// internal/room/room.go
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a room's lifecycle status.
type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// Participant is one player locked into a room at creation.
type Participant struct {
	PlayerID string `json:"playerId"`
	GuestID  string `json:"guestId"`
	Nickname string `json:"nickname"`
}

// Room is the immutable metadata record for one match instance. Only
// the status flips after creation, everything else is fixed the moment
// the start request is accepted.
type Room struct {
	RoomID       string
	LobbyID      string
	GameID       string
	TickRate     int
	Seed         int64
	CreatedAtMs  int64
	Participants []Participant

	// Options carries module-specific tuning passed through to the
	// simulation untouched.
	Options json.RawMessage

	mu     sync.Mutex
	status Status
}

// Status returns the room's current status.
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// markStopped flips the room to stopped. Idempotent.
func (r *Room) markStopped() {
	r.mu.Lock()
	r.status = StatusStopped
	r.mu.Unlock()
}

// IsParticipant reports whether a playerId was locked into the room.
func (r *Room) IsParticipant(playerID string) bool {
	for _, p := range r.Participants {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// GuestIDOf resolves a participant's guestId, or "".
func (r *Room) GuestIDOf(playerID string) string {
	for _, p := range r.Participants {
		if p.PlayerID == playerID {
			return p.GuestID
		}
	}
	return ""
}

// Manager allocates and tracks room records.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room
	now   func() time.Time
}

// NewManager builds an empty Manager. now is injectable for tests.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		rooms: make(map[string]*Room),
		now:   now,
	}
}

// CreateRoom mints a room record. The participant slice is copied so
// later caller mutation cannot leak in.
func (m *Manager) CreateRoom(lobbyID, gameID string, tickRate int, seed int64, participants []Participant, options json.RawMessage) *Room {
	r := &Room{
		RoomID:       uuid.NewString(),
		LobbyID:      lobbyID,
		GameID:       gameID,
		TickRate:     tickRate,
		Seed:         seed,
		CreatedAtMs:  m.now().UnixMilli(),
		Participants: append([]Participant(nil), participants...),
		Options:      options,
		status:       StatusActive,
	}
	m.mu.Lock()
	m.rooms[r.RoomID] = r
	m.mu.Unlock()
	return r
}

// Get returns the room with the given id, if present.
func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	return r, ok
}
