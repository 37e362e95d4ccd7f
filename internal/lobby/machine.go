// internal/lobby/machine.go
package lobby

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/blastparty/blastparty/internal/protocol"
)

// Machine is the pure in-memory lobby state machine. It has exactly one
// logical writer (the service call path); the transport layer guarantees
// calls never interleave, so there is no locking here.
type Machine struct {
	lobbies map[string]*Lobby
	now     func() time.Time
}

// NewMachine builds an empty Machine. now is injectable for tests.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		lobbies: make(map[string]*Lobby),
		now:     now,
	}
}

func (m *Machine) nowMs() int64 { return m.now().UnixMilli() }

// Get returns the lobby with the given id, if present.
func (m *Machine) Get(lobbyID string) (*Lobby, bool) {
	l, ok := m.lobbies[lobbyID]
	return l, ok
}

// CreateLobby mints a new lobby with its creator as host. passwordHash
// is the already-derived Argon2id hash, or empty for an open lobby.
func (m *Machine) CreateLobby(name, nickname, guestID, passwordHash string, maxPlayers int) (*Lobby, *PlayerState) {
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	now := m.nowMs()
	host := &PlayerState{
		PlayerID:     uuid.NewString(),
		GuestID:      guestID,
		Nickname:     nickname,
		IsHost:       true,
		IsConnected:  true,
		JoinedAtMs:   now,
		LastSeenAtMs: now,
	}
	l := &Lobby{
		ID:           uuid.NewString(),
		Name:         name,
		HostPlayerID: host.PlayerID,
		Phase:        PhaseWaiting,
		MaxPlayers:   maxPlayers,
		PasswordHash: passwordHash,
		Players:      map[string]*PlayerState{host.PlayerID: host},
		CreatedAtMs:  now,
	}
	m.lobbies[l.ID] = l
	return l, host
}

// JoinLobby adds a new player to a waiting lobby. Password checking
// happens at the service boundary before this is called.
func (m *Machine) JoinLobby(lobbyID, nickname, guestID string) (*Lobby, *PlayerState, *protocol.ClientError) {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, nil, notFound(lobbyID)
	}
	if l.Phase != PhaseWaiting {
		return nil, nil, &protocol.ClientError{
			Code:    protocol.ErrInvalidState,
			Message: fmt.Sprintf("lobby is %s, joins are only accepted while waiting", l.Phase),
			LobbyID: lobbyID,
		}
	}
	if len(l.Players) >= l.MaxPlayers {
		return nil, nil, &protocol.ClientError{
			Code:    protocol.ErrLobbyFull,
			Message: fmt.Sprintf("lobby already has %d players", len(l.Players)),
			LobbyID: lobbyID,
		}
	}
	for _, p := range l.Players {
		if p.GuestID == guestID && p.IsConnected {
			return nil, nil, &protocol.ClientError{
				Code:    protocol.ErrDuplicateConnection,
				Message: "this guest is already connected to the lobby",
				LobbyID: lobbyID,
			}
		}
	}

	now := m.nowMs()
	p := &PlayerState{
		PlayerID:     uuid.NewString(),
		GuestID:      guestID,
		Nickname:     nickname,
		IsConnected:  true,
		JoinedAtMs:   now,
		LastSeenAtMs: now,
	}
	l.Players[p.PlayerID] = p
	return l, p, nil
}

// ReconnectPlayer restores a disconnected player record in place. It
// never mints a new playerId. The single ok return keeps reconnect
// failures indistinguishable from each other; the service maps any
// failure to invalid_session_token.
func (m *Machine) ReconnectPlayer(lobbyID, playerID, guestID, nickname string) (*Lobby, *PlayerState, bool) {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, nil, false
	}
	p, ok := l.Players[playerID]
	if !ok || p.GuestID != guestID || p.IsConnected {
		return nil, nil, false
	}
	// The guest may have rejoined under a fresh seat while this record
	// was disconnected. Restoring the old seat too would leave two
	// connected players sharing one guestId, so the stale token loses.
	for _, other := range l.Players {
		if other.PlayerID != playerID && other.GuestID == guestID && other.IsConnected {
			return nil, nil, false
		}
	}
	p.IsConnected = true
	if nickname != "" {
		p.Nickname = nickname
	}
	p.LastSeenAtMs = m.nowMs()
	m.resolveVote(l)
	return l, p, true
}

// RemovePlayer deletes a player record entirely (leave, kick, or
// reconnect-timeout eviction). The host role migrates within the same
// call and the lobby itself is destroyed when its last player goes.
// Returns the lobby (nil when deleted) and whether a player was removed.
func (m *Machine) RemovePlayer(lobbyID, playerID string) (*Lobby, bool) {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, false
	}
	p, ok := l.Players[playerID]
	if !ok {
		return l, false
	}
	delete(l.Players, playerID)

	if len(l.Players) == 0 {
		delete(m.lobbies, lobbyID)
		return nil, true
	}
	if p.IsHost {
		m.migrateHost(l)
	}
	m.resolveVote(l)
	return l, true
}

// MarkDisconnected flips a player's connected flag off, leaving the
// record in place for a future reconnect.
func (m *Machine) MarkDisconnected(lobbyID, playerID string) (*Lobby, bool) {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, false
	}
	p, ok := l.Players[playerID]
	if !ok || !p.IsConnected {
		return l, false
	}
	p.IsConnected = false
	p.LastSeenAtMs = m.nowMs()
	m.resolveVote(l)
	return l, true
}

// SetReady updates a player's readiness.
func (m *Machine) SetReady(lobbyID, playerID string, ready bool) (*Lobby, *protocol.ClientError) {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, notFound(lobbyID)
	}
	p, ok := l.Players[playerID]
	if !ok {
		return nil, playerNotFound(lobbyID, playerID)
	}
	p.IsReady = ready
	p.LastSeenAtMs = m.nowMs()
	return l, nil
}

// CastVote records a player's game vote and re-resolves the selection.
func (m *Machine) CastVote(lobbyID, playerID, gameID string) (*Lobby, *protocol.ClientError) {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, notFound(lobbyID)
	}
	p, ok := l.Players[playerID]
	if !ok {
		return nil, playerNotFound(lobbyID, playerID)
	}
	p.VoteGameID = gameID
	p.LastSeenAtMs = m.nowMs()
	m.resolveVote(l)
	return l, nil
}

// RequestStart validates the start preconditions and moves the lobby to
// the starting phase. Only the host may start; the check order is fixed
// so a one-player lobby always reports not_enough_players first.
func (m *Machine) RequestStart(lobbyID, playerID string) (*Lobby, *protocol.ClientError) {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, notFound(lobbyID)
	}
	if l.HostPlayerID != playerID {
		return nil, &protocol.ClientError{
			Code:    protocol.ErrUnauthorized,
			Message: "only the host can start the match",
			LobbyID: lobbyID,
		}
	}
	if l.Phase != PhaseWaiting {
		return nil, &protocol.ClientError{
			Code:    protocol.ErrInvalidState,
			Message: fmt.Sprintf("lobby is %s, cannot start", l.Phase),
			LobbyID: lobbyID,
		}
	}
	if l.connectedCount() < 2 {
		return nil, &protocol.ClientError{
			Code:    protocol.ErrNotEnoughPlayers,
			Message: "at least 2 connected players are required",
			LobbyID: lobbyID,
		}
	}
	if l.SelectedGameID == "" {
		return nil, &protocol.ClientError{
			Code:    protocol.ErrGameNotSelected,
			Message: "no game has been selected by vote",
			LobbyID: lobbyID,
		}
	}
	var unready []string
	for _, p := range l.Players {
		if p.IsConnected && !p.IsReady {
			unready = append(unready, p.PlayerID)
		}
	}
	if len(unready) > 0 {
		sort.Strings(unready)
		return nil, &protocol.ClientError{
			Code:    protocol.ErrNotReady,
			Message: "not all connected players are ready",
			LobbyID: lobbyID,
			Details: map[string]interface{}{"playerIds": unready},
		}
	}
	l.Phase = PhaseStarting
	return l, nil
}

// SetInGame records the active room and moves the lobby to in_game.
func (m *Machine) SetInGame(lobbyID, roomID string) *protocol.ClientError {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return notFound(lobbyID)
	}
	l.Phase = PhaseInGame
	l.ActiveRoomID = roomID
	return nil
}

// SetWaitingAfterGame returns a lobby to the waiting phase after its
// match ended. Every player's ready flag resets.
func (m *Machine) SetWaitingAfterGame(lobbyID string) *protocol.ClientError {
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return notFound(lobbyID)
	}
	l.Phase = PhaseWaiting
	l.ActiveRoomID = ""
	for _, p := range l.Players {
		p.IsReady = false
	}
	return nil
}

// ListViews returns serializable views of every lobby, oldest first.
func (m *Machine) ListViews() []View {
	views := make([]View, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		views = append(views, ViewOf(l))
	}
	sort.Slice(views, func(i, j int) bool {
		if m.lobbies[views[i].LobbyID].CreatedAtMs != m.lobbies[views[j].LobbyID].CreatedAtMs {
			return m.lobbies[views[i].LobbyID].CreatedAtMs < m.lobbies[views[j].LobbyID].CreatedAtMs
		}
		return views[i].LobbyID < views[j].LobbyID
	})
	return views
}

// ViewOf projects a lobby into its wire form with players in join
// order (playerId breaks ties).
func ViewOf(l *Lobby) View {
	players := make([]PlayerView, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, PlayerView{
			PlayerID:    p.PlayerID,
			Nickname:    p.Nickname,
			IsHost:      p.IsHost,
			IsReady:     p.IsReady,
			IsConnected: p.IsConnected,
			VoteGameID:  p.VoteGameID,
			JoinedAtMs:  p.JoinedAtMs,
		})
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAtMs != players[j].JoinedAtMs {
			return players[i].JoinedAtMs < players[j].JoinedAtMs
		}
		return players[i].PlayerID < players[j].PlayerID
	})
	return View{
		LobbyID:        l.ID,
		Name:           l.Name,
		HostPlayerID:   l.HostPlayerID,
		Phase:          l.Phase,
		ActiveRoomID:   l.ActiveRoomID,
		SelectedGameID: l.SelectedGameID,
		MaxPlayers:     l.MaxPlayers,
		HasPassword:    l.PasswordHash != "",
		Players:        players,
	}
}

// migrateHost hands the host role to the best remaining candidate:
// connected players first, then earliest join, then smallest playerId.
func (m *Machine) migrateHost(l *Lobby) {
	candidates := make([]*PlayerState, 0, len(l.Players))
	for _, p := range l.Players {
		p.IsHost = false
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IsConnected != b.IsConnected {
			return a.IsConnected
		}
		if a.JoinedAtMs != b.JoinedAtMs {
			return a.JoinedAtMs < b.JoinedAtMs
		}
		return a.PlayerID < b.PlayerID
	})
	candidates[0].IsHost = true
	l.HostPlayerID = candidates[0].PlayerID
}

// resolveVote recomputes SelectedGameID. A host vote always wins the
// moment it exists; otherwise the plurality among connected players'
// votes decides, with ties broken by smallest gameId so resolution is
// deterministic.
func (m *Machine) resolveVote(l *Lobby) {
	if host, ok := l.Players[l.HostPlayerID]; ok && host.VoteGameID != "" {
		l.SelectedGameID = host.VoteGameID
		return
	}
	counts := make(map[string]int)
	for _, p := range l.Players {
		if p.IsConnected && p.VoteGameID != "" {
			counts[p.VoteGameID]++
		}
	}
	best := ""
	bestCount := 0
	for gameID, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || gameID < best)) {
			best = gameID
			bestCount = count
		}
	}
	l.SelectedGameID = best
}

func notFound(lobbyID string) *protocol.ClientError {
	return &protocol.ClientError{
		Code:    protocol.ErrLobbyNotFound,
		Message: "lobby does not exist",
		LobbyID: lobbyID,
	}
}

func playerNotFound(lobbyID, playerID string) *protocol.ClientError {
	return &protocol.ClientError{
		Code:    protocol.ErrPlayerNotFound,
		Message: fmt.Sprintf("player %s is not in the lobby", playerID),
		LobbyID: lobbyID,
	}
}
