// internal/service/service.go
package service

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blastparty/blastparty/internal/auth"
	"github.com/blastparty/blastparty/internal/clock"
	"github.com/blastparty/blastparty/internal/lobby"
	"github.com/blastparty/blastparty/internal/protocol"
	"github.com/blastparty/blastparty/internal/room"
)

// DefaultTickRate is the simulation rate rooms start with.
const DefaultTickRate = 20

// DefaultReconnectGrace is how long a disconnected player's seat is
// held before eviction.
const DefaultReconnectGrace = 60 * time.Second

// Config wires a LobbyService's collaborators.
type Config struct {
	Machine   *lobby.Machine
	Rooms     *room.Manager
	Runtimes  *room.RuntimeManager
	Tokens    *auth.TokenService
	Scheduler clock.Scheduler
	Logger    *logrus.Logger

	// TickRate for new rooms; zero takes DefaultTickRate.
	TickRate int

	// ReconnectGrace before a disconnected player is evicted; zero
	// takes DefaultReconnectGrace.
	ReconnectGrace time.Duration

	// Seed produces the per-room simulation seed. Injectable so tests
	// can pin it; defaults to the scheduler clock.
	Seed func() int64
}

// LobbyService orchestrates the lobby state machine, session tokens,
// and the room layer in response to client messages. The transport
// guarantees messages for one connection are handled serially; the
// service serializes across connections with one mutex so the lobby
// machine keeps a single logical writer.
type LobbyService struct {
	cfg Config
	log *logrus.Logger

	mu        sync.Mutex
	sessions  map[string]*session
	evictions map[string]clock.Timer
}

// session is the per-connection binding to a lobby player.
type session struct {
	conn     room.Conn
	lobbyID  string
	playerID string
	guestID  string
}

// NewLobbyService builds a LobbyService.
func NewLobbyService(cfg Config) *LobbyService {
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.NewReal()
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = DefaultReconnectGrace
	}
	if cfg.Seed == nil {
		sched := cfg.Scheduler
		cfg.Seed = func() int64 { return sched.Now().UnixNano() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &LobbyService{
		cfg:       cfg,
		log:       cfg.Logger,
		sessions:  make(map[string]*session),
		evictions: make(map[string]clock.Timer),
	}
}

// BoundPlayerID reports which lobby player a connection is bound to,
// or "". The transport passes this to the room layer.
func (s *LobbyService) BoundPlayerID(conn room.Conn) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[conn.ID()]; ok {
		return sess.playerID
	}
	return ""
}

// HandleLobbyMessage routes one lobby-phase envelope. A non-nil return
// is sent back to the client as a lobby.error frame by the transport.
func (s *LobbyService) HandleLobbyMessage(conn room.Conn, env protocol.Envelope) *protocol.ClientError {
	switch env.Type {
	case protocol.TypeLobbyCreate:
		var p protocol.LobbyCreatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed lobby.create payload")
		}
		return s.handleCreate(conn, p)
	case protocol.TypeLobbyJoin:
		var p protocol.LobbyJoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed lobby.join payload")
		}
		return s.handleJoin(conn, p)
	case protocol.TypeLobbyReconnect:
		var p protocol.LobbyReconnectPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidSessionToken, "invalid session token")
		}
		return s.handleReconnect(conn, p)
	case protocol.TypeLobbyLeave:
		return s.handleLeave(conn)
	case protocol.TypeLobbyList:
		s.handleList(conn)
		return nil
	case protocol.TypeLobbyChatSend:
		var p protocol.LobbyChatSendPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed lobby.chat.send payload")
		}
		return s.handleChat(conn, p)
	case protocol.TypeLobbyVoteCast:
		var p protocol.LobbyVoteCastPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed lobby.vote.cast payload")
		}
		return s.handleVote(conn, p)
	case protocol.TypeLobbyReadySet:
		var p protocol.LobbyReadySetPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed lobby.ready.set payload")
		}
		return s.handleReady(conn, p)
	case protocol.TypeLobbyStartRequest:
		return s.handleStartRequest(conn)
	case protocol.TypeAdminForceEnd:
		var p protocol.AdminForceEndPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed force_end payload")
		}
		return s.handleForceEnd(conn, p)
	}
	return protocol.NewClientError(protocol.ErrInvalidState, "unknown lobby message "+env.Type)
}

func (s *LobbyService) handleCreate(conn room.Conn, p protocol.LobbyCreatePayload) *protocol.ClientError {
	passwordHash := ""
	if p.Password != "" {
		h, err := auth.HashPassword(p.Password)
		if err != nil {
			s.log.WithError(err).Error("password hashing failed")
			return protocol.NewClientError(protocol.ErrInvalidState, "could not create the lobby")
		}
		passwordHash = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, bound := s.sessions[conn.ID()]; bound {
		return protocol.NewClientError(protocol.ErrAlreadyInLobby, "connection is already in a lobby")
	}

	l, host := s.cfg.Machine.CreateLobby(p.Name, p.Nickname, p.GuestID, passwordHash, p.MaxPlayers)
	s.bindLocked(conn, l.ID, host.PlayerID, p.GuestID)
	s.issueTokenLocked(conn, l.ID, host.PlayerID, p.GuestID)
	s.broadcastStateLocked(l)

	s.log.WithFields(logrus.Fields{
		"lobby_id": l.ID,
		"host_id":  host.PlayerID,
	}).Info("lobby created")
	return nil
}

func (s *LobbyService) handleJoin(conn room.Conn, p protocol.LobbyJoinPayload) *protocol.ClientError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, bound := s.sessions[conn.ID()]; bound {
		return protocol.NewClientError(protocol.ErrAlreadyInLobby, "connection is already in a lobby")
	}

	l, ok := s.cfg.Machine.Get(p.LobbyID)
	if !ok {
		return &protocol.ClientError{Code: protocol.ErrLobbyNotFound, Message: "lobby does not exist", LobbyID: p.LobbyID}
	}
	if l.PasswordHash != "" {
		match, err := auth.VerifyPassword(p.Password, l.PasswordHash)
		if err != nil || !match {
			return &protocol.ClientError{Code: protocol.ErrInvalidPassword, Message: "wrong lobby password", LobbyID: p.LobbyID}
		}
	}

	l, player, cerr := s.cfg.Machine.JoinLobby(p.LobbyID, p.Nickname, p.GuestID)
	if cerr != nil {
		return cerr
	}
	s.bindLocked(conn, l.ID, player.PlayerID, p.GuestID)
	s.issueTokenLocked(conn, l.ID, player.PlayerID, p.GuestID)
	s.broadcastStateLocked(l)
	return nil
}

// handleReconnect restores a player's seat from a signed token. Every
// failure resolves to invalid_session_token so a caller cannot probe
// which check failed.
func (s *LobbyService) handleReconnect(conn room.Conn, p protocol.LobbyReconnectPayload) *protocol.ClientError {
	invalid := protocol.NewClientError(protocol.ErrInvalidSessionToken, "invalid session token")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, bound := s.sessions[conn.ID()]; bound {
		return protocol.NewClientError(protocol.ErrAlreadyInLobby, "connection is already in a lobby")
	}

	claims := s.cfg.Tokens.Verify(p.Token)
	if claims == nil {
		return invalid
	}
	l, player, ok := s.cfg.Machine.ReconnectPlayer(claims.LobbyID, claims.PlayerID, claims.GuestID, p.Nickname)
	if !ok {
		return invalid
	}

	s.cancelEvictionLocked(player.PlayerID)
	s.bindLocked(conn, l.ID, player.PlayerID, claims.GuestID)
	s.issueTokenLocked(conn, l.ID, player.PlayerID, claims.GuestID)
	s.broadcastStateLocked(l)

	s.log.WithFields(logrus.Fields{
		"lobby_id":  l.ID,
		"player_id": player.PlayerID,
	}).Info("player reconnected")
	return nil
}

func (s *LobbyService) handleLeave(conn room.Conn) *protocol.ClientError {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conn.ID()]
	if !ok {
		return protocol.NewClientError(protocol.ErrInvalidState, "connection is not in a lobby")
	}
	l, _ := s.cfg.Machine.RemovePlayer(sess.lobbyID, sess.playerID)
	delete(s.sessions, conn.ID())
	if l != nil {
		s.broadcastStateLocked(l)
	}
	return nil
}

func (s *LobbyService) handleList(conn room.Conn) {
	s.mu.Lock()
	views := s.cfg.Machine.ListViews()
	s.mu.Unlock()
	conn.Send(protocol.NewEnvelope(protocol.TypeLobbyListResult, struct {
		Lobbies []lobby.View `json:"lobbies"`
	}{Lobbies: views}))
}

func (s *LobbyService) handleChat(conn room.Conn, p protocol.LobbyChatSendPayload) *protocol.ClientError {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, cerr := s.boundToLocked(conn, p.LobbyID)
	if cerr != nil {
		return cerr
	}
	l, ok := s.cfg.Machine.Get(sess.lobbyID)
	if !ok {
		return protocol.NewClientError(protocol.ErrLobbyNotFound, "lobby does not exist")
	}
	player, ok := l.Players[sess.playerID]
	if !ok {
		return protocol.NewClientError(protocol.ErrPlayerNotFound, "player is not in the lobby")
	}
	s.broadcastLocked(l.ID, protocol.NewEnvelope(protocol.TypeLobbyChatMessage, protocol.LobbyChatMessagePayload{
		LobbyID:  l.ID,
		PlayerID: sess.playerID,
		Nickname: player.Nickname,
		Text:     p.Text,
		SentAtMs: s.cfg.Scheduler.Now().UnixMilli(),
	}))
	return nil
}

func (s *LobbyService) handleVote(conn room.Conn, p protocol.LobbyVoteCastPayload) *protocol.ClientError {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, cerr := s.boundToLocked(conn, p.LobbyID)
	if cerr != nil {
		return cerr
	}
	l, cerr := s.cfg.Machine.CastVote(sess.lobbyID, sess.playerID, p.GameID)
	if cerr != nil {
		return cerr
	}
	s.broadcastStateLocked(l)
	return nil
}

func (s *LobbyService) handleReady(conn room.Conn, p protocol.LobbyReadySetPayload) *protocol.ClientError {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, cerr := s.boundToLocked(conn, p.LobbyID)
	if cerr != nil {
		return cerr
	}
	l, cerr := s.cfg.Machine.SetReady(sess.lobbyID, sess.playerID, p.Ready)
	if cerr != nil {
		return cerr
	}
	s.broadcastStateLocked(l)
	return nil
}

// handleStartRequest runs the full start flow: precondition checks move
// the lobby to starting, a room record is minted for the connected
// players, the runtime spins up, and the lobby flips to in_game.
func (s *LobbyService) handleStartRequest(conn room.Conn) *protocol.ClientError {
	s.mu.Lock()
	sess, ok := s.sessions[conn.ID()]
	if !ok {
		s.mu.Unlock()
		return protocol.NewClientError(protocol.ErrInvalidState, "connection is not in a lobby")
	}
	lobbyID := sess.lobbyID

	l, cerr := s.cfg.Machine.RequestStart(lobbyID, sess.playerID)
	if cerr != nil {
		s.mu.Unlock()
		return cerr
	}
	gameID := l.SelectedGameID
	participants := connectedParticipants(l)
	s.mu.Unlock()

	seed := s.cfg.Seed()
	r := s.cfg.Rooms.CreateRoom(lobbyID, gameID, s.cfg.TickRate, seed, participants, nil)

	// Runtime methods are never called under the service lock.
	if cerr := s.cfg.Runtimes.StartRoomRuntime(r); cerr != nil {
		s.mu.Lock()
		s.cfg.Machine.SetWaitingAfterGame(lobbyID)
		if l, ok := s.cfg.Machine.Get(lobbyID); ok {
			s.broadcastStateLocked(l)
		}
		s.mu.Unlock()
		return cerr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cerr := s.cfg.Machine.SetInGame(lobbyID, r.RoomID); cerr != nil {
		return cerr
	}
	s.broadcastLocked(lobbyID, protocol.NewEnvelope(protocol.TypeLobbyStartAccepted, protocol.LobbyStartAcceptedPayload{
		LobbyID:  lobbyID,
		RoomID:   r.RoomID,
		GameID:   gameID,
		TickRate: s.cfg.TickRate,
		Seed:     seed,
	}))
	if l, ok := s.cfg.Machine.Get(lobbyID); ok {
		s.broadcastStateLocked(l)
	}

	s.log.WithFields(logrus.Fields{
		"lobby_id": lobbyID,
		"room_id":  r.RoomID,
		"game_id":  gameID,
	}).Info("match started")
	return nil
}

func (s *LobbyService) handleForceEnd(conn room.Conn, p protocol.AdminForceEndPayload) *protocol.ClientError {
	s.mu.Lock()
	sess, cerr := s.boundToLocked(conn, p.LobbyID)
	if cerr != nil {
		s.mu.Unlock()
		return cerr
	}
	l, ok := s.cfg.Machine.Get(sess.lobbyID)
	if !ok {
		s.mu.Unlock()
		return protocol.NewClientError(protocol.ErrLobbyNotFound, "lobby does not exist")
	}
	if l.HostPlayerID != sess.playerID {
		s.mu.Unlock()
		return protocol.NewClientError(protocol.ErrUnauthorized, "only the host can force-end the match")
	}
	if l.Phase != lobby.PhaseInGame || l.ActiveRoomID == "" {
		s.mu.Unlock()
		return protocol.NewClientError(protocol.ErrInvalidState, "lobby has no running match")
	}
	roomID := l.ActiveRoomID
	s.mu.Unlock()

	return s.cfg.Runtimes.ForceEnd(roomID)
}

// MatchEnded returns a lobby to waiting once its room stops. Wire this
// into the room RuntimeManager's MatchEnded hook.
func (s *LobbyService) MatchEnded(lobbyID, roomID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cerr := s.cfg.Machine.SetWaitingAfterGame(lobbyID); cerr != nil {
		return
	}
	if l, ok := s.cfg.Machine.Get(lobbyID); ok {
		s.broadcastStateLocked(l)
	}
}

// ConnectionClosed marks the connection's player disconnected and arms
// the reconnect-eviction timer for their seat.
func (s *LobbyService) ConnectionClosed(conn room.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conn.ID()]
	if !ok {
		return
	}
	delete(s.sessions, conn.ID())

	l, changed := s.cfg.Machine.MarkDisconnected(sess.lobbyID, sess.playerID)
	if l == nil {
		return
	}
	if changed {
		s.broadcastStateLocked(l)
	}
	s.armEvictionLocked(sess.lobbyID, sess.playerID)
}

// armEvictionLocked schedules removal of a disconnected player's seat.
// Firing re-checks state, so a reconnect that raced the timer wins.
func (s *LobbyService) armEvictionLocked(lobbyID, playerID string) {
	s.cancelEvictionLocked(playerID)
	s.evictions[playerID] = s.cfg.Scheduler.AfterFunc(s.cfg.ReconnectGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.evictions, playerID)

		l, ok := s.cfg.Machine.Get(lobbyID)
		if !ok {
			return
		}
		p, ok := l.Players[playerID]
		if !ok || p.IsConnected {
			return
		}
		l, removed := s.cfg.Machine.RemovePlayer(lobbyID, playerID)
		if removed {
			s.log.WithFields(logrus.Fields{
				"lobby_id":  lobbyID,
				"player_id": playerID,
			}).Info("evicted player after reconnect grace")
		}
		if l != nil {
			s.broadcastStateLocked(l)
		}
	})
}

func (s *LobbyService) cancelEvictionLocked(playerID string) {
	if t, ok := s.evictions[playerID]; ok {
		t.Stop()
		delete(s.evictions, playerID)
	}
}

// boundToLocked resolves the session and checks it is bound to the
// lobby the payload names.
func (s *LobbyService) boundToLocked(conn room.Conn, lobbyID string) (*session, *protocol.ClientError) {
	sess, ok := s.sessions[conn.ID()]
	if !ok || sess.lobbyID != lobbyID {
		return nil, protocol.NewClientError(protocol.ErrInvalidState, "connection is not in that lobby")
	}
	return sess, nil
}

func (s *LobbyService) bindLocked(conn room.Conn, lobbyID, playerID, guestID string) {
	s.sessions[conn.ID()] = &session{
		conn:     conn,
		lobbyID:  lobbyID,
		playerID: playerID,
		guestID:  guestID,
	}
}

// issueTokenLocked mints and delivers a fresh reconnect token.
func (s *LobbyService) issueTokenLocked(conn room.Conn, lobbyID, playerID, guestID string) {
	issued := s.cfg.Tokens.Issue(lobbyID, playerID, guestID)
	conn.Send(protocol.NewEnvelope(protocol.TypeLobbyAuthIssued, protocol.LobbyAuthIssuedPayload{
		LobbyID:     lobbyID,
		PlayerID:    playerID,
		Token:       issued.Token,
		ExpiresAtMs: issued.ExpiresAtMs,
	}))
}

func (s *LobbyService) broadcastStateLocked(l *lobby.Lobby) {
	s.broadcastLocked(l.ID, protocol.NewEnvelope(protocol.TypeLobbyState, lobby.ViewOf(l)))
}

func (s *LobbyService) broadcastLocked(lobbyID string, env protocol.Envelope) {
	for _, sess := range s.sessions {
		if sess.lobbyID == lobbyID {
			sess.conn.Send(env)
		}
	}
}

// connectedParticipants locks the connected players into the room's
// participant list, in join order so seat assignment is stable.
func connectedParticipants(l *lobby.Lobby) []room.Participant {
	type entry struct {
		p        *lobby.PlayerState
		joinedAt int64
	}
	var entries []entry
	for _, p := range l.Players {
		if p.IsConnected {
			entries = append(entries, entry{p: p, joinedAt: p.JoinedAtMs})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].joinedAt != entries[j].joinedAt {
			return entries[i].joinedAt < entries[j].joinedAt
		}
		return entries[i].p.PlayerID < entries[j].p.PlayerID
	})
	out := make([]room.Participant, 0, len(entries))
	for _, e := range entries {
		out = append(out, room.Participant{
			PlayerID: e.p.PlayerID,
			GuestID:  e.p.GuestID,
			Nickname: e.p.Nickname,
		})
	}
	return out
}
