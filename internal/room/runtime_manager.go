// internal/room/runtime_manager.go
package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blastparty/blastparty/internal/clock"
	"github.com/blastparty/blastparty/internal/engine"
	"github.com/blastparty/blastparty/internal/models"
	"github.com/blastparty/blastparty/internal/protocol"
)

// Conn is the room layer's view of one client connection: a stable id
// and a non-blocking frame push. The transport owns delivery.
type Conn interface {
	ID() string
	Send(env protocol.Envelope)
}

// MatchRecorder persists a finished match record.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, rec models.MatchRecord) error
}

// DefaultIdleTimeout stops a room nobody is connected to.
const DefaultIdleTimeout = 60 * time.Second

const recordTimeout = 5 * time.Second

// RuntimeManagerConfig wires a RuntimeManager's collaborators.
type RuntimeManagerConfig struct {
	Registry  *engine.Registry
	Rooms     *Manager
	Recorder  MatchRecorder
	Scheduler clock.Scheduler
	Logger    *logrus.Logger

	// IdleTimeout is how long a room survives with zero connections.
	// Zero takes DefaultIdleTimeout.
	IdleTimeout time.Duration

	// MatchEnded fires after a room's runtime stops, so the lobby layer
	// can return the lobby to waiting. It runs on the tick goroutine
	// and must not call back into the room runtime.
	MatchEnded func(lobbyID, roomID, reason string)
}

// RuntimeManager owns one engine runtime per active room and routes
// game-phase messages between connections and simulations.
type RuntimeManager struct {
	cfg RuntimeManagerConfig
	log *logrus.Logger

	mu     sync.Mutex
	active map[string]*activeRoom
	byConn map[string]string
}

// activeRoom bundles a running room's runtime with its connection sets.
// The mutex guards only the sets and the idle timer; runtime methods
// are never called while it is held.
type activeRoom struct {
	room        *Room
	rt          *engine.Runtime
	game        engine.Game
	startedAtMs int64

	// lastTick is written only from runtime callbacks, which all run
	// under the runtime's own lock.
	lastTick int64

	mu           sync.Mutex
	joined       map[string]*joinedPlayer
	spectators   map[string]Conn
	spectatorIDs map[string]string
	idleTimer    clock.Timer
}

type joinedPlayer struct {
	conn     Conn
	playerID string
}

// NewRuntimeManager builds a RuntimeManager.
func NewRuntimeManager(cfg RuntimeManagerConfig) *RuntimeManager {
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.NewReal()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &RuntimeManager{
		cfg:    cfg,
		log:    cfg.Logger,
		active: make(map[string]*activeRoom),
		byConn: make(map[string]string),
	}
}

// StartRoomRuntime creates and starts the engine runtime for a room.
// Starting an already-started room is a no-op.
func (rm *RuntimeManager) StartRoomRuntime(room *Room) *protocol.ClientError {
	rm.mu.Lock()
	if _, ok := rm.active[room.RoomID]; ok {
		rm.mu.Unlock()
		return nil
	}
	rm.mu.Unlock()

	mod, err := rm.cfg.Registry.Resolve(room.GameID)
	if err != nil {
		return &protocol.ClientError{
			Code:    protocol.ErrInvalidState,
			Message: "no simulation module registered for " + room.GameID,
			LobbyID: room.LobbyID,
		}
	}

	seats := make([]engine.Seat, 0, len(room.Participants))
	for _, p := range room.Participants {
		seats = append(seats, engine.Seat{PlayerID: p.PlayerID, Nickname: p.Nickname})
	}
	game, err := mod.NewGame(engine.Config{
		Seats:    seats,
		TickRate: room.TickRate,
		Options:  room.Options,
	}, room.Seed)
	if err != nil {
		rm.log.WithError(err).WithField("room_id", room.RoomID).Error("game creation failed")
		return &protocol.ClientError{
			Code:    protocol.ErrInvalidState,
			Message: "could not create the simulation",
			LobbyID: room.LobbyID,
		}
	}

	ar := &activeRoom{
		room:         room,
		game:         game,
		startedAtMs:  rm.cfg.Scheduler.Now().UnixMilli(),
		joined:       make(map[string]*joinedPlayer),
		spectators:   make(map[string]Conn),
		spectatorIDs: make(map[string]string),
	}

	rt, err := engine.NewRuntime(game, room.TickRate, 0, rm.cfg.Scheduler, engine.Callbacks{
		OnSnapshot: func(tick int64, snapshot json.RawMessage) {
			ar.lastTick = tick
			rm.broadcast(ar, protocol.NewEnvelope(protocol.TypeGameSnapshot, protocol.GameSnapshotPayload{
				RoomID:   room.RoomID,
				Tick:     tick,
				Snapshot: snapshot,
			}))
		},
		OnEvent: func(ev engine.Event) {
			ar.lastTick = ev.Tick
			rm.broadcast(ar, protocol.NewEnvelope(protocol.TypeGameEvent, protocol.GameEventPayload{
				RoomID:  room.RoomID,
				EventID: ev.ID,
				Tick:    ev.Tick,
				Name:    ev.Name,
				Data:    ev.Data,
			}))
		},
		OnGameOver: func(tick int64, results json.RawMessage) {
			ar.lastTick = tick
			rec := rm.buildRecord(ar, results)
			rm.persist(rec)
			rm.broadcast(ar, protocol.NewEnvelope(protocol.TypeGameOver, protocol.GameOverPayload{
				RoomID:  room.RoomID,
				Tick:    tick,
				Reason:  rec.EndReason,
				Results: results,
			}))
		},
		OnInvalidInput: func(playerID string, raw json.RawMessage, err error) {
			rm.log.WithError(err).WithFields(logrus.Fields{
				"room_id":   room.RoomID,
				"player_id": playerID,
			}).Debug("dropped invalid input")
		},
		OnStop: func(reason string) {
			rm.onRoomStopped(ar, reason)
		},
	})
	if err != nil {
		return &protocol.ClientError{
			Code:    protocol.ErrInvalidState,
			Message: "could not start the room runtime",
			LobbyID: room.LobbyID,
		}
	}
	ar.rt = rt

	rm.mu.Lock()
	rm.active[room.RoomID] = ar
	rm.mu.Unlock()

	if err := rt.Start(); err != nil {
		return &protocol.ClientError{
			Code:    protocol.ErrInvalidState,
			Message: "could not start the room runtime",
			LobbyID: room.LobbyID,
		}
	}

	// Nobody has joined yet: hold the sim at tick 0 and arm the idle
	// timer. The first join resumes the timeline, so nobody misses the
	// opening ticks; a room nobody ever joins is reaped.
	rm.evaluateIdle(ar)

	rm.log.WithFields(logrus.Fields{
		"room_id":  room.RoomID,
		"lobby_id": room.LobbyID,
		"game_id":  room.GameID,
		"seed":     room.Seed,
	}).Info("room runtime started")
	return nil
}

// HandleGameMessage routes one game-phase envelope for a connection.
// boundPlayerID is the lobby player the transport bound the connection
// to, or "" for an unbound connection.
func (rm *RuntimeManager) HandleGameMessage(conn Conn, boundPlayerID string, env protocol.Envelope) *protocol.ClientError {
	switch env.Type {
	case protocol.TypeGameJoin:
		var p protocol.GameJoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed game.join payload")
		}
		return rm.handleJoin(conn, boundPlayerID, p)
	case protocol.TypeGameSpectateJoin:
		var p protocol.GameSpectateJoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed game.spectate.join payload")
		}
		return rm.handleSpectateJoin(conn, p)
	case protocol.TypeGameInput:
		var p protocol.GameInputPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed game.input payload")
		}
		return rm.handleInput(conn, p)
	case protocol.TypeGameLeave:
		var p protocol.GameLeavePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return protocol.NewClientError(protocol.ErrInvalidState, "malformed game.leave payload")
		}
		rm.handleLeave(conn, p.RoomID)
		return nil
	}
	return protocol.NewClientError(protocol.ErrInvalidState, "unknown game message "+env.Type)
}

func (rm *RuntimeManager) handleJoin(conn Conn, boundPlayerID string, p protocol.GameJoinPayload) *protocol.ClientError {
	if boundPlayerID == "" || boundPlayerID != p.PlayerID {
		return protocol.NewClientError(protocol.ErrUnauthorized, "connection is not bound to that player")
	}
	ar, cerr := rm.liveRoom(p.RoomID)
	if cerr != nil {
		return cerr
	}
	if !ar.room.IsParticipant(p.PlayerID) {
		return protocol.NewClientError(protocol.ErrUnauthorized, "player is not a participant of the room")
	}

	// A connection joins at most one room; leaving the previous one
	// re-evaluates its idle state.
	rm.mu.Lock()
	prev, had := rm.byConn[conn.ID()]
	rm.byConn[conn.ID()] = p.RoomID
	rm.mu.Unlock()
	if had && prev != p.RoomID {
		rm.detachConn(conn, prev)
	}

	ar.mu.Lock()
	ar.joined[conn.ID()] = &joinedPlayer{conn: conn, playerID: p.PlayerID}
	ar.mu.Unlock()
	rm.evaluateIdle(ar)

	tick, snapshot := ar.rt.LatestSnapshot()
	conn.Send(protocol.NewEnvelope(protocol.TypeGameJoinAccepted, protocol.GameJoinAcceptedPayload{
		RoomID:   p.RoomID,
		PlayerID: p.PlayerID,
		Tick:     tick,
	}))
	conn.Send(protocol.NewEnvelope(protocol.TypeGameSnapshot, protocol.GameSnapshotPayload{
		RoomID:   p.RoomID,
		Tick:     tick,
		Snapshot: snapshot,
	}))
	return nil
}

func (rm *RuntimeManager) handleSpectateJoin(conn Conn, p protocol.GameSpectateJoinPayload) *protocol.ClientError {
	ar, cerr := rm.liveRoom(p.RoomID)
	if cerr != nil {
		return cerr
	}

	rm.mu.Lock()
	prev, had := rm.byConn[conn.ID()]
	rm.byConn[conn.ID()] = p.RoomID
	rm.mu.Unlock()
	if had && prev != p.RoomID {
		rm.detachConn(conn, prev)
	}

	ar.mu.Lock()
	spectatorID, ok := ar.spectatorIDs[conn.ID()]
	if !ok {
		spectatorID = uuid.NewString()
		ar.spectatorIDs[conn.ID()] = spectatorID
	}
	ar.spectators[conn.ID()] = conn
	ar.mu.Unlock()
	rm.evaluateIdle(ar)

	tick, snapshot := ar.rt.LatestSnapshot()
	conn.Send(protocol.NewEnvelope(protocol.TypeGameSpectateJoined, protocol.GameSpectateJoinedPayload{
		RoomID:      p.RoomID,
		SpectatorID: spectatorID,
		Tick:        tick,
	}))
	conn.Send(protocol.NewEnvelope(protocol.TypeGameSnapshot, protocol.GameSnapshotPayload{
		RoomID:   p.RoomID,
		Tick:     tick,
		Snapshot: snapshot,
	}))
	return nil
}

func (rm *RuntimeManager) handleInput(conn Conn, p protocol.GameInputPayload) *protocol.ClientError {
	ar, cerr := rm.liveRoom(p.RoomID)
	if cerr != nil {
		return cerr
	}
	ar.mu.Lock()
	jp, joined := ar.joined[conn.ID()]
	ar.mu.Unlock()
	if !joined || jp.playerID != p.PlayerID {
		return protocol.NewClientError(protocol.ErrUnauthorized, "connection has not joined the room as that player")
	}
	if err := ar.rt.EnqueueInput(p.PlayerID, p.Tick, p.Input); err != nil {
		return protocol.NewClientError(protocol.ErrInvalidState, "room is no longer running")
	}
	return nil
}

func (rm *RuntimeManager) handleLeave(conn Conn, roomID string) {
	rm.mu.Lock()
	if rm.byConn[conn.ID()] == roomID {
		delete(rm.byConn, conn.ID())
	}
	rm.mu.Unlock()
	rm.detachConn(conn, roomID)
}

// ConnectionClosed detaches a closed connection from whichever room it
// had joined and re-evaluates that room's idle state.
func (rm *RuntimeManager) ConnectionClosed(conn Conn) {
	rm.mu.Lock()
	roomID, ok := rm.byConn[conn.ID()]
	if ok {
		delete(rm.byConn, conn.ID())
	}
	rm.mu.Unlock()
	if ok {
		rm.detachConn(conn, roomID)
	}
}

// ForceEnd stops a room immediately. The forced stop still persists a
// match record.
func (rm *RuntimeManager) ForceEnd(roomID string) *protocol.ClientError {
	rm.mu.Lock()
	ar, ok := rm.active[roomID]
	rm.mu.Unlock()
	if !ok {
		return protocol.NewClientError(protocol.ErrInvalidState, "room is not running")
	}
	ar.rt.Stop(engine.StopReasonForced)
	return nil
}

// RuntimeState reports a room runtime's lifecycle state, for tests and
// introspection.
func (rm *RuntimeManager) RuntimeState(roomID string) (engine.State, bool) {
	rm.mu.Lock()
	ar, ok := rm.active[roomID]
	rm.mu.Unlock()
	if !ok {
		return "", false
	}
	return ar.rt.State(), true
}

// liveRoom resolves an active, non-stopped room.
func (rm *RuntimeManager) liveRoom(roomID string) (*activeRoom, *protocol.ClientError) {
	rm.mu.Lock()
	ar, ok := rm.active[roomID]
	rm.mu.Unlock()
	if !ok {
		return nil, protocol.NewClientError(protocol.ErrInvalidState, "unknown or stopped room")
	}
	return ar, nil
}

// detachConn removes a connection from a room's sets and re-evaluates
// idleness.
func (rm *RuntimeManager) detachConn(conn Conn, roomID string) {
	rm.mu.Lock()
	ar, ok := rm.active[roomID]
	rm.mu.Unlock()
	if !ok {
		return
	}
	ar.mu.Lock()
	delete(ar.joined, conn.ID())
	delete(ar.spectators, conn.ID())
	ar.mu.Unlock()
	rm.evaluateIdle(ar)
}

// evaluateIdle pauses an empty room and arms its idle timer, or cancels
// the timer and resumes once anyone is connected. Firing re-checks the
// count, so a join racing the timer is safe.
func (rm *RuntimeManager) evaluateIdle(ar *activeRoom) {
	ar.mu.Lock()
	connected := len(ar.joined) + len(ar.spectators)
	var pause, resume bool
	if connected == 0 {
		if ar.idleTimer == nil {
			ar.idleTimer = rm.newIdleTimer(ar)
		}
		pause = true
	} else {
		if ar.idleTimer != nil {
			ar.idleTimer.Stop()
			ar.idleTimer = nil
		}
		resume = true
	}
	ar.mu.Unlock()

	if pause {
		ar.rt.Pause()
	}
	if resume {
		ar.rt.Resume()
	}
}

func (rm *RuntimeManager) newIdleTimer(ar *activeRoom) clock.Timer {
	return rm.cfg.Scheduler.AfterFunc(rm.cfg.IdleTimeout, func() {
		ar.mu.Lock()
		idle := len(ar.joined)+len(ar.spectators) == 0
		ar.idleTimer = nil
		ar.mu.Unlock()
		if idle {
			ar.rt.Stop(engine.StopReasonIdleTimeout)
		}
	})
}

// onRoomStopped is the runtime's stop callback. A forced stop persists
// a record of the unfinished match and tells connected clients; the
// game-over path already did both.
func (rm *RuntimeManager) onRoomStopped(ar *activeRoom, reason string) {
	ar.room.markStopped()

	ar.mu.Lock()
	if ar.idleTimer != nil {
		ar.idleTimer.Stop()
		ar.idleTimer = nil
	}
	ar.mu.Unlock()

	if reason == engine.StopReasonForced {
		results := ar.game.Results()
		rec := rm.buildRecord(ar, results)
		rec.EndReason = reason
		rec.WinnerPlayerID = ""
		rec.WinnerGuestID = ""
		rm.persist(rec)
		rm.broadcast(ar, protocol.NewEnvelope(protocol.TypeGameOver, protocol.GameOverPayload{
			RoomID:  ar.room.RoomID,
			Tick:    ar.lastTick,
			Reason:  reason,
			Results: results,
		}))
	}

	rm.mu.Lock()
	delete(rm.active, ar.room.RoomID)
	rm.mu.Unlock()

	rm.log.WithFields(logrus.Fields{
		"room_id": ar.room.RoomID,
		"reason":  reason,
	}).Info("room runtime stopped")

	if rm.cfg.MatchEnded != nil {
		rm.cfg.MatchEnded(ar.room.LobbyID, ar.room.RoomID, reason)
	}
}

// buildRecord turns the simulation's results into the persistence
// hand-off record.
func (rm *RuntimeManager) buildRecord(ar *activeRoom, results json.RawMessage) models.MatchRecord {
	var res engine.Results
	if err := json.Unmarshal(results, &res); err != nil {
		rm.log.WithError(err).WithField("room_id", ar.room.RoomID).Warn("undecodable results payload")
	}
	rec := models.MatchRecord{
		MatchID:        uuid.NewString(),
		RoomID:         ar.room.RoomID,
		LobbyID:        ar.room.LobbyID,
		GameID:         ar.room.GameID,
		Seed:           ar.room.Seed,
		TickRate:       ar.room.TickRate,
		StartedAtMs:    ar.startedAtMs,
		EndedAtMs:      rm.cfg.Scheduler.Now().UnixMilli(),
		EndReason:      res.Reason,
		WinnerPlayerID: res.WinnerPlayerID,
		WinnerGuestID:  ar.room.GuestIDOf(res.WinnerPlayerID),
	}
	for _, r := range res.Rankings {
		rec.Players = append(rec.Players, models.MatchPlayer{
			PlayerID: r.PlayerID,
			GuestID:  ar.room.GuestIDOf(r.PlayerID),
			Nickname: r.Nickname,
			Rank:     r.Rank,
			Score:    r.Score,
		})
	}
	return rec
}

// persist records a match. Failures are logged and never block the
// game.over broadcast or the stop transition.
func (rm *RuntimeManager) persist(rec models.MatchRecord) {
	if rm.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := rm.cfg.Recorder.RecordMatch(ctx, rec); err != nil {
		rm.log.WithError(err).WithFields(logrus.Fields{
			"match_id": rec.MatchID,
			"room_id":  rec.RoomID,
		}).Error("match record persistence failed")
	}
}

// broadcast fans a frame out to the union of joined players and
// spectators.
func (rm *RuntimeManager) broadcast(ar *activeRoom, env protocol.Envelope) {
	ar.mu.Lock()
	conns := make([]Conn, 0, len(ar.joined)+len(ar.spectators))
	for _, jp := range ar.joined {
		conns = append(conns, jp.conn)
	}
	for _, c := range ar.spectators {
		conns = append(conns, c)
	}
	ar.mu.Unlock()
	for _, c := range conns {
		c.Send(env)
	}
}
