// internal/service/service_test.go
package service

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastparty/blastparty/internal/auth"
	"github.com/blastparty/blastparty/internal/clock"
	"github.com/blastparty/blastparty/internal/engine"
	"github.com/blastparty/blastparty/internal/game/bomb"
	"github.com/blastparty/blastparty/internal/lobby"
	"github.com/blastparty/blastparty/internal/protocol"
	"github.com/blastparty/blastparty/internal/room"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []protocol.Envelope
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env protocol.Envelope) {
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
}

func (c *fakeConn) lastOfType(msgType string) (protocol.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Type == msgType {
			return c.frames[i], true
		}
	}
	return protocol.Envelope{}, false
}

func (c *fakeConn) allOfType(msgType string) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range c.frames {
		if f.Type == msgType {
			out = append(out, f)
		}
	}
	return out
}

type fixture struct {
	sched  *clock.Manual
	tokens *auth.TokenService
	rtm    *room.RuntimeManager
	svc    *LobbyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sched: clock.NewManual(time.Unix(1700000000, 0))}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	machine := lobby.NewMachine(f.sched.Now)
	rooms := room.NewManager(f.sched.Now)
	registry := engine.NewRegistry()
	registry.Register(bomb.NewModule())
	f.tokens = auth.NewTokenService([]byte("test-secret"), 0, f.sched)

	f.rtm = room.NewRuntimeManager(room.RuntimeManagerConfig{
		Registry:    registry,
		Rooms:       rooms,
		Scheduler:   f.sched,
		Logger:      log,
		IdleTimeout: time.Minute,
		MatchEnded: func(lobbyID, roomID, reason string) {
			f.svc.MatchEnded(lobbyID, roomID, reason)
		},
	})
	f.svc = NewLobbyService(Config{
		Machine:        machine,
		Rooms:          rooms,
		Runtimes:       f.rtm,
		Tokens:         f.tokens,
		Scheduler:      f.sched,
		Logger:         log,
		ReconnectGrace: 500 * time.Millisecond,
		Seed:           func() int64 { return 42 },
	})
	return f
}

func envelope(msgType string, payload interface{}) protocol.Envelope {
	return protocol.NewEnvelope(msgType, payload)
}

func (f *fixture) create(t *testing.T, conn *fakeConn, nickname, guestID, password string) protocol.LobbyAuthIssuedPayload {
	t.Helper()
	cerr := f.svc.HandleLobbyMessage(conn, envelope(protocol.TypeLobbyCreate, protocol.LobbyCreatePayload{
		Name:     nickname + "'s lobby",
		Nickname: nickname,
		GuestID:  guestID,
		Password: password,
	}))
	require.Nil(t, cerr)
	env, ok := conn.lastOfType(protocol.TypeLobbyAuthIssued)
	require.True(t, ok)
	var issued protocol.LobbyAuthIssuedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &issued))
	return issued
}

func (f *fixture) join(t *testing.T, conn *fakeConn, lobbyID, nickname, guestID, password string) protocol.LobbyAuthIssuedPayload {
	t.Helper()
	cerr := f.svc.HandleLobbyMessage(conn, envelope(protocol.TypeLobbyJoin, protocol.LobbyJoinPayload{
		LobbyID:  lobbyID,
		Nickname: nickname,
		GuestID:  guestID,
		Password: password,
	}))
	require.Nil(t, cerr)
	env, ok := conn.lastOfType(protocol.TypeLobbyAuthIssued)
	require.True(t, ok)
	var issued protocol.LobbyAuthIssuedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &issued))
	return issued
}

func lastState(t *testing.T, conn *fakeConn) lobby.View {
	t.Helper()
	env, ok := conn.lastOfType(protocol.TypeLobbyState)
	require.True(t, ok, "conn %s has a lobby.state frame", conn.id)
	var view lobby.View
	require.NoError(t, json.Unmarshal(env.Payload, &view))
	return view
}

func TestCreateIssuesVerifiableToken(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{id: "a"}

	issued := f.create(t, conn, "Alice", "guest-a", "")
	require.NotEmpty(t, issued.Token)

	claims := f.tokens.Verify(issued.Token)
	require.NotNil(t, claims)
	assert.Equal(t, issued.LobbyID, claims.LobbyID)
	assert.Equal(t, issued.PlayerID, claims.PlayerID)
	assert.Equal(t, "guest-a", claims.GuestID)

	view := lastState(t, conn)
	assert.Equal(t, lobby.PhaseWaiting, view.Phase)
	assert.Equal(t, issued.PlayerID, view.HostPlayerID)
	assert.False(t, view.HasPassword)
	require.Len(t, view.Players, 1)
	assert.True(t, view.Players[0].IsHost)
}

func TestJoinEnforcesPassword(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	issued := f.create(t, a, "Alice", "guest-a", "hunter2")

	b := &fakeConn{id: "b"}
	cerr := f.svc.HandleLobbyMessage(b, envelope(protocol.TypeLobbyJoin, protocol.LobbyJoinPayload{
		LobbyID: issued.LobbyID, Nickname: "Bob", GuestID: "guest-b", Password: "wrong",
	}))
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrInvalidPassword, cerr.Code)

	f.join(t, b, issued.LobbyID, "Bob", "guest-b", "hunter2")
	view := lastState(t, a)
	assert.Len(t, view.Players, 2)
	assert.True(t, view.HasPassword)
}

func TestSecondBindRejected(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{id: "a"}
	issued := f.create(t, conn, "Alice", "guest-a", "")

	cerr := f.svc.HandleLobbyMessage(conn, envelope(protocol.TypeLobbyJoin, protocol.LobbyJoinPayload{
		LobbyID: issued.LobbyID, Nickname: "Alice2", GuestID: "guest-a2",
	}))
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrAlreadyInLobby, cerr.Code)
}

func TestStartPreconditionsSurface(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{id: "a"}
	f.create(t, conn, "Alice", "guest-a", "")

	cerr := f.svc.HandleLobbyMessage(conn, envelope(protocol.TypeLobbyStartRequest, protocol.LobbyStartRequestPayload{}))
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrNotEnoughPlayers, cerr.Code)
}

func TestChatRelay(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	issued := f.create(t, a, "Alice", "guest-a", "")
	b := &fakeConn{id: "b"}
	f.join(t, b, issued.LobbyID, "Bob", "guest-b", "")

	cerr := f.svc.HandleLobbyMessage(a, envelope(protocol.TypeLobbyChatSend, protocol.LobbyChatSendPayload{
		LobbyID: issued.LobbyID, Text: "glhf",
	}))
	require.Nil(t, cerr)

	for _, c := range []*fakeConn{a, b} {
		env, ok := c.lastOfType(protocol.TypeLobbyChatMessage)
		require.True(t, ok, "conn %s", c.id)
		var msg protocol.LobbyChatMessagePayload
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		assert.Equal(t, "glhf", msg.Text)
		assert.Equal(t, "Alice", msg.Nickname)
		assert.Equal(t, issued.PlayerID, msg.PlayerID)
	}
}

// TestFullMatchScenario drives the happy path end to end: create, join,
// vote, ready, start, game.join, then one tick with a move input.
func TestFullMatchScenario(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	issuedA := f.create(t, a, "Alice", "guest-a", "")
	f.sched.Advance(10 * time.Millisecond)
	b := &fakeConn{id: "b"}
	issuedB := f.join(t, b, issuedA.LobbyID, "Bob", "guest-b", "")

	require.Nil(t, f.svc.HandleLobbyMessage(a, envelope(protocol.TypeLobbyVoteCast, protocol.LobbyVoteCastPayload{
		LobbyID: issuedA.LobbyID, GameID: bomb.GameID,
	})))
	assert.Equal(t, bomb.GameID, lastState(t, a).SelectedGameID, "host vote selects the game")

	for _, c := range []*fakeConn{a, b} {
		require.Nil(t, f.svc.HandleLobbyMessage(c, envelope(protocol.TypeLobbyReadySet, protocol.LobbyReadySetPayload{
			LobbyID: issuedA.LobbyID, Ready: true,
		})))
	}

	require.Nil(t, f.svc.HandleLobbyMessage(a, envelope(protocol.TypeLobbyStartRequest, protocol.LobbyStartRequestPayload{
		LobbyID: issuedA.LobbyID,
	})))

	var start protocol.LobbyStartAcceptedPayload
	env, ok := b.lastOfType(protocol.TypeLobbyStartAccepted)
	require.True(t, ok, "start.accepted reaches every lobby member")
	require.NoError(t, json.Unmarshal(env.Payload, &start))
	assert.Equal(t, bomb.GameID, start.GameID)
	assert.Equal(t, int64(42), start.Seed)
	assert.Equal(t, lobby.PhaseInGame, lastState(t, a).Phase)

	// Both clients attach to the room.
	for _, pc := range []struct {
		conn     *fakeConn
		playerID string
	}{{a, issuedA.PlayerID}, {b, issuedB.PlayerID}} {
		cerr := f.rtm.HandleGameMessage(pc.conn, f.svc.BoundPlayerID(pc.conn), envelope(protocol.TypeGameJoin, protocol.GameJoinPayload{
			RoomID: start.RoomID, PlayerID: pc.playerID,
		}))
		require.Nil(t, cerr)
		env, ok := pc.conn.lastOfType(protocol.TypeGameSnapshot)
		require.True(t, ok)
		var snap protocol.GameSnapshotPayload
		require.NoError(t, json.Unmarshal(env.Payload, &snap))
		assert.Equal(t, int64(0), snap.Tick, "joiners get the tick-0 snapshot")
	}

	// Alice joined first, so she holds the top-left spawn.
	require.Nil(t, f.rtm.HandleGameMessage(a, f.svc.BoundPlayerID(a), envelope(protocol.TypeGameInput, protocol.GameInputPayload{
		RoomID:   start.RoomID,
		PlayerID: issuedA.PlayerID,
		Input:    json.RawMessage(`{"type":"move.intent","direction":"right"}`),
	})))
	f.sched.Advance(50 * time.Millisecond)

	var moved *protocol.GameEventPayload
	for _, env := range b.allOfType(protocol.TypeGameEvent) {
		var ev protocol.GameEventPayload
		require.NoError(t, json.Unmarshal(env.Payload, &ev))
		if ev.Name == "player.moved" {
			moved = &ev
			break
		}
	}
	require.NotNil(t, moved, "the move produced a player.moved event")

	var data struct {
		PlayerID  string         `json:"playerId"`
		From      map[string]int `json:"from"`
		To        map[string]int `json:"to"`
		Direction string         `json:"direction"`
	}
	require.NoError(t, json.Unmarshal(moved.Data, &data))
	assert.Equal(t, issuedA.PlayerID, data.PlayerID)
	assert.Equal(t, map[string]int{"x": 1, "y": 1}, data.From)
	assert.Equal(t, map[string]int{"x": 2, "y": 1}, data.To)
	assert.Equal(t, "right", data.Direction)
}

func TestReconnectRestoresSeat(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	issuedA := f.create(t, a, "Alice", "guest-a", "")
	f.sched.Advance(10 * time.Millisecond)
	b := &fakeConn{id: "b"}
	issuedB := f.join(t, b, issuedA.LobbyID, "Bob", "guest-b", "")

	f.svc.ConnectionClosed(b)
	view := lastState(t, a)
	require.Len(t, view.Players, 2)
	for _, p := range view.Players {
		if p.PlayerID == issuedB.PlayerID {
			assert.False(t, p.IsConnected)
		}
	}

	f.sched.Advance(200 * time.Millisecond)

	b2 := &fakeConn{id: "b2"}
	cerr := f.svc.HandleLobbyMessage(b2, envelope(protocol.TypeLobbyReconnect, protocol.LobbyReconnectPayload{
		Token: issuedB.Token,
	}))
	require.Nil(t, cerr)

	env, ok := b2.lastOfType(protocol.TypeLobbyAuthIssued)
	require.True(t, ok)
	var reissued protocol.LobbyAuthIssuedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &reissued))
	assert.Equal(t, issuedB.PlayerID, reissued.PlayerID, "reconnect never mints a new playerId")
	assert.NotEqual(t, issuedB.Token, reissued.Token)

	// The canceled eviction deadline passing changes nothing.
	f.sched.Advance(time.Second)
	view = lastState(t, a)
	assert.Len(t, view.Players, 2)
}

func TestEvictionAfterReconnectGrace(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	issuedA := f.create(t, a, "Alice", "guest-a", "")
	f.sched.Advance(10 * time.Millisecond)
	b := &fakeConn{id: "b"}
	issuedB := f.join(t, b, issuedA.LobbyID, "Bob", "guest-b", "")

	f.svc.ConnectionClosed(b)
	f.sched.Advance(600 * time.Millisecond)

	view := lastState(t, a)
	require.Len(t, view.Players, 1)
	assert.Equal(t, issuedA.PlayerID, view.Players[0].PlayerID)

	// The evicted player's token is now useless.
	b2 := &fakeConn{id: "b2"}
	cerr := f.svc.HandleLobbyMessage(b2, envelope(protocol.TypeLobbyReconnect, protocol.LobbyReconnectPayload{
		Token: issuedB.Token,
	}))
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrInvalidSessionToken, cerr.Code)
}

func TestReconnectFailuresAreUniform(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	issuedA := f.create(t, a, "Alice", "guest-a", "")

	// Garbage token and still-connected player's valid token fail with
	// the same code.
	for _, token := range []string{"not-a-token", issuedA.Token} {
		conn := &fakeConn{id: "x-" + token[:5]}
		cerr := f.svc.HandleLobbyMessage(conn, envelope(protocol.TypeLobbyReconnect, protocol.LobbyReconnectPayload{
			Token: token,
		}))
		require.NotNil(t, cerr)
		assert.Equal(t, protocol.ErrInvalidSessionToken, cerr.Code)
	}
}

func TestForceEndReturnsLobbyToWaiting(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	issuedA := f.create(t, a, "Alice", "guest-a", "")
	f.sched.Advance(10 * time.Millisecond)
	b := &fakeConn{id: "b"}
	f.join(t, b, issuedA.LobbyID, "Bob", "guest-b", "")

	require.Nil(t, f.svc.HandleLobbyMessage(a, envelope(protocol.TypeLobbyVoteCast, protocol.LobbyVoteCastPayload{
		LobbyID: issuedA.LobbyID, GameID: bomb.GameID,
	})))
	for _, c := range []*fakeConn{a, b} {
		require.Nil(t, f.svc.HandleLobbyMessage(c, envelope(protocol.TypeLobbyReadySet, protocol.LobbyReadySetPayload{
			LobbyID: issuedA.LobbyID, Ready: true,
		})))
	}
	require.Nil(t, f.svc.HandleLobbyMessage(a, envelope(protocol.TypeLobbyStartRequest, protocol.LobbyStartRequestPayload{})))
	require.Equal(t, lobby.PhaseInGame, lastState(t, a).Phase)

	// Only the host may force-end.
	cerr := f.svc.HandleLobbyMessage(b, envelope(protocol.TypeAdminForceEnd, protocol.AdminForceEndPayload{
		LobbyID: issuedA.LobbyID,
	}))
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrUnauthorized, cerr.Code)

	require.Nil(t, f.svc.HandleLobbyMessage(a, envelope(protocol.TypeAdminForceEnd, protocol.AdminForceEndPayload{
		LobbyID: issuedA.LobbyID,
	})))

	view := lastState(t, a)
	assert.Equal(t, lobby.PhaseWaiting, view.Phase)
	assert.Empty(t, view.ActiveRoomID)
	for _, p := range view.Players {
		assert.False(t, p.IsReady, "ready flags reset after the match")
	}
}

func TestListLobbies(t *testing.T) {
	f := newFixture(t)
	a := &fakeConn{id: "a"}
	f.create(t, a, "Alice", "guest-a", "")

	watcher := &fakeConn{id: "w"}
	require.Nil(t, f.svc.HandleLobbyMessage(watcher, protocol.Envelope{V: protocol.Version, Type: protocol.TypeLobbyList}))

	env, ok := watcher.lastOfType(protocol.TypeLobbyListResult)
	require.True(t, ok)
	var result struct {
		Lobbies []lobby.View `json:"lobbies"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &result))
	require.Len(t, result.Lobbies, 1)
	assert.Equal(t, "Alice's lobby", result.Lobbies[0].Name)
}
