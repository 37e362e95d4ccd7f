// internal/lobby/machine_test.go
package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastparty/blastparty/internal/protocol"
)

// fakeClock hands out strictly increasing timestamps so join order is
// unambiguous in tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (fc *fakeClock) now() time.Time {
	fc.t = fc.t.Add(time.Second)
	return fc.t
}

func newTestMachine() *Machine {
	return NewMachine(newFakeClock().now)
}

func createTwoPlayerLobby(t *testing.T, m *Machine) (*Lobby, *PlayerState, *PlayerState) {
	t.Helper()
	l, host := m.CreateLobby("friday night", "alice", "guest-a", "", 4)
	_, guest, cerr := m.JoinLobby(l.ID, "bob", "guest-b")
	require.Nil(t, cerr)
	return l, host, guest
}

func TestCreateLobbyHostInvariant(t *testing.T) {
	m := newTestMachine()
	l, host := m.CreateLobby("party", "alice", "guest-a", "", 0)

	assert.Equal(t, PhaseWaiting, l.Phase)
	assert.Equal(t, DefaultMaxPlayers, l.MaxPlayers)
	assert.True(t, host.IsHost)
	assert.Equal(t, host.PlayerID, l.HostPlayerID)
	assert.True(t, host.IsConnected)
	assert.False(t, host.IsReady)
}

func TestJoinLobbyErrors(t *testing.T) {
	m := newTestMachine()
	l, _ := m.CreateLobby("party", "alice", "guest-a", "", 2)

	_, _, cerr := m.JoinLobby("nope", "bob", "guest-b")
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrLobbyNotFound, cerr.Code)

	// Same guest already connected.
	_, _, cerr = m.JoinLobby(l.ID, "alice2", "guest-a")
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrDuplicateConnection, cerr.Code)

	_, _, cerr = m.JoinLobby(l.ID, "bob", "guest-b")
	require.Nil(t, cerr)

	// Lobby is now at capacity.
	_, _, cerr = m.JoinLobby(l.ID, "carol", "guest-c")
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrLobbyFull, cerr.Code)

	// No joins once the match flow started.
	l.Phase = PhaseInGame
	_, _, cerr = m.JoinLobby(l.ID, "dave", "guest-d")
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrInvalidState, cerr.Code)
}

func TestRequestStartPreconditionOrder(t *testing.T) {
	m := newTestMachine()
	l, host := m.CreateLobby("party", "alice", "guest-a", "", 4)

	// Non-host is rejected before anything else.
	_, cerr := m.RequestStart(l.ID, "someone-else")
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrUnauthorized, cerr.Code)

	// One connected player: not_enough_players wins over the missing vote.
	_, cerr = m.RequestStart(l.ID, host.PlayerID)
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrNotEnoughPlayers, cerr.Code)

	_, guest, cerr := m.JoinLobby(l.ID, "bob", "guest-b")
	require.Nil(t, cerr)

	_, cerr = m.RequestStart(l.ID, host.PlayerID)
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrGameNotSelected, cerr.Code)

	_, cerr = m.CastVote(l.ID, host.PlayerID, "bomberman")
	require.Nil(t, cerr)

	// Unready players are named in the error details.
	_, cerr = m.RequestStart(l.ID, host.PlayerID)
	require.NotNil(t, cerr)
	assert.Equal(t, protocol.ErrNotReady, cerr.Code)
	details, ok := cerr.Details.(map[string]interface{})
	require.True(t, ok)
	ids, ok := details["playerIds"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{host.PlayerID, guest.PlayerID}, ids)

	_, cerr = m.SetReady(l.ID, host.PlayerID, true)
	require.Nil(t, cerr)
	_, cerr = m.SetReady(l.ID, guest.PlayerID, true)
	require.Nil(t, cerr)

	started, cerr := m.RequestStart(l.ID, host.PlayerID)
	require.Nil(t, cerr)
	assert.Equal(t, PhaseStarting, started.Phase)
}

func TestVotePluralityAndHostOverride(t *testing.T) {
	m := newTestMachine()
	l, host := m.CreateLobby("party", "alice", "guest-a", "", 8)
	_, b, _ := m.JoinLobby(l.ID, "bob", "guest-b")
	_, c, _ := m.JoinLobby(l.ID, "carol", "guest-c")

	m.CastVote(l.ID, b.PlayerID, "bomberman")
	m.CastVote(l.ID, c.PlayerID, "bomberman")
	assert.Equal(t, "bomberman", l.SelectedGameID)

	// Host vote overrides the two-vote plurality the moment it is cast.
	m.CastVote(l.ID, host.PlayerID, "snake")
	assert.Equal(t, "snake", l.SelectedGameID)

	// Host gone: plurality among the rest decides again.
	m.RemovePlayer(l.ID, host.PlayerID)
	assert.Equal(t, "bomberman", l.SelectedGameID)
}

func TestHostMigrationOrdering(t *testing.T) {
	m := newTestMachine()
	l, host := m.CreateLobby("party", "alice", "guest-a", "", 8)
	_, b, _ := m.JoinLobby(l.ID, "bob", "guest-b")
	_, c, _ := m.JoinLobby(l.ID, "carol", "guest-c")

	// Bob joined earlier than Carol but is disconnected; Carol wins.
	m.MarkDisconnected(l.ID, b.PlayerID)
	got, removed := m.RemovePlayer(l.ID, host.PlayerID)
	require.True(t, removed)
	assert.Equal(t, c.PlayerID, got.HostPlayerID)
	assert.True(t, got.Players[c.PlayerID].IsHost)

	// Exactly one host remains.
	hosts := 0
	for _, p := range got.Players {
		if p.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestLobbyDeletedWhenEmptied(t *testing.T) {
	m := newTestMachine()
	l, host, guest := createTwoPlayerLobby(t, m)

	m.RemovePlayer(l.ID, guest.PlayerID)
	got, removed := m.RemovePlayer(l.ID, host.PlayerID)
	assert.True(t, removed)
	assert.Nil(t, got)

	_, ok := m.Get(l.ID)
	assert.False(t, ok)
}

func TestReconnectRestoresSamePlayer(t *testing.T) {
	m := newTestMachine()
	l, _, guest := createTwoPlayerLobby(t, m)

	m.MarkDisconnected(l.ID, guest.PlayerID)
	require.False(t, l.Players[guest.PlayerID].IsConnected)

	// Wrong guest identity fails.
	_, _, ok := m.ReconnectPlayer(l.ID, guest.PlayerID, "guest-x", "")
	assert.False(t, ok)

	// Reconnecting a connected player fails.
	_, _, ok = m.ReconnectPlayer(l.ID, l.HostPlayerID, "guest-a", "")
	assert.False(t, ok)

	_, p, ok := m.ReconnectPlayer(l.ID, guest.PlayerID, "guest-b", "bobby")
	require.True(t, ok)
	assert.Equal(t, guest.PlayerID, p.PlayerID)
	assert.True(t, p.IsConnected)
	assert.Equal(t, "bobby", p.Nickname)
}

func TestReconnectRejectedWhenGuestRejoinedFresh(t *testing.T) {
	m := newTestMachine()
	l, _, guest := createTwoPlayerLobby(t, m)

	m.MarkDisconnected(l.ID, guest.PlayerID)

	// The same guest joins again as a brand new seat while the old
	// record lingers for reconnect.
	_, fresh, cerr := m.JoinLobby(l.ID, "bob-again", "guest-b")
	require.Nil(t, cerr)
	require.NotEqual(t, guest.PlayerID, fresh.PlayerID)

	// Restoring the old seat with a still-valid token must fail, or
	// two connected players would share guest-b.
	_, _, ok := m.ReconnectPlayer(l.ID, guest.PlayerID, "guest-b", "")
	assert.False(t, ok)
	assert.False(t, l.Players[guest.PlayerID].IsConnected)
	assert.True(t, l.Players[fresh.PlayerID].IsConnected)

	connected := 0
	for _, p := range l.Players {
		if p.IsConnected && p.GuestID == "guest-b" {
			connected++
		}
	}
	assert.Equal(t, 1, connected)
}

func TestSetWaitingAfterGameResetsReady(t *testing.T) {
	m := newTestMachine()
	l, host, guest := createTwoPlayerLobby(t, m)

	m.CastVote(l.ID, host.PlayerID, "bomberman")
	m.SetReady(l.ID, host.PlayerID, true)
	m.SetReady(l.ID, guest.PlayerID, true)
	_, cerr := m.RequestStart(l.ID, host.PlayerID)
	require.Nil(t, cerr)
	require.Nil(t, m.SetInGame(l.ID, "room-1"))
	assert.Equal(t, PhaseInGame, l.Phase)
	assert.Equal(t, "room-1", l.ActiveRoomID)

	require.Nil(t, m.SetWaitingAfterGame(l.ID))
	assert.Equal(t, PhaseWaiting, l.Phase)
	assert.Empty(t, l.ActiveRoomID)
	for _, p := range l.Players {
		assert.False(t, p.IsReady)
	}
}

func TestListViewsStableOrder(t *testing.T) {
	m := newTestMachine()
	l1, _ := m.CreateLobby("first", "alice", "guest-a", "", 4)
	l2, _ := m.CreateLobby("second", "bob", "guest-b", "hash", 4)

	views := m.ListViews()
	require.Len(t, views, 2)
	assert.Equal(t, l1.ID, views[0].LobbyID)
	assert.Equal(t, l2.ID, views[1].LobbyID)
	assert.False(t, views[0].HasPassword)
	assert.True(t, views[1].HasPassword)
}
