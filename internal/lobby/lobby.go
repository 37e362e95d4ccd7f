// internal/lobby/lobby.go
package lobby

// Phase is the lobby lifecycle state.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseStarting Phase = "starting"
	PhaseInGame   Phase = "in_game"
	PhaseClosed   Phase = "closed"
)

// DefaultMaxPlayers bounds lobby size when the creator does not choose.
const DefaultMaxPlayers = 8

// PlayerState is one player's record inside a lobby. The lobby owns
// these exclusively; callers get copies via views.
type PlayerState struct {
	PlayerID     string
	GuestID      string
	Nickname     string
	IsHost       bool
	IsReady      bool
	IsConnected  bool
	VoteGameID   string
	JoinedAtMs   int64
	LastSeenAtMs int64
}

// Lobby is the pre-match gathering: players join, vote on a game,
// ready up, and the host starts a match.
type Lobby struct {
	ID             string
	Name           string
	HostPlayerID   string
	Phase          Phase
	ActiveRoomID   string
	SelectedGameID string
	MaxPlayers     int
	PasswordHash   string
	Players        map[string]*PlayerState
	CreatedAtMs    int64
}

// connectedCount reports how many players are currently connected.
func (l *Lobby) connectedCount() int {
	n := 0
	for _, p := range l.Players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// PlayerView is the serializable projection of a PlayerState.
type PlayerView struct {
	PlayerID    string `json:"playerId"`
	Nickname    string `json:"nickname"`
	IsHost      bool   `json:"isHost"`
	IsReady     bool   `json:"isReady"`
	IsConnected bool   `json:"isConnected"`
	VoteGameID  string `json:"voteGameId,omitempty"`
	JoinedAtMs  int64  `json:"joinedAtMs"`
}

// View is the serializable projection of a Lobby, broadcast as the
// lobby.state payload and returned by listings.
type View struct {
	LobbyID        string       `json:"lobbyId"`
	Name           string       `json:"name"`
	HostPlayerID   string       `json:"hostPlayerId"`
	Phase          Phase        `json:"phase"`
	ActiveRoomID   string       `json:"activeRoomId,omitempty"`
	SelectedGameID string       `json:"selectedGameId,omitempty"`
	MaxPlayers     int          `json:"maxPlayers"`
	HasPassword    bool         `json:"hasPassword"`
	Players        []PlayerView `json:"players"`
}
