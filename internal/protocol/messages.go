// internal/protocol/messages.go
package protocol

import "encoding/json"

// Client → server lobby payloads. These arrive pre-validated at the
// schema level; the service layer only enforces semantic preconditions.

type LobbyCreatePayload struct {
	Name       string `json:"name"`
	Nickname   string `json:"nickname"`
	GuestID    string `json:"guestId"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	Password   string `json:"password,omitempty"`
}

type LobbyJoinPayload struct {
	LobbyID  string `json:"lobbyId"`
	Nickname string `json:"nickname"`
	GuestID  string `json:"guestId"`
	Password string `json:"password,omitempty"`
}

type LobbyReconnectPayload struct {
	Token    string `json:"token"`
	Nickname string `json:"nickname,omitempty"`
}

type LobbyLeavePayload struct {
	LobbyID string `json:"lobbyId"`
}

type LobbyChatSendPayload struct {
	LobbyID string `json:"lobbyId"`
	Text    string `json:"text"`
}

type LobbyVoteCastPayload struct {
	LobbyID string `json:"lobbyId"`
	GameID  string `json:"gameId"`
}

type LobbyReadySetPayload struct {
	LobbyID string `json:"lobbyId"`
	Ready   bool   `json:"ready"`
}

type LobbyStartRequestPayload struct {
	LobbyID string `json:"lobbyId"`
}

type AdminForceEndPayload struct {
	LobbyID string `json:"lobbyId"`
}

// Server → client lobby payloads.

type LobbyChatMessagePayload struct {
	LobbyID  string `json:"lobbyId"`
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
	SentAtMs int64  `json:"sentAtMs"`
}

type LobbyAuthIssuedPayload struct {
	LobbyID     string `json:"lobbyId"`
	PlayerID    string `json:"playerId"`
	Token       string `json:"token"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

type LobbyStartAcceptedPayload struct {
	LobbyID  string `json:"lobbyId"`
	RoomID   string `json:"roomId"`
	GameID   string `json:"gameId"`
	TickRate int    `json:"tickRate"`
	Seed     int64  `json:"seed"`
}

// Game-phase payloads.

type GameJoinPayload struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type GameJoinAcceptedPayload struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Tick     int64  `json:"tick"`
}

type GameSpectateJoinPayload struct {
	RoomID string `json:"roomId"`
}

type GameSpectateJoinedPayload struct {
	RoomID      string `json:"roomId"`
	SpectatorID string `json:"spectatorId"`
	Tick        int64  `json:"tick"`
}

type GameLeavePayload struct {
	RoomID string `json:"roomId"`
}

type GameInputPayload struct {
	RoomID   string          `json:"roomId"`
	PlayerID string          `json:"playerId"`
	Tick     int64           `json:"tick,omitempty"`
	Input    json.RawMessage `json:"input"`
}

type GameSnapshotPayload struct {
	RoomID   string          `json:"roomId"`
	Tick     int64           `json:"tick"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type GameEventPayload struct {
	RoomID  string          `json:"roomId"`
	EventID int64           `json:"eventId"`
	Tick    int64           `json:"tick"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type GameOverPayload struct {
	RoomID  string          `json:"roomId"`
	Tick    int64           `json:"tick"`
	Reason  string          `json:"reason"`
	Results json.RawMessage `json:"results"`
}
