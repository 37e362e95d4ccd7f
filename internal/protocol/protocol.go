// internal/protocol/protocol.go
package protocol

import "encoding/json"

// Version is the wire protocol version carried in every envelope.
const Version = 1

// Envelope is the tagged JSON frame every client and server message
// travels in. Payload stays raw on the inbound side so each handler can
// decode its own payload type.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps payload in a versioned envelope. Marshal failures
// are a programming error on server-built payloads, so the raw payload
// is simply omitted if one occurs.
func NewEnvelope(msgType string, payload interface{}) Envelope {
	env := Envelope{V: Version, Type: msgType}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			env.Payload = data
		}
	}
	return env
}

// Lobby-phase message types.
const (
	TypeLobbyCreate        = "lobby.create"
	TypeLobbyJoin          = "lobby.join"
	TypeLobbyLeave         = "lobby.leave"
	TypeLobbyReconnect     = "lobby.reconnect"
	TypeLobbyList          = "lobby.list"
	TypeLobbyChatSend      = "lobby.chat.send"
	TypeLobbyChatMessage   = "lobby.chat.message"
	TypeLobbyVoteCast      = "lobby.vote.cast"
	TypeLobbyReadySet      = "lobby.ready.set"
	TypeLobbyStartRequest  = "lobby.start.request"
	TypeLobbyStartAccepted = "lobby.start.accepted"
	TypeLobbyAuthIssued    = "lobby.auth.issued"
	TypeLobbyError         = "lobby.error"
	TypeLobbyState         = "lobby.state"
	TypeLobbyListResult    = "lobby.list.result"
	TypeAdminForceEnd      = "lobby.admin.force_end"
)

// Game-phase message types.
const (
	TypeGameJoin           = "game.join"
	TypeGameJoinAccepted   = "game.join.accepted"
	TypeGameSpectateJoin   = "game.spectate.join"
	TypeGameSpectateJoined = "game.spectate.joined"
	TypeGameLeave          = "game.leave"
	TypeGameInput          = "game.input"
	TypeGameSnapshot       = "game.snapshot"
	TypeGameEvent          = "game.event"
	TypeGameOver           = "game.over"
)

// Client error codes. These are recoverable precondition failures;
// each one turns into a lobby.error frame, never a dropped connection.
const (
	ErrLobbyNotFound       = "lobby_not_found"
	ErrInvalidState        = "invalid_state"
	ErrLobbyFull           = "lobby_full"
	ErrDuplicateConnection = "duplicate_connection"
	ErrUnauthorized        = "unauthorized"
	ErrGameNotSelected     = "game_not_selected"
	ErrNotEnoughPlayers    = "not_enough_players"
	ErrNotReady            = "not_ready"
	ErrInvalidSessionToken = "invalid_session_token"
	ErrAlreadyInLobby      = "already_in_lobby"
	ErrInvalidPassword     = "invalid_password"
	ErrPlayerNotFound      = "player_not_found"
)

// ClientError is the error shape sent back to clients.
type ClientError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	LobbyID string      `json:"lobbyId,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Error implements the error interface so service code can return a
// ClientError directly and let the transport layer serialize it.
func (e *ClientError) Error() string {
	return e.Code + ": " + e.Message
}

// NewClientError builds a ClientError with no details.
func NewClientError(code, message string) *ClientError {
	return &ClientError{Code: code, Message: message}
}
