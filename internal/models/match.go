// internal/models/match.go
package models

// MatchRecord is the hand-off payload persisted when a room stops with
// a finished game. Storage mechanics live behind the MatchRecorder
// port; this struct is the contract.
type MatchRecord struct {
	MatchID        string        `json:"matchId"`
	RoomID         string        `json:"roomId"`
	LobbyID        string        `json:"lobbyId"`
	GameID         string        `json:"gameId"`
	Seed           int64         `json:"seed"`
	TickRate       int           `json:"tickRate"`
	StartedAtMs    int64         `json:"startedAtMs"`
	EndedAtMs      int64         `json:"endedAtMs"`
	EndReason      string        `json:"endReason"`
	WinnerPlayerID string        `json:"winnerPlayerId,omitempty"`
	WinnerGuestID  string        `json:"winnerGuestId,omitempty"`
	Players        []MatchPlayer `json:"players"`
}

// MatchPlayer is one participant's final standing.
type MatchPlayer struct {
	PlayerID string `json:"playerId"`
	GuestID  string `json:"guestId"`
	Nickname string `json:"nickname"`
	Rank     int    `json:"rank"`
	Score    int    `json:"score"`
}
