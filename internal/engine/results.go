// internal/engine/results.go
package engine

// Results is the conventional shape modules marshal from Results().
// The room layer decodes it to build the persisted match record without
// knowing module internals.
type Results struct {
	Reason         string         `json:"reason"`
	WinnerPlayerID string         `json:"winnerPlayerId,omitempty"`
	Rankings       []PlayerResult `json:"rankings"`
}

// PlayerResult is one player's final standing.
type PlayerResult struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname,omitempty"`
	Rank     int    `json:"rank"`
	Score    int    `json:"score"`
	Alive    bool   `json:"alive"`
}
