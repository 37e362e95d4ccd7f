// internal/database/match.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blastparty/blastparty/internal/models"
)

// MatchStore persists finished match records. It satisfies the
// room.MatchRecorder port.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore wraps a pool. Pass the global DB after ConnectDB.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// RecordMatch inserts the match row and one row per participant in a
// single transaction. Replays of the same match id upsert rather than
// fail so a retried hand-off stays harmless.
func (s *MatchStore) RecordMatch(ctx context.Context, rec models.MatchRecord) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsertMatch := `
			INSERT INTO matches (id, room_id, lobby_id, game_id, seed, tick_rate,
				started_at_ms, ended_at_ms, end_reason, winner_player_id, winner_guest_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				ended_at_ms = $8, end_reason = $9,
				winner_player_id = $10, winner_guest_id = $11
		`
		if _, e := tx.Exec(ctx, upsertMatch,
			rec.MatchID, rec.RoomID, rec.LobbyID, rec.GameID, rec.Seed, rec.TickRate,
			rec.StartedAtMs, rec.EndedAtMs, rec.EndReason,
			nullIfEmpty(rec.WinnerPlayerID), nullIfEmpty(rec.WinnerGuestID)); e != nil {
			return e
		}

		for _, pl := range rec.Players {
			q := `
				INSERT INTO match_players (match_id, player_id, guest_id, nickname, rank, score)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (match_id, player_id)
				DO UPDATE SET rank = $5, score = $6
			`
			if _, e := tx.Exec(ctx, q,
				rec.MatchID, pl.PlayerID, pl.GuestID, pl.Nickname, pl.Rank, pl.Score); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx upsert match %s: %w", rec.MatchID, err)
	}
	return nil
}

// ListMatchesByLobby returns the most recent matches for a lobby,
// newest first, players included.
func (s *MatchStore) ListMatchesByLobby(ctx context.Context, lobbyID string, limit int) ([]models.MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, lobby_id, game_id, seed, tick_rate,
			started_at_ms, ended_at_ms, end_reason,
			COALESCE(winner_player_id, ''), COALESCE(winner_guest_id, '')
		FROM matches
		WHERE lobby_id = $1
		ORDER BY ended_at_ms DESC
		LIMIT $2
	`, lobbyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query matches for lobby %s: %w", lobbyID, err)
	}
	defer rows.Close()

	var recs []models.MatchRecord
	for rows.Next() {
		var rec models.MatchRecord
		if err := rows.Scan(&rec.MatchID, &rec.RoomID, &rec.LobbyID, &rec.GameID,
			&rec.Seed, &rec.TickRate, &rec.StartedAtMs, &rec.EndedAtMs,
			&rec.EndReason, &rec.WinnerPlayerID, &rec.WinnerGuestID); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		players, err := s.matchPlayers(ctx, recs[i].MatchID)
		if err != nil {
			return nil, err
		}
		recs[i].Players = players
	}
	return recs, nil
}

func (s *MatchStore) matchPlayers(ctx context.Context, matchID string) ([]models.MatchPlayer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, guest_id, nickname, rank, score
		FROM match_players
		WHERE match_id = $1
		ORDER BY rank ASC, player_id ASC
	`, matchID)
	if err != nil {
		return nil, fmt.Errorf("query players for match %s: %w", matchID, err)
	}
	defer rows.Close()

	var players []models.MatchPlayer
	for rows.Next() {
		var pl models.MatchPlayer
		if err := rows.Scan(&pl.PlayerID, &pl.GuestID, &pl.Nickname, &pl.Rank, &pl.Score); err != nil {
			return nil, err
		}
		players = append(players, pl)
	}
	return players, rows.Err()
}

// nullIfEmpty maps "" to SQL NULL for the nullable winner columns.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
