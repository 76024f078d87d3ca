// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActionRecord is one logged room event as the historian persists it.
type ActionRecord struct {
	RoomID        string         `json:"room_id"`
	GameNumber    int            `json:"game_number"`
	ActionIndex   int64          `json:"action_index"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActionType    string         `json:"action_type"`
	ActionPayload map[string]any `json:"action_payload,omitempty"`
	Timestamp     int64          `json:"timestamp"`
}

// GameLog writes room actions and game status rows.
type GameLog struct {
	pool *pgxpool.Pool
}

// NewGameLog wraps pool.
func NewGameLog(pool *pgxpool.Pool) *GameLog {
	return &GameLog{pool: pool}
}

// InsertActions stores a batch of actions in one transaction and refreshes
// each touched game's activity timestamp.
func (gl *GameLog) InsertActions(ctx context.Context, recs []ActionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, gl.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range recs {
			if err := insertActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertActionTx: %w", err)
			}
		}
		return nil
	})
}

func insertActionTx(ctx context.Context, tx pgx.Tx, rec ActionRecord) error {
	payload, err := json.Marshal(rec.ActionPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal action payload: %w", err)
	}
	at := time.UnixMilli(rec.Timestamp)

	q := `
		INSERT INTO room_actions (room_id, game_number, action_index, actor_id, action_type, action_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, q, rec.RoomID, rec.GameNumber, rec.ActionIndex, rec.ActorID, rec.ActionType, payload, at); err != nil {
		return err
	}

	status := "in_progress"
	if rec.ActionType == "gameOver" {
		status = "completed"
	}
	upsert := `
		INSERT INTO games (room_id, game_number, status, last_action_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, game_number)
		DO UPDATE SET last_action_at = GREATEST(games.last_action_at, $4),
		              status = CASE WHEN games.status = 'in_progress' THEN $3 ELSE games.status END
	`
	_, err = tx.Exec(ctx, upsert, rec.RoomID, rec.GameNumber, status, at)
	return err
}

// MarkAbandoned flags a game that is still in progress as abandoned. It
// reports whether a row changed.
func (gl *GameLog) MarkAbandoned(ctx context.Context, roomID string, gameNumber int) (bool, error) {
	q := `
		UPDATE games
		SET status = 'abandoned'
		WHERE room_id=$1 AND game_number=$2 AND status = 'in_progress'
	`
	tag, err := gl.pool.Exec(ctx, q, roomID, gameNumber)
	if err != nil {
		return false, fmt.Errorf("mark game abandoned: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ActionCount returns how many actions are stored for a room's game.
func (gl *GameLog) ActionCount(ctx context.Context, roomID string, gameNumber int) (int, error) {
	var n int
	err := gl.pool.QueryRow(ctx, `SELECT count(*) FROM room_actions WHERE room_id=$1 AND game_number=$2`, roomID, gameNumber).Scan(&n)
	return n, err
}

// GameStatus returns the stored status of a game.
func (gl *GameLog) GameStatus(ctx context.Context, roomID string, gameNumber int) (string, error) {
	var s string
	err := gl.pool.QueryRow(ctx, `SELECT status FROM games WHERE room_id=$1 AND game_number=$2`, roomID, gameNumber).Scan(&s)
	return s, err
}
