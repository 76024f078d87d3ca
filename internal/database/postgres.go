package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id          TEXT PRIMARY KEY,
		doc         JSONB NOT NULL,
		version     BIGINT NOT NULL DEFAULT 1,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS rooms_created_at_idx ON rooms (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		cover        TEXT NOT NULL DEFAULT '',
		is_admin     BOOLEAN NOT NULL DEFAULT false,
		is_ephemeral BOOLEAN NOT NULL DEFAULT false,
		total_games  INTEGER NOT NULL DEFAULT 0,
		rating       INTEGER NOT NULL DEFAULT 0,
		push_token   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS games (
		room_id        TEXT NOT NULL,
		game_number    INTEGER NOT NULL,
		status         TEXT NOT NULL DEFAULT 'in_progress',
		last_action_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (room_id, game_number)
	)`,
	`CREATE TABLE IF NOT EXISTS room_actions (
		id             BIGSERIAL PRIMARY KEY,
		room_id        TEXT NOT NULL,
		game_number    INTEGER NOT NULL,
		action_index   BIGINT NOT NULL,
		actor_id       TEXT NOT NULL DEFAULT '',
		action_type    TEXT NOT NULL,
		action_payload JSONB,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS room_actions_room_idx ON room_actions (room_id, game_number, action_index)`,
}

// Migrate creates the tables the orchestrator uses.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration step %d: %w", i, err)
			}
		}
		return nil
	})
}
