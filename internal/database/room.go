// internal/database/room.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/room"
)

// RoomRepository stores each room as one JSONB document guarded by a version column.
type RoomRepository struct {
	pool *pgxpool.Pool
}

var _ room.Repository = (*RoomRepository)(nil)

// NewRoomRepository wraps pool.
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (rr *RoomRepository) Get(ctx context.Context, id string) (*models.Room, error) {
	var (
		doc     []byte
		version int64
	)
	err := rr.pool.QueryRow(ctx, `SELECT doc, version FROM rooms WHERE id=$1`, id).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", id, room.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select room %s: %w", id, err)
	}
	return decodeRoom(doc, version)
}

func (rr *RoomRepository) Create(ctx context.Context, r *models.Room) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	q := `INSERT INTO rooms (id, doc, version, created_at, updated_at) VALUES ($1, $2, 1, $3, $4)`
	if _, err := rr.pool.Exec(ctx, q, r.ID, doc, r.CreatedAt, r.UpdatedAt); err != nil {
		return fmt.Errorf("insert room %s: %w", r.ID, err)
	}
	r.Version = 1
	return nil
}

// Save writes the document only if the stored version still equals expected.
func (rr *RoomRepository) Save(ctx context.Context, r *models.Room, expected int64) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	q := `
		UPDATE rooms
		SET doc=$2, version=version+1, updated_at=$4
		WHERE id=$1 AND version=$3
	`
	tag, err := rr.pool.Exec(ctx, q, r.ID, doc, expected, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update room %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := rr.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id=$1)`, r.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check room %s: %w", r.ID, err)
		}
		if !exists {
			return fmt.Errorf("room %s: %w", r.ID, room.ErrNotFound)
		}
		return room.ErrConflict
	}
	r.Version = expected + 1
	return nil
}

func (rr *RoomRepository) List(ctx context.Context) ([]*models.Room, error) {
	rows, err := rr.pool.Query(ctx, `SELECT doc, version FROM rooms ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		r, err := decodeRoom(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (rr *RoomRepository) Delete(ctx context.Context, id string) error {
	tag, err := rr.pool.Exec(ctx, `DELETE FROM rooms WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("room %s: %w", id, room.ErrNotFound)
	}
	return nil
}

func decodeRoom(doc []byte, version int64) (*models.Room, error) {
	var r models.Room
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	r.Version = version
	return &r, nil
}
