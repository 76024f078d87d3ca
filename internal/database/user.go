package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/mafia/internal/models"
)

// ErrProfileNotFound is returned when no profile row matches.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository reads and bumps player profiles.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository wraps pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (pr *ProfileRepository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	q := `
	SELECT id, name, cover, is_admin, is_ephemeral, total_games, rating, push_token
	FROM profiles
	WHERE id=$1
	`
	err := pr.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.Name, &p.Cover, &p.Admin, &p.IsEphemeral,
		&p.TotalGames, &p.Rating, &p.PushToken,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select profile %s: %w", id, err)
	}
	return &p, nil
}

// EnsureProfile inserts p if no row exists yet and returns the stored row.
// Existing names and covers are left alone.
func (pr *ProfileRepository) EnsureProfile(ctx context.Context, p models.Profile) (*models.Profile, error) {
	q := `
	INSERT INTO profiles (id, name, cover, is_admin, is_ephemeral)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
	`
	if _, err := pr.pool.Exec(ctx, q, p.ID, p.Name, p.Cover, p.Admin, p.IsEphemeral); err != nil {
		return nil, fmt.Errorf("ensure profile %s: %w", p.ID, err)
	}
	return pr.GetProfile(ctx, p.ID)
}

// IncrementGamesPlayed bumps total_games for every id in one transaction.
func (pr *ProfileRepository) IncrementGamesPlayed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, pr.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE profiles SET total_games = total_games + 1 WHERE id = ANY($1)`, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("increment games played: %w", err)
	}
	return nil
}

// AddRating applies per-player rating deltas in one transaction.
func (pr *ProfileRepository) AddRating(ctx context.Context, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, pr.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for id, d := range deltas {
			batch.Queue(`UPDATE profiles SET rating = rating + $2 WHERE id=$1`, id, d)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("add rating: %w", err)
	}
	return nil
}

// SetPushToken stores the device token used for push notifications.
func (pr *ProfileRepository) SetPushToken(ctx context.Context, id, token string) error {
	tag, err := pr.pool.Exec(ctx, `UPDATE profiles SET push_token=$2 WHERE id=$1`, id, token)
	if err != nil {
		return fmt.Errorf("set push token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrProfileNotFound)
	}
	return nil
}

// PushTokens returns the non-empty device tokens for ids.
func (pr *ProfileRepository) PushTokens(ctx context.Context, ids []string) ([]string, error) {
	rows, err := pr.pool.Query(ctx, `SELECT push_token FROM profiles WHERE id = ANY($1) AND push_token <> ''`, ids)
	if err != nil {
		return nil, fmt.Errorf("select push tokens: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
