// internal/room/store.go
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultMaxAttempts = 5

// Store is the only writer of durable room state. Every accessor is a narrow
// read-modify-write run through Update.
type Store struct {
	repo        Repository
	maxAttempts int
	now         func() time.Time
	logger      *logrus.Logger
	conflicts   ConflictCounter
}

// ConflictCounter is told about updates that ran out of retries.
type ConflictCounter interface {
	StoreConflict()
}

// ReportConflicts registers c for exhausted updates.
func (s *Store) ReportConflicts(c ConflictCounter) {
	s.conflicts = c
}

// NewStore wraps a repository.
func NewStore(repo Repository, logger *logrus.Logger) *Store {
	return &Store{
		repo:        repo,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// Update loads the room, applies fn and saves it with a version check. On a
// version conflict the whole cycle is retried a bounded number of times. If
// fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, roomID string, fn func(*models.Room) error) (*models.Room, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		r, err := s.repo.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		expected := r.Version
		if err := fn(r); err != nil {
			return nil, err
		}
		r.UpdatedAt = s.now()
		err = s.repo.Save(ctx, r, expected)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("save room %s: %w", roomID, err)
		}
		lastErr = err
		s.logger.WithFields(logrus.Fields{"room": roomID, "attempt": attempt}).Debug("room version conflict, retrying")
	}
	if s.conflicts != nil {
		s.conflicts.StoreConflict()
	}
	s.logger.WithField("room", roomID).Warn("room update gave up after repeated conflicts")
	return nil, fmt.Errorf("room %s after %d attempts: %w", roomID, s.maxAttempts, lastErr)
}

// updateGame runs fn against the active game. Finished games are immutable.
func (s *Store) updateGame(ctx context.Context, roomID string, fn func(*models.Room, *models.Game) error) (*models.Room, error) {
	return s.Update(ctx, roomID, func(r *models.Room) error {
		g := r.ActiveGame()
		if g == nil {
			return fmt.Errorf("room %s has no game: %w", roomID, ErrNotFound)
		}
		if g.Result != nil {
			return fmt.Errorf("game %d: %w", g.Number, ErrGameFinished)
		}
		return fn(r, g)
	})
}

// CreateRoom stores a new room, filling in id, timestamps and defaults.
func (s *Store) CreateRoom(ctx context.Context, r *models.Room) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Options.MaxPlayers == 0 {
		r.Options.MaxPlayers = models.DefaultRoomOptions().MaxPlayers
	}
	if r.Options.MaxMafias == 0 {
		r.Options.MaxMafias = models.DefaultRoomOptions().MaxMafias
	}
	if r.PersonalTime == 0 {
		r.PersonalTime = 60
	}
	if r.Games == nil {
		r.Games = []models.Game{}
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// Get loads a room.
func (s *Store) Get(ctx context.Context, roomID string) (*models.Room, error) {
	return s.repo.Get(ctx, roomID)
}

// List returns every room, newest first.
func (s *Store) List(ctx context.Context) ([]*models.Room, error) {
	return s.repo.List(ctx)
}

// Delete removes a room.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	return s.repo.Delete(ctx, roomID)
}

// StartGame appends a new game with the dealt roster. An unfinished previous
// game is closed without winners first.
func (s *Store) StartGame(ctx context.Context, roomID string, players []models.PlayerEntry) (*models.Game, error) {
	var started models.Game
	_, err := s.Update(ctx, roomID, func(r *models.Room) error {
		now := s.now()
		if prev := r.ActiveGame(); prev != nil && prev.Result == nil {
			prev.Result = &models.Result{Value: true, Winners: models.WinnersNone, FinishedAt: &now}
			prev.GameLevel = models.Finished(now)
		}
		number := 1
		if n := len(r.Games); n > 0 {
			number = r.Games[n-1].Number + 1
		}
		started = models.Game{
			ID:        uuid.NewString(),
			Number:    number,
			Players:   models.ClonePlayers(players),
			Days:      []models.Day{},
			Nights:    []models.Night{},
			GameLevel: models.PhaseState{Status: models.StatusInPlay, Level: models.LevelStartPlay},
			CreatedAt: now,
		}
		r.Games = append(r.Games, started)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &started, nil
}

// ActiveGame returns a copy of the room's last game.
func (s *Store) ActiveGame(ctx context.Context, roomID string) (*models.Game, error) {
	r, err := s.repo.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	g := r.ActiveGame()
	if g == nil {
		return nil, fmt.Errorf("room %s has no game: %w", roomID, ErrNotFound)
	}
	return g, nil
}

// SetPhase replaces the active game's phase state.
func (s *Store) SetPhase(ctx context.Context, roomID string, phase models.PhaseState) error {
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		g.GameLevel = phase
		return nil
	})
	return err
}

// SetVoting flags the first day ballot as open.
func (s *Store) SetVoting(ctx context.Context, roomID string, open bool) error {
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		g.GameLevel.Voting = open
		return nil
	})
	return err
}

// SetVoting2 flags the second ballot as open.
func (s *Store) SetVoting2(ctx context.Context, roomID string, open bool) error {
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		g.GameLevel.Voting2 = open
		return nil
	})
	return err
}
