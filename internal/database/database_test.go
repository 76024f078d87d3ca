package database

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway Postgres and returns a migrated pool.
// Docker is required, so the tests only run with MAFIA_INTEGRATION=1.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("MAFIA_INTEGRATION") != "1" {
		t.Skip("set MAFIA_INTEGRATION=1 to run Postgres integration tests")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mafia"),
		postgres.WithUsername("mafia"),
		postgres.WithPassword("mafia"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(45*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "migrations are idempotent")
	return pool
}

func TestRoomRepositoryVersioning(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	repo := NewRoomRepository(pool)

	r := &models.Room{ID: "room-1", Title: "Evening", FounderID: "u1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, r))
	assert.EqualValues(t, 1, r.Version)

	loaded, err := repo.Get(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "Evening", loaded.Title)

	loaded.Title = "Night"
	require.NoError(t, repo.Save(ctx, loaded, 1))
	assert.EqualValues(t, 2, loaded.Version)

	stale := *loaded
	stale.Title = "Stale"
	err = repo.Save(ctx, &stale, 1)
	assert.ErrorIs(t, err, room.ErrConflict)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, room.ErrNotFound)

	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Night", rooms[0].Title)

	require.NoError(t, repo.Delete(ctx, "room-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "room-1"), room.ErrNotFound)
}

func TestStoreConcurrentVotesOnPostgres(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	store := room.NewStore(NewRoomRepository(pool), logrus.New())

	r := &models.Room{Title: "Race", FounderID: "f"}
	require.NoError(t, store.CreateRoom(ctx, r))
	players := []models.PlayerEntry{{UserID: "a", PlayerNumber: 1}, {UserID: "b", PlayerNumber: 2}, {UserID: "c", PlayerNumber: 3}}
	_, err := store.StartGame(ctx, r.ID, players)
	require.NoError(t, err)
	_, _, err = store.CreateDay(ctx, r.ID, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, len(players))
	for _, p := range players {
		wg.Add(1)
		go func(voter string) {
			defer wg.Done()
			_, err := store.CastDayVote(ctx, r.ID, voter, "a")
			errs <- err
		}(p.UserID)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, room.ErrConflict), "only conflicts may fail: %v", err)
	}

	g, err := store.ActiveGame(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, g.Days[0].Votes, ok, "every acknowledged vote is stored")
}

func TestProfilesAndGameLog(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	profiles := NewProfileRepository(pool)

	p, err := profiles.EnsureProfile(ctx, models.Profile{ID: "u1", Name: "Anna", IsEphemeral: true})
	require.NoError(t, err)
	assert.Equal(t, "Anna", p.Name)

	_, err = profiles.EnsureProfile(ctx, models.Profile{ID: "u1", Name: "Renamed"})
	require.NoError(t, err)
	p, err = profiles.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Anna", p.Name, "existing rows are not overwritten")

	require.NoError(t, profiles.IncrementGamesPlayed(ctx, []string{"u1"}))
	require.NoError(t, profiles.AddRating(ctx, map[string]int{"u1": 3}))
	require.NoError(t, profiles.SetPushToken(ctx, "u1", "ExponentPushToken[x]"))
	p, err = profiles.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalGames)
	assert.Equal(t, 3, p.Rating)

	tokens, err := profiles.PushTokens(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ExponentPushToken[x]"}, tokens)

	_, err = profiles.GetProfile(ctx, "nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	log := NewGameLog(pool)
	now := time.Now().UnixMilli()
	require.NoError(t, log.InsertActions(ctx, []ActionRecord{
		{RoomID: "r", GameNumber: 1, ActionIndex: 1, ActionType: "startPlay", Timestamp: now},
		{RoomID: "r", GameNumber: 1, ActionIndex: 2, ActionType: "voiceToKill", ActionPayload: map[string]any{"victimId": "u1"}, Timestamp: now},
	}))
	n, err := log.ActionCount(ctx, "r", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	changed, err := log.MarkAbandoned(ctx, "r", 1)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = log.MarkAbandoned(ctx, "r", 1)
	require.NoError(t, err)
	assert.False(t, changed)

	status, err := log.GameStatus(ctx, "r", 1)
	require.NoError(t, err)
	assert.Equal(t, "abandoned", status)
}
