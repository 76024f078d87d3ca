package room

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T) (*Store, *models.Room) {
	t.Helper()
	s := NewStore(NewMemoryRepository(), testLogger())
	r := &models.Room{Title: "test", FounderID: "founder"}
	require.NoError(t, s.CreateRoom(context.Background(), r))
	return s, r
}

func threePlayers() []models.PlayerEntry {
	return []models.PlayerEntry{
		{UserID: "a", PlayerNumber: 1, Role: &models.Role{Value: models.RoleMafia}},
		{UserID: "b", PlayerNumber: 2, Role: &models.Role{Value: models.RoleCitizen}},
		{UserID: "c", PlayerNumber: 3, Role: &models.Role{Value: models.RoleSerialKiller}},
	}
}

func TestCreateRoomDefaults(t *testing.T) {
	s, r := newTestStore(t)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 16, r.Options.MaxPlayers)
	assert.Equal(t, 5, r.Options.MaxMafias)
	assert.Equal(t, 60, r.PersonalTime)

	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartGameNumbersIncrease(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()

	g1, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)
	assert.Equal(t, 1, g1.Number)
	assert.Equal(t, models.LevelStartPlay, g1.GameLevel.Level)

	g2, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)
	assert.Equal(t, 2, g2.Number)

	room, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, room.Games, 2)
	require.NotNil(t, room.Games[0].Result, "unfinished game is closed")
	assert.Equal(t, models.WinnersNone, room.Games[0].Result.Winners)
	assert.Nil(t, room.Games[1].Result)
}

func TestFinishedGameIsImmutable(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)

	_, err = s.FinishGame(ctx, r.ID, models.Result{Winners: models.WinnersMafia})
	require.NoError(t, err)

	_, err = s.MarkDead(ctx, r.ID, []string{"a"})
	assert.ErrorIs(t, err, ErrGameFinished)
	err = s.SetPhase(ctx, r.ID, models.PhaseState{Status: models.StatusInPlay, Level: models.LevelNight})
	assert.ErrorIs(t, err, ErrGameFinished)

	g, err := s.ActiveGame(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, g.GameLevel.Status)
	assert.NotNil(t, g.Result.FinishedAt)
}

func TestNoGameIsNotFound(t *testing.T) {
	s, r := newTestStore(t)
	_, err := s.ActiveGame(context.Background(), r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CastDayVote(context.Background(), r.ID, "a", "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDaysAndBallots(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)

	_, err = s.CastDayVote(ctx, r.ID, "a", "b")
	assert.ErrorIs(t, err, ErrNotFound, "no day yet")

	day, _, err := s.CreateDay(ctx, r.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, day.FirstPlayerToSpeech)
	assert.Equal(t, "a", day.FirstPlayerToSpeech.UserID)

	again, _, err := s.CreateDay(ctx, r.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, day.Number, again.Number)

	votes, err := s.CastDayVote(ctx, r.ID, "a", "b")
	require.NoError(t, err)
	assert.Len(t, votes, 1)
	votes, err = s.CastDayVote(ctx, r.ID, "a", "b")
	require.NoError(t, err)
	assert.Empty(t, votes)

	_, err = s.CastLastVote(ctx, r.ID, "b", "c")
	require.NoError(t, err)
	_, err = s.CastLastVote2(ctx, r.ID, "b", "a")
	require.NoError(t, err)
	decide, err := s.CastPeopleDecide(ctx, r.ID, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, []models.Vote{{Voter: "c", Target: "a"}}, decide)

	day2, _, err := s.CreateDay(ctx, r.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "b", day2.FirstPlayerToSpeech.UserID)

	g, err := s.ActiveGame(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, g.Days, 2)
	want := models.RunoffBallot{{Voter: "b", Target: "c"}}
	if diff := cmp.Diff(want, g.Days[0].LastVotes); diff != "" {
		t.Errorf("lastVotes mismatch (-want +got):\n%s", diff)
	}
}

func TestNightActions(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)

	require.ErrorIs(t, s.DoctorAction(ctx, r.ID, true, "b"), ErrNotFound)

	_, err = s.CreateNight(ctx, r.ID, 1)
	require.NoError(t, err)
	_, err = s.CreateNight(ctx, r.ID, 1)
	require.NoError(t, err)

	votes, err := s.CastNightVote(ctx, r.ID, "a", "b")
	require.NoError(t, err)
	assert.Len(t, votes, 1)

	require.NoError(t, s.DoctorAction(ctx, r.ID, true, "b"))
	players, err := s.SerialKillerKill(ctx, r.ID, true, "a")
	require.NoError(t, err)
	require.NotNil(t, players[2].Role.TotalKills)
	assert.Equal(t, -1, *players[2].Role.TotalKills, "no allowance configured")

	require.NoError(t, s.RecordCheck(ctx, r.ID, CheckSheriff, models.RoleCheck{PlayerID: "a", Result: true}))
	require.NoError(t, s.RecordCheck(ctx, r.ID, CheckMafia, models.RoleCheck{PlayerID: "c"}))
	assert.Error(t, s.RecordCheck(ctx, r.ID, "bogus", models.RoleCheck{}))

	g, err := s.ActiveGame(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, g.Nights, 1)
	n := g.Nights[0]
	assert.Equal(t, "b", n.SafePlayer.PlayerID)
	assert.Equal(t, "a", n.KilledBySerialKiller.PlayerID)
	assert.True(t, n.FindSherif.Result)
	assert.Equal(t, "c", n.FindMafia.PlayerID)

	require.NoError(t, s.DoctorAction(ctx, r.ID, false, ""))
	g, err = s.ActiveGame(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, g.Nights[0].SafePlayer)
}

func TestConfirmRole(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers()[:2])
	require.NoError(t, err)

	_, all, err := s.ConfirmRole(ctx, r.ID, "a")
	require.NoError(t, err)
	assert.False(t, all)

	_, _, err = s.ConfirmRole(ctx, r.ID, "a")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)

	_, _, err = s.ConfirmRole(ctx, r.ID, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)

	players, all, err := s.ConfirmRole(ctx, r.ID, "b")
	require.NoError(t, err)
	assert.True(t, all)
	assert.True(t, players[1].Role.Confirm)
}

func TestRosterChanges(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)

	players, err := s.MarkDead(ctx, r.ID, []string{"b", "unknown"})
	require.NoError(t, err)
	assert.True(t, players[1].Death)

	players, err = s.PruneRoster(ctx, r.ID, "c")
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "b", players[1].UserID)
	assert.True(t, players[1].Death)
}

func TestRatingsAndLogs(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)

	_, err = s.AddRating(ctx, r.ID, models.RatingEntry{UserID: "a", Points: 3, GameStage: "Day", StageNumber: 1})
	require.NoError(t, err)
	rating, err := s.AddRating(ctx, r.ID, models.RatingEntry{UserID: "a", Points: 5, GameStage: "Day", StageNumber: 1, RemoveOld: true})
	require.NoError(t, err)
	require.Len(t, rating, 1)
	assert.Equal(t, 5, rating[0].Points)

	rating, err = s.AddRating(ctx, r.ID, models.RatingEntry{UserID: "a", GameStage: "Day", StageNumber: 1, RemoveOld: true, Scenario: RatingCancel})
	require.NoError(t, err)
	assert.Empty(t, rating)

	for i := 0; i < 16; i++ {
		_, err = s.StartGame(ctx, r.ID, threePlayers())
		require.NoError(t, err)
	}
	page1, total, err := s.Logs(ctx, r.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 17, total)
	require.Len(t, page1, LogsPageSize)
	assert.Equal(t, 17, page1[0].Number)

	page2, _, err := s.Logs(ctx, r.ID, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, 1, page2[1].Number)

	page9, _, err := s.Logs(ctx, r.ID, 9)
	require.NoError(t, err)
	assert.Empty(t, page9)

	_, err = s.CreateNight(ctx, r.ID, 1)
	require.NoError(t, err)
	nights, err := s.Periods(ctx, r.ID, 17, PeriodNights)
	require.NoError(t, err)
	assert.Len(t, nights, 1)
	_, err = s.Periods(ctx, r.ID, 99, PeriodDays)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseRoom(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)

	room, err := s.CloseRoom(ctx, r.ID, []string{"a", "c"})
	require.NoError(t, err)
	g := room.ActiveGame()
	require.NotNil(t, g.Result)
	assert.Equal(t, models.WinnersNone, g.Result.Winners)
	assert.Len(t, g.Players, 2)
	assert.Equal(t, models.StageFinished, g.GameLevel.Stage())
}

// conflictingRepo makes the first n saves lose a race.
type conflictingRepo struct {
	*MemoryRepository
	mu       sync.Mutex
	failures int
	saves    int
}

func (c *conflictingRepo) Save(ctx context.Context, r *models.Room, expected int64) error {
	c.mu.Lock()
	c.saves++
	fail := c.failures > 0
	if fail {
		c.failures--
	}
	c.mu.Unlock()
	if fail {
		return ErrConflict
	}
	return c.MemoryRepository.Save(ctx, r, expected)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: NewMemoryRepository(), failures: 2}
	s := NewStore(repo, testLogger())
	r := &models.Room{Title: "retry"}
	require.NoError(t, s.CreateRoom(context.Background(), r))

	calls := 0
	_, err := s.Update(context.Background(), r.ID, func(room *models.Room) error {
		calls++
		room.Title = "renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
}

type conflictTally int

func (c *conflictTally) StoreConflict() { *c++ }

func TestUpdateGivesUpAfterMaxAttempts(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: NewMemoryRepository(), failures: 100}
	s := NewStore(repo, testLogger())
	var tally conflictTally
	s.ReportConflicts(&tally)
	r := &models.Room{Title: "retry"}
	require.NoError(t, s.CreateRoom(context.Background(), r))

	_, err := s.Update(context.Background(), r.ID, func(*models.Room) error { return nil })
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, defaultMaxAttempts, repo.saves)
	assert.Equal(t, conflictTally(1), tally)
}

func TestUpdateCallbackErrorSkipsWrite(t *testing.T) {
	s, r := newTestStore(t)
	boom := errors.New("boom")
	_, err := s.Update(context.Background(), r.ID, func(room *models.Room) error {
		room.Title = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "test", got.Title)
	assert.Equal(t, int64(1), got.Version)
}

func TestConcurrentVotesAreNotLost(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	_, err := s.StartGame(ctx, r.ID, threePlayers())
	require.NoError(t, err)
	_, _, err = s.CreateDay(ctx, r.ID, 1)
	require.NoError(t, err)

	s.maxAttempts = 100
	voters := []string{"v1", "v2", "v3", "v4", "v5", "v6"}
	var wg sync.WaitGroup
	for _, v := range voters {
		wg.Add(1)
		go func(voter string) {
			defer wg.Done()
			_, err := s.CastDayVote(ctx, r.ID, voter, "a")
			assert.NoError(t, err)
		}(v)
	}
	wg.Wait()

	g, err := s.ActiveGame(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, g.Days[0].Votes, len(voters))
}

func TestPhaseStateRoundTripsThroughRepository(t *testing.T) {
	s, r := newTestStore(t)
	ctx := context.Background()
	players := threePlayers()
	_, err := s.StartGame(ctx, r.ID, players)
	require.NoError(t, err)

	phase := models.PhaseState{
		Status:   models.StatusInPlay,
		Level:    models.LevelDay,
		SubLevel: models.SubLevelJustify2,
		Data:     models.JustifyState{Player: &players[1], NominationNumber: 2},
	}
	require.NoError(t, s.SetPhase(ctx, r.ID, phase))
	require.NoError(t, s.SetVoting2(ctx, r.ID, true))

	g, err := s.ActiveGame(ctx, r.ID)
	require.NoError(t, err)
	data, ok := g.GameLevel.Data.(models.JustifyState)
	require.True(t, ok, "got %T", g.GameLevel.Data)
	assert.Equal(t, 2, data.NominationNumber)
	assert.Equal(t, "b", data.Player.UserID)
	assert.True(t, g.GameLevel.Voting2)
	assert.Equal(t, models.StageDay, g.GameLevel.Stage())
}
