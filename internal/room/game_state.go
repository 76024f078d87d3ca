// internal/room/game_state.go
package room

import (
	"context"
	"fmt"
	"sort"

	"github.com/jason-s-yu/mafia/internal/game"
	"github.com/jason-s-yu/mafia/internal/models"
)

// CreateDay appends day number to the active game and picks its opening
// speaker. Creating a day that already exists returns the existing one.
func (s *Store) CreateDay(ctx context.Context, roomID string, number int) (*models.Day, []models.PlayerEntry, error) {
	var day models.Day
	var players []models.PlayerEntry
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		players = models.ClonePlayers(g.Players)
		for _, d := range g.Days {
			if d.Number == number {
				day = d
				return nil
			}
		}
		var previous *models.PlayerEntry
		if cur := g.CurrentDay(); cur != nil {
			previous = cur.FirstPlayerToSpeech
		}
		day = models.Day{
			Number:              number,
			Votes:               models.KillBallot{},
			FirstPlayerToSpeech: game.FirstSpeakerForDay(g.Players, number, previous),
		}
		g.Days = append(g.Days, day)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &day, players, nil
}

// CreateNight appends night number to the active game. Idempotent per number.
func (s *Store) CreateNight(ctx context.Context, roomID string, number int) (*models.Night, error) {
	var night models.Night
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		for _, n := range g.Nights {
			if n.Number == number {
				night = n
				return nil
			}
		}
		night = models.Night{Number: number, Votes: models.KillBallot{}}
		g.Nights = append(g.Nights, night)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &night, nil
}

// ballot selects one of a day's ballots.
type ballot func(*models.Day) *[]models.Vote

func dayVotes(d *models.Day) *[]models.Vote    { return (*[]models.Vote)(&d.Votes) }
func lastVotes(d *models.Day) *[]models.Vote   { return (*[]models.Vote)(&d.LastVotes) }
func lastVotes2(d *models.Day) *[]models.Vote  { return (*[]models.Vote)(&d.LastVotes2) }
func decideVotes(d *models.Day) *[]models.Vote { return (*[]models.Vote)(&d.PeopleDecide) }

func (s *Store) castDay(ctx context.Context, roomID string, pick ballot, voter, target string) ([]models.Vote, error) {
	var out []models.Vote
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		d := g.CurrentDay()
		if d == nil {
			return fmt.Errorf("game %d has no day: %w", g.Number, ErrNotFound)
		}
		b := pick(d)
		*b = game.ApplyVote(*b, voter, target)
		out = append([]models.Vote(nil), *b...)
		return nil
	})
	return out, err
}

// CastDayVote toggles a day nomination vote on the current day.
func (s *Store) CastDayVote(ctx context.Context, roomID, voter, target string) ([]models.Vote, error) {
	return s.castDay(ctx, roomID, dayVotes, voter, target)
}

// CastLastVote records a vote on the first runoff ballot.
func (s *Store) CastLastVote(ctx context.Context, roomID, voter, target string) ([]models.Vote, error) {
	return s.castDay(ctx, roomID, lastVotes, voter, target)
}

// CastLastVote2 records a vote on the second runoff ballot.
func (s *Store) CastLastVote2(ctx context.Context, roomID, voter, target string) ([]models.Vote, error) {
	return s.castDay(ctx, roomID, lastVotes2, voter, target)
}

// CastPeopleDecide records a vote on the tie-break ballot.
func (s *Store) CastPeopleDecide(ctx context.Context, roomID, voter, target string) ([]models.Vote, error) {
	return s.castDay(ctx, roomID, decideVotes, voter, target)
}

// CastNightVote toggles a night kill vote on the current night.
func (s *Store) CastNightVote(ctx context.Context, roomID, voter, target string) ([]models.Vote, error) {
	var out []models.Vote
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		n := g.CurrentNight()
		if n == nil {
			return fmt.Errorf("game %d has no night: %w", g.Number, ErrNotFound)
		}
		n.Votes = game.ApplyVote(n.Votes, voter, target)
		out = append([]models.Vote(nil), n.Votes...)
		return nil
	})
	return out, err
}

// ConfirmRole marks a player's role as seen. It reports whether every player
// has now confirmed.
func (s *Store) ConfirmRole(ctx context.Context, roomID, userID string) ([]models.PlayerEntry, bool, error) {
	var players []models.PlayerEntry
	var all bool
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		all = true
		i := models.FindPlayer(g.Players, userID)
		if i < 0 {
			return fmt.Errorf("player %s: %w", userID, ErrNotFound)
		}
		p := &g.Players[i]
		if p.Role == nil {
			p.Role = &models.Role{}
		}
		if p.Role.Confirm {
			return fmt.Errorf("player %s: %w", userID, ErrAlreadyConfirmed)
		}
		p.Role.Confirm = true
		for _, other := range g.Players {
			if other.Role == nil || !other.Role.Confirm {
				all = false
			}
		}
		players = models.ClonePlayers(g.Players)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return players, all, nil
}

// ConfirmAll force-confirms every role once dealing time runs out.
func (s *Store) ConfirmAll(ctx context.Context, roomID string) ([]models.PlayerEntry, error) {
	var players []models.PlayerEntry
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		for i := range g.Players {
			if g.Players[i].Role == nil {
				g.Players[i].Role = &models.Role{}
			}
			g.Players[i].Role.Confirm = true
		}
		players = models.ClonePlayers(g.Players)
		return nil
	})
	return players, err
}

// MarkDead flags the given players as dead. Death is never cleared.
func (s *Store) MarkDead(ctx context.Context, roomID string, userIDs []string) ([]models.PlayerEntry, error) {
	var players []models.PlayerEntry
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		for _, id := range userIDs {
			if i := models.FindPlayer(g.Players, id); i >= 0 {
				g.Players[i].Death = true
			}
		}
		players = models.ClonePlayers(g.Players)
		return nil
	})
	return players, err
}

// PruneRoster drops a participant who left from the active game's roster.
func (s *Store) PruneRoster(ctx context.Context, roomID, userID string) ([]models.PlayerEntry, error) {
	var players []models.PlayerEntry
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		if i := models.FindPlayer(g.Players, userID); i >= 0 {
			g.Players = append(g.Players[:i], g.Players[i+1:]...)
		}
		players = models.ClonePlayers(g.Players)
		return nil
	})
	return players, err
}

// FinishGame stamps the active game with its result and the Finished phase.
// It returns the finished game, including its rating entries.
func (s *Store) FinishGame(ctx context.Context, roomID string, result models.Result) (*models.Game, error) {
	var finished models.Game
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		now := s.now()
		result.Value = true
		result.FinishedAt = &now
		g.Result = &result
		g.GameLevel = models.Finished(now)
		g.AfterLeaveData = nil
		finished = *g
		finished.Players = models.ClonePlayers(g.Players)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &finished, nil
}

// SetAfterLeave records (or clears, with nil) what to do if a participant
// drops mid-phase.
func (s *Store) SetAfterLeave(ctx context.Context, roomID string, data *models.AfterLeave) error {
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		g.AfterLeaveData = data
		return nil
	})
	return err
}

// DoctorAction sets or clears the current night's saved player.
func (s *Store) DoctorAction(ctx context.Context, roomID string, save bool, playerID string) error {
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		n := g.CurrentNight()
		if n == nil {
			return fmt.Errorf("game %d has no night: %w", g.Number, ErrNotFound)
		}
		if save {
			n.SafePlayer = &models.Mark{Status: true, PlayerID: playerID}
		} else {
			n.SafePlayer = nil
		}
		return nil
	})
	return err
}

// SerialKillerKill toggles the serial killer's mark on the current night.
func (s *Store) SerialKillerKill(ctx context.Context, roomID string, kill bool, playerID string) ([]models.PlayerEntry, error) {
	var players []models.PlayerEntry
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		n := g.CurrentNight()
		if n == nil {
			return fmt.Errorf("game %d has no night: %w", g.Number, ErrNotFound)
		}
		if !game.ToggleSerialKill(g.Players, n, kill, playerID) {
			return fmt.Errorf("serial killer: %w", ErrNotFound)
		}
		players = models.ClonePlayers(g.Players)
		return nil
	})
	return players, err
}

// Investigation kinds.
const (
	CheckSheriff = "findSherif"
	CheckMafia   = "findMafia"
)

// RecordCheck stores a sheriff or don investigation on the current night.
func (s *Store) RecordCheck(ctx context.Context, roomID, kind string, check models.RoleCheck) error {
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		n := g.CurrentNight()
		if n == nil {
			return fmt.Errorf("game %d has no night: %w", g.Number, ErrNotFound)
		}
		c := check
		switch kind {
		case CheckSheriff:
			n.FindSherif = &c
		case CheckMafia:
			n.FindMafia = &c
		default:
			return fmt.Errorf("unknown check %q", kind)
		}
		return nil
	})
	return err
}

// RatingCancel is the scenario that withdraws an award without replacing it.
const RatingCancel = "Cancel"

// AddRating appends a rating entry to the active game. RemoveOld first drops
// the matching award for the same stage.
func (s *Store) AddRating(ctx context.Context, roomID string, entry models.RatingEntry) ([]models.RatingEntry, error) {
	var out []models.RatingEntry
	_, err := s.updateGame(ctx, roomID, func(_ *models.Room, g *models.Game) error {
		if entry.RemoveOld {
			for i, r := range g.Rating {
				if r.UserID == entry.UserID && r.GameStage == entry.GameStage && r.StageNumber == entry.StageNumber {
					g.Rating = append(g.Rating[:i], g.Rating[i+1:]...)
					break
				}
			}
		}
		if entry.Scenario != RatingCancel {
			g.Rating = append(g.Rating, entry)
		}
		out = append([]models.RatingEntry(nil), g.Rating...)
		return nil
	})
	return out, err
}

// LogsPageSize is the number of games per logs page.
const LogsPageSize = 15

// Logs pages through a room's games, newest first. Pages start at 1.
func (s *Store) Logs(ctx context.Context, roomID string, page int) ([]models.Game, int, error) {
	r, err := s.repo.Get(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	games := append([]models.Game(nil), r.Games...)
	sort.Slice(games, func(i, j int) bool { return games[i].Number > games[j].Number })

	start := (page - 1) * LogsPageSize
	if start >= len(games) {
		return []models.Game{}, len(r.Games), nil
	}
	end := start + LogsPageSize
	if end > len(games) {
		end = len(games)
	}
	return games[start:end], len(r.Games), nil
}

// Period kinds for Periods.
const (
	PeriodDays   = "Days"
	PeriodNights = "Nights"
)

// Periods returns the days (or nights) of game number n.
func (s *Store) Periods(ctx context.Context, roomID string, n int, period string) (any, error) {
	r, err := s.repo.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, g := range r.Games {
		if g.Number != n {
			continue
		}
		if period == PeriodNights {
			return g.Nights, nil
		}
		return g.Days, nil
	}
	return nil, fmt.Errorf("game %d: %w", n, ErrNotFound)
}

// CloseRoom ends the active game without winners, keeping only players still
// present in the roster. Rooms without a running game are left unchanged.
func (s *Store) CloseRoom(ctx context.Context, roomID string, keep []string) (*models.Room, error) {
	return s.Update(ctx, roomID, func(r *models.Room) error {
		g := r.ActiveGame()
		if g == nil || g.Result != nil {
			return nil
		}
		now := s.now()
		present := make(map[string]bool, len(keep))
		for _, id := range keep {
			present[id] = true
		}
		kept := g.Players[:0]
		for _, p := range g.Players {
			if present[p.UserID] {
				kept = append(kept, p)
			}
		}
		g.Players = kept
		g.Result = &models.Result{Value: true, Winners: models.WinnersNone, FinishedAt: &now}
		g.GameLevel = models.Finished(now)
		g.AfterLeaveData = nil
		return nil
	})
}
