// internal/session/play.go
package session

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/mafia/internal/game"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/presence"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/sirupsen/logrus"
)

func (m *Manager) onStartPlay(ctx context.Context, a *actor, ev Event) error {
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	r, err := m.store.Get(ctx, a.roomID)
	if err != nil {
		return err
	}
	if r.FounderID != ev.Sender.ID {
		return precondition("only the founder can start the game")
	}
	if r.InPlay() {
		return precondition("game %d is still running", r.ActiveGame().Number)
	}

	var seats []game.Seat
	for _, p := range presence.Players(m.presence.ListByRoom(a.roomID)) {
		if p.ReadyToStart {
			seats = append(seats, game.Seat{UserID: p.ParticipantID, UserName: p.DisplayName, UserCover: p.Cover})
		}
	}
	if len(seats) != r.Options.MaxPlayers {
		return precondition("%d of %d players ready", len(seats), r.Options.MaxPlayers)
	}

	roles := game.ExpandRoles(r.Roles, r.Options)
	m.rngMu.Lock()
	game.Shuffle(roles, m.rng)
	m.rngMu.Unlock()
	roster, err := game.AssignRoles(seats, roles)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}

	g, err := m.store.StartGame(ctx, a.roomID, roster)
	if err != nil {
		return err
	}
	a.gameNumber = g.Number
	m.logger.WithFields(logrus.Fields{"room": a.roomID, "game": g.Number, "players": len(roster)}).Info("game started")

	users := m.presence.ListByRoom(a.roomID)
	m.out.ToRoom(a.roomID, EvGameStarted, playersPayload{Players: g.Players})
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{RoomID: a.roomID, UsersInRoom: users, GameLevel: &g.GameLevel})

	if m.notifier != nil {
		ids := make([]string, len(roster))
		for i, p := range roster {
			ids[i] = p.UserID
		}
		m.notifier.Notify(ids, "Game started", r.Title, map[string]any{"roomId": a.roomID})
	}
	return nil
}

func (m *Manager) onConfirmRole(ctx context.Context, a *actor, ev Event) error {
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	players, all, err := m.store.ConfirmRole(ctx, a.roomID, ev.Sender.ID)
	if err != nil {
		return err
	}
	m.out.ToRoom(a.roomID, EvUpdatePlayers, players)

	if !all {
		m.out.ToConnection(ev.ConnectionID, EvRoleConfirmed, roleConfirmed{
			Value:   waitingForConfirmations,
			Options: []string{},
			Players: players,
		})
		return nil
	}
	if name, _, ok := m.timers.Remaining(a.roomID); ok && name == TimerDealingCards {
		m.stopTimer(a)
	}
	m.out.ToRoom(a.roomID, EvRoleConfirmed, roleConfirmed{
		Value:   allRolesConfirmed,
		Options: []string{},
		Players: players,
	})
	return nil
}

// alive returns the sender's roster entry in the running game. Dead players
// and spectators cannot act.
func (m *Manager) alive(ctx context.Context, a *actor, ev Event) (*models.Game, error) {
	if _, err := m.member(a, ev); err != nil {
		return nil, err
	}
	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return nil, err
	}
	if g.Result != nil {
		return nil, fmt.Errorf("game %d: %w", g.Number, room.ErrGameFinished)
	}
	a.gameNumber = g.Number
	i := models.FindPlayer(g.Players, ev.Sender.ID)
	if i < 0 || g.Players[i].Death {
		return nil, precondition("%s is not an alive player", ev.Sender.ID)
	}
	return g, nil
}

// acting is alive plus a check that the sender was dealt a role able to
// take the night action.
func (m *Manager) acting(ctx context.Context, a *actor, ev Event, action string, can func(*models.Role) bool) (*models.Game, error) {
	g, err := m.alive(ctx, a, ev)
	if err != nil {
		return nil, err
	}
	if i := models.FindPlayer(g.Players, ev.Sender.ID); !can(g.Players[i].Role) {
		return nil, precondition("%s cannot %s", ev.Sender.ID, action)
	}
	return g, nil
}

func hasRole(kind string) func(*models.Role) bool {
	return func(r *models.Role) bool { return r.Has(kind) }
}

func validTarget(g *models.Game, target string) error {
	if target == "" {
		return nil
	}
	if i := models.FindPlayer(g.Players, target); i < 0 || g.Players[i].Death {
		return precondition("%s is not an alive player", target)
	}
	return nil
}

func (m *Manager) onVoiceToLeave(ctx context.Context, a *actor, ev Event) error {
	return m.castVote(ctx, a, ev, false)
}

func (m *Manager) onVoiceToKill(ctx context.Context, a *actor, ev Event) error {
	return m.castVote(ctx, a, ev, true)
}

// castVote records a day nomination or a night kill vote, then pushes the
// refreshed room to everyone in it.
func (m *Manager) castVote(ctx context.Context, a *actor, ev Event, night bool) error {
	p, err := decode[votePayload](ev)
	if err != nil {
		return err
	}
	g, err := m.alive(ctx, a, ev)
	if err != nil {
		return err
	}
	target := p.target()
	if err := validTarget(g, target); err != nil {
		return err
	}
	if night {
		if !g.Players[models.FindPlayer(g.Players, ev.Sender.ID)].Role.IsMafia() {
			return precondition("only mafia vote at night")
		}
		_, err = m.store.CastNightVote(ctx, a.roomID, ev.Sender.ID, target)
	} else {
		_, err = m.store.CastDayVote(ctx, a.roomID, ev.Sender.ID, target)
	}
	if err != nil {
		return err
	}

	r, err := m.store.Get(ctx, a.roomID)
	if err != nil {
		return err
	}
	s := r.Summary()
	s.LiveMembers = m.presence.ListByRoom(a.roomID)
	m.out.ToRoom(a.roomID, EvUpdateRoom, map[string]any{"room": s})
	return nil
}

func (m *Manager) onLastVote(ctx context.Context, a *actor, ev Event) error {
	return m.runoff(ctx, a, ev, m.store.CastLastVote, EvLastVotes)
}

func (m *Manager) onLastVote2(ctx context.Context, a *actor, ev Event) error {
	return m.runoff(ctx, a, ev, m.store.CastLastVote2, EvLastVotes)
}

func (m *Manager) onPeopleDecide(ctx context.Context, a *actor, ev Event) error {
	return m.runoff(ctx, a, ev, m.store.CastPeopleDecide, EvDecideVotes)
}

type castFunc func(ctx context.Context, roomID, voter, target string) ([]models.Vote, error)

func (m *Manager) runoff(ctx context.Context, a *actor, ev Event, cast castFunc, out string) error {
	p, err := decode[votePayload](ev)
	if err != nil {
		return err
	}
	g, err := m.alive(ctx, a, ev)
	if err != nil {
		return err
	}
	if err := validTarget(g, p.target()); err != nil {
		return err
	}
	votes, err := cast(ctx, a.roomID, ev.Sender.ID, p.target())
	if err != nil {
		return err
	}
	m.out.ToRoom(a.roomID, out, map[string]any{"votes": models.RunoffBallot(votes)})
	return nil
}

func (m *Manager) onExitPlayer(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[exitPayload](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if len(p.ExitPlayers) == 0 {
		return precondition("no players to remove")
	}
	ids := make([]string, len(p.ExitPlayers))
	for i, x := range p.ExitPlayers {
		ids[i] = x.UserID
	}
	players, err := m.store.MarkDead(ctx, a.roomID, ids)
	if err != nil {
		return err
	}

	after := "After Night"
	if p.After == "Day" {
		after = "After Day"
	}
	res := exitResult{
		ExitPlayers:     p.ExitPlayers,
		Players:         players,
		NextDayNumber:   p.NextDayNumber,
		NextNightNumber: p.NextNightNumber,
		After:           after,
	}
	outcome := game.Evaluate(players)
	if outcome.Over {
		res.GameOver = &outcome
	}
	m.out.ToRoom(a.roomID, EvExitPlayers, res)
	if outcome.Over {
		return m.finishGame(ctx, a, outcome.Winners)
	}
	return nil
}

// finishGame records the winners, settles ratings onto profiles and tells
// the room and the lobby listing.
func (m *Manager) finishGame(ctx context.Context, a *actor, winners string) error {
	m.stopTimer(a)
	finished, err := m.store.FinishGame(ctx, a.roomID, models.Result{Winners: winners})
	if err != nil {
		return err
	}
	a.gameNumber = finished.Number

	for _, u := range presence.Players(m.presence.ListByRoom(a.roomID)) {
		m.presence.Update(u.ParticipantID, func(e *presence.Entry) { e.ReadyToStart = false })
	}
	users := m.presence.ListByRoom(a.roomID)

	m.settle(ctx, finished)
	if m.observer != nil {
		m.observer.GameFinished(winners)
	}
	m.logger.WithFields(logrus.Fields{"room": a.roomID, "game": finished.Number, "winners": winners}).Info("game finished")

	m.out.ToRoom(a.roomID, EvGameOver, gameOver{Winners: winners, Players: finished.Players, UsersInRoom: users})
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{RoomID: a.roomID, UsersInRoom: users, GameLevel: &finished.GameLevel})
	return nil
}

// settle adds each participant's rating points and one played game to their
// profile. Failures are logged; the game result stands either way.
func (m *Manager) settle(ctx context.Context, g *models.Game) {
	if m.profiles == nil {
		return
	}
	ids := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		ids = append(ids, p.UserID)
	}
	if err := m.profiles.IncrementGamesPlayed(ctx, ids); err != nil {
		m.logger.WithError(err).WithField("game", g.ID).Warn("failed to count played games")
	}

	deltas := make(map[string]int)
	for _, r := range g.Rating {
		if r.UserID != "" && r.Points != 0 {
			deltas[r.UserID] += r.Points
		}
	}
	if len(deltas) == 0 {
		return
	}
	if err := m.profiles.AddRating(ctx, deltas); err != nil {
		m.logger.WithError(err).WithField("game", g.ID).Warn("failed to add rating")
	}
}

func (m *Manager) onCreateDay(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[numberPayload](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if p.Number < 1 {
		return precondition("day number %d", p.Number)
	}
	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return err
	}
	if p.Number == 1 {
		for _, pl := range g.Players {
			if pl.Role == nil || !pl.Role.Confirm {
				return precondition("%s has not confirmed their role", pl.UserID)
			}
		}
	}
	day, players, err := m.store.CreateDay(ctx, a.roomID, p.Number)
	if err != nil {
		return err
	}
	m.out.ToRoom(a.roomID, EvFirstPlayerToSpeech, map[string]any{
		"player":  day.FirstPlayerToSpeech,
		"players": players,
	})
	return nil
}

func (m *Manager) onCreateNight(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[numberPayload](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if p.Number < 1 {
		return precondition("night number %d", p.Number)
	}
	_, err = m.store.CreateNight(ctx, a.roomID, p.Number)
	return err
}

func (m *Manager) onDoctorAction(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[nightActionPayload](ev)
	if err != nil {
		return err
	}
	g, err := m.acting(ctx, a, ev, EvDoctorAction, hasRole(models.RoleDoctor))
	if err != nil {
		return err
	}
	if err := validTarget(g, p.PlayerID); err != nil {
		return err
	}
	return m.store.DoctorAction(ctx, a.roomID, p.SafePlayer, p.PlayerID)
}

func (m *Manager) onSerialKillerKill(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[nightActionPayload](ev)
	if err != nil {
		return err
	}
	g, err := m.acting(ctx, a, ev, EvSerialKillerKill, hasRole(models.RoleSerialKiller))
	if err != nil {
		return err
	}
	if err := validTarget(g, p.PlayerID); err != nil {
		return err
	}
	players, err := m.store.SerialKillerKill(ctx, a.roomID, p.Value, p.PlayerID)
	if err != nil {
		return err
	}
	m.out.ToConnection(ev.ConnectionID, EvUpdatePlayers, players)
	return nil
}

// The don hunts the sheriff and the sheriff hunts the mafia.
func (m *Manager) onFindSherif(ctx context.Context, a *actor, ev Event) error {
	return m.check(ctx, a, ev, room.CheckSheriff, (*models.Role).IsDon)
}

func (m *Manager) onFindMafia(ctx context.Context, a *actor, ev Event) error {
	return m.check(ctx, a, ev, room.CheckMafia, hasRole(models.RoleSheriff))
}

func (m *Manager) check(ctx context.Context, a *actor, ev Event, kind string, can func(*models.Role) bool) error {
	c, err := decode[models.RoleCheck](ev)
	if err != nil {
		return err
	}
	g, err := m.acting(ctx, a, ev, kind, can)
	if err != nil {
		return err
	}
	if err := validTarget(g, c.PlayerID); err != nil {
		return err
	}
	c.CheckedBy = ev.Sender.ID
	return m.store.RecordCheck(ctx, a.roomID, kind, c)
}

func (m *Manager) onAfterLeaveData(ctx context.Context, a *actor, ev Event) error {
	al, err := decode[models.AfterLeave](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if al.Value == "" {
		return m.store.SetAfterLeave(ctx, a.roomID, nil)
	}
	return m.store.SetAfterLeave(ctx, a.roomID, &al)
}

func (m *Manager) onAddRating(ctx context.Context, a *actor, ev Event) error {
	entry, err := decode[models.RatingEntry](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if entry.UserID == "" {
		return precondition("rating without user")
	}
	rating, err := m.store.AddRating(ctx, a.roomID, entry)
	if err != nil {
		return err
	}
	m.out.ToRoom(a.roomID, EvUpdateRating, map[string]any{"rating": rating})
	return nil
}
