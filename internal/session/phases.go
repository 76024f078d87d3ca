// internal/session/phases.go
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/mafia/internal/game"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/timer"
	"github.com/sirupsen/logrus"
)

type handlerFunc func(m *Manager, ctx context.Context, a *actor, ev Event) error

// handlers is filled in init: several handlers reach Submit, which reaches
// the table again.
var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		EvJoinRoom:     (*Manager).onJoin,
		EvLeaveRoom:    (*Manager).onLeave,
		EvChangeType:   (*Manager).onChangeType,
		EvReadyToStart: (*Manager).onReadyToStart,
		EvStartPlay:    (*Manager).onStartPlay,
		EvConfirmRole:  (*Manager).onConfirmRole,
		EvReconnect:    (*Manager).onReconnect,
		EvDisconnect:   (*Manager).onDisconnect,
		evGraceExpired: (*Manager).onGraceExpired,
		evPhaseExpired: (*Manager).onPhaseExpired,

		EvDealingCardsStart:      (*Manager).onDealingCardsStart,
		EvGettingKnowMafiasStart: (*Manager).onGettingKnowMafiasStart,
		EvSpeechStart:            (*Manager).onSpeechStart,
		EvChangeSpeaker:          (*Manager).onChangeSpeaker,
		EvNightStart:             (*Manager).onNightStart,
		EvCommonStart:            (*Manager).onCommonStart,
		EvLastWordStart:          (*Manager).onLastWordStart,
		EvSkipLastTimer:          (*Manager).onSkipLastTimer,
		EvJustifyStart:           (*Manager).onJustifyStart,
		EvJustify2Start:          (*Manager).onJustify2Start,
		EvSkipNominationSpeech:   (*Manager).onSkipNominationSpeech,
		EvVotingStart:            (*Manager).onVotingStart,
		EvVoting2Start:           (*Manager).onVoting2Start,
		EvPeopleDecideStart:      (*Manager).onPeopleDecideStart,

		EvVoiceToLeave:     (*Manager).onVoiceToLeave,
		EvVoiceToKill:      (*Manager).onVoiceToKill,
		EvExitPlayer:       (*Manager).onExitPlayer,
		EvCreateDay:        (*Manager).onCreateDay,
		EvCreateNight:      (*Manager).onCreateNight,
		EvDoctorAction:     (*Manager).onDoctorAction,
		EvSerialKillerKill: (*Manager).onSerialKillerKill,
		EvFindSherif:       (*Manager).onFindSherif,
		EvFindMafia:        (*Manager).onFindMafia,
		EvLastVote:         (*Manager).onLastVote,
		EvLastVote2:        (*Manager).onLastVote2,
		EvPeopleDecide:     (*Manager).onPeopleDecide,
		EvAfterLeaveData:   (*Manager).onAfterLeaveData,
		EvAddRating:        (*Manager).onAddRating,
	}
}

// startTimer arms the room's single timer. Ticks go straight to the room;
// expiry comes back through the queue as a phaseExpired event.
func (m *Manager) startTimer(a *actor, name string, seconds int) {
	roomID := a.roomID
	a.token = m.timers.Start(roomID, timer.Spec{
		Name:    name,
		Seconds: seconds,
		OnTick: func(remaining int) {
			m.out.ToRoom(roomID, TimerUpdate(name), remaining)
		},
		OnExpire: func(tok timer.Token) {
			ev := Event{Type: evPhaseExpired, RoomID: roomID, token: tok, timer: name}
			if err := m.Submit(m.ctx, ev); err != nil && !errors.Is(err, ErrClosed) {
				m.logger.WithError(err).WithFields(logrus.Fields{"room": roomID, "timer": name}).Warn("failed to queue timer expiry")
			}
		},
	})
}

func (m *Manager) stopTimer(a *actor) {
	m.timers.Stop(a.roomID)
	a.token = 0
}

// enterPhase persists the new phase and arms its timer. Nothing is armed if
// the write fails.
func (m *Manager) enterPhase(ctx context.Context, a *actor, ev Event, phase models.PhaseState, name string, seconds int) error {
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	phase.Status = models.StatusInPlay
	if err := m.store.SetPhase(ctx, a.roomID, phase); err != nil {
		return err
	}
	m.startTimer(a, name, seconds)
	return nil
}

// armOnly starts a timer that leaves the phase untouched.
func (m *Manager) armOnly(ctx context.Context, a *actor, ev Event, name string, seconds int) error {
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return err
	}
	if g.Result != nil {
		return precondition("game %d is finished", g.Number)
	}
	a.gameNumber = g.Number
	m.startTimer(a, name, seconds)
	return nil
}

func (m *Manager) onDealingCardsStart(ctx context.Context, a *actor, ev Event) error {
	return m.armOnly(ctx, a, ev, TimerDealingCards, m.durations.DealingCards)
}

func (m *Manager) onGettingKnowMafiasStart(ctx context.Context, a *actor, ev Event) error {
	return m.armOnly(ctx, a, ev, TimerGettingKnowMafias, m.durations.GettingKnowMafias)
}

func (m *Manager) onSpeechStart(ctx context.Context, a *actor, ev Event) error {
	state, err := decode[models.SpeechState](ev)
	if err != nil {
		return err
	}
	if state.CurrentPlayerToSpeech == nil {
		return precondition("speech without speaker")
	}
	r, err := m.store.Get(ctx, a.roomID)
	if err != nil {
		return err
	}
	seconds := r.PersonalTime
	if seconds <= 0 {
		seconds = m.durations.Speech
	}
	phase := models.PhaseState{Level: models.LevelDay, Data: state}
	if err := m.enterPhase(ctx, a, ev, phase, TimerSpeech, seconds); err != nil {
		return err
	}
	// if the speaker drops, the round moves on without them
	return m.store.SetAfterLeave(ctx, a.roomID, &models.AfterLeave{Value: models.AfterLeaveSpeechToNext, Data: &state})
}

func (m *Manager) onChangeSpeaker(ctx context.Context, a *actor, ev Event) error {
	state, err := decode[models.SpeechState](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return err
	}
	m.stopTimer(a)
	return m.endSpeech(ctx, a, g.Players, state.CurrentPlayerToSpeech, state, g.CurrentDay())
}

// endSpeech closes the current speech turn and announces who speaks next.
func (m *Manager) endSpeech(ctx context.Context, a *actor, players []models.PlayerEntry, current *models.PlayerEntry, state models.SpeechState, day *models.Day) error {
	// an opener who left keeps anchoring the round by seat number
	first := state.FirstSpeecher
	next, end := game.NextSpeaker(players, current, first)

	var after *models.AfterLeave
	if !end && next != nil {
		after = &models.AfterLeave{
			Value: models.AfterLeaveSpeechToNext,
			Data:  &models.SpeechState{GameStage: state.GameStage, CurrentPlayerToSpeech: next, FirstSpeecher: first},
		}
	}
	if err := m.store.SetAfterLeave(ctx, a.roomID, after); err != nil {
		return err
	}

	payload := speechEnd{
		GameStage:          state.GameStage,
		NextPlayerToSpeech: next,
		FirstSpeecher:      first,
		SpeechEnd:          end,
		Players:            players,
		Votes:              models.KillBallot{},
	}
	if day != nil {
		payload.NextDayNumber = day.Number + 1
		payload.Votes = day.Votes
	}
	m.out.ToRoom(a.roomID, TimerEnd(TimerSpeech), payload)
	return nil
}

func (m *Manager) onNightStart(ctx context.Context, a *actor, ev Event) error {
	if err := m.enterPhase(ctx, a, ev, models.PhaseState{Level: models.LevelNight}, TimerNight, m.durations.Night); err != nil {
		return err
	}
	return m.store.SetAfterLeave(ctx, a.roomID, nil)
}

func (m *Manager) onCommonStart(ctx context.Context, a *actor, ev Event) error {
	return m.enterPhase(ctx, a, ev, models.PhaseState{Level: models.LevelCommonTime}, TimerCommon, m.durations.Common)
}

func (m *Manager) onLastWordStart(ctx context.Context, a *actor, ev Event) error {
	state, err := decode[models.LastWordState](ev)
	if err != nil {
		return err
	}
	phase := models.PhaseState{Level: models.LevelLastWord, Data: state}
	return m.enterPhase(ctx, a, ev, phase, TimerLastWord, m.durations.LastWord)
}

func (m *Manager) onSkipLastTimer(ctx context.Context, a *actor, ev Event) error {
	state, err := decode[models.LastWordState](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return err
	}
	m.stopTimer(a)
	m.lastWordEnd(a, g.Players, state)
	return nil
}

func (m *Manager) lastWordEnd(a *actor, players []models.PlayerEntry, state models.LastWordState) {
	m.out.ToRoom(a.roomID, TimerEnd(TimerLastWord), map[string]any{
		"players":   players,
		"gameStage": state.GameStage,
		"nextDeath": state.NextDeath,
		"deaths":    state.Deaths,
	})
}

func (m *Manager) onJustifyStart(ctx context.Context, a *actor, ev Event) error {
	return m.justify(ctx, a, ev, models.SubLevelJustify, TimerJustify, m.durations.Justify)
}

func (m *Manager) onJustify2Start(ctx context.Context, a *actor, ev Event) error {
	return m.justify(ctx, a, ev, models.SubLevelJustify2, TimerJustify2, m.durations.Justify2)
}

func (m *Manager) justify(ctx context.Context, a *actor, ev Event, subLevel, name string, seconds int) error {
	state, err := decode[models.JustifyState](ev)
	if err != nil {
		return err
	}
	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return err
	}
	state.Players = g.Players
	phase := models.PhaseState{Level: models.LevelDay, SubLevel: subLevel, Data: state}
	return m.enterPhase(ctx, a, ev, phase, name, seconds)
}

func (m *Manager) onSkipNominationSpeech(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[nominationPayload](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return err
	}
	m.stopTimer(a)
	name := TimerJustify
	if p.NominationNumber == 2 {
		name = TimerJustify2
	}
	m.justifyEnd(a, name, models.JustifyState{Player: p.Player, List: p.List}, g.Players)
	return nil
}

func (m *Manager) justifyEnd(a *actor, name string, state models.JustifyState, players []models.PlayerEntry) {
	m.out.ToRoom(a.roomID, TimerEnd(name), map[string]any{
		"player":  state.Player,
		"list":    state.List,
		"players": players,
	})
}

func (m *Manager) onVotingStart(ctx context.Context, a *actor, ev Event) error {
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if err := m.store.SetVoting(ctx, a.roomID, true); err != nil {
		return err
	}
	m.startTimer(a, TimerVoting, m.durations.Voting)
	return nil
}

func (m *Manager) onVoting2Start(ctx context.Context, a *actor, ev Event) error {
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if err := m.store.SetVoting2(ctx, a.roomID, true); err != nil {
		return err
	}
	m.startTimer(a, TimerVoting2, m.durations.Voting2)
	return nil
}

func (m *Manager) onPeopleDecideStart(ctx context.Context, a *actor, ev Event) error {
	phase := models.PhaseState{Level: models.LevelDay, SubLevel: models.SubLevelPeopleDecide}
	return m.enterPhase(ctx, a, ev, phase, TimerPeopleDecide, m.durations.PeopleDecide)
}

// onPhaseExpired runs the expiry action of the room's current timer. Expiries
// of timers that were replaced or stopped are dropped.
func (m *Manager) onPhaseExpired(ctx context.Context, a *actor, ev Event) error {
	if ev.token != a.token {
		m.logger.WithFields(logrus.Fields{"room": a.roomID, "timer": ev.timer}).Debug("stale timer expiry dropped")
		return nil
	}
	a.token = 0

	g, err := m.store.ActiveGame(ctx, a.roomID)
	if err != nil {
		return err
	}
	if g.Result != nil {
		return nil
	}

	switch ev.timer {
	case TimerDealingCards:
		players, err := m.store.ConfirmAll(ctx, a.roomID)
		if err != nil {
			return err
		}
		m.out.ToRoom(a.roomID, TimerEnd(ev.timer), playersPayload{Players: players})

	case TimerGettingKnowMafias, TimerCommon:
		m.out.ToRoom(a.roomID, TimerEnd(ev.timer), playersPayload{Players: g.Players})

	case TimerSpeech:
		state, _ := g.GameLevel.Data.(models.SpeechState)
		return m.endSpeech(ctx, a, g.Players, state.CurrentPlayerToSpeech, state, g.CurrentDay())

	case TimerNight:
		r, err := m.store.Get(ctx, a.roomID)
		if err != nil {
			return err
		}
		payload := nightEnd{Players: g.Players, Room: r.Summary(), Votes: models.KillBallot{}}
		if n := g.CurrentNight(); n != nil {
			payload.NextNightNumber = n.Number + 1
			payload.Votes = n.Votes
		}
		m.out.ToRoom(a.roomID, TimerEnd(ev.timer), payload)

	case TimerLastWord:
		state, _ := g.GameLevel.Data.(models.LastWordState)
		m.lastWordEnd(a, g.Players, state)

	case TimerJustify, TimerJustify2:
		state, _ := g.GameLevel.Data.(models.JustifyState)
		m.justifyEnd(a, ev.timer, state, g.Players)

	case TimerVoting, TimerVoting2:
		var ballot []models.Vote
		if d := g.CurrentDay(); d != nil {
			ballot = d.LastVotes
			if ev.timer == TimerVoting2 {
				ballot = d.LastVotes2
			}
		}
		closeBallot := m.store.SetVoting
		if ev.timer == TimerVoting2 {
			closeBallot = m.store.SetVoting2
		}
		if err := closeBallot(ctx, a.roomID, false); err != nil {
			return err
		}
		m.out.ToRoom(a.roomID, TimerEnd(ev.timer), ballotEnd{LastVotes: game.Tally(ballot), Players: g.Players})

	case TimerPeopleDecide:
		var ballot []models.Vote
		if d := g.CurrentDay(); d != nil {
			ballot = d.PeopleDecide
		}
		m.out.ToRoom(a.roomID, TimerEnd(ev.timer), decideEnd{Votes: game.Counts(ballot), Players: g.Players})

	default:
		return fmt.Errorf("no expiry action for timer %q", ev.timer)
	}
	return nil
}
