// internal/session/membership.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/game"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/presence"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/sirupsen/logrus"
)

// track remembers the number of the room's active game for the action log.
func (a *actor) track(r *models.Room) {
	if g := r.ActiveGame(); g != nil {
		a.gameNumber = g.Number
	}
}

// member returns the sender's presence entry, which must sit in this room.
func (m *Manager) member(a *actor, ev Event) (presence.Entry, error) {
	entry, ok := m.presence.Get(ev.Sender.ID)
	if !ok || entry.RoomID != a.roomID {
		return presence.Entry{}, precondition("%s is not in room %s", ev.Sender.ID, a.roomID)
	}
	return entry, nil
}

func validRole(role string) bool {
	switch role {
	case presence.RolePlayer, presence.RoleSpectator, presence.RoleModerator:
		return true
	}
	return false
}

func (m *Manager) onJoin(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[joinPayload](ev)
	if err != nil {
		return err
	}
	if ev.ConnectionID == "" {
		return precondition("joinRoom needs a live connection")
	}
	if p.Type == "" {
		p.Type = presence.RolePlayer
	}
	if !validRole(p.Type) {
		return precondition("unknown participant type %q", p.Type)
	}

	r, err := m.store.Get(ctx, a.roomID)
	if err != nil {
		return err
	}
	a.track(r)

	if cur, ok := m.presence.Get(ev.Sender.ID); ok && cur.RoomID != "" && cur.RoomID != a.roomID {
		return precondition("already in room %s", cur.RoomID)
	}
	if r.Private.Value && r.FounderID != ev.Sender.ID {
		ok, err := auth.VerifyRoomCode(p.Code, r.Private.CodeHash)
		if err != nil {
			return fmt.Errorf("verify code for room %s: %w", r.ID, err)
		}
		if !ok {
			return precondition("wrong room code")
		}
	}

	users := m.presence.ListByRoom(a.roomID)
	if p.Type == presence.RolePlayer {
		if r.InPlay() {
			// mid-game joiners watch unless they hold a seat in the roster
			if models.FindPlayer(r.ActiveGame().Players, ev.Sender.ID) < 0 {
				p.Type = presence.RoleSpectator
			}
		} else if seated(users, ev.Sender.ID) >= r.Options.MaxPlayers {
			p.Type = presence.RoleSpectator
		}
	}

	entry := m.presence.JoinRoom(presence.Entry{
		ParticipantID: ev.Sender.ID,
		ConnectionID:  ev.ConnectionID,
		RoomID:        a.roomID,
		RoomName:      r.Title,
		DisplayName:   ev.Sender.Name,
		Cover:         ev.Sender.Cover,
		Admin:         ev.Sender.Admin,
		Role:          p.Type,
	})
	m.out.JoinGroup(ev.ConnectionID, a.roomID)
	users = m.presence.ListByRoom(a.roomID)

	m.out.ToConnection(ev.ConnectionID, EvAllUsers, allUsers{UsersInRoom: users})
	m.out.ToRoomExcept(a.roomID, ev.ConnectionID, EvUserJoined, map[string]string{
		"userId":   entry.ParticipantID,
		"socketId": entry.ConnectionID,
	})
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{RoomID: a.roomID, UsersInRoom: users})
	m.out.ToRoom(a.roomID, EvUserStatusInRoom, statusInRoom{User: entry, Status: presence.StatusOnline})
	if r.InPlay() {
		m.resync(r, entry)
	}
	return nil
}

// seated counts the players in users other than pid.
func seated(users []presence.Entry, pid string) int {
	n := 0
	for _, u := range presence.Players(users) {
		if u.ParticipantID != pid {
			n++
		}
	}
	return n
}

// resync sends a participant everything needed to rebuild their view.
func (m *Manager) resync(r *models.Room, entry presence.Entry) {
	s := r.Summary()
	s.LiveMembers = m.presence.ListByRoom(r.ID)
	payload := connected{
		RoomSummary: s,
		RoomID:      r.ID,
		RoomName:    r.Title,
		UserID:      entry.ParticipantID,
		Type:        entry.Role,
	}
	if name, remaining, ok := m.timers.Remaining(r.ID); ok {
		payload.Timer = &timerState{Name: name, Remaining: remaining}
	}
	m.out.ToConnection(entry.ConnectionID, EvUserConnected, payload)
}

func (m *Manager) onReconnect(ctx context.Context, a *actor, ev Event) error {
	entry, err := m.member(a, ev)
	if err != nil {
		return err
	}
	r, err := m.store.Get(ctx, a.roomID)
	if err != nil {
		// the room is gone; forget the stale affiliation
		m.presence.LeaveRoom(entry.ParticipantID)
		return err
	}
	a.track(r)

	m.out.JoinGroup(entry.ConnectionID, a.roomID)
	m.resync(r, entry)
	m.out.ToRoom(a.roomID, EvUserStatusInRoom, statusInRoom{User: entry, Status: presence.StatusOnline})
	m.out.ToRoom(a.roomID, EvUpdatePlayers, m.presence.ListByRoom(a.roomID))
	return nil
}

func (m *Manager) onDisconnect(ctx context.Context, a *actor, ev Event) error {
	entry, ok := m.presence.Get(ev.Sender.ID)
	if !ok || entry.ConnectionID != ev.ConnectionID {
		// already reconnected on a newer connection
		return nil
	}
	entry, _ = m.presence.Disconnect(ev.ConnectionID)
	if entry.RoomID != a.roomID {
		return nil
	}
	m.out.ToRoom(a.roomID, EvUserStatusInRoom, statusInRoom{User: entry, Status: presence.StatusOffline})
	m.out.ToRoom(a.roomID, EvUpdatePlayers, m.presence.ListByRoom(a.roomID))

	if m.grace <= 0 {
		return m.leave(ctx, a, entry.ParticipantID, true)
	}
	m.armGrace(a.roomID, entry.ParticipantID)
	return nil
}

func (m *Manager) onGraceExpired(ctx context.Context, a *actor, ev Event) error {
	entry, ok := m.presence.Get(ev.Sender.ID)
	if !ok || entry.RoomID != a.roomID || entry.Status == presence.StatusOnline {
		return nil
	}
	return m.leave(ctx, a, entry.ParticipantID, true)
}

func (m *Manager) onLeave(ctx context.Context, a *actor, ev Event) error {
	return m.leave(ctx, a, ev.Sender.ID, false)
}

// leave runs the leave flow for pid. gone means the participant's connection
// is already closed and their presence entry is dropped too.
func (m *Manager) leave(ctx context.Context, a *actor, pid string, gone bool) error {
	entry, ok := m.presence.Get(pid)
	if !ok || entry.RoomID != a.roomID {
		return fmt.Errorf("participant %s in room %s: %w", pid, a.roomID, room.ErrNotFound)
	}
	r, err := m.store.Get(ctx, a.roomID)
	if err != nil {
		return err
	}
	a.track(r)

	if r.FounderID == pid {
		return m.closeRoom(ctx, a, r, pid, gone)
	}

	m.presence.LeaveRoom(pid)
	if gone {
		m.presence.Remove(pid)
	} else {
		m.out.LeaveGroup(entry.ConnectionID)
		m.out.ToConnection(entry.ConnectionID, EvUserLeft, userLeft{UserID: pid})
	}
	users := m.presence.ListByRoom(a.roomID)

	if r.InPlay() && models.FindPlayer(r.ActiveGame().Players, pid) >= 0 {
		return m.dropPlayer(ctx, a, r, pid, users)
	}
	m.out.ToRoom(a.roomID, EvAllUsers, allUsers{UsersInRoom: users})
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{RoomID: a.roomID, UsersInRoom: users})
	m.out.ToRoom(a.roomID, EvUserLeft, userLeft{UserID: pid})
	return nil
}

// dropPlayer prunes a leaver from the running game, re-evaluates it and keeps
// the speech round moving if they held the floor.
func (m *Manager) dropPlayer(ctx context.Context, a *actor, r *models.Room, pid string, users []presence.Entry) error {
	g := r.ActiveGame()
	leaver := g.Players[models.FindPlayer(g.Players, pid)]

	players, err := m.store.PruneRoster(ctx, a.roomID, pid)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("%s left the game", leaver.UserName)
	m.out.ToRoom(a.roomID, EvUserLeft, userLeft{UserID: pid, Message: msg})

	m.logger.WithFields(logrus.Fields{"room": a.roomID, "participant": pid, "game": g.Number}).Info("player left a running game")

	if outcome := game.Evaluate(players); outcome.Over {
		return m.finishGame(ctx, a, outcome.Winners)
	}

	m.out.ToRoom(a.roomID, EvAllUsers, allUsers{UsersInRoom: users, Message: msg})
	m.out.ToRoom(a.roomID, EvUpdatePlayers, players)
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{RoomID: a.roomID, UsersInRoom: users, GameLevel: &g.GameLevel})

	al := g.AfterLeaveData
	if al == nil || al.Value != models.AfterLeaveSpeechToNext || al.Data == nil ||
		al.Data.CurrentPlayerToSpeech == nil || al.Data.CurrentPlayerToSpeech.UserID != pid {
		return nil
	}
	m.stopTimer(a)
	return m.endSpeech(ctx, a, players, &leaver, *al.Data, g.CurrentDay())
}

// closeRoom ends the room when its founder leaves: the game finishes without
// winners, timers stop and everyone is evicted.
func (m *Manager) closeRoom(ctx context.Context, a *actor, r *models.Room, founderID string, gone bool) error {
	m.stopTimer(a)
	a.closing = true
	wasInPlay := r.InPlay()

	users := m.presence.ListByRoom(a.roomID)
	keep := make([]string, 0, len(users))
	for _, u := range users {
		if u.ParticipantID != founderID {
			keep = append(keep, u.ParticipantID)
		}
	}
	closed, err := m.store.CloseRoom(ctx, a.roomID, keep)
	if err != nil {
		return err
	}

	level := models.Finished(time.Now())
	if g := closed.ActiveGame(); g != nil && g.GameLevel.Status == models.StatusFinished {
		level = g.GameLevel
	}

	m.out.ToRoom(a.roomID, EvUserLeft, userLeft{UserID: founderID, Type: roomClosedMessage})
	m.out.ToRoom(a.roomID, EvAllUsers, allUsers{UsersInRoom: []presence.Entry{}, GameOver: true})
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{RoomID: a.roomID, UsersInRoom: []presence.Entry{}, GameLevel: &level})

	for _, u := range users {
		m.presence.LeaveRoom(u.ParticipantID)
		m.out.LeaveGroup(u.ConnectionID)
	}
	if gone {
		m.presence.Remove(founderID)
	}
	if wasInPlay && m.observer != nil {
		m.observer.GameFinished(models.WinnersNone)
	}
	m.logger.WithFields(logrus.Fields{"room": a.roomID, "evicted": len(users)}).Info("founder left, room closed")
	return nil
}

func (m *Manager) onChangeType(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[changeTypePayload](ev)
	if err != nil {
		return err
	}
	if _, err := m.member(a, ev); err != nil {
		return err
	}
	if !validRole(p.NewType) {
		return precondition("unknown participant type %q", p.NewType)
	}
	target := p.UserID
	if target == "" {
		target = ev.Sender.ID
	}
	if target != ev.Sender.ID {
		r, err := m.store.Get(ctx, a.roomID)
		if err != nil {
			return err
		}
		if r.FounderID != ev.Sender.ID {
			return precondition("only the founder can change another participant")
		}
	}
	if _, ok := m.presence.Update(target, func(e *presence.Entry) {
		if e.RoomID == a.roomID {
			e.Role = p.NewType
			if p.NewType != presence.RolePlayer {
				e.ReadyToStart = false
			}
		}
	}); !ok {
		return fmt.Errorf("participant %s: %w", target, room.ErrNotFound)
	}

	users := m.presence.ListByRoom(a.roomID)
	m.out.ToRoom(a.roomID, EvAllUsers, allUsers{UsersInRoom: users})
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{RoomID: a.roomID, UsersInRoom: users})
	return nil
}

func (m *Manager) onReadyToStart(ctx context.Context, a *actor, ev Event) error {
	p, err := decode[readyPayload](ev)
	if err != nil {
		return err
	}
	entry, err := m.member(a, ev)
	if err != nil {
		return err
	}
	if entry.Role != presence.RolePlayer {
		return precondition("only players can get ready")
	}
	r, err := m.store.Get(ctx, a.roomID)
	if err != nil {
		return err
	}
	if r.InPlay() {
		return precondition("game already running")
	}

	players := presence.Players(m.presence.ListByRoom(a.roomID))
	// once everyone is ready a cancel would strand the founder's start
	if readyCount(players) == r.Options.MaxPlayers && !p.Status {
		return precondition("all players are ready")
	}

	m.presence.Update(ev.Sender.ID, func(e *presence.Entry) { e.ReadyToStart = p.Status })
	users := m.presence.ListByRoom(a.roomID)
	m.out.ToRoom(a.roomID, EvUpdatePlayers, presence.Players(users))
	m.out.ToAll(EvUpdateRoomInfo, roomInfo{
		RoomID:      a.roomID,
		UsersInRoom: users,
		GameLevel:   &models.PhaseState{Status: models.StatusInPlay, Level: models.LevelReadyToStart},
	})
	return nil
}

func readyCount(players []presence.Entry) int {
	n := 0
	for _, p := range players {
		if p.ReadyToStart {
			n++
		}
	}
	return n
}
