// internal/session/session.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/config"
	"github.com/jason-s-yu/mafia/internal/presence"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/jason-s-yu/mafia/internal/timer"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPrecondition rejects an event without changing any state. Only the
	// originating connection hears about it.
	ErrPrecondition = errors.New("precondition not met")
	// ErrUnknownEvent is returned for event types no handler claims.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrClosed is returned once the manager has shut down.
	ErrClosed = errors.New("session manager closed")
)

func precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Broadcaster delivers outbound events. *hub.Hub implements it.
type Broadcaster interface {
	ToRoom(roomID, event string, payload any)
	ToRoomExcept(roomID, exceptConnID, event string, payload any)
	ToConnection(connID, event string, payload any)
	ToAll(event string, payload any)
	JoinGroup(connID, roomID string)
	LeaveGroup(connID string)
}

// Profiles receives the additive profile updates made when a game ends.
type Profiles interface {
	IncrementGamesPlayed(ctx context.Context, ids []string) error
	AddRating(ctx context.Context, deltas map[string]int) error
}

// Notifier fires push notifications and never reports back.
type Notifier interface {
	Notify(participantIDs []string, title, body string, data map[string]any)
}

// ActionLog records applied room events for the historian.
type ActionLog interface {
	Publish(ctx context.Context, roomID string, gameNumber int, actorID, actionType string, payload map[string]any) error
}

// Observer counts handled events and finished games.
type Observer interface {
	Event(eventType string)
	GameFinished(winners string)
}

// Event is one input to a room's state machine.
type Event struct {
	Type         string
	RoomID       string
	ConnectionID string
	Sender       auth.Identity
	Payload      json.RawMessage

	token timer.Token
	timer string
	done  chan error
}

// Options holds the collaborators of a Manager. Store, Presence, Timers and
// Out are required.
type Options struct {
	Store    *room.Store
	Presence *presence.Registry
	Timers   *timer.Manager
	Out      Broadcaster

	Profiles Profiles
	Notifier Notifier
	Actions  ActionLog
	Observer Observer

	Durations config.TimerConfig
	// Grace is how long a dropped connection keeps its seat. Zero leaves at once.
	Grace time.Duration
	// IdleTimeout retires a room's actor after this long without events or
	// an armed timer. Defaults to five minutes.
	IdleTimeout time.Duration
	QueueSize   int
	Rand      *rand.Rand
	Logger    *logrus.Logger
}

// Manager routes events to one actor per room. Each actor handles its room's
// events strictly in arrival order on its own goroutine.
type Manager struct {
	store     *room.Store
	presence  *presence.Registry
	timers    *timer.Manager
	out       Broadcaster
	profiles  Profiles
	notifier  Notifier
	actions   ActionLog
	observer  Observer
	durations config.TimerConfig
	grace     time.Duration
	idle      time.Duration
	queueSize int
	logger    *logrus.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor
	graces map[string]*time.Timer
	closed bool
}

// actor is the single owner of a room's transitions.
type actor struct {
	roomID string
	queue  chan Event

	// token of the timer this room armed last; expiries carrying any other
	// token are stale.
	token      timer.Token
	gameNumber int
	// closing is set once the room is closed; the actor retires after the
	// current event.
	closing bool

	// submits reserved but not yet queued, guarded by Manager.mu
	pending int
}

// NewManager builds a Manager. Call Close to stop every actor.
func NewManager(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.Durations == (config.TimerConfig{}) {
		opts.Durations = config.DefaultTimers()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Manager{
		store:     opts.Store,
		presence:  opts.Presence,
		timers:    opts.Timers,
		out:       opts.Out,
		profiles:  opts.Profiles,
		notifier:  opts.Notifier,
		actions:   opts.Actions,
		observer:  opts.Observer,
		durations: opts.Durations,
		grace:     opts.Grace,
		idle:      opts.IdleTimeout,
		queueSize: opts.QueueSize,
		logger:    opts.Logger,
		rng:       opts.Rand,
		ctx:       ctx,
		cancel:    cancel,
		actors:    make(map[string]*actor),
		graces:    make(map[string]*time.Timer),
	}
}

// Submit queues ev on its room's actor without waiting for the outcome.
func (m *Manager) Submit(ctx context.Context, ev Event) error {
	if ev.RoomID == "" {
		return precondition("%s without room id", ev.Type)
	}
	a, err := m.actorFor(ctx, ev.RoomID)
	if err != nil {
		return err
	}
	defer m.release(a)
	select {
	case a.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

// Do queues ev and waits until the actor has handled it. REST callers use it
// to report the outcome.
func (m *Manager) Do(ctx context.Context, ev Event) error {
	ev.done = make(chan error, 1)
	if err := m.Submit(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrClosed
	}
}

// Known reports whether a handler exists for the event type.
func Known(eventType string) bool {
	_, ok := handlers[eventType]
	return ok
}

// actorFor returns the room's actor with one submit reserved on it, starting
// the actor if the room exists. Callers must release the reservation.
func (m *Manager) actorFor(ctx context.Context, roomID string) (*actor, error) {
	if a, ok, err := m.reserve(roomID); ok || err != nil {
		return a, err
	}
	r, err := m.store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if a, ok := m.actors[roomID]; ok {
		a.pending++
		return a, nil
	}
	a := &actor{roomID: roomID, queue: make(chan Event, m.queueSize), pending: 1}
	if g := r.ActiveGame(); g != nil {
		a.gameNumber = g.Number
	}
	m.actors[roomID] = a
	m.wg.Add(1)
	go m.run(a)
	return a, nil
}

func (m *Manager) reserve(roomID string) (*actor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	a, ok := m.actors[roomID]
	if ok {
		a.pending++
	}
	return a, ok, nil
}

func (m *Manager) release(a *actor) {
	m.mu.Lock()
	a.pending--
	m.mu.Unlock()
}

func (m *Manager) run(a *actor) {
	defer m.wg.Done()
	idle := time.NewTimer(m.idle)
	defer idle.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-a.queue:
			m.advance(a, ev)
			if a.closing && m.retire(a) {
				return
			}
			idle.Reset(m.idle)
		case <-idle.C:
			if m.retire(a) {
				return
			}
			idle.Reset(m.idle)
		}
	}
}

// retire removes an actor that has nothing queued, no submit in flight and no
// armed timer. The next event for the room starts a fresh actor.
func (m *Manager) retire(a *actor) bool {
	if _, _, running := m.timers.Remaining(a.roomID); running {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.pending > 0 || len(a.queue) > 0 {
		return false
	}
	if m.actors[a.roomID] == a {
		delete(m.actors, a.roomID)
	}
	m.logger.WithField("room", a.roomID).Debug("room actor retired")
	return true
}

// Actors reports how many room actors are running.
func (m *Manager) Actors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// advance applies one event to the room and reports the outcome.
func (m *Manager) advance(a *actor, ev Event) {
	err := m.handle(a, ev)
	m.report(a, ev, err)
	if ev.done != nil {
		ev.done <- err
	}
}

func (m *Manager) handle(a *actor, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Type, r)
		}
	}()

	h, ok := handlers[ev.Type]
	if !ok {
		return fmt.Errorf("%w %q: %w", ErrUnknownEvent, ev.Type, ErrPrecondition)
	}
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()
	return h(m, ctx, a, ev)
}

func (m *Manager) report(a *actor, ev Event, err error) {
	log := m.logger.WithFields(logrus.Fields{
		"room":        a.roomID,
		"event":       ev.Type,
		"participant": ev.Sender.ID,
	})
	switch {
	case err == nil:
		if m.observer != nil {
			m.observer.Event(ev.Type)
		}
		m.publish(a, ev)
	case errors.Is(err, room.ErrNotFound):
		log.WithError(err).Debug("dropping event for missing state")
	case errors.Is(err, ErrPrecondition), errors.Is(err, room.ErrGameFinished), errors.Is(err, room.ErrAlreadyConfirmed):
		log.WithError(err).Info("event rejected")
		m.sendError(ev.ConnectionID, err)
	default:
		log.WithError(err).Error("event failed")
		m.sendError(ev.ConnectionID, err)
	}
}

func (m *Manager) sendError(connID string, err error) {
	if connID == "" {
		return
	}
	m.out.ToConnection(connID, EvError, map[string]string{"message": err.Error()})
}

// publish appends an applied event to the action log. Timer bookkeeping is
// not history.
func (m *Manager) publish(a *actor, ev Event) {
	if m.actions == nil || ev.Type == evPhaseExpired || a.gameNumber == 0 {
		return
	}
	payload := map[string]any{}
	if len(ev.Payload) > 0 {
		var decoded any
		if err := json.Unmarshal(ev.Payload, &decoded); err == nil {
			payload["data"] = decoded
		}
	}
	ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
	defer cancel()
	if err := m.actions.Publish(ctx, a.roomID, a.gameNumber, ev.Sender.ID, ev.Type, payload); err != nil {
		m.logger.WithError(err).WithField("room", a.roomID).Warn("failed to publish action")
	}
}

// Connect binds a new connection and resyncs a participant who was already in
// a room. It cancels any pending grace expiry for the participant.
func (m *Manager) Connect(ctx context.Context, id auth.Identity, connID string) {
	m.cancelGrace(id.ID)
	prev, hadEntry := m.presence.Get(id.ID)
	m.presence.Connect(id.ID, connID)
	m.out.ToConnection(connID, EvUserStatus, presence.StatusOnline)

	if !hadEntry || prev.RoomID == "" {
		return
	}
	ev := Event{Type: EvReconnect, RoomID: prev.RoomID, ConnectionID: connID, Sender: id}
	if err := m.Submit(ctx, ev); err != nil {
		m.logger.WithError(err).WithField("participant", id.ID).Warn("failed to queue reconnect")
	}
}

// Disconnect marks the connection's participant offline and, if they sat in a
// room, arms the grace timer that eventually runs the leave flow.
func (m *Manager) Disconnect(ctx context.Context, connID string) {
	entry, ok := m.presence.ByConnection(connID)
	if !ok || entry.ConnectionID != connID {
		return
	}
	if entry.RoomID == "" {
		m.presence.Disconnect(connID)
		return
	}
	ev := Event{
		Type:         EvDisconnect,
		RoomID:       entry.RoomID,
		ConnectionID: connID,
		Sender:       auth.Identity{ID: entry.ParticipantID, Name: entry.DisplayName},
	}
	if err := m.Submit(ctx, ev); err != nil {
		m.logger.WithError(err).WithField("participant", entry.ParticipantID).Warn("failed to queue disconnect")
	}
}

func (m *Manager) armGrace(roomID, participantID string) {
	fire := func() {
		m.mu.Lock()
		delete(m.graces, participantID)
		m.mu.Unlock()
		ev := Event{Type: evGraceExpired, RoomID: roomID, Sender: auth.Identity{ID: participantID}}
		if err := m.Submit(m.ctx, ev); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.WithError(err).WithField("participant", participantID).Warn("failed to queue grace expiry")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if t, ok := m.graces[participantID]; ok {
		t.Stop()
	}
	m.graces[participantID] = time.AfterFunc(m.grace, fire)
}

func (m *Manager) cancelGrace(participantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.graces[participantID]; ok {
		t.Stop()
		delete(m.graces, participantID)
	}
}

// Relay forwards a profile refresh or notification nudge to the target
// participant's connection. It does not touch room state.
func (m *Manager) Relay(eventType, targetID string) error {
	var out string
	switch eventType {
	case EvRerenderAuthUser:
		out = EvRerenderedAuthUser
	case EvNotifications:
		out = EvUpdateNotifications
	default:
		return fmt.Errorf("%w %q", ErrUnknownEvent, eventType)
	}
	entry, ok := m.presence.Get(targetID)
	if !ok || entry.ConnectionID == "" {
		return nil
	}
	m.out.ToConnection(entry.ConnectionID, out, map[string]string{"userId": targetID})
	return nil
}

// Close stops every actor, grace timer and room timer.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, t := range m.graces {
		t.Stop()
		delete(m.graces, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.timers.StopAll()
}
