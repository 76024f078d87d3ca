// internal/timer/manager.go
package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Token identifies one armed timer. Expiry callbacks receive it so the owner
// can recognise expirations of timers it has since replaced.
type Token uint64

// Spec describes a countdown.
type Spec struct {
	// Name is the timer name, e.g. "SpeechTimer"; clients see "<Name>Update".
	Name    string
	Seconds int

	// OnTick receives the remaining seconds at start and after every tick,
	// including the final 0.
	OnTick func(remaining int)
	// OnExpire runs once after the slot has been cleared.
	OnExpire func(tok Token)
}

// Observer is notified of timer lifecycle changes. Metrics hook in here.
type Observer interface {
	ActiveTimers(n int)
	TimerExpired(name string)
}

type slot struct {
	// emit is held while a tick is delivered, so Stop and Start can wait
	// out an in-flight OnTick of the slot they replace.
	emit    sync.Mutex
	stopped bool

	token     Token
	name      string
	remaining int
	timer     *time.Timer
	spec      Spec
}

// Manager owns at most one countdown per room.
type Manager struct {
	mu    sync.Mutex
	slots map[string]*slot

	tick     time.Duration
	seq      atomic.Uint64
	logger   *logrus.Logger
	observer Observer
}

// Option configures a Manager.
type Option func(*Manager)

// WithTick overrides the one second tick. Tests use milliseconds.
func WithTick(d time.Duration) Option {
	return func(m *Manager) { m.tick = d }
}

// WithObserver attaches a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a timer manager.
func NewManager(logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		slots:  make(map[string]*slot),
		tick:   time.Second,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start arms a countdown for roomID, cancelling whatever timer the room had.
func (m *Manager) Start(roomID string, spec Spec) Token {
	tok := Token(m.seq.Add(1))
	s := &slot{token: tok, name: spec.Name, remaining: spec.Seconds, spec: spec}

	m.mu.Lock()
	old, replaced := m.slots[roomID]
	if replaced {
		old.timer.Stop()
	}
	m.slots[roomID] = s
	s.timer = time.AfterFunc(m.tick, func() { m.fire(roomID, s) })
	active := len(m.slots)
	m.mu.Unlock()

	if replaced {
		old.drain()
		m.logger.WithFields(logrus.Fields{"room": roomID, "timer": old.name}).Debug("timer replaced")
	}
	m.observe(active)
	m.logger.WithFields(logrus.Fields{"room": roomID, "timer": spec.Name, "seconds": spec.Seconds}).Debug("timer started")
	if spec.OnTick != nil {
		spec.OnTick(spec.Seconds)
	}
	return tok
}

// fire advances s by one tick. A slot that is no longer the room's current
// one is stale and does nothing.
func (m *Manager) fire(roomID string, s *slot) {
	s.emit.Lock()
	m.mu.Lock()
	if s.stopped || m.slots[roomID] != s {
		m.mu.Unlock()
		s.emit.Unlock()
		m.logger.WithFields(logrus.Fields{"room": roomID, "timer": s.name}).Debug("stale timer tick ignored")
		return
	}
	s.remaining--
	remaining := s.remaining
	expired := remaining <= 0
	if expired {
		remaining = 0
		delete(m.slots, roomID)
	} else {
		s.timer = time.AfterFunc(m.tick, func() { m.fire(roomID, s) })
	}
	active := len(m.slots)
	m.mu.Unlock()

	if s.spec.OnTick != nil {
		s.spec.OnTick(remaining)
	}
	s.emit.Unlock()
	if !expired {
		return
	}

	m.observe(active)
	if m.observer != nil {
		m.observer.TimerExpired(s.name)
	}
	m.logger.WithFields(logrus.Fields{"room": roomID, "timer": s.name}).Debug("timer expired")
	if s.spec.OnExpire != nil {
		s.spec.OnExpire(s.token)
	}
}

// Stop cancels the room's timer. Stopping a room without one is a logged no-op.
func (m *Manager) Stop(roomID string) bool {
	m.mu.Lock()
	s, ok := m.slots[roomID]
	if ok {
		s.timer.Stop()
		delete(m.slots, roomID)
	}
	active := len(m.slots)
	m.mu.Unlock()

	if !ok {
		m.logger.WithField("room", roomID).Debug("no active timer to stop")
		return false
	}
	s.drain()
	m.observe(active)
	m.logger.WithFields(logrus.Fields{"room": roomID, "timer": s.name}).Debug("timer stopped")
	return true
}

// Remaining reports the running timer's name and seconds left.
func (m *Manager) Remaining(roomID string) (string, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[roomID]
	if !ok {
		return "", 0, false
	}
	return s.name, s.remaining, true
}

// Active reports whether tok is the room's running timer.
func (m *Manager) Active(roomID string, tok Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[roomID]
	return ok && s.token == tok
}

// StopAll cancels every timer, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	stopped := make([]*slot, 0, len(m.slots))
	for id, s := range m.slots {
		s.timer.Stop()
		delete(m.slots, id)
		stopped = append(stopped, s)
	}
	m.mu.Unlock()
	for _, s := range stopped {
		s.drain()
	}
	m.observe(0)
}

// drain waits for a tick being delivered by s and marks it stopped.
func (s *slot) drain() {
	s.emit.Lock()
	s.stopped = true
	s.emit.Unlock()
}

func (m *Manager) observe(active int) {
	if m.observer != nil {
		m.observer.ActiveTimers(active)
	}
}
