// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the orchestrator's collector set on its own registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	connections     prometheus.Gauge
	events          *prometheus.CounterVec
	activeTimers    prometheus.Gauge
	timerExpiries   *prometheus.CounterVec
	droppedMessages prometheus.Counter
	storeConflicts  prometheus.Counter
	gamesFinished   *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mafia",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mafia",
			Name:      "session_events_total",
			Help:      "Events processed by room sessions, by type.",
		}, []string{"type"}),
		activeTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mafia",
			Name:      "phase_timers_active",
			Help:      "Rooms with a running phase timer.",
		}),
		timerExpiries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mafia",
			Name:      "phase_timer_expirations_total",
			Help:      "Phase timers that ran to zero, by timer name.",
		}, []string{"timer"}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mafia",
			Name:      "dropped_messages_total",
			Help:      "Outbound messages dropped because a client queue was full.",
		}),
		storeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mafia",
			Name:      "store_conflicts_total",
			Help:      "Room writes that gave up after repeated version conflicts.",
		}),
		gamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mafia",
			Name:      "games_finished_total",
			Help:      "Finished games, by winning side.",
		}, []string{"winners"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.events,
		m.activeTimers,
		m.timerExpiries,
		m.droppedMessages,
		m.storeConflicts,
		m.gamesFinished,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Event(eventType string) {
	if m != nil {
		m.events.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) MessageDropped() {
	if m != nil {
		m.droppedMessages.Inc()
	}
}

func (m *Metrics) StoreConflict() {
	if m != nil {
		m.storeConflicts.Inc()
	}
}

func (m *Metrics) GameFinished(winners string) {
	if m != nil {
		m.gamesFinished.WithLabelValues(winners).Inc()
	}
}

// ActiveTimers implements timer.Observer.
func (m *Metrics) ActiveTimers(n int) {
	if m != nil {
		m.activeTimers.Set(float64(n))
	}
}

// TimerExpired implements timer.Observer.
func (m *Metrics) TimerExpired(name string) {
	if m != nil {
		m.timerExpiries.WithLabelValues(name).Inc()
	}
}
