// internal/handlers/server.go
package handlers

import (
	"context"

	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/hub"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/presence"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/jason-s-yu/mafia/internal/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ProfileStore is the slice of the profile repository the transport needs.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, p models.Profile) (*models.Profile, error)
	SetPushToken(ctx context.Context, id, token string) error
}

// ConnGauge counts open websocket connections.
type ConnGauge interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Server holds everything the HTTP and websocket handlers share.
type Server struct {
	sessions *session.Manager
	store    *room.Store
	presence *presence.Registry
	hub      *hub.Hub
	issuer   *auth.Issuer
	profiles ProfileStore
	gauge    ConnGauge

	allowGuests bool
	wsLimit     rate.Limit
	wsBurst     int
	queueSize   int
	logger      *logrus.Logger
}

// ServerOptions wires a Server. Profiles and Gauge may be nil.
type ServerOptions struct {
	Sessions    *session.Manager
	Store       *room.Store
	Presence    *presence.Registry
	Hub         *hub.Hub
	Issuer      *auth.Issuer
	Profiles    ProfileStore
	Gauge       ConnGauge
	AllowGuests bool

	// WSRateLimit is inbound messages per second per connection.
	WSRateLimit float64
	WSRateBurst int
	QueueSize   int
	Logger      *logrus.Logger
}

// NewServer builds the handler set.
func NewServer(o ServerOptions) *Server {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	limit := rate.Limit(o.WSRateLimit)
	if o.WSRateLimit <= 0 {
		limit = rate.Inf
	}
	if o.WSRateBurst <= 0 {
		o.WSRateBurst = 1
	}
	return &Server{
		sessions:    o.Sessions,
		store:       o.Store,
		presence:    o.Presence,
		hub:         o.Hub,
		issuer:      o.Issuer,
		profiles:    o.Profiles,
		gauge:       o.Gauge,
		allowGuests: o.AllowGuests,
		wsLimit:     limit,
		wsBurst:     o.WSRateBurst,
		queueSize:   o.QueueSize,
		logger:      o.Logger,
	}
}
