// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/hub"
	"github.com/jason-s-yu/mafia/internal/middleware"
	"github.com/jason-s-yu/mafia/internal/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	subprotocol = "mafia"
	// maxStrikes is how many rate-limited messages in a row close the socket.
	maxStrikes   = 20
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// inbound is the client envelope. RoomID is required for every room event.
type inbound struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type relayPayload struct {
	UserID string `json:"userId"`
}

// RoomWSHandler upgrades to the room socket. One socket carries every room
// event for a participant; the roomId in each message picks the actor.
func (s *Server) RoomWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.ensureIdentity(w, r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id = s.withProfile(r, id)

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{subprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			s.logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != subprotocol {
			c.Close(BadSubprotocolError, "client must speak the mafia subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := hub.NewConn(uuid.NewString(), id.ID, s.queueSize, cancel)
		s.hub.Register(conn)
		if s.gauge != nil {
			s.gauge.ConnectionOpened()
		}
		middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path, id.ID)

		s.sessions.Connect(ctx, id, conn.ID)
		go writePump(ctx, c, conn, s.logger)

		readErr := s.readPump(ctx, c, conn, id)

		// the participant may already be reconnecting on a new socket, so
		// disconnect by connection id only
		s.sessions.Disconnect(context.Background(), conn.ID)
		s.hub.Unregister(conn.ID)
		if s.gauge != nil {
			s.gauge.ConnectionClosed()
		}
		middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, id.ID, readErr)
	}
}

// readPump decodes client messages and hands them to the session manager
// until the socket closes. Bad messages are answered with an error event and
// never end the loop.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, conn *hub.Conn, id auth.Identity) error {
	limiter := rate.NewLimiter(s.wsLimit, s.wsBurst)
	strikes := 0
	log := s.logger.WithFields(logrus.Fields{"conn": conn.ID, "participant": id.ID})

	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			log.Warnf("ignoring non-text message type %d", typ)
			continue
		}

		if !limiter.Allow() {
			strikes++
			if strikes >= maxStrikes {
				c.Close(RateLimitedError, "rate limit exceeded")
				return errors.New("rate limit exceeded")
			}
			conn.WriteError("rate limit exceeded")
			continue
		}
		strikes = 0

		var in inbound
		if err := json.Unmarshal(msg, &in); err != nil || in.Type == "" {
			conn.WriteError("invalid message format")
			continue
		}

		switch in.Type {
		case session.EvRerenderAuthUser, session.EvNotifications:
			var p relayPayload
			if err := json.Unmarshal(in.Payload, &p); err != nil || p.UserID == "" {
				conn.WriteError("relay needs a userId")
				continue
			}
			if err := s.sessions.Relay(in.Type, p.UserID); err != nil {
				conn.WriteError(err.Error())
			}
			continue
		case session.EvReconnect, session.EvDisconnect:
			conn.WriteError("reserved event type")
			continue
		}

		if !session.Known(in.Type) {
			conn.WriteError("unknown event type " + in.Type)
			continue
		}
		err = s.sessions.Submit(ctx, session.Event{
			Type:         in.Type,
			RoomID:       in.RoomID,
			ConnectionID: conn.ID,
			Sender:       id,
			Payload:      in.Payload,
		})
		switch {
		case errors.Is(err, session.ErrClosed):
			c.Close(SessionClosedError, "server shutting down")
			return err
		case err != nil:
			conn.WriteError(err.Error())
		}
	}
}

// writePump drains the connection's queue onto the socket and keeps it alive
// with pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *hub.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal %s for conn %s: %v", msg.Type, conn.ID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Debugf("write to conn %s failed: %v", conn.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debugf("ping to conn %s failed: %v", conn.ID, err)
				return
			}
		}
	}
}
