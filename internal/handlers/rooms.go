// internal/handlers/rooms.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/jason-s-yu/mafia/internal/session"
)

type createRoomRequest struct {
	Title         string             `json:"title"`
	Language      string             `json:"language"`
	Cover         string             `json:"cover"`
	Private       bool               `json:"private"`
	Code          string             `json:"code"`
	Options       models.RoomOptions `json:"options"`
	Roles         []models.Role      `json:"roles"`
	PersonalTime  int                `json:"personalTime"`
	SpectatorMode bool               `json:"spectatorMode"`
	DrawInReVote  string             `json:"drawInReVote"`
}

func (req createRoomRequest) validate() error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return errors.New("title is required")
	case req.Private && req.Code == "":
		return errors.New("private rooms need a code")
	case req.Options.MaxPlayers < 0 || req.Options.MaxMafias < 0:
		return errors.New("options must not be negative")
	case req.Options.MaxPlayers > 0 && req.Options.MaxMafias >= req.Options.MaxPlayers:
		return errors.New("maxMafias must be below maxPlayers")
	}
	return nil
}

// CreateRoomHandler creates a room founded by the caller.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "bad room request payload", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rm := &models.Room{
		Title:         strings.TrimSpace(req.Title),
		FounderID:     id.ID,
		Language:      req.Language,
		Cover:         req.Cover,
		Options:       req.Options,
		Roles:         req.Roles,
		PersonalTime:  req.PersonalTime,
		SpectatorMode: req.SpectatorMode,
		DrawInReVote:  req.DrawInReVote,
	}
	if len(rm.Roles) == 0 {
		rm.Roles = []models.Role{{Value: models.RoleMafia}, {Value: models.RoleCitizen}}
	}
	if req.Private {
		hash, err := auth.HashRoomCode(req.Code)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rm.Private = models.Private{Value: true, CodeHash: hash}
	}
	if err := s.store.CreateRoom(r.Context(), rm); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.WithField("room", rm.ID).WithField("founder", id.ID).Info("room created")
	writeJSON(w, http.StatusCreated, rm.Summary())
}

// ListRoomsHandler lists every room with its live member count.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	counts := s.presence.CountByRoom()
	out := make([]models.RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		sum := rm.Summary()
		sum.LiveMembers = counts[rm.ID]
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

// GetRoomHandler returns one room with the participants currently in it.
func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	rm, err := s.store.Get(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sum := rm.Summary()
	sum.LiveMembers = s.presence.ListByRoom(rm.ID)
	writeJSON(w, http.StatusOK, sum)
}

// LogsHandler pages through a room's finished and running games.
func (s *Server) LogsHandler(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = n
	}
	games, total, err := s.store.Logs(r.Context(), chi.URLParam(r, "roomID"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"games":    games,
		"total":    total,
		"page":     page,
		"pageSize": room.LogsPageSize,
	})
}

// PeriodsHandler returns the days or nights of one game.
func (s *Server) PeriodsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := strconv.Atoi(q.Get("game"))
	if err != nil || n < 1 {
		http.Error(w, "invalid game number", http.StatusBadRequest)
		return
	}
	period := q.Get("period")
	if period == "" {
		period = room.PeriodDays
	}
	if period != room.PeriodDays && period != room.PeriodNights {
		http.Error(w, "period must be Days or Nights", http.StatusBadRequest)
		return
	}
	data, err := s.store.Periods(r.Context(), chi.URLParam(r, "roomID"), n, period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "data": data})
}

// RoomActionHandler runs a room event on behalf of the caller and waits for
// the outcome. The caller's live connection, if any, also receives any error
// event.
func (s *Server) RoomActionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	action := chi.URLParam(r, "action")
	if !session.Known(action) || action == session.EvReconnect || action == session.EvDisconnect {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		http.Error(w, "body must be JSON", http.StatusBadRequest)
		return
	}

	ev := session.Event{
		Type:    action,
		RoomID:  chi.URLParam(r, "roomID"),
		Sender:  id,
		Payload: body,
	}
	if entry, ok := s.presence.Get(id.ID); ok {
		ev.ConnectionID = entry.ConnectionID
	}
	if err := s.sessions.Do(r.Context(), ev); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

// PushTokenHandler stores the caller's Expo push token.
func (s *Server) PushTokenHandler(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		http.Error(w, "profiles are not configured", http.StatusNotImplemented)
		return
	}
	id, err := s.identify(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	var req pushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid push token payload", http.StatusBadRequest)
		return
	}
	s.withProfile(r, id)
	if err := s.profiles.SetPushToken(r.Context(), id.ID, req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
