package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jason-s-yu/mafia/internal/auth"
	"github.com/jason-s-yu/mafia/internal/models"
	"github.com/jason-s-yu/mafia/internal/room"
	"github.com/jason-s-yu/mafia/internal/session"
)

const authCookie = "auth_token"

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken looks for a token in the Authorization header, the "token"
// query parameter and the auth cookie, in that order.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return extractCookieToken(r.Header.Get("Cookie"), authCookie)
}

// identify authenticates the request's token.
func (s *Server) identify(r *http.Request) (auth.Identity, error) {
	token := requestToken(r)
	if token == "" {
		return auth.Identity{}, auth.ErrNoToken
	}
	return s.issuer.Authenticate(token)
}

// ensureIdentity is identify with a guest fallback: a request without a
// usable token gets a fresh guest identity and a cookie carrying it.
func (s *Server) ensureIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, error) {
	id, err := s.identify(r)
	if err == nil {
		return id, nil
	}
	if !s.allowGuests {
		return auth.Identity{}, err
	}
	guest := auth.NewGuest()
	token, err := s.issuer.CreateToken(guest)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("failed to create guest token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return guest, nil
}

// withProfile fills the identity's display fields from the stored profile,
// creating the profile on first sight.
func (s *Server) withProfile(r *http.Request, id auth.Identity) auth.Identity {
	if s.profiles == nil {
		return id
	}
	p, err := s.profiles.EnsureProfile(r.Context(), models.Profile{
		ID:          id.ID,
		Name:        id.Name,
		Cover:       id.Cover,
		Admin:       id.Admin,
		IsEphemeral: id.Guest,
	})
	if err != nil {
		s.logger.WithError(err).WithField("participant", id.ID).Warn("failed to load profile")
		return id
	}
	if p.Name != "" {
		id.Name = p.Name
	}
	if p.Cover != "" {
		id.Cover = p.Cover
	}
	id.Admin = id.Admin || p.Admin
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a store or session error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrPrecondition), errors.Is(err, room.ErrAlreadyConfirmed):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrGameFinished), errors.Is(err, room.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}
