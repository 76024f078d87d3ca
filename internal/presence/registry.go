// internal/presence/registry.go
package presence

import (
	"sort"
	"sync"
	"time"
)

// Role of a participant inside a room.
const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"
	RoleModerator = "moderator"
)

// Connection status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Entry is one connected participant. The JSON names are what clients read in
// allUsers / updatePlayers payloads.
type Entry struct {
	ParticipantID string    `json:"userId"`
	ConnectionID  string    `json:"socketId"`
	RoomID        string    `json:"roomId,omitempty"`
	RoomName      string    `json:"roomName,omitempty"`
	DisplayName   string    `json:"userName,omitempty"`
	Cover         string    `json:"userCover,omitempty"`
	Admin         bool      `json:"admin,omitempty"`
	Role          string    `json:"type,omitempty"`
	ReadyToStart  bool      `json:"readyToStart"`
	Status        string    `json:"status,omitempty"`
	JoinedAt      time.Time `json:"addedTime,omitempty"`
}

// Registry is the process-local table of connected participants. Nothing in it
// survives a restart; it is rebuilt from live connections only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry // participantID -> entry
	byConn  map[string]string // connectionID -> participantID

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		byConn:  make(map[string]string),
		now:     time.Now,
	}
}

// Connect binds a connection to a participant, creating the entry if needed.
// A previous connection for the same participant is forgotten.
func (r *Registry) Connect(participantID, connectionID string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[participantID]
	if !ok {
		e = &Entry{ParticipantID: participantID}
		r.entries[participantID] = e
	}
	if e.ConnectionID != "" && e.ConnectionID != connectionID {
		delete(r.byConn, e.ConnectionID)
	}
	e.ConnectionID = connectionID
	e.Status = StatusOnline
	r.byConn[connectionID] = participantID
	return *e
}

// JoinRoom upserts the entry keyed by ParticipantID. JoinedAt is kept when the
// participant already has one, since it seeds player numbering.
func (r *Registry) JoinRoom(in Entry) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[in.ParticipantID]
	if !ok {
		e = &Entry{ParticipantID: in.ParticipantID}
		r.entries[in.ParticipantID] = e
	}

	if in.ConnectionID != "" && in.ConnectionID != e.ConnectionID {
		if e.ConnectionID != "" {
			delete(r.byConn, e.ConnectionID)
		}
		e.ConnectionID = in.ConnectionID
		r.byConn[in.ConnectionID] = in.ParticipantID
	}

	joinedAt := e.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = r.now()
	}

	e.RoomID = in.RoomID
	e.RoomName = in.RoomName
	e.DisplayName = in.DisplayName
	e.Cover = in.Cover
	e.Admin = in.Admin
	e.Role = in.Role
	if e.Role == "" {
		e.Role = RolePlayer
	}
	e.Status = StatusOnline
	e.JoinedAt = joinedAt
	return *e
}

// LeaveRoom clears the participant's room affiliation. Unknown ids are ignored.
func (r *Registry) LeaveRoom(participantID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[participantID]
	if !ok {
		return Entry{}, false
	}
	prev := *e
	*e = Entry{
		ParticipantID: e.ParticipantID,
		ConnectionID:  e.ConnectionID,
		Status:        e.Status,
	}
	return prev, true
}

// ListByRoom returns the room's entries ordered by join time. Ties break on
// participant id so the order is total.
func (r *Registry) ListByRoom(roomID string) []Entry {
	r.mu.RLock()
	out := make([]Entry, 0)
	for _, e := range r.entries {
		if roomID != "" && e.RoomID == roomID {
			out = append(out, *e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Players filters a room listing down to entries seated as players.
func Players(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Role == RolePlayer {
			out = append(out, e)
		}
	}
	return out
}

// Disconnect marks the entry bound to connectionID offline. The entry stays
// until the participant connects again or is removed.
func (r *Registry) Disconnect(connectionID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pid, ok := r.byConn[connectionID]
	if !ok {
		return Entry{}, false
	}
	e := r.entries[pid]
	e.Status = StatusOffline
	return *e, true
}

// Get returns a copy of the participant's entry.
func (r *Registry) Get(participantID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[participantID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ByConnection resolves a connection id to its entry.
func (r *Registry) ByConnection(connectionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.byConn[connectionID]
	if !ok {
		return Entry{}, false
	}
	return *r.entries[pid], true
}

// Update applies fn to the participant's entry under the write lock. The
// participant id and connection binding cannot be changed through it.
func (r *Registry) Update(participantID string, fn func(*Entry)) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[participantID]
	if !ok {
		return Entry{}, false
	}
	pid, conn := e.ParticipantID, e.ConnectionID
	fn(e)
	e.ParticipantID, e.ConnectionID = pid, conn
	return *e, true
}

// Remove drops the participant entirely.
func (r *Registry) Remove(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[participantID]
	if !ok {
		return false
	}
	delete(r.byConn, e.ConnectionID)
	delete(r.entries, participantID)
	return true
}

// CountByRoom reports live member counts for the room listing.
func (r *Registry) CountByRoom() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, e := range r.entries {
		if e.RoomID != "" {
			counts[e.RoomID]++
		}
	}
	return counts
}

// Len is the number of tracked participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
