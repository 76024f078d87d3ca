// internal/hub/hub.go
package hub

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Message is the envelope every outbound event is sent in.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// DropCounter is told about messages dropped on full queues.
type DropCounter interface {
	MessageDropped()
}

// Conn is one live websocket connection.
type Conn struct {
	ID            string
	ParticipantID string
	Cancel        func()
	OutChan       chan Message

	closeOnce sync.Once
	logger    *logrus.Logger
	drops     DropCounter
}

// NewConn creates a connection with a queue of size outbound slots.
func NewConn(id, participantID string, size int, cancel func()) *Conn {
	if size <= 0 {
		size = 64
	}
	return &Conn{
		ID:            id,
		ParticipantID: participantID,
		Cancel:        cancel,
		OutChan:       make(chan Message, size),
	}
}

// Write pushes a message onto the connection's queue without blocking. A full
// queue drops the message.
func (c *Conn) Write(msg Message) bool {
	select {
	case c.OutChan <- msg:
		return true
	default:
		if c.logger != nil {
			c.logger.WithFields(logrus.Fields{"conn": c.ID, "participant": c.ParticipantID, "type": msg.Type}).
				Warn("outbound queue full, dropped message")
		}
		if c.drops != nil {
			c.drops.MessageDropped()
		}
		return false
	}
}

// WriteError sends an error event.
func (c *Conn) WriteError(message string) {
	c.Write(Message{Type: "error", Payload: map[string]string{"message": message}})
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		if c.Cancel != nil {
			c.Cancel()
		}
	})
}

// Hub tracks every connection and the room group each one belongs to.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	rooms  map[string]map[string]*Conn
	member map[string]string // connID -> roomID

	logger *logrus.Logger
	drops  DropCounter
}

// New creates an empty hub. drops may be nil.
func New(logger *logrus.Logger, drops DropCounter) *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
		member: make(map[string]string),
		logger: logger,
		drops:  drops,
	}
}

// Register adds a connection.
func (h *Hub) Register(c *Conn) {
	c.logger = h.logger
	c.drops = h.drops
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
}

// Unregister removes a connection from the hub and its room group.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	delete(h.conns, connID)
	h.leaveLocked(connID)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// CloseAll cancels every registered connection. Their handlers unregister
// themselves as they exit.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}

// Get returns a registered connection.
func (h *Hub) Get(connID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// JoinGroup moves a connection into roomID's group.
func (h *Hub) JoinGroup(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	h.leaveLocked(connID)
	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[string]*Conn)
		h.rooms[roomID] = group
	}
	group[connID] = c
	h.member[connID] = roomID
}

// LeaveGroup removes a connection from whatever room group it is in.
func (h *Hub) LeaveGroup(connID string) {
	h.mu.Lock()
	h.leaveLocked(connID)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(connID string) {
	roomID, ok := h.member[connID]
	if !ok {
		return
	}
	delete(h.member, connID)
	if group := h.rooms[roomID]; group != nil {
		delete(group, connID)
		if len(group) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// ToRoom sends an event to every connection in roomID.
func (h *Hub) ToRoom(roomID, event string, payload any) {
	h.ToRoomExcept(roomID, "", event, payload)
}

// ToRoomExcept sends an event to every connection in roomID except one.
func (h *Hub) ToRoomExcept(roomID, exceptConnID, event string, payload any) {
	msg := Message{Type: event, Payload: payload}
	for _, c := range h.snapshot(roomID) {
		if c.ID != exceptConnID {
			c.Write(msg)
		}
	}
}

// ToConnection sends an event to a single connection. Unknown ids are ignored.
func (h *Hub) ToConnection(connID, event string, payload any) {
	if c, ok := h.Get(connID); ok {
		c.Write(Message{Type: event, Payload: payload})
	}
}

// ToAll sends an event to every connection, used for room listing refreshes.
func (h *Hub) ToAll(event string, payload any) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	msg := Message{Type: event, Payload: payload}
	for _, c := range conns {
		c.Write(msg)
	}
}

// RoomSize reports the number of connections grouped under roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Len is the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) snapshot(roomID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	group := h.rooms[roomID]
	out := make([]*Conn, 0, len(group))
	for _, c := range group {
		out = append(out, c)
	}
	return out
}
