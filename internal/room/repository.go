// internal/room/repository.go
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jason-s-yu/mafia/internal/models"
)

var (
	// ErrNotFound means the room, or the game/day/night an operation targets, does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the stored version moved since the room was read.
	ErrConflict = errors.New("room version conflict")
	// ErrGameFinished is returned when mutating a game that already has a result.
	ErrGameFinished = errors.New("game already finished")
	// ErrAlreadyConfirmed is returned when a player confirms their role twice.
	ErrAlreadyConfirmed = errors.New("role already confirmed")
)

// Repository persists room documents. Save is a compare-and-swap on Version:
// it must fail with ErrConflict when the stored version differs from
// expected, and bump room.Version on success.
type Repository interface {
	Get(ctx context.Context, id string) (*models.Room, error)
	Create(ctx context.Context, r *models.Room) error
	Save(ctx context.Context, r *models.Room, expected int64) error
	List(ctx context.Context) ([]*models.Room, error)
	Delete(ctx context.Context, id string) error
}

// MemoryRepository keeps serialized rooms in a map. Values are stored as JSON
// so callers never share nested slices with the store.
type MemoryRepository struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	vers  map[string]int64
	order []string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[string][]byte),
		vers: make(map[string]int64),
	}
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*models.Room, error) {
	m.mu.RLock()
	doc, ok := m.docs[id]
	ver := m.vers[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	var r models.Room
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	r.Version = ver
	return &r, nil
}

func (m *MemoryRepository) Create(_ context.Context, r *models.Room) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[r.ID]; exists {
		return fmt.Errorf("room %s already exists", r.ID)
	}
	m.docs[r.ID] = doc
	m.vers[r.ID] = 1
	m.order = append(m.order, r.ID)
	r.Version = 1
	return nil
}

func (m *MemoryRepository) Save(_ context.Context, r *models.Room, expected int64) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.vers[r.ID]
	if !ok {
		return fmt.Errorf("room %s: %w", r.ID, ErrNotFound)
	}
	if cur != expected {
		return ErrConflict
	}
	m.docs[r.ID] = doc
	m.vers[r.ID] = expected + 1
	r.Version = expected + 1
	return nil
}

// List returns rooms newest first.
func (m *MemoryRepository) List(ctx context.Context) ([]*models.Room, error) {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	out := make([]*models.Room, 0, len(ids))
	for _, id := range ids {
		r, err := m.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	delete(m.vers, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
