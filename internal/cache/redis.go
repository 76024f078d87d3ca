// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/mafia/internal/database"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list that carries room action records.
const DefaultQueueName = "mafia_actions"

// Connect creates a Redis client and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ActionLog appends room events to a Redis list for the historian. A nil
// *ActionLog discards everything, so callers never need to check.
type ActionLog struct {
	rdb   *redis.Client
	queue string
	now   func() time.Time

	mu      sync.Mutex
	indexes map[string]int64
}

// NewActionLog publishes to queue on rdb.
func NewActionLog(rdb *redis.Client, queue string) *ActionLog {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &ActionLog{
		rdb:     rdb,
		queue:   queue,
		now:     time.Now,
		indexes: make(map[string]int64),
	}
}

// Publish serializes one action and pushes it onto the queue. Action indexes
// increase per room and game.
func (a *ActionLog) Publish(ctx context.Context, roomID string, gameNumber int, actorID, actionType string, payload map[string]any) error {
	if a == nil || a.rdb == nil {
		return nil
	}
	rec := database.ActionRecord{
		RoomID:        roomID,
		GameNumber:    gameNumber,
		ActionIndex:   a.nextIndex(roomID, gameNumber),
		ActorID:       actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     a.now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := a.rdb.RPush(ctx, a.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", a.queue, err)
	}
	return nil
}

func (a *ActionLog) nextIndex(roomID string, gameNumber int) int64 {
	key := fmt.Sprintf("%s#%d", roomID, gameNumber)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.indexes[key]++
	return a.indexes[key]
}

// Forget drops the index counter of a finished game.
func (a *ActionLog) Forget(roomID string, gameNumber int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	delete(a.indexes, fmt.Sprintf("%s#%d", roomID, gameNumber))
	a.mu.Unlock()
}
