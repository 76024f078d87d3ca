// internal/historian/historian.go pops room action records from a Redis queue
// and persists them to Postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/mafia/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink is where batches end up. *database.GameLog satisfies it.
type Sink interface {
	InsertActions(ctx context.Context, recs []database.ActionRecord) error
	MarkAbandoned(ctx context.Context, roomID string, gameNumber int) (bool, error)
}

type gameKey struct {
	roomID string
	number int
}

// Service batches actions and marks games abandoned after a stretch of silence.
type Service struct {
	rdb        *redis.Client
	queue      string
	sink       Sink
	batchSize  int
	flushDelay time.Duration
	inactivity time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	lastActivity sync.Map // gameKey -> time.Time

	batchMu sync.Mutex
	batch   []database.ActionRecord
}

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	Inactivity time.Duration
}

// New builds a historian reading from rdb and writing to sink.
func New(rdb *redis.Client, sink Sink, opts Options, logger *logrus.Logger) *Service {
	if opts.Queue == "" {
		opts.Queue = "mafia_actions"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = 10 * time.Minute
	}
	return &Service{
		rdb:        rdb,
		queue:      opts.Queue,
		sink:       sink,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		inactivity: opts.Inactivity,
		logger:     logger,
		now:        time.Now,
		batch:      make([]database.ActionRecord, 0, opts.BatchSize),
	}
}

// Run blocks until ctx is done, then flushes whatever is left.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.readLoop(ctx) }()
	go func() { defer wg.Done(); s.flushLoop(ctx) }()
	go func() { defer wg.Done(); s.inactivityLoop(ctx) }()

	s.logger.WithField("queue", s.queue).Info("historian started")
	<-ctx.Done()
	wg.Wait()
	s.Flush(context.Background())
	s.logger.Info("historian shutting down")
}

// readLoop uses BLPop with a short timeout so cancellation is noticed.
func (s *Service) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := s.rdb.BLPop(ctx, 3*time.Second, s.queue).Result()
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			continue
		}
		if err != nil {
			s.logger.WithError(err).Error("BLPop")
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		s.Ingest(ctx, res[1])
	}
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Ingest decodes one queued payload and adds it to the batch, flushing when
// the batch is full. Malformed payloads are logged and dropped.
func (s *Service) Ingest(ctx context.Context, payload string) {
	var rec database.ActionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		s.logger.WithError(err).Warn("invalid action record")
		return
	}
	if rec.RoomID == "" {
		s.logger.Warn("action record without room id")
		return
	}

	key := gameKey{rec.RoomID, rec.GameNumber}
	if rec.ActionType == "gameOver" {
		s.lastActivity.Delete(key)
	} else {
		s.lastActivity.Store(key, s.now())
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the pending batch in one transaction. A failed batch is put
// back in front of anything queued since.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]database.ActionRecord, 0, s.batchSize)
	s.batchMu.Unlock()

	if err := s.sink.InsertActions(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("count", len(pending)).Error("flush actions")
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.logger.WithField("count", len(pending)).Debug("flushed actions")
}

// Pending reports how many records wait for the next flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep marks every game idle longer than the inactivity window as abandoned.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.now()
	marked := 0
	s.lastActivity.Range(func(k, v any) bool {
		key, ok1 := k.(gameKey)
		last, ok2 := v.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.inactivity {
			return true
		}
		changed, err := s.sink.MarkAbandoned(ctx, key.roomID, key.number)
		if err != nil {
			s.logger.WithError(err).WithField("room", key.roomID).Error("mark game abandoned")
			return true
		}
		s.lastActivity.Delete(key)
		if changed {
			marked++
			s.logger.WithFields(logrus.Fields{"room": key.roomID, "game": key.number}).Info("game marked abandoned")
		}
		return true
	})
	return marked
}
