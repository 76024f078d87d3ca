// internal/historian/historian_test.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/mafia/internal/database"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu        sync.Mutex
	batches   [][]database.ActionRecord
	abandoned []gameKey
	failNext  bool
}

func (f *fakeSink) InsertActions(_ context.Context, recs []database.ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("db down")
	}
	f.batches = append(f.batches, append([]database.ActionRecord(nil), recs...))
	return nil
}

func (f *fakeSink) MarkAbandoned(_ context.Context, roomID string, n int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, gameKey{roomID, n})
	return true, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func payload(t *testing.T, rec database.ActionRecord) string {
	t.Helper()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(b)
}

func TestIngestFlushesFullBatch(t *testing.T) {
	sink := &fakeSink{}
	s := New(nil, sink, Options{BatchSize: 2}, quietLogger())
	ctx := context.Background()

	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "r", GameNumber: 1, ActionIndex: 1, ActionType: "startPlay"}))
	assert.Equal(t, 1, s.Pending())
	assert.Empty(t, sink.batches)

	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "r", GameNumber: 1, ActionIndex: 2, ActionType: "voiceToKill"}))
	assert.Equal(t, 0, s.Pending())
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
}

func TestIngestDropsGarbage(t *testing.T) {
	sink := &fakeSink{}
	s := New(nil, sink, Options{}, quietLogger())
	s.Ingest(context.Background(), "{not json")
	s.Ingest(context.Background(), `{"action_type":"x"}`)
	assert.Equal(t, 0, s.Pending())
}

func TestFailedFlushKeepsRecords(t *testing.T) {
	sink := &fakeSink{failNext: true}
	s := New(nil, sink, Options{BatchSize: 10}, quietLogger())
	ctx := context.Background()

	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "r", GameNumber: 1, ActionIndex: 1, ActionType: "a"}))
	s.Flush(ctx)
	assert.Equal(t, 1, s.Pending(), "records survive a failed flush")

	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "r", GameNumber: 1, ActionIndex: 2, ActionType: "b"}))
	s.Flush(ctx)
	require.Len(t, sink.batches, 1)
	assert.EqualValues(t, 1, sink.batches[0][0].ActionIndex, "order is kept")
	assert.EqualValues(t, 2, sink.batches[0][1].ActionIndex)
}

func TestSweepMarksIdleGames(t *testing.T) {
	sink := &fakeSink{}
	s := New(nil, sink, Options{Inactivity: time.Minute}, quietLogger())
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "idle", GameNumber: 1, ActionType: "a"}))
	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "done", GameNumber: 1, ActionType: "a"}))
	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "done", GameNumber: 1, ActionType: "gameOver"}))

	clock = clock.Add(30 * time.Second)
	s.Ingest(ctx, payload(t, database.ActionRecord{RoomID: "busy", GameNumber: 3, ActionType: "a"}))

	clock = clock.Add(45 * time.Second)
	assert.Equal(t, 1, s.Sweep(ctx))
	assert.Equal(t, []gameKey{{"idle", 1}}, sink.abandoned)

	assert.Equal(t, 0, s.Sweep(ctx), "an abandoned game is only marked once")
}

func TestFlushDrainsPartialBatch(t *testing.T) {
	sink := &fakeSink{}
	s := New(nil, sink, Options{BatchSize: 100, FlushDelay: time.Hour}, quietLogger())
	s.Ingest(context.Background(), payload(t, database.ActionRecord{RoomID: "r", GameNumber: 1, ActionType: "a"}))
	assert.Empty(t, sink.batches)

	s.Flush(context.Background())
	require.Len(t, sink.batches, 1)
	assert.Equal(t, 0, s.Pending())
}
