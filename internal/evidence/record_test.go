package evidence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecentNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, NewRecord(id, 10, []byte(id))))
	}

	recs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ClientID)
	assert.Equal(t, "b", recs[1].ClientID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_CopiesCiphertext(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte{1, 2, 3}
	require.NoError(t, s.Record(context.Background(), NewRecord("a", 0, buf)))
	buf[0] = 9

	recs, err := s.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, recs[0].Ciphertext)
}

func TestMemoryStore_Profiles(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.LatestProfile(ctx)
	assert.ErrorIs(t, err, ErrNoProfile)

	require.NoError(t, s.SaveProfile(ctx, []byte("v1")))
	require.NoError(t, s.SaveProfile(ctx, []byte("v2")))
	blob, err := s.LatestProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), blob)
}

func TestNewRecord(t *testing.T) {
	r := NewRecord("c1", 42.5, []byte("ct"))
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, "c1", r.ClientID)
	assert.Equal(t, 42.5, r.RiskScore)
	assert.WithinDuration(t, time.Now(), r.CreatedAt, time.Minute)
}

type recordingSink struct {
	mu   sync.Mutex
	recs []Record
	err  error
	gate chan struct{}
}

func (s *recordingSink) Record(_ context.Context, rec Record) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return s.err
}

func TestDispatcher_DeliversAndDrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	var results []error
	var mu sync.Mutex
	d := NewDispatcher(sink, DispatcherOptions{Workers: 2, OnResult: func(err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	}})

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Record(context.Background(), NewRecord("c", float64(i), nil)))
	}
	d.Shutdown()

	assert.Len(t, sink.recs, 10)
	assert.Len(t, results, 10)
	assert.ErrorIs(t, d.Record(context.Background(), NewRecord("c", 0, nil)), ErrDispatcherClosed)

	// idempotent
	d.Shutdown()
}

func TestDispatcher_QueueFull(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	d := NewDispatcher(sink, DispatcherOptions{Workers: 1, QueueSize: 1})

	// one in flight (blocked on the gate), one queued, the rest rejected
	var full int
	for i := 0; i < 5; i++ {
		if errors.Is(d.Record(context.Background(), NewRecord("c", 0, nil)), ErrQueueFull) {
			full++
		}
	}
	assert.GreaterOrEqual(t, full, 3)

	close(sink.gate)
	d.Shutdown()
}

func TestDispatcher_ReportsSinkErrors(t *testing.T) {
	boom := errors.New("db down")
	sink := &recordingSink{err: boom}
	var got error
	d := NewDispatcher(sink, DispatcherOptions{Workers: 1, OnResult: func(err error) { got = err }})

	require.NoError(t, d.Record(context.Background(), NewRecord("c", 0, nil)))
	d.Shutdown()
	assert.ErrorIs(t, got, boom)
}
