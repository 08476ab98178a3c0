package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_TypedAndWildcardSubscribers(t *testing.T) {
	bus := NewEventBus()
	typed := bus.Subscribe(TypeBotDetected)
	all := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Emit(TypeTrustAdjusted, "/ws/stream", "c1", map[string]interface{}{"delta": 1})
	bus.Emit(TypeBotDetected, "/ws/stream", "c1", nil)

	got := <-typed
	assert.Equal(t, TypeBotDetected, got.Type)
	assert.Len(t, typed, 0)

	assert.Equal(t, TypeTrustAdjusted, (<-all).Type)
	assert.Equal(t, TypeBotDetected, (<-all).Type)

	bus.Unsubscribe(typed)
	_, open := <-typed
	assert.False(t, open)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestEventBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < bus.bufferSize*2; i++ {
			bus.Emit(TypeTrustDecayed, "test", "c", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Len(t, ch, bus.bufferSize)
}

func TestCloudEvent_Formats(t *testing.T) {
	ce := NewCloudEvent(TypeTrustAdjusted, "/ws/stream", "c1", map[string]interface{}{"trust": 79})
	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.NotEmpty(t, ce.ID)

	raw, err := ce.JSON()
	require.NoError(t, err)
	var back CloudEvent
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ce.ID, back.ID)
	assert.Equal(t, "c1", back.Subject)

	sse, err := ce.SSEFormat()
	require.NoError(t, err)
	s := string(sse)
	assert.True(t, strings.HasPrefix(s, "event: "+TypeTrustAdjusted+"\n"))
	assert.Contains(t, s, "id: "+ce.ID+"\n")
	assert.True(t, strings.HasSuffix(s, "\n\n"))
}

type fakePubSub struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
	err      error
	unsubbed bool
}

func (f *fakePubSub) Publish(_ context.Context, channel string, message []byte) error {
	f.mu.Lock()
	hs := f.handlers[channel]
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, h := range hs {
		h(message)
	}
	return nil
}

func (f *fakePubSub) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string][]func([]byte))
	}
	f.handlers[channel] = append(f.handlers[channel], handler)
	return func() { f.unsubbed = true }, nil
}

func TestRedisRelay_DeliversAcrossInstances(t *testing.T) {
	redis := &fakePubSub{}
	a, err := NewRedisRelay(context.Background(), redis, "")
	require.NoError(t, err)
	b, err := NewRedisRelay(context.Background(), redis, "")
	require.NoError(t, err)

	subA := a.Subscribe()
	subB := b.Subscribe()

	a.Emit(TypeTrustReset, "/system/reset", "c9", map[string]interface{}{"removed": 1})

	gotA := <-subA
	gotB := <-subB
	assert.Equal(t, gotA.ID, gotB.ID)
	assert.Equal(t, "c9", gotB.Subject)

	require.NoError(t, a.Close())
	assert.True(t, redis.unsubbed)
	require.NoError(t, b.Close())
}

func TestRedisRelay_PublishFailureDeliversLocally(t *testing.T) {
	redis := &fakePubSub{}
	r, err := NewRedisRelay(context.Background(), redis, "x")
	require.NoError(t, err)
	sub := r.Subscribe()

	redis.err = errors.New("down")
	r.Emit(TypeBotDetected, "/ws/stream", "c1", nil)

	select {
	case ev := <-sub:
		assert.Equal(t, TypeBotDetected, ev.Type)
	default:
		t.Fatal("expected local delivery")
	}
}

func TestRedisRelay_IgnoresGarbage(t *testing.T) {
	redis := &fakePubSub{}
	r, err := NewRedisRelay(context.Background(), redis, "x")
	require.NoError(t, err)
	sub := r.Subscribe()

	require.NoError(t, redis.Publish(context.Background(), "x", []byte("not json")))
	assert.Len(t, sub, 0)
}
