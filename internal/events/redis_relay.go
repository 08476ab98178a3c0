package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
)

// RedisPubSubClient is a minimal interface for Redis Pub/Sub operations.
type RedisPubSubClient interface {
	Publish(ctx context.Context, channel string, message []byte) error
	// Subscribe registers a callback for messages on a channel and returns
	// an unsubscribe function.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// RedisRelay distributes events across instances through one Redis
// channel. Every instance, including the publisher, receives events through
// its subscription and fans them out to its local EventBus, so SSE clients
// see trust changes from all pods.
type RedisRelay struct {
	*EventBus

	client  RedisPubSubClient
	channel string

	mu     sync.Mutex
	unsub  func()
	closed bool
}

// NewRedisRelay subscribes to channel and returns the relay.
func NewRedisRelay(ctx context.Context, client RedisPubSubClient, channel string) (*RedisRelay, error) {
	if channel == "" {
		channel = "sentinel:events"
	}
	r := &RedisRelay{
		EventBus: NewEventBus(),
		client:   client,
		channel:  channel,
	}
	unsub, err := client.Subscribe(ctx, channel, r.receive)
	if err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	r.unsub = unsub
	slog.Info("[RedisRelay] subscribed", "channel", channel)
	return r, nil
}

func (r *RedisRelay) receive(data []byte) {
	var event CloudEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Warn("[RedisRelay] failed to unmarshal event", "error", err)
		return
	}
	r.EventBus.Publish(&event)
}

// Emit publishes to Redis. When Redis is unavailable the event is still
// delivered to local subscribers.
func (r *RedisRelay) Emit(eventType, source, subject string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, source, subject, data)

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	payload, err := event.JSON()
	if err == nil {
		err = r.client.Publish(context.Background(), r.channel, payload)
	}
	if err != nil {
		slog.Warn("[RedisRelay] publish failed, delivering locally", "type", event.Type, "error", err)
		r.EventBus.Publish(event)
	}
}

// Close drops the Redis subscription.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.unsub != nil {
		r.unsub()
	}
	slog.Info("[RedisRelay] closed")
	return nil
}

var _ EventEmitter = (*RedisRelay)(nil)
