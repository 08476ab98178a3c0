// Package infra provides concrete infrastructure adapters for Redis.
//
// The adapter wraps go-redis v9 and implements trust.RedisClient and
// events.RedisPubSubClient. If Redis is unreachable, main falls back to
// in-memory stores.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 200

// GoRedisAdapter wraps go-redis v9 behind the narrow interfaces the
// trust store and the event relay expect.
type GoRedisAdapter struct {
	rdb     *redis.Client
	scripts sync.Map // source -> *redis.Script
}

// NewGoRedisAdapter connects using a redis:// URL. A non-empty password
// overrides the one in the URL. Returns any connection error; the caller
// decides whether to fall back to in-memory.
func NewGoRedisAdapter(url, password string) (*GoRedisAdapter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.PoolSize = 20

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}

	slog.Info("Redis connected", "addr", opts.Addr, "db", opts.DB)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// Ping checks connectivity.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}

// =============================================================================
// trust.RedisClient implementation
// =============================================================================

func (a *GoRedisAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := a.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (a *GoRedisAdapter) Set(ctx context.Context, key, value string) error {
	return a.rdb.Set(ctx, key, value, 0).Err()
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) (int64, error) {
	return a.rdb.Del(ctx, keys...).Result()
}

// Scan walks the whole keyspace cursor for keys matching the pattern.
func (a *GoRedisAdapter) Scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := a.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// EvalInts runs the script via EVALSHA, loading it on first use.
func (a *GoRedisAdapter) EvalInts(ctx context.Context, script string, keys []string, args ...interface{}) ([]int64, error) {
	s, _ := a.scripts.LoadOrStore(script, redis.NewScript(script))
	return s.(*redis.Script).Run(ctx, a.rdb, keys, args...).Int64Slice()
}

// =============================================================================
// events.RedisPubSubClient implementation
// =============================================================================

func (a *GoRedisAdapter) Publish(ctx context.Context, channel string, message []byte) error {
	return a.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe registers a handler for messages on a Redis Pub/Sub channel.
// Returns an unsubscribe function.
func (a *GoRedisAdapter) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := a.rdb.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
