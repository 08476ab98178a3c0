package trust

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// RedisClient is the subset of Redis the store needs. The concrete go-redis
// adapter lives in internal/infra and is injected from main.
type RedisClient interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) (int64, error)
	// Scan returns every key matching a glob pattern.
	Scan(ctx context.Context, match string) ([]string, error)
	// EvalInts runs a Lua script that returns an array of integers.
	EvalInts(ctx context.Context, script string, keys []string, args ...interface{}) ([]int64, error)
	Close() error
}

// adjustScript reads the score (initial when absent or unparsable), applies
// the delta, clamps, writes back and returns {before, after}. Redis runs
// scripts atomically, so concurrent adjustments from any process serialize.
const adjustScript = `
local before = tonumber(redis.call('GET', KEYS[1]))
if before == nil then
  before = tonumber(ARGV[2])
end
before = math.floor(before)
local after = before + tonumber(ARGV[1])
local lo = tonumber(ARGV[3])
local hi = tonumber(ARGV[4])
if after < lo then after = lo end
if after > hi then after = hi end
redis.call('SET', KEYS[1], after)
return {before, after}
`

// RedisStore keeps scores under trust:<clientId> as decimal strings.
type RedisStore struct {
	client RedisClient
	bounds Bounds
}

// NewRedisStore creates a store over an injected client.
func NewRedisStore(client RedisClient, bounds Bounds) *RedisStore {
	return &RedisStore{client: client, bounds: bounds}
}

func (s *RedisStore) Get(ctx context.Context, clientID string) (int, error) {
	raw, ok, err := s.client.Get(ctx, Key(clientID))
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", clientID, err)
	}
	if !ok {
		return s.bounds.Initial, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("[TrustStore] unparsable score, using initial", "client_id", clientID, "value", raw)
		return s.bounds.Initial, nil
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, clientID string, score int) (int, error) {
	v := s.bounds.Clamp(score)
	if err := s.client.Set(ctx, Key(clientID), strconv.Itoa(v)); err != nil {
		return 0, fmt.Errorf("redis set %s: %w", clientID, err)
	}
	return v, nil
}

func (s *RedisStore) Adjust(ctx context.Context, clientID string, delta int) (Change, error) {
	res, err := s.client.EvalInts(ctx, adjustScript, []string{Key(clientID)},
		delta, s.bounds.Initial, s.bounds.Min, s.bounds.Max)
	if err != nil {
		return Change{}, fmt.Errorf("redis adjust %s: %w", clientID, err)
	}
	if len(res) != 2 {
		return Change{}, fmt.Errorf("redis adjust %s: unexpected reply %v", clientID, res)
	}
	return Change{Before: int(res[0]), After: int(res[1])}, nil
}

func (s *RedisStore) Delete(ctx context.Context, clientIDs ...string) (int, error) {
	if len(clientIDs) == 0 {
		return 0, nil
	}
	keys := make([]string, len(clientIDs))
	for i, id := range clientIDs {
		keys[i] = Key(id)
	}
	n, err := s.client.Del(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.client.Scan(ctx, Key(escapeGlob(prefix))+"*")
	if err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = ClientID(k)
	}
	return ids, nil
}

func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
