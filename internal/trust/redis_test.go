package trust

import (
	"context"
	"errors"
	"path"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis mimics the commands RedisStore issues, including the adjust
// script's semantics.
type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	err    error
	calls  int
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) fail() error {
	f.calls++
	return f.err
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", false, err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRedis) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.data[key] = value
	return nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return 0, err
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeRedis) Scan(_ context.Context, match string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeRedis) EvalInts(_ context.Context, script string, keys []string, args ...interface{}) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	if script != adjustScript {
		return nil, errors.New("unknown script")
	}
	delta, initial, lo, hi := args[0].(int), args[1].(int), args[2].(int), args[3].(int)
	before, err := strconv.Atoi(f.data[keys[0]])
	if err != nil {
		before = initial
	}
	after := min(max(before+delta, lo), hi)
	f.data[keys[0]] = strconv.Itoa(after)
	return []int64{int64(before), int64(after)}, nil
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisStore(t *testing.T) {
	storeContract(t, func() Store { return NewRedisStore(newFakeRedis(), DefaultBounds()) })
}

func TestRedisStore_KeysAreNamespaced(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisStore(client, DefaultBounds())

	_, err := s.Set(context.Background(), "c1", 55)
	require.NoError(t, err)
	assert.Equal(t, "55", client.data["trust:c1"])
}

func TestRedisStore_UnparsableValueReadsInitial(t *testing.T) {
	client := newFakeRedis()
	client.data["trust:c1"] = "garbage"
	s := NewRedisStore(client, DefaultBounds())

	v, err := s.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 80, v)

	c, err := s.Adjust(context.Background(), "c1", -5)
	require.NoError(t, err)
	assert.Equal(t, Change{Before: 80, After: 75}, c)
}

func TestRedisStore_ErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	client := newFakeRedis()
	client.err = boom
	s := NewRedisStore(client, DefaultBounds())

	_, err := s.Get(context.Background(), "c1")
	assert.ErrorIs(t, err, boom)
	_, err = s.Adjust(context.Background(), "c1", 1)
	assert.ErrorIs(t, err, boom)
	_, err = s.ScanPrefix(context.Background(), "")
	assert.ErrorIs(t, err, boom)
}

func TestRedisStore_DeleteNothing(t *testing.T) {
	client := newFakeRedis()
	n, err := NewRedisStore(client, DefaultBounds()).Delete(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, client.calls)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `user\*1`, escapeGlob("user*1"))
	assert.Equal(t, `a\?\[b\]`, escapeGlob("a?[b]"))
	assert.Equal(t, "plain", escapeGlob("plain"))
}
