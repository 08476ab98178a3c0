package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResilientStore_HealthyPrimary(t *testing.T) {
	storeContract(t, func() Store {
		return NewResilientStore(NewRedisStore(newFakeRedis(), DefaultBounds()), DefaultBounds(), ResilientOptions{})
	})
}

func TestResilientStore_FallsBackAndOpens(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	var fallbacks []string
	s := NewResilientStore(NewRedisStore(client, DefaultBounds()), DefaultBounds(), ResilientOptions{
		FailureThreshold: 2,
		Timeout:          time.Hour,
		OnFallback:       func(op string) { fallbacks = append(fallbacks, op) },
	})

	// last known value is mirrored locally
	_, err := s.Set(ctx, "c1", 60)
	require.NoError(t, err)

	client.err = errors.New("down")

	c, err := s.Adjust(ctx, "c1", -10)
	require.NoError(t, err)
	assert.Equal(t, Change{Before: 60, After: 50}, c)

	v, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 50, v)
	assert.Equal(t, gobreaker.StateOpen, s.State())

	// open breaker: primary is not touched any more
	callsBefore := client.calls
	_, err = s.Adjust(ctx, "c1", -5)
	require.NoError(t, err)
	assert.Equal(t, callsBefore, client.calls)

	assert.Equal(t, []string{"adjust", "get", "adjust"}, fallbacks)
}

func TestResilientStore_RecoversAfterTimeout(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	s := NewResilientStore(NewRedisStore(client, DefaultBounds()), DefaultBounds(), ResilientOptions{
		FailureThreshold: 1,
		Timeout:          20 * time.Millisecond,
	})

	client.err = errors.New("down")
	_, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, gobreaker.StateOpen, s.State())

	client.err = nil
	time.Sleep(40 * time.Millisecond)

	_, err = s.Set(ctx, "c1", 33)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, s.State())
	assert.Equal(t, "33", client.data["trust:c1"])
}

func TestResilientStore_DeleteClearsBoth(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	s := NewResilientStore(NewRedisStore(client, DefaultBounds()), DefaultBounds(), ResilientOptions{})

	_, err := s.Set(ctx, "c1", 10)
	require.NoError(t, err)

	n, err := s.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	client.err = errors.New("down")
	v, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 80, v)
}

func TestResilientStore_Backend(t *testing.T) {
	s := NewResilientStore(NewMemoryStore(DefaultBounds()), DefaultBounds(), ResilientOptions{})
	assert.Equal(t, "memory+breaker", s.Backend())
}
