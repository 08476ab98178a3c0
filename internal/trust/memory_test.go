package trust

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds_Clamp(t *testing.T) {
	b := DefaultBounds()
	assert.Equal(t, 0, b.Clamp(-5))
	assert.Equal(t, 100, b.Clamp(250))
	assert.Equal(t, 42, b.Clamp(42))
}

func TestKeyNamespace(t *testing.T) {
	assert.Equal(t, "trust:abc", Key("abc"))
	assert.Equal(t, "abc", ClientID("trust:abc"))
}

// storeContract runs the behavior every backend must share.
func storeContract(t *testing.T, newStore func() Store) {
	ctx := context.Background()

	t.Run("unknown client reads initial", func(t *testing.T) {
		s := newStore()
		v, err := s.Get(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, 80, v)
	})

	t.Run("set clamps", func(t *testing.T) {
		s := newStore()
		v, err := s.Set(ctx, "a", 150)
		require.NoError(t, err)
		assert.Equal(t, 100, v)
		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 100, got)
	})

	t.Run("adjust reports effective change", func(t *testing.T) {
		s := newStore()
		c, err := s.Adjust(ctx, "a", -10)
		require.NoError(t, err)
		assert.Equal(t, Change{Before: 80, After: 70}, c)

		c, err = s.Adjust(ctx, "a", 50)
		require.NoError(t, err)
		assert.Equal(t, Change{Before: 70, After: 100}, c)
		assert.Equal(t, 30, c.Applied())

		c, err = s.Adjust(ctx, "a", -500)
		require.NoError(t, err)
		assert.Equal(t, 0, c.After)
	})

	t.Run("clients are independent", func(t *testing.T) {
		s := newStore()
		_, err := s.Adjust(ctx, "a", -30)
		require.NoError(t, err)
		v, err := s.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 80, v)
	})

	t.Run("delete and scan", func(t *testing.T) {
		s := newStore()
		for _, id := range []string{"alpha-1", "alpha-2", "beta"} {
			_, err := s.Set(ctx, id, 50)
			require.NoError(t, err)
		}

		ids, err := s.ScanPrefix(ctx, "alpha")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alpha-1", "alpha-2"}, ids)

		all, err := s.ScanPrefix(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		n, err := s.Delete(ctx, "alpha-1", "missing")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		v, err := s.Get(ctx, "alpha-1")
		require.NoError(t, err)
		assert.Equal(t, 80, v)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func() Store { return NewMemoryStore(DefaultBounds()) })
}

func TestMemoryStore_ConcurrentAdjustIsAtomic(t *testing.T) {
	s := NewMemoryStore(Bounds{Min: 0, Max: 10000, Initial: 5000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Adjust(ctx, "c", 3)
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Adjust(ctx, "c", -1)
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 5100, v)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(DefaultBounds())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Adjust(context.Background(), "a", 1)
	assert.ErrorIs(t, err, ErrClosed)
}
