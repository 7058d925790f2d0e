package pkg

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSet(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get", func(t *testing.T) {
		s := NewStore()
		defer s.Close()

		require.NoError(t, s.Set(ctx, "key", []byte("value")))
		got, err := s.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), got)
	})

	t.Run("missing key", func(t *testing.T) {
		s := NewStore()
		defer s.Close()

		_, err := s.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("set replaces", func(t *testing.T) {
		s := NewStore()
		defer s.Close()

		require.NoError(t, s.Set(ctx, "key", []byte("one")))
		require.NoError(t, s.Set(ctx, "key", []byte("two")))

		got, err := s.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("returned bytes are a copy", func(t *testing.T) {
		s := NewStore()
		defer s.Close()

		require.NoError(t, s.Set(ctx, "key", []byte("value")))
		got, err := s.Get(ctx, "key")
		require.NoError(t, err)
		got[0] = 'X'

		again, err := s.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), again)
	})

	t.Run("stored bytes are a copy", func(t *testing.T) {
		s := NewStore()
		defer s.Close()

		value := []byte("value")
		require.NoError(t, s.Set(ctx, "key", value))
		value[0] = 'X'

		got, err := s.Get(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), got)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := NewStore()
		defer s.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, s.Set(cancelled, "key", []byte("v")), context.Canceled)
		_, err := s.Get(cancelled, "key")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStoreGetAll(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, []byte("1"), all["a"])

	// Mutating the copy must not touch the store.
	all["a"][0] = 'X'
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Len())

	// Still usable after clear.
	assert.NoError(t, s.Set(ctx, "b", []byte("2")))
}

func TestStoreClose(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Set(ctx, "b", []byte("2")), ErrStoreClosed)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.GetAll(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Clear(), ErrStoreClosed)

	t.Run("idempotent", func(t *testing.T) {
		assert.NoError(t, s.Close())
	})
}

func TestStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	s.Get(ctx, "a")
	s.Get(ctx, "a")
	s.Get(ctx, "absent")

	stats := s.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Set(ctx, fmt.Sprintf("key-%d-%d", i, j), []byte("v"))
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Get(ctx, fmt.Sprintf("key-%d-%d", i, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 500, s.Len())
}
