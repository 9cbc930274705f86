package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	clock := shared.NewManualClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	store := NewInMemoryIdempotencyStore(clock, 0)
	defer store.Close()
	ctx := context.Background()

	t.Run("first claim wins", func(t *testing.T) {
		ok, err := store.MarkProcessed(ctx, "evt-1:alerts", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.MarkProcessed(ctx, "evt-1:alerts", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)

		processed, err := store.IsProcessed(ctx, "evt-1:alerts")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("claims expire", func(t *testing.T) {
		ok, _ := store.MarkProcessed(ctx, "evt-2:alerts", time.Minute)
		require.True(t, ok)

		clock.Advance(time.Minute)

		processed, _ := store.IsProcessed(ctx, "evt-2:alerts")
		assert.False(t, processed)
		ok, err := store.MarkProcessed(ctx, "evt-2:alerts", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("forget releases a claim", func(t *testing.T) {
		ok, _ := store.MarkProcessed(ctx, "evt-3:dispatch", time.Hour)
		require.True(t, ok)

		require.NoError(t, store.Forget(ctx, "evt-3:dispatch"))

		ok, err := store.MarkProcessed(ctx, "evt-3:dispatch", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	clock := shared.NewManualClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	store := NewInMemoryIdempotencyStore(clock, 0)
	defer store.Close()
	ctx := context.Background()

	_, _ = store.MarkProcessed(ctx, "short", time.Minute)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	clock.Advance(2 * time.Minute)

	store.sweep()

	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_ConcurrentClaims(t *testing.T) {
	store := NewInMemoryIdempotencyStore(nil, 0)
	defer store.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.MarkProcessed(context.Background(), "contended", time.Hour); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestInMemoryIdempotencyStore_CloseIsIdempotent(t *testing.T) {
	store := NewInMemoryIdempotencyStore(nil, time.Millisecond)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestNewIdempotencyStore(t *testing.T) {
	t.Run("in-memory without a Redis host", func(t *testing.T) {
		store, err := NewIdempotencyStore(context.Background(), config.RedisConfig{}, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryIdempotencyStore{}, store)
	})

	t.Run("required Redis without a host fails", func(t *testing.T) {
		_, err := NewIdempotencyStore(context.Background(), config.RedisConfig{Required: true}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("unreachable Redis falls back", func(t *testing.T) {
		store, err := NewIdempotencyStore(context.Background(), config.RedisConfig{Host: "127.0.0.1", Port: 1}, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryIdempotencyStore{}, store)
	})

	t.Run("unreachable required Redis fails", func(t *testing.T) {
		_, err := NewIdempotencyStore(context.Background(), config.RedisConfig{Host: "127.0.0.1", Port: 1, Required: true}, zap.NewNop())
		assert.Error(t, err)
	})
}
