package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustgate-dev/trustgate/pkg/cache"
)

func TestReplayGuard_CheckAndMark(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	guard := NewReplayGuard(store)
	ctx := context.Background()

	replayed, err := guard.CheckAndMark(ctx, "jti-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, replayed, "first use must not be a replay")

	replayed, err = guard.CheckAndMark(ctx, "jti-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, replayed, "second use must be a replay")

	replayed, err = guard.CheckAndMark(ctx, "jti-2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, replayed, "distinct token-ids do not interfere")
}

func TestReplayGuard_ConcurrentUseExactlyOneWinner(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	guard := NewReplayGuard(store)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	const goroutines = 50
	var wg sync.WaitGroup
	results := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replayed, err := guard.CheckAndMark(ctx, "jti-contested", expiry)
			assert.NoError(t, err)
			results <- replayed
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	for replayed := range results {
		if !replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one concurrent validation may succeed")
}

func TestReplayGuard_Revoke(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	guard := NewReplayGuard(store)
	ctx := context.Background()

	require.NoError(t, guard.Revoke(ctx, "jti-revoked"))

	replayed, err := guard.CheckAndMark(ctx, "jti-revoked", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, replayed, "a revoked token-id counts as already seen")
}

func TestReplayTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		expiry time.Time
		min    time.Duration
		max    time.Duration
	}{
		{
			name:   "long-lived token gets lifetime plus margin",
			expiry: time.Now().Add(time.Hour),
			min:    time.Hour,
			max:    time.Hour + 2*replaySafetyMargin,
		},
		{
			name:   "nearly expired token gets the floor",
			expiry: time.Now().Add(time.Second),
			min:    replayMinimumTTL,
			max:    replayMinimumTTL + time.Minute,
		},
		{
			name:   "already expired token gets the floor",
			expiry: time.Now().Add(-time.Hour),
			min:    replayMinimumTTL,
			max:    replayMinimumTTL,
		},
		{
			name:   "missing expiry falls back to an hour",
			expiry: time.Time{},
			min:    replayFallbackTTL,
			max:    replayFallbackTTL,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ttl := replayTTL(fmt.Sprintf("jti-%d", i), tt.expiry)
			assert.GreaterOrEqual(t, ttl, tt.min)
			assert.LessOrEqual(t, ttl, tt.max)
		})
	}
}
