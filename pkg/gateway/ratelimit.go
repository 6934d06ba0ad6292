package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/trustgate-dev/trustgate/pkg/cache"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimiter bounds requests per identity over a fixed window. The counter
// lives in the shared cache store with an atomic increment, so the limit
// holds across concurrent gateway processes without in-process lock maps.
type RateLimiter struct {
	store  cache.Store
	limit  int64
	window time.Duration
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
func NewRateLimiter(store cache.Store, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, limit: limit, window: window}
}

// Allow reports whether the identity identified by key may proceed.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.store.Incr(ctx, rateLimitKeyPrefix+key, l.window)
	if err != nil {
		return false, fmt.Errorf("failed to increment rate-limit counter: %w", err)
	}
	return count <= l.limit, nil
}
