package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/trustgate-dev/trustgate/pkg/cache"
	"github.com/trustgate-dev/trustgate/pkg/logger"
)

const (
	// replaySafetyMargin is added to the token lifetime so the mark outlives
	// clock skew between the issuer and the gateway.
	replaySafetyMargin = 5 * time.Minute

	// replayMinimumTTL is the floor for replay marks.
	replayMinimumTTL = 5 * time.Minute

	// replayFallbackTTL is used when the token carries no usable expiry.
	replayFallbackTTL = 1 * time.Hour

	// revokedTTL keeps out-of-band revocations ahead of natural expiry.
	revokedTTL = 24 * time.Hour

	replayKeyPrefix = "replay:"

	replayStatusSeen    = "seen"
	replayStatusRevoked = "revoked"
)

// ReplayGuard tracks consumed one-time token identifiers in the shared cache
// store. The mark is written with a single atomic check-and-set, so N
// concurrent validations of the same token-id produce exactly one non-replay
// outcome.
type ReplayGuard struct {
	store cache.Store
}

// NewReplayGuard creates a ReplayGuard on the given store.
func NewReplayGuard(store cache.Store) *ReplayGuard {
	return &ReplayGuard{store: store}
}

// CheckAndMark marks tokenID as seen and reports whether it had been seen
// before. The mark lives for the remaining token lifetime plus a safety
// margin. A mark, once applied, is never rolled back; abandoning the request
// mid-validation must not re-open the replay window.
func (g *ReplayGuard) CheckAndMark(ctx context.Context, tokenID string, expiry time.Time) (bool, error) {
	ttl := replayTTL(tokenID, expiry)

	stored, err := g.store.SetNX(ctx, replayKeyPrefix+tokenID, replayStatusSeen, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to mark token-id: %w", err)
	}
	return !stored, nil
}

// Revoke force-marks tokenID as consumed ahead of its natural expiry. The
// mark is held for 24 hours, which must exceed the longest token lifetime
// the trusted issuers mint.
func (g *ReplayGuard) Revoke(ctx context.Context, tokenID string) error {
	if err := g.store.Set(ctx, replayKeyPrefix+tokenID, replayStatusRevoked, revokedTTL); err != nil {
		return fmt.Errorf("failed to revoke token-id: %w", err)
	}
	return nil
}

func replayTTL(tokenID string, expiry time.Time) time.Duration {
	if expiry.IsZero() {
		// A missing expiry degrades replay-window precision but must not
		// block legitimate requests.
		logger.Warnw("token has no usable expiry, using fallback replay TTL",
			"token_id", tokenID,
			"ttl", replayFallbackTTL)
		return replayFallbackTTL
	}

	ttl := time.Until(expiry) + replaySafetyMargin
	if ttl < replayMinimumTTL {
		ttl = replayMinimumTTL
	}
	return ttl
}
