package notify

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds the sustained rate and burst of a RateLimited notifier.
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained rate limit.
	MessagesPerSecond float64
	// BurstSize is the maximum burst size.
	BurstSize int
}

// DefaultRateLimit stays under common messenger flood limits.
var DefaultRateLimit = RateLimitConfig{MessagesPerSecond: 25, BurstSize: 5}

// RateLimited delays notifications so the wrapped notifier sees at most the
// configured rate.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket.
func NewRateLimited(next Notifier, cfg RateLimitConfig) *RateLimited {
	if cfg.MessagesPerSecond <= 0 {
		cfg = DefaultRateLimit
	}
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.BurstSize),
	}
}

// Notify waits for a token, then forwards.
func (r *RateLimited) Notify(ctx context.Context, target, text string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Notify(ctx, target, text)
}
