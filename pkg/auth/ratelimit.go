package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter checks whether a request should be allowed based on
// the identity's service tier.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
	Burst             int
}

// InProcessLimiter is a fixed-window rate limiter that tracks request
// counts per subject in memory. A burst allowance lets short spikes
// through beyond the per-minute budget.
type InProcessLimiter struct {
	tiers        map[string]TierConfig
	defaultRPM   int
	defaultBurst int
	mu           sync.Mutex
	counters     map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// NewInProcessLimiter creates a rate limiter with per-tier configuration.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM, defaultBurst int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:        tiers,
		defaultRPM:   defaultRPM,
		defaultBurst: defaultBurst,
		counters:     make(map[string]*counter),
	}
}

// Allow checks if the request is within the rate limit.
// Fails open: any internal error allows the request.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}

	rpm := l.defaultRPM
	burst := l.defaultBurst
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
		burst = tc.Burst
	}

	if rpm <= 0 {
		return nil // no limit
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= time.Minute {
		// New window.
		l.counters[key] = &counter{count: 1, windowAt: now}
		return nil
	}

	c.count++
	if c.count > rpm+burst {
		return ErrTooManyRequests
	}

	return nil
}
