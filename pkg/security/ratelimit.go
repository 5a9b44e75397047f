package security

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// RateWindow is the sliding window every limiter tier shares.
const RateWindow = 60 * time.Second

// Tier is the per-actor-kind limit: base calls per window plus a burst
// allowance.
type Tier struct {
	Base  int `yaml:"base" json:"base"`
	Burst int `yaml:"burst" json:"burst"`
}

// Limit is the effective per-bucket ceiling.
func (t Tier) Limit() int { return t.Base + t.Burst }

// DefaultTiers is the stock limit table.
func DefaultTiers() map[tenancy.ActorKind]Tier {
	return map[tenancy.ActorKind]Tier{
		tenancy.ActorHuman:  {Base: 60, Burst: 10},
		tenancy.ActorSystem: {Base: 600, Burst: 100},
		tenancy.ActorDevice: {Base: 120, Burst: 20},
		tenancy.ActorAI:     {Base: 30, Burst: 5},
	}
}

// RateResult reports one limiter decision. RetryAfter is advisory.
type RateResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// LimiterStore holds the per-bucket timestamp sets. Implementations must
// evict stamps older than the window, and either record the call or report
// the retry delay derived from the oldest surviving stamp.
type LimiterStore interface {
	Check(ctx context.Context, bucket string, limit int, window time.Duration, now time.Time) (RateResult, error)
}

// RateLimiter applies per-actor-kind tiers over a (actor, tenant) bucket.
// Time is always injected; the limiter never reads the wall clock.
type RateLimiter struct {
	store LimiterStore
	tiers map[tenancy.ActorKind]Tier
	clock kernel.Clock
}

func NewRateLimiter(store LimiterStore, tiers map[tenancy.ActorKind]Tier, clock kernel.Clock) *RateLimiter {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &RateLimiter{store: store, tiers: tiers, clock: clock}
}

// Check consumes one slot from the actor's bucket, or reports the denial.
func (l *RateLimiter) Check(ctx context.Context, actorID, tenantID string, kind tenancy.ActorKind) (RateResult, error) {
	tier, ok := l.tiers[kind]
	if !ok {
		return RateResult{}, fmt.Errorf("security: no limiter tier for actor kind %s", kind)
	}
	bucket := fmt.Sprintf("%s:%s", actorID, tenantID)
	return l.store.Check(ctx, bucket, tier.Limit(), RateWindow, l.clock.Now())
}

// MemoryLimiterStore is the in-memory sliding-window store. Buckets are
// serialised under one mutex so evictions and inserts never interleave.
type MemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
}

func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{buckets: make(map[string][]time.Time)}
}

func (s *MemoryLimiterStore) Check(ctx context.Context, bucket string, limit int, window time.Duration, now time.Time) (RateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	stamps := s.buckets[bucket]

	// Evict stamps that aged past the window.
	keep := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}

	if len(keep) >= limit {
		s.buckets[bucket] = keep
		retry := keep[0].Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return RateResult{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	keep = append(keep, now)
	s.buckets[bucket] = keep
	return RateResult{Allowed: true, Remaining: limit - len(keep)}, nil
}

// RetryAfterSeconds rounds a retry delay up to whole seconds for the
// Retry-After header and rejection envelope.
func RetryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
