// Package selector picks which upstream endpoint a request should hit: a
// round-robin cursor over a model's endpoint list, gated by a per-endpoint
// circuit breaker (§4.4). Both are backed by the shared counter store so
// state is consistent across every gateway replica, not just the process
// that happens to handle a given request.
package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/counters"
)

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// Breaker is a per-endpoint-URL circuit breaker with exactly two states:
// closed (requests flow) and open (requests are skipped until the cooldown
// elapses). There is no half-open probe state: because any replica may serve
// the next request, a single in-process probe can't be made exclusive across
// the fleet, so the cooldown alone gates the return to closed.
type Breaker struct {
	store     counters.Store
	threshold int64
	cooldown  time.Duration
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the number of consecutive failures required to open the
// breaker for a given endpoint. The default is 5.
func WithThreshold(n int64) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long an endpoint stays open before it is eligible
// again. The default is 30 seconds.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// NewBreaker builds a Breaker backed by the given counter store.
func NewBreaker(store counters.Store, opts ...Option) *Breaker {
	b := &Breaker{store: store, threshold: defaultThreshold, cooldown: defaultCooldown}
	for _, o := range opts {
		o(b)
	}
	return b
}

func openKey(endpointURL string) string { return fmt.Sprintf("cb:%s:openUntil", endpointURL) }
func failKey(endpointURL string) string { return fmt.Sprintf("cb:%s:fails", endpointURL) }

// Allow reports whether endpointURL may be tried right now. A counter-store
// failure fails open: an endpoint is never skipped just because the breaker
// state itself is unreachable.
func (b *Breaker) Allow(ctx context.Context, endpointURL string) bool {
	openUntil, err := b.store.Get(ctx, openKey(endpointURL))
	if err != nil {
		return true
	}
	if openUntil == 0 {
		return true
	}
	return time.Now().Unix() >= openUntil
}

// RecordSuccess resets the endpoint's failure count and clears any open
// state. Errors are ignored: a missed reset just means the endpoint trips
// again one failure sooner than ideal, never a correctness problem.
func (b *Breaker) RecordSuccess(ctx context.Context, endpointURL string) {
	_ = b.store.Set(ctx, failKey(endpointURL), 0, 10*time.Minute)
	_ = b.store.Set(ctx, openKey(endpointURL), 0, 0)
}

// RecordFailure increments the endpoint's consecutive-failure count and
// opens the breaker once the threshold is reached.
func (b *Breaker) RecordFailure(ctx context.Context, endpointURL string) {
	fails, err := b.store.Incr(ctx, failKey(endpointURL))
	if err != nil {
		return
	}
	_ = b.store.Expire(ctx, failKey(endpointURL), 10*time.Minute)
	if fails >= b.threshold {
		_ = b.store.Set(ctx, openKey(endpointURL), time.Now().Add(b.cooldown).Unix(), b.cooldown+time.Minute)
	}
}
