package selector

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/counters"
)

const cursorTTL = 7 * 24 * time.Hour

// cursorStore is the narrow slice of counters.Store the round-robin cursor
// needs; satisfied by counters.Store itself.
type cursorStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

var _ cursorStore = counters.Store(nil)

// roundRobin hands out the next starting index into a model's endpoint list
// by incrementing a per-model counter, so every replica advances the same
// shared cursor instead of each keeping its own.
type roundRobin struct {
	store cursorStore
}

func newRoundRobin(store cursorStore) *roundRobin {
	return &roundRobin{store: store}
}

// next returns the starting index for a model with n endpoints. On a
// counter-store failure it falls back to index 0: every replica then starts
// at the same endpoint until the store recovers, which is a throughput
// hiccup, not a correctness problem.
func (r *roundRobin) next(ctx context.Context, modelID string, n int) int {
	if n <= 0 {
		return 0
	}
	key := fmt.Sprintf("counters:rr:%s", modelID)
	v, err := r.store.Incr(ctx, key)
	if err != nil {
		return 0
	}
	_ = r.store.Expire(ctx, key, cursorTTL)
	idx := int(v % int64(n))
	if idx < 0 {
		idx += n
	}
	return idx
}
