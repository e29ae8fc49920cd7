package selector

import (
	"context"
	"testing"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	store := counters.NewFakeStore()
	b := NewBreaker(store, WithThreshold(3), WithCooldown(time.Minute))
	ctx := context.Background()

	assert.True(t, b.Allow(ctx, "http://up"))
	b.RecordFailure(ctx, "http://up")
	b.RecordFailure(ctx, "http://up")
	assert.True(t, b.Allow(ctx, "http://up"))
	b.RecordFailure(ctx, "http://up")
	assert.False(t, b.Allow(ctx, "http://up"))
}

func TestBreaker_SuccessResets(t *testing.T) {
	store := counters.NewFakeStore()
	b := NewBreaker(store, WithThreshold(2))
	ctx := context.Background()

	b.RecordFailure(ctx, "http://up")
	b.RecordSuccess(ctx, "http://up")
	b.RecordFailure(ctx, "http://up")
	assert.True(t, b.Allow(ctx, "http://up"), "single failure after reset should not open the breaker")
}

func TestBreaker_FailsOpenOnStoreError(t *testing.T) {
	store := counters.NewFakeStore()
	store.Failing = true
	b := NewBreaker(store)
	assert.True(t, b.Allow(context.Background(), "http://up"), "a store outage must not block traffic")
}

func TestSelector_RoundRobinsAcrossCalls(t *testing.T) {
	store := counters.NewFakeStore()
	b := NewBreaker(store)
	sel := New(b, store)
	endpoints := []domain.Endpoint{{URL: "a"}, {URL: "b"}, {URL: "c"}}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		ordered, err := sel.Pick(context.Background(), "model-1", endpoints)
		require.NoError(t, err)
		require.Len(t, ordered, 3)
		seen[ordered[0].URL] = true
	}
	assert.Len(t, seen, 3, "three consecutive picks should rotate through all three starting points")
}

func TestSelector_SkipsOpenEndpoints(t *testing.T) {
	store := counters.NewFakeStore()
	b := NewBreaker(store, WithThreshold(1))
	sel := New(b, store)
	endpoints := []domain.Endpoint{{URL: "a"}, {URL: "b"}}

	b.RecordFailure(context.Background(), "a")
	ordered, err := sel.Pick(context.Background(), "model-1", endpoints)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "b", ordered[0].URL)
}

func TestSelector_AllOpenStillReturnsList(t *testing.T) {
	store := counters.NewFakeStore()
	b := NewBreaker(store, WithThreshold(1))
	sel := New(b, store)
	endpoints := []domain.Endpoint{{URL: "a"}, {URL: "b"}}

	b.RecordFailure(context.Background(), "a")
	b.RecordFailure(context.Background(), "b")
	ordered, err := sel.Pick(context.Background(), "model-1", endpoints)
	assert.ErrorIs(t, err, ErrNoEndpointAvailable)
	assert.Len(t, ordered, 2)
}
