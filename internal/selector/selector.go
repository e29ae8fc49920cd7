package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordanhubbard/llmgateway/internal/domain"
)

// ErrNoEndpointAvailable is returned when every candidate endpoint's breaker
// is open.
var ErrNoEndpointAvailable = errors.New("no endpoint available")

// Selector picks a starting endpoint for a model's ordered endpoint list
// using a counter-store-backed round-robin cursor, ordering any endpoint
// whose breaker is currently open after the healthy ones (§4.4).
type Selector struct {
	breaker *Breaker
	rr      *roundRobin
}

// New builds a Selector with its own round-robin cursor backed by store.
func New(breaker *Breaker, store cursorStore) *Selector {
	return &Selector{breaker: breaker, rr: newRoundRobin(store)}
}

// Pick returns the ordered list of endpoints to try, starting from the
// round-robin cursor position, with endpoints whose breaker is open moved
// to the end. The caller's failover loop then walks this list in order. If every
// endpoint is currently open, the full list is still returned (rotated) so
// the forwarder can make one last-resort attempt rather than fail closed;
// ErrNoEndpointAvailable signals that case to the caller for logging.
func (s *Selector) Pick(ctx context.Context, modelID string, endpoints []domain.Endpoint) ([]domain.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("model %s has no endpoints configured", modelID)
	}
	start := s.rr.next(ctx, modelID, len(endpoints))

	rotated := make([]domain.Endpoint, 0, len(endpoints))
	for i := 0; i < len(endpoints); i++ {
		rotated = append(rotated, endpoints[(start+i)%len(endpoints)])
	}

	allOpen := true
	ordered := make([]domain.Endpoint, 0, len(endpoints))
	for _, ep := range rotated {
		if s.breaker.Allow(ctx, ep.URL) {
			allOpen = false
			ordered = append(ordered, ep)
		}
	}
	if allOpen {
		return rotated, ErrNoEndpointAvailable
	}
	// Append the open endpoints after the healthy ones so the list stays
	// complete. The forwarder skips them while any endpoint is allowed.
	for _, ep := range rotated {
		if !s.breaker.Allow(ctx, ep.URL) {
			ordered = append(ordered, ep)
		}
	}
	return ordered, nil
}
