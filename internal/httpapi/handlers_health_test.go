package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

func TestHandleHealth_OK(t *testing.T) {
	d, _ := newTestDeps(t)
	h := handleHealth(d)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

// brokenStore wraps a real store.Store but fails GetRateLimitConfig, used to
// exercise the health handler's degraded-store branch.
type brokenStore struct{ store.Store }

func (brokenStore) GetRateLimitConfig(ctx context.Context) (domain.RateLimitConfig, error) {
	return domain.RateLimitConfig{}, errors.New("simulated store outage")
}

func TestHandleHealth_StoreDown(t *testing.T) {
	d, s := newTestDeps(t)
	d.Store = brokenStore{s}
	h := handleHealth(d)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth_RespectsTimeout(t *testing.T) {
	d, _ := newTestDeps(t)
	h := handleHealth(d)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	h.ServeHTTP(rec, req)
	assert.Less(t, time.Since(start), healthCheckTimeout+time.Second)
}
