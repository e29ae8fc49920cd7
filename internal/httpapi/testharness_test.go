package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/llmgateway/internal/auth"
	"github.com/jordanhubbard/llmgateway/internal/budget"
	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/events"
	"github.com/jordanhubbard/llmgateway/internal/forwarder"
	"github.com/jordanhubbard/llmgateway/internal/metrics"
	"github.com/jordanhubbard/llmgateway/internal/quota"
	"github.com/jordanhubbard/llmgateway/internal/reconciler"
	"github.com/jordanhubbard/llmgateway/internal/resolver"
	"github.com/jordanhubbard/llmgateway/internal/selector"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

const testAdminToken = "admin-test-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDeps wires the Dependencies fields (Vault and IPLimiter left nil) against a real in-memory
// SQLite store and in-process counter store, mirroring how app.NewServer
// constructs the same graph in production.
func newTestDeps(t *testing.T) (Dependencies, store.Store) {
	t.Helper()

	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	cs := counters.NewFakeStore()
	logger := discardLogger()

	breaker := selector.NewBreaker(cs)
	d := Dependencies{
		Verifier:   auth.NewVerifier(s),
		QuotaGate:  quota.NewGate(cs, s, logger),
		BudgetGate: budget.NewGate(cs, s, logger),
		Resolver:   resolver.New(s),
		Selector:   selector.New(breaker, cs),
		Forwarder:  forwarder.New(&http.Client{Timeout: 5 * time.Second}, breaker, logger),
		Recorder:   reconciler.NewRecorder(s, cs, logger),
		Store:      s,
		Counters:   cs,
		Metrics:    metrics.New(),
		Events:     events.NewBus(),
		IPLimiter:  nil,
		AdminToken: testAdminToken,
	}
	return d, s
}

// seedTokenAndModel creates an enabled user, an enabled token for that user,
// and an enabled model pointing at upstreamURL, returning the raw bearer key.
func seedTokenAndModel(t *testing.T, s store.Store, upstreamURL string) (rawKey string, tok domain.ApiToken, model domain.Model) {
	t.Helper()
	ctx := context.Background()

	user := domain.User{ID: "u1", LoginID: "alice"}
	require.NoError(t, s.CreateUser(ctx, user))

	raw, rec, err := auth.GenerateToken(user.ID, "tok1")
	require.NoError(t, err)
	require.NoError(t, s.CreateToken(ctx, rec))

	model = domain.Model{ID: "m1", Name: "gpt-test", Enabled: true, EndpointURL: upstreamURL, UpstreamModelName: "gpt-test-upstream"}
	require.NoError(t, s.UpsertModel(ctx, model))

	return raw, rec, model
}
