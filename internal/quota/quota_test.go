package quota

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, counters.Store, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	c := counters.NewFakeStore()
	logger := slog.Default()
	return NewGate(c, s, logger), c, s
}

func principalWithRPM(rpm int64) domain.Principal {
	return domain.Principal{
		Token: domain.ApiToken{ID: "tok1", RPMLimit: &rpm},
		User:  domain.User{ID: "u1", DeptName: ""},
	}
}

func TestGate_RPM_AdmitsUnderLimit(t *testing.T) {
	g, _, _ := newTestGate(t)
	p := principalWithRPM(2)

	require.NoError(t, g.Check(context.Background(), p))
	require.NoError(t, g.Check(context.Background(), p))
}

func TestGate_RPM_RejectsOverLimit(t *testing.T) {
	g, _, _ := newTestGate(t)
	p := principalWithRPM(1)

	require.NoError(t, g.Check(context.Background(), p))
	err := g.Check(context.Background(), p)
	require.Error(t, err)
	rej, ok := err.(*RejectError)
	require.True(t, ok)
	require.Equal(t, DimRPM, rej.Dim)
	require.Equal(t, 60, rej.RetryAfter)
}

func TestGate_FailsOpenOnCounterOutage(t *testing.T) {
	g, c, _ := newTestGate(t)
	p := principalWithRPM(1)
	require.NoError(t, g.Check(context.Background(), p))

	c.(*counters.FakeStore).Failing = true
	require.NoError(t, g.Check(context.Background(), p), "a counter-store outage must admit, not reject")
}

func TestGate_ZeroLimitIsUnlimited(t *testing.T) {
	g, _, _ := newTestGate(t)
	zero := int64(0)
	p := domain.Principal{Token: domain.ApiToken{ID: "tok1", RPMLimit: &zero}, User: domain.User{ID: "u1"}}

	for i := 0; i < 10; i++ {
		require.NoError(t, g.Check(context.Background(), p))
	}
}
