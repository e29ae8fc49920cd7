package httpapi

import (
	"context"

	"github.com/jordanhubbard/llmgateway/internal/domain"
)

type principalCtxKey struct{}

func withPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// principalFromContext returns the authenticated caller set by authMiddleware.
// Only handlers mounted under a route that uses authMiddleware may call this.
func principalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(domain.Principal)
	return p, ok
}
