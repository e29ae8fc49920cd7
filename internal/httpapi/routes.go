package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jordanhubbard/llmgateway/internal/auth"
	"github.com/jordanhubbard/llmgateway/internal/budget"
	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/events"
	"github.com/jordanhubbard/llmgateway/internal/forwarder"
	"github.com/jordanhubbard/llmgateway/internal/metrics"
	"github.com/jordanhubbard/llmgateway/internal/quota"
	"github.com/jordanhubbard/llmgateway/internal/ratelimit"
	"github.com/jordanhubbard/llmgateway/internal/reconciler"
	"github.com/jordanhubbard/llmgateway/internal/resolver"
	"github.com/jordanhubbard/llmgateway/internal/selector"
	"github.com/jordanhubbard/llmgateway/internal/store"
	"github.com/jordanhubbard/llmgateway/internal/vault"
)

// maxRequestBodyBytes caps the body the gateway is willing to buffer for a
// single chat/embeddings request.
const maxRequestBodyBytes = 25 * 1024 * 1024

// Dependencies is the single DI container the gateway's routes are mounted
// with. Every field the data plane needs is resolved once at startup in
// app.Server and threaded through here, never re-constructed per request.
type Dependencies struct {
	Verifier   *auth.Verifier
	QuotaGate  *quota.Gate
	BudgetGate *budget.Gate
	Resolver   *resolver.Resolver
	Selector   *selector.Selector
	Forwarder  *forwarder.Forwarder
	Recorder   *reconciler.Recorder
	Store      store.Store
	Counters   counters.Store
	Metrics    *metrics.Registry
	Events     *events.Bus
	Vault      *vault.Vault
	IPLimiter  *ratelimit.Limiter

	AdminToken string
}

// MountRoutes wires the full gateway API: the data plane under /v1, the thin
// admin plane under /admin/v1, and the operational endpoints (/v1/health,
// /metrics) the teacher's routes.go groups alongside them.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/v1/health", handleHealth(d))
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodyBytes))
		if d.IPLimiter != nil {
			r.Use(ipRateLimitMiddleware(d.IPLimiter))
		}
		r.Use(authMiddleware(d.Verifier))

		r.Post("/chat/completions", handleChatCompletions(d))
		r.Post("/embeddings", handleEmbeddings(d))
		r.Post("/completions", handleCompletionsNotImplemented(d))
		r.Get("/models", handleListModels(d))
		r.Get("/models/{name}", handleGetModel(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(adminAuthMiddleware(d.AdminToken))

		r.Get("/tokens", handleListTokens(d))
		r.Post("/tokens", handleCreateToken(d))
		r.Put("/tokens/{id}", handleUpdateToken(d))
		r.Delete("/tokens/{id}", handleDeleteToken(d))

		r.Get("/users", handleListUsers(d))
		r.Post("/users", handleCreateUser(d))
		r.Put("/users/{id}", handleUpdateUser(d))

		r.Put("/models/{id}", handleUpsertModel(d))
		r.Delete("/models/{id}", handleDeleteModel(d))
		r.Put("/submodels/{id}", handleUpsertSubModel(d))
		r.Delete("/submodels/{id}", handleDeleteSubModel(d))

		r.Get("/dept-budgets", handleListDeptBudgets(d))
		r.Put("/dept-budgets/{name}", handleUpsertDeptBudget(d))

		r.Put("/rate-limit-config", handleSetRateLimitConfig(d))
	})
}

func ipRateLimitMiddleware(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientIP(r)) {
				writeWireError(w, http.StatusTooManyRequests, kindRateLimit, "too many requests from this address", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
