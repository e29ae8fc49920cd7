package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/llmgateway/internal/auth"
	"github.com/jordanhubbard/llmgateway/internal/budget"
	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/events"
	"github.com/jordanhubbard/llmgateway/internal/forwarder"
	"github.com/jordanhubbard/llmgateway/internal/httpapi"
	"github.com/jordanhubbard/llmgateway/internal/logging"
	"github.com/jordanhubbard/llmgateway/internal/metrics"
	"github.com/jordanhubbard/llmgateway/internal/quota"
	"github.com/jordanhubbard/llmgateway/internal/ratelimit"
	"github.com/jordanhubbard/llmgateway/internal/reconciler"
	"github.com/jordanhubbard/llmgateway/internal/resolver"
	"github.com/jordanhubbard/llmgateway/internal/selector"
	"github.com/jordanhubbard/llmgateway/internal/store"
	"github.com/jordanhubbard/llmgateway/internal/tracing"
	"github.com/jordanhubbard/llmgateway/internal/vault"
)

const logPruneRetention = 90 * 24 * time.Hour

// Server wires every request-path and ambient-stack component into a single
// chi router, served on the two addresses named by Config (§6): the
// OpenAI-compatible data plane and the thin admin CRUD plane.
type Server struct {
	cfg Config

	r *chi.Mux

	store        store.Store
	counters     counters.Store
	vault        *vault.Vault
	logger       *slog.Logger
	otelShutdown func(context.Context) error
	rateLimiter  *ratelimit.Limiter
	eventBus     *events.Bus

	stopLogPrune chan struct{}

	httpServers []*http.Server
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled",
			slog.String("endpoint", cfg.OTelEndpoint),
			slog.String("service", cfg.OTelServiceName))
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	envDefaults := domain.RateLimitConfig{RPM: cfg.DefaultRPM, TPM: cfg.DefaultTPM, TPH: cfg.DefaultTPH, TPD: cfg.DefaultTPD}
	if err := quota.SeedDefaults(context.Background(), db, envDefaults, cfg.RateLimitSeedPath, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed rate limit defaults: %w", err)
	}

	cs, err := newCounterStore(cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open counter store: %w", err)
	}

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}
	if cfg.VaultPassword != "" && cfg.VaultEnabled {
		logger.Warn("GATEWAY_VAULT_PASSWORD is set: the vault password is visible in the process environment")
		if err := v.Unlock([]byte(cfg.VaultPassword)); err != nil {
			logger.Error("failed to auto-unlock vault from GATEWAY_VAULT_PASSWORD", slog.String("error", err.Error()))
		} else {
			logger.Info("vault auto-unlocked from GATEWAY_VAULT_PASSWORD")
		}
	}

	if cfg.AdminToken == "" {
		tokenBytes := make([]byte, 32)
		if _, err := rand.Read(tokenBytes); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("generate admin token: %w", err)
		}
		cfg.AdminToken = hex.EncodeToString(tokenBytes)
		logger.Warn("GATEWAY_ADMIN_TOKEN not set — auto-generated an admin token for this process lifetime only",
			slog.String("admin_token", cfg.AdminToken))
	}
	if len(cfg.CORSOrigins) == 0 {
		logger.Warn("GATEWAY_CORS_ORIGINS not set — CORS allows all origins")
	}

	m := metrics.New()
	bus := events.NewBus()

	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, ratelimit.WithCounter(m.IPRateLimitRejects))

	verifier := auth.NewVerifier(db)
	quotaGate := quota.NewGate(cs, db, logger)
	budgetGate := budget.NewGate(cs, db, logger)
	resolv := resolver.NewWithOptions(db, resolver.WithVault(v))
	breaker := selector.NewBreaker(cs)
	sel := selector.New(breaker, cs)
	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.UpstreamTimeoutSecs) * time.Second,
		Transport: tracing.HTTPTransport(nil),
	}
	fwd := forwarder.New(httpClient, breaker, logger)
	recorder := reconciler.NewRecorder(db, cs, logger)

	r := chi.NewRouter()
	r.Use(logging.RequestLogger(logger))
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}
	httpapi.MountRoutes(r, httpapi.Dependencies{
		Verifier:   verifier,
		QuotaGate:  quotaGate,
		BudgetGate: budgetGate,
		Resolver:   resolv,
		Selector:   sel,
		Forwarder:  fwd,
		Recorder:   recorder,
		Store:      db,
		Counters:   cs,
		Metrics:    m,
		Events:     bus,
		Vault:      v,
		IPLimiter:  rl,
		AdminToken: cfg.AdminToken,
	})

	s := &Server{
		cfg:          cfg,
		r:            r,
		store:        db,
		counters:     cs,
		vault:        v,
		logger:       logger,
		otelShutdown: otelShutdown,
		rateLimiter:  rl,
		eventBus:     bus,
		stopLogPrune: make(chan struct{}),
	}

	go s.logPruneLoop()

	return s, nil
}

func newCounterStore(cfg Config, logger *slog.Logger) (counters.Store, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("GATEWAY_REDIS_ADDR not set — using an in-process counter store; quota/budget state will not survive a restart or be shared across replicas")
		return counters.NewFakeStore(), nil
	}
	client, err := counters.NewRedisClient(context.Background(), cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	return counters.NewRedisStore(client), nil
}

// Router returns the single chi.Mux serving both the data plane and the
// admin plane; ListenAndServe binds it to two addresses.
func (s *Server) Router() http.Handler { return s.r }

// Reload applies the hot-reloadable subset of configuration (ambient per-IP
// rate limit and log level) without restarting the process.
func (s *Server) Reload(cfg Config) {
	s.rateLimiter.UpdateLimits(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.logger.Info("configuration reloaded",
		slog.Int("rate_limit_rps", cfg.RateLimitRPS),
		slog.Int("rate_limit_burst", cfg.RateLimitBurst),
		slog.String("log_level", cfg.LogLevel))
}

// ListenAndServe binds the data-plane and admin-plane addresses and blocks
// until ctx is canceled, then gracefully drains both listeners.
func (s *Server) ListenAndServe(ctx context.Context) error {
	proxySrv := &http.Server{Addr: s.cfg.ProxyAddr, Handler: s.r}
	adminSrv := &http.Server{Addr: s.cfg.AdminAddr, Handler: s.r}
	s.httpServers = []*http.Server{proxySrv, adminSrv}

	errCh := make(chan error, 2)
	go func() { errCh <- proxySrv.ListenAndServe() }()
	go func() { errCh <- adminSrv.ListenAndServe() }()
	s.logger.Info("gateway listening", slog.String("proxy_addr", s.cfg.ProxyAddr), slog.String("admin_addr", s.cfg.AdminAddr))

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			_ = s.Close()
			return err
		}
		return s.Close()
	}
}

func (s *Server) Close() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()
	for _, srv := range s.httpServers {
		if err := srv.Shutdown(drainCtx); err != nil {
			s.logger.Warn("HTTP drain error", slog.String("error", err.Error()))
		}
	}

	close(s.stopLogPrune)
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.counters != nil {
		_ = s.counters.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// logPruneLoop periodically deletes old request-log rows per the retention
// window; usage logs and daily stats are never pruned since they feed
// billing reconciliation.
func (s *Server) logPruneLoop() {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			deleted, err := s.store.PruneOldLogs(ctx, logPruneRetention)
			cancel()
			if err != nil {
				s.logger.Warn("log prune failed", slog.String("error", err.Error()))
			} else if deleted > 0 {
				s.logger.Info("old request logs pruned", slog.Int64("deleted", deleted))
			}
		case <-s.stopLogPrune:
			return
		}
	}
}
