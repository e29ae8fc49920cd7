// Package store is the persistent-store abstraction for the gateway: tokens,
// users, department budgets, models/sub-models, the global rate-limit
// defaults, and the write-only sinks the reconciler populates.
package store

import (
	"context"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/domain"
)

// Store is the persistence interface the data plane and the thin admin
// plane both depend on. A pure-Go SQLite implementation lives in sqlite.go.
type Store interface {
	// Auth lookups.
	GetTokenByPrefix(ctx context.Context, prefix string) ([]domain.ApiToken, error)
	GetToken(ctx context.Context, id string) (*domain.ApiToken, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	TouchTokenAndUser(ctx context.Context, tokenID, userID string, at time.Time) error

	// Quota/budget config.
	GetDeptBudget(ctx context.Context, deptName string) (*domain.DeptBudget, error)
	GetRateLimitConfig(ctx context.Context) (domain.RateLimitConfig, error)

	// Model resolution.
	GetModelByIdentifier(ctx context.Context, identifier string) (*domain.Model, error)
	ListSubModels(ctx context.Context, parentModelID string) ([]domain.SubModel, error)
	ListModels(ctx context.Context) ([]domain.Model, error)

	// Reconciler sinks.
	InsertUsageLog(ctx context.Context, u domain.UsageLog) error
	UpsertDailyUsageStat(ctx context.Context, d domain.DailyUsageStat) error
	InsertRequestLog(ctx context.Context, r domain.RequestLog) error

	// Thin admin CRUD (§6 admin plane).
	CreateToken(ctx context.Context, t domain.ApiToken) error
	UpdateToken(ctx context.Context, t domain.ApiToken) error
	DeleteToken(ctx context.Context, id string) error
	ListTokens(ctx context.Context) ([]domain.ApiToken, error)

	CreateUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)

	UpsertModel(ctx context.Context, m domain.Model) error
	DeleteModel(ctx context.Context, id string) error
	UpsertSubModel(ctx context.Context, sm domain.SubModel) error
	DeleteSubModel(ctx context.Context, id string) error

	UpsertDeptBudget(ctx context.Context, d domain.DeptBudget) error
	ListDeptBudgets(ctx context.Context) ([]domain.DeptBudget, error)
	SetRateLimitConfig(ctx context.Context, cfg domain.RateLimitConfig) error

	PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}
