package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

const cacheTTL = 60 * time.Second

type globalSnapshot struct {
	cfg       domain.RateLimitConfig
	expiresAt time.Time
}

type deptSnapshot struct {
	budget    *domain.DeptBudget // nil if the dept has no row (no overrides)
	expiresAt time.Time
}

// limitCache holds the 60-second-TTL, safe-for-concurrent-read snapshots of
// global rate-limit defaults and per-department overrides (§4.2, §5). Each
// snapshot is replaced wholesale via atomic.Pointer rather than mutated in
// place, so readers never observe a torn value.
type limitCache struct {
	store store.Store

	global atomic.Pointer[globalSnapshot]

	deptMu sync.Mutex
	dept   sync.Map // deptName -> *atomic.Pointer[deptSnapshot]
}

func newLimitCache(s store.Store) *limitCache {
	return &limitCache{store: s}
}

func (c *limitCache) snapshot(ctx context.Context, deptName string) (domain.RateLimitConfig, *domain.DeptBudget) {
	return c.globalConfig(ctx), c.deptBudget(ctx, deptName)
}

func (c *limitCache) globalConfig(ctx context.Context) domain.RateLimitConfig {
	if snap := c.global.Load(); snap != nil && time.Now().Before(snap.expiresAt) {
		return snap.cfg
	}
	cfg, err := c.store.GetRateLimitConfig(ctx)
	if err != nil {
		if snap := c.global.Load(); snap != nil {
			return snap.cfg // serve stale on refresh failure rather than zero-value limits
		}
		return domain.RateLimitConfig{}
	}
	c.global.Store(&globalSnapshot{cfg: cfg, expiresAt: time.Now().Add(cacheTTL)})
	return cfg
}

func (c *limitCache) deptBudget(ctx context.Context, deptName string) *domain.DeptBudget {
	if deptName == "" {
		return nil
	}
	ptrAny, _ := c.dept.LoadOrStore(deptName, new(atomic.Pointer[deptSnapshot]))
	ptr := ptrAny.(*atomic.Pointer[deptSnapshot])

	if snap := ptr.Load(); snap != nil && time.Now().Before(snap.expiresAt) {
		return snap.budget
	}

	budget, err := c.store.GetDeptBudget(ctx, deptName)
	if err != nil {
		if snap := ptr.Load(); snap != nil {
			return snap.budget
		}
		return nil
	}
	ptr.Store(&deptSnapshot{budget: budget, expiresAt: time.Now().Add(cacheTTL)})
	return budget
}
