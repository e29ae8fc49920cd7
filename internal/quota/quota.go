// Package quota implements the Quota Gate (§4.2): per-token RPM sliding
// window plus TPM/TPH/TPD fixed-window ceilings, resolved through the
// token → dept → global inheritance chain.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

// Dimension identifies which of the four limits a rejection or lookup
// concerns.
type Dimension string

const (
	DimRPM Dimension = "rpm"
	DimTPM Dimension = "tpm"
	DimTPH Dimension = "tph"
	DimTPD Dimension = "tpd"
)

var retryAfter = map[Dimension]int{
	DimRPM: 60,
	DimTPM: 60,
	DimTPH: 600,
	DimTPD: 3600,
}

// RejectError is returned when a dimension's effective limit is exceeded.
type RejectError struct {
	Dim        Dimension
	Current    uint64
	Limit      uint64
	RetryAfter int
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d/%d", e.Dim, e.Current, e.Limit)
}

// Gate enforces the four rate-limit dimensions ahead of dispatch.
type Gate struct {
	counters counters.Store
	store    store.Store
	logger   *slog.Logger

	cache *limitCache
}

func NewGate(c counters.Store, s store.Store, logger *slog.Logger) *Gate {
	return &Gate{counters: c, store: s, logger: logger, cache: newLimitCache(s)}
}

// Check runs all four dimensions for the given principal. It returns a
// *RejectError on the first dimension that is over limit (checked in RPM,
// TPM, TPH, TPD order), or nil if every dimension admits the request. A
// counter-store failure on any dimension is logged and treated as an admit
// for that dimension (fail-open, §4.2/§7).
func (g *Gate) Check(ctx context.Context, p domain.Principal) error {
	global, dept := g.cache.snapshot(ctx, p.User.DeptName)

	now := time.Now().UTC()

	if err := g.checkRPM(ctx, p, global, dept, now); err != nil {
		return err
	}
	if err := g.checkTPM(ctx, p, global, dept); err != nil {
		return err
	}
	if err := g.checkTPH(ctx, p, global, dept); err != nil {
		return err
	}
	if err := g.checkTPD(ctx, p, global, dept); err != nil {
		return err
	}
	return nil
}

func (g *Gate) deptEnabled(dept *domain.DeptBudget) bool {
	return dept != nil && dept.Enabled
}

func (g *Gate) checkRPM(ctx context.Context, p domain.Principal, global domain.RateLimitConfig, dept *domain.DeptBudget, now time.Time) error {
	ceiling, unlimited := domain.ResolveLimit(
		domain.LimitFromNullable(p.Token.RPMLimit),
		deptLimit(dept, func(d *domain.DeptBudget) *int64 { return d.RPMLimit }),
		g.deptEnabled(dept),
		domain.Cap(uint64(global.RPM)),
	)

	key := RPMKey(p.Token.ID)
	windowStart := float64(now.Add(-60 * time.Second).UnixMilli())

	if err := g.counters.ZRemRangeByScore(ctx, key, 0, windowStart); err != nil {
		g.logger.Warn("quota: rpm housekeeping failed, failing open", slog.String("error", err.Error()))
		return nil
	}

	count, err := g.counters.ZCard(ctx, key)
	if err != nil {
		g.logger.Warn("quota: rpm count failed, failing open", slog.String("error", err.Error()))
		return nil
	}

	if !unlimited && uint64(count) >= ceiling {
		return &RejectError{Dim: DimRPM, Current: uint64(count), Limit: ceiling, RetryAfter: retryAfter[DimRPM]}
	}

	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.Itoa(rand.Intn(1_000_000))
	if err := g.counters.ZAdd(ctx, key, float64(now.UnixMilli()), member); err != nil {
		g.logger.Warn("quota: rpm insert failed", slog.String("error", err.Error()))
	}
	_ = g.counters.Expire(ctx, key, 120*time.Second)
	return nil
}

func (g *Gate) checkTPM(ctx context.Context, p domain.Principal, global domain.RateLimitConfig, dept *domain.DeptBudget) error {
	ceiling, unlimited := domain.ResolveLimit(
		domain.LimitFromNullable(p.Token.TPMLimit),
		deptLimit(dept, func(d *domain.DeptBudget) *int64 { return d.TPMLimit }),
		g.deptEnabled(dept),
		domain.Cap(uint64(global.TPM)),
	)
	if unlimited {
		return nil
	}
	key := TPMKey(p.Token.ID, time.Now().UTC())
	used, err := g.counters.Get(ctx, key)
	if err != nil {
		g.logger.Warn("quota: tpm read failed, failing open", slog.String("error", err.Error()))
		return nil
	}
	if uint64(used) >= ceiling {
		return &RejectError{Dim: DimTPM, Current: uint64(used), Limit: ceiling, RetryAfter: retryAfter[DimTPM]}
	}
	return nil
}

func (g *Gate) checkTPH(ctx context.Context, p domain.Principal, global domain.RateLimitConfig, dept *domain.DeptBudget) error {
	ceiling, unlimited := domain.ResolveLimit(
		domain.LimitFromNullable(p.Token.TPHLimit),
		deptLimit(dept, func(d *domain.DeptBudget) *int64 { return d.TPHLimit }),
		g.deptEnabled(dept),
		domain.Cap(uint64(global.TPH)),
	)
	if unlimited {
		return nil
	}
	key := TPHKey(p.Token.ID, time.Now().UTC())
	used, err := g.counters.Get(ctx, key)
	if err != nil {
		g.logger.Warn("quota: tph read failed, failing open", slog.String("error", err.Error()))
		return nil
	}
	if uint64(used) >= ceiling {
		return &RejectError{Dim: DimTPH, Current: uint64(used), Limit: ceiling, RetryAfter: retryAfter[DimTPH]}
	}
	return nil
}

func (g *Gate) checkTPD(ctx context.Context, p domain.Principal, global domain.RateLimitConfig, dept *domain.DeptBudget) error {
	ceiling, unlimited := domain.ResolveLimit(
		domain.LimitFromNullable(p.Token.TPDLimit),
		deptLimit(dept, func(d *domain.DeptBudget) *int64 { return d.TPDLimit }),
		g.deptEnabled(dept),
		domain.Cap(uint64(global.TPD)),
	)
	if unlimited {
		return nil
	}
	key := DayHashKey(p.Token.ID, time.Now().UTC())
	fields, err := g.counters.HGetAll(ctx, key)
	if err != nil {
		g.logger.Warn("quota: tpd read failed, failing open", slog.String("error", err.Error()))
		return nil
	}
	used, _ := strconv.ParseUint(fields["outputTokens"], 10, 64)
	if used >= ceiling {
		return &RejectError{Dim: DimTPD, Current: used, Limit: ceiling, RetryAfter: retryAfter[DimTPD]}
	}
	return nil
}

// RPMKey, TPMKey, TPHKey and DayHashKey are the canonical key builders for
// the fast-counter schema of §4.2/§4.6. The reconciler's post-response
// recording (§4.6 effects 3 and 5) must write to exactly these keys for the
// pre-check reads above to observe them.
func RPMKey(tokenID string) string { return fmt.Sprintf("rl:rpm:%s", tokenID) }

func TPMKey(tokenID string, at time.Time) string {
	return fmt.Sprintf("rl:tpm:%s:%s", tokenID, at.Format("2006-01-02T15:04"))
}

func TPHKey(tokenID string, at time.Time) string {
	return fmt.Sprintf("rl:tph:%s:%s", tokenID, at.Format("2006-01-02T15"))
}

func DayHashKey(tokenID string, at time.Time) string {
	return fmt.Sprintf("token_usage:%s:%s", tokenID, at.Format("2006-01-02"))
}

func deptLimit(dept *domain.DeptBudget, pick func(*domain.DeptBudget) *int64) domain.Limit {
	if dept == nil {
		return domain.Inherit()
	}
	return domain.LimitFromNullable(pick(dept))
}
