// Package budget implements the Budget Gate (§4.3): calendar-month
// output-token ceilings checked in dept → user → token order.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

// Scope identifies which entity's budget was exceeded.
type Scope string

const (
	ScopeDept  Scope = "dept"
	ScopeUser  Scope = "user"
	ScopeToken Scope = "token"
)

// ExceededError is returned when a scope's monthly output-token budget has
// been reached.
type ExceededError struct {
	Scope Scope
	Used  uint64
	Limit uint64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s monthly budget exceeded: %d/%d", e.Scope, e.Used, e.Limit)
}

// Gate checks monthly-output-token budgets ahead of dispatch.
type Gate struct {
	counters counters.Store
	store    store.Store
	logger   *slog.Logger
}

func NewGate(c counters.Store, s store.Store, logger *slog.Logger) *Gate {
	return &Gate{counters: c, store: s, logger: logger}
}

// Check evaluates dept, user, and token budgets in that order, returning the
// first *ExceededError encountered. A missing (nil) budget for a scope skips
// that scope's check; the dept scope is additionally skipped when
// DeptBudget.Enabled is false. A counter-store failure fails open.
func (g *Gate) Check(ctx context.Context, p domain.Principal) error {
	month := CurrentMonth()

	if dept, err := g.store.GetDeptBudget(ctx, p.User.DeptName); err == nil && dept != nil && dept.Enabled {
		if err := g.checkScope(ctx, ScopeDept, p.User.DeptName, dept.MonthlyOutputBudget, month); err != nil {
			return err
		}
	}
	if err := g.checkScope(ctx, ScopeUser, p.User.ID, p.User.MonthlyOutputBudget, month); err != nil {
		return err
	}
	if err := g.checkScope(ctx, ScopeToken, p.Token.ID, p.Token.MonthlyOutputBudget, month); err != nil {
		return err
	}
	return nil
}

// MonthKey is the canonical monthly-output-token counter key (§4.3, §4.6
// effect 3). CurrentMonth returns the month component in the same format.
func MonthKey(scope Scope, id, month string) string {
	return fmt.Sprintf("counters:month:%s:%s:%s", scope, id, month)
}

func CurrentMonth() string { return time.Now().Format("2006-01") }

func (g *Gate) checkScope(ctx context.Context, scope Scope, id string, budget *int64, month string) error {
	if budget == nil || *budget <= 0 || id == "" {
		return nil
	}
	key := MonthKey(scope, id, month)
	used, err := g.counters.Get(ctx, key)
	if err != nil {
		g.logger.Warn("budget: read failed, failing open", slog.String("scope", string(scope)), slog.String("error", err.Error()))
		return nil
	}
	if uint64(used) >= uint64(*budget) {
		return &ExceededError{Scope: scope, Used: uint64(used), Limit: uint64(*budget)}
	}
	return nil
}
