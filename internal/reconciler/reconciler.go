// Package reconciler implements the post-response Reconciliation and Usage
// Recorder (§4.6): the persistent usage row, the daily rollup, the fast
// rate-limit and budget counters, the active-user set, and the sanitized
// audit log. Every effect here runs after the client response has already
// been sent, so every failure is logged and swallowed; a lost counter or
// audit row is always preferable to a response the client never sees.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jordanhubbard/llmgateway/internal/budget"
	"github.com/jordanhubbard/llmgateway/internal/counters"
	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/quota"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

// activeUsersKey is the rolling set the dashboard reads to show who has
// made a request in the last 5 minutes. Its exact key is opaque to the
// core per §4.6 effect 4; nothing in this package reads it back.
const activeUsersKey = "dashboard:active_users"

const activeUsersTTL = 5 * time.Minute

// Outcome carries everything the recorder needs about one handled request.
// A "handled" response is one that was dispatched to an upstream and got an
// HTTP reply, successful or 4xx; requests rejected before dispatch (auth,
// quota, budget, resolution failures) are never recorded here.
type Outcome struct {
	Principal    domain.Principal
	ModelID      string
	InputTokens  int64
	OutputTokens int64
	LatencyMs    int64
	StatusCode   int
	RequestBody  []byte
	ResponseBody []byte
	ErrorClass   string
}

// Recorder performs the six §4.6 effects for one Outcome.
type Recorder struct {
	store    store.Store
	counters counters.Store
	logger   *slog.Logger
}

func NewRecorder(s store.Store, c counters.Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: s, counters: c, logger: logger}
}

// Record runs all six effects. Callers on the hot path should invoke this in
// a detached goroutine (own context, own timeout) so reconciliation latency
// never delays the client response that has already been written.
func (r *Recorder) Record(ctx context.Context, o Outcome) {
	now := time.Now().UTC()

	r.recordUsageLog(ctx, o, now)
	r.recordDailyUsageStat(ctx, o, now)
	r.recordFastCounters(ctx, o, now)
	r.recordActiveUser(ctx, o)
	r.recordRateLimitUsage(ctx, o, now)
	r.recordRequestLog(ctx, o, now)
}

// recordUsageLog is effect 1.
func (r *Recorder) recordUsageLog(ctx context.Context, o Outcome, now time.Time) {
	log := domain.UsageLog{
		UserID:       o.Principal.User.ID,
		TokenID:      o.Principal.Token.ID,
		ModelID:      o.ModelID,
		InputTokens:  o.InputTokens,
		OutputTokens: o.OutputTokens,
		TotalTokens:  o.InputTokens + o.OutputTokens,
		LatencyMs:    o.LatencyMs,
		DeptName:     o.Principal.User.DeptName,
		CreatedAt:    now,
	}
	if err := r.store.InsertUsageLog(ctx, log); err != nil {
		r.logger.Warn("reconciler: insert usage log failed", slog.String("error", err.Error()))
	}
}

// recordDailyUsageStat is effect 2: one row scoped to this token plus one
// null-apiTokenId aggregate row for the (date, user, model) triple, so the
// dashboard can report both per-token and per-user-per-model totals without
// re-deriving them from the full usage-log table.
func (r *Recorder) recordDailyUsageStat(ctx context.Context, o Outcome, now time.Time) {
	date := now.Format("2006-01-02")
	base := domain.DailyUsageStat{
		Date:         date,
		UserID:       o.Principal.User.ID,
		ModelID:      o.ModelID,
		InputTokens:  o.InputTokens,
		OutputTokens: o.OutputTokens,
		AvgLatencyMs: float64(o.LatencyMs),
	}

	tokenID := o.Principal.Token.ID
	perToken := base
	perToken.APITokenID = &tokenID
	if err := r.store.UpsertDailyUsageStat(ctx, perToken); err != nil {
		r.logger.Warn("reconciler: upsert daily usage stat (per-token) failed", slog.String("error", err.Error()))
	}

	aggregate := base
	aggregate.APITokenID = nil
	if err := r.store.UpsertDailyUsageStat(ctx, aggregate); err != nil {
		r.logger.Warn("reconciler: upsert daily usage stat (aggregate) failed", slog.String("error", err.Error()))
	}
}

// recordFastCounters is effect 3: the per-token day hash, plus per-scope
// monthly output-token counters for user, token, and dept.
func (r *Recorder) recordFastCounters(ctx context.Context, o Outcome, now time.Time) {
	tokenID := o.Principal.Token.ID
	if tokenID != "" {
		dayKey := quota.DayHashKey(tokenID, now)
		if _, err := r.counters.HIncrBy(ctx, dayKey, "inputTokens", o.InputTokens); err != nil {
			r.logger.Warn("reconciler: day hash inputTokens incr failed", slog.String("error", err.Error()))
		}
		if _, err := r.counters.HIncrBy(ctx, dayKey, "outputTokens", o.OutputTokens); err != nil {
			r.logger.Warn("reconciler: day hash outputTokens incr failed", slog.String("error", err.Error()))
		}
		if _, err := r.counters.HIncrBy(ctx, dayKey, "requests", 1); err != nil {
			r.logger.Warn("reconciler: day hash requests incr failed", slog.String("error", err.Error()))
		}
	}

	if o.OutputTokens <= 0 {
		return
	}
	month := budget.CurrentMonth()
	r.incrMonthlyScope(ctx, budget.ScopeUser, o.Principal.User.ID, o.OutputTokens, month)
	r.incrMonthlyScope(ctx, budget.ScopeToken, tokenID, o.OutputTokens, month)
	r.incrMonthlyScope(ctx, budget.ScopeDept, o.Principal.User.DeptName, o.OutputTokens, month)
}

func (r *Recorder) incrMonthlyScope(ctx context.Context, scope budget.Scope, id string, outputTokens int64, month string) {
	if id == "" {
		return
	}
	key := budget.MonthKey(scope, id, month)
	if _, err := r.counters.IncrBy(ctx, key, outputTokens); err != nil {
		r.logger.Warn("reconciler: monthly counter incr failed", slog.String("scope", string(scope)), slog.String("error", err.Error()))
	}
}

// recordActiveUser is effect 4.
func (r *Recorder) recordActiveUser(ctx context.Context, o Outcome) {
	loginID := o.Principal.User.LoginID
	if loginID == "" {
		return
	}
	if err := r.counters.SAdd(ctx, activeUsersKey, activeUsersTTL, loginID); err != nil {
		r.logger.Warn("reconciler: active-user set add failed", slog.String("error", err.Error()))
	}
}

// recordRateLimitUsage is effect 5. Per the resolved open question, a
// counter-store failure here is dropped, not retried: the source drops it
// and a missed increment only ever makes a subsequent check slightly more
// permissive, never incorrect in the unsafe direction.
func (r *Recorder) recordRateLimitUsage(ctx context.Context, o Outcome, now time.Time) {
	tokenID := o.Principal.Token.ID
	if tokenID == "" || o.OutputTokens <= 0 {
		return
	}

	tpmKey := quota.TPMKey(tokenID, now)
	if _, err := r.counters.IncrBy(ctx, tpmKey, o.OutputTokens); err != nil {
		r.logger.Warn("reconciler: tpm incr failed", slog.String("error", err.Error()))
	} else {
		_ = r.counters.Expire(ctx, tpmKey, 120*time.Second)
	}

	tphKey := quota.TPHKey(tokenID, now)
	if _, err := r.counters.IncrBy(ctx, tphKey, o.OutputTokens); err != nil {
		r.logger.Warn("reconciler: tph incr failed", slog.String("error", err.Error()))
	} else {
		_ = r.counters.Expire(ctx, tphKey, 7200*time.Second)
	}
}

// recordRequestLog is effect 6.
func (r *Recorder) recordRequestLog(ctx context.Context, o Outcome, now time.Time) {
	entry := domain.RequestLog{
		Timestamp:    now,
		TokenID:      o.Principal.Token.ID,
		ModelID:      o.ModelID,
		StatusCode:   o.StatusCode,
		LatencyMs:    o.LatencyMs,
		RequestBody:  sanitizeAndTruncate(o.RequestBody, maxRequestLogBytes),
		ResponseBody: sanitizeAndTruncate(o.ResponseBody, maxResponseLogBytes),
		ErrorClass:   o.ErrorClass,
	}
	if err := r.store.InsertRequestLog(ctx, entry); err != nil {
		r.logger.Warn("reconciler: insert request log failed", slog.String("error", err.Error()))
	}
}
