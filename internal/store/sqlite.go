package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jordanhubbard/llmgateway/internal/domain"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			login_id TEXT NOT NULL UNIQUE,
			dept_name TEXT NOT NULL DEFAULT '',
			monthly_output_budget INTEGER,
			is_banned BOOLEAN NOT NULL DEFAULT 0,
			last_active_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS dept_budgets (
			dept_name TEXT PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			monthly_output_budget INTEGER,
			rpm_limit INTEGER,
			tpm_limit INTEGER,
			tph_limit INTEGER,
			tpd_limit INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS api_tokens (
			id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			prefix TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			expires_at TEXT,
			last_used_at TEXT,
			rpm_limit INTEGER,
			tpm_limit INTEGER,
			tph_limit INTEGER,
			tpd_limit INTEGER,
			monthly_output_budget INTEGER,
			allowed_models TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_tokens_prefix ON api_tokens(prefix)`,
		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			alias TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			endpoint_url TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			extra_headers TEXT NOT NULL DEFAULT '{}',
			upstream_model_name TEXT NOT NULL DEFAULT '',
			max_tokens INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sub_models (
			id TEXT PRIMARY KEY,
			parent_model_id TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			endpoint_url TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			extra_headers TEXT NOT NULL DEFAULT '{}',
			model_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_models_parent ON sub_models(parent_model_id, sort_order)`,
		`CREATE TABLE IF NOT EXISTS rate_limit_config (
			key TEXT PRIMARY KEY CHECK (key = 'default'),
			rpm INTEGER NOT NULL DEFAULT 60,
			tpm INTEGER NOT NULL DEFAULT 100000,
			tph INTEGER NOT NULL DEFAULT 1000000,
			tpd INTEGER NOT NULL DEFAULT 5000000
		)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			dept_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_token ON usage_logs(token_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS daily_usage_stats (
			date TEXT NOT NULL,
			user_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			api_token_id TEXT,
			request_count INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			avg_latency_ms REAL NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_daily_usage_stats_key
			ON daily_usage_stats(date, user_id, model_id, IFNULL(api_token_id, ''))`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			token_id TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			request_body TEXT NOT NULL DEFAULT '',
			response_body TEXT NOT NULL DEFAULT '',
			error_class TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`INSERT OR IGNORE INTO rate_limit_config (key, rpm, tpm, tph, tpd) VALUES ('default', 60, 100000, 1000000, 5000000)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Auth lookups ---

func (s *SQLiteStore) GetTokenByPrefix(ctx context.Context, prefix string) ([]domain.ApiToken, error) {
	rows, err := s.db.QueryContext(ctx, tokenSelectCols+` FROM api_tokens WHERE prefix = ?`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ApiToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetToken(ctx context.Context, id string) (*domain.ApiToken, error) {
	row := s.db.QueryRowContext(ctx, tokenSelectCols+` FROM api_tokens WHERE id = ?`, id)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, login_id, dept_name, monthly_output_budget, is_banned, last_active_at FROM users WHERE id = ?`, id)
	var u domain.User
	var budget sql.NullInt64
	var lastActive sql.NullString
	if err := row.Scan(&u.ID, &u.LoginID, &u.DeptName, &budget, &u.IsBanned, &lastActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if budget.Valid {
		u.MonthlyOutputBudget = &budget.Int64
	}
	if lastActive.Valid {
		if t, err := time.Parse(time.RFC3339, lastActive.String); err == nil {
			u.LastActiveAt = &t
		}
	}
	return &u, nil
}

func (s *SQLiteStore) TouchTokenAndUser(ctx context.Context, tokenID, userID string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, ts, tokenID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_active_at = ? WHERE id = ?`, ts, userID)
	return err
}

// --- Quota/budget config ---

func (s *SQLiteStore) GetDeptBudget(ctx context.Context, deptName string) (*domain.DeptBudget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT dept_name, enabled, monthly_output_budget, rpm_limit, tpm_limit, tph_limit, tpd_limit
		 FROM dept_budgets WHERE dept_name = ?`, deptName)
	var d domain.DeptBudget
	var budget, rpm, tpm, tph, tpd sql.NullInt64
	if err := row.Scan(&d.DeptName, &d.Enabled, &budget, &rpm, &tpm, &tph, &tpd); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	d.MonthlyOutputBudget = nullIntPtr(budget)
	d.RPMLimit = nullIntPtr(rpm)
	d.TPMLimit = nullIntPtr(tpm)
	d.TPHLimit = nullIntPtr(tph)
	d.TPDLimit = nullIntPtr(tpd)
	return &d, nil
}

func (s *SQLiteStore) GetRateLimitConfig(ctx context.Context) (domain.RateLimitConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT rpm, tpm, tph, tpd FROM rate_limit_config WHERE key = 'default'`)
	var cfg domain.RateLimitConfig
	if err := row.Scan(&cfg.RPM, &cfg.TPM, &cfg.TPH, &cfg.TPD); err != nil {
		return domain.RateLimitConfig{}, err
	}
	return cfg, nil
}

func (s *SQLiteStore) SetRateLimitConfig(ctx context.Context, cfg domain.RateLimitConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limit_config (key, rpm, tpm, tph, tpd) VALUES ('default', ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET rpm=excluded.rpm, tpm=excluded.tpm, tph=excluded.tph, tpd=excluded.tpd`,
		cfg.RPM, cfg.TPM, cfg.TPH, cfg.TPD)
	return err
}

// --- Model resolution ---

func (s *SQLiteStore) GetModelByIdentifier(ctx context.Context, identifier string) (*domain.Model, error) {
	row := s.db.QueryRowContext(ctx, modelSelectCols+` FROM models
		 WHERE enabled = 1 AND (id = ? OR name = ? OR alias = ?)`, identifier, identifier, identifier)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListModels(ctx context.Context) ([]domain.Model, error) {
	rows, err := s.db.QueryContext(ctx, modelSelectCols+` FROM models`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSubModels(ctx context.Context, parentModelID string) ([]domain.SubModel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_model_id, sort_order, enabled, endpoint_url, api_key, extra_headers, model_name
		 FROM sub_models WHERE parent_model_id = ? AND enabled = 1 ORDER BY sort_order ASC`, parentModelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SubModel
	for rows.Next() {
		var sm domain.SubModel
		var headersJSON string
		if err := rows.Scan(&sm.ID, &sm.ParentModelID, &sm.SortOrder, &sm.Enabled, &sm.EndpointURL, &sm.APIKey, &headersJSON, &sm.ModelName); err != nil {
			return nil, err
		}
		sm.ExtraHeaders = decodeHeaders(headersJSON)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// --- Reconciler sinks ---

func (s *SQLiteStore) InsertUsageLog(ctx context.Context, u domain.UsageLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (user_id, token_id, model_id, input_tokens, output_tokens, total_tokens, latency_ms, dept_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.TokenID, u.ModelID, u.InputTokens, u.OutputTokens, u.TotalTokens, u.LatencyMs, u.DeptName, time.Now().UTC().Format(time.RFC3339))
	return err
}

// UpsertDailyUsageStat implements the §4.6 rollup. apiTokenId may be null; a
// plain ON CONFLICT on a nullable column collapses differently across SQL
// engines, so nulls are handled with an explicit UPDATE-then-INSERT-if-zero.
func (s *SQLiteStore) UpsertDailyUsageStat(ctx context.Context, d domain.DailyUsageStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	if d.APITokenID == nil {
		res, err = tx.ExecContext(ctx,
			`UPDATE daily_usage_stats SET
				request_count = request_count + 1,
				input_tokens = input_tokens + ?,
				output_tokens = output_tokens + ?,
				avg_latency_ms = (avg_latency_ms * request_count + ?) / (request_count + 1)
			 WHERE date = ? AND user_id = ? AND model_id = ? AND api_token_id IS NULL`,
			d.InputTokens, d.OutputTokens, d.AvgLatencyMs, d.Date, d.UserID, d.ModelID)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE daily_usage_stats SET
				request_count = request_count + 1,
				input_tokens = input_tokens + ?,
				output_tokens = output_tokens + ?,
				avg_latency_ms = (avg_latency_ms * request_count + ?) / (request_count + 1)
			 WHERE date = ? AND user_id = ? AND model_id = ? AND api_token_id = ?`,
			d.InputTokens, d.OutputTokens, d.AvgLatencyMs, d.Date, d.UserID, d.ModelID, *d.APITokenID)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO daily_usage_stats (date, user_id, model_id, api_token_id, request_count, input_tokens, output_tokens, avg_latency_ms)
			 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
			d.Date, d.UserID, d.ModelID, d.APITokenID, d.InputTokens, d.OutputTokens, d.AvgLatencyMs)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertRequestLog(ctx context.Context, r domain.RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (timestamp, token_id, model_id, status_code, latency_ms, request_body, response_body, error_class)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), r.TokenID, r.ModelID, r.StatusCode, r.LatencyMs, r.RequestBody, r.ResponseBody, r.ErrorClass)
	return err
}

func (s *SQLiteStore) PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Admin CRUD ---

func (s *SQLiteStore) CreateToken(ctx context.Context, t domain.ApiToken) error {
	return s.upsertToken(ctx, t)
}

func (s *SQLiteStore) UpdateToken(ctx context.Context, t domain.ApiToken) error {
	return s.upsertToken(ctx, t)
}

func (s *SQLiteStore) upsertToken(ctx context.Context, t domain.ApiToken) error {
	allowed, _ := json.Marshal(t.AllowedModels)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (id, owner_user_id, prefix, key_hash, enabled, expires_at, last_used_at,
			rpm_limit, tpm_limit, tph_limit, tpd_limit, monthly_output_budget, allowed_models)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_user_id=excluded.owner_user_id, prefix=excluded.prefix, key_hash=excluded.key_hash,
		   enabled=excluded.enabled, expires_at=excluded.expires_at, last_used_at=excluded.last_used_at,
		   rpm_limit=excluded.rpm_limit, tpm_limit=excluded.tpm_limit, tph_limit=excluded.tph_limit,
		   tpd_limit=excluded.tpd_limit, monthly_output_budget=excluded.monthly_output_budget,
		   allowed_models=excluded.allowed_models`,
		t.ID, t.OwnerUserID, t.Prefix, t.KeyHash, t.Enabled, timePtrStr(t.ExpiresAt), timePtrStr(t.LastUsedAt),
		intPtrOrNil(t.RPMLimit), intPtrOrNil(t.TPMLimit), intPtrOrNil(t.TPHLimit), intPtrOrNil(t.TPDLimit),
		intPtrOrNil(t.MonthlyOutputBudget), string(allowed))
	return err
}

func (s *SQLiteStore) DeleteToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListTokens(ctx context.Context) ([]domain.ApiToken, error) {
	rows, err := s.db.QueryContext(ctx, tokenSelectCols+` FROM api_tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ApiToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) error {
	return s.upsertUser(ctx, u)
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u domain.User) error {
	return s.upsertUser(ctx, u)
}

func (s *SQLiteStore) upsertUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, login_id, dept_name, monthly_output_budget, is_banned, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   login_id=excluded.login_id, dept_name=excluded.dept_name,
		   monthly_output_budget=excluded.monthly_output_budget, is_banned=excluded.is_banned`,
		u.ID, u.LoginID, u.DeptName, intPtrOrNil(u.MonthlyOutputBudget), u.IsBanned, timePtrStr(u.LastActiveAt))
	return err
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, login_id, dept_name, monthly_output_budget, is_banned, last_active_at FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		var budget sql.NullInt64
		var lastActive sql.NullString
		if err := rows.Scan(&u.ID, &u.LoginID, &u.DeptName, &budget, &u.IsBanned, &lastActive); err != nil {
			return nil, err
		}
		u.MonthlyOutputBudget = nullIntPtr(budget)
		if lastActive.Valid {
			if t, err := time.Parse(time.RFC3339, lastActive.String); err == nil {
				u.LastActiveAt = &t
			}
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertModel(ctx context.Context, m domain.Model) error {
	headers, _ := json.Marshal(m.ExtraHeaders)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (id, name, alias, enabled, endpoint_url, api_key, extra_headers, upstream_model_name, max_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, alias=excluded.alias, enabled=excluded.enabled, endpoint_url=excluded.endpoint_url,
		   api_key=excluded.api_key, extra_headers=excluded.extra_headers,
		   upstream_model_name=excluded.upstream_model_name, max_tokens=excluded.max_tokens`,
		m.ID, m.Name, m.Alias, m.Enabled, m.EndpointURL, m.APIKey, string(headers), m.UpstreamModelName, m.MaxTokens)
	return err
}

func (s *SQLiteStore) DeleteModel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) UpsertSubModel(ctx context.Context, sm domain.SubModel) error {
	headers, _ := json.Marshal(sm.ExtraHeaders)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sub_models (id, parent_model_id, sort_order, enabled, endpoint_url, api_key, extra_headers, model_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   parent_model_id=excluded.parent_model_id, sort_order=excluded.sort_order, enabled=excluded.enabled,
		   endpoint_url=excluded.endpoint_url, api_key=excluded.api_key, extra_headers=excluded.extra_headers,
		   model_name=excluded.model_name`,
		sm.ID, sm.ParentModelID, sm.SortOrder, sm.Enabled, sm.EndpointURL, sm.APIKey, string(headers), sm.ModelName)
	return err
}

func (s *SQLiteStore) DeleteSubModel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sub_models WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) UpsertDeptBudget(ctx context.Context, d domain.DeptBudget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dept_budgets (dept_name, enabled, monthly_output_budget, rpm_limit, tpm_limit, tph_limit, tpd_limit)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(dept_name) DO UPDATE SET
		   enabled=excluded.enabled, monthly_output_budget=excluded.monthly_output_budget,
		   rpm_limit=excluded.rpm_limit, tpm_limit=excluded.tpm_limit, tph_limit=excluded.tph_limit, tpd_limit=excluded.tpd_limit`,
		d.DeptName, d.Enabled, intPtrOrNil(d.MonthlyOutputBudget), intPtrOrNil(d.RPMLimit), intPtrOrNil(d.TPMLimit), intPtrOrNil(d.TPHLimit), intPtrOrNil(d.TPDLimit))
	return err
}

func (s *SQLiteStore) ListDeptBudgets(ctx context.Context) ([]domain.DeptBudget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dept_name, enabled, monthly_output_budget, rpm_limit, tpm_limit, tph_limit, tpd_limit FROM dept_budgets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DeptBudget
	for rows.Next() {
		var d domain.DeptBudget
		var budget, rpm, tpm, tph, tpd sql.NullInt64
		if err := rows.Scan(&d.DeptName, &d.Enabled, &budget, &rpm, &tpm, &tph, &tpd); err != nil {
			return nil, err
		}
		d.MonthlyOutputBudget = nullIntPtr(budget)
		d.RPMLimit = nullIntPtr(rpm)
		d.TPMLimit = nullIntPtr(tpm)
		d.TPHLimit = nullIntPtr(tph)
		d.TPDLimit = nullIntPtr(tpd)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- scan helpers ---

const tokenSelectCols = `SELECT id, owner_user_id, prefix, key_hash, enabled, expires_at, last_used_at,
	rpm_limit, tpm_limit, tph_limit, tpd_limit, monthly_output_budget, allowed_models`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(r rowScanner) (domain.ApiToken, error) {
	var t domain.ApiToken
	var expiresAt, lastUsedAt sql.NullString
	var rpm, tpm, tph, tpd, budget sql.NullInt64
	var allowedJSON string
	if err := r.Scan(&t.ID, &t.OwnerUserID, &t.Prefix, &t.KeyHash, &t.Enabled, &expiresAt, &lastUsedAt,
		&rpm, &tpm, &tph, &tpd, &budget, &allowedJSON); err != nil {
		return domain.ApiToken{}, err
	}
	t.ExpiresAt = nullStrTimePtr(expiresAt)
	t.LastUsedAt = nullStrTimePtr(lastUsedAt)
	t.RPMLimit = nullIntPtr(rpm)
	t.TPMLimit = nullIntPtr(tpm)
	t.TPHLimit = nullIntPtr(tph)
	t.TPDLimit = nullIntPtr(tpd)
	t.MonthlyOutputBudget = nullIntPtr(budget)
	if allowedJSON != "" {
		_ = json.Unmarshal([]byte(allowedJSON), &t.AllowedModels)
	}
	return t, nil
}

const modelSelectCols = `SELECT id, name, alias, enabled, endpoint_url, api_key, extra_headers, upstream_model_name, max_tokens`

func scanModel(r rowScanner) (domain.Model, error) {
	var m domain.Model
	var headersJSON string
	if err := r.Scan(&m.ID, &m.Name, &m.Alias, &m.Enabled, &m.EndpointURL, &m.APIKey, &headersJSON, &m.UpstreamModelName, &m.MaxTokens); err != nil {
		return domain.Model{}, err
	}
	m.ExtraHeaders = decodeHeaders(headersJSON)
	return m, nil
}

func decodeHeaders(raw string) map[string]string {
	headers := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return headers
	}
	_ = json.Unmarshal([]byte(raw), &headers)
	return headers
}

func nullIntPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullStrTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func timePtrStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func intPtrOrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
