// Package domain holds the gateway's persisted entities and the pure value
// types (Limit, Outcome) used by the request-path components.
package domain

import "time"

// ApiToken is an opaque bearer credential issued to one owning user.
type ApiToken struct {
	ID               string
	OwnerUserID      string
	Prefix           string // first 12 bytes of the raw key, non-unique lookup index
	KeyHash          string // hex-encoded sha256(raw key); the only authoritative proof
	Enabled          bool
	ExpiresAt        *time.Time
	LastUsedAt       *time.Time
	RPMLimit         *int64
	TPMLimit         *int64
	TPHLimit         *int64
	TPDLimit         *int64
	MonthlyOutputBudget *int64
	AllowedModels    []string // empty = all models allowed
}

// User is the human or service principal that owns zero or more ApiTokens.
type User struct {
	ID                  string
	LoginID             string
	DeptName            string
	MonthlyOutputBudget *int64
	IsBanned            bool
	LastActiveAt        *time.Time
}

// DeptBudget holds department-wide overrides, applied only when Enabled.
type DeptBudget struct {
	DeptName            string
	Enabled             bool
	MonthlyOutputBudget *int64
	RPMLimit            *int64
	TPMLimit            *int64
	TPHLimit            *int64
	TPDLimit            *int64
}

// Model is a logical model name exposed to clients, backed by a primary
// upstream endpoint plus zero or more SubModels.
type Model struct {
	ID                 string
	Name               string
	Alias              string
	Enabled            bool
	EndpointURL        string
	APIKey             string
	ExtraHeaders       map[string]string
	UpstreamModelName  string // sent to upstream in place of Name; falls back to Name
	MaxTokens          int
}

// SubModel augments a Model's endpoint list with an additional upstream
// target, tried in SortOrder after the primary.
type SubModel struct {
	ID            string
	ParentModelID string
	SortOrder     int
	Enabled       bool
	EndpointURL   string
	APIKey        string
	ExtraHeaders  map[string]string
	ModelName     string // override; empty means inherit from parent
}

// RateLimitConfig is the singleton "default" row providing global fallbacks.
type RateLimitConfig struct {
	RPM int64
	TPM int64
	TPH int64
	TPD int64
}

// Endpoint is one resolved forwarding target in a model's ordered endpoint
// list: the primary or one enabled SubModel, with defaults already applied.
type Endpoint struct {
	URL          string
	APIKey       string
	ModelName    string
	ExtraHeaders map[string]string
}

// UsageLog is a persisted record of one handled request's token accounting.
type UsageLog struct {
	ID            int64
	UserID        string
	TokenID       string
	ModelID       string
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	LatencyMs     int64
	DeptName      string
	CreatedAt     time.Time
}

// DailyUsageStat is the per-(date,user,model,token) rollup row.
type DailyUsageStat struct {
	Date          string // YYYY-MM-DD
	UserID        string
	ModelID       string
	APITokenID    *string // nullable: aggregate row when absent
	RequestCount  int64
	InputTokens   int64
	OutputTokens  int64
	AvgLatencyMs  float64
}

// RequestLog is the sanitized audit copy of a single proxied request.
type RequestLog struct {
	ID              int64
	Timestamp       time.Time
	TokenID         string
	ModelID         string
	StatusCode      int
	LatencyMs       int64
	RequestBody     string
	ResponseBody    string
	ErrorClass      string
}

// Principal is the authenticated caller's resolved identity, produced by
// Auth and threaded through the remaining gates.
type Principal struct {
	Token ApiToken
	User  User
}
