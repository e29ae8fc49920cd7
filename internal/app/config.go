package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-sourced setting the gateway needs at
// startup. Two listeners are bound from one process: the OpenAI-compatible
// data plane (ProxyAddr) and the thin admin CRUD plane (AdminAddr).
type Config struct {
	ProxyAddr string
	AdminAddr string
	LogLevel  string

	DBDSN      string
	RedisAddr  string // empty uses the in-memory fake counter store

	VaultEnabled  bool
	VaultPassword string // auto-unlock vault at startup if set

	DefaultRPM int64
	DefaultTPM int64
	DefaultTPH int64
	DefaultTPD int64

	// RateLimitSeedPath is an optional YAML file overriding the above four
	// defaults on first boot only; see internal/quota.SeedDefaults.
	RateLimitSeedPath string

	UpstreamTimeoutSecs int

	AdminToken     string   // required bearer token for /admin/v1
	Developers     []string // opaque super-admin allowlist
	CORSOrigins    []string // read from GATEWAY_CORS_ORIGINS; MountRoutes allows every origin ("*") regardless
	RateLimitRPS   int      // ambient per-IP requests per second
	RateLimitBurst int      // ambient per-IP burst capacity

	// OpenTelemetry tracing (opt-in).
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	ReplicaOrdinal int // read from GATEWAY_REPLICA_ORDINAL; nothing reads it, and every replica runs quota.SeedDefaults
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ProxyAddr: getEnv("GATEWAY_PROXY_ADDR", fmt.Sprintf(":%d", getEnvInt("GATEWAY_PROXY_PORT", 3000))),
		AdminAddr: getEnv("GATEWAY_ADMIN_ADDR", fmt.Sprintf(":%d", getEnvInt("GATEWAY_ADMIN_PORT", 3001))),
		LogLevel:  getEnv("GATEWAY_LOG_LEVEL", "info"),

		DBDSN:     getEnv("GATEWAY_DB_DSN", "file:/data/gateway.sqlite"),
		RedisAddr: getEnv("GATEWAY_REDIS_ADDR", ""),

		VaultEnabled:  getEnvBool("GATEWAY_VAULT_ENABLED", true),
		VaultPassword: getEnv("GATEWAY_VAULT_PASSWORD", ""),

		DefaultRPM: int64(getEnvInt("GATEWAY_DEFAULT_RPM", 60)),
		DefaultTPM: int64(getEnvInt("GATEWAY_DEFAULT_TPM", 100000)),
		DefaultTPH: int64(getEnvInt("GATEWAY_DEFAULT_TPH", 1000000)),
		DefaultTPD: int64(getEnvInt("GATEWAY_DEFAULT_TPD", 10000000)),

		RateLimitSeedPath: getEnv("GATEWAY_RATE_LIMIT_SEED_PATH", ""),

		UpstreamTimeoutSecs: getEnvInt("GATEWAY_UPSTREAM_TIMEOUT_SECS", 110),

		AdminToken:     getEnv("GATEWAY_ADMIN_TOKEN", ""),
		Developers:     getEnvStringSlice("GATEWAY_DEVELOPERS", nil),
		CORSOrigins:    getEnvStringSlice("GATEWAY_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("GATEWAY_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("GATEWAY_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("GATEWAY_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("GATEWAY_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("GATEWAY_OTEL_SERVICE_NAME", "llmgateway"),

		ReplicaOrdinal: getEnvInt("GATEWAY_REPLICA_ORDINAL", 0),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.UpstreamTimeoutSecs <= 0 {
		return fmt.Errorf("GATEWAY_UPSTREAM_TIMEOUT_SECS must be > 0, got %d", c.UpstreamTimeoutSecs)
	}
	if c.DefaultRPM <= 0 || c.DefaultTPM <= 0 || c.DefaultTPH <= 0 || c.DefaultTPD <= 0 {
		return fmt.Errorf("GATEWAY_DEFAULT_RPM/TPM/TPH/TPD must all be > 0")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
