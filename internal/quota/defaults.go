package quota

import (
	"context"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/llmgateway/internal/domain"
	"github.com/jordanhubbard/llmgateway/internal/store"
)

// migrationBaseline mirrors the row store.Migrate inserts on a fresh
// database (INSERT OR IGNORE INTO rate_limit_config ...). SeedDefaults only
// overwrites the default row while it is still exactly this baseline, so an
// operator who has already customized the row through
// PUT /admin/v1/rate-limit-config is never silently reverted on restart.
var migrationBaseline = domain.RateLimitConfig{RPM: 60, TPM: 100000, TPH: 1000000, TPD: 5000000}

// seedFile is the optional static global default RPM/TPM/TPH/TPD seed
// table an operator may check into config management, loaded once at boot.
type seedFile struct {
	RateLimits struct {
		DefaultRPM int64 `yaml:"default_rpm"`
		DefaultTPM int64 `yaml:"default_tpm"`
		DefaultTPH int64 `yaml:"default_tph"`
		DefaultTPD int64 `yaml:"default_tpd"`
	} `yaml:"rate_limits"`
}

// loadSeedFile reads the optional YAML seed table at path. A missing or
// unreadable path is not an error: the env-var defaults still apply.
func loadSeedFile(path string, logger *slog.Logger) (domain.RateLimitConfig, bool) {
	if path == "" {
		return domain.RateLimitConfig{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RateLimitConfig{}, false
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		logger.Warn("quota: failed to parse rate limit seed file", slog.String("path", path), slog.String("error", err.Error()))
		return domain.RateLimitConfig{}, false
	}
	return domain.RateLimitConfig{
		RPM: f.RateLimits.DefaultRPM,
		TPM: f.RateLimits.DefaultTPM,
		TPH: f.RateLimits.DefaultTPH,
		TPD: f.RateLimits.DefaultTPD,
	}, true
}

// SeedDefaults pre-populates the persistent store's global RateLimitConfig
// row on first run (§4.2). envDefaults comes from GATEWAY_DEFAULT_RPM/TPM/
// TPH/TPD; an optional YAML file at seedPath overrides whichever of those
// four fields it sets to a positive value. The live request path always
// reads the row back from the store (quota.Gate never consults this file
// directly), so this only ever affects what gets written once, at boot.
func SeedDefaults(ctx context.Context, s store.Store, envDefaults domain.RateLimitConfig, seedPath string, logger *slog.Logger) error {
	current, err := s.GetRateLimitConfig(ctx)
	if err != nil {
		return err
	}
	if current != migrationBaseline {
		return nil // already customized by an operator; never overwrite
	}

	seed := envDefaults
	if fileSeed, ok := loadSeedFile(seedPath, logger); ok {
		if fileSeed.RPM > 0 {
			seed.RPM = fileSeed.RPM
		}
		if fileSeed.TPM > 0 {
			seed.TPM = fileSeed.TPM
		}
		if fileSeed.TPH > 0 {
			seed.TPH = fileSeed.TPH
		}
		if fileSeed.TPD > 0 {
			seed.TPD = fileSeed.TPD
		}
		logger.Info("quota: applied rate limit seed file", slog.String("path", seedPath))
	}

	if seed == migrationBaseline {
		return nil
	}
	return s.SetRateLimitConfig(ctx, seed)
}
