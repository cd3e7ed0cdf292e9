package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load decodes path into a Config, applies per-gateway defaults, and
// validates the result. Mirrors the teacher's internal/config/load.go
// Load, minus the teacher's second-pass drive-section decode (LakeSync
// has no analogue to per-drive TOML sections).
func Load(path string, logger *slog.Logger) (*Config, error) {
	var cfg Config

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 && logger != nil {
		for _, key := range undecoded {
			logger.Warn("config: unknown key", slog.String("key", key.String()))
		}
	}

	applyDefaultsInPlace(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns DefaultConfig (with no
// gateways) if path does not exist, matching the teacher's
// LoadOrDefault fallback behavior.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("config: no config file found, using defaults", slog.String("path", path))
		}

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// applyDefaultsInPlace fills zero-valued top-level sections and every
// gateway entry with their documented defaults.
func applyDefaultsInPlace(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage = defaultStorageConfig()
	}

	if cfg.Compaction.IntervalMs == 0 {
		cfg.Compaction.IntervalMs = defaultCompactionIntervalMs
	}

	if cfg.Compaction.OutputPrefix == "" {
		cfg.Compaction.OutputPrefix = defaultCompactionOutputDir
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}

	for i, g := range cfg.Gateways {
		cfg.Gateways[i] = applyGatewayDefaults(g)
	}
}

// ResolveConfigPath picks the config file path per the standard
// CLI-flag > env-var > platform-default precedence (teacher's
// ResolveConfigPath in internal/config/load.go).
func ResolveConfigPath(env EnvOverrides, cliPath string, logger *slog.Logger) string {
	if cliPath != "" {
		if logger != nil {
			logger.Debug("config: path from --config flag", slog.String("path", cliPath))
		}

		return cliPath
	}

	if env.ConfigPath != "" {
		if logger != nil {
			logger.Debug("config: path from environment", slog.String("path", env.ConfigPath))
		}

		return env.ConfigPath
	}

	const defaultPath = "/etc/lakesync/lakesyncd.toml"

	if logger != nil {
		logger.Debug("config: path from platform default", slog.String("path", defaultPath))
	}

	return defaultPath
}
