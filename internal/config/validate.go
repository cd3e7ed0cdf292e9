package config

import (
	"fmt"

	"github.com/lakesync/lakesync/internal/gateway"
	"github.com/lakesync/lakesync/internal/lakeerr"
)

// Validate checks a decoded Config for the constraints SPEC_FULL §6
// documents: unique non-empty gateway IDs, a non-empty JWT secret per
// gateway, and enum fields restricted to their known values.
func Validate(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.Gateways))

	for _, g := range cfg.Gateways {
		if err := validateGateway(g); err != nil {
			return err
		}

		if _, dup := seen[g.GatewayID]; dup {
			return fmt.Errorf("config: duplicate gateway_id %q: %w", g.GatewayID, lakeerr.ErrInvalidConfig)
		}

		seen[g.GatewayID] = struct{}{}
	}

	switch cfg.Storage.Driver {
	case "memory", "local":
	default:
		return fmt.Errorf("config: storage.driver %q must be memory or local: %w", cfg.Storage.Driver, lakeerr.ErrInvalidConfig)
	}

	if cfg.Storage.Driver == "local" && cfg.Storage.LocalDir == "" {
		return fmt.Errorf("config: storage.local_dir required when driver=local: %w", lakeerr.ErrInvalidConfig)
	}

	switch cfg.Logging.Format {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("config: logging.format %q must be auto, json, or text: %w", cfg.Logging.Format, lakeerr.ErrInvalidConfig)
	}

	return nil
}

func validateGateway(g GatewayConfig) error {
	if g.GatewayID == "" {
		return fmt.Errorf("config: gateway_id is required: %w", lakeerr.ErrInvalidConfig)
	}

	if g.JWTSecret == "" {
		return fmt.Errorf("config: gateway %q: jwt_secret is required: %w", g.GatewayID, lakeerr.ErrInvalidConfig)
	}

	switch gateway.FlushFormat(g.FlushFormat) {
	case gateway.FlushJSON, gateway.FlushParquet:
	default:
		return fmt.Errorf("config: gateway %q: flush_format %q must be json or parquet: %w", g.GatewayID, g.FlushFormat, lakeerr.ErrInvalidConfig)
	}

	switch g.ConsistencyMode {
	case "eventual", "strong":
	default:
		return fmt.Errorf("config: gateway %q: consistency_mode %q must be eventual or strong: %w", g.GatewayID, g.ConsistencyMode, lakeerr.ErrInvalidConfig)
	}

	if g.ConsistencyMode == "strong" {
		if g.PrimaryAdapter == "" {
			return fmt.Errorf("config: gateway %q: primary_adapter is required in strong consistency mode: %w", g.GatewayID, lakeerr.ErrInvalidConfig)
		}

		if _, ok := g.SourceAdapters[g.PrimaryAdapter]; !ok {
			return fmt.Errorf("config: gateway %q: primary_adapter %q not present in source_adapters: %w", g.GatewayID, g.PrimaryAdapter, lakeerr.ErrInvalidConfig)
		}
	}

	return nil
}
