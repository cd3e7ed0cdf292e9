package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lakesync/lakesync/internal/buffer"
	"github.com/lakesync/lakesync/internal/catalogue"
	"github.com/lakesync/lakesync/internal/compaction"
	"github.com/lakesync/lakesync/internal/dbadapter"
	"github.com/lakesync/lakesync/internal/gateway"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/lakeerr"
	"github.com/lakesync/lakesync/internal/objectstore"
)

// BuildStore constructs the object-storage backend named by
// StorageConfig.Driver.
func BuildStore(cfg StorageConfig) (objectstore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return objectstore.NewMemoryStore(), nil
	case "local":
		return objectstore.NewLocalStore(cfg.LocalDir), nil
	default:
		return nil, fmt.Errorf("config: storage.driver %q: %w", cfg.Driver, lakeerr.ErrInvalidConfig)
	}
}

// BuildCatalogue constructs the catalogue backend a gateway commits to,
// or nil if the gateway declared neither catalogue_uri nor
// warehouse_uri (disabling catalogue commits entirely, per
// gateway.Config.Catalogue's documented nil-disables contract).
func BuildCatalogue(g GatewayConfig) (catalogue.Catalogue, error) {
	switch {
	case g.CatalogueURI == "" && g.WarehouseURI == "":
		return nil, nil
	case g.WarehouseURI != "":
		return catalogue.NewLocalCatalogue(g.WarehouseURI)
	default:
		return catalogue.NewMemoryCatalogue(), nil
	}
}

// BuildGateway wires one GatewayConfig into a runnable gateway.Gateway,
// reusing the shared store across every gateway in the process (they
// share object-storage layout via their StorePrefix/GatewayID key
// segments, per SPEC_FULL §6). storePrefix is the process-wide
// StorageConfig.Prefix. Every source_adapters entry is opened (applying
// its migrations) and registered under its configured name; in strong
// consistency mode the primary_adapter entry also backs the shared
// buffer's write-through path.
func BuildGateway(ctx context.Context, g GatewayConfig, storePrefix string, clock *hlc.Clock, store objectstore.Store, logger *slog.Logger) (*gateway.Gateway, error) {
	g = applyGatewayDefaults(g)

	if err := validateGateway(g); err != nil {
		return nil, err
	}

	cat, err := BuildCatalogue(g)
	if err != nil {
		return nil, fmt.Errorf("config: gateway %q: build catalogue: %w", g.GatewayID, err)
	}

	adapters := make(map[string]dbadapter.Adapter, len(g.SourceAdapters))

	for name, dsn := range g.SourceAdapters {
		adapter, err := dbadapter.Open(ctx, dsn, logger.With(slog.String("adapter", name)))
		if err != nil {
			return nil, fmt.Errorf("config: gateway %q: open adapter %q: %w", g.GatewayID, name, err)
		}

		adapters[name] = adapter
	}

	mode := buffer.Eventual

	var writeThrough dbadapter.Adapter
	if g.ConsistencyMode == "strong" {
		mode = buffer.Strong
		writeThrough = adapters[g.PrimaryAdapter]
	}

	cfg := gateway.Config{
		GatewayID:        g.GatewayID,
		MaxBufferBytes:   g.MaxBufferBytes,
		MaxBufferAgeMs:   g.MaxBufferAgeMs,
		FlushFormat:      gateway.FlushFormat(g.FlushFormat),
		ConsistencyMode:  mode,
		Catalogue:        cat,
		SourceAdapters:   adapters,
		StorePrefix:      storePrefix,
		ExcludeOwnClient: g.ExcludeOwnClient == nil || *g.ExcludeOwnClient,
	}

	return gateway.New(cfg, clock, writeThrough, store, logger), nil
}

// BuildSchedulerConfig translates CompactionConfig into
// compaction.Config.
func BuildSchedulerConfig(cfg CompactionConfig) compaction.Config {
	return compaction.Config{IntervalMs: cfg.IntervalMs, Enabled: cfg.Enabled}
}
