package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lakesync/lakesync/internal/dbadapter"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to every configured source adapter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cc := cliContextFrom(ctx)
	logger := cc.Logger

	for _, gwCfg := range cc.Cfg.Gateways {
		for name, dsn := range gwCfg.SourceAdapters {
			logger.Info("migrating source adapter", slog.String("gateway", gwCfg.GatewayID), slog.String("adapter", name), slog.String("dsn", dsn))

			adapter, err := dbadapter.Open(ctx, dsn, logger)
			if err != nil {
				return fmt.Errorf("migrate: gateway %q: dsn %q: %w", gwCfg.GatewayID, dsn, err)
			}

			if err := adapter.Close(); err != nil {
				return fmt.Errorf("migrate: gateway %q: dsn %q: close: %w", gwCfg.GatewayID, dsn, err)
			}
		}
	}

	return nil
}
