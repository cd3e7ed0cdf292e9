package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/lakesync/lakesync/internal/compaction"
	"github.com/lakesync/lakesync/internal/config"
	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/gateway"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/httpapi"
	"github.com/lakesync/lakesync/internal/objectstore"
	"github.com/lakesync/lakesync/internal/schemawatch"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync gateway HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")

	return cmd
}

func runServe(ctx context.Context, addr string) error {
	cc := cliContextFrom(ctx)
	logger := cc.Logger

	store, err := config.BuildStore(cc.Cfg.Storage)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	registry := httpapi.NewRegistry()
	clock := hlc.NewSystem()
	shutdownCtx := shutdownContext(ctx, logger)

	var schedulers []*compaction.Scheduler

	for _, gwCfg := range cc.Cfg.Gateways {
		gw, err := config.BuildGateway(ctx, gwCfg, cc.Cfg.Storage.Prefix, clock, store, logger.With(slog.String("gateway", gwCfg.GatewayID)))
		if err != nil {
			return fmt.Errorf("serve: gateway %q: %w", gwCfg.GatewayID, err)
		}

		registry.Register(gwCfg.GatewayID, gw, []byte(gwCfg.JWTSecret))

		if gwCfg.SchemaWatchDir != "" {
			watcher := schemawatch.New(gwCfg.SchemaWatchDir, gw, logger.With(slog.String("gateway", gwCfg.GatewayID), slog.String("component", "schemawatch")))
			go func() {
				if err := watcher.Run(shutdownCtx); err != nil {
					logger.Warn("schema watcher stopped", slog.String("gateway", gwCfg.GatewayID), slog.String("error", err.Error()))
				}
			}()
		}

		sched := newGatewayScheduler(gwCfg, cc.Cfg, gw, store, logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("serve: gateway %q: start compaction: %w", gwCfg.GatewayID, err)
		}

		schedulers = append(schedulers, sched)

		logger.Info("gateway registered", slog.String("gateway", gwCfg.GatewayID))
	}

	server := httpapi.NewServer(registry, logger)

	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info("shutting down http server")
		if err := httpServer.Shutdown(context.Background()); err != nil {
			logger.Warn("http server shutdown error", slog.String("error", err.Error()))
		}
	}

	for _, sched := range schedulers {
		if err := sched.Stop(); err != nil {
			logger.Warn("compaction scheduler stop error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// newGatewayScheduler wires a per-gateway compaction scheduler whose
// task provider discovers pending delta files and whose runner resolves
// schemas through the live gateway's registered TableSchema, so a
// schema registered after serve starts is picked up on the next tick.
func newGatewayScheduler(gwCfg config.GatewayConfig, cfg *config.Config, gw *gateway.Gateway, store objectstore.Store, logger *slog.Logger) *compaction.Scheduler {
	schemaLookup := func(table string) (deltamodel.TableSchema, bool) {
		schema := gw.TableSchema()
		if schema == nil || schema.Table != table {
			return deltamodel.TableSchema{}, false
		}

		return *schema, true
	}

	runner := compaction.NewDefaultRunner(store, schemaLookup)

	provider := func(ctx context.Context) (*compaction.MaintenanceTask, error) {
		schema := gw.TableSchema()
		if schema == nil {
			return nil, nil
		}

		return compaction.NewStoreTaskProvider(store, cfg.Storage.Prefix, gwCfg.GatewayID, schema.Table)(ctx)
	}

	return compaction.New(config.BuildSchedulerConfig(cfg.Compaction), provider, runner.Run, logger.With(slog.String("component", "compaction")))
}
