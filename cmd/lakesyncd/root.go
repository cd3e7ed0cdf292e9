package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lakesync/lakesync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var flagConfigPath string

// cliContextKey is the context key for the resolved config/logger pair.
type cliContextKey struct{}

// CLIContext bundles the resolved configuration and logger, set once in
// PersistentPreRunE and read by every subcommand's RunE.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lakesyncd",
		Short:         "LakeSync gateway daemon",
		Long:          "A local-first data-sync gateway and delta lake storage engine.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newCompactCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the
// defaults -> file -> env override chain and stores the result in the
// command's context for use by subcommands.
func loadCLIContext(cmd *cobra.Command) error {
	env := config.ReadEnvOverrides()
	path := config.ResolveConfigPath(env, flagConfigPath, nil)

	cfg, err := config.LoadOrDefault(path, buildLogger(config.LoggingConfig{Level: "warn"}))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}

	logger := buildLogger(cfg.Logging)
	cc := &CLIContext{Cfg: cfg, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}
