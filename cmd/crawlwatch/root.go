package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/crawlwatch/pkg/config"
	"github.com/codeready-toolchain/crawlwatch/pkg/version"
)

// cliOptions is shared by every subcommand. cfg is set before any RunE.
type cliOptions struct {
	configDir string
	cfg       *config.Config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	serveCmd := newServeCmd(opts)

	root := &cobra.Command{
		Use:   "crawlwatch",
		Short: "Live monitor for a remote crawl engine",
		Long: `crawlwatch tracks one crawl session on a remote engine, merging polled
status snapshots and pushed events into a single reconciled view.

Without a subcommand it runs "serve".`,
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd.Context())
		},
		Args: cobra.NoArgs,
		RunE: serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")

	root.AddCommand(serveCmd, newStatusCmd(opts), newHistoryCmd(opts))
	return root
}

// load reads <config-dir>/.env into the environment and resolves the configuration.
func (o *cliOptions) load(ctx context.Context) error {
	envPath := filepath.Join(o.configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Initialize(ctx, o.configDir)
	if err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}
	o.cfg = cfg
	return nil
}
