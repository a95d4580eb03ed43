package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/crawlwatch/pkg/api"
	"github.com/codeready-toolchain/crawlwatch/pkg/cleanup"
	"github.com/codeready-toolchain/crawlwatch/pkg/config"
	"github.com/codeready-toolchain/crawlwatch/pkg/database"
	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/masking"
	"github.com/codeready-toolchain/crawlwatch/pkg/monitor"
	"github.com/codeready-toolchain/crawlwatch/pkg/services"
	"github.com/codeready-toolchain/crawlwatch/pkg/version"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Monitor the engine and serve the dashboard API (default)",
		Long: `Run the crawl monitor and the dashboard API until interrupted.

Terminal sessions are recorded to PostgreSQL when history.enabled is set;
database settings come from DB_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting crawlwatch",
		"version", version.Full(),
		"engine", cfg.Engine.BaseURL,
		"push_enabled", cfg.PushEnabled(),
		"listen", cfg.API.Listen,
		"config_dir", cfg.ConfigDir())

	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.RequestTimeout)

	var (
		opts    []monitor.Option
		history *services.HistoryService
		db      *database.Client
	)
	if cfg.Masking.IsEnabled() {
		opts = append(opts, monitor.WithMasker(masking.NewService(cfg.MaskingServiceConfig())))
	}
	if cfg.History.IsEnabled() {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			return fmt.Errorf("load database config: %w", err)
		}
		db, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database", "host", dbConfig.Host, "database", dbConfig.Database)

		history = services.NewHistoryService(db.DB())
		opts = append(opts, monitor.WithRecorder(history))
	}

	mon := monitor.New(cfg.MonitorConfig(), engineClient, opts...)

	server := api.NewServer(&cfg.API, mon)
	if history != nil {
		server.SetHistory(history)
		server.SetDatabase(db)

		retention := cleanup.NewService(&cfg.History, history)
		retention.Start(ctx)
		defer retention.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	slog.Info("crawlwatch started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("Shutdown complete")
	return err
}
