package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/crawlwatch/pkg/config"
	"github.com/codeready-toolchain/crawlwatch/pkg/database"
	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/masking"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/services"
)

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine's current crawl status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printStatus(cmd.Context(), cmd.OutOrStdout(), opts.cfg)
		},
	}
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent recorded crawls",
		Long: `Print recorded crawl sessions, newest first.

Reads the history database configured through DB_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			return printHistory(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of crawls to print")
	return cmd
}

func printStatus(ctx context.Context, out io.Writer, cfg *config.Config) error {
	client := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.RequestTimeout)
	snap, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("fetch crawl status: %w", err)
	}
	line := formatSnapshot(snap)
	if cfg.Masking.IsEnabled() {
		line = masking.NewService(cfg.MaskingServiceConfig()).Mask(line)
	}
	_, err = fmt.Fprintln(out, line)
	return err
}

func printHistory(ctx context.Context, out io.Writer, limit int) error {
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load database config: %w", err)
	}
	db, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	entries, err := services.NewHistoryService(db.DB()).ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err = fmt.Fprintln(out, "no recorded crawls")
		return err
	}
	now := time.Now()
	for _, e := range entries {
		if _, err := fmt.Fprintln(out, formatHistoryEntry(e, now)); err != nil {
			return err
		}
	}
	return nil
}

// formatSnapshot renders one engine status snapshot as a single line.
func formatSnapshot(snap *models.StatusSnapshot) string {
	if snap.SessionID == "" {
		return fmt.Sprintf("no crawl session (%s)", snap.Phase)
	}

	docs, failed := 0, 0
	for _, r := range snap.Results {
		docs += len(r.Documents)
		if r.Status == models.ResultError {
			failed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s: %s, %s, %s",
		snap.SessionID, snap.Phase, snap.TargetURL,
		plural(len(snap.Results), "page"),
		plural(docs, "document"),
		plural(failed, "error"))
	if snap.CurrentURL != "" && !snap.Phase.IsTerminal() {
		fmt.Fprintf(&b, " (at %s)", snap.CurrentURL)
	}
	if snap.Error != "" {
		fmt.Fprintf(&b, " error=%q", snap.Error)
	}
	return b.String()
}

// formatHistoryEntry renders a recorded crawl relative to now.
func formatHistoryEntry(e models.HistoryEntry, now time.Time) string {
	line := fmt.Sprintf("%s %-9s %s: %s, %s, %s, ended %s",
		e.SessionID, e.Status, e.StartURL,
		plural(e.TotalPages, "page"),
		plural(e.TotalDocuments, "document"),
		plural(e.ErrorCount, "error"),
		humanize.RelTime(e.EndedAt, now, "ago", "from now"))
	if !e.StartedAt.IsZero() && e.EndedAt.After(e.StartedAt) {
		line += " after " + e.EndedAt.Sub(e.StartedAt).Round(time.Second).String()
	}
	return line
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return humanize.Comma(int64(n)) + " " + unit + "s"
}
