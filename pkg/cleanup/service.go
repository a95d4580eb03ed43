// Package cleanup enforces the crawl history retention window.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/config"
)

// Pruner deletes history rows that ended before cutoff.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically deletes history older than the configured retention.
// Deletes are idempotent, so running it from several replicas is harmless.
type Service struct {
	config *config.HistoryConfig
	pruner Pruner
	now    func() time.Time
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.HistoryConfig, pruner Pruner) *Service {
	return &Service{
		config: cfg,
		pruner: pruner,
		now:    time.Now,
		logger: slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"retention", s.config.Retention,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.prune(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	cutoff := s.now().Add(-s.config.Retention)
	count, err := s.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Retention: history cleanup failed", "error", err)
		}
		return
	}
	if count > 0 {
		s.logger.Info("Retention: deleted old history", "count", count, "cutoff", cutoff)
	}
}
