package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// DefaultStopRetryDelay is the pause before the single stop retry.
const DefaultStopRetryDelay = 500 * time.Millisecond

// Controller is the engine's control surface.
type Controller interface {
	StartCrawl(ctx context.Context, req models.StartRequest) (*models.StartResponse, error)
	StopCrawl(ctx context.Context) error
}

// channelSet opens and closes the per-session poll and push channels.
type channelSet interface {
	openFor(sessionID string) error
	closeAll()
}

// Gateway issues start and stop commands and arbitrates them against the
// current phase. Commands are serialized; phase changes still go through the
// Reconciler.
type Gateway struct {
	mu            sync.Mutex
	engine        Controller
	store         *Store
	reconciler    *Reconciler
	channels      channelSet
	storageTarget string
	retryDelay    time.Duration
	mask          func(string) string

	logger *slog.Logger
}

func newGateway(engine Controller, store *Store, rec *Reconciler, channels channelSet, storageTarget string, retryDelay time.Duration) *Gateway {
	if retryDelay < 0 {
		retryDelay = 0
	}
	return &Gateway{
		engine:        engine,
		store:         store,
		reconciler:    rec,
		channels:      channels,
		storageTarget: storageTarget,
		retryDelay:    retryDelay,
		mask:          func(s string) string { return s },
		logger:        slog.Default().With("component", "gateway"),
	}
}

// StartCrawl asks the engine to crawl targetURL and returns the new session id.
// It fails with ConflictError while a session is active, without contacting
// the engine, whatever targetURL is. Once the engine has accepted the start,
// cancelling ctx no longer affects the outcome.
func (g *Gateway) StartCrawl(ctx context.Context, targetURL string, opts models.CrawlOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.store.Snapshot()
	if cur.Phase.IsActive() {
		return "", &ConflictError{SessionID: cur.SessionID, Phase: cur.Phase}
	}
	if err := validateTarget(targetURL); err != nil {
		return "", err
	}
	// The engine gets the real URL; the session and logs only the masked one.
	shownURL := g.mask(targetURL)

	resp, err := g.engine.StartCrawl(ctx, models.StartRequest{
		URL:           targetURL,
		StorageTarget: g.storageTarget,
		Options:       opts,
	})
	if err != nil {
		g.logger.Warn("Engine rejected start", "target_url", shownURL, "error", err)
		return "", &ControlError{Op: "start", Err: err}
	}

	// A previous terminal session may still hold channels if its teardown
	// has not run yet.
	g.channels.closeAll()

	// The engine is crawling now; the session must be installed and tracked
	// even if the caller went away.
	if err := g.reconciler.submitAndWait(context.WithoutCancel(ctx), startAck{
		sessionID: resp.SessionID,
		targetURL: shownURL,
		options:   opts,
	}); err != nil {
		return "", fmt.Errorf("record start of %s: %w", resp.SessionID, err)
	}
	if got := g.store.Snapshot().SessionID; got != resp.SessionID {
		return "", fmt.Errorf("session %s was not installed (current %q)", resp.SessionID, got)
	}

	if err := g.channels.openFor(resp.SessionID); err != nil {
		g.logger.Error("Failed to open session channels", "session_id", resp.SessionID, "error", err)
	}
	g.logger.Info("Crawl started", "session_id", resp.SessionID, "target_url", shownURL)
	return resp.SessionID, nil
}

// StopCrawl requests a stop. It is a no-op while idle or terminal. The session
// moves to stopping before the request is sent and stays there if the engine
// cannot be reached; the request is retried once.
func (g *Gateway) StopCrawl(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.store.Snapshot()
	if !cur.Phase.IsActive() {
		return nil
	}

	if err := g.reconciler.submitAndWait(ctx, stopRequested{sessionID: cur.SessionID}); err != nil {
		return fmt.Errorf("record stop of %s: %w", cur.SessionID, err)
	}

	err := g.engine.StopCrawl(ctx)
	if err != nil {
		g.logger.Warn("Stop request failed, retrying once",
			"session_id", cur.SessionID, "error", err, "retry_in", g.retryDelay)

		timer := time.NewTimer(g.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &ControlError{Op: "stop", SessionID: cur.SessionID, Err: ctx.Err()}
		case <-timer.C:
		}
		err = g.engine.StopCrawl(ctx)
	}
	if err != nil {
		g.logger.Error("Stop request failed after retry; phase stays stopping until the next snapshot",
			"session_id", cur.SessionID, "error", err)
		return &ControlError{Op: "stop", SessionID: cur.SessionID, Err: err}
	}

	g.logger.Info("Stop requested", "session_id", cur.SessionID)
	return nil
}

// Acknowledge clears a terminal session back to idle. It is a no-op while
// idle and fails with ErrNotTerminal while a session is active.
func (g *Gateway) Acknowledge(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.store.Snapshot()
	switch {
	case cur.Phase == models.PhaseIdle:
		return nil
	case !cur.Phase.IsTerminal():
		return fmt.Errorf("acknowledge %s (%s): %w", cur.SessionID, cur.Phase, ErrNotTerminal)
	}

	g.channels.closeAll()
	return g.reconciler.submitAndWait(ctx, acknowledge{})
}

// teardown closes the channels of a session that reached a terminal phase,
// unless a newer session has replaced it meanwhile.
func (g *Gateway) teardown(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.store.Snapshot().SessionID != sessionID {
		return
	}
	g.channels.closeAll()
	g.logger.Info("Session channels closed", "session_id", sessionID)
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must use http or https", ErrInvalidTarget, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidTarget, raw)
	}
	return nil
}
