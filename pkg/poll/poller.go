// Package poll periodically fetches full status snapshots from the crawl engine.
// It is the fallback path when the push stream is unavailable, so failures
// never stop it.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// DefaultStaleAfterFailures is the number of consecutive failed requests after
// which the poll path is advertised as stale.
const DefaultStaleAfterFailures = 3

// ErrAlreadyStarted is returned by Start on a running poller.
var ErrAlreadyStarted = errors.New("poller already started")

// Fetcher returns one status snapshot. Implemented by engine.Client.
type Fetcher interface {
	Status(ctx context.Context) (*models.StatusSnapshot, error)
}

// Handler receives poll results. Calls never overlap.
type Handler interface {
	HandleSnapshot(snap *models.StatusSnapshot)
	HandlePollHealth(health models.PollHealth)
}

// Config tunes a Poller.
type Config struct {
	// StaleAfterFailures defaults to DefaultStaleAfterFailures.
	StaleAfterFailures int
	// RequestTimeout bounds one request. Zero means the polling interval.
	RequestTimeout time.Duration
}

// Poller issues at most one status request at a time on a fixed interval.
type Poller struct {
	fetcher        Fetcher
	handler        Handler
	staleAfter     int
	requestTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	fetches sync.WaitGroup

	// inFlight is set while a request is outstanding. failures and health are
	// only touched by the goroutine holding it.
	inFlight atomic.Bool
	failures int
	health   models.PollHealth

	requests atomic.Int64
	skipped  atomic.Int64

	logger *slog.Logger
}

// NewPoller creates a stopped poller.
func NewPoller(fetcher Fetcher, handler Handler, cfg Config) *Poller {
	staleAfter := cfg.StaleAfterFailures
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfterFailures
	}
	return &Poller{
		fetcher:        fetcher,
		handler:        handler,
		staleAfter:     staleAfter,
		requestTimeout: cfg.RequestTimeout,
		health:         models.PollHealthUnknown,
		logger:         slog.Default().With("component", "poll"),
	}
}

// Start issues the first request immediately, then one per interval.
func (p *Poller) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", interval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	timeout := p.requestTimeout
	if timeout <= 0 {
		timeout = interval
	}

	go p.loop(loopCtx, p.done, interval, timeout)
	p.logger.Info("Poller started", "interval", interval, "request_timeout", timeout)
	return nil
}

// Stop cancels the timer and any outstanding request, and waits for the
// tick loop and the request to finish. Results of the cancelled request are
// discarded, so the Handler is never called after Stop returns. Stop is
// idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.fetches.Wait()
	p.logger.Info("Poller stopped",
		"requests", p.requests.Load(),
		"skipped_ticks", p.skipped.Load())
}

// Requests returns the number of requests issued.
func (p *Poller) Requests() int64 {
	return p.requests.Load()
}

// SkippedTicks returns the number of ticks skipped because a request was outstanding.
func (p *Poller) SkippedTicks() int64 {
	return p.skipped.Load()
}

func (p *Poller) loop(ctx context.Context, done chan struct{}, interval, timeout time.Duration) {
	defer close(done)

	p.tick(ctx, timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, timeout)
		}
	}
}

func (p *Poller) tick(ctx context.Context, timeout time.Duration) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug("Previous status request still outstanding, skipping tick")
		return
	}
	p.requests.Add(1)
	p.fetches.Add(1)
	go p.fetch(ctx, timeout)
}

func (p *Poller) fetch(ctx context.Context, timeout time.Duration) {
	defer p.fetches.Done()
	defer p.inFlight.Store(false)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := p.fetcher.Status(reqCtx)
	if ctx.Err() != nil {
		// Stopped while in flight.
		return
	}
	if err != nil {
		p.recordFailure(err)
		return
	}

	p.failures = 0
	p.setHealth(models.PollHealthOK)
	p.handler.HandleSnapshot(snap)
}

func (p *Poller) recordFailure(err error) {
	p.failures++
	if !engine.IsTransient(err) && !engine.IsProtocol(err) {
		err = &engine.TransientNetworkError{Op: "GET /crawl/status", Err: err}
	}
	p.logger.Warn("Status request failed",
		"consecutive_failures", p.failures, "error", err)

	if p.failures >= p.staleAfter {
		p.setHealth(models.PollHealthStale)
	}
}

func (p *Poller) setHealth(h models.PollHealth) {
	if p.health == h {
		return
	}
	p.health = h
	if h == models.PollHealthStale {
		p.logger.Warn("Poll path is stale", "consecutive_failures", p.failures)
	}
	p.handler.HandlePollHealth(h)
}
