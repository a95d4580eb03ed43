// Package monitor tracks one crawl session at a time. It merges the engine's
// polled status snapshots and pushed events into a single reconciled view and
// exposes start, stop and acknowledge control that cannot race with the
// session's own transitions.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/events"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/poll"
)

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// recordTimeout bounds one terminal-session recording.
const recordTimeout = 10 * time.Second

// Engine is everything the monitor needs from the crawl engine.
// *engine.Client implements it.
type Engine interface {
	Controller
	poll.Fetcher
	GetConfig(ctx context.Context) (models.CrawlConfig, error)
	SetConfig(ctx context.Context, cfg models.CrawlConfig) (models.CrawlConfig, error)
}

// Recorder persists sessions that reached a terminal phase.
type Recorder interface {
	Record(ctx context.Context, session *models.CrawlSession) error
}

// Masker redacts secrets from engine-supplied text. *masking.Service
// implements it.
type Masker interface {
	Mask(data string) string
}

// Config tunes a Monitor.
type Config struct {
	PollInterval time.Duration
	Poll         poll.Config

	// PushURL is the engine's WebSocket endpoint. Empty disables push and
	// leaves the monitor polling-only.
	PushURL string
	Push    events.Config

	StorageTarget  string
	StopRetryDelay time.Duration
}

// Option configures optional Monitor collaborators.
type Option func(*Monitor)

// WithRecorder records every terminal session.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) {
		m.recorder = r
	}
}

// WithMasker redacts every URL, message and error the engine reports, and
// the target URL stored for a session, before they reach the store.
func WithMasker(mk Masker) Option {
	return func(m *Monitor) {
		m.masker = mk
	}
}

// Monitor is the entry point for consumers: it owns the store, the
// reconciler, the gateway and the per-session channels.
type Monitor struct {
	cfg        Config
	engine     Engine
	store      *Store
	reconciler *Reconciler
	gateway    *Gateway
	recorder   Recorder
	masker     Masker

	// ctx scopes every channel; cancelled when Run returns.
	ctx    context.Context
	cancel context.CancelFunc

	chMu       sync.Mutex
	poller     *poll.Poller
	subscriber *events.Subscriber

	wg sync.WaitGroup

	logger *slog.Logger
}

// New wires a monitor. Call Run to start merging.
func New(cfg Config, engine Engine, opts ...Option) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StopRetryDelay == 0 {
		cfg.StopRetryDelay = DefaultStopRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:    cfg,
		engine: engine,
		store:  NewStore(),
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default().With("component", "monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reconciler = NewReconciler(m.store, m.handleTerminal)
	m.gateway = newGateway(engine, m.store, m.reconciler, m, cfg.StorageTarget, cfg.StopRetryDelay)
	m.gateway.mask = m.mask
	return m
}

// Run merges signals until ctx is cancelled, then closes all channels and
// listeners.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor running",
		"poll_interval", m.cfg.PollInterval, "push_enabled", m.cfg.PushURL != "")

	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		m.reconciler.Run(ctx)
	}()

	<-ctx.Done()
	m.cancel()
	m.closeAll()
	<-recDone
	m.wg.Wait()
	m.store.Close()
	m.logger.Info("Monitor stopped")
	return nil
}

// Snapshot returns an immutable copy of the current session.
func (m *Monitor) Snapshot() *models.CrawlSession {
	return m.store.Snapshot()
}

// Subscribe registers fn for coalesced change notifications.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	return m.store.Subscribe(fn)
}

// Start begins a crawl of targetURL.
func (m *Monitor) Start(ctx context.Context, targetURL string, opts models.CrawlOptions) (string, error) {
	return m.gateway.StartCrawl(ctx, targetURL, opts)
}

// Stop requests the active crawl to stop.
func (m *Monitor) Stop(ctx context.Context) error {
	return m.gateway.StopCrawl(ctx)
}

// Acknowledge dismisses a terminal session.
func (m *Monitor) Acknowledge(ctx context.Context) error {
	return m.gateway.Acknowledge(ctx)
}

// GetConfig returns the engine's stored crawl configuration.
func (m *Monitor) GetConfig(ctx context.Context) (models.CrawlConfig, error) {
	return m.engine.GetConfig(ctx)
}

// SetConfig replaces the engine's stored crawl configuration.
func (m *Monitor) SetConfig(ctx context.Context, cfg models.CrawlConfig) (models.CrawlConfig, error) {
	return m.engine.SetConfig(ctx, cfg)
}

// openFor starts polling and, when configured, the push subscription for sessionID.
func (m *Monitor) openFor(sessionID string) error {
	m.chMu.Lock()
	defer m.chMu.Unlock()

	h := &sessionHandler{sessionID: sessionID, reconciler: m.reconciler, mask: m.mask}

	m.poller = poll.NewPoller(m.engine, h, m.cfg.Poll)
	if err := m.poller.Start(m.ctx, m.cfg.PollInterval); err != nil {
		m.poller = nil
		return err
	}

	if m.cfg.PushURL == "" {
		return nil
	}
	m.subscriber = events.NewSubscriber(m.cfg.PushURL, h, m.cfg.Push)
	if err := m.subscriber.Connect(m.ctx, sessionID); err != nil {
		m.subscriber = nil
		return err
	}
	return nil
}

// closeAll stops the current channels. Safe to call with none open.
func (m *Monitor) closeAll() {
	m.chMu.Lock()
	p, s := m.poller, m.subscriber
	m.poller, m.subscriber = nil, nil
	m.chMu.Unlock()

	if p != nil {
		p.Stop()
	}
	if s != nil {
		s.Close()
	}
}

// handleTerminal runs on the reconciler goroutine, so the work happens elsewhere.
func (m *Monitor) handleTerminal(session *models.CrawlSession) {
	m.logger.Info("Crawl session finished",
		"session_id", session.SessionID,
		"phase", session.Phase,
		"results", len(session.Results),
		"documents", session.DocumentCount(),
		"errors", session.ErrorCount())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.gateway.teardown(session.SessionID)
		if m.recorder == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), recordTimeout)
		defer cancel()
		if err := m.recorder.Record(ctx, session); err != nil {
			m.logger.Error("Failed to record crawl session",
				"session_id", session.SessionID, "error", err)
		}
	}()
}

// sessionHandler forwards one session's channel output to the reconciler,
// tagged with the session it was opened for.
type sessionHandler struct {
	sessionID  string
	reconciler *Reconciler
	mask       func(string) string
}

func (h *sessionHandler) HandleSnapshot(snap *models.StatusSnapshot) {
	h.reconciler.submit(pollSnapshot{sessionID: h.sessionID, snap: maskSnapshot(snap, h.mask)})
}

func (h *sessionHandler) HandlePollHealth(health models.PollHealth) {
	h.reconciler.submit(pollHealth{sessionID: h.sessionID, health: health})
}

func (h *sessionHandler) HandlePushMessage(sessionID string, msg events.Message, d events.Delivery) {
	if sessionID != h.sessionID {
		return
	}
	h.reconciler.submit(pushMessage{sessionID: sessionID, msg: maskMessage(msg, h.mask), delivery: d})
}

func (h *sessionHandler) HandlePushStatus(sessionID string, st events.Status) {
	if sessionID != h.sessionID {
		return
	}
	h.reconciler.submit(pushStatus{sessionID: sessionID, status: st})
}
