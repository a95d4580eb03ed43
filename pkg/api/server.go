// Package api serves the crawl dashboard: control endpoints, the reconciled
// session, crawl history and a live WebSocket feed.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/crawlwatch/pkg/config"
	"github.com/codeready-toolchain/crawlwatch/pkg/database"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/monitor"
)

// CrawlMonitor is the monitor surface the dashboard drives.
type CrawlMonitor interface {
	Snapshot() *models.CrawlSession
	Subscribe(fn monitor.Listener) (unsubscribe func())
	Start(ctx context.Context, targetURL string, opts models.CrawlOptions) (string, error)
	Stop(ctx context.Context) error
	Acknowledge(ctx context.Context) error
	GetConfig(ctx context.Context) (models.CrawlConfig, error)
	SetConfig(ctx context.Context, cfg models.CrawlConfig) (models.CrawlConfig, error)
}

// HistoryReader reads recorded sessions. *services.HistoryService implements it.
type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Get(ctx context.Context, sessionID string) (*models.HistoryEntry, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) (*database.HealthStatus, error)
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg        *config.APIConfig
	router     *gin.Engine
	httpServer *http.Server

	monitor CrawlMonitor
	history HistoryReader
	db      HealthChecker

	feed        *Feed
	unsubscribe func()
	logger      *slog.Logger
}

// NewServer builds the router and attaches the live feed to mon.
func NewServer(cfg *config.APIConfig, mon CrawlMonitor) *Server {
	s := &Server{
		cfg:     cfg,
		router:  gin.New(),
		monitor: mon,
		feed:    NewFeed(mon.Snapshot, DefaultFeedWriteTimeout),
		logger:  slog.Default().With("component", "api"),
	}
	s.router.Use(gin.Recovery(), requestLogger(s.logger), securityHeaders())
	s.setupRoutes()

	s.unsubscribe = mon.Subscribe(s.feed.Publish)
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetHistory enables the /api/v1/crawl/history endpoints.
func (s *Server) SetHistory(h HistoryReader) {
	s.history = h
}

// SetDatabase adds a database check to /health.
func (s *Server) SetDatabase(db HealthChecker) {
	s.db = db
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/crawl", s.getCrawlHandler)
		v1.POST("/crawl", s.startCrawlHandler)
		v1.POST("/crawl/stop", s.stopCrawlHandler)
		v1.POST("/crawl/ack", s.acknowledgeHandler)
		v1.GET("/crawl/config", s.getConfigHandler)
		v1.POST("/crawl/config", s.setConfigHandler)
		v1.GET("/crawl/history", s.historyHandler)
		v1.GET("/crawl/history/:session_id", s.historyEntryHandler)
		v1.GET("/ws", s.wsHandler)
	}
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Dashboard API listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown detaches the feed, disconnects feed clients and stops the HTTP
// server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.feed.CloseAll()
	return s.httpServer.Shutdown(ctx)
}
