// Package e2e boots crawlwatch against an in-process fake crawl engine.
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// FakeEngine serves the engine's HTTP API under /api and its event stream
// under /ws/logs. Tests drive the crawl by mutating its state.
type FakeEngine struct {
	server *httptest.Server

	mu         sync.Mutex
	status     models.StatusSnapshot
	config     models.CrawlConfig
	lastStart  models.StartRequest
	startCalls int
	stopCalls  int
	stopFails  int
	seq        uint64
	subs       map[*websocket.Conn]string // conn → subscribed channel
	pushDown   bool
}

// NewFakeEngine starts the engine on a local port.
func NewFakeEngine(t *testing.T) *FakeEngine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &FakeEngine{
		status: models.StatusSnapshot{Phase: models.PhaseIdle, Results: []models.SnapshotResult{}},
		config: models.CrawlConfig{"max_depth": float64(3)},
		subs:   make(map[*websocket.Conn]string),
	}

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/crawl", e.handleStart)
		api.POST("/crawl/stop", e.handleStop)
		api.GET("/crawl/status", e.handleStatus)
		api.GET("/crawl/config", e.handleGetConfig)
		api.POST("/crawl/config", e.handleSetConfig)
	}
	r.GET("/ws/logs", e.handlePush)

	e.server = httptest.NewServer(r)
	t.Cleanup(e.server.Close)
	return e
}

// BaseURL is the engine API root.
func (e *FakeEngine) BaseURL() string { return e.server.URL + "/api" }

// PushURL is the engine event stream.
func (e *FakeEngine) PushURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/logs"
}

// SessionID returns the current engine session.
func (e *FakeEngine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.SessionID
}

// Calls returns how many start and stop requests arrived.
func (e *FakeEngine) Calls() (start, stop int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCalls, e.stopCalls
}

// LastStart returns the most recent start request body.
func (e *FakeEngine) LastStart() models.StartRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStart
}

// FailStops makes the next n stop requests return 503.
func (e *FakeEngine) FailStops(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopFails = n
}

// SetPhase changes the phase reported by the status endpoint.
func (e *FakeEngine) SetPhase(p models.Phase, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Phase = p
	e.status.Error = errMsg
}

// AddResult records a result in the status snapshot only.
func (e *FakeEngine) AddResult(r models.SnapshotResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Results = append(e.status.Results, r)
	e.status.CurrentURL = r.URL
}

// Push sends an event to subscribers of the current session and returns its
// source_seq. Fields already set on ev are kept.
func (e *FakeEngine) Push(ev map[string]any) uint64 {
	e.mu.Lock()
	if _, ok := ev["source_seq"]; !ok {
		e.seq++
		ev["source_seq"] = e.seq
	}
	if _, ok := ev["session_id"]; !ok {
		ev["session_id"] = e.status.SessionID
	}
	if _, ok := ev["timestamp"]; !ok {
		ev["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	channel := "crawl:" + e.status.SessionID
	conns := make([]*websocket.Conn, 0, len(e.subs))
	for c, ch := range e.subs {
		if ch == channel {
			conns = append(conns, c)
		}
	}
	seq, _ := ev["source_seq"].(uint64)
	e.mu.Unlock()

	data, _ := json.Marshal(ev)
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.Write(ctx, websocket.MessageText, data)
		cancel()
	}
	return seq
}

// Subscribers returns how many connections are subscribed to the current session.
func (e *FakeEngine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ch := range e.subs {
		if ch == "crawl:"+e.status.SessionID {
			n++
		}
	}
	return n
}

// DropPush closes every push connection, as an engine restart would.
// While down is true new connections are refused.
func (e *FakeEngine) DropPush(down bool) {
	e.mu.Lock()
	e.pushDown = down
	conns := make([]*websocket.Conn, 0, len(e.subs))
	for c := range e.subs {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseNow()
	}
}

func (e *FakeEngine) handleStart(c *gin.Context) {
	var req models.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"reason": "invalid_request", "message": err.Error()})
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCalls++
	e.lastStart = req
	if e.status.Phase.IsActive() {
		c.JSON(http.StatusConflict, gin.H{"reason": "already_running", "message": "a crawl is already running"})
		return
	}
	e.status = models.StatusSnapshot{
		SessionID: uuid.New().String(),
		Phase:     models.PhaseStarting,
		TargetURL: req.URL,
		Results:   []models.SnapshotResult{},
	}
	e.seq = 0
	c.JSON(http.StatusOK, models.StartResponse{SessionID: e.status.SessionID})
}

func (e *FakeEngine) handleStop(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCalls++
	if e.stopFails > 0 {
		e.stopFails--
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "engine busy"})
		return
	}
	if e.status.Phase.IsActive() {
		e.status.Phase = models.PhaseStopping
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (e *FakeEngine) handleStatus(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.status
	snap.Results = append([]models.SnapshotResult{}, e.status.Results...)
	c.JSON(http.StatusOK, snap)
}

func (e *FakeEngine) handleGetConfig(c *gin.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c.JSON(http.StatusOK, e.config)
}

func (e *FakeEngine) handleSetConfig(c *gin.Context) {
	var cfg models.CrawlConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": err.Error()}}})
		return
	}
	if d, ok := cfg["max_depth"].(float64); ok && d < 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"reason": "invalid_config", "message": "max_depth must not be negative"})
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
	c.JSON(http.StatusOK, e.config)
}

type pushRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

func (e *FakeEngine) handlePush(c *gin.Context) {
	e.mu.Lock()
	down := e.pushDown
	e.mu.Unlock()
	if down {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := c.Request.Context()

	defer func() {
		e.mu.Lock()
		delete(e.subs, conn)
		e.mu.Unlock()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req pushRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Action != "subscribe" {
			continue
		}
		confirmed, _ := json.Marshal(map[string]string{"type": "subscription.confirmed", "channel": req.Channel})
		if err := conn.Write(ctx, websocket.MessageText, confirmed); err != nil {
			return
		}
		// Events flow only after the confirmation is on the wire.
		e.mu.Lock()
		e.subs[conn] = req.Channel
		e.mu.Unlock()
	}
}

// ResumePush accepts push connections again after DropPush(true).
func (e *FakeEngine) ResumePush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushDown = false
}
