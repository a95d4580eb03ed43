package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/crawlwatch/pkg/api"
	"github.com/codeready-toolchain/crawlwatch/pkg/config"
	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/monitor"
	"github.com/codeready-toolchain/crawlwatch/pkg/services"
	"github.com/codeready-toolchain/crawlwatch/test/util"
)

// TestApp is a running crawlwatch wired to a FakeEngine.
type TestApp struct {
	Engine  *FakeEngine
	Monitor *monitor.Monitor
	Server  *api.Server
	History *services.HistoryService

	BaseURL string // dashboard API root, e.g. "http://127.0.0.1:54321"
	WSURL   string // live feed, e.g. "ws://127.0.0.1:54321/api/v1/ws"

	t *testing.T
}

type testAppConfig struct {
	push    bool
	history bool
}

// TestAppOption tweaks the app before it starts.
type TestAppOption func(*testAppConfig)

// WithoutPush runs the monitor on polling alone.
func WithoutPush() TestAppOption {
	return func(c *testAppConfig) { c.push = false }
}

// WithHistory records terminal sessions in a per-test Postgres schema.
func WithHistory() TestAppOption {
	return func(c *testAppConfig) { c.history = true }
}

// NewTestApp boots the monitor and dashboard API.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()
	tc := &testAppConfig{push: true}
	for _, opt := range opts {
		opt(tc)
	}

	eng := NewFakeEngine(t)
	cfg := config.DefaultConfig()
	cfg.Engine.BaseURL = eng.BaseURL()
	cfg.Engine.StorageTarget = "s3://crawl-output"
	cfg.Engine.RequestTimeout = 2 * time.Second
	cfg.Poll.Interval = 20 * time.Millisecond
	cfg.Push.BackoffBase = 10 * time.Millisecond
	cfg.Push.BackoffCap = 40 * time.Millisecond
	cfg.Push.HandshakeTimeout = time.Second
	if tc.push {
		cfg.Engine.PushURL = eng.PushURL()
	}

	mcfg := cfg.MonitorConfig()
	mcfg.StopRetryDelay = 10 * time.Millisecond

	app := &TestApp{Engine: eng, t: t}
	var mopts []monitor.Option
	if tc.history {
		client := util.SetupTestDatabase(t)
		app.History = services.NewHistoryService(client.DB())
		mopts = append(mopts, monitor.WithRecorder(app.History))
	}

	app.Monitor = monitor.New(mcfg, engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.RequestTimeout), mopts...)
	app.Server = api.NewServer(&cfg.API, app.Monitor)
	if app.History != nil {
		app.Server.SetHistory(app.History)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- app.Monitor.Run(ctx) }()

	ts := httptest.NewServer(app.Server.Handler())
	app.BaseURL = ts.URL
	app.WSURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	t.Cleanup(func() {
		_ = app.Server.Shutdown(context.Background())
		ts.Close()
		cancel()
		select {
		case err := <-runDone:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("monitor did not stop")
		}
	})
	return app
}

// Do sends a JSON request to the dashboard API and decodes the response into out.
func (a *TestApp) Do(method, path string, body, out any) int {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.BaseURL+path, reader)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// StartCrawl starts a crawl through the API and waits for the push
// subscription when push is enabled.
func (a *TestApp) StartCrawl(url string, push bool) string {
	a.t.Helper()
	var resp api.StartCrawlResponse
	code := a.Do(http.MethodPost, "/api/v1/crawl", api.StartCrawlRequest{URL: url}, &resp)
	require.Equal(a.t, http.StatusAccepted, code)
	require.NotEmpty(a.t, resp.SessionID)
	if push {
		require.Eventually(a.t, func() bool { return a.Engine.Subscribers() == 1 }, 3*time.Second, 5*time.Millisecond)
		a.WaitFor(func(cs *models.CrawlSession) bool {
			return cs.Connectivity.Push == models.PushConnected
		})
	}
	return resp.SessionID
}

// Session fetches the reconciled session over HTTP.
func (a *TestApp) Session() *models.CrawlSession {
	a.t.Helper()
	var cs models.CrawlSession
	require.Equal(a.t, http.StatusOK, a.Do(http.MethodGet, "/api/v1/crawl", nil, &cs))
	return &cs
}

// WaitFor polls the API until cond holds.
func (a *TestApp) WaitFor(cond func(cs *models.CrawlSession) bool) *models.CrawlSession {
	a.t.Helper()
	var last *models.CrawlSession
	require.Eventually(a.t, func() bool {
		last = a.Monitor.Snapshot()
		return cond(last)
	}, 5*time.Second, 5*time.Millisecond, "condition never held; last phase %v", phaseOf(last))
	return a.Session()
}

func phaseOf(cs *models.CrawlSession) models.Phase {
	if cs == nil {
		return ""
	}
	return cs.Phase
}

// FeedClient reads the dashboard live feed.
type FeedClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// ConnectFeed dials the live feed and subscribes to session updates. The
// catch-up snapshot is returned.
func (a *TestApp) ConnectFeed() (*FeedClient, *models.CrawlSession) {
	a.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, a.WSURL, nil)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = conn.CloseNow() })

	fc := &FeedClient{conn: conn, t: a.t}
	require.Equal(a.t, api.MsgConnectionEstablished, fc.read()["type"])

	data, err := json.Marshal(api.ClientMessage{Action: "subscribe", Channel: api.SessionChannel})
	require.NoError(a.t, err)
	require.NoError(a.t, conn.Write(ctx, websocket.MessageText, data))
	require.Equal(a.t, api.MsgSubscriptionConfirmed, fc.read()["type"])
	return fc, fc.NextSession()
}

func (fc *FeedClient) read() map[string]any {
	fc.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := fc.conn.Read(ctx)
	require.NoError(fc.t, err)
	var msg map[string]any
	require.NoError(fc.t, json.Unmarshal(data, &msg))
	return msg
}

// NextSession reads the next snapshot message.
func (fc *FeedClient) NextSession() *models.CrawlSession {
	fc.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := fc.conn.Read(ctx)
	require.NoError(fc.t, err)
	var msg struct {
		Type    string               `json:"type"`
		Session *models.CrawlSession `json:"session"`
	}
	require.NoError(fc.t, json.Unmarshal(data, &msg))
	require.Equal(fc.t, api.MsgSessionSnapshot, msg.Type)
	return msg.Session
}

// WaitForSession reads snapshots until cond holds and returns every
// snapshot seen, the matching one last.
func (fc *FeedClient) WaitForSession(cond func(cs *models.CrawlSession) bool) []*models.CrawlSession {
	fc.t.Helper()
	var seen []*models.CrawlSession
	for {
		cs := fc.NextSession()
		seen = append(seen, cs)
		if cond(cs) {
			return seen
		}
	}
}
