package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/monitor"
)

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestStartCrawlHandler(t *testing.T) {
	t.Run("starts a crawl", func(t *testing.T) {
		mon := newFakeMonitor()
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl",
			`{"url":"https://docs.example.com","options":{"max_depth":2,"skip_docs":true}}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		resp := decode[StartCrawlResponse](t, rec.Body.Bytes())
		assert.Equal(t, "sess-1", resp.SessionID)
		assert.Equal(t, models.PhaseStarting, resp.Phase)
		assert.Equal(t, "https://docs.example.com", mon.lastURL)
		assert.Equal(t, 2, mon.lastOpts.MaxDepth)
		assert.True(t, mon.lastOpts.SkipDocs)
	})

	t.Run("missing url is 400", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl", `{"options":{}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl", `{"url":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("conflict is 409 with the active session", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.startErr = &monitor.ConflictError{SessionID: "s-0", Phase: models.PhaseRunning}
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl", `{"url":"https://docs.example.com"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		body := decode[ErrorResponse](t, rec.Body.Bytes())
		assert.Equal(t, "s-0", body.SessionID)
		assert.Equal(t, models.PhaseRunning, body.Phase)
	})

	t.Run("invalid target is 400", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.startErr = monitor.ErrInvalidTarget
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl", `{"url":"ftp://x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("engine rejection is 502", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.startErr = &monitor.ControlError{Op: "start", Err: errors.New("engine busy")}
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl", `{"url":"https://docs.example.com"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec.Body.Bytes()).Error, "engine busy")
	})
}

func TestGetCrawlHandler(t *testing.T) {
	mon := newFakeMonitor()
	mon.publish(func(cs *models.CrawlSession) {
		cs.SessionID = "s-1"
		cs.Phase = models.PhaseRunning
		cs.Results["https://a"] = models.ResultItem{URL: "https://a", Status: models.ResultSuccess, Documents: []string{"a.md"}}
	})
	s := newTestServer(t, mon)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl", "")
	require.Equal(t, http.StatusOK, rec.Code)

	cs := decode[models.CrawlSession](t, rec.Body.Bytes())
	assert.Equal(t, "s-1", cs.SessionID)
	assert.Equal(t, models.PhaseRunning, cs.Phase)
	assert.Contains(t, cs.Results, "https://a")
}

func TestStopCrawlHandler(t *testing.T) {
	t.Run("moves to stopping", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.publish(func(cs *models.CrawlSession) {
			cs.SessionID = "s-1"
			cs.Phase = models.PhaseRunning
		})
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl/stop", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		resp := decode[ControlResponse](t, rec.Body.Bytes())
		assert.Equal(t, "s-1", resp.SessionID)
		assert.Equal(t, models.PhaseStopping, resp.Phase)
	})

	t.Run("persistent failure is 502", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.stopErr = &monitor.ControlError{Op: "stop", SessionID: "s-1", Err: errors.New("unreachable")}
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl/stop", "")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "s-1", decode[ErrorResponse](t, rec.Body.Bytes()).SessionID)
	})
}

func TestAcknowledgeHandler(t *testing.T) {
	t.Run("resets to idle", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.publish(func(cs *models.CrawlSession) {
			cs.SessionID = "s-1"
			cs.Phase = models.PhaseCompleted
		})
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl/ack", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.PhaseIdle, decode[ControlResponse](t, rec.Body.Bytes()).Phase)
	})

	t.Run("active session is 409", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.ackErr = monitor.ErrNotTerminal
		s := newTestServer(t, mon)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/crawl/ack", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestConfigHandlers(t *testing.T) {
	mon := newFakeMonitor()
	s := newTestServer(t, mon)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[models.CrawlConfig](t, rec.Body.Bytes())["max_depth"])

	rec = doRequest(t, s, http.MethodPost, "/api/v1/crawl/config", `{"max_depth":5,"stay_on_domain":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.CrawlConfig](t, rec.Body.Bytes())
	assert.Equal(t, float64(5), updated["max_depth"])
	assert.Equal(t, false, updated["stay_on_domain"])

	rec = doRequest(t, s, http.MethodPost, "/api/v1/crawl/config", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mon.configErr = &engine.APIError{Op: "POST /crawl/config", StatusCode: http.StatusUnprocessableEntity, Message: "bad depth"}
	rec = doRequest(t, s, http.MethodPost, "/api/v1/crawl/config", `{"max_depth":-1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	mon.configErr = &engine.TransientNetworkError{Op: "GET /crawl/config", Err: errors.New("refused")}
	rec = doRequest(t, s, http.MethodGet, "/api/v1/crawl/config", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHistoryHandler(t *testing.T) {
	t.Run("disabled is 404", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lists entries", func(t *testing.T) {
		hist := &fakeHistory{entries: []models.HistoryEntry{
			{ID: 2, SessionID: "s-2", Status: models.PhaseFailed, EndedAt: time.Now()},
			{ID: 1, SessionID: "s-1", Status: models.PhaseCompleted, EndedAt: time.Now()},
		}}
		s := newTestServer(t, newFakeMonitor())
		s.SetHistory(hist)

		rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history?limit=10", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[HistoryResponse](t, rec.Body.Bytes())
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, "s-2", resp.Entries[0].SessionID)
		assert.Equal(t, 10, hist.lastLimit)
	})

	t.Run("no limit uses service default", func(t *testing.T) {
		hist := &fakeHistory{entries: []models.HistoryEntry{}}
		s := newTestServer(t, newFakeMonitor())
		s.SetHistory(hist)

		rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, hist.lastLimit)
	})

	t.Run("bad limit is 400", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		s.SetHistory(&fakeHistory{})
		for _, q := range []string{"0", "-3", "abc"} {
			rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history?limit="+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("store failure is 500", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		s.SetHistory(&fakeHistory{err: errors.New("connection reset")})
		rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHistoryEntryHandler(t *testing.T) {
	hist := &fakeHistory{entries: []models.HistoryEntry{
		{ID: 1, SessionID: "s-1", StartURL: "https://a.com", Status: models.PhaseCompleted, TotalPages: 4},
	}}

	t.Run("disabled is 404", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history/s-1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "disabled")
	})

	t.Run("found", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		s.SetHistory(hist)
		rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history/s-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		entry := decode[models.HistoryEntry](t, rec.Body.Bytes())
		assert.Equal(t, "https://a.com", entry.StartURL)
		assert.Equal(t, 4, entry.TotalPages)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		s.SetHistory(hist)
		rec := doRequest(t, s, http.MethodGet, "/api/v1/crawl/history/s-404", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decode[ErrorResponse](t, rec.Body.Bytes())
		assert.Equal(t, "resource not found", resp.Error)
	})
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy without database", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		rec := doRequest(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[HealthResponse](t, rec.Body.Bytes())
		assert.Equal(t, healthStatusHealthy, resp.Status)
		assert.NotEmpty(t, resp.Version)
		assert.NotContains(t, resp.Checks, "database")
		assert.Equal(t, string(models.PushDisconnected), resp.Checks["engine_push"].Message)
	})

	t.Run("stale poll degrades", func(t *testing.T) {
		mon := newFakeMonitor()
		mon.publish(func(cs *models.CrawlSession) { cs.Connectivity.Poll = models.PollHealthStale })
		s := newTestServer(t, mon)
		s.SetDatabase(&fakeDB{})

		rec := doRequest(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[HealthResponse](t, rec.Body.Bytes())
		assert.Equal(t, healthStatusDegraded, resp.Status)
		assert.Equal(t, healthStatusHealthy, resp.Checks["database"].Status)
	})

	t.Run("database failure is 503", func(t *testing.T) {
		s := newTestServer(t, newFakeMonitor())
		s.SetDatabase(&fakeDB{err: errors.New("no route to host")})

		rec := doRequest(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decode[HealthResponse](t, rec.Body.Bytes())
		assert.Equal(t, healthStatusUnhealthy, resp.Status)
		assert.Contains(t, resp.Checks["database"].Message, "no route to host")
	})
}
