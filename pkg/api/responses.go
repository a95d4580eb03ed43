package api

import (
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string       `json:"error"`
	Reason    string       `json:"reason,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Phase     models.Phase `json:"phase,omitempty"`
}

// StartCrawlResponse is returned by POST /api/v1/crawl.
type StartCrawlResponse struct {
	SessionID string       `json:"session_id"`
	Phase     models.Phase `json:"phase"`
}

// ControlResponse is returned by the stop and acknowledge endpoints.
type ControlResponse struct {
	SessionID string       `json:"session_id,omitempty"`
	Phase     models.Phase `json:"phase"`
}

// HistoryResponse is returned by GET /api/v1/crawl/history.
type HistoryResponse struct {
	Entries []models.HistoryEntry `json:"entries"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is the state of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
