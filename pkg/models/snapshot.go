package models

import "time"

// StatusSnapshot is the full-state response of GET /crawl/status.
type StatusSnapshot struct {
	SessionID  string           `json:"session_id"`
	Phase      Phase            `json:"phase"`
	TargetURL  string           `json:"target_url"`
	CurrentURL string           `json:"current_url,omitempty"`
	Error      string           `json:"error,omitempty"`
	Results    []SnapshotResult `json:"results"`
}

// SnapshotResult is one result row in a status snapshot.
type SnapshotResult struct {
	URL       string       `json:"url"`
	Status    ResultStatus `json:"status"`
	Documents []string     `json:"documents"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// StartRequest is the body of POST /crawl.
type StartRequest struct {
	URL           string       `json:"url"`
	StorageTarget string       `json:"storage_target,omitempty"`
	Options       CrawlOptions `json:"options"`
}

// StartResponse is the engine's acknowledgment of a start request.
type StartResponse struct {
	SessionID string `json:"session_id"`
}

// HistoryEntry is one recorded terminal session.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	StartURL       string    `json:"start_url"`
	Status         Phase     `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	TotalPages     int       `json:"total_pages"`
	TotalDocuments int       `json:"total_documents"`
	ErrorCount     int       `json:"error_count"`
	Error          string    `json:"error,omitempty"`
}
