package models

import (
	"slices"
	"time"
)

// Phase is the lifecycle phase of a crawl session as seen by the monitor.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseRunning   Phase = "running"
	PhaseStopping  Phase = "stopping"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// IsValid reports whether p is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseStarting, PhaseRunning, PhaseStopping, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

// IsTerminal reports whether p is completed or failed.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// IsActive reports whether a session in phase p blocks a new start.
func (p Phase) IsActive() bool {
	return p != PhaseIdle && !p.IsTerminal()
}

// rank orders phases along the only direction a session may move.
// Starting < Running < Stopping < terminal.
func (p Phase) rank() int {
	switch p {
	case PhaseIdle:
		return 0
	case PhaseStarting:
		return 1
	case PhaseRunning:
		return 2
	case PhaseStopping:
		return 3
	case PhaseCompleted, PhaseFailed:
		return 4
	}
	return -1
}

// Precedes reports whether moving from p to next advances the lifecycle.
func (p Phase) Precedes(next Phase) bool {
	if !p.IsValid() || !next.IsValid() || p.IsTerminal() {
		return false
	}
	return p.rank() < next.rank()
}

// ResultStatus is the outcome of crawling one content URL.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// IsValid reports whether s is a known result status.
func (s ResultStatus) IsValid() bool {
	return s == ResultSuccess || s == ResultError
}

// ResultItem is one crawled content URL and the documents extracted from it.
type ResultItem struct {
	URL       string       `json:"url"`
	Status    ResultStatus `json:"status"`
	Documents []string     `json:"documents"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// PollHealth is the connectivity state advertised for the poll path.
type PollHealth string

const (
	PollHealthUnknown PollHealth = "unknown"
	PollHealthOK      PollHealth = "ok"
	PollHealthStale   PollHealth = "stale"
)

// PushState is the connection state of the push subscription.
type PushState string

const (
	PushDisconnected PushState = "disconnected"
	PushConnecting   PushState = "connecting"
	PushConnected    PushState = "connected"
	PushClosed       PushState = "closed"
)

// Connectivity describes channel health. It never influences Phase.
type Connectivity struct {
	Poll            PollHealth `json:"poll"`
	Push            PushState  `json:"push"`
	DroppedMessages int        `json:"dropped_messages"`
	Reconnects      int        `json:"reconnects"`
}

// CrawlSession is the reconciled view of one crawl run.
type CrawlSession struct {
	// Version is the store publication that produced this copy. It only grows.
	Version      uint64                `json:"version"`
	SessionID    string                `json:"session_id,omitempty"`
	Phase        Phase                 `json:"phase"`
	TargetURL    string                `json:"target_url,omitempty"`
	CurrentURL   string                `json:"current_url,omitempty"`
	Options      CrawlOptions          `json:"options"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	EndedAt      *time.Time            `json:"ended_at,omitempty"`
	Error        string                `json:"error,omitempty"`
	Timeline     []Event               `json:"timeline"`
	Results      map[string]ResultItem `json:"results"`
	Metrics      map[string]float64    `json:"metrics"`
	Connectivity Connectivity          `json:"connectivity"`
}

// NewIdleSession returns the placeholder shown while no crawl is running.
func NewIdleSession() *CrawlSession {
	return &CrawlSession{
		Phase:    PhaseIdle,
		Timeline: []Event{},
		Results:  make(map[string]ResultItem),
		Metrics:  make(map[string]float64),
		Connectivity: Connectivity{
			Poll: PollHealthUnknown,
			Push: PushDisconnected,
		},
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s *CrawlSession) Clone() *CrawlSession {
	cp := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	cp.Options = s.Options.Clone()

	cp.Timeline = make([]Event, len(s.Timeline))
	for i, e := range s.Timeline {
		cp.Timeline[i] = e.Clone()
	}

	cp.Results = make(map[string]ResultItem, len(s.Results))
	for k, v := range s.Results {
		v.Documents = slices.Clone(v.Documents)
		cp.Results[k] = v
	}

	cp.Metrics = make(map[string]float64, len(s.Metrics))
	for k, v := range s.Metrics {
		cp.Metrics[k] = v
	}
	return &cp
}

// DocumentCount returns the number of documents across all results.
func (s *CrawlSession) DocumentCount() int {
	n := 0
	for _, r := range s.Results {
		n += len(r.Documents)
	}
	return n
}

// ErrorCount returns the number of results that failed.
func (s *CrawlSession) ErrorCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == ResultError {
			n++
		}
	}
	return n
}
