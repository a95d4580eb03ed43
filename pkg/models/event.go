package models

import (
	"slices"
	"time"
)

// Provenance identifies which channel delivered an observation.
type Provenance string

const (
	ProvenancePoll Provenance = "poll"
	ProvenancePush Provenance = "push"
	// ProvenanceControl marks transitions the monitor made on behalf of a control command.
	ProvenanceControl Provenance = "control"
)

// EventKind classifies a timeline event.
type EventKind string

const (
	KindInfo    EventKind = "info"
	KindSuccess EventKind = "success"
	KindError   EventKind = "error"
	KindMetric  EventKind = "metric"
	// KindStatus carries an engine lifecycle signal in Event.Phase.
	KindStatus EventKind = "status"
)

// IsValid reports whether k is a known event kind.
func (k EventKind) IsValid() bool {
	switch k {
	case KindInfo, KindSuccess, KindError, KindMetric, KindStatus:
		return true
	}
	return false
}

// Event is one accepted observation on the session timeline.
type Event struct {
	// Seq is assigned by the reconciler when the event is accepted.
	Seq        uint64             `json:"seq"`
	Provenance Provenance         `json:"provenance"`
	Kind       EventKind          `json:"kind"`
	Message    string             `json:"message,omitempty"`
	URL        string             `json:"url,omitempty"`
	Documents  []string           `json:"documents,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Phase      Phase              `json:"phase,omitempty"`
	// SourceID is the source-side identifier used for re-delivery detection.
	SourceID   string    `json:"source_id"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	e.Documents = slices.Clone(e.Documents)
	if e.Metrics != nil {
		m := make(map[string]float64, len(e.Metrics))
		for k, v := range e.Metrics {
			m[k] = v
		}
		e.Metrics = m
	}
	return e
}
