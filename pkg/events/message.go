package events

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

var (
	// ErrEmptyFrame is returned for frames with no content.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrUnknownKind is returned for events whose kind is missing or unknown.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrInvalidPhase is returned for status events without a valid phase.
	ErrInvalidPhase = errors.New("status event without valid phase")
)

// Message is one decoded event frame from the push stream.
type Message struct {
	Type      string             `json:"type,omitempty"`
	Channel   string             `json:"channel,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Kind      models.EventKind   `json:"kind"`
	Message   string             `json:"message"`
	URL       string             `json:"url,omitempty"`
	Documents []string           `json:"documents,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Phase     models.Phase       `json:"phase,omitempty"`
	SourceSeq uint64             `json:"source_seq,omitempty"`
	Timestamp time.Time          `json:"timestamp"`

	// sourceID is derived at parse time; see SourceID.
	sourceID string
}

// SourceID returns the re-delivery key: the engine counter when present,
// otherwise a hash of the raw frame.
func (m Message) SourceID() string {
	if m.sourceID != "" {
		return m.sourceID
	}
	if m.SourceSeq > 0 {
		return "seq:" + strconv.FormatUint(m.SourceSeq, 10)
	}
	return ""
}

// Event converts m to an unsequenced timeline event.
func (m Message) Event() models.Event {
	return models.Event{
		Provenance: models.ProvenancePush,
		Kind:       m.Kind,
		Message:    m.Message,
		URL:        m.URL,
		Documents:  m.Documents,
		Metrics:    m.Metrics,
		Phase:      m.Phase,
		SourceID:   m.SourceID(),
		Timestamp:  m.Timestamp,
	}
}

// Frame is a decoded WebSocket frame: either a control frame or zero or more events.
type Frame struct {
	Control  string
	Channel  string
	Messages []Message
}

// ParseFrame decodes one frame. Any error is a *engine.ProtocolError.
func ParseFrame(data []byte) (*Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, protocolErr(ErrEmptyFrame)
	}

	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, protocolErr(fmt.Errorf("decode batch: %w", err))
		}
		frame := &Frame{Messages: make([]Message, 0, len(raws))}
		for i, raw := range raws {
			msg, err := parseEvent(raw)
			if err != nil {
				return nil, protocolErr(fmt.Errorf("batch element %d: %w", i, err))
			}
			frame.Messages = append(frame.Messages, msg)
		}
		return frame, nil
	}

	var probe struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, protocolErr(fmt.Errorf("decode frame: %w", err))
	}
	if probe.Type != "" {
		return &Frame{Control: probe.Type, Channel: probe.Channel}, nil
	}

	msg, err := parseEvent(data)
	if err != nil {
		return nil, protocolErr(err)
	}
	return &Frame{Messages: []Message{msg}}, nil
}

func parseEvent(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode event: %w", err)
	}
	if msg.Type != "" {
		return Message{}, fmt.Errorf("control frame %q inside event batch", msg.Type)
	}
	if !msg.Kind.IsValid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	if msg.Kind == models.KindStatus && !msg.Phase.IsValid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidPhase, msg.Phase)
	}
	if msg.SourceSeq == 0 {
		sum := sha256.Sum256(bytes.TrimSpace(raw))
		msg.sourceID = "sha:" + hex.EncodeToString(sum[:8])
	}
	return msg, nil
}

func protocolErr(err error) error {
	return &engine.ProtocolError{Source: "push", Err: err}
}
