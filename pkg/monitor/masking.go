package monitor

import (
	"github.com/codeready-toolchain/crawlwatch/pkg/events"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

func (m *Monitor) mask(s string) string {
	if m.masker == nil || s == "" {
		return s
	}
	return m.masker.Mask(s)
}

// maskSnapshot returns a masked copy of snap. Session ids and phases are not
// engine free text and pass through.
func maskSnapshot(snap *models.StatusSnapshot, mask func(string) string) *models.StatusSnapshot {
	if snap == nil || mask == nil {
		return snap
	}
	out := *snap
	out.TargetURL = mask(snap.TargetURL)
	out.CurrentURL = mask(snap.CurrentURL)
	out.Error = mask(snap.Error)
	if snap.Results != nil {
		out.Results = make([]models.SnapshotResult, len(snap.Results))
		for i, r := range snap.Results {
			r.URL = mask(r.URL)
			r.Error = mask(r.Error)
			r.Documents = maskAll(r.Documents, mask)
			out.Results[i] = r
		}
	}
	return &out
}

// maskMessage masks a push message. Its source id was fixed at parse time,
// so re-delivery detection is unaffected.
func maskMessage(msg events.Message, mask func(string) string) events.Message {
	if mask == nil {
		return msg
	}
	msg.Message = mask(msg.Message)
	msg.URL = mask(msg.URL)
	msg.Documents = maskAll(msg.Documents, mask)
	return msg
}

func maskAll(in []string, mask func(string) string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = mask(s)
	}
	return out
}
