// Package events maintains the push subscription to the crawl engine's event
// stream and decodes its frames.
//
// Wire protocol (WebSocket, JSON text frames):
//
//	client → {"action": "subscribe", "channel": "crawl:<session_id>"}
//	server → {"type": "connection.established"}            (optional)
//	server → {"type": "subscription.confirmed", "channel": "crawl:<session_id>"}
//	server → {"kind": "info", "message": "...", "source_seq": 7, "timestamp": "..."}
//	server → [{"kind": "success", "url": "...", ...}, ...]  (batched events)
//
// Frames carrying "type" are control frames; everything else is one event,
// or an array of events. source_seq is the engine's session-scoped counter
// and survives reconnects, so it is the re-delivery key.
package events

// Control frame types sent by the engine.
const (
	TypeConnectionEstablished = "connection.established"
	TypeSubscriptionConfirmed = "subscription.confirmed"
	TypeSubscriptionError     = "subscription.error"
	TypeCatchupOverflow       = "catchup.overflow"
	TypePong                  = "pong"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// CrawlChannel returns the subscription channel for a crawl session.
// Format: "crawl:{session_id}"
func CrawlChannel(sessionID string) string {
	return "crawl:" + sessionID
}

// ClientMessage is the JSON structure for client → engine messages.
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}
