package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// SessionChannel is the only feed channel. Subscribers receive the reconciled
// session after every change.
const SessionChannel = "session"

// DefaultFeedWriteTimeout bounds a single send to a feed client.
const DefaultFeedWriteTimeout = 5 * time.Second

// Feed message types.
const (
	MsgConnectionEstablished = "connection.established"
	MsgSubscriptionConfirmed = "subscription.confirmed"
	MsgSubscriptionError     = "subscription.error"
	MsgSessionSnapshot       = "session.snapshot"
	MsgPong                  = "pong"
	MsgError                 = "error"
)

// ClientMessage is a message sent by a feed client.
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// SnapshotMessage carries one published session.
type SnapshotMessage struct {
	Type    string               `json:"type"`
	Channel string               `json:"channel"`
	Session *models.CrawlSession `json:"session"`
}

// Feed fans published sessions out to dashboard WebSocket clients.
type Feed struct {
	// Active connections: connection_id → *feedConn
	connections map[string]*feedConn
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	snapshot     func() *models.CrawlSession
	writeTimeout time.Duration
	logger       *slog.Logger
}

// feedConn is one WebSocket client. subscriptions is only touched by the
// goroutine running HandleConnection for this client.
type feedConn struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc

	// snapMu orders snapshot sends; lastVersion is the newest one sent.
	snapMu      sync.Mutex
	sentAny     bool
	lastVersion uint64
}

// NewFeed creates a feed. snapshot supplies the catch-up state sent to new
// subscribers.
func NewFeed(snapshot func() *models.CrawlSession, writeTimeout time.Duration) *Feed {
	if writeTimeout <= 0 {
		writeTimeout = DefaultFeedWriteTimeout
	}
	return &Feed{
		connections:  make(map[string]*feedConn),
		channels:     make(map[string]map[string]bool),
		snapshot:     snapshot,
		writeTimeout: writeTimeout,
		logger:       slog.Default().With("component", "feed"),
	}
}

// HandleConnection serves one upgraded connection until it closes.
func (f *Feed) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &feedConn{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	f.register(c)
	defer f.unregister(c)

	f.sendJSON(c, map[string]string{
		"type":          MsgConnectionEstablished,
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("Invalid feed message", "connection_id", c.id, "error", err)
			continue
		}
		f.handleClientMessage(c, &msg)
	}
}

// Publish sends session to every subscriber of SessionChannel. It has the
// monitor.Listener signature. A client never receives a session older than
// one it already has.
func (f *Feed) Publish(session *models.CrawlSession) {
	data, err := json.Marshal(SnapshotMessage{Type: MsgSessionSnapshot, Channel: SessionChannel, Session: session})
	if err != nil {
		f.logger.Error("Failed to marshal session snapshot", "error", err)
		return
	}
	for _, c := range f.subscribers(SessionChannel) {
		if err := f.sendSnapshot(c, session.Version, data); err != nil {
			f.logger.Warn("Failed to send to feed client", "connection_id", c.id, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (f *Feed) ActiveConnections() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.connections)
}

// CloseAll disconnects every client.
func (f *Feed) CloseAll() {
	f.mu.RLock()
	conns := make([]*feedConn, 0, len(f.connections))
	for _, c := range f.connections {
		conns = append(conns, c)
	}
	f.mu.RUnlock()

	for _, c := range conns {
		c.cancel()
	}
}

func (f *Feed) subscriberCount(channel string) int {
	f.channelMu.RLock()
	defer f.channelMu.RUnlock()
	return len(f.channels[channel])
}

func (f *Feed) handleClientMessage(c *feedConn, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel != SessionChannel {
			f.sendJSON(c, map[string]string{
				"type":    MsgSubscriptionError,
				"channel": msg.Channel,
				"message": "unknown channel",
			})
			return
		}
		f.subscribe(c, msg.Channel)
		f.sendJSON(c, map[string]string{
			"type":    MsgSubscriptionConfirmed,
			"channel": msg.Channel,
		})
		// Catch-up: late subscribers start from the current state.
		f.sendCatchUp(c)

	case "unsubscribe":
		if msg.Channel == "" {
			f.sendJSON(c, map[string]string{"type": MsgError, "message": "channel is required for unsubscribe"})
			return
		}
		f.unsubscribe(c, msg.Channel)

	case "ping":
		f.sendJSON(c, map[string]string{"type": MsgPong})

	default:
		f.sendJSON(c, map[string]string{"type": MsgError, "message": "unknown action " + msg.Action})
	}
}

func (f *Feed) subscribe(c *feedConn, channel string) {
	f.channelMu.Lock()
	if _, ok := f.channels[channel]; !ok {
		f.channels[channel] = make(map[string]bool)
	}
	f.channels[channel][c.id] = true
	f.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (f *Feed) unsubscribe(c *feedConn, channel string) {
	f.channelMu.Lock()
	if subs, ok := f.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(f.channels, channel)
		}
	}
	f.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

// subscribers returns the connections subscribed to channel. Sends happen
// outside the locks; a slow client may take up to writeTimeout.
func (f *Feed) subscribers(channel string) []*feedConn {
	f.channelMu.RLock()
	ids := make([]string, 0, len(f.channels[channel]))
	for id := range f.channels[channel] {
		ids = append(ids, id)
	}
	f.channelMu.RUnlock()

	f.mu.RLock()
	defer f.mu.RUnlock()
	conns := make([]*feedConn, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

func (f *Feed) sendCatchUp(c *feedConn) {
	session := f.snapshot()
	data, err := json.Marshal(SnapshotMessage{Type: MsgSessionSnapshot, Channel: SessionChannel, Session: session})
	if err != nil {
		f.logger.Warn("Failed to marshal feed message", "connection_id", c.id, "error", err)
		return
	}
	if err := f.sendSnapshot(c, session.Version, data); err != nil {
		f.logger.Warn("Failed to send feed message", "connection_id", c.id, "error", err)
	}
}

// sendSnapshot writes data unless c already has version or a newer one.
func (f *Feed) sendSnapshot(c *feedConn, version uint64, data []byte) error {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	if c.sentAny && version <= c.lastVersion {
		return nil
	}
	if err := f.sendRaw(c, data); err != nil {
		return err
	}
	c.sentAny = true
	c.lastVersion = version
	return nil
}

func (f *Feed) register(c *feedConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections[c.id] = c
}

func (f *Feed) unregister(c *feedConn) {
	for ch := range c.subscriptions {
		f.unsubscribe(c, ch)
	}

	f.mu.Lock()
	delete(f.connections, c.id)
	f.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (f *Feed) sendJSON(c *feedConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		f.logger.Warn("Failed to marshal feed message", "connection_id", c.id, "error", err)
		return
	}
	if err := f.sendRaw(c, data); err != nil {
		f.logger.Warn("Failed to send feed message", "connection_id", c.id, "error", err)
	}
}

func (f *Feed) sendRaw(c *feedConn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, f.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
