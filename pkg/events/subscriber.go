package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/version"
)

// DefaultHandshakeTimeout bounds dial + subscribe + confirmation.
const DefaultHandshakeTimeout = 10 * time.Second

// readLimit is the maximum accepted frame size.
const readLimit = 1 << 20

var (
	// ErrAlreadyConnected is returned by Connect on a subscriber that is running.
	ErrAlreadyConnected = errors.New("subscriber already connected")

	// ErrSubscriptionRejected is returned when the engine answers subscribe with subscription.error.
	ErrSubscriptionRejected = errors.New("subscription rejected by engine")
)

// Delivery locates a message within the subscription.
type Delivery struct {
	// Connection counts successful connections, starting at 1.
	Connection int
	// Local is the message index within the current connection. It restarts
	// at 1 on every reconnect.
	Local uint64
}

// Status is the channel-level state reported to the Handler.
type Status struct {
	State      models.PushState
	Dropped    int
	Reconnects int
}

// Handler receives decoded push traffic. Calls come from a single goroutine.
type Handler interface {
	HandlePushMessage(sessionID string, msg Message, d Delivery)
	HandlePushStatus(sessionID string, st Status)
}

// Config tunes a Subscriber.
type Config struct {
	Backoff          *Backoff
	HandshakeTimeout time.Duration
}

// Subscriber keeps one session-scoped subscription open, reconnecting with
// backoff until Close.
type Subscriber struct {
	url              string
	handler          Handler
	backoff          *Backoff
	handshakeTimeout time.Duration

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool

	// Owned by the run goroutine until done is closed.
	status     Status
	connection int

	logger *slog.Logger
}

// NewSubscriber creates a disconnected subscriber for the engine push endpoint at url.
func NewSubscriber(url string, handler Handler, cfg Config) *Subscriber {
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoff(0, 0)
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Subscriber{
		url:              url,
		handler:          handler,
		backoff:          backoff,
		handshakeTimeout: timeout,
		status:           Status{State: models.PushDisconnected},
		logger:           slog.Default().With("component", "push"),
	}
}

// Connect starts the subscription for sessionID in the background.
// Connection failures are retried; Connect itself only fails on misuse.
func (s *Subscriber) Connect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("connect: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("connect: subscriber is closed")
	}
	if s.cancel != nil {
		return ErrAlreadyConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.sessionID = sessionID
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, sessionID, s.done)
	return nil
}

// Close tears the subscription down and waits for the run loop to exit.
// Messages still in flight are discarded. Close is idempotent.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done, sessionID := s.cancel, s.done, s.sessionID
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.status.State = models.PushClosed
	s.handler.HandlePushStatus(sessionID, s.status)
	s.logger.Info("Push subscription closed", "session_id", sessionID)
}

// run is the reconnect state machine:
// connecting → connected → disconnected → (backoff) → connecting …
func (s *Subscriber) run(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)
	log := s.logger.With("session_id", sessionID)

	attempt := 0
	for {
		s.setState(sessionID, models.PushConnecting)

		conn, pending, err := s.handshake(ctx, sessionID)
		if err == nil {
			attempt = 0
			s.connection++
			s.setState(sessionID, models.PushConnected)
			log.Info("Push subscription established", "connection", s.connection)

			err = s.readLoop(ctx, conn, sessionID, pending)
			_ = conn.CloseNow()
		}

		if ctx.Err() != nil {
			return
		}

		s.setState(sessionID, models.PushDisconnected)
		delay := s.backoff.Delay(attempt)
		log.Warn("Push connection lost, reconnecting",
			"error", err, "attempt", attempt+1, "backoff", delay)
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.status.Reconnects++
	}
}

// handshake dials, subscribes and waits for confirmation, all within the
// handshake timeout. Events that arrive before the confirmation are returned
// so they can be delivered once the connection counts as established.
func (s *Subscriber) handshake(ctx context.Context, sessionID string) (*websocket.Conn, [][]byte, error) {
	hsCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(hsCtx, s.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{version.Full()}},
	})
	if err != nil {
		return nil, nil, &engine.TransientNetworkError{Op: "push dial", Err: err}
	}
	conn.SetReadLimit(readLimit)

	sub, _ := json.Marshal(ClientMessage{Action: ActionSubscribe, Channel: CrawlChannel(sessionID)})
	if err := conn.Write(hsCtx, websocket.MessageText, sub); err != nil {
		_ = conn.CloseNow()
		return nil, nil, &engine.TransientNetworkError{Op: "push subscribe", Err: err}
	}

	var pending [][]byte
	for {
		_, data, err := conn.Read(hsCtx)
		if err != nil {
			_ = conn.CloseNow()
			return nil, nil, &engine.TransientNetworkError{Op: "push handshake", Err: err}
		}
		frame, err := ParseFrame(data)
		if err != nil {
			s.drop(sessionID, err)
			continue
		}
		switch frame.Control {
		case TypeSubscriptionConfirmed:
			return conn, pending, nil
		case TypeSubscriptionError:
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return nil, nil, ErrSubscriptionRejected
		case "":
			pending = append(pending, data)
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, pending [][]byte) error {
	var local uint64
	for _, data := range pending {
		s.handleFrame(ctx, sessionID, data, &local)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := s.handleFrame(ctx, sessionID, data, &local); err != nil {
			return err
		}
	}
}

// handleFrame delivers the events in one frame. It returns an error only
// when the frame means the subscription is no longer valid.
func (s *Subscriber) handleFrame(ctx context.Context, sessionID string, data []byte, local *uint64) error {
	frame, err := ParseFrame(data)
	if err != nil {
		s.drop(sessionID, err)
		return nil
	}

	switch frame.Control {
	case "":
	case TypeSubscriptionError:
		return ErrSubscriptionRejected
	case TypeCatchupOverflow:
		s.logger.Warn("Engine reported catchup overflow; poll snapshot will fill the gap",
			"session_id", sessionID)
		return nil
	default:
		return nil
	}

	for _, msg := range frame.Messages {
		if ctx.Err() != nil {
			return nil
		}
		*local++
		s.handler.HandlePushMessage(sessionID, msg, Delivery{Connection: s.connection, Local: *local})
	}
	return nil
}

func (s *Subscriber) drop(sessionID string, err error) {
	s.status.Dropped++
	s.logger.Warn("Dropped malformed push frame",
		"session_id", sessionID, "dropped_total", s.status.Dropped, "error", err)
	s.handler.HandlePushStatus(sessionID, s.status)
}

func (s *Subscriber) setState(sessionID string, state models.PushState) {
	if s.status.State == state {
		return
	}
	s.status.State = state
	s.handler.HandlePushStatus(sessionID, s.status)
}
