package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// recordingHandler captures everything the subscriber delivers.
type recordingHandler struct {
	mu         sync.Mutex
	messages   []Message
	deliveries []Delivery
	statuses   []Status
}

func (h *recordingHandler) HandlePushMessage(_ string, msg Message, d Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	h.deliveries = append(h.deliveries, d)
}

func (h *recordingHandler) HandlePushStatus(_ string, st Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, st)
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *recordingHandler) snapshot() ([]Message, []Delivery, []Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...),
		append([]Delivery(nil), h.deliveries...),
		append([]Status(nil), h.statuses...)
}

func (h *recordingHandler) lastStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) == 0 {
		return Status{}
	}
	return h.statuses[len(h.statuses)-1]
}

// fakeEngine serves the push endpoint. Each accepted connection runs the
// next script; the last script is reused once the list is exhausted.
type fakeEngine struct {
	server   *httptest.Server
	mu       sync.Mutex
	scripts  []func(ctx context.Context, conn *websocket.Conn)
	accepted atomic.Int32
	channels chan string
}

func newFakeEngine(t *testing.T, scripts ...func(ctx context.Context, conn *websocket.Conn)) *fakeEngine {
	t.Helper()
	fe := &fakeEngine{scripts: scripts, channels: make(chan string, 16)}
	fe.server = httptest.NewServer(http.HandlerFunc(fe.serve))
	t.Cleanup(fe.server.Close)
	return fe
}

func (fe *fakeEngine) url() string {
	return "ws" + strings.TrimPrefix(fe.server.URL, "http")
}

func (fe *fakeEngine) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	n := int(fe.accepted.Add(1))
	fe.mu.Lock()
	script := fe.scripts[min(n, len(fe.scripts))-1]
	fe.mu.Unlock()

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var sub ClientMessage
	if json.Unmarshal(data, &sub) == nil && sub.Action == ActionSubscribe {
		select {
		case fe.channels <- sub.Channel:
		default:
		}
	}
	script(ctx, conn)
}

func send(ctx context.Context, conn *websocket.Conn, frame string) {
	_ = conn.Write(ctx, websocket.MessageText, []byte(frame))
}

func confirm(ctx context.Context, conn *websocket.Conn) {
	send(ctx, conn, `{"type":"subscription.confirmed","channel":"crawl:s1"}`)
}

// holdOpen keeps the connection alive until the client goes away.
func holdOpen(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func fastConfig() Config {
	return Config{
		Backoff:          &Backoff{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond},
		HandshakeTimeout: 500 * time.Millisecond,
	}
}

func TestSubscriber_SubscribesAndDelivers(t *testing.T) {
	fe := newFakeEngine(t, func(ctx context.Context, conn *websocket.Conn) {
		confirm(ctx, conn)
		send(ctx, conn, `{"kind":"info","message":"fetching","source_seq":1}`)
		send(ctx, conn, `[{"kind":"success","url":"https://a.com","source_seq":2},{"kind":"metric","metrics":{"pages":1},"source_seq":3}]`)
		holdOpen(ctx, conn)
	})

	h := &recordingHandler{}
	sub := NewSubscriber(fe.url(), h, fastConfig())
	require.NoError(t, sub.Connect(context.Background(), "s1"))
	defer sub.Close()

	select {
	case ch := <-fe.channels:
		assert.Equal(t, "crawl:s1", ch)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never received subscribe")
	}

	require.Eventually(t, func() bool { return h.messageCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	msgs, deliveries, _ := h.snapshot()
	assert.Equal(t, "fetching", msgs[0].Message)
	assert.Equal(t, models.KindSuccess, msgs[1].Kind)
	for i, d := range deliveries {
		assert.Equal(t, 1, d.Connection)
		assert.Equal(t, uint64(i+1), d.Local)
	}
	assert.Equal(t, models.PushConnected, h.lastStatus().State)
}

func TestSubscriber_ConnectValidation(t *testing.T) {
	fe := newFakeEngine(t, func(ctx context.Context, conn *websocket.Conn) {
		confirm(ctx, conn)
		holdOpen(ctx, conn)
	})
	sub := NewSubscriber(fe.url(), &recordingHandler{}, fastConfig())

	require.Error(t, sub.Connect(context.Background(), ""))
	require.NoError(t, sub.Connect(context.Background(), "s1"))
	assert.ErrorIs(t, sub.Connect(context.Background(), "s1"), ErrAlreadyConnected)

	sub.Close()
	require.Error(t, sub.Connect(context.Background(), "s1"))
}

func TestSubscriber_ReconnectResetsLocalCounter(t *testing.T) {
	fe := newFakeEngine(t,
		func(ctx context.Context, conn *websocket.Conn) {
			confirm(ctx, conn)
			send(ctx, conn, `{"kind":"info","message":"one","source_seq":1}`)
			send(ctx, conn, `{"kind":"info","message":"two","source_seq":2}`)
			time.Sleep(20 * time.Millisecond)
			// Returning drops the connection.
		},
		func(ctx context.Context, conn *websocket.Conn) {
			confirm(ctx, conn)
			send(ctx, conn, `{"kind":"info","message":"three","source_seq":3}`)
			holdOpen(ctx, conn)
		},
	)

	h := &recordingHandler{}
	sub := NewSubscriber(fe.url(), h, fastConfig())
	require.NoError(t, sub.Connect(context.Background(), "s1"))
	defer sub.Close()

	require.Eventually(t, func() bool { return h.messageCount() == 3 }, 3*time.Second, 10*time.Millisecond)

	msgs, deliveries, _ := h.snapshot()
	assert.Equal(t, "three", msgs[2].Message)
	assert.Equal(t, Delivery{Connection: 1, Local: 1}, deliveries[0])
	assert.Equal(t, Delivery{Connection: 1, Local: 2}, deliveries[1])
	assert.Equal(t, Delivery{Connection: 2, Local: 1}, deliveries[2])

	require.Eventually(t, func() bool {
		st := h.lastStatus()
		return st.State == models.PushConnected && st.Reconnects == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscriber_HandshakeTimeoutTriggersReconnect(t *testing.T) {
	fe := newFakeEngine(t,
		func(ctx context.Context, conn *websocket.Conn) {
			// Never confirm.
			holdOpen(ctx, conn)
		},
		func(ctx context.Context, conn *websocket.Conn) {
			confirm(ctx, conn)
			send(ctx, conn, `{"kind":"info","message":"after retry","source_seq":1}`)
			holdOpen(ctx, conn)
		},
	)

	h := &recordingHandler{}
	cfg := fastConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	sub := NewSubscriber(fe.url(), h, cfg)
	require.NoError(t, sub.Connect(context.Background(), "s1"))
	defer sub.Close()

	require.Eventually(t, func() bool { return h.messageCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, int(fe.accepted.Load()), 2)

	_, deliveries, _ := h.snapshot()
	assert.Equal(t, 1, deliveries[0].Connection)
}

func TestSubscriber_EventsBeforeConfirmationAreDelivered(t *testing.T) {
	fe := newFakeEngine(t, func(ctx context.Context, conn *websocket.Conn) {
		send(ctx, conn, `{"kind":"info","message":"early","source_seq":1}`)
		confirm(ctx, conn)
		send(ctx, conn, `{"kind":"info","message":"late","source_seq":2}`)
		holdOpen(ctx, conn)
	})

	h := &recordingHandler{}
	sub := NewSubscriber(fe.url(), h, fastConfig())
	require.NoError(t, sub.Connect(context.Background(), "s1"))
	defer sub.Close()

	require.Eventually(t, func() bool { return h.messageCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	msgs, _, _ := h.snapshot()
	assert.Equal(t, "early", msgs[0].Message)
	assert.Equal(t, "late", msgs[1].Message)
}

func TestSubscriber_MalformedFramesAreCounted(t *testing.T) {
	fe := newFakeEngine(t, func(ctx context.Context, conn *websocket.Conn) {
		confirm(ctx, conn)
		send(ctx, conn, `{"kind":`)
		send(ctx, conn, `{"kind":"bogus"}`)
		send(ctx, conn, `{"kind":"info","message":"fine","source_seq":1}`)
		holdOpen(ctx, conn)
	})

	h := &recordingHandler{}
	sub := NewSubscriber(fe.url(), h, fastConfig())
	require.NoError(t, sub.Connect(context.Background(), "s1"))
	defer sub.Close()

	require.Eventually(t, func() bool { return h.messageCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.lastStatus().Dropped == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, int(fe.accepted.Load()), "malformed frames must not force a reconnect")
}

func TestSubscriber_SubscriptionErrorReconnects(t *testing.T) {
	fe := newFakeEngine(t,
		func(ctx context.Context, conn *websocket.Conn) {
			send(ctx, conn, `{"type":"subscription.error","channel":"crawl:s1"}`)
			holdOpen(ctx, conn)
		},
		func(ctx context.Context, conn *websocket.Conn) {
			confirm(ctx, conn)
			send(ctx, conn, `{"kind":"info","message":"ok","source_seq":1}`)
			holdOpen(ctx, conn)
		},
	)

	h := &recordingHandler{}
	sub := NewSubscriber(fe.url(), h, fastConfig())
	require.NoError(t, sub.Connect(context.Background(), "s1"))
	defer sub.Close()

	require.Eventually(t, func() bool { return h.messageCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, int(fe.accepted.Load()), 2)
}

func TestSubscriber_CloseIsIdempotentAndFinal(t *testing.T) {
	fe := newFakeEngine(t, func(ctx context.Context, conn *websocket.Conn) {
		confirm(ctx, conn)
		for {
			if ctx.Err() != nil {
				return
			}
			send(ctx, conn, `{"kind":"info","message":"tick"}`)
			time.Sleep(5 * time.Millisecond)
		}
	})

	h := &recordingHandler{}
	sub := NewSubscriber(fe.url(), h, fastConfig())
	require.NoError(t, sub.Connect(context.Background(), "s1"))

	require.Eventually(t, func() bool { return h.messageCount() > 0 }, 2*time.Second, 10*time.Millisecond)

	sub.Close()
	sub.Close()

	assert.Equal(t, models.PushClosed, h.lastStatus().State)
	after := h.messageCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, h.messageCount(), "no deliveries after Close")
}

func TestSubscriber_UnreachableEngineKeepsRetrying(t *testing.T) {
	h := &recordingHandler{}
	sub := NewSubscriber("ws://127.0.0.1:1/ws", h, fastConfig())
	require.NoError(t, sub.Connect(context.Background(), "s1"))

	require.Eventually(t, func() bool {
		st := h.lastStatus()
		return st.Reconnects >= 2
	}, 3*time.Second, 10*time.Millisecond)

	sub.Close()
	assert.Equal(t, models.PushClosed, h.lastStatus().State)
}
