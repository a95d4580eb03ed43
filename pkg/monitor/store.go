package monitor

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// Listener is called with the latest published session after a change.
// Notifications are coalesced: a slow listener sees only the newest state.
type Listener func(session *models.CrawlSession)

// Store holds the reconciled crawl session. The Reconciler is its only
// writer; readers get immutable copies.
type Store struct {
	published atomic.Pointer[models.CrawlSession]
	version   atomic.Uint64

	// working and dirty are owned by the Reconciler goroutine.
	working *models.CrawlSession
	dirty   bool

	mu        sync.Mutex
	listeners map[string]*listener
	closed    bool

	logger *slog.Logger
}

type listener struct {
	fn     Listener
	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewStore creates a store holding an idle placeholder session.
func NewStore() *Store {
	s := &Store{
		working:   models.NewIdleSession(),
		listeners: make(map[string]*listener),
		logger:    slog.Default().With("component", "store"),
	}
	s.published.Store(s.working.Clone())
	return s
}

// Snapshot returns a deep copy of the last published session. It never
// reflects a partially applied merge step.
func (s *Store) Snapshot() *models.CrawlSession {
	return s.published.Load().Clone()
}

// Version counts publications. It increases by one per merge step that
// changed the session.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Subscribe registers fn for change notifications and returns a func that
// unregisters it. fn runs on its own goroutine. unsubscribe waits for a
// running fn to return, so fn must not call it directly; it may hand the
// call to another goroutine.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	id := uuid.New().String()
	l := &listener{
		fn:     fn,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.listeners[id] = l
	s.mu.Unlock()

	go s.deliver(l)
	s.logger.Debug("Listener subscribed", "listener_id", id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			_, registered := s.listeners[id]
			delete(s.listeners, id)
			s.mu.Unlock()
			if !registered {
				// Close already stopped it.
				return
			}
			close(l.stop)
			<-l.done
			s.logger.Debug("Listener unsubscribed", "listener_id", id)
		})
	}
}

// Close stops all listener goroutines. Later Subscribe calls are no-ops.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ls := s.listeners
	s.listeners = make(map[string]*listener)
	s.mu.Unlock()

	for _, l := range ls {
		close(l.stop)
		<-l.done
	}
}

func (s *Store) deliver(l *listener) {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.signal:
			l.fn(s.Snapshot())
		}
	}
}

// applyTransition mutates the working session. fn reports whether it changed
// anything. Only the Reconciler calls this.
func (s *Store) applyTransition(fn func(session *models.CrawlSession) bool) {
	if fn(s.working) {
		s.dirty = true
	}
}

// reset replaces the working session wholesale.
func (s *Store) reset(session *models.CrawlSession) {
	s.working = session
	s.dirty = true
}

// current exposes the working session to the Reconciler for reads.
func (s *Store) current() *models.CrawlSession {
	return s.working
}

// commit publishes the working session if the merge step changed it and
// notifies listeners once. It reports whether anything was published.
func (s *Store) commit() bool {
	if !s.dirty {
		return false
	}
	s.dirty = false
	s.working.Version = s.version.Add(1)
	s.published.Store(s.working.Clone())

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		select {
		case l.signal <- struct{}{}:
		default:
		}
	}
	return true
}
