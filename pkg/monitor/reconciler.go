package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/events"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

// maxBatch bounds how many queued signals one merge step drains.
const maxBatch = 256

// signal is one input to the Reconciler. The concrete types below are the
// only variants; apply switches over them.
type signal interface {
	isSignal()
}

// startAck installs a new session the engine accepted.
type startAck struct {
	sessionID string
	targetURL string
	options   models.CrawlOptions
}

// stopRequested marks the session stopping ahead of the engine's confirmation.
type stopRequested struct {
	sessionID string
}

// acknowledge replaces a terminal session with an idle placeholder.
type acknowledge struct{}

// pollSnapshot carries one full status snapshot. sessionID is the session the
// poller was opened for.
type pollSnapshot struct {
	sessionID string
	snap      *models.StatusSnapshot
}

type pushMessage struct {
	sessionID string
	msg       events.Message
	delivery  events.Delivery
}

type pollHealth struct {
	sessionID string
	health    models.PollHealth
}

type pushStatus struct {
	sessionID string
	status    events.Status
}

// barrier is closed once every signal queued before it is applied and committed.
type barrier struct {
	done chan struct{}
}

func (startAck) isSignal()      {}
func (stopRequested) isSignal() {}
func (acknowledge) isSignal()   {}
func (pollSnapshot) isSignal()  {}
func (pushMessage) isSignal()   {}
func (pollHealth) isSignal()    {}
func (pushStatus) isSignal()    {}
func (barrier) isSignal()       {}

// TerminalFunc is called on the Reconciler goroutine with the published
// session right after it reaches completed or failed. It must not block.
type TerminalFunc func(session *models.CrawlSession)

// Reconciler merges poll and push observations into the Store. All signals
// pass through one channel and are applied by a single goroutine in arrival
// order.
type Reconciler struct {
	store      *Store
	in         chan signal
	done       chan struct{}
	onTerminal TerminalFunc
	now        func() time.Time

	// Per-session merge state, reset with the session.
	seq         uint64
	seenRaw     map[string]struct{}
	seenLogical map[string]struct{}
	pollOwned   map[string]struct{}
	reachedEnd  bool

	logger *slog.Logger
}

// NewReconciler creates a reconciler writing into store.
func NewReconciler(store *Store, onTerminal TerminalFunc) *Reconciler {
	r := &Reconciler{
		store:      store,
		in:         make(chan signal, maxBatch),
		done:       make(chan struct{}),
		onTerminal: onTerminal,
		now:        time.Now,
		logger:     slog.Default().With("component", "reconciler"),
	}
	r.resetMergeState()
	return r
}

// Run applies signals until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-r.in:
			batch := []signal{sig}
		drain:
			for len(batch) < maxBatch {
				select {
				case next := <-r.in:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			r.process(batch)
		}
	}
}

// submit queues sig. It returns false if the reconciler has stopped.
func (r *Reconciler) submit(sig signal) bool {
	select {
	case r.in <- sig:
		return true
	case <-r.done:
		return false
	}
}

// submitAndWait queues sig and blocks until it has been applied and committed.
func (r *Reconciler) submitAndWait(ctx context.Context, sig signal) error {
	b := barrier{done: make(chan struct{})}
	for _, s := range []signal{sig, b} {
		select {
		case r.in <- s:
		case <-r.done:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-b.done:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process is one merge step: apply every signal, publish once, then release
// waiters and fire the terminal hook.
func (r *Reconciler) process(batch []signal) {
	var barriers []barrier
	for _, sig := range batch {
		if b, ok := sig.(barrier); ok {
			barriers = append(barriers, b)
			continue
		}
		r.apply(sig)
	}

	r.store.commit()

	for _, b := range barriers {
		close(b.done)
	}
	if r.reachedEnd {
		r.reachedEnd = false
		if r.onTerminal != nil {
			r.onTerminal(r.store.Snapshot())
		}
	}
}

// apply is the single arbitration point for every signal variant.
func (r *Reconciler) apply(sig signal) {
	switch s := sig.(type) {
	case startAck:
		r.applyStart(s)
	case stopRequested:
		r.applyStopRequested(s)
	case acknowledge:
		r.applyAcknowledge()
	case pollSnapshot:
		r.applySnapshot(s)
	case pushMessage:
		r.applyPush(s)
	case pollHealth:
		if r.isCurrent(s.sessionID) {
			r.store.applyTransition(func(cs *models.CrawlSession) bool {
				if cs.Connectivity.Poll == s.health {
					return false
				}
				cs.Connectivity.Poll = s.health
				return true
			})
		}
	case pushStatus:
		if r.isCurrent(s.sessionID) {
			r.store.applyTransition(func(cs *models.CrawlSession) bool {
				next := cs.Connectivity
				next.Push = s.status.State
				next.DroppedMessages = s.status.Dropped
				next.Reconnects = s.status.Reconnects
				if next == cs.Connectivity {
					return false
				}
				cs.Connectivity = next
				return true
			})
		}
	default:
		r.logger.Error("Unknown signal type", "signal", fmt.Sprintf("%T", sig))
	}
}

func (r *Reconciler) resetMergeState() {
	r.seq = 0
	r.seenRaw = make(map[string]struct{})
	r.seenLogical = make(map[string]struct{})
	r.pollOwned = make(map[string]struct{})
}

func (r *Reconciler) isCurrent(sessionID string) bool {
	cur := r.store.current().SessionID
	return sessionID != "" && cur != "" && sessionID == cur
}

func (r *Reconciler) applyStart(s startAck) {
	cur := r.store.current()
	if cur.Phase.IsActive() {
		r.logger.Warn("Start acknowledgment while a session is active, discarding",
			"session_id", s.sessionID, "active_session_id", cur.SessionID, "phase", cur.Phase)
		return
	}

	now := r.now()
	next := models.NewIdleSession()
	next.SessionID = s.sessionID
	next.Phase = models.PhaseStarting
	next.TargetURL = s.targetURL
	next.Options = s.options.Clone()
	next.StartedAt = &now

	r.resetMergeState()
	r.store.reset(next)
	r.logger.Info("Crawl session started", "session_id", s.sessionID, "target_url", s.targetURL)
}

func (r *Reconciler) applyStopRequested(s stopRequested) {
	if !r.isCurrent(s.sessionID) {
		return
	}
	r.store.applyTransition(func(cs *models.CrawlSession) bool {
		if cs.Phase != models.PhaseStarting && cs.Phase != models.PhaseRunning {
			return false
		}
		return r.advance(cs, models.PhaseStopping, models.ProvenanceControl, "stop requested", time.Time{})
	})
}

func (r *Reconciler) applyAcknowledge() {
	cur := r.store.current()
	if !cur.Phase.IsTerminal() {
		return
	}
	r.logger.Info("Terminal session acknowledged", "session_id", cur.SessionID, "phase", cur.Phase)
	r.resetMergeState()
	r.store.reset(models.NewIdleSession())
}

func (r *Reconciler) applySnapshot(s pollSnapshot) {
	snap := s.snap
	if snap == nil || !r.isCurrent(s.sessionID) || snap.SessionID != s.sessionID {
		r.logger.Debug("Discarding snapshot for another session",
			"snapshot_session_id", sessionOf(snap), "current_session_id", r.store.current().SessionID)
		return
	}

	key := "poll:" + snapshotHash(snap)
	if _, seen := r.seenRaw[key]; seen {
		return
	}
	r.seenRaw[key] = struct{}{}

	r.store.applyTransition(func(cs *models.CrawlSession) bool {
		if cs.Phase.IsTerminal() {
			return false
		}
		changed := false

		if cs.Phase == models.PhaseStarting && indicatesRunning(snap.Phase) {
			changed = r.advance(cs, models.PhaseRunning, models.ProvenancePoll, "", time.Time{})
		}

		if cs.Phase == models.PhaseRunning || cs.Phase == models.PhaseStopping {
			for _, res := range snap.Results {
				changed = r.mergePolledResult(cs, res) || changed
			}
		}

		if snap.CurrentURL != "" && snap.CurrentURL != cs.CurrentURL {
			cs.CurrentURL = snap.CurrentURL
			changed = true
		}

		switch snap.Phase {
		case models.PhaseStopping, models.PhaseCompleted, models.PhaseFailed:
			if snap.Phase == models.PhaseFailed && snap.Error != "" && cs.Error == "" {
				cs.Error = snap.Error
				changed = true
			}
			if cs.Phase.Precedes(snap.Phase) {
				changed = r.advance(cs, snap.Phase, models.ProvenancePoll, snap.Error, time.Time{}) || changed
			}
		case models.PhaseRunning:
		default:
			if cs.Phase != models.PhaseStarting {
				r.logger.Debug("Ignoring regressive phase from snapshot",
					"session_id", cs.SessionID, "phase", cs.Phase, "snapshot_phase", snap.Phase)
			}
		}
		return changed
	})
}

// mergePolledResult applies one snapshot row. The snapshot wins for status and
// documents; the timeline gains an entry only for facts not yet seen.
func (r *Reconciler) mergePolledResult(cs *models.CrawlSession, res models.SnapshotResult) bool {
	changed := false
	item := models.ResultItem{
		URL:       res.URL,
		Status:    res.Status,
		Documents: slices.Clone(res.Documents),
		Error:     res.Error,
		Timestamp: res.Timestamp,
	}
	if item.Documents == nil {
		item.Documents = []string{}
	}
	prev, exists := cs.Results[res.URL]
	if item.Timestamp.IsZero() && exists {
		item.Timestamp = prev.Timestamp
	}
	if !exists || !sameResult(prev, item) {
		cs.Results[res.URL] = item
		changed = true
	}
	r.pollOwned[res.URL] = struct{}{}

	kind := models.KindSuccess
	if res.Status == models.ResultError {
		kind = models.KindError
	}
	if r.markLogical(resultKey(res.URL, res.Status)) {
		r.appendEvent(cs, models.Event{
			Provenance: models.ProvenancePoll,
			Kind:       kind,
			Message:    res.Error,
			URL:        res.URL,
			Documents:  slices.Clone(res.Documents),
			SourceID:   "poll:" + res.URL,
			Timestamp:  res.Timestamp,
		})
		changed = true
	}
	return changed
}

func (r *Reconciler) applyPush(s pushMessage) {
	msg := s.msg
	if !r.isCurrent(s.sessionID) || (msg.SessionID != "" && msg.SessionID != s.sessionID) {
		r.logger.Debug("Discarding push message for another session",
			"message_session_id", msg.SessionID, "current_session_id", r.store.current().SessionID)
		return
	}

	cur := r.store.current()
	if cur.Phase.IsTerminal() {
		r.logger.Debug("Discarding push message after terminal phase",
			"session_id", cur.SessionID, "phase", cur.Phase, "kind", msg.Kind)
		return
	}

	key := "push:" + msg.SourceID()
	if _, seen := r.seenRaw[key]; seen {
		r.logger.Debug("Discarding re-delivered push message", "source_id", msg.SourceID(),
			"connection", s.delivery.Connection, "local", s.delivery.Local)
		return
	}
	r.seenRaw[key] = struct{}{}

	r.store.applyTransition(func(cs *models.CrawlSession) bool {
		changed := false
		if cs.Phase == models.PhaseStarting && (msg.Kind != models.KindStatus || indicatesRunning(msg.Phase)) {
			changed = r.advance(cs, models.PhaseRunning, models.ProvenancePush, "", time.Time{})
		}

		evt := msg.Event()
		switch msg.Kind {
		case models.KindStatus:
			if msg.Phase == models.PhaseFailed && msg.Message != "" && cs.Error == "" {
				cs.Error = msg.Message
				changed = true
			}
			if msg.Phase == cs.Phase {
				return changed
			}
			if !cs.Phase.Precedes(msg.Phase) {
				r.logger.Warn("Discarding inconsistent phase signal",
					"session_id", cs.SessionID, "phase", cs.Phase, "signal_phase", msg.Phase)
				return changed
			}
			return r.advance(cs, msg.Phase, models.ProvenancePush, msg.Message, msg.Timestamp) || changed

		case models.KindSuccess, models.KindError:
			if msg.URL != "" {
				changed = r.mergePushedResult(cs, msg) || changed
				if !r.markLogical(resultKey(msg.URL, resultStatus(msg.Kind))) {
					return changed
				}
			}

		case models.KindMetric:
			for name, delta := range msg.Metrics {
				cs.Metrics[name] += delta
			}

		case models.KindInfo:
			if msg.URL != "" {
				cs.CurrentURL = msg.URL
			}
		}

		r.appendEvent(cs, evt)
		return true
	})
}

// mergePushedResult records a result first seen on the push stream. Rows the
// snapshot has already reported are left to the snapshot.
func (r *Reconciler) mergePushedResult(cs *models.CrawlSession, msg events.Message) bool {
	if cs.Phase != models.PhaseRunning && cs.Phase != models.PhaseStopping {
		return false
	}
	if _, owned := r.pollOwned[msg.URL]; owned {
		return false
	}
	item := models.ResultItem{
		URL:       msg.URL,
		Status:    resultStatus(msg.Kind),
		Documents: slices.Clone(msg.Documents),
		Timestamp: msg.Timestamp,
	}
	if item.Documents == nil {
		item.Documents = []string{}
	}
	if msg.Kind == models.KindError {
		item.Error = msg.Message
	}
	if prev, ok := cs.Results[msg.URL]; ok && sameResult(prev, item) {
		return false
	}
	cs.Results[msg.URL] = item
	return true
}

// advance moves cs to phase and records the transition once on the timeline.
func (r *Reconciler) advance(cs *models.CrawlSession, phase models.Phase, prov models.Provenance, reason string, ts time.Time) bool {
	if !cs.Phase.Precedes(phase) {
		return false
	}
	from := cs.Phase
	cs.Phase = phase
	if phase.IsTerminal() {
		now := r.now()
		cs.EndedAt = &now
		r.reachedEnd = true
	}

	if r.markLogical("phase:" + string(phase)) {
		r.appendEvent(cs, models.Event{
			Provenance: prov,
			Kind:       models.KindStatus,
			Message:    reason,
			Phase:      phase,
			SourceID:   string(prov) + ":phase:" + string(phase),
			Timestamp:  ts,
		})
	}

	r.logger.Info("Session phase changed",
		"session_id", cs.SessionID, "from", from, "to", phase, "provenance", prov)
	return true
}

func (r *Reconciler) appendEvent(cs *models.CrawlSession, evt models.Event) {
	r.seq++
	evt.Seq = r.seq
	evt.AcceptedAt = r.now()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = evt.AcceptedAt
	}
	cs.Timeline = append(cs.Timeline, evt)
}

// markLogical records key and reports whether it was new.
func (r *Reconciler) markLogical(key string) bool {
	if _, seen := r.seenLogical[key]; seen {
		return false
	}
	r.seenLogical[key] = struct{}{}
	return true
}

// indicatesRunning reports whether an engine-reported phase implies the crawl
// has begun.
func indicatesRunning(p models.Phase) bool {
	return p == models.PhaseRunning || p == models.PhaseStopping || p.IsTerminal()
}

func resultKey(url string, status models.ResultStatus) string {
	return "result:" + url + ":" + string(status)
}

func resultStatus(kind models.EventKind) models.ResultStatus {
	if kind == models.KindError {
		return models.ResultError
	}
	return models.ResultSuccess
}

func sameResult(a, b models.ResultItem) bool {
	return a.URL == b.URL && a.Status == b.Status && a.Error == b.Error &&
		a.Timestamp.Equal(b.Timestamp) && slices.Equal(a.Documents, b.Documents)
}

func snapshotHash(snap *models.StatusSnapshot) string {
	data, _ := json.Marshal(snap)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sessionOf(snap *models.StatusSnapshot) string {
	if snap == nil {
		return ""
	}
	return snap.SessionID
}
