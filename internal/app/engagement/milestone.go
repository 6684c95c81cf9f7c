package engagement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/metrics"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// NotifierStore is the slice of the progress store the notifier needs.
type NotifierStore interface {
	domain.XPStore
	domain.TaskStore
	domain.MilestoneLedger
	domain.Subscriber
}

// Notifier detects milestone crossings and announces each one once.
//
// Detection is level-triggered: every evaluation recomputes the set of
// milestones whose condition currently holds, so a condition that was
// already true before the first observation (app reload) is still caught.
// For each triggered milestone not yet in the user's ledger the notifier
// persists the marker first and only then emits one notification.
//
// Evaluations for the same user are serialised inside one process, so a
// milestone is announced at most once per process. Two processes (tabs,
// devices) writing the same user race between the ledger read and the
// marker write; both may announce. The ledger itself stays consistent
// because the marker write is idempotent.
type Notifier struct {
	rules      Rules
	store      NotifierStore
	dispatcher *Dispatcher
	log        *logger.Logger
	now        func() time.Time
	newID      func() string

	locks userLocks
}

// NewNotifier creates a notifier that emits through dispatcher.
func NewNotifier(rules Rules, store NotifierStore, dispatcher *Dispatcher, log *logger.Logger) *Notifier {
	return &Notifier{
		rules:      rules,
		store:      store,
		dispatcher: dispatcher,
		log:        log.With("service", "Notifier"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// observation is what an evaluation knows about the user. A nil field was
// not observed yet and its milestones are skipped.
type observation struct {
	xp    *int64
	tasks map[string]domain.TaskRecord
}

// Check reads the user's current XP and task records and runs one
// evaluation. Used after writes made outside a live watcher.
func (n *Notifier) Check(ctx context.Context, userID string) ([]domain.MilestoneNotification, error) {
	xp, err := n.store.CumulativeXP(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read xp: %w", err)
	}
	tasks, err := n.store.TaskRecords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	if tasks == nil {
		tasks = map[string]domain.TaskRecord{}
	}
	return n.evaluate(ctx, userID, observation{xp: &xp, tasks: tasks})
}

// triggered returns the milestones whose condition holds for the
// observation, XP thresholds ascending first, then certified tasks.
func (n *Notifier) triggered(obs observation) []domain.MilestoneDefinition {
	var out []domain.MilestoneDefinition
	for _, def := range n.rules.MilestoneDefinitions(obs.tasks) {
		switch def.Kind {
		case domain.MilestoneXPThreshold:
			if obs.xp != nil && *obs.xp >= def.Threshold {
				out = append(out, def)
			}
		case domain.MilestoneTaskCertified:
			if obs.tasks != nil {
				out = append(out, def)
			}
		}
	}
	return out
}

// State reports where a milestone stands for the user right now.
func (n *Notifier) State(ctx context.Context, userID string, def domain.MilestoneDefinition) (domain.MilestoneState, error) {
	shown, err := n.store.ShownMilestones(ctx, userID)
	if err != nil {
		return domain.MilestoneUnreached, fmt.Errorf("read ledger: %w", err)
	}
	if slices.Contains(shown, def.ID) {
		return domain.MilestoneNotified, nil
	}

	switch def.Kind {
	case domain.MilestoneXPThreshold:
		xp, err := n.store.CumulativeXP(ctx, userID)
		if err != nil {
			return domain.MilestoneUnreached, fmt.Errorf("read xp: %w", err)
		}
		if xp >= def.Threshold {
			return domain.MilestoneReachedUnnotified, nil
		}
	case domain.MilestoneTaskCertified:
		tasks, err := n.store.TaskRecords(ctx, userID)
		if err != nil {
			return domain.MilestoneUnreached, fmt.Errorf("read tasks: %w", err)
		}
		if rec, ok := tasks[def.TaskID]; ok && rec.Certifiable() {
			return domain.MilestoneReachedUnnotified, nil
		}
	}
	return domain.MilestoneUnreached, nil
}

// evaluate runs the dedup algorithm once and returns the notifications it
// emitted. Marker write failures are joined into the returned error; those
// milestones stay reached-but-unnotified and are retried next time.
func (n *Notifier) evaluate(ctx context.Context, userID string, obs observation) ([]domain.MilestoneNotification, error) {
	defs := n.triggered(obs)
	if len(defs) == 0 {
		return nil, nil
	}

	l := n.locks.lock(userID)
	defer n.locks.unlock(userID, l)

	shown, err := n.store.ShownMilestones(ctx, userID)
	if err != nil {
		n.log.Warn("ledger read failed, deferring milestones", "user_id", userID, "error", err)
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	seen := make(map[string]bool, len(shown))
	for _, id := range shown {
		seen[id] = true
	}

	var (
		emitted []domain.MilestoneNotification
		errs    []error
	)
	for _, def := range defs {
		if seen[def.ID] || l.notified[def.ID] {
			continue
		}

		if err := n.store.SetShownMilestone(ctx, userID, def.ID); err != nil {
			metrics.MarkerWriteFailures.Inc()
			n.log.Warn("milestone marker write failed, will retry on next change",
				"user_id", userID, "milestone_id", def.ID, "error", err)
			errs = append(errs, fmt.Errorf("mark %s shown: %w", def.ID, err))
			continue
		}
		l.notified[def.ID] = true

		note := n.notification(userID, def, obs)
		if err := n.dispatcher.Emit(ctx, note); err != nil {
			n.log.Debug("milestone delivered with sink failures", "milestone_id", def.ID, "error", err)
		}
		metrics.MilestonesNotified.WithLabelValues(string(def.Kind)).Inc()
		n.log.Info("milestone notified", "user_id", userID, "milestone_id", def.ID, "kind", def.Kind)
		emitted = append(emitted, note)
	}
	return emitted, errors.Join(errs...)
}

func (n *Notifier) notification(userID string, def domain.MilestoneDefinition, obs observation) domain.MilestoneNotification {
	now := n.now().UTC()
	note := domain.MilestoneNotification{
		ID:          n.newID(),
		UserID:      userID,
		MilestoneID: def.ID,
		Kind:        def.Kind,
		CreatedAt:   now,
		Payload:     domain.MilestonePayload{Date: now.Format(time.RFC3339)},
	}
	switch def.Kind {
	case domain.MilestoneXPThreshold:
		note.Payload.Threshold = def.Threshold
		if obs.xp != nil {
			note.Payload.XP = *obs.xp
		}
	case domain.MilestoneTaskCertified:
		rec := obs.tasks[def.TaskID]
		note.Payload.TaskID = def.TaskID
		note.Payload.TaskName = rec.Name
		if rec.CompletedDate != "" {
			note.Payload.Date = rec.CompletedDate
		}
	}
	return note
}

// ─── Watcher ────────────────────────────────────────────────────────────────

// Watcher keeps a user's XP and task subscriptions open and evaluates
// milestones on every change. Stop must be called when the observing
// context goes away; a leaked watcher keeps evaluating.
type Watcher struct {
	notifier *Notifier
	userID   string
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once

	mu      sync.Mutex
	stopped bool
	obs     observation
	unsubs  []domain.Unsubscribe
}

// Watch subscribes to the user's XP and task records. Both subscriptions
// fire immediately, so milestones already reached are evaluated right away.
// The watcher stops when ctx is cancelled or Stop is called.
func (n *Notifier) Watch(ctx context.Context, userID string) (*Watcher, error) {
	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		notifier: n,
		userID:   userID,
		ctx:      wctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	unsubXP, err := n.store.OnCumulativeXPChange(wctx, userID, w.onXP)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe xp: %w", err)
	}
	unsubTasks, err := n.store.OnTaskRecordsChange(wctx, userID, w.onTasks)
	if err != nil {
		unsubXP()
		cancel()
		return nil, fmt.Errorf("subscribe tasks: %w", err)
	}

	w.mu.Lock()
	w.unsubs = []domain.Unsubscribe{unsubXP, unsubTasks}
	w.mu.Unlock()

	metrics.ActiveWatchers.Inc()
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()
	return w, nil
}

// UserID returns the watched user.
func (w *Watcher) UserID() string { return w.userID }

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Stop unregisters both listeners. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		unsubs := w.unsubs
		w.unsubs = nil
		w.mu.Unlock()

		for _, u := range unsubs {
			u()
		}
		w.cancel()
		metrics.ActiveWatchers.Dec()
		close(w.done)
	})
}

func (w *Watcher) onXP(xp int64) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.obs.xp = &xp
	obs := w.snapshot()
	w.mu.Unlock()
	w.run(obs)
}

func (w *Watcher) onTasks(records map[string]domain.TaskRecord) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if records == nil {
		records = map[string]domain.TaskRecord{}
	}
	w.obs.tasks = records
	obs := w.snapshot()
	w.mu.Unlock()
	w.run(obs)
}

// snapshot copies the observation. Caller holds w.mu.
func (w *Watcher) snapshot() observation {
	var obs observation
	if w.obs.xp != nil {
		xp := *w.obs.xp
		obs.xp = &xp
	}
	if w.obs.tasks != nil {
		obs.tasks = make(map[string]domain.TaskRecord, len(w.obs.tasks))
		for k, v := range w.obs.tasks {
			obs.tasks[k] = v
		}
	}
	return obs
}

func (w *Watcher) run(obs observation) {
	if w.ctx.Err() != nil {
		return
	}
	// Errors are logged inside evaluate and retried on the next change.
	_, _ = w.notifier.evaluate(w.ctx, w.userID, obs)
}

// ─── Watcher registry ───────────────────────────────────────────────────────

// Watchers reference-counts one watcher per user for UI sessions: the first
// Acquire starts it, the last release stops it.
type Watchers struct {
	notifier *Notifier

	mu      sync.Mutex
	entries map[string]*watchEntry
	closed  bool
}

type watchEntry struct {
	w    *Watcher
	refs int
}

// NewWatchers creates an empty registry.
func NewWatchers(n *Notifier) *Watchers {
	return &Watchers{notifier: n, entries: make(map[string]*watchEntry)}
}

// Acquire ensures a watcher runs for userID and returns its release func.
func (ws *Watchers) Acquire(userID string) (release func(), err error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return nil, errors.New("watchers closed")
	}

	e, ok := ws.entries[userID]
	if !ok {
		w, err := ws.notifier.Watch(context.Background(), userID)
		if err != nil {
			return nil, err
		}
		e = &watchEntry{w: w}
		ws.entries[userID] = e
	}
	e.refs++

	var once sync.Once
	return func() { once.Do(func() { ws.release(userID) }) }, nil
}

func (ws *Watchers) release(userID string) {
	ws.mu.Lock()
	e, ok := ws.entries[userID]
	if !ok {
		ws.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		ws.mu.Unlock()
		return
	}
	delete(ws.entries, userID)
	ws.mu.Unlock()
	e.w.Stop()
}

// Active returns the number of users currently watched.
func (ws *Watchers) Active() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.entries)
}

// Close stops every watcher. Later Acquire calls fail.
func (ws *Watchers) Close() {
	ws.mu.Lock()
	ws.closed = true
	entries := ws.entries
	ws.entries = make(map[string]*watchEntry)
	ws.mu.Unlock()

	for _, e := range entries {
		e.w.Stop()
	}
}
