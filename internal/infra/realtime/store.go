// Package realtime adds change subscriptions to a persistence backend.
// Writes to XP and task records are committed and fanned out under one
// lock, so every listener observes values in commit order. Each listener
// runs on its own goroutine fed by an unbounded mailbox; a slow listener
// never blocks writers or other listeners.
package realtime

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// Backend is the persistence a Store wraps.
type Backend interface {
	domain.XPStore
	domain.TaskStore
	domain.MilestoneLedger
	domain.CompletionStore

	Ping(ctx context.Context) error
	Close() error
}

// Store is a domain.ProgressStore backed by a Backend.
type Store struct {
	Backend

	log *logger.Logger

	mu       sync.Mutex
	nextID   uint64
	xpSubs   map[string]map[uint64]*mailbox[int64]
	taskSubs map[string]map[uint64]*mailbox[map[string]domain.TaskRecord]
	closed   bool
}

var _ domain.ProgressStore = (*Store)(nil)

// New wraps backend with change subscriptions.
func New(backend Backend, log *logger.Logger) *Store {
	return &Store{
		Backend:  backend,
		log:      log.With("service", "RealtimeStore"),
		xpSubs:   make(map[string]map[uint64]*mailbox[int64]),
		taskSubs: make(map[string]map[uint64]*mailbox[map[string]domain.TaskRecord]),
	}
}

// AddXP commits the increment and notifies XP listeners with the new total.
func (s *Store) AddXP(ctx context.Context, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := s.Backend.AddXP(ctx, userID, delta)
	if err != nil {
		return 0, err
	}
	for _, mb := range s.xpSubs[userID] {
		mb.push(total)
	}
	return total, nil
}

// PutTaskRecord commits the record and notifies task listeners with the
// full, freshly read record set.
func (s *Store) PutTaskRecord(ctx context.Context, userID, taskID string, rec domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.Backend.PutTaskRecord(ctx, userID, taskID, rec); err != nil {
		return err
	}
	subs := s.taskSubs[userID]
	if len(subs) == 0 {
		return nil
	}
	records, err := s.Backend.TaskRecords(ctx, userID)
	if err != nil {
		// The write landed; listeners catch up on the next change.
		s.log.Warn("task fan-out read failed", "user_id", userID, "error", err)
		return nil
	}
	for _, mb := range subs {
		mb.push(maps.Clone(records))
	}
	return nil
}

// OnCumulativeXPChange calls fn with the current total and then with every
// committed total until unsubscribed.
func (s *Store) OnCumulativeXPChange(ctx context.Context, userID string, fn func(int64)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store closed", domain.ErrStoreUnavailable)
	}

	xp, err := s.Backend.CumulativeXP(ctx, userID)
	if err != nil {
		return nil, err
	}
	mb := newMailbox(fn, s.log)
	mb.push(xp)
	s.nextID++
	id := s.nextID
	if s.xpSubs[userID] == nil {
		s.xpSubs[userID] = make(map[uint64]*mailbox[int64])
	}
	s.xpSubs[userID][id] = mb
	go mb.run()

	return s.unsubscribe(func() {
		delete(s.xpSubs[userID], id)
		if len(s.xpSubs[userID]) == 0 {
			delete(s.xpSubs, userID)
		}
	}, mb.close), nil
}

// OnTaskRecordsChange calls fn with the current records and then after every
// committed task write until unsubscribed.
func (s *Store) OnTaskRecordsChange(ctx context.Context, userID string, fn func(map[string]domain.TaskRecord)) (domain.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: store closed", domain.ErrStoreUnavailable)
	}

	records, err := s.Backend.TaskRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	mb := newMailbox(fn, s.log)
	mb.push(records)
	s.nextID++
	id := s.nextID
	if s.taskSubs[userID] == nil {
		s.taskSubs[userID] = make(map[uint64]*mailbox[map[string]domain.TaskRecord])
	}
	s.taskSubs[userID][id] = mb
	go mb.run()

	return s.unsubscribe(func() {
		delete(s.taskSubs[userID], id)
		if len(s.taskSubs[userID]) == 0 {
			delete(s.taskSubs, userID)
		}
	}, mb.close), nil
}

// Listeners returns how many listeners are registered for userID.
func (s *Store) Listeners(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.xpSubs[userID]) + len(s.taskSubs[userID])
}

// Close stops every listener and closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, subs := range s.xpSubs {
		for _, mb := range subs {
			mb.close()
		}
	}
	for _, subs := range s.taskSubs {
		for _, mb := range subs {
			mb.close()
		}
	}
	s.xpSubs = map[string]map[uint64]*mailbox[int64]{}
	s.taskSubs = map[string]map[uint64]*mailbox[map[string]domain.TaskRecord]{}
	s.mu.Unlock()

	return s.Backend.Close()
}

func (s *Store) unsubscribe(remove func(), stop func()) domain.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			remove()
			s.mu.Unlock()
			stop()
		})
	}
}

// ─── Mailbox ────────────────────────────────────────────────────────────────

// mailbox delivers values to fn one at a time, in push order.
type mailbox[T any] struct {
	fn  func(T)
	log *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool
}

func newMailbox[T any](fn func(T), log *logger.Logger) *mailbox[T] {
	mb := &mailbox[T]{fn: fn, log: log}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

func (mb *mailbox[T]) push(v T) {
	mb.mu.Lock()
	if !mb.closed {
		mb.queue = append(mb.queue, v)
		mb.cond.Signal()
	}
	mb.mu.Unlock()
}

// close drops pending values. A delivery already in progress finishes.
func (mb *mailbox[T]) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.queue = nil
	mb.cond.Broadcast()
	mb.mu.Unlock()
}

func (mb *mailbox[T]) run() {
	for {
		mb.mu.Lock()
		for len(mb.queue) == 0 && !mb.closed {
			mb.cond.Wait()
		}
		if mb.closed {
			mb.mu.Unlock()
			return
		}
		v := mb.queue[0]
		var zero T
		mb.queue[0] = zero
		mb.queue = mb.queue[1:]
		mb.mu.Unlock()

		mb.deliver(v)
	}
}

func (mb *mailbox[T]) deliver(v T) {
	defer func() {
		if r := recover(); r != nil {
			mb.log.Error("listener panicked", "panic", r)
		}
	}()
	mb.fn(v)
}
