package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// flakySink fails the first `failures` deliveries.
type flakySink struct {
	mu        sync.Mutex
	failures  int
	delivered []string
	calls     int
}

func (f *flakySink) Name() string { return "flaky" }

func (f *flakySink) Notify(_ context.Context, n domain.MilestoneNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("upstream down")
	}
	f.delivered = append(f.delivered, n.MilestoneID)
	return nil
}

func (f *flakySink) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.delivered...)
}

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestRetrying(sink domain.NotificationSink, cfg RetryConfig) (*Retrying, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRetrying(sink, cfg, logger.Nop())
	r.now = clock.now
	return r, clock
}

func TestRetrying_PassThrough(t *testing.T) {
	sink := &flakySink{}
	r, _ := newTestRetrying(sink, DefaultRetryConfig())

	if err := r.Notify(context.Background(), xpNotification()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if r.Name() != "flaky" {
		t.Errorf("Name() = %q, want flaky", r.Name())
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRetrying_ScheduleAndDrain(t *testing.T) {
	sink := &flakySink{failures: 1}
	r, clock := newTestRetrying(sink, RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second})
	ctx := context.Background()

	if err := r.Notify(ctx, xpNotification()); err == nil {
		t.Fatal("Notify() should report the failed first attempt")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	// Not due yet
	r.RetryDue(ctx)
	if calls, _ := sink.snapshot(); calls != 1 {
		t.Fatalf("calls = %d before backoff expired, want 1", calls)
	}

	clock.t = clock.t.Add(time.Second)
	r.RetryDue(ctx)
	_, delivered := sink.snapshot()
	if len(delivered) != 1 || delivered[0] != "xp100" {
		t.Fatalf("delivered = %v, want [xp100]", delivered)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after success, want 0", r.Len())
	}
	if st := r.RetryStats(); st.TotalRetries != 1 || st.TotalExhausted != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRetrying_ExponentialBackoff(t *testing.T) {
	r, clock := newTestRetrying(&flakySink{}, RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	start := clock.t

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second}, // capped
		{7, 5 * time.Second},
	}
	for _, tt := range tests {
		r.ScheduleRetry(RetryEntry{Notification: xpNotification(), Attempt: tt.attempt})
		entry := r.queue[0]
		if got := entry.NextRetry.Sub(start); got != tt.want {
			t.Errorf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
		r.queue = nil
	}
}

func TestRetrying_MaxRetriesExhausted(t *testing.T) {
	sink := &flakySink{failures: 100}
	r, clock := newTestRetrying(sink, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	ctx := context.Background()

	r.Notify(ctx, xpNotification())
	for i := 0; i < 5; i++ {
		clock.t = clock.t.Add(time.Second)
		r.RetryDue(ctx)
	}

	if calls, _ := sink.snapshot(); calls != 3 {
		t.Errorf("calls = %d, want 3 (first try + 2 retries)", calls)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if st := r.RetryStats(); st.TotalExhausted != 1 {
		t.Errorf("TotalExhausted = %d, want 1", st.TotalExhausted)
	}
}

func TestRetrying_DrainOrder(t *testing.T) {
	r, clock := newTestRetrying(&flakySink{}, RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute})

	late := taskNotification()
	r.ScheduleRetry(RetryEntry{Notification: late, Attempt: 2}) // due in 4s
	r.ScheduleRetry(RetryEntry{Notification: xpNotification()}) // due in 1s

	clock.t = clock.t.Add(10 * time.Second)
	ready := r.DrainReady()
	if len(ready) != 2 {
		t.Fatalf("ready = %d, want 2", len(ready))
	}
	if ready[0].Notification.MilestoneID != "xp100" || ready[1].Notification.MilestoneID != "task:t1" {
		t.Errorf("order = %s, %s", ready[0].Notification.MilestoneID, ready[1].Notification.MilestoneID)
	}
}

func TestRetrying_RunStopsOnCancel(t *testing.T) {
	sink := &flakySink{failures: 1}
	r := NewRetrying(sink, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Tick: 5 * time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Notify(ctx, xpNotification())
	deadline := time.After(2 * time.Second)
	for {
		if _, delivered := sink.snapshot(); len(delivered) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("retry never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
