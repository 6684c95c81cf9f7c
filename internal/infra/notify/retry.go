package notify

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/metrics"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// ─── Retry Queue ────────────────────────────────────────────────────────────
// Failed deliveries to an external sink are re-queued with exponential
// backoff. A min-heap keyed on NextRetry gives O(log n) scheduling and
// extraction of the next due delivery.

// RetryConfig configures the retry queue behavior.
type RetryConfig struct {
	MaxRetries int           // Maximum retry attempts before the delivery is dropped
	BaseDelay  time.Duration // Initial backoff delay (doubles each retry)
	MaxDelay   time.Duration // Cap on backoff delay
	Tick       time.Duration // How often Run looks for due retries
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		Tick:       500 * time.Millisecond,
	}
}

// RetryEntry tracks a failed delivery's retry state.
type RetryEntry struct {
	Notification domain.MilestoneNotification
	Attempt      int       // Retries scheduled so far
	NextRetry    time.Time // Earliest time this can be retried
	FailedAt     time.Time // When the last failure occurred
	Error        string    // Last failure reason
}

type retryHeap []RetryEntry

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].NextRetry.Before(h[j].NextRetry) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x any)        { *h = append(*h, x.(RetryEntry)) }
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = RetryEntry{}
	*h = old[:n-1]
	return e
}

// Retrying wraps a sink so that failed deliveries are retried in the
// background by Run. Pending retries are held in memory only.
type Retrying struct {
	sink   domain.NotificationSink
	config RetryConfig
	log    *logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	queue retryHeap

	// Stats
	totalRetries   int64
	totalExhausted int64 // Deliveries that exceeded MaxRetries
}

// NewRetrying wraps sink with a retry queue.
func NewRetrying(sink domain.NotificationSink, cfg RetryConfig, log *logger.Logger) *Retrying {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultRetryConfig().Tick
	}
	return &Retrying{
		sink:   sink,
		config: cfg,
		log:    log.With("service", "RetryQueue", "sink", sink.Name()),
		now:    time.Now,
	}
}

func (r *Retrying) Name() string { return r.sink.Name() }

// Notify delivers n. On failure the delivery is queued for retry and the
// error is still returned so the caller can count it.
func (r *Retrying) Notify(ctx context.Context, n domain.MilestoneNotification) error {
	err := r.sink.Notify(ctx, n)
	if err == nil {
		return nil
	}
	if r.ScheduleRetry(RetryEntry{Notification: n, Error: err.Error()}) {
		return fmt.Errorf("%w (retry scheduled)", err)
	}
	return err
}

// ScheduleRetry queues a failed delivery with exponential backoff.
// Returns false if the entry has exceeded MaxRetries.
func (r *Retrying) ScheduleRetry(entry RetryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Attempt++
	if entry.Attempt > r.config.MaxRetries {
		r.totalExhausted++
		metrics.DeliveryRetries.WithLabelValues(r.sink.Name(), "dropped").Inc()
		r.log.Warn("delivery dropped after retries",
			"user_id", entry.Notification.UserID,
			"milestone_id", entry.Notification.MilestoneID,
			"attempts", entry.Attempt-1, "error", entry.Error)
		return false
	}

	// Exponential backoff: baseDelay * 2^(attempt-1)
	delay := r.config.BaseDelay
	for i := 1; i < entry.Attempt; i++ {
		delay *= 2
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
			break
		}
	}

	entry.FailedAt = r.now()
	entry.NextRetry = entry.FailedAt.Add(delay)
	heap.Push(&r.queue, entry)
	r.totalRetries++
	return true
}

// NextReady pops the next delivery whose backoff has expired, if any.
func (r *Retrying) NextReady() (RetryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 || r.now().Before(r.queue[0].NextRetry) {
		return RetryEntry{}, false
	}
	return heap.Pop(&r.queue).(RetryEntry), true
}

// DrainReady pops every due delivery in NextRetry order.
func (r *Retrying) DrainReady() []RetryEntry {
	var ready []RetryEntry
	for {
		entry, ok := r.NextReady()
		if !ok {
			break
		}
		ready = append(ready, entry)
	}
	return ready
}

// RetryDue re-attempts every due delivery once.
func (r *Retrying) RetryDue(ctx context.Context) {
	for _, entry := range r.DrainReady() {
		if err := r.sink.Notify(ctx, entry.Notification); err != nil {
			metrics.DeliveryRetries.WithLabelValues(r.sink.Name(), "failed").Inc()
			entry.Error = err.Error()
			r.ScheduleRetry(entry)
			continue
		}
		metrics.DeliveryRetries.WithLabelValues(r.sink.Name(), "ok").Inc()
		r.log.Info("delivery succeeded on retry",
			"user_id", entry.Notification.UserID,
			"milestone_id", entry.Notification.MilestoneID,
			"attempt", entry.Attempt)
	}
}

// Run retries due deliveries until ctx is cancelled. Call in a goroutine.
func (r *Retrying) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := r.Len(); n > 0 {
				r.log.Warn("retry queue stopped with pending deliveries", "pending", n)
			}
			return
		case <-ticker.C:
			r.RetryDue(ctx)
		}
	}
}

// Len returns the number of deliveries pending retry.
func (r *Retrying) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// RetryStats holds retry queue statistics.
type RetryStats struct {
	PendingRetries int   `json:"pending_retries"`
	TotalRetries   int64 `json:"total_retries"`
	TotalExhausted int64 `json:"total_exhausted"`
}

// RetryStats returns current retry queue statistics.
func (r *Retrying) RetryStats() RetryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RetryStats{
		PendingRetries: len(r.queue),
		TotalRetries:   r.totalRetries,
		TotalExhausted: r.totalExhausted,
	}
}
