package engagement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/metrics"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// Dispatcher fans milestone notifications out to every registered sink.
// Sinks are isolated from each other: an error or panic in one sink is
// recorded and the remaining sinks still receive the notification.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks []domain.NotificationSink
	log   *logger.Logger
}

// NewDispatcher creates a dispatcher with the given sinks.
func NewDispatcher(log *logger.Logger, sinks ...domain.NotificationSink) *Dispatcher {
	return &Dispatcher{
		sinks: append([]domain.NotificationSink(nil), sinks...),
		log:   log.With("service", "Dispatcher"),
	}
}

// Register adds a sink.
func (d *Dispatcher) Register(s domain.NotificationSink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Sinks returns the names of registered sinks in registration order.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Emit delivers n to every sink. The returned error joins every sink
// failure (each wrapping domain.ErrNotificationSink); it is informational
// and must not be used to undo the dedup marker.
func (d *Dispatcher) Emit(ctx context.Context, n domain.MilestoneNotification) error {
	d.mu.RLock()
	sinks := make([]domain.NotificationSink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := d.deliver(ctx, s, n); err != nil {
			metrics.SinkFailures.WithLabelValues(s.Name()).Inc()
			d.log.Warn("notification sink failed",
				"sink", s.Name(), "user_id", n.UserID, "milestone_id", n.MilestoneID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, s domain.NotificationSink, n domain.MilestoneNotification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", domain.ErrNotificationSink, s.Name(), r)
		}
	}()
	if err := s.Notify(ctx, n); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrNotificationSink, s.Name(), err)
	}
	return nil
}

// SinkFunc adapts a function into a NotificationSink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, n domain.MilestoneNotification) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Notify(ctx context.Context, n domain.MilestoneNotification) error {
	return f.Fn(ctx, n)
}
