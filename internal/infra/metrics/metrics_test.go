package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestAwardMetrics(t *testing.T) {
	XPAwarded.Add(30)
	Completions.WithLabelValues("true").Inc()
	Completions.WithLabelValues("false").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"anuvruddhi_xp_awarded_total",
		"anuvruddhi_completions_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestMilestoneMetrics(t *testing.T) {
	MilestonesNotified.WithLabelValues("xp-threshold").Inc()
	MarkerWriteFailures.Inc()
	SinkFailures.WithLabelValues("telegram").Inc()
	DeliveryRetries.WithLabelValues("telegram", "ok").Inc()
	ActiveWatchers.Set(2)
	StoreErrors.WithLabelValues("add_xp").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"anuvruddhi_milestones_notified_total",
		"anuvruddhi_milestone_marker_failures_total",
		"anuvruddhi_notification_sink_failures_total",
		"anuvruddhi_notification_retries_total",
		"anuvruddhi_active_watchers",
		"anuvruddhi_store_errors_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
