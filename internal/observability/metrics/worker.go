package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tphakala/docworker/internal/logger"
)

// WorkerMetrics tracks the run loop: processed items and activity reports.
// A nil *WorkerMetrics records nothing.
type WorkerMetrics struct {
	itemsTotal      *prometheus.CounterVec
	itemDuration    *prometheus.HistogramVec
	activityReports *prometheus.CounterVec
	runOutcome      *prometheus.GaugeVec
}

// knownActivityStates bounds the state label cardinality.
var knownActivityStates = map[string]bool{
	"queued": true, "started": true, "processed": true, "error": true,
}

// NewWorkerMetrics creates and registers the run loop metrics.
func NewWorkerMetrics(registry *prometheus.Registry) (*WorkerMetrics, error) {
	m := &WorkerMetrics{
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_items_total",
				Help: "Total number of processed work items by final state",
			},
			[]string{"status"}, // status: success, error
		),
		itemDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docworker_item_duration_seconds",
				Help:    "Time spent processing one work item",
				Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount15), // 10ms to ~5min
			},
			[]string{"status"},
		),
		activityReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_activity_reports_total",
				Help: "Total number of activity state reports by outcome",
			},
			[]string{"state", "status"}, // status: success, error, skipped
		),
		runOutcome: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docworker_run_items",
				Help: "Item counts of the last run",
			},
			[]string{"kind"}, // kind: total, completed, failed
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WorkerMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.itemsTotal, m.itemDuration, m.activityReports, m.runOutcome}
}

// Describe implements the Collector interface
func (m *WorkerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *WorkerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordItem records one item reaching a terminal state.
func (m *WorkerMetrics) RecordItem(status string, seconds float64) {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues(status).Inc()
	m.itemDuration.WithLabelValues(status).Observe(seconds)
}

// RecordActivityReport records the outcome of an activity update.
func (m *WorkerMetrics) RecordActivityReport(state, status string) {
	if m == nil {
		return
	}
	if !knownActivityStates[state] {
		log.Debug("unknown activity state label", logger.String("state", state))
		state = "unknown"
	}
	m.activityReports.WithLabelValues(state, status).Inc()
}

// SetRunOutcome publishes the final counts of a run.
func (m *WorkerMetrics) SetRunOutcome(total, completed, failed int) {
	if m == nil {
		return
	}
	m.runOutcome.WithLabelValues("total").Set(float64(total))
	m.runOutcome.WithLabelValues("completed").Set(float64(completed))
	m.runOutcome.WithLabelValues("failed").Set(float64(failed))
}

// ActivityReports returns the activity report counter for state and status.
func (m *WorkerMetrics) ActivityReports(state, status string) prometheus.Counter {
	return m.activityReports.WithLabelValues(state, status)
}

// RunItems returns the last run's gauge for kind.
func (m *WorkerMetrics) RunItems(kind string) prometheus.Gauge {
	return m.runOutcome.WithLabelValues(kind)
}
