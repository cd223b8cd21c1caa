package metrics

import "github.com/prometheus/client_golang/prometheus"

// RemoteMetrics tracks calls to the remote entity service.
// A nil *RemoteMetrics records nothing.
type RemoteMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	memoLookups     *prometheus.CounterVec
}

// NewRemoteMetrics creates and registers the remote service metrics.
func NewRemoteMetrics(registry *prometheus.Registry) (*RemoteMetrics, error) {
	m := &RemoteMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_remote_requests_total",
				Help: "Total number of HTTP requests sent to the remote service",
			},
			[]string{"method", "operation", "status_code"}, // status_code: 200, 404, 500, error
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docworker_remote_request_duration_seconds",
				Help:    "Round trip time of remote service requests",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~16s
			},
			[]string{"method", "operation"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_remote_retries_total",
				Help: "Total number of retried remote calls",
			},
			[]string{"operation"},
		),
		memoLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_remote_memo_lookups_total",
				Help: "Lookups of memoized element responses",
			},
			[]string{"result"}, // result: hit, miss
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RemoteMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requestsTotal, m.requestDuration, m.retriesTotal, m.memoLookups}
}

// Describe implements the Collector interface
func (m *RemoteMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *RemoteMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordRequest records one HTTP round trip.
func (m *RemoteMetrics) RecordRequest(method, operation, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, operation, statusCode).Inc()
	m.requestDuration.WithLabelValues(method, operation).Observe(seconds)
}

// RecordRetry records one retry of operation.
func (m *RemoteMetrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
}

// RecordMemo records a memo lookup.
func (m *RemoteMetrics) RecordMemo(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.memoLookups.WithLabelValues(result).Inc()
}
