package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks the local store: merged parents and write-through
// mirroring. A nil *CacheMetrics records nothing.
type CacheMetrics struct {
	mergedSources  *prometheus.CounterVec
	mergedRows     *prometheus.CounterVec
	mirrorWrites   *prometheus.CounterVec
	incompleteRows prometheus.Gauge
}

// NewCacheMetrics creates and registers the local store metrics.
func NewCacheMetrics(registry *prometheus.Registry) (*CacheMetrics, error) {
	m := &CacheMetrics{
		mergedSources: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_cache_merged_sources_total",
				Help: "Parent cache files folded into the local store",
			},
			[]string{"status"},
		),
		mergedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_cache_merged_rows_total",
				Help: "Rows written by parent cache merges",
			},
			[]string{"table"}, // table: images, elements, transcriptions
		),
		mirrorWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docworker_cache_mirror_writes_total",
				Help: "Write-through copies of remote creates into the local store",
			},
			[]string{"kind", "status"}, // kind: element, transcription, image
		),
		incompleteRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docworker_cache_incomplete_entities",
				Help: "Entities created remotely but missing from the local store",
			},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CacheMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.mergedSources, m.mergedRows, m.mirrorWrites, m.incompleteRows}
}

// Describe implements the Collector interface
func (m *CacheMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *CacheMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordMergedSource records one parent cache merge with its row counts.
func (m *CacheMetrics) RecordMergedSource(status string, images, elements, transcriptions int64) {
	if m == nil {
		return
	}
	m.mergedSources.WithLabelValues(status).Inc()
	m.mergedRows.WithLabelValues("images").Add(float64(images))
	m.mergedRows.WithLabelValues("elements").Add(float64(elements))
	m.mergedRows.WithLabelValues("transcriptions").Add(float64(transcriptions))
}

// RecordMirrorWrite records the outcome of mirroring count rows of kind.
// Failed rows also raise the incomplete entities gauge.
func (m *CacheMetrics) RecordMirrorWrite(kind, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mirrorWrites.WithLabelValues(kind, status).Add(float64(count))
	if status == StatusError {
		m.incompleteRows.Add(float64(count))
	}
}
