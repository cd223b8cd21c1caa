// Package observability provides metrics functionality for monitoring docworker runs.
package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Worker   *metrics.WorkerMetrics
	Remote   *metrics.RemoteMetrics
	Cache    *metrics.CacheMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	workerMetrics, err := metrics.NewWorkerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker metrics: %w", err)
	}

	remoteMetrics, err := metrics.NewRemoteMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote metrics: %w", err)
	}

	cacheMetrics, err := metrics.NewCacheMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Worker:   workerMetrics,
		Remote:   remoteMetrics,
		Cache:    cacheMetrics,
	}, nil
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextFile writes the current metric values in the Prometheus text
// format, for a node exporter textfile collector to pick up after the run.
func (m *Metrics) WriteTextFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	log.Info("metrics written", logger.String("path", path))
	return nil
}
