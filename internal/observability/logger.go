// Package observability provides Prometheus metrics functionality for monitoring docworker runs.
package observability

import "github.com/tphakala/docworker/internal/logger"

// Package-level cached logger instance for efficiency.
var log = logger.Global().Module("metrics")
