// Package worker runs a processing callback over a list of elements and
// reports each element's activity state to the remote service.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/docworker/internal/access"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability/metrics"
	"github.com/tphakala/docworker/internal/remote"
)

// ProcessFunc is the business logic run on one element.
type ProcessFunc func(ctx context.Context, el access.ElementRef) error

// Config holds the dependencies of a RunLoop.
type Config struct {
	Layer *access.Layer
	// StoreActivity enables activity reports. Reports are skipped in
	// read-only mode regardless.
	StoreActivity bool
	Log           logger.Logger
	Metrics       *metrics.WorkerMetrics
}

// RunLoop processes elements one at a time, in order.
type RunLoop struct {
	layer         *access.Layer
	storeActivity bool
	log           logger.Logger
	metrics       *metrics.WorkerMetrics
	now           func() time.Time
}

// New returns a run loop over cfg.Layer.
func New(cfg Config) (*RunLoop, error) {
	if cfg.Layer == nil {
		return nil, errors.Newf("run loop requires an access layer").
			Component("worker").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &RunLoop{
		layer:         cfg.Layer,
		storeActivity: cfg.StoreActivity,
		log:           log.Module("worker"),
		metrics:       cfg.Metrics,
		now:           time.Now,
	}, nil
}

// Outcome counts the items of one run.
type Outcome struct {
	Total     int
	Completed int
	Failed    int
	// Skipped items were not started because the run was cancelled.
	Skipped int
}

// Fatal reports whether the run failed as a whole: nothing to process, or
// every item failed.
func (o Outcome) Fatal() bool {
	return o.Total == 0 || o.Failed == o.Total
}

// String returns the run summary line.
func (o Outcome) String() string {
	return fmt.Sprintf("%d items: %d completed, %d failed", o.Total, o.Completed, o.Failed)
}

// Run calls process on every item in order. Item failures are recorded in
// the report and do not stop the run. The returned error is non-nil when
// the outcome is fatal or ctx was cancelled before all items started.
func (r *RunLoop) Run(ctx context.Context, items []access.ElementRef, process ProcessFunc) (Outcome, error) {
	out := Outcome{Total: len(items)}
	if out.Total == 0 {
		r.log.Error("no elements to process")
		r.metrics.SetRunOutcome(0, 0, 0)
		return out, errors.Newf("no elements to process").
			Component("worker").
			Category(errors.CategoryInvalidInput).
			Build()
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			out.Skipped = out.Total - i
			r.log.Warn("run interrupted, not starting remaining items",
				logger.Int("skipped", out.Skipped),
				logger.Error(err))
			break
		}

		r.log.Info("processing element",
			logger.String("element_id", item.ID),
			logger.Int("index", i+1),
			logger.Int("total", out.Total))

		if err := r.runItem(ctx, item, process); err != nil {
			out.Failed++
			continue
		}
		out.Completed++
	}

	r.metrics.SetRunOutcome(out.Total, out.Completed, out.Failed)

	summary := []logger.Field{
		logger.Int("total", out.Total),
		logger.Int("completed", out.Completed),
		logger.Int("failed", out.Failed),
	}
	if out.Skipped > 0 {
		r.log.Warn(out.String(), append(summary, logger.Int("skipped", out.Skipped))...)
		return out, errors.New(fmt.Errorf("run cancelled: %w", ctx.Err())).
			Component("worker").
			Category(errors.CategoryCancellation).
			Context("skipped", out.Skipped).
			Build()
	}
	if out.Fatal() {
		r.log.Error(out.String(), summary...)
		return out, errors.Newf("all %d items failed", out.Total).
			Component("worker").
			Category(errors.CategoryProcessing).
			Context("failed", out.Failed).
			Build()
	}
	if out.Failed > 0 {
		r.log.Warn(out.String(), summary...)
	} else {
		r.log.Info(out.String(), summary...)
	}
	return out, nil
}

// runItem resolves item, runs process on it and reports the activity
// transitions. Errors are recorded in the report before being returned.
func (r *RunLoop) runItem(ctx context.Context, item access.ElementRef, process ProcessFunc) error {
	start := r.now()

	el, err := r.layer.ResolveElement(ctx, item)
	if err != nil {
		r.fail(item.ID, start, err)
		return err
	}

	r.updateActivity(ctx, el.ID, remote.ActivityStarted)

	if err := safeProcess(ctx, el, process); err != nil {
		r.fail(el.ID, start, err)
		r.updateActivity(ctx, el.ID, remote.ActivityError)
		return err
	}

	r.updateActivity(ctx, el.ID, remote.ActivityProcessed)
	r.metrics.RecordItem(metrics.StatusSuccess, r.now().Sub(start).Seconds())
	return nil
}

func (r *RunLoop) fail(elementID string, start time.Time, err error) {
	r.log.Warn("failed running worker on element",
		logger.String("element_id", elementID),
		logger.Error(err))
	r.layer.Reporter().Error(elementID, err)
	r.metrics.RecordItem(metrics.StatusError, r.now().Sub(start).Seconds())
}

// safeProcess turns a panic in process into an error for that item.
func safeProcess(ctx context.Context, el access.ElementRef, process ProcessFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("panic while processing element %s: %v", el.ID, rec).
				Component("worker").
				Category(errors.CategoryProcessing).
				Build()
		}
	}()
	return process(ctx, el)
}

// updateActivity reports state for elementID. Failures are logged and
// never returned.
func (r *RunLoop) updateActivity(ctx context.Context, elementID string, state remote.ActivityState) {
	if !r.storeActivity {
		r.log.Debug("activity reports disabled",
			logger.String("element_id", elementID),
			logger.String("state", string(state)))
		return
	}
	if r.layer.ReadOnly() {
		r.log.Warn("cannot update activity in read-only mode",
			logger.String("element_id", elementID),
			logger.String("state", string(state)))
		r.metrics.RecordActivityReport(string(state), metrics.StatusSkipped)
		return
	}

	err := r.layer.Remote().UpdateActivity(ctx, r.layer.WorkerVersionID(), remote.ActivityRequest{
		ElementID: elementID,
		ProcessID: r.layer.ProcessID(),
		State:     state,
	})
	if err != nil {
		r.log.Warn("failed to update activity",
			logger.String("element_id", elementID),
			logger.String("state", string(state)),
			logger.Int("status_code", errors.StatusCode(err)),
			logger.Error(err))
		r.metrics.RecordActivityReport(string(state), metrics.StatusError)
		return
	}
	r.metrics.RecordActivityReport(string(state), metrics.StatusSuccess)
}
