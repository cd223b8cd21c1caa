package remote

import (
	"context"
	"math"
	"time"

	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability/metrics"
)

// RetryPolicy bounds the exponential backoff applied to transient failures.
type RetryPolicy struct {
	// MaxAttempts counts the first call. It is never unbounded.
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy waits 3s, 6s, 12s and 24s between five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 3 * time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
	}
}

// Delay returns the wait after the given failed attempt, starting at 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryingService retries calls of the wrapped Service that fail with a 5xx
// status. Other failures are returned at once. When attempts run out the
// last error is returned unchanged.
type RetryingService struct {
	next    Service
	policy  RetryPolicy
	log     logger.Logger
	metrics *metrics.RemoteMetrics
	sleep   SleepFunc
}

var _ Service = (*RetryingService)(nil)

// RetryOption customizes a RetryingService.
type RetryOption func(*RetryingService)

// WithSleep replaces the timer based wait, for tests.
func WithSleep(fn SleepFunc) RetryOption {
	return func(r *RetryingService) { r.sleep = fn }
}

// WithRetryMetrics counts retries in m.
func WithRetryMetrics(m *metrics.RemoteMetrics) RetryOption {
	return func(r *RetryingService) { r.metrics = m }
}

// NewRetryingService wraps next. A policy with MaxAttempts below 1 is
// treated as a single attempt.
func NewRetryingService(next Service, policy RetryPolicy, log logger.Logger, opts ...RetryOption) *RetryingService {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &RetryingService{
		next:   next,
		policy: policy,
		log:    log.Module("remote").Module("retry"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func retry[T any](ctx context.Context, r *RetryingService, op string, call func(context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = call(ctx)
		if err == nil || !errors.IsTransient(err) || attempt >= r.policy.MaxAttempts {
			return result, err
		}

		delay := r.policy.Delay(attempt)
		r.log.Warn("remote call failed, retrying",
			logger.String("operation", op),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", r.policy.MaxAttempts),
			logger.Int("status_code", errors.StatusCode(err)),
			logger.Duration("delay", delay),
			logger.Error(err))
		r.metrics.RecordRetry(op)

		if serr := r.sleep(ctx, delay); serr != nil {
			return result, err
		}
	}
}

func retryErr(ctx context.Context, r *RetryingService, op string, call func(context.Context) error) error {
	_, err := retry(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})
	return err
}

func (r *RetryingService) RetrieveElement(ctx context.Context, id string) (*ElementRecord, error) {
	return retry(ctx, r, "RetrieveElement", func(ctx context.Context) (*ElementRecord, error) {
		return r.next.RetrieveElement(ctx, id)
	})
}

func (r *RetryingService) ListChildren(ctx context.Context, parentID string, filter ElementFilter) ([]ElementRecord, error) {
	return retry(ctx, r, "ListChildren", func(ctx context.Context) ([]ElementRecord, error) {
		return r.next.ListChildren(ctx, parentID, filter)
	})
}

func (r *RetryingService) ListProcessElements(ctx context.Context, processID string) ([]ElementRecord, error) {
	return retry(ctx, r, "ListProcessElements", func(ctx context.Context) ([]ElementRecord, error) {
		return r.next.ListProcessElements(ctx, processID)
	})
}

func (r *RetryingService) ListTranscriptions(ctx context.Context, elementID string, filter TranscriptionFilter) ([]TranscriptionRecord, error) {
	return retry(ctx, r, "ListTranscriptions", func(ctx context.Context) ([]TranscriptionRecord, error) {
		return r.next.ListTranscriptions(ctx, elementID, filter)
	})
}

func (r *RetryingService) CreateElement(ctx context.Context, req CreateElementRequest) (*Created, error) {
	return retry(ctx, r, "CreateElement", func(ctx context.Context) (*Created, error) {
		return r.next.CreateElement(ctx, req)
	})
}

func (r *RetryingService) CreateElements(ctx context.Context, parentID string, req CreateElementsRequest) ([]Created, error) {
	return retry(ctx, r, "CreateElements", func(ctx context.Context) ([]Created, error) {
		return r.next.CreateElements(ctx, parentID, req)
	})
}

func (r *RetryingService) CreateTranscription(ctx context.Context, elementID string, req CreateTranscriptionRequest) (*TranscriptionRecord, error) {
	return retry(ctx, r, "CreateTranscription", func(ctx context.Context) (*TranscriptionRecord, error) {
		return r.next.CreateTranscription(ctx, elementID, req)
	})
}

func (r *RetryingService) CreateTranscriptions(ctx context.Context, req CreateTranscriptionsRequest) (*CreateTranscriptionsResponse, error) {
	return retry(ctx, r, "CreateTranscriptions", func(ctx context.Context) (*CreateTranscriptionsResponse, error) {
		return r.next.CreateTranscriptions(ctx, req)
	})
}

func (r *RetryingService) CreateElementTranscriptions(ctx context.Context, elementID string, req CreateElementTranscriptionsRequest) ([]ElementTranscriptionResult, error) {
	return retry(ctx, r, "CreateElementTranscriptions", func(ctx context.Context) ([]ElementTranscriptionResult, error) {
		return r.next.CreateElementTranscriptions(ctx, elementID, req)
	})
}

func (r *RetryingService) UpdateActivity(ctx context.Context, workerVersionID string, req ActivityRequest) error {
	return retryErr(ctx, r, "UpdateActivity", func(ctx context.Context) error {
		return r.next.UpdateActivity(ctx, workerVersionID, req)
	})
}
