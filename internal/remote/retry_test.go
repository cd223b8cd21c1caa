package remote_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability/metrics"
	"github.com/tphakala/docworker/internal/remote"
	"github.com/tphakala/docworker/internal/remote/remotetest"
)

// sleepRecorder records requested waits without sleeping.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

func newRetrying(t *testing.T, fake *remotetest.Fake, policy remote.RetryPolicy, opts ...remote.RetryOption) (*remote.RetryingService, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append(opts, remote.WithSleep(rec.sleep))
	return remote.NewRetryingService(fake, policy, nil, opts...), rec
}

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	p := remote.DefaultRetryPolicy()
	assert.Equal(t, 3*time.Second, p.Delay(1))
	assert.Equal(t, 6*time.Second, p.Delay(2))
	assert.Equal(t, 24*time.Second, p.Delay(4))

	capped := remote.RetryPolicy{MaxAttempts: 5, InitialDelay: 10 * time.Second, Multiplier: 10, MaxDelay: 30 * time.Second}
	assert.Equal(t, 10*time.Second, capped.Delay(1))
	assert.Equal(t, 30*time.Second, capped.Delay(2))
	assert.Equal(t, 30*time.Second, capped.Delay(4))
}

func TestRetryTransientThenSuccess(t *testing.T) {
	t.Parallel()

	fake := remotetest.New()
	fake.Elements["e1"] = remote.ElementRecord{ID: "e1", Type: "page"}
	fake.FailNext("RetrieveElement", remotetest.StatusError(502))

	svc, rec := newRetrying(t, fake, remote.DefaultRetryPolicy())

	el, err := svc.RetrieveElement(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", el.ID)
	assert.Equal(t, 2, fake.Calls("RetrieveElement"))
	assert.Equal(t, []time.Duration{3 * time.Second}, rec.delays)
}

func TestRetryExhaustedReturnsOriginalError(t *testing.T) {
	t.Parallel()

	fake := remotetest.New()
	original := remotetest.StatusError(503)
	fake.FailAlways("ListChildren", original)

	svc, rec := newRetrying(t, fake, remote.DefaultRetryPolicy())

	_, err := svc.ListChildren(t.Context(), "p1", remote.ElementFilter{})
	require.Error(t, err)
	assert.Same(t, original, err)
	assert.Equal(t, 5, fake.Calls("ListChildren"))
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second}, rec.delays)
}

func TestRetrySkipsNonTransient(t *testing.T) {
	t.Parallel()

	for _, status := range []int{400, 401, 404, 409} {
		fake := remotetest.New()
		fake.FailAlways("CreateElement", remotetest.StatusError(status))

		svc, rec := newRetrying(t, fake, remote.DefaultRetryPolicy())
		_, err := svc.CreateElement(t.Context(), remote.CreateElementRequest{Type: "page"})
		require.Error(t, err)
		assert.Equal(t, status, errors.StatusCode(err))
		assert.Equal(t, 1, fake.Calls("CreateElement"), "status %d", status)
		assert.Empty(t, rec.delays)
	}
}

func TestRetryStopsWhenSleepInterrupted(t *testing.T) {
	t.Parallel()

	fake := remotetest.New()
	original := remotetest.StatusError(500)
	fake.FailAlways("UpdateActivity", original)

	rec := &sleepRecorder{err: context.Canceled}
	svc := remote.NewRetryingService(fake, remote.DefaultRetryPolicy(), nil, remote.WithSleep(rec.sleep))

	err := svc.UpdateActivity(t.Context(), "v1", remote.ActivityRequest{ElementID: "e1", State: remote.ActivityStarted})
	assert.Same(t, original, err)
	assert.Equal(t, 1, fake.Calls("UpdateActivity"))
}

func TestRetrySingleAttemptPolicy(t *testing.T) {
	t.Parallel()

	fake := remotetest.New()
	fake.FailAlways("ListProcessElements", remotetest.StatusError(500))

	svc, rec := newRetrying(t, fake, remote.RetryPolicy{MaxAttempts: 0, InitialDelay: time.Second, Multiplier: 2})
	_, err := svc.ListProcessElements(t.Context(), "proc")
	require.Error(t, err)
	assert.Equal(t, 1, fake.Calls("ListProcessElements"))
	assert.Empty(t, rec.delays)
}

func TestRetryLogsAndCounts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC)

	m, err := metrics.NewRemoteMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	fake := remotetest.New()
	fake.FailNext("CreateTranscriptions", remotetest.StatusError(500), remotetest.StatusError(504))

	rec := &sleepRecorder{}
	svc := remote.NewRetryingService(fake, remote.DefaultRetryPolicy(), log,
		remote.WithSleep(rec.sleep), remote.WithRetryMetrics(m))

	_, err = svc.CreateTranscriptions(t.Context(), remote.CreateTranscriptionsRequest{WorkerVersion: "v1"})
	require.NoError(t, err)

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("remote call failed, retrying")))
	assert.Contains(t, buf.String(), "operation=CreateTranscriptions")
	assert.Equal(t, 1, testutil.CollectAndCount(m, "docworker_remote_retries_total"))
}

func TestRetryWithRealTimer(t *testing.T) {
	t.Parallel()

	fake := remotetest.New()
	fake.FailNext("ListTranscriptions", remotetest.StatusError(500))

	policy := remote.RetryPolicy{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	svc := remote.NewRetryingService(fake, policy, nil)

	start := time.Now()
	_, err := svc.ListTranscriptions(t.Context(), "e1", remote.TranscriptionFilter{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
