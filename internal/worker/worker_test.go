package worker

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/docworker/internal/access"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability/metrics"
	"github.com/tphakala/docworker/internal/remote"
	"github.com/tphakala/docworker/internal/remote/remotetest"
	"github.com/tphakala/docworker/internal/report"
	"go.uber.org/goleak"
)

// TestMain provides goleak verification to detect goroutine leaks
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	loop     *RunLoop
	fake     *remotetest.Fake
	reporter *report.Reporter
	logs     *bytes.Buffer
	metrics  *metrics.WorkerMetrics
}

func newHarness(t *testing.T, versionID string, storeActivity bool) *harness {
	t.Helper()

	var logs bytes.Buffer
	log := logger.NewSlogLogger(&logs, logger.LogLevelDebug, time.UTC)

	fake := remotetest.New()
	for _, id := range []string{"a", "b", "c"} {
		fake.Elements[id] = remote.ElementRecord{ID: id, Type: "page"}
	}
	reporter := report.New("test", nil)

	layer, err := access.New(access.Config{
		Remote:          fake,
		Reporter:        reporter,
		WorkerVersionID: versionID,
		ProcessID:       "proc",
		Log:             log,
	})
	require.NoError(t, err)

	m, err := metrics.NewWorkerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	loop, err := New(Config{Layer: layer, StoreActivity: storeActivity, Log: log, Metrics: m})
	require.NoError(t, err)

	return &harness{loop: loop, fake: fake, reporter: reporter, logs: &logs, metrics: m}
}

func refs(ids ...string) []access.ElementRef {
	out := make([]access.ElementRef, len(ids))
	for i, id := range ids {
		out[i] = access.RefFromID(id)
	}
	return out
}

func failOn(ids ...string) ProcessFunc {
	failing := make(map[string]bool, len(ids))
	for _, id := range ids {
		failing[id] = true
	}
	return func(_ context.Context, el access.ElementRef) error {
		if failing[el.ID] {
			return errors.NewStd("cannot process " + el.ID)
		}
		return nil
	}
}

func TestNewRequiresLayer(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRunOutcomeThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		items     []access.ElementRef
		failing   []string
		want      Outcome
		wantFatal bool
	}{
		{"all_succeed", refs("a", "b", "c"), nil, Outcome{Total: 3, Completed: 3}, false},
		{"one_of_three_fails", refs("a", "b", "c"), []string{"b"}, Outcome{Total: 3, Completed: 2, Failed: 1}, false},
		{"all_fail", refs("a", "b", "c"), []string{"a", "b", "c"}, Outcome{Total: 3, Failed: 3}, true},
		{"no_items", nil, nil, Outcome{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, "v1", true)

			out, err := h.loop.Run(t.Context(), tt.items, failOn(tt.failing...))
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.wantFatal, out.Fatal())
			if tt.wantFatal {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRunReportsActivityInOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", true)

	_, err := h.loop.Run(t.Context(), refs("a", "b"), failOn("b"))
	require.NoError(t, err)

	assert.Equal(t, []remotetest.Activity{
		{WorkerVersionID: "v1", ElementID: "a", State: remote.ActivityStarted},
		{WorkerVersionID: "v1", ElementID: "a", State: remote.ActivityProcessed},
		{WorkerVersionID: "v1", ElementID: "b", State: remote.ActivityStarted},
		{WorkerVersionID: "v1", ElementID: "b", State: remote.ActivityError},
	}, h.fake.Activities())
}

func TestRunRecordsOneErrorEntryPerFailedItem(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", true)

	out, err := h.loop.Run(t.Context(), refs("a", "missing", "c"), failOn("c"))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Failed)

	entries := h.reporter.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "missing", entries[0].ElementID)
	assert.Equal(t, report.KindError, entries[0].Kind)
	assert.Equal(t, "c", entries[1].ElementID)
	assert.Equal(t, "cannot process c", entries[1].Error)

	// An element that could not be resolved never starts.
	for _, a := range h.fake.Activities() {
		assert.NotEqual(t, "missing", a.ElementID)
	}
	assert.Contains(t, h.logs.String(), "3 items: 1 completed, 2 failed")
}

func TestRunResolvesEachItemOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", false)

	var seen []string
	_, err := h.loop.Run(t.Context(), refs("a", "b"), func(_ context.Context, el access.ElementRef) error {
		assert.True(t, el.Resolved())
		assert.Equal(t, "page", el.Type)
		seen = append(seen, el.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 2, h.fake.Calls("RetrieveElement"))
}

func TestActivityFailuresAreSwallowed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", true)
	h.fake.FailAlways("UpdateActivity", remotetest.StatusError(403))

	out, err := h.loop.Run(t.Context(), refs("a"), failOn())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Completed)
	assert.Contains(t, h.logs.String(), "failed to update activity")
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.ActivityReports(string(remote.ActivityStarted), metrics.StatusError)), 0.001)
}

func TestReadOnlyActivityIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", true)

	out, err := h.loop.Run(t.Context(), refs("a"), failOn())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Completed)
	assert.Equal(t, 0, h.fake.Calls("UpdateActivity"))
	assert.Contains(t, h.logs.String(), "cannot update activity in read-only mode")
}

func TestActivityDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", false)

	_, err := h.loop.Run(t.Context(), refs("a"), failOn())
	require.NoError(t, err)
	assert.Equal(t, 0, h.fake.Calls("UpdateActivity"))
}

func TestPanicFailsOnlyThatItem(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", false)

	out, err := h.loop.Run(t.Context(), refs("a", "b"), func(_ context.Context, el access.ElementRef) error {
		if el.ID == "a" {
			panic("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Outcome{Total: 2, Completed: 1, Failed: 1}, out)
	assert.Contains(t, h.reporter.Entries()[0].Error, "panic while processing element a: boom")
}

func TestRunStopsStartingItemsWhenCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", false)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	out, err := h.loop.Run(ctx, refs("a", "b", "c"), func(context.Context, access.ElementRef) error {
		cancel()
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.Equal(t, Outcome{Total: 3, Completed: 1, Skipped: 2}, out)
}

func TestRunOutcomeMetrics(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "v1", false)

	_, err := h.loop.Run(t.Context(), refs("a", "b", "c"), failOn("a"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.RunItems("failed")), 0.001)
	assert.InDelta(t, 2.0, testutil.ToFloat64(h.metrics.RunItems("completed")), 0.001)
}
