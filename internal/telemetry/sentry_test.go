package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/docworker/internal/errors"
)

// captureTransport implements sentry.Transport and keeps sent events.
type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

//nolint:gocritic // hugeParam: interface requirement, cannot change signature
func (t *captureTransport) Configure(_ sentry.ClientOptions) {}

func (t *captureTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *captureTransport) Flush(time.Duration) bool { return true }

func (t *captureTransport) FlushWithContext(context.Context) bool { return true }

func (t *captureTransport) Close() {}

func (t *captureTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

// Tests below change process-wide Sentry state and do not run in parallel.

func TestInitDisabled(t *testing.T) {
	flush, err := Init(Options{}, nil)
	require.NoError(t, err)
	require.NotNil(t, flush)
	flush()
}

func TestInitRequiresDSN(t *testing.T) {
	_, err := Init(Options{Enabled: true}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestInitReportsBuiltErrors(t *testing.T) {
	transport := &captureTransport{}
	t.Cleanup(func() {
		errors.SetTelemetryReporter(nil)
		errors.SetPrivacyScrubber(nil)
	})

	flush, err := Init(Options{
		Enabled:   true,
		DSN:       "https://public@sentry.example.com/1",
		Release:   "test",
		Transport: transport,
	}, nil)
	require.NoError(t, err)

	_ = errors.Newf("remote call failed with status 503 for https://api.test/x?token=abc with Bearer s3cr3tvalue").
		Component("remote").
		Category(errors.CategoryRemoteTransient).
		Build()
	flush()

	events := transport.Events()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "remote-transient")
	assert.NotContains(t, events[0].Message, "token=abc")
	assert.NotContains(t, events[0].Message, "s3cr3tvalue")
	assert.Equal(t, "docworker@test", events[0].Release)
	assert.Empty(t, events[0].ServerName)
}

func TestApplyPrivacyFilters(t *testing.T) {
	event := &sentry.Event{
		ServerName: "host-1",
		User:       sentry.User{ID: "u"},
		Contexts:   map[string]sentry.Context{"os": {}, "device": {}, "trace": {}},
		Extra:      map[string]any{"component": "cache", "path": "/data"},
		Tags:       map[string]string{"hostname": "h", "category": "cache-merge"},
	}

	got := applyPrivacyFilters(event)
	assert.Empty(t, got.ServerName)
	assert.Equal(t, sentry.User{}, got.User)
	assert.Equal(t, map[string]sentry.Context{"trace": {}}, got.Contexts)
	assert.Equal(t, map[string]any{"component": "cache"}, got.Extra)
	assert.Equal(t, map[string]string{"category": "cache-merge"}, got.Tags)
}
