package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuildReportsWhenReporterActive(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("merge failed for %s", "store_1.sqlite").
		Component("cache").
		Category(CategoryMerge).
		Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.Equal(t, "cache", ee.GetComponent())
}

func TestDisabledReporterKeepsFastPath(t *testing.T) {
	SetTelemetryReporter(NewSentryReporter(false))
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	assert.False(t, hasActiveReporting.Load())
}

func TestCategoryInheritedFromWrappedError(t *testing.T) {
	t.Parallel()

	inner := Newf("server returned 503").
		Category(CategoryRemoteTransient).
		Context("status_code", 503).
		Build()
	outer := Wrap(inner).Context("operation", "create_element").Build()

	assert.Equal(t, CategoryRemoteTransient, outer.Category)
	assert.True(t, IsTransient(outer))
	assert.Equal(t, 503, StatusCode(outer))
	assert.True(t, Is(outer, inner))
}

func TestCategoryHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		notFound bool
		valid    bool
	}{
		{"not found", Newf("missing").Category(CategoryNotFound).Build(), true, false},
		{"validation", ValidationError("bad polygon"), false, true},
		{"plain error", fmt.Errorf("plain"), false, false},
		{"wrapped validation", fmt.Errorf("ctx: %w", ValidationError("x")), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.valid, IsValidation(tt.err))
		})
	}
}

func TestStatusCodeMissing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, StatusCode(fmt.Errorf("plain")))
	assert.Equal(t, 0, StatusCode(Newf("no code").Category(CategoryRemote).Build()))
}

func TestStatusCodeSurvivesRewrapping(t *testing.T) {
	t.Parallel()

	inner := Newf("server returned 502").Category(CategoryRemoteTransient).Context("status_code", 502).Build()
	outer := Wrap(fmt.Errorf("list children: %w", inner)).Context("operation", "list_children").Build()

	assert.Equal(t, 502, StatusCode(outer))
}

func TestFileContextAnonymizesPath(t *testing.T) {
	t.Parallel()

	ee := Newf("cannot open").FileContext("/data/parents/store_3.sqlite").Build()
	ctx := ee.GetContext()

	assert.Equal(t, "absolute-path", ctx["file_type"])
	assert.Equal(t, "sqlite", ctx["file_extension"])
}

func TestScrubRemovesCredentials(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"Error at https://api.example.com?[REDACTED]",
		builtinScrub("Error at https://api.example.com?api_key=secret123&token=abc"))

	assert.Equal(t, "Config error: api_key=[REDACTED] is invalid",
		builtinScrub("Config error: api_key=secret123 is invalid"))

	scrubbed := builtinScrub("request failed: Authorization: Token 0123456789abcdef")
	assert.NotContains(t, scrubbed, "0123456789abcdef")
}

func TestExtraScrubberRunsAfterBuiltinRules(t *testing.T) {
	SetPrivacyScrubber(func(s string) string { return strings.ReplaceAll(s, "worker-7", "[HOST]") })
	t.Cleanup(func() { SetPrivacyScrubber(nil) })

	got := scrubMessageForPrivacy("worker-7 failed on https://iiif.test/a?sig=1")
	assert.Equal(t, "[HOST] failed on https://iiif.test/a?[REDACTED]", got)
}

func TestEventTitle(t *testing.T) {
	t.Parallel()

	ee := Newf("boom").
		Component("remote").
		Category(CategoryRemoteTransient).
		Context("operation", "list_children").
		Build()
	assert.Equal(t, "remote: Remote Unavailable (list_children)", eventTitle(ee))

	bare := Newf("boom").Category(ErrorCategory("custom")).Build()
	assert.Equal(t, "custom", eventTitle(bare))
}
