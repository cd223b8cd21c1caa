package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every built error while it is enabled.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// categoryReport is how errors of one category show up in Sentry.
type categoryReport struct {
	title string
	level sentry.Level
}

var categoryReports = map[ErrorCategory]categoryReport{
	CategoryStoreUnavailable:  {"Cache Store Unavailable", sentry.LevelError},
	CategoryMerge:             {"Cache Merge Failure", sentry.LevelError},
	CategoryDatabase:          {"Cache Database Failure", sentry.LevelError},
	CategoryConflict:          {"Cache Conflict", sentry.LevelWarning},
	CategoryRemoteTransient:   {"Remote Unavailable", sentry.LevelWarning},
	CategoryRemote:            {"Remote Failure", sentry.LevelError},
	CategoryNetwork:           {"Network Failure", sentry.LevelWarning},
	CategoryConfiguration:     {"Configuration Error", sentry.LevelError},
	CategoryProcessing:        {"Element Processing Failure", sentry.LevelError},
	CategoryValidation:        {"Invalid Entity", sentry.LevelInfo},
	CategoryInvalidInput:      {"Invalid Input", sentry.LevelInfo},
	CategoryUnsupportedFilter: {"Unsupported Cache Filter", sentry.LevelInfo},
	CategoryNotFound:          {"Entity Not Found", sentry.LevelInfo},
	CategoryCancellation:      {"Run Cancelled", sentry.LevelInfo},
}

func reportFor(category ErrorCategory) categoryReport {
	if r, ok := categoryReports[category]; ok {
		return r
	}
	return categoryReport{title: string(category), level: sentry.LevelError}
}

// SentryReporter sends enhanced errors to the Sentry hub initialized by the
// telemetry package.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter returns a reporter; a disabled one drops everything.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled reports whether errors are sent.
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError captures ee once. Messages and string context values are
// scrubbed before they leave the process.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	report := reportFor(ee.Category)
	title := eventTitle(ee)
	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	operation, _ := ee.GetContext()["operation"].(string)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		if operation != "" {
			scope.SetTag("operation", operation)
		}

		values := make(map[string]any, len(ee.GetContext()))
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			values[key] = value
		}
		scope.SetContext("error", values)
		scope.SetLevel(report.level)
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category), operation})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = report.level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// eventTitle names an event as "component: category title (operation)".
func eventTitle(ee *EnhancedError) string {
	var b strings.Builder
	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		b.WriteString(component)
		b.WriteString(": ")
	}
	b.WriteString(reportFor(ee.Category).title)
	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		fmt.Fprintf(&b, " (%s)", operation)
	}
	return b.String()
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
	extraScrubber           PrivacyScrubber
)

// SetTelemetryReporter registers the reporter used by Build. Passing nil
// turns reporting off.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the registered reporter, if any.
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// PrivacyScrubber rewrites a message before it is sent.
type PrivacyScrubber func(string) string

// SetPrivacyScrubber installs a scrubber that runs after the built-in rules.
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	extraScrubber = scrubber
}

type scrubRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Query strings go first so that signed image URLs lose their signatures.
var scrubRules = []scrubRule{
	{regexp.MustCompile(`(https?://[^?\s]+)\?\S*`), "$1?[REDACTED]"},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|token)[=:]\S+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?i)authorization:\s*\S+(\s+\S+)?`), "Authorization: [REDACTED]"},
	{regexp.MustCompile(`[0-9a-fA-F]{32,}`), "[REDACTED]"},
}

func scrubMessageForPrivacy(message string) string {
	message = builtinScrub(message)

	telemetryMu.RLock()
	scrubber := extraScrubber
	telemetryMu.RUnlock()
	if scrubber != nil {
		message = scrubber(message)
	}
	return message
}

func builtinScrub(message string) string {
	for _, rule := range scrubRules {
		message = rule.pattern.ReplaceAllString(message, rule.replacement)
	}
	return message
}
