// Package telemetry wires opt-in Sentry error reporting into the errors
// package.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
)

// flushTimeout bounds how long shutdown waits for queued events.
const flushTimeout = 2 * time.Second

// Options configures Sentry. Transport is only set by tests.
type Options struct {
	Enabled   bool
	DSN       string
	Debug     bool
	Release   string
	Transport sentry.Transport
}

// Init initializes Sentry when enabled and registers it as the telemetry
// reporter for built errors. The returned function flushes pending events
// and is safe to call when telemetry is disabled.
func Init(opts Options, log logger.Logger) (func(), error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("telemetry")

	if !opts.Enabled {
		log.Debug("error telemetry is disabled")
		return func() {}, nil
	}
	if opts.DSN == "" {
		return nil, errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Debug:            opts.Debug,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          fmt.Sprintf("docworker@%s", opts.Release),
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetPrivacyScrubber(logger.RedactSensitiveData)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("error telemetry enabled", logger.String("release", opts.Release))

	return func() {
		if !sentry.Flush(flushTimeout) {
			log.Warn("timed out flushing telemetry events", logger.Duration("timeout", flushTimeout))
		}
	}, nil
}

// applyPrivacyFilters removes host identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
