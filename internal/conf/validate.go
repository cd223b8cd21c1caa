// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const maxRetryAttempts = 10

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateWorkerSettings(&settings.Worker); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateAPISettings(&settings.API); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRetrySettings(&settings.Retry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry: dsn is required when telemetry is enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWorkerSettings(w *WorkerSettings) error {
	var errs []string

	if w.VersionID != "" {
		if _, err := uuid.Parse(w.VersionID); err != nil {
			errs = append(errs, fmt.Sprintf("versionid %q is not a UUID", w.VersionID))
		}
	}

	if w.UseCache && w.CacheFile() == "" {
		errs = append(errs, "usecache requires cachepath or taskid")
	}

	if len(w.Parents) > 0 && w.DataDir == "" {
		errs = append(errs, "parents require datadir")
	}

	for _, parent := range w.Parents {
		if !isSafePathSegment(parent) {
			errs = append(errs, fmt.Sprintf("parent task id %q is not a valid directory name", parent))
		}
	}

	if w.Chunk != "" && !isSafePathSegment(w.Chunk) {
		errs = append(errs, fmt.Sprintf("chunk %q is not a valid file name part", w.Chunk))
	}

	if len(w.Elements) > 0 && w.ElementsFile != "" {
		errs = append(errs, "elements and elementsfile are mutually exclusive")
	}

	if len(errs) > 0 {
		return errors.New("worker: " + strings.Join(errs, "; "))
	}
	return nil
}

func validateAPISettings(a *APISettings) error {
	if a.URL != "" {
		u, err := url.Parse(a.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("api: url %q must be absolute", a.URL)
		}
	}
	if a.Timeout < 0 {
		return errors.New("api: timeout must not be negative")
	}
	if a.RateLimit < 0 {
		return errors.New("api: ratelimit must not be negative")
	}
	return nil
}

func validateRetrySettings(r *RetrySettings) error {
	var errs []string

	if r.MaxAttempts < 1 || r.MaxAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Sprintf("maxattempts must be between 1 and %d", maxRetryAttempts))
	}
	if r.InitialDelay <= 0 {
		errs = append(errs, "initialdelay must be positive")
	}
	if r.Multiplier < 1 {
		errs = append(errs, "multiplier must be at least 1")
	}
	if r.MaxDelay < r.InitialDelay {
		errs = append(errs, "maxdelay must not be below initialdelay")
	}

	if len(errs) > 0 {
		return errors.New("retry: " + strings.Join(errs, "; "))
	}
	return nil
}

func isSafePathSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
