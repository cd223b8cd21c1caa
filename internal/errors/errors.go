// Package errors is the error taxonomy of docworker. Errors are built with a
// category, the component that raised them and free-form context, and are
// optionally reported to telemetry when built.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrorCategory classifies a failure so callers can react without string
// matching.
type ErrorCategory string

// CategorizedError is implemented by errors that know their own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	// Cache store and merge
	CategoryStoreUnavailable ErrorCategory = "store-unavailable" // cache file cannot be opened
	CategoryMerge            ErrorCategory = "cache-merge"       // parent cache unreadable or corrupt
	CategoryDatabase         ErrorCategory = "database"          // query or insert failure
	CategoryConflict         ErrorCategory = "conflict"          // primary key already present

	// Entity access
	CategoryNotFound          ErrorCategory = "not-found"
	CategoryValidation        ErrorCategory = "validation"
	CategoryInvalidInput      ErrorCategory = "invalid-input"
	CategoryUnsupportedFilter ErrorCategory = "unsupported-filter"

	// Remote entity service
	CategoryRemoteTransient ErrorCategory = "remote-transient" // 5xx, retried
	CategoryRemote          ErrorCategory = "remote"           // any other remote failure
	CategoryNetwork         ErrorCategory = "network"
	CategoryFileParsing     ErrorCategory = "file-parsing"

	// Worker runtime
	CategoryProcessing    ErrorCategory = "processing"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError is an error with a category, a component and context.
type EnhancedError struct {
	Err      error
	Category ErrorCategory
	Context  map[string]any

	mu        sync.RWMutex
	component string
	reported  bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else through the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// ErrorCategory lets an EnhancedError satisfy CategorizedError.
func (ee *EnhancedError) ErrorCategory() ErrorCategory {
	return ee.Category
}

// GetComponent returns the component that raised the error.
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.component
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported records that telemetry has seen this error.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported reports whether telemetry has seen this error.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder assembles an EnhancedError.
//
//	return errors.New(err).
//		Component("cache").
//		Category(errors.CategoryMerge).
//		Context("source", path).
//		Build()
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Wrap is New for errors that already carry a category; the category is
// inherited unless overridden.
func Wrap(err error) *ErrorBuilder {
	return New(err)
}

// Component names the component that raised the error. When unset it is
// derived from the caller's package, but only while telemetry is active.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context attaches a key/value pair.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext records the kind of path and its extension, never the path
// itself.
func (eb *ErrorBuilder) FileContext(path string) *ErrorBuilder {
	if path == "" {
		return eb
	}
	kind := "relative-path"
	if filepath.IsAbs(path) {
		kind = "absolute-path"
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		ext = "none"
	}
	return eb.Context("file_type", kind).Context("file_extension", ext)
}

// hasActiveReporting lets Build skip stack inspection when nothing would
// consume the component.
var hasActiveReporting atomic.Bool

// Build creates the error and hands it to the telemetry reporter, if any.
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.err == nil {
		eb.err = NewStd("unknown error")
	}
	if eb.category == "" {
		eb.category = inheritedCategory(eb.err)
	}

	reporting := hasActiveReporting.Load()
	if eb.component == "" && reporting {
		eb.component = detectComponent()
	}
	if eb.component == "" {
		eb.component = ComponentUnknown
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		component: eb.component,
	}
	if reporting {
		reportToTelemetry(ee)
	}
	return ee
}

func inheritedCategory(err error) ErrorCategory {
	var catErr CategorizedError
	if As(err, &catErr) && catErr.ErrorCategory() != "" {
		return catErr.ErrorCategory()
	}
	return CategoryGeneric
}

// componentPackages maps package path fragments to component names.
var componentPackages = []struct{ fragment, component string }{
	{"/internal/cache", "cache"},
	{"/internal/remote", "remote"},
	{"/internal/access", "access"},
	{"/internal/worker", "worker"},
	{"/internal/report", "report"},
	{"/internal/conf", "configuration"},
	{"/internal/httpclient", "httpclient"},
	{"/internal/telemetry", "telemetry"},
	{"/internal/app", "app"},
}

// detectComponent returns the component of the nearest caller outside this
// package.
func detectComponent() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, "/internal/errors.") {
			for _, p := range componentPackages {
				if strings.Contains(frame.Function, p.fragment) {
					return p.component
				}
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// ValidationError builds a validation error from a message.
func ValidationError(message string) *EnhancedError {
	return New(NewStd(message)).Category(CategoryValidation).Build()
}

// NewStd, Is, As and Join mirror the standard library so callers need only
// this package.

func NewStd(text string) error {
	return stderrors.New(text)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether the outermost EnhancedError in err has category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == category
}

// IsNotFound reports whether err is a missing entity.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// IsValidation reports whether err was rejected before any side effect happened.
func IsValidation(err error) bool {
	return IsCategory(err, CategoryValidation)
}

// IsTransient reports whether err is a 5xx remote failure worth retrying.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryRemoteTransient)
}

// StatusCode returns the remote status code recorded anywhere in err's
// chain of enhanced errors, or 0.
func StatusCode(err error) int {
	for err != nil {
		var ee *EnhancedError
		if !As(err, &ee) {
			return 0
		}
		if code, ok := ee.GetContext()["status_code"].(int); ok {
			return code
		}
		err = ee.Err
	}
	return 0
}
