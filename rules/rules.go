//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via
// ruleguard. They encode the conventions of this repository.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects the Add/Done goroutine pattern and suggests wg.Go.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(func() { work() })
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of Add(1) with a deferred Done").
		Suggest("$wg.Go(func() { $body })")
}

// TestingContext detects context.Background() in tests. t.Context() is
// cancelled when the test ends, so goroutines started with it stop too.
func TestingContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`) && m.File().Imports("testing")).
		Report("use t.Context() instead of $$ in tests")
}

// LoggerErrorField detects errors logged as plain strings. logger.Error
// keeps the key consistent across modules.
func LoggerErrorField(m dsl.Matcher) {
	m.Import("github.com/tphakala/docworker/internal/logger")

	m.Match(`logger.String("error", $err.Error())`).
		Where(m["err"].Type.Implements("error")).
		Report("use logger.Error($err) instead of logger.String(\"error\", $err.Error())").
		Suggest("logger.Error($err)")

	m.Match(`logger.Any("error", $err)`).
		Where(m["err"].Type.Implements("error")).
		Report("use logger.Error($err) instead of logger.Any(\"error\", $err)").
		Suggest("logger.Error($err)")
}

// EnhancedErrorCategory detects built errors without a category. Errors
// without one are reported as generic and cannot be matched with IsCategory.
func EnhancedErrorCategory(m dsl.Matcher) {
	m.Import("github.com/tphakala/docworker/internal/errors")

	m.Match(
		`errors.New($err).Component($c).Build()`,
		`errors.Newf($*args).Component($c).Build()`,
		`errors.New($err).Build()`,
		`errors.Newf($*args).Build()`,
	).
		Report("set a Category before Build")
}

// StdErrorsInDomain detects the standard errors package in packages that
// return categorized errors.
func StdErrorsInDomain(m dsl.Matcher) {
	m.Match(`errors.New($msg)`).
		Where(m.File().Imports("errors") &&
			m.File().PkgPath.Matches(`internal/(access|cache|remote|worker)$`)).
		Report("use the internal errors builder with a category instead of the standard errors package")
}

// SortToSlices detects sort helpers that the slices package replaces.
func SortToSlices(m dsl.Matcher) {
	m.Match(`sort.Strings($s)`, `sort.Ints($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, func($i, $j int) bool { return $s[$i] < $s[$j] })`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")
}
