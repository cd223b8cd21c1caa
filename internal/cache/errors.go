package cache

import (
	"github.com/tphakala/docworker/internal/errors"
	"gorm.io/gorm"
)

// Sentinel errors for cache operations. Built errors wrap them so callers can
// use errors.Is as well as the category helpers.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.NewStd("cache entity not found")

	// ErrDuplicateKey indicates a primary key already present in the store.
	ErrDuplicateKey = errors.NewStd("duplicate key")

	// ErrMissingReference indicates a foreign key pointing at an absent row.
	ErrMissingReference = errors.NewStd("missing referenced row")
)

func notFound(kind, id string) error {
	return errors.Newf("%s %s: %w", kind, id, ErrNotFound).
		Component("cache").
		Category(errors.CategoryNotFound).
		Context("entity", kind).
		Context("id", id).
		Build()
}

// translateInsertError maps driver errors from a bulk insert onto the cache
// error taxonomy.
func translateInsertError(err error, kind string, count int) error {
	category := errors.CategoryDatabase
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		category = errors.CategoryConflict
		err = errors.Join(ErrDuplicateKey, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		category = errors.CategoryValidation
		err = errors.Join(ErrMissingReference, err)
	}
	return errors.New(err).
		Component("cache").
		Category(category).
		Context("operation", "insert_"+kind).
		Context("rows", count).
		Build()
}

// IsConflict reports whether err is a primary key conflict from an insert.
func IsConflict(err error) bool {
	return errors.IsCategory(err, errors.CategoryConflict) || errors.Is(err, ErrDuplicateKey)
}

// isDriverConflict matches the raw driver error before translation, for the
// gorm logger adapter.
func isDriverConflict(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
