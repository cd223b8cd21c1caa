// Package cache implements the worker's local SQLite mirror of remote
// entities and the merge of parent task caches into it.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const slowQueryThreshold = 200 * time.Millisecond

// insertBatchSize keeps bulk inserts under SQLite's bound parameter limit.
const insertBatchSize = 200

// Store is an open cache file. It holds a single connection: ATTACH and
// PRAGMA state used by Merge are per connection.
type Store struct {
	db   *gorm.DB
	path string
	log  logger.Logger
}

// Open opens the store at path, creating the file if needed. The parent
// directory must already exist.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("cache")

	// An empty path would make SQLite open a private temporary database.
	if path == "" {
		return nil, storeUnavailable(errors.NewStd("no cache path given"), path)
	}

	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		return nil, storeUnavailable(err, path)
	}

	// Foreign keys are enforced on every statement. No WAL: cache files are
	// copied between tasks as a single file.
	dsn := (&url.URL{
		Scheme:   "file",
		Path:     path,
		RawQuery: "_foreign_keys=on&_busy_timeout=5000",
	}).String()

	gormLog := logger.NewGormLoggerAdapter(log.Module("sql"), slowQueryThreshold).WithQuietErrors(isDriverConflict)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormLog,
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, storeUnavailable(err, path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeUnavailable(err, path)
	}
	sqlDB.SetMaxOpenConns(1)

	// Touch the header so that unreadable or corrupt files fail here and not
	// on the first query.
	var version int
	if err := db.Raw("PRAGMA schema_version").Scan(&version).Error; err != nil {
		_ = sqlDB.Close()
		return nil, storeUnavailable(err, path)
	}

	log.Debug("cache opened", logger.String("path", path), logger.Int("schema_version", version))

	return &Store{db: db, path: path, log: log}, nil
}

func storeUnavailable(err error, path string) error {
	return errors.New(fmt.Errorf("cannot open cache %s: %w", path, err)).
		Component("cache").
		Category(errors.CategoryStoreUnavailable).
		Context("operation", "open").
		FileContext(path).
		Build()
}

// DB returns the underlying GORM database.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// GetImage returns the image with the given id.
func (s *Store) GetImage(ctx context.Context, id string) (*Image, error) {
	var img Image
	if err := s.first(ctx, &img, id, "image"); err != nil {
		return nil, err
	}
	return &img, nil
}

// GetElement returns the element with the given id.
func (s *Store) GetElement(ctx context.Context, id string) (*Element, error) {
	var el Element
	if err := s.first(ctx, &el, id, "element"); err != nil {
		return nil, err
	}
	return &el, nil
}

// GetTranscription returns the transcription with the given id.
func (s *Store) GetTranscription(ctx context.Context, id string) (*Transcription, error) {
	var tr Transcription
	if err := s.first(ctx, &tr, id, "transcription"); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (s *Store) first(ctx context.Context, dest any, id, kind string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(kind, id)
	}
	if err != nil {
		return errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "get_"+kind).
			Context("id", id).
			Build()
	}
	return nil
}

// InsertImages inserts all rows or none.
func (s *Store) InsertImages(ctx context.Context, images []Image) error {
	return insertAll(ctx, s.db, images, "images")
}

// InsertElements inserts all rows or none. A duplicate id anywhere in the
// call rolls back the whole call and nothing else.
func (s *Store) InsertElements(ctx context.Context, elements []Element) error {
	return insertAll(ctx, s.db, elements, "elements")
}

// InsertTranscriptions inserts all rows or none.
func (s *Store) InsertTranscriptions(ctx context.Context, transcriptions []Transcription) error {
	return insertAll(ctx, s.db, transcriptions, "transcriptions")
}

func insertAll[T any](ctx context.Context, db *gorm.DB, rows []T, kind string) error {
	if len(rows) == 0 {
		return nil
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, insertBatchSize).Error
	})
	if err != nil {
		return translateInsertError(err, kind, len(rows))
	}
	return nil
}

// FirstOrCreateImage returns the stored image with img.ID, inserting img
// first if the id is new.
func (s *Store) FirstOrCreateImage(ctx context.Context, img Image) (*Image, error) {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&img).Error
	if err != nil {
		return nil, translateInsertError(err, "images", 1)
	}
	return s.GetImage(ctx, img.ID)
}

// ExistingElementIDs returns the subset of ids already stored.
func (s *Store) ExistingElementIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []string
	err := s.db.WithContext(ctx).Model(&Element{}).Where("id IN ?", ids).Pluck("id", &existing).Error
	if err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "existing_elements").
			Build()
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// InitialElements returns the elements that seeded the run, ordered by id.
func (s *Store) InitialElements(ctx context.Context) ([]Element, error) {
	var elements []Element
	err := s.db.WithContext(ctx).Where("initial = ?", true).Order("id").Find(&elements).Error
	if err != nil {
		return nil, queryError(err, "initial_elements")
	}
	return elements, nil
}

// ChildElements returns the direct children of parentID matching q.
func (s *Store) ChildElements(ctx context.Context, parentID string, q ElementQuery) ([]Element, error) {
	tx := s.db.WithContext(ctx).Where("parent_id = ?", parentID)
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	tx = applyVersionFilter(tx, q.WorkerVersion)

	var elements []Element
	if err := tx.Order("id").Find(&elements).Error; err != nil {
		return nil, queryError(err, "child_elements")
	}
	return elements, nil
}

// ElementTranscriptions returns the transcriptions attached to elementID.
func (s *Store) ElementTranscriptions(ctx context.Context, elementID string, version *VersionFilter) ([]Transcription, error) {
	tx := applyVersionFilter(s.db.WithContext(ctx).Where("element_id = ?", elementID), version)

	var transcriptions []Transcription
	if err := tx.Order("id").Find(&transcriptions).Error; err != nil {
		return nil, queryError(err, "element_transcriptions")
	}
	return transcriptions, nil
}

func applyVersionFilter(tx *gorm.DB, f *VersionFilter) *gorm.DB {
	switch {
	case f == nil:
		return tx
	case f.Manual:
		return tx.Where("worker_version_id IS NULL")
	default:
		return tx.Where("worker_version_id = ?", f.ID)
	}
}

// Counts returns the number of rows in each table.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	db := s.db.WithContext(ctx)
	if err := db.Model(&Image{}).Count(&c.Images).Error; err != nil {
		return c, queryError(err, "count_images")
	}
	if err := db.Model(&Element{}).Count(&c.Elements).Error; err != nil {
		return c, queryError(err, "count_elements")
	}
	if err := db.Model(&Transcription{}).Count(&c.Transcriptions).Error; err != nil {
		return c, queryError(err, "count_transcriptions")
	}
	return c, nil
}

func queryError(err error, operation string) error {
	return errors.New(err).
		Component("cache").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
