package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"gorm.io/gorm"
)

// StoreFileExt is the extension of cache files on the shared data volume.
const StoreFileExt = "sqlite"

const mergeAlias = "parent_cache"

// Rows are copied column by column so that a parent written by an older
// schema revision with a different column order still merges correctly.
const (
	mergeImagesSQL = `INSERT OR IGNORE INTO images (id, width, height, url)
SELECT id, width, height, url FROM ` + mergeAlias + `.images`

	mergeElementsSQL = `INSERT INTO elements (id, parent_id, type, image_id, polygon, initial, worker_version_id)
SELECT id, parent_id, type, image_id, polygon, initial, worker_version_id FROM ` + mergeAlias + `.elements WHERE true
ON CONFLICT(id) DO UPDATE SET
	parent_id = excluded.parent_id,
	type = excluded.type,
	image_id = excluded.image_id,
	polygon = excluded.polygon,
	initial = excluded.initial,
	worker_version_id = excluded.worker_version_id`

	mergeTranscriptionsSQL = `INSERT INTO transcriptions (id, element_id, text, confidence, worker_version_id)
SELECT id, element_id, text, confidence, worker_version_id FROM ` + mergeAlias + `.transcriptions WHERE true
ON CONFLICT(id) DO UPDATE SET
	element_id = excluded.element_id,
	text = excluded.text,
	confidence = excluded.confidence,
	worker_version_id = excluded.worker_version_id`
)

// MergedSource describes one parent cache folded into the store.
type MergedSource struct {
	Path           string `json:"path"`
	Images         int64  `json:"images"`
	Elements       int64  `json:"elements"`
	Transcriptions int64  `json:"transcriptions"`
}

// MergeResult lists the merged sources in the order they were applied.
type MergeResult struct {
	Sources []MergedSource `json:"sources"`
}

// ParentCachePaths returns the cache files to merge for parents, in merge
// order, skipping files that do not exist. For each parent the non-chunked
// store.sqlite comes first and store_<chunk>.sqlite second, so that chunk
// rows win on conflict.
func ParentCachePaths(dataDir string, parents []string, chunk string) []string {
	var paths []string
	for _, parent := range parents {
		candidates := []string{filepath.Join(dataDir, parent, "store."+StoreFileExt)}
		if chunk != "" {
			candidates = append(candidates, filepath.Join(dataDir, parent, fmt.Sprintf("store_%s.%s", chunk, StoreFileExt)))
		}
		for _, candidate := range candidates {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				paths = append(paths, candidate)
			}
		}
	}
	return paths
}

// Merge folds the caches of parents into the store. Rows whose id already
// exists are overwritten by the incoming row, so the last parent wins. Each
// source is committed on its own: a failure on source N leaves sources
// before it merged. Merge needs exclusive use of the store.
func (s *Store) Merge(ctx context.Context, dataDir string, parents []string, chunk string) (*MergeResult, error) {
	log := s.log.Module("merge")
	result := &MergeResult{}

	paths := ParentCachePaths(dataDir, parents, chunk)
	if len(paths) == 0 {
		log.Info("no parent cache to merge", logger.Int("parents", len(parents)))
		return result, nil
	}

	restore, err := s.relaxDurability(ctx)
	if err != nil {
		return result, err
	}
	defer restore()

	start := time.Now()
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, errors.New(err).
				Component("cache").
				Category(errors.CategoryCancellation).
				Context("operation", "merge").
				Build()
		}

		merged, err := s.mergeSource(ctx, path)
		if err != nil {
			log.Error("parent cache merge failed", logger.String("source", path), logger.Error(err))
			return result, err
		}
		result.Sources = append(result.Sources, merged)

		log.Info("merged parent cache",
			logger.String("source", path),
			logger.Int64("images", merged.Images),
			logger.Int64("elements", merged.Elements),
			logger.Int64("transcriptions", merged.Transcriptions))
	}

	log.Info("parent caches merged",
		logger.Int("sources", len(result.Sources)),
		logger.Duration("elapsed", time.Since(start)))

	return result, nil
}

func (s *Store) mergeSource(ctx context.Context, path string) (MergedSource, error) {
	merged := MergedSource{Path: path}
	db := s.db.WithContext(ctx)

	if err := db.Exec("ATTACH DATABASE ? AS "+mergeAlias, path).Error; err != nil {
		return merged, mergeError(err, path, "attach")
	}
	defer func() {
		if err := s.db.Exec("DETACH DATABASE " + mergeAlias).Error; err != nil {
			s.log.Warn("failed to detach parent cache", logger.String("source", path), logger.Error(err))
		}
	}()

	if err := checkSourceTables(db); err != nil {
		return merged, mergeError(err, path, "check_tables")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(mergeImagesSQL)
		if res.Error != nil {
			return fmt.Errorf("images: %w", res.Error)
		}
		merged.Images = res.RowsAffected

		res = tx.Exec(mergeElementsSQL)
		if res.Error != nil {
			return fmt.Errorf("elements: %w", res.Error)
		}
		merged.Elements = res.RowsAffected

		res = tx.Exec(mergeTranscriptionsSQL)
		if res.Error != nil {
			return fmt.Errorf("transcriptions: %w", res.Error)
		}
		merged.Transcriptions = res.RowsAffected
		return nil
	})
	if err != nil {
		return MergedSource{Path: path}, mergeError(err, path, "copy_rows")
	}

	return merged, nil
}

// checkSourceTables reads the attached schema. A file that is not a SQLite
// database fails here.
func checkSourceTables(db *gorm.DB) error {
	var tables []string
	err := db.Raw("SELECT name FROM "+mergeAlias+".sqlite_master WHERE type = 'table' AND name IN ?", requiredTables).
		Scan(&tables).Error
	if err != nil {
		return err
	}
	if len(tables) != len(requiredTables) {
		return fmt.Errorf("expected tables %v, found %v", requiredTables, tables)
	}
	return nil
}

func mergeError(err error, path, step string) error {
	return errors.New(fmt.Errorf("merge %s: %w", path, err)).
		Component("cache").
		Category(errors.CategoryMerge).
		Context("operation", "merge").
		Context("step", step).
		Context("source", path).
		Build()
}

// relaxDurability turns off fsync for the duration of a merge. The merge is
// rerun from the parents if the process dies half way.
func (s *Store) relaxDurability(ctx context.Context) (func(), error) {
	db := s.db.WithContext(ctx)

	var previous int
	if err := db.Raw("PRAGMA synchronous").Scan(&previous).Error; err != nil {
		return nil, queryError(err, "read_synchronous")
	}
	if err := db.Exec("PRAGMA synchronous = OFF").Error; err != nil {
		return nil, queryError(err, "relax_synchronous")
	}

	return func() {
		if err := s.db.Exec(fmt.Sprintf("PRAGMA synchronous = %d", previous)).Error; err != nil {
			s.log.Warn("failed to restore synchronous pragma", logger.Error(err))
		}
	}, nil
}
