package cache

import (
	"context"

	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"gorm.io/gorm"
)

// schemaStatements is the complete cache schema. Every statement is guarded
// with IF NOT EXISTS so CreateSchema can run on an existing store without
// altering it. Element.parent_id is not a foreign key: parents may live in a
// cache that was never merged into this one.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS images (
	id VARCHAR(37) NOT NULL PRIMARY KEY,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	url TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS elements (
	id VARCHAR(37) NOT NULL PRIMARY KEY,
	parent_id VARCHAR(37),
	type VARCHAR(50) NOT NULL,
	image_id VARCHAR(37) REFERENCES images (id),
	polygon TEXT,
	initial BOOLEAN NOT NULL DEFAULT 0,
	worker_version_id VARCHAR(37)
)`,
	`CREATE INDEX IF NOT EXISTS idx_elements_parent_id ON elements (parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_elements_type ON elements (type)`,
	`CREATE INDEX IF NOT EXISTS idx_elements_worker_version_id ON elements (worker_version_id)`,
	`CREATE INDEX IF NOT EXISTS idx_elements_initial ON elements (initial)`,
	`CREATE TABLE IF NOT EXISTS transcriptions (
	id VARCHAR(37) NOT NULL PRIMARY KEY,
	element_id VARCHAR(37) NOT NULL REFERENCES elements (id),
	text TEXT NOT NULL,
	confidence REAL NOT NULL,
	worker_version_id VARCHAR(37) NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_transcriptions_element_id ON transcriptions (element_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transcriptions_worker_version_id ON transcriptions (worker_version_id)`,
}

// requiredTables must exist in any store that takes part in a merge.
var requiredTables = []string{"images", "elements", "transcriptions"}

// CreateSchema creates the tables and indices if they are missing.
func (s *Store) CreateSchema(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range schemaStatements {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "create_schema").
			Build()
	}

	s.log.Debug("cache schema ready", logger.String("path", s.path))
	return nil
}

// SchemaSQL returns the stored DDL of every table and index, ordered by name.
func (s *Store) SchemaSQL(ctx context.Context) ([]string, error) {
	var stmts []string
	err := s.db.WithContext(ctx).
		Raw(`SELECT sql FROM sqlite_master WHERE sql IS NOT NULL ORDER BY type, name`).
		Scan(&stmts).Error
	if err != nil {
		return nil, errors.New(err).
			Component("cache").
			Category(errors.CategoryDatabase).
			Context("operation", "read_schema").
			Build()
	}
	return stmts, nil
}
