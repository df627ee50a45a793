package db

import (
	"fmt"

	"github.com/blacktop/deodex/internal/model"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sqlite is a database that stores the hierarchy in a sqlite database.
type Sqlite struct {
	URL string
	// Config
	BatchSize int

	db *gorm.DB
}

// NewSqlite creates a new Sqlite database.
func NewSqlite(path string, batchSize int) (Database, error) {
	if path == "" {
		return nil, fmt.Errorf("'path' is required")
	}
	return &Sqlite{
		URL:       path,
		BatchSize: batchSize,
	}, nil
}

// Connect connects to the database.
func (s *Sqlite) Connect() (err error) {
	s.db, err = gorm.Open(sqlite.Open(s.URL), &gorm.Config{
		CreateBatchSize:        s.BatchSize,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect sqlite database: %w", err)
	}
	return migrate(s.db)
}

// Save replaces the stored hierarchy with defs.
func (s *Sqlite) Save(defs *classpath.Definitions) error {
	return saveDefinitions(s.db, defs)
}

// Get returns the class with the given descriptor.
// It returns ErrNotFound if the class does not exist.
func (s *Sqlite) Get(name string) (*model.Class, error) {
	return getClass(s.db, name)
}

// Load returns the stored hierarchy.
func (s *Sqlite) Load() (*classpath.Definitions, error) {
	return loadDefinitions(s.db)
}

// Close closes the database.
func (s *Sqlite) Close() error {
	return closeDB(s.db)
}
