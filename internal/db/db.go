// Package db provides a class hierarchy snapshot store and its implementations.
package db

import (
	"github.com/blacktop/deodex/internal/model"
	"github.com/blacktop/deodex/pkg/classpath"
)

// Database is the interface that wraps the hierarchy snapshot operations.
type Database interface {
	// Connect connects to the database.
	Connect() error

	// Save replaces the stored hierarchy with defs.
	Save(defs *classpath.Definitions) error

	// Get returns the class with the given descriptor.
	// It returns model.ErrNotFound if the class does not exist.
	Get(name string) (*model.Class, error)

	// Load returns the stored hierarchy.
	// It returns model.ErrEmpty if nothing was saved.
	Load() (*classpath.Definitions, error)

	// Close closes the database.
	Close() error
}

// Open connects to the snapshot at path, picking the backend from the file extension
// (".gob" for the in-memory store, sqlite otherwise).
func Open(path string) (Database, error) {
	var (
		d   Database
		err error
	)
	if isGob(path) {
		d, err = NewInMemory(path)
	} else {
		d, err = NewSqlite(path, 100)
	}
	if err != nil {
		return nil, err
	}
	if err := d.Connect(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadClassPath links the hierarchy stored in d.
func LoadClassPath(d Database) (*classpath.ClassPath, error) {
	defs, err := d.Load()
	if err != nil {
		return nil, err
	}
	var inline []classpath.InlineMethod
	for _, s := range defs.Inline {
		m, err := classpath.ParseInlineMethod(s)
		if err != nil {
			return nil, err
		}
		inline = append(inline, m)
	}
	return classpath.New(defs.Classes, inline)
}
