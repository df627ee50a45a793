package db

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/deodex/internal/model"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/pkg/errors"
)

func isGob(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gob")
}

// Memory is a database that keeps the hierarchy in memory and persists it as a gob file.
type Memory struct {
	Classes map[string]*model.Class
	Inline  []string
	Path    string

	order []string
}

type memorySnapshot struct {
	Classes []classpath.ClassDef
	Inline  []string
}

// NewInMemory creates a new in-memory database.
func NewInMemory(path string) (Database, error) {
	if path == "" {
		return nil, errors.New("'path' is required")
	}
	return &Memory{
		Classes: make(map[string]*model.Class),
		Path:    path,
	}, nil
}

// Connect reads the gob file at Path if it exists.
func (m *Memory) Connect() error {
	f, err := os.Open(m.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	var snap memorySnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return errors.Wrapf(err, "failed to decode %s", m.Path)
	}
	m.set(&classpath.Definitions{Classes: snap.Classes, Inline: snap.Inline})
	return nil
}

func (m *Memory) set(defs *classpath.Definitions) {
	m.Classes = make(map[string]*model.Class, len(defs.Classes))
	m.order = m.order[:0]
	for _, def := range defs.Classes {
		m.Classes[def.Name] = model.NewClass(def)
		m.order = append(m.order, def.Name)
	}
	m.Inline = append([]string(nil), defs.Inline...)
}

// Save replaces the stored hierarchy with defs.
func (m *Memory) Save(defs *classpath.Definitions) error {
	m.set(defs)
	return nil
}

// Get returns the class with the given descriptor.
// It returns ErrNotFound if the class does not exist.
func (m *Memory) Get(name string) (*model.Class, error) {
	c, ok := m.Classes[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	return c, nil
}

// Load returns the stored hierarchy.
func (m *Memory) Load() (*classpath.Definitions, error) {
	if len(m.Classes) == 0 {
		return nil, model.ErrEmpty
	}
	defs := &classpath.Definitions{Inline: append([]string(nil), m.Inline...)}
	for _, name := range m.order {
		defs.Classes = append(defs.Classes, m.Classes[name].ClassDef())
	}
	return defs, nil
}

// Close writes the hierarchy back to Path.
func (m *Memory) Close() error {
	defs, err := m.Load()
	if errors.Is(err, model.ErrEmpty) {
		return nil
	} else if err != nil {
		return err
	}
	f, err := os.Create(m.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(memorySnapshot{Classes: defs.Classes, Inline: defs.Inline})
}
