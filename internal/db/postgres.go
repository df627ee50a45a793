package db

import (
	"fmt"

	"github.com/blacktop/deodex/internal/model"
	"github.com/blacktop/deodex/pkg/classpath"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres is a database that stores the hierarchy in a Postgres database.
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string

	db *gorm.DB
}

// NewPostgres creates a new Postgres database.
func NewPostgres(host, port, user, password, database, sslmode string) (Database, error) {
	if host == "" || port == "" || user == "" || database == "" {
		return nil, fmt.Errorf("'host', 'port', 'user' and 'database' are required")
	}
	if sslmode == "" {
		sslmode = "disable"
	}
	return &Postgres{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Database: database,
		SSLMode:  sslmode,
	}, nil
}

// Connect connects to the database.
func (p *Postgres) Connect() (err error) {
	p.db, err = gorm.Open(postgres.Open(fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Database, p.Password, p.SSLMode,
	)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect postgres database: %w", err)
	}
	return migrate(p.db)
}

// Save replaces the stored hierarchy with defs.
func (p *Postgres) Save(defs *classpath.Definitions) error {
	return saveDefinitions(p.db, defs)
}

// Get returns the class with the given descriptor.
// It returns ErrNotFound if the class does not exist.
func (p *Postgres) Get(name string) (*model.Class, error) {
	return getClass(p.db, name)
}

// Load returns the stored hierarchy.
func (p *Postgres) Load() (*classpath.Definitions, error) {
	return loadDefinitions(p.db)
}

// Close closes the database.
func (p *Postgres) Close() error {
	return closeDB(p.db)
}
