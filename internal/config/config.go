// Package config is used to load the configuration file
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/viper"
)

// DefaultOdexVersion is the dex optimizer version whose inline table is used by default
const DefaultOdexVersion = 36

type oracle struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	CacheSize int    `json:"cache_size" mapstructure:"cache-size"`
}

type database struct {
	Name     string `json:"database" mapstructure:"database"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
}

type deodex struct {
	OdexVersion int  `json:"odex_version" mapstructure:"odex-version"`
	Workers     int  `json:"workers"`
	JSON        bool `json:"json"`
}

// Config is the configuration struct
type Config struct {
	// Oracle is a remote deodexerant style hierarchy server
	Oracle oracle `json:"oracle"`
	// ClassPath is a YAML class definition file
	ClassPath string `json:"classpath"`
	// DB is a hierarchy snapshot (sqlite, or gob with a .gob extension)
	DB       string   `json:"db"`
	Database database `json:"database"`
	Deodex   deodex   `json:"deodex"`
}

// Source names the configured class hierarchy source
type Source int

const (
	NoSource Source = iota
	RemoteSource
	ClassPathSource
	SnapshotSource
	PostgresSource
)

func (s Source) String() string {
	switch s {
	case RemoteSource:
		return "remote"
	case ClassPathSource:
		return "classpath"
	case SnapshotSource:
		return "snapshot"
	case PostgresSource:
		return "postgres"
	default:
		return "none"
	}
}

// Source returns the configured class hierarchy source. verify guarantees there is at most one.
func (c *Config) Source() Source {
	switch {
	case c.Oracle.Host != "":
		return RemoteSource
	case c.ClassPath != "":
		return ClassPathSource
	case c.DB != "":
		return SnapshotSource
	case c.Database.Host != "":
		return PostgresSource
	}
	return NoSource
}

func (c *Config) verify() error {
	if c.Oracle.Host != "" && c.Oracle.Port == 0 {
		return fmt.Errorf("config: port must be set if host is set")
	} else if c.Oracle.Host == "" && c.Oracle.Port != 0 {
		c.Oracle.Host = "localhost"
	}

	var sources []string
	if c.Oracle.Host != "" {
		sources = append(sources, "host")
	}
	if c.ClassPath != "" {
		sources = append(sources, "classpath")
	}
	if c.DB != "" {
		sources = append(sources, "db")
	}
	if c.Database.Host != "" {
		sources = append(sources, "database")
	}
	if len(sources) > 1 {
		return fmt.Errorf("config: only one class hierarchy source may be set, got %v", sources)
	}

	if c.Oracle.CacheSize < 0 {
		return fmt.Errorf("config: invalid oracle cache size %d", c.Oracle.CacheSize)
	}

	switch c.Deodex.OdexVersion {
	case 0:
		c.Deodex.OdexVersion = DefaultOdexVersion
	case 35, 36:
	default:
		return fmt.Errorf("config: unsupported odex version %d (supported: 35, 36)", c.Deodex.OdexVersion)
	}

	if c.Deodex.Workers == 0 {
		c.Deodex.Workers = runtime.NumCPU()
	} else if c.Deodex.Workers < 0 {
		return fmt.Errorf("config: invalid number of workers %d", c.Deodex.Workers)
	}

	return nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	var c *Config

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
