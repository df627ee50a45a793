package deodex

import (
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/deodex/internal/config"
	"github.com/blacktop/deodex/internal/db"
	"github.com/blacktop/deodex/pkg/classpath"
)

// Hierarchy is an opened class hierarchy source
type Hierarchy struct {
	Oracle classpath.Oracle
	// ClassPath is set for the in-process sources
	ClassPath *classpath.ClassPath

	close func() error
}

// Close releases the source
func (h *Hierarchy) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// OpenHierarchy opens the class hierarchy source named by conf
func OpenHierarchy(conf *config.Config) (*Hierarchy, error) {
	src := conf.Source()
	log.WithField("source", src.String()).Debug("Opening class hierarchy")

	switch src {
	case config.RemoteSource:
		r, err := classpath.NewRemote(conf.Oracle.Host, conf.Oracle.Port, conf.Oracle.CacheSize)
		if err != nil {
			return nil, err
		}
		return &Hierarchy{Oracle: r, close: r.Close}, nil
	case config.ClassPathSource:
		cp, err := classpath.LoadFile(conf.ClassPath)
		if err != nil {
			return nil, err
		}
		return &Hierarchy{Oracle: cp, ClassPath: cp}, nil
	case config.SnapshotSource:
		d, err := db.Open(conf.DB)
		if err != nil {
			return nil, err
		}
		return fromSnapshot(d)
	case config.PostgresSource:
		d, err := db.NewPostgres(
			conf.Database.Host,
			conf.Database.Port,
			conf.Database.User,
			conf.Database.Password,
			conf.Database.Name,
			conf.Database.SSLMode,
		)
		if err != nil {
			return nil, err
		}
		if err := d.Connect(); err != nil {
			return nil, err
		}
		return fromSnapshot(d)
	}
	return nil, fmt.Errorf("no class hierarchy given (use --classpath, --db or --host)")
}

func fromSnapshot(d db.Database) (*Hierarchy, error) {
	defer d.Close()
	cp, err := db.LoadClassPath(d)
	if err != nil {
		return nil, fmt.Errorf("failed to load class hierarchy snapshot: %w", err)
	}
	return &Hierarchy{Oracle: cp, ClassPath: cp}, nil
}

// InlineResolver picks the execute-inline table: the one served by the oracle if it has one,
// otherwise the built in table of the given odex version.
func InlineResolver(o classpath.Oracle, version int) (classpath.InlineResolver, error) {
	methods, err := o.InlineMethods()
	if err != nil {
		return nil, fmt.Errorf("failed to get inline table: %w", err)
	}
	if len(methods) > 0 {
		log.WithField("methods", len(methods)).Debug("Using inline table from class hierarchy")
		return classpath.NewInlineTable(methods), nil
	}
	return classpath.NewInlineResolver(version)
}
