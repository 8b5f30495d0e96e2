// persistence/open.go
package persistence

import (
	"fmt"

	"github.com/wfunc/xoserver/config"
)

// Open picks a backend by driver. DriverNone yields a nil Database and the
// server runs without archiving.
func Open(cfg config.DatabaseConfig) (Database, error) {
	switch cfg.Driver {
	case config.DriverNone, "":
		return nil, nil
	case config.DriverPostgres:
		return NewGormPostgreSQL(cfg.Postgres)
	case config.DriverSQLite:
		return NewGormSQLite(cfg.SQLite.Path)
	case config.DriverPQ:
		return NewPostgreSQL(cfg.Postgres)
	default:
		return nil, fmt.Errorf("persistence: unknown driver %q", cfg.Driver)
	}
}
