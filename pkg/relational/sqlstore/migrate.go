package sqlstore

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrate brings the schema up to date using the embedded migrations for the
// store's driver.
func (s *Store) migrate() error {
	var (
		dbDriver database.Driver
		dir      string
		err      error
	)

	switch s.driver {
	case "postgres":
		dbDriver, err = migratepostgres.WithInstance(s.db.DB, &migratepostgres.Config{})
		dir = "migrations/postgres"
	case "sqlite3":
		dbDriver, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
		dir = "migrations/sqlite"
	default:
		return errors.Wrap(errors.ErrConfiguration, "unsupported driver %s", s.driver)
	}
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to prepare migration driver")
	}

	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to load embedded migrations")
	}

	m, err := migrate.NewWithInstance("iofs", source, s.driver, dbDriver)
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to create migrator")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(errors.ErrRelationalOp, "failed to apply migrations")
	}

	log.Debug("Applied relational schema migrations", "driver", s.driver)
	return nil
}
