package sqlite

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite/migrations"
)

func (s *Store) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("sqlite: migration source: %w", err)
	}
	db, err := msqlite.WithInstance(s.db, &msqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite: migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite", db)
}

// ApplyMigrations brings the schema up to date. Running it against a
// current schema is a no-op.
func (s *Store) ApplyMigrations() error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migrate up: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration and whether a previous run
// stopped halfway.
func (s *Store) SchemaVersion() (version uint, dirty bool, err error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
