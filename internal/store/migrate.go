package store

import (
	"errors"
	"fmt"

	"github.com/czeful/goalchat/internal/store/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrDirtySchema means a previous migration stopped halfway and needs manual repair.
var ErrDirtySchema = errors.New("store: schema is dirty")

// SchemaChange reports the schema version before and after Migrate.
type SchemaChange struct {
	From uint
	To   uint
}

// Applied reports whether Migrate ran at least one step.
func (c SchemaChange) Applied() bool { return c.From != c.To }

// Migrate brings the schema to the newest embedded version.
func (db *DB) Migrate() (SchemaChange, error) {
	m, err := db.migrator()
	if err != nil {
		return SchemaChange{}, err
	}
	from, err := schemaVersion(m)
	if err != nil {
		return SchemaChange{}, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaChange{From: from}, fmt.Errorf("store: migrate from v%d: %w", from, err)
	}
	to, err := schemaVersion(m)
	if err != nil {
		return SchemaChange{From: from}, err
	}
	return SchemaChange{From: from, To: to}, nil
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("store: embedded migrations: %w", err)
	}
	// The driver borrows db.DB; closing the migrator would close the pool.
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite3", drv)
}

func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("store: schema version: %w", err)
	case dirty:
		return v, fmt.Errorf("%w at v%d", ErrDirtySchema, v)
	}
	return v, nil
}
