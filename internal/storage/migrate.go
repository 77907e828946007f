package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationStatus reports the schema version after RunMigrations.
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Applied bool // false when the schema was already current
}

// RunMigrations applies all pending up migrations from migrationsDir and
// reports the resulting schema version. A dirty schema is an error: it needs
// manual repair before the server may touch session or ledger tables.
func RunMigrations(dbURL, migrationsDir string) (MigrationStatus, error) {
	m, err := migrate.New("file://"+migrationsDir, dbURL)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("creating migrate instance: %w", err)
	}
	defer m.Close() //nolint:errcheck

	status := MigrationStatus{Applied: true}
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationStatus{}, fmt.Errorf("running migrations: %w", err)
		}
		status.Applied = false
	}

	status.Version, status.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, fmt.Errorf("reading migration version: %w", err)
	}
	if status.Dirty {
		return status, fmt.Errorf("schema version %d is dirty", status.Version)
	}
	return status, nil
}
