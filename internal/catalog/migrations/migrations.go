// Package migrations owns the catalog schema. The SQL lives in files/ and is
// applied from the embedded copy with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

const migrationDir = "files"

// requiredTables are the tables the catalog reads and writes.
var requiredTables = []string{"snapshots", "snapshot_files"}

// Status describes the schema of a catalog database.
type Status struct {
	// Version is the applied migration, 0 when none has run.
	Version uint
	Dirty   bool
	// Latest is the newest migration embedded in this binary.
	Latest uint
	// Missing lists required tables that do not exist.
	Missing []string
}

// ReadStatus reports the schema state of db.
func ReadStatus(db *sql.DB) (Status, error) {
	latest, err := LatestVersion()
	if err != nil {
		return Status{}, err
	}
	st := Status{Latest: latest}

	m, err := newMigrate(db)
	if err != nil {
		return st, err
	}
	// m is not closed: closing it closes db, which the caller owns.
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return st, fmt.Errorf("failed to get catalog version: %w", err)
	default:
		st.Version, st.Dirty = version, dirty
	}

	st.Missing, err = missingTables(db)
	return st, err
}

// CheckStatus returns nil when the catalog is at the embedded schema version
// with every required table present, and an error naming the problem otherwise.
func CheckStatus(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	switch {
	case st.Dirty:
		return fmt.Errorf("catalog is in dirty state at version %d (migration failed previously)", st.Version)
	case st.Version == 0:
		return errors.New("catalog has no schema version (needs migration)")
	case st.Version < st.Latest:
		return fmt.Errorf("catalog is at version %d but latest is %d", st.Version, st.Latest)
	case st.Version > st.Latest:
		return fmt.Errorf("catalog version %d is ahead of binary version %d (binary needs update)", st.Version, st.Latest)
	case len(st.Missing) > 0:
		return fmt.Errorf("catalog at version %d is missing tables: %s", st.Version, strings.Join(st.Missing, ", "))
	}
	return nil
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// LatestVersion returns the highest version among the embedded up migrations,
// read from the numeric prefix of each file name.
func LatestVersion() (uint, error) {
	names, err := fs.Glob(migrationFiles, migrationDir+"/*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("listing migrations: %w", err)
	}

	var latest uint
	for _, name := range names {
		prefix, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			return 0, fmt.Errorf("migration %s has no version prefix", name)
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("migration %s: bad version: %w", name, err)
		}
		latest = max(latest, uint(v))
	}
	if latest == 0 {
		return 0, errors.New("no catalog migrations embedded")
	}
	return latest, nil
}

func missingTables(db *sql.DB) ([]string, error) {
	var missing []string
	for _, table := range requiredTables {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("checking table %s: %w", table, err)
		}
		if n == 0 {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, migrationDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create catalog migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
