package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"snapkeep/internal/catalog/migrations"
	"snapkeep/internal/snapkeep"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a catalog that lives only as long as the process.
const MemoryPath = ":memory:"

// SQLite indexes snapshot manifests by file path and blob hash.
// It is derived data: Rebuild recreates it from the manifests on disk.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ snapkeep.Catalog = (*SQLite)(nil)

// Open opens (or creates) the catalog at path and migrates it to the
// current schema. path can be a file path or MemoryPath.
func Open(path string) (*SQLite, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrations.CheckStatus(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection with foreign keys enabled.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// One connection: every :memory: connection is a separate database, and
	// SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Path returns the location the catalog was opened with.
func (s *SQLite) Path() string {
	return s.path
}

// Record indexes m, replacing any earlier entry with the same ID.
func (s *SQLite) Record(m *snapkeep.SnapshotManifest) error {
	return s.inTx(func(tx *sql.Tx) error {
		return insertManifest(tx, m)
	})
}

// Remove drops the entry for id. Unknown IDs are ignored.
func (s *SQLite) Remove(id string) error {
	if _, err := s.db.ExecContext(context.Background(), `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing %s from catalog: %w", id, err)
	}
	return nil
}

// SnapshotIDsForFile returns the IDs of every indexed snapshot containing
// path, newest first. limit <= 0 means no limit.
func (s *SQLite) SnapshotIDsForFile(path string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT s.id
		FROM snapshot_files f
		JOIN snapshots s ON s.id = f.snapshot_id
		WHERE f.path = ?
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT ?`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("querying file history: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning file history: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BlobReferenceCounts returns how many snapshot files reference each blob.
func (s *SQLite) BlobReferenceCounts() (map[string]int, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT blob_hash, COUNT(*) FROM snapshot_files GROUP BY blob_hash`)
	if err != nil {
		return nil, fmt.Errorf("counting blob references: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var hash string
		var n int
		if err := rows.Scan(&hash, &n); err != nil {
			return nil, fmt.Errorf("scanning blob references: %w", err)
		}
		counts[hash] = n
	}
	return counts, rows.Err()
}

// Count returns the number of indexed snapshots.
func (s *SQLite) Count() (int, error) {
	var n int
	if err := s.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting catalog snapshots: %w", err)
	}
	return n, nil
}

// Rebuild replaces the whole index with manifests in one transaction.
func (s *SQLite) Rebuild(manifests []*snapkeep.SnapshotManifest) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM snapshots`); err != nil {
			return fmt.Errorf("clearing catalog: %w", err)
		}
		for _, m := range manifests {
			if err := insertManifest(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("beginning catalog transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog transaction: %w", err)
	}
	return nil
}

func insertManifest(tx *sql.Tx, m *snapkeep.SnapshotManifest) error {
	var sessionID sql.NullString
	if m.Metadata != nil && m.Metadata.SessionID != "" {
		sessionID = sql.NullString{String: m.Metadata.SessionID, Valid: true}
	}

	if _, err := tx.Exec(`DELETE FROM snapshots WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("replacing %s in catalog: %w", m.ID, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO snapshots (id, created_at, name, trigger_kind, session_id) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.CreatedAt.UnixMilli(), m.Name, string(m.Trigger), sessionID,
	); err != nil {
		return fmt.Errorf("recording %s in catalog: %w", m.ID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO snapshot_files (snapshot_id, path, blob_hash, original_size) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing catalog insert: %w", err)
	}
	defer stmt.Close()

	for path, ref := range m.Files {
		if _, err := stmt.Exec(m.ID, path, ref.BlobHash, ref.OriginalSize); err != nil {
			return fmt.Errorf("recording %s:%s in catalog: %w", m.ID, path, err)
		}
	}
	return nil
}
