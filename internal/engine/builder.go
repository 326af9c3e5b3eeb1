// Package engine assembles the concrete stores behind a snapkeep.Manager.
package engine

import (
	"fmt"
	"path/filepath"

	"snapkeep/internal/audit"
	"snapkeep/internal/blob"
	"snapkeep/internal/catalog"
	"snapkeep/internal/session"
	"snapkeep/internal/snapkeep"
	"snapkeep/internal/snapshot"
)

// Catalog types.
const (
	CatalogSQLite = "sqlite"
	CatalogMemory = "memory"
	CatalogNone   = "none"
)

// Storage root layout.
const (
	BlobsDir     = "blobs"
	SnapshotsDir = "snapshots"
	SessionsDir  = "sessions"
	CatalogFile  = "catalog.db"
)

// Config selects the implementations NewBuilder wires together.
type Config struct {
	// CatalogType is one of CatalogSQLite, CatalogMemory, or CatalogNone.
	// Empty means CatalogNone.
	CatalogType string
	// CatalogPath overrides <root>/catalog.db for CatalogSQLite.
	CatalogPath string

	Clock  snapkeep.Clock
	IDs    snapkeep.IDGenerator
	Logger snapkeep.Logger
}

// NewBuilder returns a ComponentBuilder that lays the stores out under the
// storage root. A catalog that fails to open is logged and left out; the
// manifests remain the source of truth.
func NewBuilder(cfg Config) snapkeep.ComponentBuilder {
	if cfg.Clock == nil {
		cfg.Clock = snapkeep.RealClock{}
	}
	if cfg.IDs == nil {
		cfg.IDs = snapkeep.UUIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = snapkeep.NewNopLogger()
	}

	return func(root string, rec snapkeep.Recorder) (*snapkeep.Components, error) {
		raw, err := blob.NewStore(filepath.Join(root, BlobsDir), cfg.Clock)
		if err != nil {
			return nil, err
		}
		blobs := snapkeep.InstrumentBlobStore(raw, rec)

		snapshots, err := snapshot.NewStore(filepath.Join(root, SnapshotsDir), blobs, cfg.Clock, cfg.IDs, cfg.Logger)
		if err != nil {
			return nil, err
		}

		sessions, err := session.NewStore(filepath.Join(root, SessionsDir), cfg.Clock, cfg.IDs, cfg.Logger)
		if err != nil {
			return nil, err
		}

		auditLog, err := audit.Open(root, cfg.Clock, cfg.IDs, cfg.Logger)
		if err != nil {
			return nil, err
		}

		comps := &snapkeep.Components{
			Blobs:     blobs,
			Snapshots: snapshots,
			Sessions:  sessions,
			Audit:     auditLog,
		}

		cat, err := openCatalog(root, cfg)
		if err != nil {
			cfg.Logger.Warn("catalog unavailable, continuing without it", "type", cfg.CatalogType, "error", err)
		} else if cat != nil {
			// Assigned only when non-nil so Components.Catalog stays a nil interface.
			comps.Catalog = cat
		}
		return comps, nil
	}
}

func openCatalog(root string, cfg Config) (*catalog.SQLite, error) {
	switch cfg.CatalogType {
	case "", CatalogNone:
		return nil, nil
	case CatalogMemory:
		return catalog.Open(catalog.MemoryPath)
	case CatalogSQLite:
		path := cfg.CatalogPath
		if path == "" {
			path = filepath.Join(root, CatalogFile)
		}
		return catalog.Open(path)
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.CatalogType)
	}
}
