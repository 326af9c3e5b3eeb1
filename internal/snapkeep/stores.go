package snapkeep

import "time"

// BlobStore is content-addressable storage of raw file bytes.
// Retrieve reports a missing blob as found=false rather than an error,
// because a manifest can outlive its blob.
type BlobStore interface {
	Store(content []byte) (StoreResult, error)
	Retrieve(hash string) (content []byte, found bool, err error)
	Exists(hash string) (bool, error)

	// Delete removes a blob. Missing blobs are ignored; the result reports
	// whether anything was removed.
	Delete(hash string) (bool, error)

	// TotalSize and Count walk the whole shard tree. Use for periodic stats only.
	TotalSize() (int64, error)
	Count() (int, error)

	// Walk calls fn for every stored blob in unspecified order.
	Walk(fn func(BlobInfo) error) error
}

// SnapshotStore persists snapshot manifests on top of a BlobStore.
// Get and GetWithContent return nil with no error for unknown IDs.
type SnapshotStore interface {
	Create(files map[string][]byte, opts CreateSnapshotOptions) (*SnapshotManifest, error)
	Get(id string) (*SnapshotManifest, error)
	GetWithContent(id string) (*SnapshotContent, error)
	List(filter SnapshotFilter) ([]*SnapshotManifest, error)
	Delete(id string) (bool, error)
	GetForFile(path string, limit int) ([]*SnapshotManifest, error)
	Count() (int, error)

	// Walk calls fn for every readable manifest. Unreadable manifests are
	// skipped and counted in the returned skipped value.
	Walk(fn func(*SnapshotManifest) error) (skipped int, err error)
}

// SessionStore owns the single active-session pointer and persists
// finalized sessions. Get and MostRecent return nil with no error when absent.
type SessionStore interface {
	Start() string
	Active() (id string, ok bool)
	Finalize(reason EndReason, files []SessionFile, opts FinalizeOptions) (*FinalizeResult, error)
	Cancel() bool
	List(filter SessionFilter) ([]*SessionManifest, error)
	Get(id string) (*SessionManifest, error)
	MostRecent() (*SessionManifest, error)
	TotalDuration() (time.Duration, error)
	Count() (int, error)
}

// AuditLog is the append-only event log. Queries return entries newest first;
// limit <= 0 means no limit.
type AuditLog interface {
	Append(in AuditInput) (*AuditEntry, error)
	All(limit int) ([]*AuditEntry, error)
	ForFile(path string, limit int) ([]*AuditEntry, error)
	ByAction(action AuditAction, limit int) ([]*AuditEntry, error)
	InRange(after, before time.Time, limit int) ([]*AuditEntry, error)
	Count() (int, error)
	Size() (int64, error)

	// RotateIfNeeded archives the log when it exceeds maxBytes and returns
	// the archive path, or "" when no rotation happened.
	RotateIfNeeded(maxBytes int64) (string, error)
	// Archives lists rotated logs, oldest first.
	Archives() ([]string, error)
	Close() error
}

// CooldownCache is an in-memory, never-persisted map of suppression windows.
type CooldownCache interface {
	Set(filePath string, level ProtectionLevel, d time.Duration, action, snapshotID string) CooldownEntry
	Get(filePath string, level ProtectionLevel) (CooldownEntry, bool)
	IsInCooldown(filePath string, level ProtectionLevel) bool
	RemainingTime(filePath string, level ProtectionLevel) time.Duration
	Remove(filePath string, level ProtectionLevel) bool
	Clear()
	RemoveExpired() int
	All() []CooldownEntry
	Size() int

	// Start begins the periodic expiry sweep; Stop ends it.
	Start(interval time.Duration)
	Stop()
}

// Catalog is an optional, rebuildable index over snapshot manifests.
// Manifests on disk remain the source of truth.
type Catalog interface {
	Record(m *SnapshotManifest) error
	Remove(id string) error
	SnapshotIDsForFile(path string, limit int) ([]string, error)
	BlobReferenceCounts() (map[string]int, error)
	Count() (int, error)
	Rebuild(manifests []*SnapshotManifest) error
	Close() error
}

// Components are the heavy stores the Manager initializes lazily.
// Catalog may be nil.
type Components struct {
	Blobs     BlobStore
	Snapshots SnapshotStore
	Sessions  SessionStore
	Audit     AuditLog
	Catalog   Catalog
}

// ComponentBuilder constructs the heavy stores under root.
// rec must be threaded into any blob store the snapshot store writes through.
type ComponentBuilder func(root string, rec Recorder) (*Components, error)
