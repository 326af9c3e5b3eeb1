package snapkeep

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"snapkeep/internal/fsutil"
)

// MetadataFile is the name of the storage metadata record under the root.
const MetadataFile = "storage.json"

// ManagerSettings are the tunables of a Manager. Zero values select defaults.
type ManagerSettings struct {
	// SweepInterval is how often expired cooldowns are evicted.
	SweepInterval time.Duration
	// DefaultCooldown is used by SetCooldown when no duration is given.
	DefaultCooldown time.Duration
	// AuditMaxBytes is the rotation threshold used by RotateAudit.
	AuditMaxBytes int64
	// GCGracePeriod protects blobs younger than this from collection.
	GCGracePeriod time.Duration
}

const (
	DefaultSweepInterval   = time.Minute
	DefaultCooldown        = 5 * time.Minute
	DefaultAuditMaxBytes   = 10 << 20
	DefaultGCGracePeriod   = time.Hour
	defaultFileHistorySize = 50
)

func (s ManagerSettings) withDefaults() ManagerSettings {
	if s.SweepInterval <= 0 {
		s.SweepInterval = DefaultSweepInterval
	}
	if s.DefaultCooldown <= 0 {
		s.DefaultCooldown = DefaultCooldown
	}
	if s.AuditMaxBytes <= 0 {
		s.AuditMaxBytes = DefaultAuditMaxBytes
	}
	if s.GCGracePeriod <= 0 {
		s.GCGracePeriod = DefaultGCGracePeriod
	}
	return s
}

// Manager is the single entry point to the storage engine. Initialize is
// cheap: it only starts the cooldown cache and schedules the metadata write.
// The blob, snapshot, session, and audit stores are built together on the
// first operation that needs them.
type Manager struct {
	root     string
	build    ComponentBuilder
	cooldown CooldownCache
	clock    Clock
	logger   Logger
	rec      Recorder
	settings ManagerSettings

	mu          sync.Mutex
	initialized bool
	comps       *Components
	metaDone    chan struct{}

	// sessions outlives Dispose so an active session survives a restart
	// of the manager within the process.
	sessions SessionStore

	// gcMu is held shared while a snapshot is created and exclusively while
	// garbage is collected, so no blob is swept between being stored and
	// being referenced by its manifest.
	gcMu sync.RWMutex
}

// NewManager creates a manager for the storage root. Nothing touches the
// disk until Initialize.
func NewManager(root string, build ComponentBuilder, cooldown CooldownCache, clock Clock, logger Logger, rec Recorder, settings ManagerSettings) *Manager {
	if logger == nil {
		logger = NewNopLogger()
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Manager{
		root:     root,
		build:    build,
		cooldown: cooldown,
		clock:    clock,
		logger:   logger,
		rec:      rec,
		settings: settings.withDefaults(),
	}
}

// Root returns the storage root.
func (m *Manager) Root() string {
	return m.root
}

// Settings returns the effective settings.
func (m *Manager) Settings() ManagerSettings {
	return m.settings
}

// Initialize prepares the storage root, starts the cooldown sweep, and
// writes storage.json in the background if it is absent. It does not build
// the heavy stores. Calling it again is a no-op.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	if err := fsutil.EnsureDir(m.root); err != nil {
		// The first heavy operation reports the real failure.
		m.logger.Warn("could not create storage root", "root", m.root, "error", err)
	}

	m.cooldown.Start(m.settings.SweepInterval)

	done := make(chan struct{})
	m.metaDone = done
	go func() {
		defer close(done)
		if err := m.ensureMetadata(); err != nil {
			m.logger.Warn("storage metadata initialization failed", "error", err)
		}
	}()

	m.initialized = true
	m.logger.Debug("storage manager initialized", "root", m.root)
	return nil
}

// ComponentsReady reports whether the heavy stores have been built.
func (m *Manager) ComponentsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.comps != nil
}

// components builds the heavy stores on first use. A failed build is retried
// on the next call.
func (m *Manager) components() (*Components, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if m.comps != nil {
		return m.comps, nil
	}

	start := time.Now()
	c, err := m.build(m.root, m.rec)
	if err != nil {
		return nil, fmt.Errorf("initializing storage components: %w", err)
	}
	if m.sessions != nil {
		c.Sessions = m.sessions
	} else {
		m.sessions = c.Sessions
	}
	m.comps = c
	m.logger.Debug("storage components initialized", "elapsed", time.Since(start))
	return c, nil
}

// Dispose stops the cooldown sweep, waits for the background metadata
// write, closes the audit writer and catalog, and marks the manager
// uninitialized. Cooldown entries and the active session are kept in memory
// and are visible again after the next Initialize.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}

	m.cooldown.Stop()
	if m.metaDone != nil {
		<-m.metaDone
		m.metaDone = nil
	}

	var firstErr error
	if m.comps != nil {
		if err := m.comps.Audit.Close(); err != nil {
			firstErr = fmt.Errorf("closing audit log: %w", err)
		}
		if m.comps.Catalog != nil {
			if err := m.comps.Catalog.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing catalog: %w", err)
			}
		}
		m.comps = nil
	}

	m.initialized = false
	m.logger.Debug("storage manager disposed")
	return firstErr
}

// Blob operations

func (m *Manager) StoreBlob(content []byte) (StoreResult, error) {
	c, err := m.components()
	if err != nil {
		return StoreResult{}, err
	}
	return c.Blobs.Store(content)
}

func (m *Manager) RetrieveBlob(hash string) ([]byte, bool, error) {
	c, err := m.components()
	if err != nil {
		return nil, false, err
	}
	return c.Blobs.Retrieve(hash)
}

func (m *Manager) BlobExists(hash string) (bool, error) {
	c, err := m.components()
	if err != nil {
		return false, err
	}
	return c.Blobs.Exists(hash)
}

func (m *Manager) BlobCount() (int, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	return c.Blobs.Count()
}

func (m *Manager) BlobTotalSize() (int64, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	return c.Blobs.TotalSize()
}

// DeleteBlob removes a blob regardless of references. Prefer CollectGarbage.
func (m *Manager) DeleteBlob(hash string) (bool, error) {
	c, err := m.components()
	if err != nil {
		return false, err
	}
	return c.Blobs.Delete(hash)
}

// Snapshot operations

// CreateSnapshot stores files as a new snapshot and indexes it in the catalog.
func (m *Manager) CreateSnapshot(files map[string][]byte, opts CreateSnapshotOptions) (*SnapshotManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	m.gcMu.RLock()
	manifest, err := c.Snapshots.Create(files, opts)
	m.gcMu.RUnlock()
	if err != nil {
		return nil, err
	}
	m.rec.SnapshotCreated()

	if c.Catalog != nil {
		if err := c.Catalog.Record(manifest); err != nil {
			m.logger.Warn("catalog record failed", "snapshot", manifest.ID, "error", err)
		}
	}
	return manifest, nil
}

func (m *Manager) SnapshotCount() (int, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	return c.Snapshots.Count()
}

func (m *Manager) GetSnapshot(id string) (*SnapshotManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Snapshots.Get(id)
}

func (m *Manager) GetSnapshotWithContent(id string) (*SnapshotContent, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Snapshots.GetWithContent(id)
}

func (m *Manager) ListSnapshots(filter SnapshotFilter) ([]*SnapshotManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Snapshots.List(filter)
}

// DeleteSnapshot removes the manifest. Its blobs stay until CollectGarbage.
func (m *Manager) DeleteSnapshot(id string) (bool, error) {
	c, err := m.components()
	if err != nil {
		return false, err
	}
	removed, err := c.Snapshots.Delete(id)
	if err != nil || !removed {
		return removed, err
	}
	if c.Catalog != nil {
		if err := c.Catalog.Remove(id); err != nil {
			m.logger.Warn("catalog remove failed", "snapshot", id, "error", err)
		}
	}
	return true, nil
}

// GetSnapshotsForFile searches only the most recent snapshots.
func (m *Manager) GetSnapshotsForFile(path string, limit int) ([]*SnapshotManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Snapshots.GetForFile(path, limit)
}

// FileHistory returns every snapshot containing path, newest first, using
// the catalog when one is configured. Without a catalog it falls back to
// the bounded search of GetSnapshotsForFile.
func (m *Manager) FileHistory(path string, limit int) ([]*SnapshotManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultFileHistorySize
	}
	if c.Catalog == nil {
		return c.Snapshots.GetForFile(path, limit)
	}

	ids, err := c.Catalog.SnapshotIDsForFile(path, limit)
	if err != nil {
		m.logger.Warn("catalog history lookup failed, scanning manifests", "path", path, "error", err)
		return c.Snapshots.GetForFile(path, limit)
	}

	out := make([]*SnapshotManifest, 0, len(ids))
	for _, id := range ids {
		manifest, err := c.Snapshots.Get(id)
		if err != nil {
			m.logger.Warn("skipping unreadable snapshot in history", "id", id, "error", err)
			continue
		}
		if manifest == nil {
			// Deleted outside the manager; the catalog is stale.
			continue
		}
		out = append(out, manifest)
	}
	return out, nil
}

// Reindex rebuilds the catalog from the manifests on disk and returns the
// number of snapshots indexed.
func (m *Manager) Reindex() (int, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	if c.Catalog == nil {
		return 0, ErrCatalogDisabled
	}

	var manifests []*SnapshotManifest
	skipped, err := c.Snapshots.Walk(func(sm *SnapshotManifest) error {
		manifests = append(manifests, sm)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if skipped > 0 {
		m.logger.Warn("unreadable manifests left out of catalog", "count", skipped)
	}
	if err := c.Catalog.Rebuild(manifests); err != nil {
		return 0, err
	}
	m.logger.Info("catalog rebuilt", "snapshots", len(manifests))
	return len(manifests), nil
}

// Session operations

func (m *Manager) StartSession() (string, error) {
	c, err := m.components()
	if err != nil {
		return "", err
	}
	return c.Sessions.Start(), nil
}

func (m *Manager) ActiveSession() (string, bool, error) {
	c, err := m.components()
	if err != nil {
		return "", false, err
	}
	id, ok := c.Sessions.Active()
	return id, ok, nil
}

func (m *Manager) FinalizeSession(reason EndReason, files []SessionFile, opts FinalizeOptions) (*FinalizeResult, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Sessions.Finalize(reason, files, opts)
}

func (m *Manager) CancelSession() (bool, error) {
	c, err := m.components()
	if err != nil {
		return false, err
	}
	return c.Sessions.Cancel(), nil
}

func (m *Manager) ListSessions(filter SessionFilter) ([]*SessionManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Sessions.List(filter)
}

func (m *Manager) GetSession(id string) (*SessionManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Sessions.Get(id)
}

func (m *Manager) MostRecentSession() (*SessionManifest, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Sessions.MostRecent()
}

func (m *Manager) TotalSessionDuration() (time.Duration, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	return c.Sessions.TotalDuration()
}

func (m *Manager) SessionCount() (int, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	return c.Sessions.Count()
}

// Audit operations

func (m *Manager) AppendAudit(in AuditInput) (*AuditEntry, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	entry, err := c.Audit.Append(in)
	if err != nil {
		return nil, err
	}
	m.rec.AuditAppended(entry.Action)
	return entry, nil
}

func (m *Manager) AuditEntries(limit int) ([]*AuditEntry, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Audit.All(limit)
}

func (m *Manager) AuditForFile(path string, limit int) ([]*AuditEntry, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Audit.ForFile(path, limit)
}

func (m *Manager) AuditByAction(action AuditAction, limit int) ([]*AuditEntry, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Audit.ByAction(action, limit)
}

func (m *Manager) AuditInRange(after, before time.Time, limit int) ([]*AuditEntry, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Audit.InRange(after, before, limit)
}

func (m *Manager) AuditCount() (int, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	return c.Audit.Count()
}

// AuditSize returns the size of the live audit log in bytes.
func (m *Manager) AuditSize() (int64, error) {
	c, err := m.components()
	if err != nil {
		return 0, err
	}
	return c.Audit.Size()
}

// AuditArchives lists rotated audit logs, oldest first.
func (m *Manager) AuditArchives() ([]string, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	return c.Audit.Archives()
}

// RotateAudit archives the audit log when it exceeds maxBytes, or the
// configured threshold when maxBytes <= 0.
func (m *Manager) RotateAudit(maxBytes int64) (string, error) {
	c, err := m.components()
	if err != nil {
		return "", err
	}
	if maxBytes <= 0 {
		maxBytes = m.settings.AuditMaxBytes
	}
	return c.Audit.RotateIfNeeded(maxBytes)
}

// Cooldown operations. These never touch the disk and work without the
// heavy stores.

// SetCooldown starts a cooldown; d <= 0 uses the configured default.
func (m *Manager) SetCooldown(filePath string, level ProtectionLevel, d time.Duration, action, snapshotID string) CooldownEntry {
	if d <= 0 {
		d = m.settings.DefaultCooldown
	}
	return m.cooldown.Set(filePath, level, d, action, snapshotID)
}

func (m *Manager) GetCooldown(filePath string, level ProtectionLevel) (CooldownEntry, bool) {
	return m.cooldown.Get(filePath, level)
}

func (m *Manager) IsInCooldown(filePath string, level ProtectionLevel) bool {
	return m.cooldown.IsInCooldown(filePath, level)
}

func (m *Manager) CooldownRemaining(filePath string, level ProtectionLevel) time.Duration {
	return m.cooldown.RemainingTime(filePath, level)
}

func (m *Manager) RemoveCooldown(filePath string, level ProtectionLevel) bool {
	return m.cooldown.Remove(filePath, level)
}

func (m *Manager) ClearCooldowns() {
	m.cooldown.Clear()
}

func (m *Manager) ActiveCooldowns() []CooldownEntry {
	return m.cooldown.All()
}

// RemoveExpiredCooldowns runs one expiry sweep and returns how many entries it evicted.
func (m *Manager) RemoveExpiredCooldowns() int {
	return m.cooldown.RemoveExpired()
}

func (m *Manager) metadataPath() string {
	return filepath.Join(m.root, MetadataFile)
}
