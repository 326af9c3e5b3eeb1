package snapkeep

import (
	"fmt"

	"snapkeep/internal/fsutil"
)

// ensureMetadata writes a fresh storage.json if none exists.
func (m *Manager) ensureMetadata() error {
	exists, err := fsutil.Exists(m.metadataPath())
	if err != nil || exists {
		return err
	}
	now := m.clock.Now().UTC()
	return fsutil.WriteJSON(m.metadataPath(), &StorageMetadata{
		Version:   StorageMetadataVersion,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// ReadMetadata returns the persisted storage metadata, or nil if none has
// been written yet.
func (m *Manager) ReadMetadata() (*StorageMetadata, error) {
	var md StorageMetadata
	found, err := fsutil.ReadJSON(m.metadataPath(), &md)
	if err != nil || !found {
		return nil, err
	}
	return &md, nil
}

// QuickStats counts manifests, sessions, and audit entries without walking
// the blob tree. Blob fields are left zero.
func (m *Manager) QuickStats() (StorageStats, error) {
	c, err := m.components()
	if err != nil {
		return StorageStats{}, err
	}

	var s StorageStats
	if s.SnapshotCount, err = c.Snapshots.Count(); err != nil {
		return s, fmt.Errorf("counting snapshots: %w", err)
	}
	if s.SessionCount, err = c.Sessions.Count(); err != nil {
		return s, fmt.Errorf("counting sessions: %w", err)
	}
	if s.AuditEntryCount, err = c.Audit.Count(); err != nil {
		return s, fmt.Errorf("counting audit entries: %w", err)
	}
	if s.AuditBytes, err = c.Audit.Size(); err != nil {
		return s, fmt.Errorf("sizing audit log: %w", err)
	}
	s.ActiveCooldowns = m.cooldown.Size()
	return s, nil
}

// RefreshStats recomputes every aggregate from the stores, including the
// blob count and total size, and persists the result to storage.json.
func (m *Manager) RefreshStats() (StorageStats, error) {
	s, err := m.QuickStats()
	if err != nil {
		return s, err
	}
	c, err := m.components()
	if err != nil {
		return s, err
	}

	if s.BlobCount, err = c.Blobs.Count(); err != nil {
		return s, fmt.Errorf("counting blobs: %w", err)
	}
	if s.TotalBlobBytes, err = c.Blobs.TotalSize(); err != nil {
		return s, fmt.Errorf("sizing blobs: %w", err)
	}

	now := m.clock.Now().UTC()
	md, err := m.ReadMetadata()
	if err != nil {
		m.logger.Warn("replacing unreadable storage metadata", "error", err)
		md = nil
	}
	if md == nil {
		md = &StorageMetadata{CreatedAt: now}
	}
	md.Version = StorageMetadataVersion
	md.UpdatedAt = now
	md.Stats = s
	if err := fsutil.WriteJSON(m.metadataPath(), md); err != nil {
		return s, fmt.Errorf("writing storage metadata: %w", err)
	}

	m.rec.StatsRefreshed(s)
	return s, nil
}
