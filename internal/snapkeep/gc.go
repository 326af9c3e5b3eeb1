package snapkeep

import (
	"fmt"
	"time"
)

// GCOptions control a garbage collection pass.
type GCOptions struct {
	// DryRun reports what would be removed without deleting anything.
	DryRun bool
	// GracePeriod protects blobs stored or deduplicated against more
	// recently than this, so a Create in another process that has stored
	// blobs but not yet written its manifest is not raced. Zero uses the
	// configured grace period.
	GracePeriod time.Duration
}

// GCReport summarizes a garbage collection pass.
type GCReport struct {
	DryRun     bool
	Manifests  int
	Scanned    int
	Referenced int
	TooRecent  int
	Removed    int
	BytesFreed int64
	// CatalogStale is set when the catalog references blobs that no
	// manifest on disk does. Reindex fixes it.
	CatalogStale bool
}

type gcCandidate struct {
	hash string
	size int64
}

// CollectGarbage removes blobs no snapshot manifest references. It refuses
// to run while any manifest is unreadable, since the blobs of an unreadable
// manifest cannot be marked.
func (m *Manager) CollectGarbage(opts GCOptions) (*GCReport, error) {
	c, err := m.components()
	if err != nil {
		return nil, err
	}
	m.gcMu.Lock()
	defer m.gcMu.Unlock()

	grace := opts.GracePeriod
	if grace <= 0 {
		grace = m.settings.GCGracePeriod
	}
	report := &GCReport{DryRun: opts.DryRun}

	// Mark.
	referenced := make(map[string]struct{})
	skipped, err := c.Snapshots.Walk(func(sm *SnapshotManifest) error {
		report.Manifests++
		for _, ref := range sm.Files {
			referenced[ref.BlobHash] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("marking referenced blobs: %w", err)
	}
	if skipped > 0 {
		return nil, fmt.Errorf("%w: %d manifest(s) could not be read, refusing to collect", ErrUnreadableManifest, skipped)
	}

	if c.Catalog != nil {
		counts, err := c.Catalog.BlobReferenceCounts()
		if err != nil {
			m.logger.Warn("catalog reference check failed", "error", err)
		}
		for hash := range counts {
			if _, ok := referenced[hash]; !ok {
				report.CatalogStale = true
				break
			}
		}
	}

	// Sweep.
	cutoff := m.clock.Now().Add(-grace)
	var candidates []gcCandidate
	err = c.Blobs.Walk(func(info BlobInfo) error {
		report.Scanned++
		if _, ok := referenced[info.Hash]; ok {
			report.Referenced++
			return nil
		}
		if info.ModTime.After(cutoff) {
			report.TooRecent++
			return nil
		}
		candidates = append(candidates, gcCandidate{hash: info.Hash, size: info.Size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning blobs: %w", err)
	}

	for _, cand := range candidates {
		if opts.DryRun {
			report.Removed++
			report.BytesFreed += cand.size
			continue
		}
		removed, err := c.Blobs.Delete(cand.hash)
		if err != nil {
			return report, fmt.Errorf("removing blob %s: %w", cand.hash, err)
		}
		if removed {
			report.Removed++
			report.BytesFreed += cand.size
		}
	}

	if !opts.DryRun {
		m.rec.BlobsCollected(report.Removed)
	}
	m.logger.Info("garbage collection finished",
		"dry_run", opts.DryRun, "scanned", report.Scanned, "removed", report.Removed,
		"bytes_freed", report.BytesFreed, "too_recent", report.TooRecent)
	if report.CatalogStale {
		m.logger.Warn("catalog references blobs with no manifest; run reindex")
	}
	return report, nil
}
