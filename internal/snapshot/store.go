package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"snapkeep/internal/fsutil"
	"snapkeep/internal/snapkeep"
)

// forFileLookback bounds how many of the most recent manifests GetForFile reads.
const forFileLookback = 100

// Store persists snapshot manifests as <dir>/<id>.json and their file
// contents in a BlobStore.
type Store struct {
	dir    string
	blobs  snapkeep.BlobStore
	clock  snapkeep.Clock
	ids    snapkeep.IDGenerator
	logger snapkeep.Logger
}

var _ snapkeep.SnapshotStore = (*Store)(nil)

// NewStore creates a snapshot store writing manifests under dir.
func NewStore(dir string, blobs snapkeep.BlobStore, clock snapkeep.Clock, ids snapkeep.IDGenerator, logger snapkeep.Logger) (*Store, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if logger == nil {
		logger = snapkeep.NewNopLogger()
	}
	return &Store{dir: dir, blobs: blobs, clock: clock, ids: ids, logger: logger}, nil
}

// Create stores every file's content as a blob and then writes the manifest.
// The manifest is only written once all of its blobs exist.
func (s *Store) Create(files map[string][]byte, opts snapkeep.CreateSnapshotOptions) (*snapkeep.SnapshotManifest, error) {
	if !opts.Trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", snapkeep.ErrInvalidTrigger, opts.Trigger)
	}

	refs := make(map[string]snapkeep.FileRef, len(files))
	for path, content := range files {
		res, err := s.blobs.Store(content)
		if err != nil {
			return nil, fmt.Errorf("storing %s: %w", path, err)
		}
		refs[path] = snapkeep.FileRef{BlobHash: res.Hash, OriginalSize: res.Size}
	}

	now := s.clock.Now()
	m := &snapkeep.SnapshotManifest{
		ID:        snapkeep.NewID(snapkeep.PrefixSnapshot, now, s.ids),
		CreatedAt: now.UTC(),
		Name:      opts.Name,
		Trigger:   opts.Trigger,
		Files:     refs,
		Metadata:  opts.Metadata,
	}
	if m.Metadata != nil && m.Metadata.Version == 0 {
		meta := *m.Metadata
		meta.Version = snapkeep.SnapshotMetadataVersion
		m.Metadata = &meta
	}

	if err := fsutil.WriteJSON(s.path(m.ID), m); err != nil {
		return nil, fmt.Errorf("writing snapshot manifest: %w", err)
	}

	s.logger.Debug("snapshot created", "id", m.ID, "files", len(refs))
	return m, nil
}

// Get returns the manifest with the given ID, or nil if there is none.
func (s *Store) Get(id string) (*snapkeep.SnapshotManifest, error) {
	if !snapkeep.ValidID(id, snapkeep.PrefixSnapshot) {
		return nil, nil
	}
	var m snapkeep.SnapshotManifest
	found, err := fsutil.ReadJSON(s.path(id), &m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", snapkeep.ErrUnreadableManifest, id, err)
	}
	if !found {
		return nil, nil
	}
	return &m, nil
}

// GetWithContent resolves every blob of the snapshot. Files whose blob is
// missing are left out of Files and listed in Missing.
func (s *Store) GetWithContent(id string) (*snapkeep.SnapshotContent, error) {
	m, err := s.Get(id)
	if err != nil || m == nil {
		return nil, err
	}

	sc := &snapkeep.SnapshotContent{
		Manifest: m,
		Files:    make(map[string][]byte, len(m.Files)),
	}
	for path, ref := range m.Files {
		content, found, err := s.blobs.Retrieve(ref.BlobHash)
		if err != nil {
			return nil, fmt.Errorf("retrieving %s: %w", path, err)
		}
		if !found {
			s.logger.Warn("blob missing for snapshot file", "snapshot", id, "path", path, "hash", ref.BlobHash)
			sc.Missing = append(sc.Missing, path)
			continue
		}
		sc.Files[path] = content
	}
	sort.Strings(sc.Missing)
	return sc, nil
}

// List returns manifests newest first. Time bounds are checked against the
// timestamp embedded in each ID before any manifest is read.
func (s *Store) List(filter snapkeep.SnapshotFilter) ([]*snapkeep.SnapshotManifest, error) {
	ids, err := snapkeep.ListIDs(s.dir, snapkeep.PrefixSnapshot)
	if err != nil {
		return nil, err
	}

	var out []*snapkeep.SnapshotManifest
	for _, id := range ids {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		at := snapkeep.IDTime(id)
		if !filter.After.IsZero() && !at.After(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && !at.Before(filter.Before) {
			continue
		}

		m, err := s.Get(id)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot manifest", "id", id, "error", err)
			continue
		}
		if m == nil {
			// Deleted between listing and reading.
			continue
		}
		if filter.Trigger != "" && m.Trigger != filter.Trigger {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Delete removes the manifest only. Blobs it referenced are left for GC.
func (s *Store) Delete(id string) (bool, error) {
	if !snapkeep.ValidID(id, snapkeep.PrefixSnapshot) {
		return false, nil
	}
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return true, nil
}

// GetForFile returns the snapshots containing path, newest first, looking
// only at the most recent manifests.
func (s *Store) GetForFile(path string, limit int) ([]*snapkeep.SnapshotManifest, error) {
	recent, err := s.List(snapkeep.SnapshotFilter{Limit: forFileLookback})
	if err != nil {
		return nil, err
	}

	var out []*snapkeep.SnapshotManifest
	for _, m := range recent {
		if !m.HasFile(path) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of manifests on disk.
func (s *Store) Count() (int, error) {
	ids, err := snapkeep.ListIDs(s.dir, snapkeep.PrefixSnapshot)
	return len(ids), err
}

// Walk calls fn for every readable manifest, newest first.
func (s *Store) Walk(fn func(*snapkeep.SnapshotManifest) error) (int, error) {
	ids, err := snapkeep.ListIDs(s.dir, snapkeep.PrefixSnapshot)
	if err != nil {
		return 0, err
	}

	skipped := 0
	for _, id := range ids {
		m, err := s.Get(id)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot manifest", "id", id, "error", err)
			skipped++
			continue
		}
		if m == nil {
			continue
		}
		if err := fn(m); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, snapkeep.ManifestFile(id))
}
