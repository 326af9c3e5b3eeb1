package snapkeep

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"snapkeep/internal/fsutil"
)

// RestoreResult reports what a restore wrote. Missing files had no blob;
// Rejected files had paths that would land outside the destination.
type RestoreResult struct {
	SnapshotID string
	Restored   []string
	Missing    []string
	Rejected   []string
}

// RestoreSnapshot writes every recoverable file of snapshot id under
// destRoot. A missing blob does not abort the restore; the file is reported
// in Missing. Returns nil when the snapshot does not exist.
func (m *Manager) RestoreSnapshot(id, destRoot string) (*RestoreResult, error) {
	sc, err := m.GetSnapshotWithContent(id)
	if err != nil || sc == nil {
		return nil, err
	}

	res := &RestoreResult{SnapshotID: id, Missing: sc.Missing}

	paths := make([]string, 0, len(sc.Files))
	for p := range sc.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		target, err := resolveUnder(destRoot, p)
		if err != nil {
			m.logger.Warn("refusing to restore file", "snapshot", id, "path", p, "error", err)
			res.Rejected = append(res.Rejected, p)
			continue
		}
		if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
			return res, err
		}
		if err := fsutil.WriteFileAtomic(target, sc.Files[p]); err != nil {
			return res, fmt.Errorf("restoring %s: %w", p, err)
		}
		res.Restored = append(res.Restored, p)
	}

	m.logger.Info("snapshot restored", "snapshot", id, "restored", len(res.Restored), "missing", len(res.Missing), "rejected", len(res.Rejected))
	return res, nil
}

// resolveUnder joins a snapshot-relative path onto root and rejects any
// result outside root.
func resolveUnder(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, rel)
	}
	root = filepath.Clean(root)
	target := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, target)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, rel)
	}
	return target, nil
}
