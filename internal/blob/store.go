package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"snapkeep/internal/fsutil"
	"snapkeep/internal/snapkeep"
)

// Store is a filesystem-based, content-addressable implementation of the
// snapkeep.BlobStore interface. Blobs are laid out as:
//
//	<root>/
//	  <h0h1>/
//	    <h2h3>/
//	      <sha256>     (raw content, named by its digest)
//
// A blob's modification time records when it was last stored, by the
// store's clock. Garbage collection relies on it to spare blobs that a
// snapshot still being written has just stored or deduplicated against.
type Store struct {
	root  string
	clock snapkeep.Clock
}

var _ snapkeep.BlobStore = (*Store)(nil)

// NewStore creates a blob store rooted at the given directory, creating it if needed.
// A nil clock uses the system time.
func NewStore(root string, clock snapkeep.Clock) (*Store, error) {
	if err := fsutil.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if clock == nil {
		clock = snapkeep.RealClock{}
	}
	return &Store{root: root, clock: clock}, nil
}

// Root returns the directory the store writes under.
func (s *Store) Root() string {
	return s.root
}

// Store writes content under its digest unless a blob with that digest
// already exists, in which case only its modification time is refreshed.
// Concurrent stores of the same content are safe: both writers produce
// identical bytes and the final rename is atomic.
func (s *Store) Store(content []byte) (snapkeep.StoreResult, error) {
	hash := fsutil.HashContent(content)
	res := snapkeep.StoreResult{Hash: hash, Size: int64(len(content))}

	destPath, err := fsutil.ShardPath(s.root, hash)
	if err != nil {
		return res, err
	}

	now := s.clock.Now()
	err = os.Chtimes(destPath, now, now)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return res, fmt.Errorf("touching blob %s: %w", hash, err)
	}

	if err := fsutil.EnsureDir(filepath.Dir(destPath)); err != nil {
		return res, err
	}
	if err := fsutil.WriteFileAtomic(destPath, content); err != nil {
		return res, fmt.Errorf("storing blob %s: %w", hash, err)
	}
	if err := os.Chtimes(destPath, now, now); err != nil {
		return res, fmt.Errorf("stamping blob %s: %w", hash, err)
	}

	res.IsNew = true
	return res, nil
}

// Retrieve returns the content stored under hash. A missing blob, or a hash
// that is not a valid digest, is reported as found=false.
func (s *Store) Retrieve(hash string) ([]byte, bool, error) {
	path, err := fsutil.ShardPath(s.root, hash)
	if err != nil {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading blob %s: %w", hash, err)
	}
	return data, true, nil
}

// Exists reports whether a blob with the given hash is stored.
func (s *Store) Exists(hash string) (bool, error) {
	path, err := fsutil.ShardPath(s.root, hash)
	if err != nil {
		return false, nil
	}
	return fsutil.Exists(path)
}

// Delete removes the blob and prunes shard directories left empty.
func (s *Store) Delete(hash string) (bool, error) {
	path, err := fsutil.ShardPath(s.root, hash)
	if err != nil {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("deleting blob %s: %w", hash, err)
	}
	fsutil.RemoveEmptyParents(path, s.root)
	return true, nil
}

// TotalSize returns the sum of all blob sizes in bytes.
func (s *Store) TotalSize() (int64, error) {
	var total int64
	err := s.Walk(func(info snapkeep.BlobInfo) error {
		total += info.Size
		return nil
	})
	return total, err
}

// Count returns the number of stored blobs.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.Walk(func(snapkeep.BlobInfo) error {
		n++
		return nil
	})
	return n, err
}

// Walk visits every blob in the two-level shard tree. In-flight temp files
// and anything not named by a digest are ignored.
func (s *Store) Walk(fn func(snapkeep.BlobInfo) error) error {
	level1, err := readDirs(s.root)
	if err != nil {
		return err
	}
	for _, d1 := range level1 {
		dir1 := filepath.Join(s.root, d1)
		level2, err := readDirs(dir1)
		if err != nil {
			return err
		}
		for _, d2 := range level2 {
			dir2 := filepath.Join(dir1, d2)
			entries, err := os.ReadDir(dir2)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return fmt.Errorf("reading shard %s: %w", dir2, err)
			}
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() || strings.HasPrefix(name, ".tmp-") || !fsutil.ValidHash(name) {
					continue
				}
				if name[:2] != d1 || name[2:4] != d2 {
					continue
				}
				info, err := e.Info()
				if err != nil {
					// Removed between ReadDir and Info.
					continue
				}
				if err := fn(snapkeep.BlobInfo{Hash: name, Size: info.Size(), ModTime: info.ModTime()}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// readDirs returns the names of the two-character shard directories in dir.
// A missing directory yields no names.
func readDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading shard directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == 2 {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
