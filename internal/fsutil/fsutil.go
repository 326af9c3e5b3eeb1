// Package fsutil holds the crash-safe persistence primitives shared by every
// store: content hashing, shard path mapping, and write-via-temp-then-rename.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirMode is the permission used for every directory the engine creates.
	DirMode os.FileMode = 0755
	// FileMode is the permission used for every file the engine writes.
	FileMode os.FileMode = 0644

	// TempPattern is the name pattern of in-flight writes. A file matching it
	// is never a complete blob or manifest.
	TempPattern = ".tmp-*"

	hashLen = sha256.Size * 2
)

// HashContent returns the lowercase hex SHA-256 digest of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ValidHash reports whether hash is a lowercase hex SHA-256 digest.
func ValidHash(hash string) bool {
	if len(hash) != hashLen {
		return false
	}
	for _, r := range hash {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// ShardPath maps a digest to root/<h0h1>/<h2h3>/<hash>.
// Two levels give 65,536 buckets, which bounds directory fan-out.
func ShardPath(root, hash string) (string, error) {
	if !ValidHash(hash) {
		return "", fmt.Errorf("shard path for %q: not a sha256 hex digest", hash)
	}
	return filepath.Join(root, hash[:2], hash[2:4], hash), nil
}

// EnsureDir creates dir and any missing parents. An existing directory is not an error.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// WriteFileAtomic writes data to destPath using a temp file in the same
// directory followed by a rename, so destPath is never observable with
// partial content. The parent directory must exist.
func WriteFileAtomic(destPath string, data []byte) error {
	return WriteFileAtomicMode(destPath, data, FileMode)
}

// WriteFileAtomicMode is WriteFileAtomic with an explicit file mode.
func WriteFileAtomicMode(destPath string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, TempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// ReadJSON decodes the JSON file at path into v.
// found is false, with no error, when the file does not exist.
func ReadJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", path, err)
	}
	return true, nil
}

// WriteJSON atomically writes v to path as 2-space indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data)
}

// RemoveEmptyParents removes empty directories from filepath.Dir(path) upward,
// stopping at stop or at the first directory that is not empty.
func RemoveEmptyParents(path, stop string) {
	stop = filepath.Clean(stop)
	parent := filepath.Dir(path)
	for parent != stop && parent != "." && parent != string(filepath.Separator) {
		entries, err := os.ReadDir(parent)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(parent); err != nil {
			break
		}
		parent = filepath.Dir(parent)
	}
}
