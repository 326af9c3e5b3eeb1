// Package fs reads a workspace directory into the file map a snapshot is
// built from.
package fs

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
)

// alwaysIgnored are applied before config and .snapkeepignore patterns.
var alwaysIgnored = []string{".git/", ".hg/", ".svn/"}

// Collect walks root and returns the contents of every regular file that is
// not ignored, keyed by slash-separated path relative to root. Symlinks,
// devices, pipes, and sockets are skipped. patterns are combined with the
// lines of root/.snapkeepignore.
func Collect(root string, patterns []string) (map[string][]byte, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace is not a directory: %s", abs)
	}

	fileLines, err := ReadIgnoreFile(filepath.Join(abs, IgnoreFile))
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(alwaysIgnored)+len(patterns)+len(fileLines))
	lines = append(lines, alwaysIgnored...)
	lines = append(lines, patterns...)
	lines = append(lines, fileLines...)
	matcher := NewMatcher(lines)

	files := make(map[string][]byte)
	err = filepath.WalkDir(abs, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == abs {
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel, false) {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		files[rel] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}
	return files, nil
}
