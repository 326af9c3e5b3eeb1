package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
)

// IgnoreFile is the per-workspace pattern file read by Collect.
const IgnoreFile = ".snapkeepignore"

// rule is one parsed ignore line.
type rule struct {
	glob     string
	anchored bool // contains '/': matched against the whole relative path
	dirOnly  bool // trailing '/': matches directories only
	negate   bool // leading '!': re-includes what an earlier rule excluded
}

// Matcher decides which workspace paths are left out of a snapshot.
//
// Patterns follow a small subset of gitignore: a pattern without '/' matches
// the basename at any depth, a pattern with '/' matches the path from the
// workspace root, a trailing '/' restricts it to directories, and a leading
// '!' negates it. The last matching pattern wins.
type Matcher struct {
	rules []rule
}

// NewMatcher parses raw pattern lines. Blank lines and '#' comments are skipped.
func NewMatcher(lines []string) *Matcher {
	var rules []rule
	for _, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var r rule
		if strings.HasPrefix(raw, "!") {
			r.negate = true
			raw = raw[1:]
		}
		if strings.HasSuffix(raw, "/") {
			r.dirOnly = true
			raw = strings.TrimRight(raw, "/")
		}
		raw = strings.TrimPrefix(raw, "/")
		if raw == "" {
			continue
		}
		r.glob = raw
		r.anchored = strings.Contains(raw, "/")
		rules = append(rules, r)
	}
	return &Matcher{rules: rules}
}

// Match reports whether rel, a slash-separated path relative to the
// workspace root, is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if rel == "" {
		return false
	}
	base := path.Base(rel)

	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		target := base
		if r.anchored {
			target = rel
		}
		ok, err := path.Match(r.glob, target)
		if err != nil || !ok {
			continue
		}
		ignored = !r.negate
	}
	return ignored
}

// ReadIgnoreFile returns the raw lines of an ignore file, or nil if it
// does not exist.
func ReadIgnoreFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
