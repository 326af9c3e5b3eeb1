package snapkeep

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ID prefixes. IDs have the form <prefix>-<unixMillis>-<suffix> and contain
// no characters that are unsafe in file names.
const (
	PrefixSnapshot = "snap"
	PrefixSession  = "sess"
	PrefixAudit    = "audit"
)

// manifestExt is the file extension of persisted snapshot and session manifests.
const manifestExt = ".json"

// NewID builds an entity ID for the given prefix and creation time.
func NewID(prefix string, at time.Time, gen IDGenerator) string {
	return fmt.Sprintf("%s-%d-%s", prefix, at.UnixMilli(), gen.New())
}

// ParseID splits an ID into its prefix and embedded timestamp.
// ok is false when id is not a well-formed ID.
func ParseID(id string) (prefix string, at time.Time, ok bool) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || millis < 0 {
		return "", time.Time{}, false
	}
	for _, r := range parts[2] {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'z') {
			return "", time.Time{}, false
		}
	}
	return parts[0], time.UnixMilli(millis), true
}

// ValidID reports whether id is well formed and carries the given prefix.
func ValidID(id, prefix string) bool {
	p, _, ok := ParseID(id)
	return ok && p == prefix
}

// IDTime returns the timestamp embedded in id, or the zero time if id is malformed.
func IDTime(id string) time.Time {
	_, at, _ := ParseID(id)
	return at
}

// SortNewestFirst orders IDs by their embedded timestamp, newest first.
// IDs created in the same millisecond are ordered by their full string, descending.
func SortNewestFirst(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		ti, tj := IDTime(ids[i]), IDTime(ids[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ids[i] > ids[j]
	})
}

// ListIDs returns the IDs of the manifests stored in dir that carry prefix,
// newest first. Only directory entries are read, never manifest contents.
// A missing directory yields an empty list.
func ListIDs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, manifestExt) {
			continue
		}
		id := strings.TrimSuffix(name, manifestExt)
		if !ValidID(id, prefix) {
			continue
		}
		ids = append(ids, id)
	}

	SortNewestFirst(ids)
	return ids, nil
}

// ManifestFile returns the file name used to persist the manifest with the given ID.
func ManifestFile(id string) string {
	return id + manifestExt
}
