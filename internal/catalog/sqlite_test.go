package catalog

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"snapkeep/internal/snapkeep"
)

func newTestCatalog(t *testing.T) *SQLite {
	t.Helper()
	c, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func manifest(id string, at time.Time, files map[string]string) *snapkeep.SnapshotManifest {
	refs := make(map[string]snapkeep.FileRef, len(files))
	for path, hash := range files {
		refs[path] = snapkeep.FileRef{BlobHash: hash, OriginalSize: int64(len(hash))}
	}
	return &snapkeep.SnapshotManifest{
		ID:        id,
		CreatedAt: at,
		Name:      id,
		Trigger:   snapkeep.TriggerAuto,
		Files:     refs,
		Metadata:  &snapkeep.SnapshotMetadata{Version: 1, SessionID: "sess-1-000001"},
	}
}

func TestSQLite_RecordAndQuery(t *testing.T) {
	c := newTestCatalog(t)
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	c.Record(manifest("snap-1-000001", base, map[string]string{"a.go": "h1", "b.go": "h2"}))
	c.Record(manifest("snap-2-000002", base.Add(time.Minute), map[string]string{"a.go": "h3"}))
	c.Record(manifest("snap-3-000003", base.Add(2*time.Minute), map[string]string{"b.go": "h2"}))

	ids, err := c.SnapshotIDsForFile("a.go", 0)
	if err != nil {
		t.Fatalf("SnapshotIDsForFile() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"snap-2-000002", "snap-1-000001"}) {
		t.Errorf("SnapshotIDsForFile(a.go) = %v", ids)
	}

	limited, _ := c.SnapshotIDsForFile("a.go", 1)
	if !reflect.DeepEqual(limited, []string{"snap-2-000002"}) {
		t.Errorf("SnapshotIDsForFile(a.go, 1) = %v", limited)
	}

	counts, err := c.BlobReferenceCounts()
	if err != nil {
		t.Fatalf("BlobReferenceCounts() error = %v", err)
	}
	want := map[string]int{"h1": 1, "h2": 2, "h3": 1}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("BlobReferenceCounts() = %v, want %v", counts, want)
	}

	if n, _ := c.Count(); n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestSQLite_RecordReplaces(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	c.Record(manifest("snap-1-000001", now, map[string]string{"a.go": "h1"}))
	if err := c.Record(manifest("snap-1-000001", now, map[string]string{"b.go": "h2"})); err != nil {
		t.Fatalf("Record() again error = %v", err)
	}

	if ids, _ := c.SnapshotIDsForFile("a.go", 0); len(ids) != 0 {
		t.Errorf("stale file rows remain: %v", ids)
	}
	if n, _ := c.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestSQLite_Remove(t *testing.T) {
	c := newTestCatalog(t)
	c.Record(manifest("snap-1-000001", time.Now(), map[string]string{"a.go": "h1"}))

	if err := c.Remove("snap-1-000001"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := c.Remove("snap-1-000001"); err != nil {
		t.Errorf("Remove() of unknown id error = %v", err)
	}

	counts, _ := c.BlobReferenceCounts()
	if len(counts) != 0 {
		t.Errorf("file rows should cascade, got %v", counts)
	}
}

func TestSQLite_Rebuild(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()
	c.Record(manifest("snap-1-000001", now, map[string]string{"old.go": "h0"}))

	err := c.Rebuild([]*snapkeep.SnapshotManifest{
		manifest("snap-2-000002", now, map[string]string{"a.go": "h1"}),
		manifest("snap-3-000003", now, map[string]string{"a.go": "h1"}),
	})
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	if n, _ := c.Count(); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
	if ids, _ := c.SnapshotIDsForFile("old.go", 0); len(ids) != 0 {
		t.Errorf("Rebuild should drop old entries, got %v", ids)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	c.Record(manifest("snap-1-000001", time.Now(), map[string]string{"a.go": "h1"}))
	c.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if n, _ := reopened.Count(); n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q", reopened.Path())
	}
}
