package blob

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snapkeep/internal/fsutil"
	"snapkeep/internal/snapkeep"
	"snapkeep/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "blobs"), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestStore_Store(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{name: "text content", content: []byte("console.log(1)")},
		{name: "empty content", content: []byte{}},
		{name: "binary content", content: []byte{0x00, 0xff, 0x10, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)

			res, err := s.Store(tt.content)
			if err != nil {
				t.Fatalf("Store() error = %v", err)
			}
			if res.Hash != fsutil.HashContent(tt.content) {
				t.Errorf("Hash = %q, want %q", res.Hash, fsutil.HashContent(tt.content))
			}
			if res.Size != int64(len(tt.content)) {
				t.Errorf("Size = %d, want %d", res.Size, len(tt.content))
			}
			if !res.IsNew {
				t.Error("first store should report IsNew")
			}

			path := filepath.Join(s.Root(), res.Hash[:2], res.Hash[2:4], res.Hash)
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("blob not at sharded path: %v", err)
			}
			if !bytes.Equal(data, tt.content) {
				t.Errorf("stored content = %q, want %q", data, tt.content)
			}
		})
	}
}

func TestStore_Dedup(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Store([]byte("same"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	second, err := s.Store([]byte("same"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if first.Hash != second.Hash {
		t.Errorf("hashes differ: %q vs %q", first.Hash, second.Hash)
	}
	if second.IsNew {
		t.Error("second store of identical content should not be new")
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestStore_ModTimeFollowsClock(t *testing.T) {
	clock := testutil.FixedClock()
	s, err := NewStore(filepath.Join(t.TempDir(), "blobs"), clock)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	res, err := s.Store([]byte("reused"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	path := filepath.Join(s.Root(), res.Hash[:2], res.Hash[2:4], res.Hash)
	modTime := func() time.Time {
		t.Helper()
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat blob: %v", err)
		}
		return info.ModTime()
	}

	if got := modTime(); !got.Equal(clock.Now()) {
		t.Errorf("new blob mtime = %v, want %v", got, clock.Now())
	}

	t.Run("dedup hit refreshes mtime", func(t *testing.T) {
		old := clock.Now().Add(-2 * time.Hour)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)

		again, err := s.Store([]byte("reused"))
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if again.IsNew {
			t.Error("second store should not report IsNew")
		}
		if got := modTime(); !got.Equal(clock.Now()) {
			t.Errorf("mtime after dedup = %v, want %v", got, clock.Now())
		}
	})

	t.Run("walk reports the refreshed mtime", func(t *testing.T) {
		var seen time.Time
		s.Walk(func(info snapkeep.BlobInfo) error {
			seen = info.ModTime
			return nil
		})
		if !seen.Equal(clock.Now()) {
			t.Errorf("Walk() ModTime = %v, want %v", seen, clock.Now())
		}
	})
}

func TestStore_Retrieve(t *testing.T) {
	s := newTestStore(t)
	res, _ := s.Store([]byte("hello"))

	t.Run("existing blob", func(t *testing.T) {
		data, found, err := s.Retrieve(res.Hash)
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if !found || string(data) != "hello" {
			t.Errorf("Retrieve() = %q, %v", data, found)
		}
	})

	t.Run("missing blob is not an error", func(t *testing.T) {
		_, found, err := s.Retrieve(fsutil.HashContent([]byte("nope")))
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if found {
			t.Error("expected found=false")
		}
	})

	t.Run("invalid hash is treated as missing", func(t *testing.T) {
		_, found, err := s.Retrieve("../../etc/passwd")
		if err != nil || found {
			t.Errorf("Retrieve() = %v, %v; want not found, nil", found, err)
		}
	})

	t.Run("empty blob is distinguishable from missing", func(t *testing.T) {
		empty, _ := s.Store(nil)
		data, found, err := s.Retrieve(empty.Hash)
		if err != nil || !found || len(data) != 0 {
			t.Errorf("Retrieve(empty) = %q, %v, %v", data, found, err)
		}
	})
}

func TestStore_ExistsAndDelete(t *testing.T) {
	s := newTestStore(t)
	res, _ := s.Store([]byte("to delete"))

	if ok, _ := s.Exists(res.Hash); !ok {
		t.Fatal("Exists() = false after Store")
	}

	removed, err := s.Delete(res.Hash)
	if err != nil || !removed {
		t.Fatalf("Delete() = %v, %v", removed, err)
	}
	if ok, _ := s.Exists(res.Hash); ok {
		t.Error("Exists() = true after Delete")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), res.Hash[:2])); !os.IsNotExist(err) {
		t.Error("empty shard directory should be pruned")
	}

	removed, err = s.Delete(res.Hash)
	if err != nil {
		t.Fatalf("Delete() of missing blob error = %v", err)
	}
	if removed {
		t.Error("Delete() of missing blob should report false")
	}
}

func TestStore_TotalSizeAndCount(t *testing.T) {
	s := newTestStore(t)
	s.Store([]byte("aaaa"))
	s.Store([]byte("bb"))
	s.Store([]byte("bb"))

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}

	total, err := s.TotalSize()
	if err != nil {
		t.Fatalf("TotalSize() error = %v", err)
	}
	if total != 6 {
		t.Errorf("TotalSize() = %d, want 6", total)
	}
}

func TestStore_WalkIgnoresTempFiles(t *testing.T) {
	s := newTestStore(t)
	res, _ := s.Store([]byte("kept"))

	// Simulate a write interrupted before its rename.
	shard := filepath.Join(s.Root(), res.Hash[:2], res.Hash[2:4])
	if err := os.WriteFile(filepath.Join(shard, ".tmp-123456"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(s.Root(), "README"), []byte("stray"), 0644)

	var seen []snapkeep.BlobInfo
	if err := s.Walk(func(info snapkeep.BlobInfo) error {
		seen = append(seen, info)
		return nil
	}); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if len(seen) != 1 || seen[0].Hash != res.Hash {
		t.Errorf("Walk() saw %+v, want only %s", seen, res.Hash)
	}
	if seen[0].Size != 4 {
		t.Errorf("Size = %d, want 4", seen[0].Size)
	}
}

func TestStore_EmptyStore(t *testing.T) {
	s := &Store{root: filepath.Join(t.TempDir(), "never-created")}

	count, err := s.Count()
	if err != nil || count != 0 {
		t.Errorf("Count() = %d, %v", count, err)
	}
	total, err := s.TotalSize()
	if err != nil || total != 0 {
		t.Errorf("TotalSize() = %d, %v", total, err)
	}
}
