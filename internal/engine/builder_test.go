package engine

import (
	"os"
	"path/filepath"
	"testing"

	"snapkeep/internal/snapkeep"
	"snapkeep/internal/testutil"
)

func TestNewBuilder(t *testing.T) {
	tests := []struct {
		name        string
		catalogType string
		wantCatalog bool
	}{
		{name: "no catalog", catalogType: "", wantCatalog: false},
		{name: "explicit none", catalogType: CatalogNone, wantCatalog: false},
		{name: "memory catalog", catalogType: CatalogMemory, wantCatalog: true},
		{name: "sqlite catalog", catalogType: CatalogSQLite, wantCatalog: true},
		{name: "unknown catalog is skipped", catalogType: "postgres", wantCatalog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			build := NewBuilder(Config{
				CatalogType: tt.catalogType,
				Clock:       testutil.FixedClock(),
				IDs:         testutil.NewStubIDGenerator(),
			})

			comps, err := build(root, snapkeep.NopRecorder{})
			if err != nil {
				t.Fatalf("build() error = %v", err)
			}
			defer comps.Audit.Close()

			if (comps.Catalog != nil) != tt.wantCatalog {
				t.Errorf("Catalog present = %v, want %v", comps.Catalog != nil, tt.wantCatalog)
			}
			if comps.Catalog != nil {
				defer comps.Catalog.Close()
			}

			for _, dir := range []string{BlobsDir, SnapshotsDir, SessionsDir} {
				if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
					t.Errorf("%s not created: %v", dir, err)
				}
			}
			if tt.catalogType == CatalogSQLite {
				if _, err := os.Stat(filepath.Join(root, CatalogFile)); err != nil {
					t.Errorf("catalog file not created: %v", err)
				}
			}
		})
	}
}

func TestNewBuilder_SnapshotWritesThroughBlobs(t *testing.T) {
	root := t.TempDir()
	comps, err := NewBuilder(Config{})(root, snapkeep.NopRecorder{})
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer comps.Audit.Close()

	m, err := comps.Snapshots.Create(map[string][]byte{"a": []byte("x")}, snapkeep.CreateSnapshotOptions{Trigger: snapkeep.TriggerManual})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ok, _ := comps.Blobs.Exists(m.Files["a"].BlobHash); !ok {
		t.Error("snapshot blob not visible through Components.Blobs")
	}
}
