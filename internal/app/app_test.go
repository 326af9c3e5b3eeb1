package app

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"snapkeep/internal/config"
	"snapkeep/internal/export"
	"snapkeep/internal/snapkeep"
)

const testWorkFactor = 10

func newTestApp(t *testing.T) (*SnapkeepApp, string) {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("test-install", base)
	cfg.Catalog.Type = "memory"

	a, err := NewSnapkeepApp(cfg, "test", false)
	if err != nil {
		t.Fatalf("NewSnapkeepApp() error = %v", err)
	}
	a.workFactor = testWorkFactor
	a.keyring.SetWorkFactor(testWorkFactor)
	t.Cleanup(func() { a.Close() })
	return a, base
}

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestNewSnapkeepApp_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig("id", t.TempDir())
	cfg.Catalog.Type = "postgres"
	if _, err := NewSnapkeepApp(cfg, "test", false); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestSnapkeepApp_CreateAndRestore(t *testing.T) {
	a, _ := newTestApp(t)
	ws := writeWorkspace(t, map[string]string{
		"src/app.ts":          "export {}",
		"README.md":           "# demo",
		"node_modules/x/y.js": "ignored by default config",
	})

	m, err := a.CreateSnapshot(ws, "before refactor", "")
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	if m.Trigger != snapkeep.TriggerManual || m.Name != "before refactor" {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.Files) != 2 || !m.HasFile("src/app.ts") {
		t.Errorf("files = %v", m.Files)
	}

	dest := filepath.Join(t.TempDir(), "out")
	res, err := a.Restore(m.ID, dest)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(res.Restored) != 2 {
		t.Errorf("Restored = %v", res.Restored)
	}
	data, _ := os.ReadFile(filepath.Join(dest, "src", "app.ts"))
	if string(data) != "export {}" {
		t.Errorf("restored content = %q", data)
	}

	entries, err := a.AuditEntries(AuditQuery{})
	if err != nil {
		t.Fatalf("AuditEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != snapkeep.ActionSnapshotRestored || entries[1].Action != snapkeep.ActionSnapshotCreated {
		t.Errorf("audit actions = %s, %s", entries[0].Action, entries[1].Action)
	}
	if entries[1].Details["invocation"] != a.run.ID {
		t.Errorf("audit details = %v", entries[1].Details)
	}

	byAction, _ := a.AuditEntries(AuditQuery{Action: snapkeep.ActionSnapshotCreated})
	if len(byAction) != 1 {
		t.Errorf("AuditEntries(action) = %d, want 1", len(byAction))
	}
	if _, err := a.AuditEntries(AuditQuery{Action: "exploded"}); !errors.Is(err, snapkeep.ErrInvalidAction) {
		t.Errorf("AuditEntries(bad action) error = %v", err)
	}

	history, err := a.FileHistory("src/app.ts", 0)
	if err != nil || len(history) != 1 {
		t.Errorf("FileHistory() = %v, %v", history, err)
	}
}

func TestSnapkeepApp_NotFound(t *testing.T) {
	a, _ := newTestApp(t)

	if _, err := a.ShowSnapshot("snap-1-aaaaaa"); !errors.Is(err, snapkeep.ErrSnapshotNotFound) {
		t.Errorf("ShowSnapshot() error = %v", err)
	}
	if err := a.DeleteSnapshot("snap-1-aaaaaa"); !errors.Is(err, snapkeep.ErrSnapshotNotFound) {
		t.Errorf("DeleteSnapshot() error = %v", err)
	}
	if _, err := a.Restore("snap-1-aaaaaa", t.TempDir()); !errors.Is(err, snapkeep.ErrSnapshotNotFound) {
		t.Errorf("Restore() error = %v", err)
	}
	if _, err := a.Export("snap-1-aaaaaa", &bytes.Buffer{}, "pw"); !errors.Is(err, snapkeep.ErrSnapshotNotFound) {
		t.Errorf("Export() error = %v", err)
	}
	if _, err := a.ShowSession("sess-1-aaaaaa"); err == nil {
		t.Error("ShowSession() expected error")
	}
}

func TestSnapkeepApp_ExportImport_Passphrase(t *testing.T) {
	a, _ := newTestApp(t)
	ws := writeWorkspace(t, map[string]string{"a.txt": "alpha", "b/c.txt": "gamma"})
	orig, _ := a.CreateSnapshot(ws, "exported", snapkeep.TriggerPreSave)

	var buf bytes.Buffer
	if _, err := a.Export(orig.ID, &buf, ""); !errors.Is(err, export.ErrNoRecipients) {
		t.Fatalf("Export() without keys error = %v, want ErrNoRecipients", err)
	}

	b, err := a.Export(orig.ID, &buf, "correct horse")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(b.Files) != 2 {
		t.Errorf("bundle files = %d", len(b.Files))
	}

	if _, err := a.Import(bytes.NewReader(buf.Bytes()), ImportOptions{Passphrase: "wrong"}); err == nil {
		t.Fatal("Import() with wrong passphrase should fail")
	}
	if _, err := a.Import(bytes.NewReader(buf.Bytes()), ImportOptions{}); err == nil {
		t.Fatal("Import() without identities should fail")
	}

	imported, err := a.Import(bytes.NewReader(buf.Bytes()), ImportOptions{Passphrase: "correct horse"})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if imported.ID == orig.ID || imported.Name != "exported" || imported.Trigger != snapkeep.TriggerPreSave {
		t.Errorf("imported = %+v", imported)
	}
	if imported.Files["b/c.txt"] != orig.Files["b/c.txt"] {
		t.Error("imported file should reuse the existing blob")
	}

	list, _ := a.ListSnapshots(snapkeep.SnapshotFilter{})
	if len(list) != 2 {
		t.Errorf("ListSnapshots() = %d, want 2", len(list))
	}
}

func TestSnapkeepApp_ExportImport_Keyring(t *testing.T) {
	a, base := newTestApp(t)
	ws := writeWorkspace(t, map[string]string{"a.txt": "alpha"})
	orig, _ := a.CreateSnapshot(ws, "", "")

	if err := a.InitKeys("key pass"); err != nil {
		t.Fatalf("InitKeys() error = %v", err)
	}
	if err := a.InitKeys("key pass"); !errors.Is(err, export.ErrKeysExist) {
		t.Errorf("second InitKeys() error = %v, want ErrKeysExist", err)
	}
	if _, err := os.Stat(filepath.Join(base, "keys", "snapkeep.pub")); err != nil {
		t.Errorf("public key not written: %v", err)
	}

	var buf bytes.Buffer
	if _, err := a.Export(orig.ID, &buf, ""); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	imported, err := a.Import(&buf, ImportOptions{Passphrase: "key pass"})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !imported.HasFile("a.txt") {
		t.Errorf("imported files = %v", imported.Files)
	}
}

func TestSnapkeepApp_DeleteGCAndStats(t *testing.T) {
	a, _ := newTestApp(t)
	ws := writeWorkspace(t, map[string]string{"only.txt": "unique content"})
	m, _ := a.CreateSnapshot(ws, "", "")

	if err := a.DeleteSnapshot(m.ID); err != nil {
		t.Fatalf("DeleteSnapshot() error = %v", err)
	}

	report, err := a.CollectGarbage(true, 0)
	if err != nil {
		t.Fatalf("CollectGarbage() error = %v", err)
	}
	if report.Removed != 0 || report.TooRecent != 1 {
		t.Errorf("fresh blob should be protected by the grace period: %+v", report)
	}

	stats, err := a.Stats(true)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.SnapshotCount != 0 || stats.BlobCount != 1 || stats.AuditEntryCount != 1 {
		t.Errorf("stats = %+v", stats)
	}

	n, err := a.Reindex()
	if err != nil || n != 0 {
		t.Errorf("Reindex() = %d, %v", n, err)
	}

	var out bytes.Buffer
	if err := a.WritePrometheus(&out); err != nil {
		t.Fatalf("WritePrometheus() error = %v", err)
	}
	for _, want := range []string{"snapkeep_blobs 1", "snapkeep_blob_writes_total 1", "snapkeep_snapshots 0"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("prometheus output missing %q:\n%s", want, out.String())
		}
	}

	archive, err := a.RotateAudit(1)
	if err != nil || archive == "" {
		t.Errorf("RotateAudit() = %q, %v", archive, err)
	}
}

func TestSnapkeepApp_Close(t *testing.T) {
	a, base := newTestApp(t)
	if _, err := a.Stats(false); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "log", LogFile))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "app finished") {
		t.Errorf("log file missing finish line:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(base, "store", snapkeep.MetadataFile)); err != nil {
		t.Errorf("storage metadata not written: %v", err)
	}
}
