package fs

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestCollect(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":             "package main",
		"pkg/util.go":         "package pkg",
		"pkg/util.go.orig":    "old",
		"debug.log":           "noise",
		"keep.log":            "signal",
		".git/HEAD":           "ref: refs/heads/main",
		"node_modules/x/a.js": "x",
		"dist/bundle.js":      "built",
		IgnoreFile:            "*.log\n!keep.log\nnode_modules/\n",
	})
	if err := os.Symlink(filepath.Join(root, "main.go"), filepath.Join(root, "link.go")); err != nil {
		t.Fatal(err)
	}

	files, err := Collect(root, []string{"*.orig", "dist/"})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	want := []string{IgnoreFile, "keep.log", "main.go", "pkg/util.go"}
	if got := keys(files); !reflect.DeepEqual(got, want) {
		t.Errorf("Collect() paths = %v, want %v", got, want)
	}
	if string(files["pkg/util.go"]) != "package pkg" {
		t.Errorf("content = %q", files["pkg/util.go"])
	}
}

func TestCollect_Errors(t *testing.T) {
	if _, err := Collect(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("expected error for missing workspace")
	}

	file := filepath.Join(t.TempDir(), "f")
	os.WriteFile(file, []byte("x"), 0644)
	if _, err := Collect(file, nil); err == nil {
		t.Error("expected error for a file workspace")
	}
}

func TestCollect_Empty(t *testing.T) {
	files, err := Collect(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Collect() = %v, want empty", keys(files))
	}
}
