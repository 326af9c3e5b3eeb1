package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewMatcher([]string{"", "  ", "# comment", "*.log", "!", "/"})
		if len(m.rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(m.rules))
		}
		if m.rules[0].glob != "*.log" {
			t.Errorf("expected *.log, got %s", m.rules[0].glob)
		}
	})

	t.Run("parses modifiers", func(t *testing.T) {
		t.Parallel()
		m := NewMatcher([]string{"!keep.log", "build/", "/dist/out"})
		r := m.rules
		if !r[0].negate || r[0].glob != "keep.log" {
			t.Errorf("negation parsed as %+v", r[0])
		}
		if !r[1].dirOnly || r[1].anchored || r[1].glob != "build" {
			t.Errorf("directory rule parsed as %+v", r[1])
		}
		if !r[2].anchored || r[2].glob != "dist/out" {
			t.Errorf("anchored rule parsed as %+v", r[2])
		}
	})
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		rel      string
		isDir    bool
		want     bool
	}{
		{name: "basename glob at root", patterns: []string{"*.log"}, rel: "app.log", want: true},
		{name: "basename glob in subdirectory", patterns: []string{"*.log"}, rel: "sub/app.log", want: true},
		{name: "different extension", patterns: []string{"*.log"}, rel: "app.txt", want: false},
		{name: "path pattern", patterns: []string{"build/output"}, rel: "build/output", want: true},
		{name: "path pattern wrong directory", patterns: []string{"build/output"}, rel: "src/output", want: false},
		{name: "path pattern with glob", patterns: []string{"build/*.o"}, rel: "build/main.o", want: true},
		{name: "character class", patterns: []string{"*.[oa]"}, rel: "main.o", want: true},
		{name: "directory rule matches directory", patterns: []string{"node_modules/"}, rel: "web/node_modules", isDir: true, want: true},
		{name: "directory rule ignores files", patterns: []string{"node_modules/"}, rel: "node_modules", want: false},
		{name: "negation re-includes", patterns: []string{"*.log", "!keep.log"}, rel: "keep.log", want: false},
		{name: "last match wins", patterns: []string{"!keep.log", "*.log"}, rel: "keep.log", want: true},
		{name: "no patterns", patterns: nil, rel: "anything.txt", want: false},
		{name: "empty path", patterns: []string{"*"}, rel: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewMatcher(tt.patterns).Match(tt.rel, tt.isDir); got != tt.want {
				t.Errorf("Match(%q, %v) = %v, want %v", tt.rel, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestReadIgnoreFile(t *testing.T) {
	t.Run("returns raw lines", func(t *testing.T) {
		t.Parallel()
		p := filepath.Join(t.TempDir(), IgnoreFile)
		if err := os.WriteFile(p, []byte("*.log\n# comment\n\ndist/\n"), 0644); err != nil {
			t.Fatal(err)
		}
		lines, err := ReadIgnoreFile(p)
		if err != nil {
			t.Fatalf("ReadIgnoreFile() error = %v", err)
		}
		if len(lines) != 4 {
			t.Fatalf("expected 4 raw lines, got %d", len(lines))
		}
		if n := len(NewMatcher(lines).rules); n != 2 {
			t.Errorf("expected 2 rules, got %d", n)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		lines, err := ReadIgnoreFile(filepath.Join(t.TempDir(), "nope"))
		if err != nil || lines != nil {
			t.Errorf("ReadIgnoreFile() = %v, %v", lines, err)
		}
	})
}
