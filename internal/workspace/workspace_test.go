package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContains(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"hello.py", true},
		{"sub/dir/file.go", true},
		{".", true},
		{"../outside.txt", false},
		{"/etc/passwd", false},
		{filepath.Join(root, "inner"), true},
		{"sub/../../escape", false},
	}
	for _, tt := range tests {
		if got := l.Contains(tt.path); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestIsSafePathAllowList(t *testing.T) {
	l, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !l.IsSafePath("/tmp/scratch.txt") {
		t.Error("IsSafePath(/tmp/scratch.txt) = false, want true")
	}
	if !l.IsSafePath("/usr/share/dict/words") {
		t.Error("IsSafePath(/usr/share/dict/words) = false, want true")
	}
	if l.IsSafePath("/etc/shadow") {
		t.Error("IsSafePath(/etc/shadow) = true, want false")
	}
	// /tmpfoo must not match the /tmp prefix.
	if l.IsSafePath("/tmpfoo/x") {
		t.Error("IsSafePath(/tmpfoo/x) = true, want false")
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	l, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{l.ContextDir(), l.LogsDir(), l.SessionsDir(), l.TodosDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
