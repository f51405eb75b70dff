package modpack

import (
	"os"
	"path/filepath"
	"testing"
)

// newTree creates a modpack base with both roots and returns its Roots.
func newTree(t *testing.T) Roots {
	t.Helper()
	roots := NewRoots(t.TempDir())
	if err := roots.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	return roots
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
}
