package modpack

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestResolve_ValidFile(t *testing.T) {
	r := newTree(t)
	writeFile(t, filepath.Join(r.Mods, "a.jar"), "jar bytes")

	got, err := NewResolver(r).Resolve(Mods, "a.jar")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("path %q is not absolute", got)
	}
	b, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "jar bytes" {
		t.Fatalf("content = %q", b)
	}
}

func TestResolve_ConfigCategory(t *testing.T) {
	r := newTree(t)
	writeFile(t, filepath.Join(r.Configs, "client.toml"), "x")

	if _, err := NewResolver(r).Resolve(Configs, "client.toml"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// categories are not interchangeable
	if _, err := NewResolver(r).Resolve(Mods, "client.toml"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolve_Rejections(t *testing.T) {
	r := newTree(t)
	base := filepath.Dir(r.Mods)
	writeFile(t, filepath.Join(base, "secret.txt"), "secret")
	writeFile(t, filepath.Join(r.Configs, "server.toml"), "cfg")
	writeFile(t, filepath.Join(r.Mods, "sub", "inner.jar"), "inner")

	outside := filepath.Join(t.TempDir(), "passwd")
	writeFile(t, outside, "root:x:0:0")
	symlink(t, outside, filepath.Join(r.Mods, "evil.jar"))
	symlink(t, t.TempDir(), filepath.Join(r.Mods, "evil-dir"))

	tests := []struct {
		name string
		req  string
	}{
		{"empty", ""},
		{"parent traversal", "../../etc/passwd"},
		{"sibling file", "../secret.txt"},
		{"cross category", "../config/server.toml"},
		{"absolute", "/etc/passwd"},
		{"encoded traversal is literal", "..%2f..%2fsecret"},
		{"nul byte", "a.jar\x00.txt"},
		{"missing", "nope.jar"},
		{"directory", "sub"},
		{"root itself", "."},
		{"symlink outside root", "evil.jar"},
		{"symlinked directory", "evil-dir"},
	}
	res := NewResolver(r)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := res.Resolve(Mods, tt.req)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Resolve(%q) = %q, %v; want ErrNotFound", tt.req, got, err)
			}
			if bytes.Contains([]byte(err.Error()), []byte(base)) {
				t.Fatalf("error leaks filesystem path: %v", err)
			}
		})
	}
}

func TestResolve_NestedNameInsideRoot(t *testing.T) {
	r := newTree(t)
	writeFile(t, filepath.Join(r.Mods, "sub", "inner.jar"), "inner")

	got, err := NewResolver(r).Resolve(Mods, "sub/../sub/inner.jar")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Base(got) != "inner.jar" {
		t.Fatalf("path = %q", got)
	}
}

func TestResolve_SymlinkInsideRoot(t *testing.T) {
	r := newTree(t)
	target := filepath.Join(r.Mods, "real.jar")
	writeFile(t, target, "real")
	symlink(t, target, filepath.Join(r.Mods, "alias.jar"))

	got, err := NewResolver(r).Resolve(Mods, "alias.jar")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := filepath.EvalSymlinks(target)
	if got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}

func TestResolve_SymlinkedRoot(t *testing.T) {
	realDir := t.TempDir()
	writeFile(t, filepath.Join(realDir, "mods", "a.jar"), "a")
	base := filepath.Join(t.TempDir(), "pack")
	symlink(t, realDir, base)

	if _, err := NewResolver(NewRoots(base)).Resolve(Mods, "a.jar"); err != nil {
		t.Fatalf("Resolve through symlinked base: %v", err)
	}
}

func TestResolve_InvalidCategory(t *testing.T) {
	r := newTree(t)
	_, err := NewResolver(r).Resolve(Category(99), "x")
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("err = %v, want ErrInvalidCategory", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("invalid category must not also be ErrNotFound")
	}
}

func TestResolve_MissingRoot(t *testing.T) {
	r := NewRoots(filepath.Join(t.TempDir(), "absent"))
	if _, err := NewResolver(r).Resolve(Mods, "a.jar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOpen_StreamsResolvedFile(t *testing.T) {
	r := newTree(t)
	content := bytes.Repeat([]byte("0123456789"), 10_000)
	writeFile(t, filepath.Join(r.Mods, "big.jar"), string(content))

	f, info, err := NewResolver(r).Open(context.Background(), Mods, "big.jar")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if info.Size() != int64(len(content)) {
		t.Fatalf("size = %d, want %d", info.Size(), len(content))
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("streamed bytes differ from file content")
	}
}

func TestOpen_Errors(t *testing.T) {
	r := newTree(t)
	writeFile(t, filepath.Join(r.Mods, "a.jar"), "a")
	res := NewResolver(r)

	if _, _, err := res.Open(context.Background(), Mods, "missing.jar"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: err = %v, want ErrNotFound", err)
	}
	if _, _, err := res.Open(context.Background(), Category(0), "a.jar"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("category: err = %v, want ErrInvalidCategory", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := res.Open(ctx, Mods, "a.jar"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled: err = %v, want context.Canceled", err)
	}
}
