package modpack

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/keithlinneman/modpack-server/internal/xerrors"
)

// On-disk directory names below the modpack base directory.
const (
	ModsDirName   = "mods"
	ConfigDirName = "config"
)

// Roots binds each category to its root directory. It is built once at
// startup and shared read-only by the builder and the resolver.
type Roots struct {
	Mods    string
	Configs string
}

// NewRoots lays out the standard <base>/mods and <base>/config roots.
func NewRoots(base string) Roots {
	return Roots{
		Mods:    filepath.Join(base, ModsDirName),
		Configs: filepath.Join(base, ConfigDirName),
	}
}

// Root returns the directory bound to c.
func (r Roots) Root(c Category) (string, error) {
	if !c.Valid() {
		return "", xerrors.Mark(fmt.Errorf("no root for %s", c), ErrInvalidCategory, "")
	}
	if c == Mods {
		return r.Mods, nil
	}
	return r.Configs, nil
}

// EnsureLayout creates every root that does not exist yet.
func (r Roots) EnsureLayout() error {
	for _, c := range Categories() {
		root, _ := r.Root(c)
		if root == "" {
			return xerrors.Newf("root for %s is not configured", c)
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return xerrors.Wrapf(err, "create %s root %s", c, root)
		}
	}
	return nil
}

// Check reports whether every root exists and is a directory. Used as a
// readiness probe.
func (r Roots) Check() error {
	for _, c := range Categories() {
		root, _ := r.Root(c)
		info, err := os.Stat(root)
		// readiness bodies are public, so the error never carries the path
		if isNotExist(err) {
			return xerrors.Newf("%s root missing", c)
		}
		if err != nil {
			return xerrors.Newf("%s root unavailable", c)
		}
		if !info.IsDir() {
			return xerrors.Newf("%s root is not a directory", c)
		}
	}
	return nil
}

// canonicalRoot resolves symlinks in root and makes it absolute. A missing
// root reports fs.ErrNotExist so callers can decide how to treat it.
func canonicalRoot(root string) (string, error) {
	if root == "" {
		return "", fs.ErrNotExist
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
