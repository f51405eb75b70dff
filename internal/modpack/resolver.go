package modpack

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/modpack-server/internal/pathutil"
	"github.com/keithlinneman/modpack-server/internal/xerrors"
)

// Resolver maps untrusted (category, name) pairs to files inside the
// category roots.
type Resolver struct {
	roots Roots
}

func NewResolver(roots Roots) *Resolver {
	return &Resolver{roots: roots}
}

// Resolve returns the canonical absolute path of name inside the root bound
// to c. name is treated as untrusted: it is joined to the root, fully
// canonicalized (symlinks, "..", relative segments), and the result must be
// an existing regular file strictly inside the canonical root. Every
// rejection other than an unknown category is ErrNotFound.
func (r *Resolver) Resolve(c Category, name string) (string, error) {
	root, err := r.roots.Root(c)
	if err != nil {
		return "", err
	}
	if name == "" || strings.ContainsRune(name, 0) || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", notFound(c, "rejected name")
	}

	base, err := canonicalRoot(root)
	if err != nil {
		return "", notFound(c, "root unavailable")
	}

	candidate, err := filepath.EvalSymlinks(filepath.Join(root, name))
	if err != nil {
		return "", notFound(c, "canonicalize")
	}
	candidate, err = filepath.Abs(candidate)
	if err != nil {
		return "", notFound(c, "canonicalize")
	}

	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() {
		return "", notFound(c, "not a regular file")
	}

	if !pathutil.Within(base, candidate) {
		return "", notFound(c, "outside root")
	}
	return candidate, nil
}

// Open resolves name and opens it for streaming. The returned FileInfo is
// taken from the open handle, so it describes exactly what will be read.
// The caller closes the file.
func (r *Resolver) Open(ctx context.Context, c Category, name string) (*os.File, fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, xerrors.Mark(err, ErrIO, "open "+c.String())
	}
	path, err := r.Resolve(c, name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if isNotExist(err) {
			return nil, nil, notFound(c, "vanished")
		}
		return nil, nil, xerrors.Mark(err, ErrIO, "open "+c.String()+" file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, xerrors.Mark(err, ErrIO, "stat "+c.String()+" file")
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, notFound(c, "not a regular file")
	}
	return f, info, nil
}

// notFound carries only the category and a reason; the requested name and
// any resolved path stay out of the error text.
func notFound(c Category, reason string) error {
	return xerrors.Mark(xerrors.New(reason), ErrNotFound, "resolve "+c.String())
}
