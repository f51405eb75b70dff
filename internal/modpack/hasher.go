package modpack

import (
	"context"
	"os"
	"path/filepath"

	"github.com/keithlinneman/modpack-server/internal/cryptoutil"
	"github.com/keithlinneman/modpack-server/internal/xerrors"
)

// Hasher fingerprints a single file. Implementations must stream the file
// and fail with an error wrapping ErrIO when it cannot be opened or read.
type Hasher interface {
	Hash(ctx context.Context, path string) (sha256 string, size int64, err error)
}

// FileHasher is the production Hasher: SHA-256 over the file contents in
// cryptoutil.ChunkSize pieces.
type FileHasher struct{}

// Hash opens path and streams it through SHA-256. If ctx is cancelled while
// reading, the file handle is closed underneath the read loop, which aborts
// the hash with an error.
func (FileHasher) Hash(ctx context.Context, path string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, xerrors.Mark(err, ErrIO, "hash "+filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, xerrors.Mark(err, ErrIO, "open "+filepath.Base(path))
	}
	defer f.Close()

	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	sum, n, err := cryptoutil.SHA256Reader(f)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		}
		return "", n, xerrors.Mark(err, ErrIO, "read "+filepath.Base(path))
	}
	return sum, n, nil
}

// HashFile returns the lowercase hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	sum, _, err := FileHasher{}.Hash(context.Background(), path)
	return sum, err
}
