package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"
)

// ChunkSize is the read buffer used when streaming content through a hash.
const ChunkSize = 32 * 1024

// HashEqual performs constant-time comparison of two hex-encoded hashes.
// Case is normalized first so upper-case digests from external sources match.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}

// SHA256Hex computes the SHA-256 of data and returns it as lowercase hex
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Reader streams r through SHA-256 in ChunkSize pieces and returns the
// lowercase hex digest and the number of bytes read. Memory use is bounded by
// the buffer regardless of input size.
func SHA256Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(h, onlyReader{r}, buf)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// TeeSHA256 copies r to w while hashing, for downloads that must be verified
// after they land on disk.
func TeeSHA256(w io.Writer, r io.Reader) (string, int64, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(io.MultiWriter(w, h), onlyReader{r}, buf)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// onlyReader hides WriterTo/ReaderFrom so io.CopyBuffer actually uses the
// bounded buffer instead of an implementation-chosen one.
type onlyReader struct{ io.Reader }
