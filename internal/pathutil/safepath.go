// Package pathutil contains the lexical checks behind the traversal guard.
// Callers canonicalize first (filepath.EvalSymlinks/Abs); these helpers only
// compare already-normalized paths.
package pathutil

import (
	"path/filepath"
	"strings"
)

// HasDotSegments reports whether any slash-separated segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// Within reports whether target lies strictly inside root. Both must be
// absolute and clean; root itself is not considered inside.
// Containment is separator-aware so /srv/mods-old is not inside /srv/mods.
func Within(root, target string) bool {
	if root == "" || target == "" || !filepath.IsAbs(root) || !filepath.IsAbs(target) {
		return false
	}
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// SafeRel validates a slash-separated relative key (for example an object
// key below a prefix) and returns it in OS form. It rejects absolute keys,
// dot segments, backslashes, NUL and empty segments.
func SafeRel(key string) (string, bool) {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return "", false
	}
	if HasDotSegments(key) {
		return "", false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" {
			return "", false
		}
	}
	return filepath.FromSlash(key), true
}
