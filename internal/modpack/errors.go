package modpack

import "errors"

var (
	// ErrInvalidCategory means the caller named a category outside {mods, configs}.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrNotFound covers missing files, non-regular files and anything that
	// canonicalizes outside its root. Traversal attempts are indistinguishable
	// from ordinary misses on purpose.
	ErrNotFound = errors.New("file not found")

	// ErrIO is an unexpected failure reading a file that was already found.
	ErrIO = errors.New("io error")
)
