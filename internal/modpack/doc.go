// Package modpack is the core of the server: it fingerprints files, builds
// the name -> sha256 manifest for each category, and resolves download
// requests to files that are guaranteed to live inside a category root.
//
// Everything here is read-only against the filesystem and keeps no state
// between calls; the served trees are the source of truth. Failures are
// reported as one of three sentinels (ErrInvalidCategory, ErrNotFound,
// ErrIO) so the transport can map them without inspecting messages.
package modpack
