// Package cryptoutil holds the hashing primitives used for modpack
// fingerprints and S3 mirror verification.
//
// It supports:
//   - Streaming SHA-256 over an io.Reader with a bounded buffer
//   - One-shot SHA-256 of an in-memory byte slice
//   - Constant-time comparison of hex digests
package cryptoutil
