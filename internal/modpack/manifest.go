package modpack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/modpack-server/internal/log"
	"github.com/keithlinneman/modpack-server/internal/xerrors"
)

// FileInfo is the per-file manifest value, serialized as {"sha256": "..."}.
type FileInfo struct {
	SHA256 string `json:"sha256"`
}

// FileEntry pairs a base name with its fingerprint.
type FileEntry struct {
	Name   string
	SHA256 string
}

// Manifest is a point-in-time snapshot of both categories. Maps are never
// nil so empty categories encode as {}.
type Manifest struct {
	Mods    map[string]FileInfo `json:"mods"`
	Configs map[string]FileInfo `json:"configs"`

	// Stats describes the build that produced this manifest; not serialized.
	Stats Stats `json:"-"`
}

// Stats summarizes one Build call.
type Stats struct {
	Files    int
	Bytes    int64
	Duration time.Duration
}

func newManifest() *Manifest {
	return &Manifest{
		Mods:    make(map[string]FileInfo),
		Configs: make(map[string]FileInfo),
	}
}

// Category returns the map for c, or nil for an unknown category.
func (m *Manifest) Category(c Category) map[string]FileInfo {
	switch c {
	case Mods:
		return m.Mods
	case Configs:
		return m.Configs
	default:
		return nil
	}
}

// Entries returns the entries of category c. Order is unspecified.
func (m *Manifest) Entries(c Category) []FileEntry {
	files := m.Category(c)
	out := make([]FileEntry, 0, len(files))
	for name, fi := range files {
		out = append(out, FileEntry{Name: name, SHA256: fi.SHA256})
	}
	return out
}

// Builder walks the category roots and fingerprints every regular file.
type Builder struct {
	roots  Roots
	hasher Hasher
}

// NewBuilder returns a Builder over roots. A nil hasher means FileHasher.
func NewBuilder(roots Roots, hasher Hasher) *Builder {
	if hasher == nil {
		hasher = FileHasher{}
	}
	return &Builder{roots: roots, hasher: hasher}
}

// Build enumerates every category root and returns a fresh Manifest.
//
// Only regular files are included; symlinks are neither followed nor listed,
// so the walk never leaves a root. Entries are keyed by base name: when two
// files in one tree share a base name the one visited last (WalkDir's lexical
// order) wins. A missing root yields an empty category. Any hashing or walk
// failure aborts the whole build with an error wrapping ErrIO.
func (b *Builder) Build(ctx context.Context) (*Manifest, error) {
	ctx, span := otel.Tracer("modpack").Start(ctx, "modpack.build_manifest")
	defer span.End()

	start := time.Now()
	m := newManifest()
	for _, c := range Categories() {
		if err := b.collect(ctx, c, m); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "manifest build failed")
			return nil, err
		}
	}
	m.Stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("modpack.mods", len(m.Mods)),
		attribute.Int("modpack.configs", len(m.Configs)),
		attribute.Int64("modpack.bytes_hashed", m.Stats.Bytes),
	)
	log.FromContext(ctx).Debug(ctx, "built manifest",
		"mods", len(m.Mods),
		"configs", len(m.Configs),
		"bytes_hashed", m.Stats.Bytes,
		"duration", m.Stats.Duration.String(),
	)
	return m, nil
}

func (b *Builder) collect(ctx context.Context, c Category, m *Manifest) error {
	root, err := b.roots.Root(c)
	if err != nil {
		return err
	}
	base, err := canonicalRoot(root)
	if isNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Mark(err, ErrIO, "resolve "+c.String()+" root")
	}

	if info, err := os.Stat(base); err != nil {
		return xerrors.Mark(err, ErrIO, "stat "+c.String()+" root")
	} else if !info.IsDir() {
		return xerrors.Mark(fmt.Errorf("%s root is not a directory", c), ErrIO, "")
	}

	dst := m.Category(c)
	return filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return xerrors.Mark(walkErr, ErrIO, "walk "+c.String())
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, n, err := b.hasher.Hash(ctx, path)
		if err != nil {
			if !errors.Is(err, ErrIO) {
				err = xerrors.Mark(err, ErrIO, "")
			}
			return xerrors.Wrapf(err, "fingerprint %s/%s", c, d.Name())
		}
		// last write wins on duplicate base names
		dst[d.Name()] = FileInfo{SHA256: sum}
		m.Stats.Files++
		m.Stats.Bytes += n
		return nil
	})
}
