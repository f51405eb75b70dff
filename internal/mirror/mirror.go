// Package mirror seeds the modpack roots from S3 before the server starts
// listening. Objects live at s3://bucket/prefix/<release>/{mods,config}/...
// where <release> optionally comes from an SSM parameter. Every key is
// validated so no object can land outside its category root.
package mirror

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/keithlinneman/modpack-server/internal/cryptoutil"
	"github.com/keithlinneman/modpack-server/internal/log"
	"github.com/keithlinneman/modpack-server/internal/modpack"
	"github.com/keithlinneman/modpack-server/internal/pathutil"
	"github.com/keithlinneman/modpack-server/internal/xerrors"
)

// DefaultMaxObjectBytes bounds a single mirrored file.
const DefaultMaxObjectBytes int64 = 2 << 30

// S3API is the subset of *s3.Client the mirror uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SSMAPI is the subset of *ssm.Client the mirror uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Recorder receives sync metrics; *metrics.ServerMetrics satisfies it.
type Recorder interface {
	ObserveMirrorSync(d time.Duration, objects map[string]int)
	IncMirrorError()
}

type Options struct {
	Logger   log.Logger
	Recorder Recorder

	Bucket string
	Prefix string
	// SSMParam names a parameter whose value is the release directory
	// below Prefix. Empty mirrors Prefix directly.
	SSMParam string

	Roots          modpack.Roots
	MaxObjectBytes int64

	// AWSConfig overrides config.LoadDefaultConfig in NewFromConfig.
	AWSConfig *aws.Config
}

// Result summarizes one Sync.
type Result struct {
	Release string
	// Objects counts files written per category (by Category.String()).
	Objects map[string]int
	Skipped int
	Bytes   int64
}

type Mirror struct {
	opts Options
	s3   S3API
	ssm  SSMAPI
	log  log.Logger
}

// New builds a Mirror on explicit clients. ssmClient may be nil when
// SSMParam is empty.
func New(s3Client S3API, ssmClient SSMAPI, opts Options) (*Mirror, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("mirror bucket is required")
	}
	if s3Client == nil {
		return nil, xerrors.New("mirror s3 client is required")
	}
	if opts.SSMParam != "" && ssmClient == nil {
		return nil, xerrors.New("mirror ssm client is required when an ssm parameter is set")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxObjectBytes <= 0 {
		opts.MaxObjectBytes = DefaultMaxObjectBytes
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.Prefix != "" {
		if _, ok := pathutil.SafeRel(opts.Prefix); !ok {
			return nil, xerrors.Newf("mirror prefix %q is not a clean relative key", opts.Prefix)
		}
	}
	return &Mirror{opts: opts, s3: s3Client, ssm: ssmClient, log: opts.Logger}, nil
}

// NewFromConfig loads the default AWS config chain (or opts.AWSConfig)
// and builds S3 and SSM clients from it.
func NewFromConfig(ctx context.Context, opts Options) (*Mirror, error) {
	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	return New(s3.NewFromConfig(awsCfg), ssm.NewFromConfig(awsCfg), opts)
}

// Release returns the release directory to mirror, "" when no SSM
// parameter is configured.
func (m *Mirror) Release(ctx context.Context) (string, error) {
	if m.opts.SSMParam == "" {
		return "", nil
	}
	out, err := m.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(m.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", m.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", m.opts.SSMParam)
	}
	release := strings.TrimSpace(*out.Parameter.Value)
	if release == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", m.opts.SSMParam)
	}
	if _, ok := pathutil.SafeRel(release); !ok || strings.Contains(release, "/") {
		return "", xerrors.Newf("SSM parameter %s holds an invalid release name %q", m.opts.SSMParam, release)
	}
	return release, nil
}

func (m *Mirror) categoryPrefix(release string, c modpack.Category) string {
	parts := make([]string, 0, 3)
	if m.opts.Prefix != "" {
		parts = append(parts, m.opts.Prefix)
	}
	if release != "" {
		parts = append(parts, release)
	}
	parts = append(parts, c.WireName())
	return path.Join(parts...) + "/"
}

// Sync downloads every object under the release into the matching root.
// Files whose size and modification time already match are skipped. The
// first failure aborts the sync; files written before it stay in place.
func (m *Mirror) Sync(ctx context.Context) (res Result, err error) {
	start := time.Now()
	ctx, span := otel.Tracer("modpack-server/mirror").Start(ctx, "mirror.sync")
	defer func() {
		if err != nil {
			err = xerrors.EnsureTrace(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "mirror sync failed")
			if m.opts.Recorder != nil {
				m.opts.Recorder.IncMirrorError()
			}
		} else if m.opts.Recorder != nil {
			m.opts.Recorder.ObserveMirrorSync(time.Since(start), res.Objects)
		}
		span.End()
	}()

	res.Objects = make(map[string]int, len(modpack.Categories()))
	res.Release, err = m.Release(ctx)
	if err != nil {
		return res, err
	}
	span.SetAttributes(
		attribute.String("mirror.bucket", m.opts.Bucket),
		attribute.String("mirror.release", res.Release),
	)

	for _, c := range modpack.Categories() {
		if err := m.syncCategory(ctx, res.Release, c, &res); err != nil {
			return res, err
		}
	}

	m.log.Info(ctx, "modpack mirror complete",
		"bucket", m.opts.Bucket,
		"release", res.Release,
		"mods", res.Objects[modpack.Mods.String()],
		"configs", res.Objects[modpack.Configs.String()],
		"skipped", res.Skipped,
		"bytes", res.Bytes,
		"duration", time.Since(start).String(),
	)
	return res, nil
}

func (m *Mirror) syncCategory(ctx context.Context, release string, c modpack.Category, res *Result) error {
	root, err := m.opts.Roots.Root(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return xerrors.Wrapf(err, "create %s root", c)
	}
	absRoot, err := filepath.EvalSymlinks(root)
	if err == nil {
		absRoot, err = filepath.Abs(absRoot)
	}
	if err != nil {
		return xerrors.Wrapf(err, "resolve %s root", c)
	}

	prefix := m.categoryPrefix(release, c)
	p := s3.NewListObjectsV2Paginator(m.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.opts.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return xerrors.Wrapf(err, "list s3://%s/%s", m.opts.Bucket, prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			rel, ok := pathutil.SafeRel(strings.TrimPrefix(key, prefix))
			dest := filepath.Join(absRoot, rel)
			if !ok || !pathutil.Within(absRoot, dest) || !realParents(absRoot, rel) {
				m.log.Warn(ctx, "skipping unsafe object key", "key", key)
				res.Skipped++
				continue
			}
			if upToDate(dest, obj) {
				res.Skipped++
				continue
			}
			n, err := m.fetch(ctx, key, dest)
			if err != nil {
				return err
			}
			res.Objects[c.String()]++
			res.Bytes += n
		}
	}
	return nil
}

// realParents reports whether every existing directory between root and
// the object is a real directory. A symlinked or non-directory component
// would let MkdirAll and Rename write outside root.
func realParents(root, rel string) bool {
	dir := root
	for _, seg := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if seg == "." {
			continue
		}
		dir = filepath.Join(dir, seg)
		info, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

func upToDate(dest string, obj s3types.Object) bool {
	info, err := os.Lstat(dest)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if obj.Size == nil || info.Size() != *obj.Size {
		return false
	}
	return obj.LastModified != nil && !info.ModTime().Before(*obj.LastModified)
}

// fetch streams one object into a temp file next to dest, verifies size
// and any S3 SHA-256 checksum, then renames it over dest.
func (m *Mirror) fetch(ctx context.Context, key, dest string) (int64, error) {
	out, err := m.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(m.opts.Bucket),
		Key:          aws.String(key),
		ChecksumMode: s3types.ChecksumModeEnabled,
	})
	if err != nil {
		return 0, xerrors.Wrapf(err, "get s3://%s/%s", m.opts.Bucket, key)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, xerrors.Wrapf(err, "create directory for %s", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".mirror-*")
	if err != nil {
		return 0, xerrors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	limit := m.opts.MaxObjectBytes
	sum, n, err := cryptoutil.TeeSHA256(tmp, io.LimitReader(out.Body, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, xerrors.Wrapf(err, "download %s", key)
	}
	if n > limit {
		return n, xerrors.Newf("object %s exceeds %d bytes", key, limit)
	}
	if out.ContentLength != nil && *out.ContentLength != n {
		return n, xerrors.Newf("object %s truncated: got %d of %d bytes", key, n, *out.ContentLength)
	}
	if want, ok := fullObjectChecksum(out); ok {
		raw, err := base64.StdEncoding.DecodeString(want)
		if err != nil {
			return n, xerrors.Wrapf(err, "decode checksum for %s", key)
		}
		if !cryptoutil.HashEqual(sum, hex.EncodeToString(raw)) {
			return n, xerrors.Newf("checksum mismatch for %s: expected %x, got %s", key, raw, sum)
		}
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return n, xerrors.Wrapf(err, "chmod %s", key)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return n, xerrors.Wrapf(err, "install %s", key)
	}
	committed = true
	if out.LastModified != nil {
		_ = os.Chtimes(dest, *out.LastModified, *out.LastModified)
	}

	m.log.Debug(ctx, "mirrored object", "key", key, "bytes", n, "sha256", sum)
	return n, nil
}

// fullObjectChecksum returns the base64 SHA-256 of the whole object.
// Multipart uploads carry a checksum of the part checksums ("<b64>-N");
// those are not comparable to a streamed hash and are left to the size
// checks.
func fullObjectChecksum(out *s3.GetObjectOutput) (string, bool) {
	sum := aws.ToString(out.ChecksumSHA256)
	if sum == "" || out.ChecksumType == s3types.ChecksumTypeComposite || strings.Contains(sum, "-") {
		return "", false
	}
	return sum, true
}
