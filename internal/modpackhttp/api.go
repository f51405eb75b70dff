// Package modpackhttp exposes the modpack manifest and file downloads over
// HTTP. It only translates between requests and the modpack core; all path
// safety decisions are made by modpack.Resolver.
package modpackhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/modpack-server/internal/httpmw"
	"github.com/keithlinneman/modpack-server/internal/log"
	"github.com/keithlinneman/modpack-server/internal/modpack"
)

// ManifestBuilder produces a fresh manifest per call.
type ManifestBuilder interface {
	Build(ctx context.Context) (*modpack.Manifest, error)
}

// FileOpener resolves and opens a file inside a category root.
type FileOpener interface {
	Open(ctx context.Context, c modpack.Category, name string) (*os.File, fs.FileInfo, error)
}

// Recorder receives manifest and download metrics. *metrics.ServerMetrics
// satisfies it.
type Recorder interface {
	ObserveManifestBuild(d time.Duration, files map[string]int, hashed int, bytes int64)
	IncManifestBuildError()
	IncDownload(category, outcome string)
	AddDownloadBytes(category string, n int64)
}

// API implements the modpack endpoints
type API struct {
	manifests ManifestBuilder
	files     FileOpener
	logger    log.Logger
	rec       Recorder
}

// NewAPI creates the modpack API. logger and rec may be nil.
func NewAPI(manifests ManifestBuilder, files FileOpener, logger log.Logger, rec Recorder) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &API{
		manifests: manifests,
		files:     files,
		logger:    logger,
		rec:       rec,
	}
}

// RegisterRoutes attaches the modpack endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/", api.HandleRoot)
	r.With(httpmw.Scope("files")).Get("/api/files", api.HandleFiles)
	r.With(httpmw.Scope("download")).Get("/api/download/{directory}/{file_name}", api.HandleDownload)
}

// loggerFor prefers the request-scoped logger set by httpmw.WithLogger.
func (api *API) loggerFor(ctx context.Context) log.Logger {
	return log.FromContextOr(ctx, api.logger)
}

// HandleRoot reports that the server is up.
func (api *API) HandleRoot(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, MessageResponse{Message: msgRunning})
}

// HandleFiles builds and serves the manifest of both categories.
func (api *API) HandleFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, err := api.manifests.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// client went away mid-build, nobody to answer
			api.loggerFor(ctx).Debug(ctx, "manifest build cancelled", "error", err)
			return
		}
		api.rec.IncManifestBuildError()
		api.loggerFor(ctx).Error(ctx, err, "manifest build failed")
		api.writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Error: msgManifestFailed})
		return
	}

	api.rec.ObserveManifestBuild(m.Stats.Duration, map[string]int{
		modpack.Mods.String():    len(m.Mods),
		modpack.Configs.String(): len(m.Configs),
	}, m.Stats.Files, m.Stats.Bytes)

	api.writeJSON(ctx, w, http.StatusOK, m)
}

// HandleDownload streams one file from a category root.
func (api *API) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "directory")

	c, err := modpack.ParseCategory(token)
	if err != nil {
		api.rec.IncDownload("unknown", outcomeInvalidCategory)
		api.writeError(ctx, w, err)
		return
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("modpack.category", c.String()))

	name, ok := pathParam(r, "file_name")
	if !ok {
		api.rec.IncDownload(c.String(), outcomeNotFound)
		api.writeJSON(ctx, w, http.StatusNotFound, ErrorResponse{Error: msgNotFound})
		return
	}

	f, info, err := api.files.Open(ctx, c, name)
	if err != nil {
		api.rec.IncDownload(c.String(), outcomeFor(err))
		api.writeError(ctx, w, err)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", contentDisposition(name))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	api.rec.AddDownloadBytes(c.String(), n)
	span.SetAttributes(attribute.Int64("modpack.bytes_sent", n))
	if err != nil {
		// headers are gone; the short body is the only signal the client gets
		api.rec.IncDownload(c.String(), outcomeError)
		api.loggerFor(ctx).Warn(ctx, "download interrupted",
			"category", c.String(),
			"bytes_sent", n,
			"size", info.Size(),
			"error", err,
		)
		return
	}
	api.rec.IncDownload(c.String(), outcomeOK)
}

// writeError maps core errors to status codes. Only fixed messages reach
// the client.
func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, modpack.ErrInvalidCategory):
		api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Error: msgInvalidCategory})
	case errors.Is(err, modpack.ErrNotFound):
		api.loggerFor(ctx).Debug(ctx, "download rejected", "error", err)
		api.writeJSON(ctx, w, http.StatusNotFound, ErrorResponse{Error: msgNotFound})
	default:
		api.loggerFor(ctx).Error(ctx, err, "download failed")
		api.writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Error: msgInternal})
	}
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.loggerFor(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

// pathParam returns a decoded URL parameter. chi matches against RawPath
// when the request carried escapes it could not normalize (for example
// %2f), in which case the parameter is still encoded.
func pathParam(r *http.Request, key string) (string, bool) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, v != ""
	}
	dec, err := url.PathUnescape(v)
	if err != nil || dec == "" {
		return "", false
	}
	return dec, true
}

// contentDisposition builds an attachment header for name. Names that
// cannot be expressed as a parameter fall back to a bare attachment.
func contentDisposition(name string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if v == "" {
		return "attachment"
	}
	return v
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, modpack.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, modpack.ErrInvalidCategory):
		return outcomeInvalidCategory
	default:
		return outcomeError
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveManifestBuild(time.Duration, map[string]int, int, int64) {}
func (nopRecorder) IncManifestBuildError()                                         {}
func (nopRecorder) IncDownload(string, string)                                     {}
func (nopRecorder) AddDownloadBytes(string, int64)                                 {}
