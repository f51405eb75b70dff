package httpserver_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keithlinneman/modpack-server/internal/health"
	"github.com/keithlinneman/modpack-server/internal/httpserver"
	"github.com/keithlinneman/modpack-server/internal/log"
	"github.com/keithlinneman/modpack-server/internal/metrics"
	"github.com/keithlinneman/modpack-server/internal/modpack"
	"github.com/keithlinneman/modpack-server/internal/modpackhttp"
	"github.com/keithlinneman/modpack-server/internal/ratelimit"
)

// TestIntegration_FullStack serves a real modpack directory through the
// whole middleware chain and checks responses and the resulting metrics.
func TestIntegration_FullStack(t *testing.T) {
	base := t.TempDir()
	roots := modpack.NewRoots(base)
	if err := roots.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	if err := os.WriteFile(filepath.Join(roots.Mods, "core.jar"), []byte("ABC"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "secrets.txt"), []byte("hunter2"), 0o600); err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	api := modpackhttp.NewAPI(modpack.NewBuilder(roots, modpack.FileHasher{}), modpack.NewResolver(roots), log.Nop(), m)
	limiter := ratelimit.New(t.Context(), ratelimit.WithRate(1000, 1000))

	handler := httpserver.NewHandler(&httpserver.Options{
		Logger:       log.Nop(),
		APIRoutes:    api.RegisterRoutes,
		Health:       health.Fixed(true, ""),
		Readiness:    health.CheckFunc(func(context.Context) error { return roots.Check() }),
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		return rec
	}

	t.Run("manifest", func(t *testing.T) {
		rec := get("/api/files")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body struct {
			Mods    map[string]struct{ SHA256 string } `json:"mods"`
			Configs map[string]struct{ SHA256 string } `json:"configs"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := "b5d4045c3f466fa91fe2cc6abe79232a1a57cdf104f7a26e716e0a1e2789df78"
		if got := body.Mods["core.jar"].SHA256; got != want {
			t.Fatalf("core.jar sha256 = %q", got)
		}
		if body.Configs == nil || len(body.Configs) != 0 {
			t.Fatalf("configs = %v, want empty object", body.Configs)
		}
	})

	t.Run("download", func(t *testing.T) {
		rec := get("/api/download/mods/core.jar")
		if rec.Code != http.StatusOK || rec.Body.String() != "ABC" {
			t.Fatalf("download = %d %q", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=core.jar" {
			t.Fatalf("Content-Disposition = %q", got)
		}
		if rec.Header().Get("Content-Encoding") != "" {
			t.Fatal("archive download was compressed")
		}
		for _, hdr := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Request-Id"} {
			if rec.Header().Get(hdr) == "" {
				t.Errorf("missing %s", hdr)
			}
		}
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			path string
			code int
		}{
			{"/api/download/mods/..%2fsecrets.txt", http.StatusNotFound},
			{"/api/download/mods/../secrets.txt", http.StatusNotFound},
			{"/api/download/mods/missing.jar", http.StatusNotFound},
			{"/api/download/bogus/core.jar", http.StatusBadRequest},
		}
		for _, tt := range tests {
			rec := get(tt.path)
			if rec.Code != tt.code {
				t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.code)
			}
			if strings.Contains(rec.Body.String(), "hunter2") || strings.Contains(rec.Body.String(), base) {
				t.Errorf("%s: response leaks %q", tt.path, rec.Body.String())
			}
		}
	})

	t.Run("probes", func(t *testing.T) {
		if rec := get("/-/ready"); rec.Code != http.StatusOK {
			t.Fatalf("ready = %d", rec.Code)
		}
		if err := os.RemoveAll(roots.Configs); err != nil {
			t.Fatal(err)
		}
		if rec := get("/-/ready"); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("ready without config root = %d", rec.Code)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		body, _ := io.ReadAll(rec.Body)
		for _, want := range []string{
			`modpack_downloads_total{category="mods",outcome="ok"} 1`,
			`modpack_download_bytes_total{category="mods"} 3`,
			`modpack_manifest_builds_total{outcome="ok"} 1`,
			`route="/api/download/{directory}/{file_name}"`,
		} {
			if !strings.Contains(string(body), want) {
				t.Errorf("metrics missing %s", want)
			}
		}
	})
}
