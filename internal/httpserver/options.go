package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/modpack-server/internal/health"
	"github.com/keithlinneman/modpack-server/internal/httpmw"
	"github.com/keithlinneman/modpack-server/internal/log"
)

// Options configures the public listener. Nil middleware and probes are
// skipped.
type Options struct {
	Logger log.Logger
	Port   int

	// APIRoutes registers the application routes on the chi router.
	APIRoutes func(chi.Router)

	Health    health.Probe
	Readiness health.Probe

	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies; 0 uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// WriteTimeout bounds a whole response including large archive
	// downloads; 0 uses DefaultWriteTimeout.
	WriteTimeout time.Duration

	UseRecoverMW bool
	OnPanic      func()
}
