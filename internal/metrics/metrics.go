package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/modpack-server/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// manifest metrics
	manifestBuildsTotal   *prometheus.CounterVec
	manifestBuildDuration prometheus.Histogram
	manifestFiles         *prometheus.GaugeVec
	filesHashedTotal      prometheus.Counter
	bytesHashedTotal      prometheus.Counter

	// download metrics
	downloadsTotal     *prometheus.CounterVec
	downloadBytesTotal *prometheus.CounterVec

	// mirror metrics
	mirrorSyncsTotal   *prometheus.CounterVec
	mirrorObjectsTotal *prometheus.CounterVec
	mirrorDuration     prometheus.Histogram
	mirrorLastSuccess  prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP and modpack metrics.
// safe labels only (method, route, code, category, outcome) to avoid
// path/cardinality explosions; file names never become labels.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864, 268435456},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		manifestBuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modpack_manifest_builds_total",
			Help: "Total manifest builds by outcome",
		}, []string{"outcome"}),
		manifestBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modpack_manifest_build_duration_seconds",
			Help:    "Time to walk both roots and hash every file",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		manifestFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modpack_manifest_files",
			Help: "Number of entries per category in the most recent manifest",
		}, []string{"category"}),
		filesHashedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modpack_files_hashed_total",
			Help: "Total files fingerprinted across all manifest builds",
		}),
		bytesHashedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modpack_bytes_hashed_total",
			Help: "Total bytes read while fingerprinting files",
		}),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modpack_downloads_total",
			Help: "Total download requests by category and outcome",
		}, []string{"category", "outcome"}),
		downloadBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modpack_download_bytes_total",
			Help: "Total bytes streamed to clients by category",
		}, []string{"category"}),
		mirrorSyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modpack_mirror_syncs_total",
			Help: "Total S3 mirror runs by outcome",
		}, []string{"outcome"}),
		mirrorObjectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modpack_mirror_objects_total",
			Help: "Total objects written by the S3 mirror by category",
		}, []string{"category"}),
		mirrorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modpack_mirror_duration_seconds",
			Help:    "Time to download the modpack release from S3",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		mirrorLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modpack_mirror_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful S3 mirror run",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.manifestBuildsTotal,
		m.manifestBuildDuration,
		m.manifestFiles,
		m.filesHashedTotal,
		m.bytesHashedTotal,
		m.downloadsTotal,
		m.downloadBytesTotal,
		m.mirrorSyncsTotal,
		m.mirrorObjectsTotal,
		m.mirrorDuration,
		m.mirrorLastSuccess,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// ObserveManifestBuild records one successful build. files is keyed by
// category name.
func (m *ServerMetrics) ObserveManifestBuild(d time.Duration, files map[string]int, hashed int, bytes int64) {
	m.manifestBuildsTotal.WithLabelValues("ok").Inc()
	m.manifestBuildDuration.Observe(d.Seconds())
	for category, n := range files {
		m.manifestFiles.WithLabelValues(category).Set(float64(n))
	}
	m.filesHashedTotal.Add(float64(hashed))
	m.bytesHashedTotal.Add(float64(bytes))
}

func (m *ServerMetrics) IncManifestBuildError() {
	m.manifestBuildsTotal.WithLabelValues("error").Inc()
}

// IncDownload counts one download attempt. outcome is one of ok,
// not_found, invalid_category, error.
func (m *ServerMetrics) IncDownload(category, outcome string) {
	m.downloadsTotal.WithLabelValues(category, outcome).Inc()
}

func (m *ServerMetrics) AddDownloadBytes(category string, n int64) {
	m.downloadBytesTotal.WithLabelValues(category).Add(float64(n))
}

func (m *ServerMetrics) ObserveMirrorSync(d time.Duration, objects map[string]int) {
	m.mirrorSyncsTotal.WithLabelValues("ok").Inc()
	m.mirrorDuration.Observe(d.Seconds())
	for category, n := range objects {
		m.mirrorObjectsTotal.WithLabelValues(category).Add(float64(n))
	}
	m.mirrorLastSuccess.Set(float64(time.Now().Unix()))
}

func (m *ServerMetrics) IncMirrorError() {
	m.mirrorSyncsTotal.WithLabelValues("error").Inc()
}
