package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/modpack-server/internal/cfg"
	"github.com/keithlinneman/modpack-server/internal/health"
	"github.com/keithlinneman/modpack-server/internal/httpmw"
	"github.com/keithlinneman/modpack-server/internal/httpserver"
	"github.com/keithlinneman/modpack-server/internal/log"
	"github.com/keithlinneman/modpack-server/internal/metrics"
	"github.com/keithlinneman/modpack-server/internal/mirror"
	"github.com/keithlinneman/modpack-server/internal/modpack"
	"github.com/keithlinneman/modpack-server/internal/modpackhttp"
	"github.com/keithlinneman/modpack-server/internal/opshttp"
	"github.com/keithlinneman/modpack-server/internal/otelx"
	"github.com/keithlinneman/modpack-server/internal/prof"
	"github.com/keithlinneman/modpack-server/internal/ratelimit"
	v "github.com/keithlinneman/modpack-server/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// flags first, then the optional YAML file fills whatever the CLI and env left unset
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	if err := cfg.LoadFile(conf.ConfigFile, flag.CommandLine, cfg.EnvPrefix); err != nil {
		fmt.Fprintln(os.Stderr, "config file error:", err)
		os.Exit(1)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"config_file", conf.ConfigFile,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"modpack_dir", conf.ModpackDir,
		"write_timeout", conf.WriteTimeout,
		"drain_period", conf.DrainPeriod,
		"trusted_proxy_hops", conf.TrustedHops,
		"rate_limit_rps", conf.RateLimitRPS,
		"rate_limit_burst", conf.RateLimitBurst,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"mirror_enable", conf.MirrorEnable,
		"mirror_s3_bucket", conf.MirrorS3Bucket,
		"mirror_s3_prefix", conf.MirrorS3Prefix,
		"mirror_ssm_param", conf.MirrorSSMParam,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	} else if conf.EnablePyroscope {
		m.SetProfilingActive(true)
	}
	defer stopProf()

	// collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	roots := modpack.NewRoots(conf.ModpackDir)
	if err := roots.EnsureLayout(); err != nil {
		L.Error(ctx, err, "failed to create modpack directories", "modpack_dir", conf.ModpackDir)
		os.Exit(1)
	}

	// seed the roots before the listener starts; the served trees are read-only afterwards
	if conf.MirrorEnable {
		mr, err := mirror.NewFromConfig(ctx, mirror.Options{
			Logger:   L,
			Recorder: m,
			Bucket:   conf.MirrorS3Bucket,
			Prefix:   conf.MirrorS3Prefix,
			SSMParam: conf.MirrorSSMParam,
			Roots:    roots,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create modpack mirror")
			os.Exit(1)
		}
		if _, err := mr.Sync(ctx); err != nil {
			L.Error(ctx, err, "modpack mirror sync failed", "bucket", conf.MirrorS3Bucket)
			os.Exit(1)
		}
	}

	builder := modpack.NewBuilder(roots, modpack.FileHasher{})
	resolver := modpack.NewResolver(roots)
	api := modpackhttp.NewAPI(builder, resolver, L, m)

	var gate health.ShutdownGate

	// not ready while draining or when either category root has gone away
	readiness := health.All(
		gate.Probe(),
		health.WithTimeout(health.Named("modpack", health.CheckFunc(func(ctx context.Context) error {
			return roots.Check()
		})), 2*time.Second),
	)

	opts := &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		APIRoutes:    api.RegisterRoutes,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		WriteTimeout: conf.WriteTimeout,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	}

	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// logged once per visitor lifetime in the limiter
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		opts.RateLimitMW = limiter.Middleware
	}

	httpStop, err := httpserver.Start(ctx, opts)
	if err != nil {
		L.Error(ctx, err, "failed to start http listener", "port", conf.HTTPPort)
		os.Exit(1)
	}
	defer func() { _ = httpStop(context.Background()) }()

	// admin listener refuses public source addresses in middleware as well
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener", "port", conf.AdminPort)
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so load balancers stop routing before the listeners close
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_period", conf.DrainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify: close: %w", err)
	}
	return nil
}
