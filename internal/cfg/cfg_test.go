package cfg

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

func newFlagSet(t *testing.T, args ...string) (*flag.FlagSet, *App) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := &App{}
	Register(fs, c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return fs, c
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "modpack.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func validApp() App {
	return App{
		LogLevel:          "info",
		StacktraceLevel:   "error",
		IncludeErrorLinks: true,
		MaxErrorLinks:     5,
		HTTPPort:          8000,
		AdminPort:         9000,
		ModpackDir:        "modpack",
		WriteTimeout:      time.Minute,
		DrainPeriod:       5 * time.Second,
		RateLimitRPS:      10,
		RateLimitBurst:    30,
	}
}

func TestRegister_Defaults(t *testing.T) {
	_, c := newFlagSet(t)

	if c.HTTPPort != 8000 || c.AdminPort != 9000 {
		t.Errorf("ports = %d/%d, want 8000/9000", c.HTTPPort, c.AdminPort)
	}
	if c.ModpackDir != "modpack" {
		t.Errorf("ModpackDir = %q", c.ModpackDir)
	}
	if !c.LogJSON || c.LogLevel != "info" {
		t.Errorf("log defaults = %v/%q", c.LogJSON, c.LogLevel)
	}
	if c.EnablePprof || c.EnableTracing || c.EnablePyroscope || c.MirrorEnable {
		t.Error("optional subsystems should default off")
	}
	if c.WriteTimeout != 5*time.Minute || c.DrainPeriod != 5*time.Second {
		t.Errorf("timeouts = %s/%s", c.WriteTimeout, c.DrainPeriod)
	}
	if c.RateLimitRPS != 10 || c.RateLimitBurst != 30 || c.TrustedHops != 0 {
		t.Errorf("rate limit = %g/%d hops=%d", c.RateLimitRPS, c.RateLimitBurst, c.TrustedHops)
	}
	if err := Validate(*c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("MODPACK_HTTP_PORT", "8100")
	t.Setenv("MODPACK_MODPACK_DIR", "/srv/pack")
	t.Setenv("MODPACK_ADMIN_PORT", "9100")
	t.Setenv("MODPACK_RATE_LIMIT_RPS", "not-a-number")

	fs, c := newFlagSet(t, "-admin-port", "9200")
	var logged []string
	FillFromEnv(fs, EnvPrefix, func(f string, args ...any) { logged = append(logged, f) })

	if c.HTTPPort != 8100 || c.ModpackDir != "/srv/pack" {
		t.Fatalf("env not applied: port=%d dir=%q", c.HTTPPort, c.ModpackDir)
	}
	if c.AdminPort != 9200 {
		t.Fatalf("cli flag lost to env: %d", c.AdminPort)
	}
	if c.RateLimitRPS != 10 {
		t.Fatalf("invalid env replaced default: %g", c.RateLimitRPS)
	}
	if len(logged) != 2 {
		t.Fatalf("logged %d messages, want override + invalid", len(logged))
	}
}

func TestLoadFile_Precedence(t *testing.T) {
	path := writeYAML(t, `
http-port: 8200
admin-port: 9300
modpack-dir: /from/yaml
mirror-enable: true
mirror-s3-bucket: packs
trace-sample: 0.25
drain-period: 2s
`)
	t.Setenv("MODPACK_ADMIN_PORT", "9400")

	fs, c := newFlagSet(t, "-http-port", "8001")
	if err := LoadFile(path, fs, EnvPrefix); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	FillFromEnv(fs, EnvPrefix, nil)

	if c.HTTPPort != 8001 {
		t.Errorf("flag should beat file: %d", c.HTTPPort)
	}
	if c.AdminPort != 9400 {
		t.Errorf("env should beat file: %d", c.AdminPort)
	}
	if c.ModpackDir != "/from/yaml" || !c.MirrorEnable || c.MirrorS3Bucket != "packs" {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.TraceSample != 0.25 || c.DrainPeriod != 2*time.Second {
		t.Errorf("typed values = %g/%s", c.TraceSample, c.DrainPeriod)
	}
	if c.LogLevel != "info" {
		t.Errorf("unset key changed default: %q", c.LogLevel)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "http-prot: 80\n", `unknown key "http-prot"`},
		{"bad value", "http-port: eighty\n", `key "http-port"`},
		{"nested config", "config: other.yaml\n", "cannot include"},
		{"not yaml", "http-port: [1, 2\n", "parse config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, _ := newFlagSet(t)
			wantErrContains(t, LoadFile(writeYAML(t, tt.body), fs, EnvPrefix), tt.want)
		})
	}

	fs, _ := newFlagSet(t)
	wantErrContains(t, LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), fs, EnvPrefix), "read config file")
	if err := LoadFile("", fs, EnvPrefix); err != nil {
		t.Fatalf("empty path: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*App)
		want   string
	}{
		{"http port", func(c *App) { c.HTTPPort = 0 }, "HTTP_PORT"},
		{"admin port", func(c *App) { c.AdminPort = 70000 }, "ADMIN_PORT"},
		{"same ports", func(c *App) { c.AdminPort = c.HTTPPort }, "must differ"},
		{"modpack dir", func(c *App) { c.ModpackDir = " " }, "MODPACK_DIR"},
		{"write timeout", func(c *App) { c.WriteTimeout = 0 }, "WRITE_TIMEOUT"},
		{"drain period", func(c *App) { c.DrainPeriod = 2 * time.Minute }, "DRAIN_PERIOD"},
		{"hops", func(c *App) { c.TrustedHops = 9 }, "TRUSTED_PROXY_HOPS"},
		{"rps", func(c *App) { c.RateLimitRPS = -1 }, "RATE_LIMIT_RPS"},
		{"burst", func(c *App) { c.RateLimitBurst = 0 }, "RATE_LIMIT_BURST"},
		{"log level", func(c *App) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"stacktrace level", func(c *App) { c.StacktraceLevel = "x" }, "STACKTRACE_LEVEL"},
		{"error links", func(c *App) { c.MaxErrorLinks = 0 }, "MAX_ERROR_LINKS"},
		{"trace sample", func(c *App) { c.TraceSample = 1.5 }, "TRACE_SAMPLE"},
		{"otlp missing", func(c *App) { c.EnableTracing = true }, "OTLP_ENDPOINT required"},
		{"otlp scheme", func(c *App) { c.EnableTracing, c.OTLPEndpoint = true, "http://collector" }, "host:port"},
		{"pyro server", func(c *App) { c.EnablePyroscope, c.PyroTenantID = true, "t" }, "PYRO_SERVER required"},
		{"pyro url", func(c *App) { c.EnablePyroscope, c.PyroServer, c.PyroTenantID = true, "nope", "t" }, "must be a URL"},
		{"pyro tenant", func(c *App) { c.EnablePyroscope, c.PyroServer = true, "https://pyro" }, "PYRO_TENANT"},
		{"mirror bucket", func(c *App) { c.MirrorEnable = true }, "MIRROR_S3_BUCKET"},
		{"mirror prefix", func(c *App) { c.MirrorEnable, c.MirrorS3Bucket, c.MirrorS3Prefix = true, "b", "a/../b" }, "MIRROR_S3_PREFIX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validApp()
			tt.mutate(&c)
			wantErrContains(t, Validate(c), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := validApp()
	c.HTTPPort = 0
	c.LogLevel = "loud"
	c.MirrorEnable = true

	err := Validate(c)
	for _, want := range []string{"HTTP_PORT", "LOG_LEVEL", "MIRROR_S3_BUCKET"} {
		wantErrContains(t, err, want)
	}
}

func TestValidate_RateLimitDisabled(t *testing.T) {
	c := validApp()
	c.RateLimitRPS = 0
	c.RateLimitBurst = 0
	if err := Validate(c); err != nil {
		t.Fatalf("disabled rate limiting should validate: %v", err)
	}
}
