package opshttp

import (
	"net/http"

	"github.com/keithlinneman/modpack-server/internal/health"
)

// Options configures the admin listener.
type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// UseRecoverMW wraps the mux in httpmw.Recover; OnPanic runs on each
	// recovered panic.
	UseRecoverMW bool
	OnPanic      func()
}
