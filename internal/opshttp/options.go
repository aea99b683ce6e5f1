package opshttp

import (
	"net/http"

	"github.com/greenleafcpa/greenleaf-web/internal/health"
)

// Options configures the admin listener. Zero values are usable: no metrics, no pprof,
// and nil probes that always pass.
type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
}
