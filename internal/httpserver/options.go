package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/greenleafcpa/greenleaf-web/internal/health"
	"github.com/greenleafcpa/greenleaf-web/internal/httpmw"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
)

// Body limits per route group. Site pages take no bodies; the form API takes small JSON documents.
const (
	DefaultSiteMaxBody = 1 << 10  // 1 KB
	DefaultAPIMaxBody  = 16 << 10 // 16 KB
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic, e.g. to bump a counter
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler // sees the resolved client IP
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe
	ContentInfo  httpmw.ContentInfo // for X-Content-Source and X-Content-Revision headers

	// APIRoutes registers JSON endpoints; they run behind APIMaxBody.
	APIRoutes  func(chi.Router)
	APIMaxBody int64

	// SiteRoutes registers pages and assets; they run behind SiteMaxBody.
	SiteRoutes  func(chi.Router)
	SiteMaxBody int64

	// SiteHandler, when set, answers unmatched paths and methods.
	// A NotFound registered by SiteRoutes replaces it.
	SiteHandler http.Handler
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.APIMaxBody <= 0 {
		o.APIMaxBody = DefaultAPIMaxBody
	}
	if o.SiteMaxBody <= 0 {
		o.SiteMaxBody = DefaultSiteMaxBody
	}
}
