package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/greenleafcpa/greenleaf-web/internal/content"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

// Features toggles optional sections. A disabled page 404s and drops out of
// navigation and the sitemap.
type Features struct {
	Blog         bool
	Team         bool
	FAQ          bool
	Testimonials bool
	Newsletter   bool
}

func AllFeatures() Features {
	return Features{Blog: true, Team: true, FAQ: true, Testimonials: true, Newsletter: true}
}

type Options struct {
	Logger log.Logger
	// Active content
	Content SnapshotProvider

	// Templates holds layout.html, partials.html and one file per page.
	Templates fs.FS
	// Static is served under /static/.
	Static fs.FS
	// fallback FS (maintenance page, fallback 404)
	FallbackFS fs.FS

	// SiteURL is the canonical origin used in sitemap.xml, robots.txt and canonical links.
	SiteURL string

	// CMS project and dataset for image URLs. Images are omitted when unset.
	ImageProjectID string
	ImageDataset   string

	Features Features

	MaintenanceFile string // default: "maintenance.html"
	Fallback404File string // default: "404.html"

	// Cache policies. Rendered pages use HTMLCacheControl, static files by extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = "maintenance.html"
	}
	if o.Fallback404File == "" {
		o.Fallback404File = "404.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.SiteURL = strings.TrimRight(o.SiteURL, "/")
}

func (o *Options) validate() error {
	if o.Content == nil {
		return fmt.Errorf("%w: Content is nil", ErrInvalidOptions)
	}
	if o.Templates == nil {
		return fmt.Errorf("%w: Templates is nil", ErrInvalidOptions)
	}
	if o.Static == nil {
		return fmt.Errorf("%w: Static is nil", ErrInvalidOptions)
	}
	if o.FallbackFS == nil {
		return fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	}
	u, err := url.Parse(o.SiteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: SiteURL %q must be an absolute http(s) URL", ErrInvalidOptions, o.SiteURL)
	}
	// fail fast on boot if mispackaged
	if _, err := fs.Stat(o.FallbackFS, o.MaintenanceFile); err != nil {
		return fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, o.MaintenanceFile, err)
	}
	// fallback 404 is optional, we degrade to plain text if missing
	return nil
}
