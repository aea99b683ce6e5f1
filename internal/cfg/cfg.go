package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/ratelimit"
)

// EnvPrefix is prepended to upper-cased flag names when reading the environment.
const EnvPrefix = "GREENLEAF_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	PyroUser          string
	PyroPassword      string
	OTLPEndpoint      string
	OTLPInsecure      bool
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	Environment       string
	DrainPeriod       time.Duration

	SiteURL         string
	SiteRPS         float64
	SiteBurst       int
	SiteMaxVisitors int
	TrustedHops     int

	ContactMaxRequests     int
	ContactWindow          time.Duration
	SubscribeMaxRequests   int
	SubscribeWindow        time.Duration
	RateLimitSweepInterval time.Duration
	RateLimitBackend       string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int

	EnableContentUpdates bool
	CMSProjectID         string
	CMSDataset           string
	CMSAPIVersion        string
	CMSUseCDN            bool
	CMSTokenSSMParam     string
	CMSPollInterval      time.Duration

	ArchiveBucket    string
	ArchivePrefix    string
	ArchiveKMSKeyID  string
	SubscriberDBPath string
	NATSURL          string
	NATSSubject      string
}

// ContactPolicy is the admission policy for contact form submissions.
func (c App) ContactPolicy() ratelimit.Policy {
	return ratelimit.Policy{MaxRequests: c.ContactMaxRequests, Window: c.ContactWindow}
}

// SubscribePolicy is the admission policy for newsletter signups.
func (c App) SubscribePolicy() ratelimit.Policy {
	return ratelimit.Policy{MaxRequests: c.SubscribeMaxRequests, Window: c.SubscribeWindow}
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	def := ratelimit.DefaultPolicy()

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.PyroUser, "pyro-user", "", "basic auth user for pyro-server (hosted pyroscope)")
	fs.StringVar(&c.PyroPassword, "pyro-password", "", "basic auth password for pyro-server")
	fs.StringVar(&c.Environment, "environment", "production", "deployment environment reported on traces")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 60*time.Second, "time between failing readiness and closing listeners on shutdown")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to otlp-endpoint (false = TLS)")

	fs.StringVar(&c.SiteURL, "site-url", "https://www.greenleafcpa.com", "canonical site URL used in sitemap.xml and robots.txt")
	fs.Float64Var(&c.SiteRPS, "site-rps", ratelimit.DefaultPerSecond, "per-IP sustained requests per second across the site")
	fs.IntVar(&c.SiteBurst, "site-burst", ratelimit.DefaultBurst, "per-IP burst across the site")
	fs.IntVar(&c.SiteMaxVisitors, "site-max-visitors", ratelimit.DefaultMaxVisitors, "max client IPs tracked by the site limiter")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server (0 = ignore X-Forwarded-For)")

	fs.IntVar(&c.ContactMaxRequests, "contact-max-requests", def.MaxRequests, "contact submissions admitted per client per window")
	fs.DurationVar(&c.ContactWindow, "contact-window", def.Window, "contact admission window")
	fs.IntVar(&c.SubscribeMaxRequests, "subscribe-max-requests", def.MaxRequests, "newsletter signups admitted per client per window")
	fs.DurationVar(&c.SubscribeWindow, "subscribe-window", def.Window, "newsletter admission window")
	fs.DurationVar(&c.RateLimitSweepInterval, "ratelimit-sweep-interval", 5*time.Minute, "how often idle admission records are swept")
	fs.StringVar(&c.RateLimitBackend, "ratelimit-backend", "memory", "memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for -ratelimit-backend=redis")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis AUTH password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis logical database")

	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", true, "Poll the CMS for content changes")
	fs.StringVar(&c.CMSProjectID, "cms-project-id", "", "Sanity project id")
	fs.StringVar(&c.CMSDataset, "cms-dataset", "production", "Sanity dataset")
	fs.StringVar(&c.CMSAPIVersion, "cms-api-version", "2024-01-01", "Sanity API version (YYYY-MM-DD)")
	fs.BoolVar(&c.CMSUseCDN, "cms-use-cdn", true, "query the Sanity API CDN")
	fs.StringVar(&c.CMSTokenSSMParam, "cms-token-ssm-param", "", "ssm SecureString parameter holding the CMS read token (optional)")
	fs.DurationVar(&c.CMSPollInterval, "cms-poll-interval", time.Minute, "how often to poll the CMS for content changes")

	fs.StringVar(&c.ArchiveBucket, "archive-bucket", "", "s3 bucket for submission archive (empty = disabled)")
	fs.StringVar(&c.ArchivePrefix, "archive-prefix", "submissions", "s3 key prefix for submission archive")
	fs.StringVar(&c.ArchiveKMSKeyID, "archive-kms-key-id", "", "KMS key id for SSE-KMS on archived submissions")
	fs.StringVar(&c.SubscriberDBPath, "subscriber-db", "", "sqlite file for the newsletter list (empty = disabled)")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for submission notifications (empty = disabled)")
	fs.StringVar(&c.NATSSubject, "nats-subject", "greenleaf.forms", "NATS subject prefix; the form name is appended")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" && c.PyroUser == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT or PYRO_USER required when ENABLE_PYROSCOPE=true"))
		}
		if (c.PyroUser == "") != (c.PyroPassword == "") {
			errs = append(errs, fmt.Errorf("PYRO_USER and PYRO_PASSWORD must be set together"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.DrainPeriod < 0 || c.DrainPeriod > 5*time.Minute {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must be 0..5m (got %s)", c.DrainPeriod))
	}

	// Site
	if u, err := url.Parse(c.SiteURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("SITE_URL must be an http(s) URL (got %q)", c.SiteURL))
	}
	if c.SiteRPS <= 0 || c.SiteBurst < 1 {
		errs = append(errs, fmt.Errorf("SITE_RPS and SITE_BURST must be positive (got %.2f, %d)", c.SiteRPS, c.SiteBurst))
	}
	if c.SiteMaxVisitors < 1 {
		errs = append(errs, fmt.Errorf("SITE_MAX_VISITORS must be positive (got %d)", c.SiteMaxVisitors))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}

	// Form admission
	if err := c.ContactPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("contact policy: %w", err))
	}
	if err := c.SubscribePolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("subscribe policy: %w", err))
	}
	if c.RateLimitSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_SWEEP_INTERVAL must be positive (got %s)", c.RateLimitSweepInterval))
	}
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR required when RATELIMIT_BACKEND=redis"))
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_BACKEND %q (must be memory|redis)", c.RateLimitBackend))
	}

	// CMS
	if c.EnableContentUpdates {
		if c.CMSProjectID == "" {
			errs = append(errs, fmt.Errorf("CMS_PROJECT_ID required when ENABLE_CONTENT_UPDATES=true"))
		}
		if c.CMSDataset == "" {
			errs = append(errs, fmt.Errorf("CMS_DATASET required when ENABLE_CONTENT_UPDATES=true"))
		}
		if _, err := time.Parse(time.DateOnly, c.CMSAPIVersion); err != nil {
			errs = append(errs, fmt.Errorf("CMS_API_VERSION must be YYYY-MM-DD (got %q)", c.CMSAPIVersion))
		}
		if c.CMSPollInterval < 5*time.Second {
			errs = append(errs, fmt.Errorf("CMS_POLL_INTERVAL must be at least 5s (got %s)", c.CMSPollInterval))
		}
	}

	// Sinks
	if c.ArchiveKMSKeyID != "" && c.ArchiveBucket == "" {
		errs = append(errs, fmt.Errorf("ARCHIVE_KMS_KEY_ID set without ARCHIVE_BUCKET"))
	}
	if c.NATSURL != "" {
		if u, err := url.Parse(c.NATSURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("NATS_URL must be a URL (got %q)", c.NATSURL))
		}
		if c.NATSSubject == "" || strings.ContainsAny(c.NATSSubject, " *>") {
			errs = append(errs, fmt.Errorf("invalid NATS_SUBJECT %q", c.NATSSubject))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
