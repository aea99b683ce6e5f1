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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/greenleafcpa/greenleaf-web/internal/archive"
	"github.com/greenleafcpa/greenleaf-web/internal/cfg"
	"github.com/greenleafcpa/greenleaf-web/internal/cms"
	"github.com/greenleafcpa/greenleaf-web/internal/content"
	"github.com/greenleafcpa/greenleaf-web/internal/contenthttp"
	"github.com/greenleafcpa/greenleaf-web/internal/forms"
	"github.com/greenleafcpa/greenleaf-web/internal/health"
	"github.com/greenleafcpa/greenleaf-web/internal/httpmw"
	"github.com/greenleafcpa/greenleaf-web/internal/httpserver"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/metrics"
	"github.com/greenleafcpa/greenleaf-web/internal/notify"
	"github.com/greenleafcpa/greenleaf-web/internal/opshttp"
	"github.com/greenleafcpa/greenleaf-web/internal/otelx"
	"github.com/greenleafcpa/greenleaf-web/internal/prof"
	"github.com/greenleafcpa/greenleaf-web/internal/ratelimit"
	"github.com/greenleafcpa/greenleaf-web/internal/sitehandler"
	"github.com/greenleafcpa/greenleaf-web/internal/subscribers"
	v "github.com/greenleafcpa/greenleaf-web/internal/version"
	"github.com/greenleafcpa/greenleaf-web/internal/webassets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix GREENLEAF_
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSONFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		RedactKeys:        log.DefaultRedactKeys,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog, kept so a buffered backend flushes on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"environment", conf.Environment,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_content_updates", conf.EnableContentUpdates,
		"trace_sample", conf.TraceSample,
		"site_url", conf.SiteURL,
		"trusted_hops", conf.TrustedHops,
		"ratelimit_backend", conf.RateLimitBackend,
		"contact_policy", fmt.Sprintf("%d/%s", conf.ContactMaxRequests, conf.ContactWindow),
		"subscribe_policy", fmt.Sprintf("%d/%s", conf.SubscribeMaxRequests, conf.SubscribeWindow),
		"cms_project_id", conf.CMSProjectID,
		"cms_dataset", conf.CMSDataset,
		"archive_bucket", conf.ArchiveBucket,
		"subscriber_db", conf.SubscriberDBPath,
		"nats_enabled", conf.NATSURL != "",
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:           conf.EnablePyroscope,
		AppName:           v.AppName,
		ServerAddress:     conf.PyroServer,
		BasicAuthUser:     conf.PyroUser,
		BasicAuthPassword: conf.PyroPassword,
		TenantID:          conf.PyroTenantID,
		Tags: map[string]string{
			"component":   "server",
			"version":     vi.Version,
			"environment": conf.Environment,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}

	// Setup otel for tracing
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    conf.OTLPInsecure,
		Sample:      conf.TraceSample,
		Service:     v.AppName,
		Component:   "server",
		Version:     vi.Version,
		Environment: conf.Environment,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// AWS is only needed for the CMS token and the submission archive
	var awsCfg aws.Config
	if conf.CMSTokenSSMParam != "" || conf.ArchiveBucket != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	// content: serve the embedded seed until the CMS answers
	contentMgr := content.NewManager()
	seed, err := content.LoadSeed(webassets.SeedFS(), content.DefaultValidationOptions())
	if err != nil {
		// the seed ships in the binary, a bad one is a build defect
		L.Error(ctx, err, "embedded seed content is invalid")
		os.Exit(1)
	}
	contentMgr.Set(*seed)
	m.SetContent(string(seed.Source), seed.Revision, seed.LoadedAt)
	L.Info(ctx, "loaded seed content", "content_revision", contentMgr.ContentRevision(), "counts", seed.Counts())

	if conf.EnableContentUpdates {
		var token string
		if conf.CMSTokenSSMParam != "" {
			token, err = cms.TokenFromSSM(ctx, ssm.NewFromConfig(awsCfg), conf.CMSTokenSSMParam)
			if err != nil {
				// public datasets work without a token, keep serving seed content if not
				L.Error(ctx, err, "failed to read CMS token, querying without it", "ssm_param", conf.CMSTokenSSMParam)
			}
		}
		cmsClient, err := cms.New(cms.Options{
			ProjectID:  conf.CMSProjectID,
			Dataset:    conf.CMSDataset,
			APIVersion: conf.CMSAPIVersion,
			UseCDN:     conf.CMSUseCDN,
			Token:      token,
			UserAgent:  vi.UserAgent(),
		})
		if err != nil {
			L.Error(ctx, err, "failed to create CMS client")
			os.Exit(1)
		}

		watcher := content.NewWatcher(content.WatcherOptions{
			Logger:       L,
			Fetcher:      cmsClient,
			Manager:      contentMgr,
			PollInterval: conf.CMSPollInterval,
			Metrics:      m,
			OnSwap: func(revision string) {
				m.SetContent(contentMgr.ContentSource(), revision, contentMgr.LoadedAt())
			},
		})
		go func() { _ = watcher.Run(ctx) }()
	} else {
		L.Info(ctx, "content updates disabled, serving seed content only")
	}

	// form admission
	var admitter ratelimit.Admitter
	var redisClient *redis.Client
	switch conf.RateLimitBackend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// admission fails open, so an unreachable redis degrades to no form limiting
			L.Error(ctx, err, "redis ping failed, form admission will fail open until it recovers", "redis_addr", conf.RedisAddr)
		}
		cancel()
		admitter = ratelimit.NewRedisWindow(redisClient,
			ratelimit.WithRedisOnThrottled(m.IncAdmissionThrottled),
		)
	default:
		windowLimiter := ratelimit.NewWindowLimiter(
			ratelimit.WithSweepInterval(conf.RateLimitSweepInterval),
			ratelimit.WithSweepWindow(max(conf.ContactWindow, conf.SubscribeWindow)),
			ratelimit.WithOnThrottled(m.IncAdmissionThrottled),
			ratelimit.WithOnSweep(m.ObserveAdmissionSweep),
		)
		go windowLimiter.Run(ctx)
		admitter = windowLimiter
	}

	// sinks: every submission is logged; archive and subscriber list are durable records
	var contactSinks, subscribeSinks forms.MultiSink
	logSink := forms.LogSink{Logger: L.With("component", "forms")}
	contactSinks = append(contactSinks, logSink)
	subscribeSinks = append(subscribeSinks, logSink)

	var subscriberStore *subscribers.Store
	if conf.SubscriberDBPath != "" {
		subscriberStore, err = subscribers.Open(ctx, conf.SubscriberDBPath)
		if err != nil {
			L.Error(ctx, err, "failed to open subscriber store", "path", conf.SubscriberDBPath)
			os.Exit(1)
		}
		subscribeSinks = append(subscribeSinks, forms.Required("subscribers", subscriberStore))
		if err := m.RegisterSubscriberCount(subscriberStore.Count); err != nil {
			L.Warn(ctx, "failed to register subscriber gauge", "error", err)
		}
	}

	if conf.ArchiveBucket != "" {
		arch, err := archive.New(archive.Options{
			Logger:   L,
			Client:   s3.NewFromConfig(awsCfg),
			Bucket:   conf.ArchiveBucket,
			Prefix:   conf.ArchivePrefix,
			KMSKeyID: conf.ArchiveKMSKeyID,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create submission archive")
			os.Exit(1)
		}
		contactSinks = append(contactSinks, forms.Required("archive", arch))
		subscribeSinks = append(subscribeSinks, forms.Required("archive", arch))
	}

	var natsConn *nats.Conn
	if conf.NATSURL != "" {
		natsConn, err = notify.Connect(ctx, conf.NATSURL, v.AppName, L)
		if err != nil {
			L.Error(ctx, err, "failed to connect to nats")
			os.Exit(1)
		}
		pub, err := notify.New(notify.Options{Logger: L, Conn: natsConn, Subject: conf.NATSSubject})
		if err != nil {
			L.Error(ctx, err, "failed to create notification publisher")
			os.Exit(1)
		}
		contactSinks = append(contactSinks, forms.BestEffort("notify", pub, L, m.IncSinkError))
		subscribeSinks = append(subscribeSinks, forms.BestEffort("notify", pub, L, m.IncSinkError))
	}

	formsHandler, err := forms.New(forms.Options{
		Logger:          L.With("component", "forms"),
		Admitter:        admitter,
		ContactPolicy:   conf.ContactPolicy(),
		SubscribePolicy: conf.SubscribePolicy(),
		ContactSink:     contactSinks,
		SubscribeSink:   subscribeSinks,
		Metrics:         m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create form handler")
		os.Exit(1)
	}

	contentAPI := contenthttp.NewAPI(contentMgr, L)

	// site pages
	siteHandler, err := sitehandler.New(&sitehandler.Options{
		Logger:         L,
		Content:        contentMgr,
		Templates:      webassets.TemplatesFS(),
		Static:         webassets.StaticFS(),
		FallbackFS:     webassets.FallbackFS(),
		SiteURL:        conf.SiteURL,
		ImageProjectID: conf.CMSProjectID,
		ImageDataset:   conf.CMSDataset,
		Features:       sitehandler.AllFeatures(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness: not draining, content loaded, and the subscriber list reachable when configured
	readyChecks := []health.Probe{
		gate.Probe(),
		health.Named("content", health.CheckFunc(func(context.Context) error { return contentMgr.ReadyErr() })),
	}
	if subscriberStore != nil {
		readyChecks = append(readyChecks, health.Named("subscribers", health.WithTimeout(2*time.Second, health.CheckFunc(subscriberStore.Ping))))
	}
	readiness := health.All(readyChecks...)

	// site-wide per-IP token bucket in front of every route
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.SiteRPS, conf.SiteBurst),
		ratelimit.WithMaxVisitors(conf.SiteMaxVisitors),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first denial until the visitor is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "client_ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// start site http server
	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		ContentInfo:  contentMgr,
		APIRoutes: func(r chi.Router) {
			r.Route("/api", func(r chi.Router) {
				formsHandler.Register(r)
				contentAPI.RegisterRoutes(r)
			})
		},
		SiteRoutes: siteHandler.Register,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}

	// admin listener: metrics, health checks and pprof, refused to public peers
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_period", conf.DrainPeriod.String())

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

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}

	// sinks close after the listeners so in-flight submissions finish
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			L.Error(shutdownCtx, err, "nats drain")
		}
	}
	if subscriberStore != nil {
		if err := subscriberStore.Close(); err != nil {
			L.Error(shutdownCtx, err, "subscriber store close")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			L.Error(shutdownCtx, err, "redis close")
		}
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
