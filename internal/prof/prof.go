package prof

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string

	// Basic auth for hosted Pyroscope; the user is usually the numeric stack id.
	BasicAuthUser     string
	BasicAuthPassword string
	TenantID          string

	Tags       map[string]string
	UploadRate time.Duration

	// Mutex and block profiles are only collected when their rate is set.
	ProfileMutexFraction int
	BlockProfileRate     int
}

// ProfileTypes returns the profiles to collect. CPU, heap and goroutine profiles are always on.
func (o Options) ProfileTypes() []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if o.ProfileMutexFraction > 0 {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if o.BlockProfileRate > 0 {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

// Start begins continuous profiling. The returned stop func is always non-nil and safe to call twice.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return func() {}, nil
	}

	if opts.ServerAddress == "" {
		err := xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope options")
		return func() {}, err
	}
	if (opts.BasicAuthUser == "") != (opts.BasicAuthPassword == "") {
		err := xerrors.New("pyroscope basic auth needs both user and password")
		L.Error(ctx, err, "pyroscope options")
		return func() {}, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	cfg := pyroscope.Config{
		ApplicationName:   opts.AppName,
		ServerAddress:     opts.ServerAddress,
		BasicAuthUser:     opts.BasicAuthUser,
		BasicAuthPassword: opts.BasicAuthPassword,
		TenantID:          opts.TenantID,
		Tags:              opts.Tags,
		UploadRate:        opts.UploadRate,
		ProfileTypes:      opts.ProfileTypes(),
		Logger:            pyroscopeLogger{ctx: ctx, l: L},
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		return func() {}, err
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
		"profile_types", len(cfg.ProfileTypes),
	)

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		_ = profiler.Stop()
		L.Info(context.Background(), "pyroscope stopped", "app_name", opts.AppName)
	}, nil
}

// pyroscopeLogger routes the agent's printf logging into the structured logger.
// Debug output is dropped; upload chatter is not useful at any level we run.
type pyroscopeLogger struct {
	ctx context.Context
	l   log.Logger
}

func (p pyroscopeLogger) Infof(format string, args ...any) {
	p.l.Debug(p.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}

func (p pyroscopeLogger) Debugf(string, ...any) {}

func (p pyroscopeLogger) Errorf(format string, args ...any) {
	p.l.Warn(p.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}
