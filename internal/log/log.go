package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the ctx-first structured logger used everywhere in the app.
// kv pairs are alternating string keys and values, non-string keys are dropped.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App             string
	Version         string
	Commit          string
	Level           slog.Level
	StacktraceLevel slog.Level
	JSONFormat      bool

	// IncludeErrorLinks adds an error_links attr with file:line for each wrapped error
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// RedactKeys are attribute keys whose values are masked before output.
	// Form submissions carry personal data (email, phone) that must not reach log storage verbatim.
	RedactKeys []string

	Writer io.Writer
}

// DefaultRedactKeys covers the personal fields collected by the site forms.
var DefaultRedactKeys = []string{"contact_name", "email", "phone", "message"}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
	}
}
