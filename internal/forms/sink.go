package forms

import (
	"context"
	"errors"

	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// Sink receives accepted submissions.
type Sink interface {
	Deliver(ctx context.Context, s Submission) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s Submission) error

func (f SinkFunc) Deliver(ctx context.Context, s Submission) error { return f(ctx, s) }

// MultiSink delivers to every sink in order and joins their errors.
// A failing sink does not stop later ones.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, s Submission) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Deliver(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// bestEffort logs and swallows delivery errors.
type bestEffort struct {
	name    string
	next    Sink
	logger  log.Logger
	onError func(name string)
}

// BestEffort wraps a sink whose failure must not fail the submission.
// Errors are logged with the sink name and reported to onError, which may be nil.
func BestEffort(name string, next Sink, logger log.Logger, onError func(name string)) Sink {
	if logger == nil {
		logger = log.Nop()
	}
	return bestEffort{name: name, next: next, logger: logger, onError: onError}
}

func (b bestEffort) Deliver(ctx context.Context, s Submission) error {
	if err := b.next.Deliver(ctx, s); err != nil {
		b.logger.Warn(ctx, "best-effort sink failed",
			"sink", b.name,
			"submission_id", s.ID,
			"form", s.Form,
			"err", err.Error(),
		)
		if b.onError != nil {
			b.onError(b.name)
		}
	}
	return nil
}

// Required wraps a sink so its errors name it. Its failure fails the submission.
func Required(name string, next Sink) Sink {
	return SinkFunc(func(ctx context.Context, s Submission) error {
		if err := next.Deliver(ctx, s); err != nil {
			return xerrors.Wrapf(err, "sink %s", name)
		}
		return nil
	})
}

// LogSink writes every submission as a structured log line. Personal fields use
// keys the logger redacts by default.
type LogSink struct {
	Logger log.Logger
}

func (l LogSink) Deliver(ctx context.Context, s Submission) error {
	lg := l.Logger
	if lg == nil {
		lg = log.FromContext(ctx)
	}
	kv := []any{
		"submission_id", s.ID,
		"form", s.Form,
		"email", s.Email,
		"client_ip", s.ClientIP,
		"received_at", s.ReceivedAt,
	}
	if s.Form == FormContact {
		kv = append(kv,
			"contact_name", s.Name,
			"phone", s.Phone,
			"service", s.Service,
			"message", s.Message,
		)
	}
	lg.Info(ctx, "form submission received", kv...)
	return nil
}
