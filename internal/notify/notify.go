// Package notify publishes accepted form submissions to NATS so staff tooling
// can pick them up without polling the archive.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/greenleafcpa/greenleaf-web/internal/forms"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// DefaultSubject is the subject root used when Options.Subject is empty.
const DefaultSubject = "greenleaf.forms"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// Options configures the publisher.
type Options struct {
	Logger log.Logger
	Conn   Conn

	// submissions go to {Subject}.{form}
	Subject string
}

// Publisher implements forms.Sink.
type Publisher struct {
	conn    Conn
	subject string
	logger  log.Logger
}

var _ forms.Sink = (*Publisher)(nil)

func New(opts Options) (*Publisher, error) {
	if opts.Conn == nil {
		return nil, xerrors.New("notify: Conn is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	subject := strings.Trim(opts.Subject, ".")
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: opts.Conn, subject: subject, logger: opts.Logger}, nil
}

// Subject returns the subject a submission for form is published on.
func (p *Publisher) Subject(form string) string {
	return p.subject + "." + form
}

// Deliver publishes s as JSON. Publish only buffers on the client, so ctx is
// checked up front and not threaded through.
func (p *Publisher) Deliver(ctx context.Context, s forms.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return xerrors.Wrap(err, "notify: encode submission")
	}
	subj := p.Subject(s.Form)
	if err := p.conn.Publish(subj, data); err != nil {
		return xerrors.Wrapf(err, "publish %s", subj)
	}
	p.logger.Debug(ctx, "submission published", "subject", subj, "submission_id", s.ID)
	return nil
}

// Connect dials url with reconnects enabled, logging connection state changes.
// The caller owns the returned connection and should Drain it on shutdown.
func Connect(ctx context.Context, url, name string, logger log.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = log.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "nats disconnected", "err", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "nats reconnected", "server", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "connect to nats %s", redact(url))
	}
	return nc, nil
}

// redact drops userinfo from a nats URL before it reaches logs or errors.
func redact(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}
