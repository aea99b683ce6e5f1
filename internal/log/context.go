package log

import "context"

type ctxKey struct{}

// WithContext stores l in ctx. httpmw.WithLogger uses it to hand each request
// a logger already bound to request_id, client_ip and trace ids.
func WithContext(ctx context.Context, l Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request-scoped logger, or Nop when the request
// never went through WithLogger (background sweeps, tests).
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}
