package ratelimit

import "context"

// Admitter decides whether an event for identity fits within policy p, recording it when it does.
// blocked=true means the caller should reject the request with a throttling response.
type Admitter interface {
	Admit(ctx context.Context, identity string, p Policy) (blocked bool, err error)
}

var (
	_ Admitter = (*WindowLimiter)(nil)
	_ Admitter = (*RedisWindow)(nil)
)
