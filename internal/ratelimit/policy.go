package ratelimit

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxRequests is the number of admitted events per window when a policy leaves it unset.
	DefaultMaxRequests = 3

	// DefaultWindow is the trailing window used when a policy leaves it unset.
	DefaultWindow = time.Hour
)

// Policy is an admission budget: at most MaxRequests admitted events per identity
// within any trailing Window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultPolicy returns 3 events per hour, the budget used by both site forms.
func DefaultPolicy() Policy {
	return Policy{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

// Validate reports a non-positive budget or window. Called at startup so a bad
// config never reaches the request path.
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be > 0 (got %d)", p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be > 0 (got %s)", p.Window)
	}
	return nil
}

// normalized clamps unset or non-positive fields to the defaults.
func (p Policy) normalized() Policy {
	if p.MaxRequests <= 0 {
		p.MaxRequests = DefaultMaxRequests
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

// RetryAfterSeconds is the Retry-After value advertised with a throttled response.
// It is the full window rounded up, an upper bound on when budget frees up.
func (p Policy) RetryAfterSeconds() int {
	p = p.normalized()
	secs := int(p.Window / time.Second)
	if p.Window%time.Second != 0 {
		secs++
	}
	return secs
}
