package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultSweepInterval is how often Run evicts identities with no live events.
	DefaultSweepInterval = 5 * time.Minute

	defaultShards = 64
)

// windowEntry is the sliding log for one identity.
// timestamps are in clock order because the clock is read under the shard lock.
type windowEntry struct {
	timestamps []time.Time
	// largest window any caller has checked this identity with, sweeps never prune tighter
	window time.Duration
}

// prune drops events that are stale at now. An event is stale once now-t >= window.
// Returns the number of live events left.
func (e *windowEntry) prune(now time.Time, window time.Duration) int {
	i := 0
	for i < len(e.timestamps) && now.Sub(e.timestamps[i]) >= window {
		i++
	}
	if i > 0 {
		n := copy(e.timestamps, e.timestamps[i:])
		clear(e.timestamps[n:])
		e.timestamps = e.timestamps[:n]
	}
	return len(e.timestamps)
}

type windowShard struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

// WindowLimiter is an in-memory sliding-window log keyed by identity.
// Each identity may hold at most Policy.MaxRequests admitted events inside the trailing
// Policy.Window. Identities are spread across independently locked shards so unrelated
// callers never contend, while the prune-compare-append sequence for one identity is atomic.
type WindowLimiter struct {
	shards []windowShard
	mask   uint64

	now           func() time.Time
	sweepInterval time.Duration
	sweepWindow   time.Duration

	// OnThrottled is called for every rejected check, outside the shard lock
	OnThrottled func(identity string)

	// OnSweep is called after every sweep with the remaining and evicted identity counts
	OnSweep func(tracked, evicted int)
}

type WindowOption func(*WindowLimiter)

// WithClock replaces time.Now. The clock must be monotonically non-decreasing.
func WithClock(now func() time.Time) WindowOption {
	return func(l *WindowLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) WindowOption {
	return func(l *WindowLimiter) {
		if n > 0 {
			l.shards = make([]windowShard, nextPow2(n))
		}
	}
}

// WithSweepInterval sets how often Run sweeps.
func WithSweepInterval(d time.Duration) WindowOption {
	return func(l *WindowLimiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// WithSweepWindow sets the window Run sweeps with. Use the largest window of any policy in use.
func WithSweepWindow(d time.Duration) WindowOption {
	return func(l *WindowLimiter) {
		if d > 0 {
			l.sweepWindow = d
		}
	}
}

// WithOnThrottled sets a callback fired on every rejected check, used for metrics and logging
func WithOnThrottled(fn func(identity string)) WindowOption {
	return func(l *WindowLimiter) {
		l.OnThrottled = fn
	}
}

// WithOnSweep sets a callback fired after each sweep, used to export the tracked identity gauge
func WithOnSweep(fn func(tracked, evicted int)) WindowOption {
	return func(l *WindowLimiter) {
		l.OnSweep = fn
	}
}

// NewWindowLimiter creates an empty limiter. Call Run to start periodic sweeps.
func NewWindowLimiter(opts ...WindowOption) *WindowLimiter {
	l := &WindowLimiter{
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		sweepWindow:   DefaultWindow,
	}
	for _, o := range opts {
		o(l)
	}
	if l.shards == nil {
		l.shards = make([]windowShard, defaultShards)
	}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*windowEntry)
	}
	l.mask = uint64(len(l.shards) - 1)
	return l
}

func (l *WindowLimiter) shardFor(identity string) *windowShard {
	return &l.shards[xxhash.Sum64String(identity)&l.mask]
}

// CheckAndRecord reports whether identity is over budget for p and, when it is not,
// records the current instant as an admitted event.
// Returns true if the request should be blocked, false if it is allowed.
// A rejected attempt is not recorded and does not count against future budget.
func (l *WindowLimiter) CheckAndRecord(identity string, p Policy) bool {
	p = p.normalized()
	sh := l.shardFor(identity)

	sh.mu.Lock()
	now := l.now()
	e, ok := sh.entries[identity]
	if !ok {
		e = &windowEntry{timestamps: make([]time.Time, 0, p.MaxRequests)}
		sh.entries[identity] = e
	}
	if p.Window > e.window {
		e.window = p.Window
	}

	blocked := e.prune(now, p.Window) >= p.MaxRequests
	if !blocked {
		e.timestamps = append(e.timestamps, now)
	}
	sh.mu.Unlock()

	if blocked && l.OnThrottled != nil {
		l.OnThrottled(identity)
	}
	return blocked
}

// Admit implements Admitter. The in-memory limiter never fails.
func (l *WindowLimiter) Admit(_ context.Context, identity string, p Policy) (bool, error) {
	return l.CheckAndRecord(identity, p), nil
}

// Sweep prunes every identity with window (or the identity's own larger window) and
// deletes identities left with no live events. Entries with live events are never removed.
func (l *WindowLimiter) Sweep(window time.Duration) {
	if window <= 0 {
		window = l.sweepWindow
	}
	tracked, evicted := 0, 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		now := l.now()
		for id, e := range sh.entries {
			w := window
			if e.window > w {
				w = e.window
			}
			if e.prune(now, w) == 0 {
				delete(sh.entries, id)
				evicted++
			}
		}
		tracked += len(sh.entries)
		sh.mu.Unlock()
	}
	if l.OnSweep != nil {
		l.OnSweep(tracked, evicted)
	}
}

// Len returns the number of identities currently tracked.
func (l *WindowLimiter) Len() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Run sweeps on every tick until ctx is cancelled.
// Intended to be launched as: go limiter.Run(ctx)
func (l *WindowLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.sweepWindow)
		}
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
