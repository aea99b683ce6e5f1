package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// DefaultRedisPrefix namespaces admission keys in a shared redis.
const DefaultRedisPrefix = "greenleaf:admit:"

// admitScript is the same prune-count-append sequence as WindowLimiter.CheckAndRecord,
// run atomically inside redis. Scores are unix milliseconds from the redis server clock so
// every instance shares one timeline; a positive ARGV[1] overrides it for tests.
// An event is stale once now-score >= window, so everything <= now-window is removed.
// Returns 1 when blocked, 0 when the event was recorded.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
if now <= 0 then
  local t = redis.call('TIME')
  now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
end
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= max then
  return 1
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 0
`)

// RedisWindow is a sliding-window admission log shared by every instance pointing at the
// same redis. Keys expire with their window so no sweep is needed.
type RedisWindow struct {
	client redis.Scripter
	prefix string

	// nil reads the redis server clock
	now func() time.Time

	OnThrottled func(identity string)
}

type RedisOption func(*RedisWindow)

// WithRedisPrefix overrides DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisWindow) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRedisClock replaces the redis server clock, used by tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisWindow) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRedisOnThrottled sets a callback fired on every rejected check
func WithRedisOnThrottled(fn func(identity string)) RedisOption {
	return func(r *RedisWindow) {
		r.OnThrottled = fn
	}
}

// NewRedisWindow wraps a redis client (*redis.Client, *redis.ClusterClient, ...).
func NewRedisWindow(client redis.Scripter, opts ...RedisOption) *RedisWindow {
	r := &RedisWindow{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Admit implements Admitter.
func (r *RedisWindow) Admit(ctx context.Context, identity string, p Policy) (bool, error) {
	p = p.normalized()
	var now int64
	if r.now != nil {
		now = r.now().UnixMilli()
	}
	// members must be unique so two events at the same millisecond are both counted
	member := uuid.NewString()

	res, err := admitScript.Run(ctx, r.client,
		[]string{r.prefix + identity},
		now, p.Window.Milliseconds(), p.MaxRequests, member,
	).Int()
	if err != nil {
		return false, xerrors.Wrapf(err, "redis admit %s", identity)
	}

	blocked := res == 1
	if blocked && r.OnThrottled != nil {
		r.OnThrottled(identity)
	}
	return blocked, nil
}
