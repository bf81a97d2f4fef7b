/**
 * @description
 * Fixed-window rate limiting for money-moving requests, shared across service instances
 * through Redis.
 *
 * @notes
 * - One key per (scope, subject) holds the hit count; it expires with the window.
 * - The increment and expiry run in a single Lua script so a crash between them cannot
 *   leave a counter without a TTL.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "transfa:savings:rate_limit"

var fixedWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

// RateDecision is the outcome of counting one request against a window.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RedisRateLimiter counts requests per scope and subject in Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter creates a limiter whose keys start with prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (l *RedisRateLimiter) key(scope, subject string) string {
	return l.prefix + ":" + scope + ":" + subject
}

// Allow counts one request for subject within scope. A disabled limiter (no client, no
// limit or no subject) always allows.
func (l *RedisRateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (RateDecision, error) {
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if l == nil || l.client == nil || limit <= 0 || scope == "" || subject == "" {
		return RateDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if window < time.Second {
		window = time.Second
	}

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(scope, subject)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 2 {
		return RateDecision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	return decide(int(res[0]), limit, time.Duration(res[1])*time.Millisecond), nil
}

func decide(hits, limit int, ttl time.Duration) RateDecision {
	d := RateDecision{
		Allowed:   hits <= limit,
		Limit:     limit,
		Remaining: limit - hits,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		// Round up to whole seconds for the Retry-After header.
		d.RetryAfter = ttl.Truncate(time.Second)
		if d.RetryAfter < ttl || d.RetryAfter == 0 {
			d.RetryAfter += time.Second
		}
	}
	return d
}
