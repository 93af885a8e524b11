package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit describes a token bucket: sustained requests per second plus a
// burst capacity.
type Limit struct {
	PerSecond float64
	Burst     float64
}

func (l Limit) enabled() bool {
	return l.PerSecond > 0 && l.Burst > 0
}

// Limiter throttles gateway traffic per client using a Redis-backed
// token bucket. Reads and mutations carry independent limits so a
// polling client cannot starve writers.
type Limiter struct {
	client redis.Cmdable
	query  Limit
	mutate Limit
	bucket *redis.Script
}

func NewLimiter(client redis.Cmdable, query, mutate Limit) *Limiter {
	if client == nil {
		return nil
	}
	return &Limiter{
		client: client,
		query:  query,
		mutate: mutate,
		bucket: redis.NewScript(tokenBucketScript),
	}
}

// Handler wraps next with rate limiting. A nil Limiter is a no-op so
// the gateway can run without Redis.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	if l == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, scope := l.mutate, "mutate"
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			limit, scope = l.query, "query"
		}
		if !limit.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter, err := l.take(r.Context(), scope, callerID(r), limit)
		if err != nil {
			http.Error(w, "rate limit unavailable", http.StatusInternalServerError)
			return
		}
		if !allowed {
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(retryAfter)))
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) take(ctx context.Context, scope, caller string, limit Limit) (bool, time.Duration, error) {
	key := "ratelimit:" + scope + ":" + caller
	res, err := l.bucket.Run(ctx, l.client, []string{key},
		time.Now().UnixMilli(), limit.PerSecond, limit.Burst, 1).Result()
	if err != nil {
		return false, 0, err
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, 0, errors.New("malformed token bucket reply")
	}
	granted, err := replyInt(reply[0])
	if err != nil {
		return false, 0, err
	}
	if granted == 1 {
		return true, 0, nil
	}
	waitSec, err := replyFloat(reply[1])
	if err != nil {
		return false, 0, err
	}
	return false, time.Duration(waitSec * float64(time.Second)), nil
}

// callerID prefers an explicit client header, then the first forwarded
// address, then the socket peer.
func callerID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "anonymous"
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func replyFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case int64:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, errors.New("unexpected reply type")
	}
}

func replyInt(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, errors.New("unexpected reply type")
	}
}

// tokenBucketScript refills the bucket by elapsed time and takes the
// requested tokens atomically. Returns {granted, wait_seconds}.
const tokenBucketScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local want = tonumber(ARGV[4])

if rate <= 0 then
  return {1, 0}
end

local state = redis.call('HMGET', key, 'tokens', 'refilled_ms')
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])

if tokens == nil then
  tokens = capacity
end
if refilled == nil then
  refilled = now_ms
end

local elapsed = now_ms - refilled
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate / 1000)
  refilled = now_ms
end

local granted = 0
local wait = 0
if tokens >= want then
  granted = 1
  tokens = tokens - want
else
  wait = (want - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'refilled_ms', refilled)
redis.call('PEXPIRE', key, math.ceil(capacity / rate * 1000))

return {granted, wait}
`
