package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// token bucket kept in one hash per key: refilled lazily on every call
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)
local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) / rate)
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', KEYS[1], math.ceil(capacity / rate) + 1)
return {allowed, math.floor(tokens), capacity, retry}
`

type Rule struct {
	Limit      int // bucket size
	RefillRate int // requests/s
}

type RateLimitInfo struct {
	Allowed           bool
	Remaining         int
	Limit             int
	RetryAfterSeconds int
}

type RateLimiter struct {
	redis  redis.UniversalClient
	rule   Rule
	prefix string
	script *redis.Script
	now    func() time.Time
	logger *zap.Logger
}

func NewRateLimiter(r redis.UniversalClient, prefix string, rule Rule, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  r,
		rule:   rule,
		prefix: prefix,
		script: redis.NewScript(tokenBucketScript),
		now:    time.Now,
		logger: logger,
	}
}

// Allow takes one token from the bucket of userId. Redis failures fail open.
func (rl *RateLimiter) Allow(ctx context.Context, userId int64) (RateLimitInfo, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", rl.prefix, userId)
	args := []any{rl.rule.RefillRate, rl.rule.Limit, rl.now().Unix()}
	res, err := rl.script.Run(ctx, rl.redis, []string{key}, args...).Int64Slice()
	if err != nil {
		rl.logger.Warn("Rate limiter unavailable", zap.Int64("user_id", userId), zap.Error(err))
		return RateLimitInfo{Allowed: true}, err
	}
	if len(res) < 4 {
		return RateLimitInfo{Allowed: true}, nil
	}
	return RateLimitInfo{
		Allowed:           res[0] == 1,
		Remaining:         int(res[1]),
		Limit:             int(res[2]),
		RetryAfterSeconds: int(res[3]),
	}, nil
}

// limit must wrap a handler that already went through authorize.
func (rl *RateLimiter) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := rl.Allow(r.Context(), callerID(r.Context()))
		if err == nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !info.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(info.RetryAfterSeconds))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many messages, slow down"})
			return
		}
		next(w, r)
	}
}

func (rl *RateLimiter) close() {
	if err := rl.redis.Close(); err != nil {
		rl.logger.Warn("Closing rateLimiter Error", zap.Error(err))
	}
}
