package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// quotaScript evaluates a Quota atomically per key with the same bucket and
// window rules as the memory limiter.
//
// KEYS[1] bucket hash, KEYS[2] window zset
// ARGV: now_ms, window_ms, limit, capacity, refill_per_ms, member
// returns {allowed, remaining, retry_ms, reset_ms, reason(0 none, 1 bucket, 2 window)}
var quotaScript = redis.NewScript(`
local bucket_key = KEYS[1]
local window_key = KEYS[2]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])
local refill_per_ms = tonumber(ARGV[5])
local member = ARGV[6]

redis.call('ZREMRANGEBYSCORE', window_key, '-inf', now_ms - window_ms)
local hits = redis.call('ZCARD', window_key)

local state = redis.call('HMGET', bucket_key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now_ms
end
if now_ms > ts then
  tokens = math.min(capacity, tokens + (now_ms - ts) * refill_per_ms)
  ts = now_ms
end

local reason = 0
local bucket_retry = 0
if tokens < 1 then
  bucket_retry = math.ceil((1 - tokens) / refill_per_ms)
  reason = 1
end
local window_retry = 0
if hits >= limit then
  local oldest = redis.call('ZRANGE', window_key, 0, 0, 'WITHSCORES')
  window_retry = math.max(tonumber(oldest[2]) + window_ms - now_ms, 1)
  if window_retry >= bucket_retry then
    reason = 2
  end
end

local allowed = 0
if bucket_retry <= 0 and window_retry <= 0 then
  allowed = 1
  tokens = math.max(tokens - 1, 0)
  redis.call('ZADD', window_key, now_ms, member)
  hits = hits + 1
end

redis.call('HSET', bucket_key, 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', bucket_key, window_ms * 2)
redis.call('PEXPIRE', window_key, window_ms)

local remaining = math.min(math.floor(tokens), limit - hits)
if remaining < 0 then
  remaining = 0
end
local reset_ms = now_ms + window_ms
local first = redis.call('ZRANGE', window_key, 0, 0, 'WITHSCORES')
if first[2] ~= nil then
  reset_ms = tonumber(first[2]) + window_ms
end
return {allowed, remaining, math.max(bucket_retry, window_retry), reset_ms, reason}
`)

type redisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisLimiter shares quota state across replicas. Both keys of a subject
// carry the same hash tag so the script stays cluster safe.
func NewRedisLimiter(client redis.UniversalClient, prefix string) Limiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &redisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *redisLimiter) Allow(ctx context.Context, key string, q Quota) (Verdict, error) {
	q = q.normalized()
	now := l.now()
	sum := sha256.Sum256([]byte(key))
	tag := hex.EncodeToString(sum[:8])
	keys := []string{l.prefix + ":{" + tag + "}:bucket", l.prefix + ":{" + tag + "}:window"}

	reply, err := quotaScript.Run(ctx, l.client, keys,
		now.UnixMilli(),
		q.Window.Milliseconds(),
		q.Limit,
		q.Burst,
		q.refillPerSecond()/1000,
		strconv.FormatInt(now.UnixNano(), 36)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Verdict{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(reply) != 5 {
		return Verdict{}, fmt.Errorf("rate limit script: reply has %d fields", len(reply))
	}

	v := Verdict{
		Allowed:    reply[0] == 1,
		Remaining:  int(reply[1]),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
		ResetAt:    time.UnixMilli(reply[3]),
	}
	if v.Allowed {
		v.RetryAfter = 0
		return v, nil
	}
	v.Cause = "window"
	if reply[4] == 1 {
		v.Cause = "bucket"
	}
	if v.RetryAfter <= 0 {
		v.RetryAfter = time.Second
	}
	v.ResetAt = now.Add(v.RetryAfter)
	return v, nil
}
