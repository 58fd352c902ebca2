package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var idempotencyBeginScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local ttl_ms = tonumber(ARGV[2])

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "fingerprint", fingerprint, "status", "in_progress")
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new"}
end

local vals = redis.call("HMGET", key, "fingerprint", "status", "response_status", "content_type", "response_body")
if vals[1] ~= fingerprint then
  return {"conflict"}
end
if vals[2] ~= "completed" then
  return {"in_progress"}
end
return {"replay", vals[3] or "", vals[4] or "", vals[5] or ""}
`)

var idempotencyCompleteScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "fingerprint") ~= ARGV[1] then
  return 0
end
redis.call("HSET", key, "status", "completed", "response_status", ARGV[2], "content_type", ARGV[3], "response_body", ARGV[4])
redis.call("PEXPIRE", key, tonumber(ARGV[5]))
return 1
`)

var idempotencyReleaseScript = redis.NewScript(`
local key = KEYS[1]
local vals = redis.call("HMGET", key, "fingerprint", "status")
if vals[1] == ARGV[1] and vals[2] == "in_progress" then
  return redis.call("DEL", key)
end
return 0
`)

type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "idempotency"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	raw, err := idempotencyBeginScript.Run(ctx, s.client, []string{s.redisKey(scope, key)}, fingerprint, ttl.Milliseconds()).StringSlice()
	if err != nil {
		return IdempotencyBeginResult{}, err
	}
	if len(raw) == 0 {
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: empty script result")
	}
	switch IdempotencyState(raw[0]) {
	case IdempotencyStateNew, IdempotencyStateConflict, IdempotencyStateInProgress:
		return IdempotencyBeginResult{State: IdempotencyState(raw[0])}, nil
	case IdempotencyStateReplay:
	default:
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: unknown state %q", raw[0])
	}
	if len(raw) != 4 {
		return IdempotencyBeginResult{}, fmt.Errorf("idempotency begin: malformed replay record")
	}
	status, err := strconv.Atoi(raw[1])
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("parse replay status: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(raw[3])
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("decode replay body: %w", err)
	}
	return IdempotencyBeginResult{
		State:  IdempotencyStateReplay,
		Cached: &CachedHTTPResponse{StatusCode: status, ContentType: raw[2], Body: body},
	}, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error {
	return idempotencyCompleteScript.Run(ctx, s.client, []string{s.redisKey(scope, key)},
		fingerprint,
		strconv.Itoa(resp.StatusCode),
		resp.ContentType,
		base64.StdEncoding.EncodeToString(resp.Body),
		ttl.Milliseconds(),
	).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key, fingerprint string) error {
	return idempotencyReleaseScript.Run(ctx, s.client, []string{s.redisKey(scope, key)}, fingerprint).Err()
}

func (s *RedisIdempotencyStore) redisKey(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, normalizeToken(scope), hashToken(key))
}
