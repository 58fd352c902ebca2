package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var registerFailureScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local free = tonumber(ARGV[2])
local base_ms = tonumber(ARGV[3])
local mult = tonumber(ARGV[4])
local max_ms = tonumber(ARGV[5])
local reset_ms = tonumber(ARGV[6])
local ttl_ms = tonumber(ARGV[7])

local state = redis.call('HMGET', KEYS[1], 'failures', 'last_failure_ms')
local failures = tonumber(state[1]) or 0
local last = tonumber(state[2]) or 0
if now_ms - last > reset_ms then
	failures = 0
end
failures = failures + 1

local delay = 0
if failures > free then
	delay = base_ms * (mult ^ (failures - free - 1))
	if delay > max_ms then
		delay = max_ms
	end
end
delay = math.floor(delay)

redis.call('HSET', KEYS[1], 'failures', failures, 'last_failure_ms', now_ms, 'cooldown_until_ms', now_ms + delay)
redis.call('PEXPIRE', KEYS[1], ttl_ms)
return delay
`)

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: policy.withDefaults(),
		now:    time.Now,
	}
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, hashToken(value))
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	keys := []string{g.stateKey(scope, "id", normalizeAuthIdentity(identity))}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	nowMS := g.now().UnixMilli()
	var wait time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		raw, err := g.client.HGet(ctx, key, "cooldown_until_ms").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, err
		}
		until, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse cooldown for %s: %w", key, err)
		}
		if d := time.Duration(until-nowMS) * time.Millisecond; d > wait {
			wait = d
		}
	}
	return wait, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	p := g.policy
	ttl := p.ResetWindow + p.MaxDelay
	var wait time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		delayMS, err := registerFailureScript.Run(ctx, g.client, []string{key},
			g.now().UnixMilli(),
			p.FreeAttempts,
			p.BaseDelay.Milliseconds(),
			p.Multiplier,
			p.MaxDelay.Milliseconds(),
			p.ResetWindow.Milliseconds(),
			ttl.Milliseconds(),
		).Int64()
		if err != nil {
			return 0, fmt.Errorf("register failure: %w", err)
		}
		if d := time.Duration(delayMS) * time.Millisecond; d > wait {
			wait = d
		}
	}
	return wait, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity string) error {
	return g.client.Del(ctx, g.stateKey(scope, "id", normalizeAuthIdentity(identity))).Err()
}
