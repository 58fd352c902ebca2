package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeForgot AuthAbuseScope = "forgot"
)

// AuthAbusePolicy grants FreeAttempts failures, then imposes an exponentially
// growing cooldown capped at MaxDelay. State resets after ResetWindow without
// failures.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p AuthAbusePolicy) withDefaults() AuthAbusePolicy {
	if p.FreeAttempts <= 0 {
		p.FreeAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 15 * time.Minute
	}
	return p
}

func (p AuthAbusePolicy) delayFor(failures int) time.Duration {
	if failures <= p.FreeAttempts {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(failures-p.FreeAttempts-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// AuthAbuseGuard throttles repeated failures per identity and per client IP.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	// Reset clears the identity's state after a success. Per-IP state is left
	// to expire so a caller cannot clear it by logging into their own account.
	Reset(ctx context.Context, scope AuthAbuseScope, identity string) error
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

type NoopAuthAbuseGuard struct{}

func (NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string) error { return nil }

type abuseState struct {
	failures      int
	lastFailure   time.Time
	cooldownUntil time.Time
}

type InMemoryAuthAbuseGuard struct {
	mu        sync.Mutex
	policy    AuthAbusePolicy
	state     map[string]*abuseState
	nextSweep time.Time
	now       func() time.Time
}

func NewInMemoryAuthAbuseGuard(policy AuthAbusePolicy) *InMemoryAuthAbuseGuard {
	return &InMemoryAuthAbuseGuard{
		policy: policy.withDefaults(),
		state:  make(map[string]*abuseState),
		now:    time.Now,
	}
}

func memoryAbuseKeys(scope AuthAbuseScope, identity, ip string) []string {
	keys := []string{string(scope) + ":id:" + normalizeAuthIdentity(identity)}
	if ip != "" {
		keys = append(keys, string(scope)+":ip:"+ip)
	}
	return keys
}

func (g *InMemoryAuthAbuseGuard) Check(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.sweep(now)
	var wait time.Duration
	for _, k := range memoryAbuseKeys(scope, identity, ip) {
		if st, ok := g.state[k]; ok {
			if d := st.cooldownUntil.Sub(now); d > wait {
				wait = d
			}
		}
	}
	return wait, nil
}

func (g *InMemoryAuthAbuseGuard) RegisterFailure(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.sweep(now)
	var wait time.Duration
	for _, k := range memoryAbuseKeys(scope, identity, ip) {
		st, ok := g.state[k]
		if !ok || now.Sub(st.lastFailure) > g.policy.ResetWindow {
			st = &abuseState{}
			g.state[k] = st
		}
		st.failures++
		st.lastFailure = now
		d := g.policy.delayFor(st.failures)
		st.cooldownUntil = now.Add(d)
		if d > wait {
			wait = d
		}
	}
	return wait, nil
}

func (g *InMemoryAuthAbuseGuard) Reset(_ context.Context, scope AuthAbuseScope, identity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.state, memoryAbuseKeys(scope, identity, "")[0])
	return nil
}

// sweep drops entries whose cooldown ended and whose failures aged out of the
// reset window. It runs at most once per window.
func (g *InMemoryAuthAbuseGuard) sweep(now time.Time) {
	if now.Before(g.nextSweep) {
		return
	}
	for k, st := range g.state {
		if now.Sub(st.lastFailure) > g.policy.ResetWindow && !now.Before(st.cooldownUntil) {
			delete(g.state, k)
		}
	}
	g.nextSweep = now.Add(g.policy.ResetWindow)
}

// Len reports how many identities and IPs are tracked.
func (g *InMemoryAuthAbuseGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.state)
}
