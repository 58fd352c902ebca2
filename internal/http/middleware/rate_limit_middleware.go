package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

// Quota allows at most Limit requests per key in any Window. Bursts draw
// from a bucket of Burst tokens refilled at Limit per Window.
type Quota struct {
	Limit  int
	Window time.Duration
	Burst  int
}

func PerMinute(n int) Quota {
	return Quota{Limit: n, Window: time.Minute}.normalized()
}

func (q Quota) normalized() Quota {
	if q.Limit <= 0 {
		q.Limit = 1
	}
	if q.Window <= 0 {
		q.Window = time.Minute
	}
	if q.Burst < q.Limit {
		q.Burst = q.Limit
	}
	return q
}

func (q Quota) refillPerSecond() float64 {
	return float64(q.Limit) / q.Window.Seconds()
}

type Verdict struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
	// Cause is "bucket" or "window" on denial.
	Cause string
}

type Limiter interface {
	Allow(ctx context.Context, key string, q Quota) (Verdict, error)
}

type KeyFunc func(r *http.Request) string

// BypassFunc exempts a request from limiting and names why.
type BypassFunc func(r *http.Request) (bool, string)

type RateLimitOptions struct {
	// Scope labels metrics and logs, e.g. "api" or "auth".
	Scope string
	// Limiter defaults to a process-local limiter.
	Limiter Limiter
	// Key defaults to the client IP.
	Key    KeyFunc
	Bypass BypassFunc
	// FailOpen lets requests through when the limiter backend errors.
	FailOpen bool
}

// RateLimit rejects requests over q with 429 and X-RateLimit-* headers.
func RateLimit(q Quota, opts RateLimitOptions) func(http.Handler) http.Handler {
	q = q.normalized()
	if opts.Scope == "" {
		opts.Scope = "api"
	}
	if opts.Limiter == nil {
		opts.Limiter = NewMemoryLimiter()
	}
	if opts.Key == nil {
		opts.Key = clientIPKey
	}
	mode := "fail_closed"
	if opts.FailOpen {
		mode = "fail_open"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if opts.Bypass != nil {
				if skip, why := opts.Bypass(r); skip {
					observability.RecordRateLimitDecision(ctx, opts.Scope, "bypass", mode, "none")
					slog.DebugContext(ctx, "rate limit bypassed", "scope", opts.Scope, "reason", why, "path", r.URL.Path)
					next.ServeHTTP(w, r)
					return
				}
			}

			key := opts.Key(r)
			if key == "" {
				key = clientIPKey(r)
			}
			keyType := "ip"
			if strings.HasPrefix(key, "sub:") {
				keyType = "subject"
			}

			v, err := opts.Limiter.Allow(ctx, key, q)
			if err != nil {
				observability.RecordRateLimitDecision(ctx, opts.Scope, "backend_error", mode, keyType)
				if opts.FailOpen {
					slog.WarnContext(ctx, "rate limiter unavailable, allowing request", "scope", opts.Scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				v = Verdict{RetryAfter: q.Window, ResetAt: time.Now().Add(q.Window), Cause: "backend"}
			}

			setQuotaHeaders(w.Header(), q.Limit, v)
			if !v.Allowed {
				if err == nil {
					observability.RecordRateLimitDecision(ctx, opts.Scope, "deny", mode, keyType)
				}
				w.Header().Set("Retry-After", retryAfterSeconds(v.RetryAfter))
				observability.RecordRateLimitRetryAfter(ctx, opts.Scope, v.Cause, v.RetryAfter)
				response.Error(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(ctx, opts.Scope, "allow", mode, keyType)
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectOrIPKeyFunc charges authenticated callers by user id and everyone
// else by client IP. The token is only parsed, not checked against the store:
// a forged token merely picks a different bucket.
func SubjectOrIPKeyFunc(jwtMgr *security.JWTManager) KeyFunc {
	return func(r *http.Request) string {
		if jwtMgr == nil {
			return clientIPKey(r)
		}
		raw := bearerToken(r)
		if raw == "" {
			return clientIPKey(r)
		}
		claims, err := jwtMgr.ParseAccessToken(raw)
		if err != nil || claims.Subject == "" {
			return clientIPKey(r)
		}
		return "sub:" + claims.Subject
	}
}

// ProbeBypass exempts liveness and readiness probes.
func ProbeBypass(r *http.Request) (bool, string) {
	if strings.HasPrefix(r.URL.Path, "/health/") {
		return true, "health_probe"
	}
	return false, ""
}

func clientIPKey(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(strings.TrimSpace(host)); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func retryAfterSeconds(d time.Duration) string {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

func setQuotaHeaders(h http.Header, limit int, v Verdict) {
	reset := v.ResetAt
	if reset.IsZero() {
		reset = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(v.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

type memoryLimiter struct {
	mu        sync.Mutex
	keys      map[string]*keyUsage
	nextSweep time.Time
	now       func() time.Time
}

// keyUsage combines a token bucket with a log of admitted requests.
type keyUsage struct {
	tokens   float64
	refilled time.Time
	admitted []time.Time
}

// NewMemoryLimiter keeps quota state in process. Replicas do not share it.
func NewMemoryLimiter() Limiter {
	return &memoryLimiter{keys: make(map[string]*keyUsage), now: time.Now}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, q Quota) (Verdict, error) {
	q = q.normalized()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(now, q.Window)

	u, ok := m.keys[key]
	if !ok {
		u = &keyUsage{tokens: float64(q.Burst), refilled: now}
		m.keys[key] = u
	}
	u.refill(now, q)
	u.forget(now.Add(-q.Window))

	var v Verdict
	var bucketWait, windowWait time.Duration
	if u.tokens < 1 {
		bucketWait = time.Duration(math.Ceil((1 - u.tokens) / q.refillPerSecond() * float64(time.Second)))
		v.Cause = "bucket"
	}
	if len(u.admitted) >= q.Limit {
		windowWait = max(u.admitted[0].Add(q.Window).Sub(now), 0)
		if windowWait >= bucketWait {
			v.Cause = "window"
		}
	}

	v.Allowed = bucketWait <= 0 && windowWait <= 0
	if v.Allowed {
		u.tokens = max(u.tokens-1, 0)
		u.admitted = append(u.admitted, now)
		v.Cause = ""
	}
	v.Remaining = max(min(int(math.Floor(u.tokens)), q.Limit-len(u.admitted)), 0)

	if v.Allowed {
		v.ResetAt = u.admitted[0].Add(q.Window)
		return v, nil
	}
	v.RetryAfter = max(bucketWait, windowWait)
	if v.RetryAfter <= 0 {
		v.RetryAfter = time.Second
	}
	v.ResetAt = now.Add(v.RetryAfter)
	return v, nil
}

func (m *memoryLimiter) sweep(now time.Time, window time.Duration) {
	if now.Before(m.nextSweep) {
		return
	}
	for k, u := range m.keys {
		if now.Sub(u.refilled) > 2*window && (len(u.admitted) == 0 || now.Sub(u.admitted[len(u.admitted)-1]) > window) {
			delete(m.keys, k)
		}
	}
	m.nextSweep = now.Add(window)
}

func (u *keyUsage) refill(now time.Time, q Quota) {
	if !now.After(u.refilled) {
		return
	}
	u.tokens = min(float64(q.Burst), u.tokens+now.Sub(u.refilled).Seconds()*q.refillPerSecond())
	u.refilled = now
}

func (u *keyUsage) forget(cutoff time.Time) {
	i := 0
	for i < len(u.admitted) && !u.admitted[i].After(cutoff) {
		i++
	}
	u.admitted = u.admitted[i:]
}
