package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "X-Idempotency-Replayed"
	maxIdempotencyKeyLength   = 128
)

type IdempotencyMiddleware struct {
	store service.IdempotencyStore
	ttl   time.Duration
}

func NewIdempotencyMiddleware(store service.IdempotencyStore, ttl time.Duration) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyMiddleware{store: store, ttl: ttl}
}

// Middleware is opt-in per request: without an Idempotency-Key header the
// request runs normally. Keys are namespaced by caller so two users cannot
// collide or read each other's replies.
func (m *IdempotencyMiddleware) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" || m.store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				response.Error(w, r, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key is too long", nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				response.Error(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			storeKey := idempotencyOwner(r) + ":" + key
			fingerprint := requestFingerprint(r, body)
			begin, err := m.store.Begin(r.Context(), scope, storeKey, fingerprint, m.ttl)
			if err != nil {
				response.FromError(w, r, err)
				return
			}
			switch begin.State {
			case service.IdempotencyStateReplay:
				writeReplay(w, begin.Cached)
				return
			case service.IdempotencyStateInProgress:
				response.Error(w, r, http.StatusConflict, "request_in_progress", "request with this idempotency key is in progress", nil)
				return
			case service.IdempotencyStateConflict:
				response.Error(w, r, http.StatusConflict, service.ErrIdempotencyConflict.Code, service.ErrIdempotencyConflict.Message, nil)
				return
			}

			rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			stored := false
			// Runs on panic too, so a crashed handler never pins the key in
			// progress.
			defer func() {
				if !stored {
					m.release(r, scope, storeKey, fingerprint)
				}
			}()
			next.ServeHTTP(rec, r)

			// Server errors stay retryable. Responses that set cookies are not
			// replayable since the replay would carry none of them.
			if rec.status >= http.StatusInternalServerError || len(rec.Header().Values("Set-Cookie")) > 0 {
				return
			}
			cached := service.CachedHTTPResponse{
				StatusCode:  rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := m.store.Complete(r.Context(), scope, storeKey, fingerprint, cached, m.ttl); err != nil {
				slog.WarnContext(r.Context(), "idempotency complete failed", "scope", scope, "error", err)
				return
			}
			stored = true
		})
	}
}

func (m *IdempotencyMiddleware) release(r *http.Request, scope, key, fingerprint string) {
	if err := m.store.Release(context.WithoutCancel(r.Context()), scope, key, fingerprint); err != nil {
		slog.WarnContext(r.Context(), "idempotency release failed", "scope", scope, "error", err)
	}
}

func idempotencyOwner(r *http.Request) string {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		return "u" + strconv.FormatUint(uint64(identity.UserID), 10)
	}
	return "ip" + clientIPKey(r)
}

func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Method)
	_, _ = io.WriteString(h, "\n")
	_, _ = io.WriteString(h, r.URL.Path)
	_, _ = io.WriteString(h, "\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func writeReplay(w http.ResponseWriter, cached *service.CachedHTTPResponse) {
	if cached == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.Header().Set(IdempotencyReplayedHeader, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

type capturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
