package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit logs a security relevant action. Never pass raw tokens or passwords.
func Audit(r *http.Request, event string, attrs ...any) {
	reqID := chimiddleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = r.Header.Get("X-Request-Id")
	}
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", reqID,
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
