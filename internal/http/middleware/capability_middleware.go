package middleware

import (
	"net/http"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

// RequireCapability must run after AuthMiddleware. Roles come from the
// resolved identity, never from the token claims.
func RequireCapability(capability domain.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				response.FromError(w, r, service.ErrUnauthenticated)
				return
			}
			if !identity.Can(capability) {
				observability.Audit(r, "capability_denied",
					"user_id", identity.UserID,
					"capability", string(capability),
				)
				response.Error(w, r, http.StatusForbidden, service.ErrForbidden.Code, service.ErrForbidden.Message,
					map[string]string{"required": string(capability)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
