package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
	"github.com/sandeepkv93/ticket-access-service/internal/service"
)

type contextKey string

const (
	ClaimsContextKey   contextKey = "claims"
	IdentityContextKey contextKey = "identity"
)

// IdentityResolver turns verified claims into the live caller identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *security.Claims) (*service.Identity, error)
}

// AuthMiddleware accepts bearer access tokens only. Signature and expiry are
// checked locally, then the resolver rejects tokens minted before the user's
// latest token-version bump.
func AuthMiddleware(jwtMgr *security.JWTManager, resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.FromError(w, r, service.ErrUnauthenticated)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", "bearer")
				response.Error(w, r, http.StatusUnauthorized, "unauthorized", "Invalid access token", nil)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			if resolver != nil {
				identity, err := resolver.Resolve(ctx, claims)
				if err != nil {
					response.FromError(w, r, err)
					return
				}
				ctx = context.WithValue(ctx, IdentityContextKey, identity)
			} else {
				observability.RecordAccessTokenValidation(r.Context(), "valid", "bearer")
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func IdentityFromContext(ctx context.Context) (*service.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(*service.Identity)
	return id, ok && id != nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
