package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

// Identity is the authenticated caller as seen by the services. Roles come
// from the live user record, not from the token.
type Identity struct {
	UserID       uint
	Roles        []domain.Role
	TokenVersion uint
	// SessionFamily is the refresh chain the access token was minted for.
	SessionFamily string
}

func (i Identity) Can(c domain.Capability) bool { return domain.Can(i.Roles, c) }

func (i Identity) HasRole(r domain.Role) bool { return domain.HasRole(i.Roles, r) }

// IdentityResolver cross-checks an access token against the live user row.
// Lookups go through a cache that every token-version bump invalidates.
type IdentityResolver struct {
	cache IdentityCacheStore
	users repository.UserRepository
	ttl   time.Duration
	group singleflight.Group
}

func NewIdentityResolver(cache IdentityCacheStore, users repository.UserRepository, ttl time.Duration) *IdentityResolver {
	if cache == nil {
		cache = NewNoopIdentityCacheStore()
	}
	return &IdentityResolver{cache: cache, users: users, ttl: ttl}
}

func (r *IdentityResolver) Resolve(ctx context.Context, claims *security.Claims) (*Identity, error) {
	if claims == nil {
		return nil, ErrUnauthenticated
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthenticated
	}
	live, err := r.lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if live.TokenVersion != claims.TokenVersion {
		observability.RecordAccessTokenValidation(ctx, "version_mismatch", "resolver")
		return nil, ErrAccessTokenRevoked
	}
	observability.RecordAccessTokenValidation(ctx, "valid", "resolver")
	return &Identity{
		UserID:        userID,
		Roles:         live.Roles,
		TokenVersion:  live.TokenVersion,
		SessionFamily: claims.SessionID,
	}, nil
}

func (r *IdentityResolver) lookup(ctx context.Context, userID uint) (*CachedIdentity, error) {
	if r.ttl > 0 {
		cached, ok, err := r.cache.Get(ctx, userID)
		switch {
		case err != nil:
			observability.RecordIdentityCacheEvent(ctx, "error")
		case ok:
			observability.RecordIdentityCacheEvent(ctx, "hit")
			return cached, nil
		default:
			observability.RecordIdentityCacheEvent(ctx, "miss")
		}
	}

	v, err, _ := r.group.Do(strconv.FormatUint(uint64(userID), 10), func() (any, error) {
		user, err := r.users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, ErrAccessTokenRevoked
			}
			return nil, err
		}
		identity := CachedIdentity{TokenVersion: user.TokenVersion, Roles: user.RoleSet()}
		if r.ttl > 0 {
			_ = r.cache.Set(ctx, userID, identity, r.ttl)
		}
		return &identity, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CachedIdentity), nil
}

func (r *IdentityResolver) InvalidateUser(ctx context.Context, userID uint) error {
	return r.cache.InvalidateUser(ctx, userID)
}

func (r *IdentityResolver) InvalidateAll(ctx context.Context) error {
	return r.cache.InvalidateAll(ctx)
}
