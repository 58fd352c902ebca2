package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

type ClientMeta struct {
	UserAgent string
	IP        string
}

// RedeemResult carries the rotated refresh token and the live user the new
// access token must be minted from.
type RedeemResult struct {
	RefreshToken string
	Session      *domain.Session
	User         *domain.User
}

// TokenService is the refresh token ledger: issue, rotate, revoke.
type TokenService struct {
	sessions   repository.SessionRepository
	users      repository.UserRepository
	publisher  events.Publisher
	pepper     string
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(sessions repository.SessionRepository, users repository.UserRepository, publisher events.Publisher, pepper string, refreshTTL time.Duration) *TokenService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &TokenService{
		sessions:   sessions,
		users:      users,
		publisher:  publisher,
		pepper:     pepper,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue starts a new rotation chain for userID.
func (s *TokenService) Issue(ctx context.Context, userID uint, meta ClientMeta) (string, *domain.Session, error) {
	raw, err := security.NewOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	session := &domain.Session{
		UserID:    userID,
		TokenHash: security.HashRefreshToken(raw, s.pepper),
		FamilyID:  uuid.NewString(),
		UserAgent: truncate(meta.UserAgent, 512),
		IP:        truncate(meta.IP, 64),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	return raw, session, nil
}

// Redeem rotates the presented token. Every refresh token is single use:
// presenting one that was already rotated revokes its whole family.
func (s *TokenService) Redeem(ctx context.Context, raw string, meta ClientMeta) (*RedeemResult, error) {
	if raw == "" {
		return nil, ErrInvalidRefreshToken
	}
	now := s.now()
	hash := security.HashRefreshToken(raw, s.pepper)
	current, err := s.sessions.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if current.RevokedAt != nil {
		if current.RevokedReason != nil && (*current.RevokedReason == domain.RevokeReasonRotated || *current.RevokedReason == domain.RevokeReasonReuseDetected) {
			revoked, err := s.sessions.MarkReuseAndRevokeFamily(ctx, hash, now)
			if err != nil {
				return nil, err
			}
			observability.RecordAuthEvent(ctx, "refresh", "reuse_detected")
			_ = s.publisher.Publish(ctx, events.New(events.TypeRefreshReuseDetected, map[string]any{
				"user_id":          current.UserID,
				"revoked_sessions": revoked,
			}))
			return nil, ErrRefreshTokenReuseDetected
		}
		return nil, ErrInvalidRefreshToken
	}
	if !current.ExpiresAt.After(now) {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	nextRaw, err := security.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	successor := &domain.Session{
		TokenHash: security.HashRefreshToken(nextRaw, s.pepper),
		UserAgent: truncate(meta.UserAgent, 512),
		IP:        truncate(meta.IP, 64),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if _, err := s.sessions.Rotate(ctx, hash, successor, now); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// lost a concurrent rotation of the same token
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	return &RedeemResult{RefreshToken: nextRaw, Session: successor, User: user}, nil
}

// Revoke ends the session behind raw. Unknown or already revoked tokens are
// not an error.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	_, err := s.sessions.RevokeByHash(ctx, security.HashRefreshToken(raw, s.pepper), domain.RevokeReasonLogout, s.now())
	return err
}

func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	return s.sessions.RevokeByUserID(ctx, userID, reason, s.now())
}

// truncate caps v at max bytes without splitting a rune. Invalid input is
// scrubbed so the column always holds valid UTF-8.
func truncate(v string, max int) string {
	v = strings.ToValidUTF8(v, "")
	if len(v) <= max {
		return v
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut]
}
