package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/events"
	"github.com/sandeepkv93/ticket-access-service/internal/observability"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

type IdentityInvalidator interface {
	InvalidateUser(ctx context.Context, userID uint) error
}

type AuthResult struct {
	AccessToken  string
	ExpiresIn    time.Duration
	RefreshToken string
	User         *domain.User
	Session      *domain.Session
}

type SignupInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Roles     []string
}

type AuthServiceConfig struct {
	AccessTTL        time.Duration
	PasswordResetTTL time.Duration
}

type AuthService struct {
	creds      *CredentialService
	tokens     *TokenService
	jwtMgr     *security.JWTManager
	resets     repository.PasswordResetRepository
	identities IdentityInvalidator
	abuse      AuthAbuseGuard
	publisher  events.Publisher
	logger     *slog.Logger
	cfg        AuthServiceConfig
	now        func() time.Time
}

func NewAuthService(
	creds *CredentialService,
	tokens *TokenService,
	jwtMgr *security.JWTManager,
	resets repository.PasswordResetRepository,
	identities IdentityInvalidator,
	abuse AuthAbuseGuard,
	publisher events.Publisher,
	logger *slog.Logger,
	cfg AuthServiceConfig,
) *AuthService {
	if abuse == nil {
		abuse = NoopAuthAbuseGuard{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		creds:      creds,
		tokens:     tokens,
		jwtMgr:     jwtMgr,
		resets:     resets,
		identities: identities,
		abuse:      abuse,
		publisher:  publisher,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SignupRoles keeps only self-assignable roles; nothing left means USER.
func SignupRoles(raw []string) []domain.Role {
	var out []domain.Role
	for _, s := range raw {
		r, err := domain.ParseRole(s)
		if err != nil || !domain.HasRole(domain.SelfAssignableRoles, r) {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return []domain.Role{domain.RoleUser}
	}
	return domain.SortRoles(out)
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput, meta ClientMeta) (*AuthResult, error) {
	user, err := s.creds.CreateUser(ctx, in.Email, in.Password,
		domain.Profile{FirstName: in.FirstName, LastName: in.LastName}, SignupRoles(in.Roles))
	if err != nil {
		observability.RecordAuthEvent(ctx, "signup", outcomeOf(err))
		return nil, err
	}
	res, err := s.startSession(ctx, user, meta)
	observability.RecordAuthEvent(ctx, "signup", outcomeOf(err))
	return res, err
}

func (s *AuthService) Login(ctx context.Context, email, password string, meta ClientMeta) (*AuthResult, error) {
	wait, err := s.abuse.Check(ctx, AuthAbuseScopeLogin, email, meta.IP)
	if err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard unavailable", "scope", AuthAbuseScopeLogin, "error", err)
	} else if wait > 0 {
		observability.RecordAuthEvent(ctx, "login", "throttled")
		return nil, ErrTooManyAttempts
	}

	user, err := s.creds.VerifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			if _, gerr := s.abuse.RegisterFailure(ctx, AuthAbuseScopeLogin, email, meta.IP); gerr != nil {
				s.logger.WarnContext(ctx, "auth abuse guard register failed", "error", gerr)
			}
		}
		observability.RecordAuthEvent(ctx, "login", outcomeOf(err))
		return nil, err
	}
	if err := s.abuse.Reset(ctx, AuthAbuseScopeLogin, email); err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard reset failed", "error", err)
	}
	res, err := s.startSession(ctx, user, meta)
	observability.RecordAuthEvent(ctx, "login", outcomeOf(err))
	return res, err
}

// Refresh rotates the refresh token and mints an access token from the live
// user row, so role and version changes apply on the next refresh.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta ClientMeta) (*AuthResult, error) {
	redeemed, err := s.tokens.Redeem(ctx, rawRefresh, meta)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenReuseDetected) {
			s.logger.WarnContext(ctx, "refresh token reuse detected", "ip", meta.IP)
		}
		observability.RecordAuthEvent(ctx, "refresh", outcomeOf(err))
		return nil, err
	}
	access, err := s.mintAccess(redeemed.User, redeemed.Session)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthEvent(ctx, "refresh", "success")
	return &AuthResult{
		AccessToken:  access,
		ExpiresIn:    s.cfg.AccessTTL,
		RefreshToken: redeemed.RefreshToken,
		User:         redeemed.User,
		Session:      redeemed.Session,
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, rawRefresh string) error {
	err := s.tokens.Revoke(ctx, rawRefresh)
	observability.RecordAuthEvent(ctx, "logout", outcomeOf(err))
	return err
}

// LogoutAll invalidates every access token of the user and revokes all of its
// refresh sessions.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint) error {
	return s.invalidateEverywhere(ctx, userID, domain.RevokeReasonLogoutAll, 0)
}

// ForgotPassword never reveals whether the email exists; only store failures
// surface as errors.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, meta ClientMeta) error {
	wait, err := s.abuse.Check(ctx, AuthAbuseScopeForgot, email, meta.IP)
	if err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard unavailable", "scope", AuthAbuseScopeForgot, "error", err)
	} else if wait > 0 {
		observability.RecordAuthEvent(ctx, "forgot_password", "throttled")
		return nil
	}
	if _, err := s.abuse.RegisterFailure(ctx, AuthAbuseScopeForgot, email, meta.IP); err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard register failed", "error", err)
	}

	user, err := s.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			observability.RecordAuthEvent(ctx, "forgot_password", "unknown_email")
			return nil
		}
		return err
	}
	raw, err := security.NewOpaqueToken()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.cfg.PasswordResetTTL)
	if err := s.resets.Create(ctx, &domain.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: security.HashResetToken(raw),
		ExpiresAt: expiresAt,
	}); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	ev := events.New(events.TypePasswordResetRequested, map[string]any{
		"user_id":    user.ID,
		"email":      user.Email,
		"token":      raw,
		"expires_at": expiresAt,
	})
	ev.Sensitive = true
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "publish password reset request failed", "user_id", user.ID, "error", err)
	}
	observability.RecordAuthEvent(ctx, "forgot_password", "success")
	return nil
}

// ResetPassword consumes the single-use token, stores the new password and
// bumps the token version atomically, then revokes every session.
func (s *AuthService) ResetPassword(ctx context.Context, userID uint, rawToken, newPassword string) error {
	if userID == 0 || rawToken == "" {
		return ErrInvalidResetToken
	}
	hash, err := s.creds.HashPassword(newPassword)
	if err != nil {
		return err
	}
	err = s.resets.ConsumeAndSetPassword(ctx, userID, security.HashResetToken(rawToken), hash, s.now())
	if err != nil {
		observability.RecordAuthEvent(ctx, "reset_password", "failure")
		if errors.Is(err, repository.ErrResetTokenInvalid) || errors.Is(err, repository.ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if _, err := s.tokens.RevokeAllForUser(ctx, userID, domain.RevokeReasonPasswordReset); err != nil {
		return err
	}
	s.invalidateIdentity(ctx, userID)
	_ = s.publisher.Publish(ctx, events.New(events.TypePasswordResetCompleted, map[string]any{"user_id": userID}))
	observability.RecordAuthEvent(ctx, "reset_password", "success")
	return nil
}

// SetUserRoles replaces a user's roles. The token version bump makes
// outstanding access tokens fail until the client refreshes.
func (s *AuthService) SetUserRoles(ctx context.Context, actor Identity, userID uint, rawRoles []string) (*domain.User, error) {
	if !actor.Can(domain.CapManageUsers) {
		return nil, ErrForbidden
	}
	if len(rawRoles) == 0 {
		return nil, Validation("invalid_roles", "At least one role is required")
	}
	roles, err := domain.RolesFromStrings(rawRoles)
	if err != nil {
		return nil, Validation("invalid_roles", err.Error())
	}
	user, err := s.creds.SetRoles(ctx, userID, roles)
	if err != nil {
		return nil, err
	}
	s.invalidateIdentity(ctx, userID)
	_ = s.publisher.Publish(ctx, events.New(events.TypeUserRolesChanged, map[string]any{
		"user_id":  userID,
		"roles":    domain.RoleStrings(user.RoleSet()),
		"actor_id": actor.UserID,
	}))
	return user, nil
}

func (s *AuthService) ForceLogout(ctx context.Context, actor Identity, userID uint) error {
	if !actor.Can(domain.CapManageUsers) {
		return ErrForbidden
	}
	return s.invalidateEverywhere(ctx, userID, domain.RevokeReasonForceLogout, actor.UserID)
}

func (s *AuthService) invalidateEverywhere(ctx context.Context, userID uint, reason string, actorID uint) error {
	if _, err := s.creds.BumpTokenVersion(ctx, userID); err != nil {
		return err
	}
	revoked, err := s.tokens.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return err
	}
	s.invalidateIdentity(ctx, userID)
	data := map[string]any{"user_id": userID, "reason": reason, "revoked_sessions": revoked}
	if actorID != 0 {
		data["actor_id"] = actorID
	}
	_ = s.publisher.Publish(ctx, events.New(events.TypeUserLoggedOutEverywhere, data))
	observability.RecordAuthEvent(ctx, reason, "success")
	return nil
}

func (s *AuthService) invalidateIdentity(ctx context.Context, userID uint) {
	if s.identities == nil {
		return
	}
	if err := s.identities.InvalidateUser(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "identity cache invalidation failed", "user_id", userID, "error", err)
	}
}

func (s *AuthService) startSession(ctx context.Context, user *domain.User, meta ClientMeta) (*AuthResult, error) {
	raw, session, err := s.tokens.Issue(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}
	access, err := s.mintAccess(user, session)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:  access,
		ExpiresIn:    s.cfg.AccessTTL,
		RefreshToken: raw,
		User:         user,
		Session:      session,
	}, nil
}

func (s *AuthService) mintAccess(user *domain.User, session *domain.Session) (string, error) {
	return s.jwtMgr.SignSessionAccessToken(user.ID, domain.RoleStrings(user.RoleSet()), user.TokenVersion, s.cfg.AccessTTL, session.FamilyID)
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if KindOf(err) == KindTransient {
		return "error"
	}
	return "failure"
}
