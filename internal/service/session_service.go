package service

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/repository"
)

type SessionView struct {
	ID        uint      `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip"`
	IsCurrent bool      `json:"is_current"`
}

type SessionService struct {
	sessionRepo repository.SessionRepository
	now         func() time.Time
}

func NewSessionService(sessionRepo repository.SessionRepository) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionService) ListActiveSessions(ctx context.Context, userID, currentSessionID uint) ([]SessionView, error) {
	sessions, err := s.sessionRepo.ListActiveByUserID(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:        session.ID,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
			UserAgent: session.UserAgent,
			IP:        session.IP,
			IsCurrent: session.ID == currentSessionID,
		})
	}
	return views, nil
}

// ResolveCurrentSessionID maps the caller's access token to the live head of
// the rotation chain it was minted for.
func (s *SessionService) ResolveCurrentSessionID(ctx context.Context, id Identity) (uint, error) {
	if id.SessionFamily == "" {
		return 0, ErrSessionNotFound
	}
	session, err := s.sessionRepo.FindActiveByFamilyForUser(ctx, id.UserID, id.SessionFamily, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return 0, ErrSessionNotFound
		}
		return 0, err
	}
	return session.ID, nil
}

func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID uint) (string, error) {
	changed, err := s.sessionRepo.RevokeByIDForUser(ctx, userID, sessionID, domain.RevokeReasonUserRevoked, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	if !changed {
		return "already_revoked", nil
	}
	return "revoked", nil
}

func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID, currentSessionID uint) (int64, error) {
	return s.sessionRepo.RevokeOthersByUser(ctx, userID, currentSessionID, domain.RevokeReasonRevokeOthers, s.now())
}
