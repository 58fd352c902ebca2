package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByHash(ctx context.Context, hash string) (*domain.Session, error)
	FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error)
	FindActiveByFamilyForUser(ctx context.Context, userID uint, familyID string, now time.Time) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error)
	Rotate(ctx context.Context, oldHash string, successor *domain.Session, now time.Time) (*domain.Session, error)
	MarkReuseAndRevokeFamily(ctx context.Context, hash string, now time.Time) (int64, error)
	RevokeByHash(ctx context.Context, hash, reason string, now time.Time) (bool, error)
	RevokeByIDForUser(ctx context.Context, userID, sessionID uint, reason string, now time.Time) (bool, error)
	RevokeOthersByUser(ctx context.Context, userID, keepSessionID uint, reason string, now time.Time) (int64, error)
	RevokeByUserID(ctx context.Context, userID uint, reason string, now time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	recordOp(ctx, "session", "create", err)
	return err
}

func (r *GormSessionRepository) FindByHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	recordOp(ctx, "session", "find_by_hash", err)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForUser(ctx context.Context, userID, sessionID uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, sessionID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	recordOp(ctx, "session", "find_by_id_for_user", err)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindActiveByFamilyForUser returns the live head of a rotation chain.
func (r *GormSessionRepository) FindActiveByFamilyForUser(ctx context.Context, userID uint, familyID string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND family_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, familyID, now).
		Order("id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSessionNotFound
	}
	recordOp(ctx, "session", "find_active_by_family_for_user", err)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("created_at DESC").
		Find(&sessions).Error
	recordOp(ctx, "session", "list_active_by_user_id", err)
	return sessions, err
}

// Rotate revokes the live session identified by oldHash and inserts its
// successor in the same family. The revocation is a conditional update, so of
// two concurrent rotations of one token exactly one succeeds; the loser gets
// ErrSessionNotFound. The revoked predecessor is returned.
func (r *GormSessionRepository) Rotate(ctx context.Context, oldHash string, successor *domain.Session, now time.Time) (*domain.Session, error) {
	var old domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Session{}).
			Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", oldHash, now).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": domain.RevokeReasonRotated})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Where("token_hash = ?", oldHash).First(&old).Error; err != nil {
			return err
		}
		successor.UserID = old.UserID
		successor.FamilyID = old.FamilyID
		successor.ParentID = &old.ID
		if err := tx.Create(successor).Error; err != nil {
			return err
		}
		old.ReplacedByID = &successor.ID
		return tx.Model(&domain.Session{}).Where("id = ?", old.ID).
			UpdateColumn("replaced_by_id", successor.ID).Error
	})
	recordOp(ctx, "session", "rotate", err)
	if err != nil {
		return nil, err
	}
	return &old, nil
}

// MarkReuseAndRevokeFamily flags the presented token as replayed and revokes
// every live session in its family.
func (r *GormSessionRepository) MarkReuseAndRevokeFamily(ctx context.Context, hash string, now time.Time) (int64, error) {
	var revoked int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		if err := tx.Where("token_hash = ?", hash).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if err := tx.Model(&domain.Session{}).Where("id = ?", s.ID).
			Updates(map[string]any{"reuse_detected_at": now}).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.Session{}).
			Where("family_id = ? AND revoked_at IS NULL", s.FamilyID).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": domain.RevokeReasonReuseDetected})
		revoked = res.RowsAffected
		return res.Error
	})
	recordOp(ctx, "session", "mark_reuse_and_revoke_family", err)
	return revoked, err
}

func (r *GormSessionRepository) RevokeByHash(ctx context.Context, hash, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	recordOp(ctx, "session", "revoke_by_hash", res.Error)
	return res.RowsAffected > 0, res.Error
}

func (r *GormSessionRepository) RevokeByIDForUser(ctx context.Context, userID, sessionID uint, reason string, now time.Time) (bool, error) {
	if _, err := r.FindByIDForUser(ctx, userID, sessionID); err != nil {
		recordOp(ctx, "session", "revoke_by_id_for_user", err)
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND id = ? AND revoked_at IS NULL", userID, sessionID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	recordOp(ctx, "session", "revoke_by_id_for_user", res.Error)
	return res.RowsAffected > 0, res.Error
}

func (r *GormSessionRepository) RevokeOthersByUser(ctx context.Context, userID, keepSessionID uint, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND id <> ? AND revoked_at IS NULL", userID, keepSessionID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	recordOp(ctx, "session", "revoke_others_by_user", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID uint, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	recordOp(ctx, "session", "revoke_by_user_id", res.Error)
	return res.RowsAffected, res.Error
}

// DeleteExpiredBefore garbage-collects sessions whose expiry lies before
// cutoff, which callers place well in the past so reuse detection still sees
// recently rotated tokens.
func (r *GormSessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&domain.Session{})
	recordOp(ctx, "session", "delete_expired_before", res.Error)
	return res.RowsAffected, res.Error
}
