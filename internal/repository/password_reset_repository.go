package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

// ErrResetTokenInvalid covers unknown, expired and already used tokens alike.
var ErrResetTokenInvalid = errors.New("password reset token invalid")

type PasswordResetRepository interface {
	Create(ctx context.Context, t *domain.PasswordResetToken) error
	ConsumeAndSetPassword(ctx context.Context, userID uint, tokenHash, passwordHash string, now time.Time) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormPasswordResetRepository struct{ db *gorm.DB }

func NewPasswordResetRepository(db *gorm.DB) PasswordResetRepository {
	return &GormPasswordResetRepository{db: db}
}

func (r *GormPasswordResetRepository) Create(ctx context.Context, t *domain.PasswordResetToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	recordOp(ctx, "password_reset", "create", err)
	return err
}

// ConsumeAndSetPassword marks the token used with a conditional update and,
// in the same transaction, stores the new hash and bumps the token version.
// Any other outstanding tokens of the user are burned too.
func (r *GormPasswordResetRepository) ConsumeAndSetPassword(ctx context.Context, userID uint, tokenHash, passwordHash string, now time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.PasswordResetToken{}).
			Where("token_hash = ? AND user_id = ? AND used_at IS NULL AND expires_at > ?", tokenHash, userID, now).
			UpdateColumn("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrResetTokenInvalid
		}
		if err := updatePasswordHash(tx, userID, passwordHash); err != nil {
			return err
		}
		return tx.Model(&domain.PasswordResetToken{}).
			Where("user_id = ? AND used_at IS NULL", userID).
			UpdateColumn("used_at", now).Error
	})
	recordOp(ctx, "password_reset", "consume", err)
	return err
}

func (r *GormPasswordResetRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&domain.PasswordResetToken{})
	recordOp(ctx, "password_reset", "delete_expired_before", res.Error)
	return res.RowsAffected, res.Error
}
