package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

var ErrSettingsNotFound = errors.New("settings not found")

type SettingsRepository interface {
	Get(ctx context.Context, userID uint) (*domain.UserSettings, error)
	Upsert(ctx context.Context, s *domain.UserSettings) error
}

type GormSettingsRepository struct{ db *gorm.DB }

func NewSettingsRepository(db *gorm.DB) SettingsRepository { return &GormSettingsRepository{db: db} }

func (r *GormSettingsRepository) Get(ctx context.Context, userID uint) (*domain.UserSettings, error) {
	var s domain.UserSettings
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrSettingsNotFound
	}
	recordOp(ctx, "settings", "get", err)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSettingsRepository) Upsert(ctx context.Context, s *domain.UserSettings) error {
	s.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"daily_generic_limit", "updated_at"}),
	}).Create(s).Error
	recordOp(ctx, "settings", "upsert", err)
	return err
}
