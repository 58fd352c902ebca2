package domain

import "time"

type PasswordResetToken struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uint       `gorm:"index;not null"`
	TokenHash string     `gorm:"size:128;uniqueIndex;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	UsedAt    *time.Time `gorm:"index"`
	CreatedAt time.Time
}

type UserSettings struct {
	UserID            uint `gorm:"primaryKey;autoIncrement:false"`
	DailyGenericLimit *int
	UpdatedAt         time.Time
}
