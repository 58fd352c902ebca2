package domain

import "time"

const (
	RevokeReasonRotated       = "rotated"
	RevokeReasonReuseDetected = "reuse_detected"
	RevokeReasonLogout        = "logout"
	RevokeReasonLogoutAll     = "logout_all"
	RevokeReasonPasswordReset = "password_reset"
	RevokeReasonForceLogout   = "admin_force_logout"
	RevokeReasonUserRevoked   = "user_session_revoked"
	RevokeReasonRevokeOthers  = "user_revoke_others"
)

// Session is one entry of the refresh token ledger. Only the peppered hash of
// the opaque token is stored.
type Session struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	TokenHash       string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	FamilyID        string     `gorm:"size:64;index;not null" json:"-"`
	ParentID        *uint      `gorm:"index" json:"-"`
	ReplacedByID    *uint      `json:"-"`
	UserAgent       string     `gorm:"size:512" json:"user_agent"`
	IP              string     `gorm:"size:64" json:"ip"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt       *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason   *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	ReuseDetectedAt *time.Time `gorm:"index" json:"reuse_detected_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Session) TableName() string { return "refresh_tokens" }

func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
