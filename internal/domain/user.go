package domain

import (
	"strings"
	"time"
)

type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	FirstName    string     `gorm:"size:120" json:"first_name"`
	LastName     string     `gorm:"size:120" json:"last_name"`
	TokenVersion uint       `gorm:"not null;default:0" json:"-"`
	Roles        []UserRole `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserRole is a row of the user_roles join table.
type UserRole struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false"`
	Role      Role      `gorm:"primaryKey;size:32"`
	CreatedAt time.Time
}

func (u *User) RoleSet() []Role {
	roles := make([]Role, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, r.Role)
	}
	return SortRoles(roles)
}

func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Profile holds the optional display fields supplied at signup.
type Profile struct {
	FirstName string
	LastName  string
}
