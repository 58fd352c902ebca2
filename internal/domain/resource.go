package domain

import (
	"time"

	"gorm.io/datatypes"
)

type ResourceType string

const (
	ResourceGeneric  ResourceType = "generic"
	ResourceTicket   ResourceType = "ticket"
	ResourceBracelet ResourceType = "bracelet"
	ResourcePage     ResourceType = "page"
)

func (t ResourceType) Valid() bool {
	switch t {
	case ResourceGeneric, ResourceTicket, ResourceBracelet, ResourcePage:
		return true
	}
	return false
}

// Resource is a claimable code. IsValid only ever moves from true to false.
type Resource struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Code        string         `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Type        ResourceType   `gorm:"size:16;index;not null" json:"type"`
	CreatedBy   uint           `gorm:"index;not null" json:"created_by"`
	AssignedTo  *uint          `gorm:"index" json:"assigned_to,omitempty"`
	EventID     *uint          `gorm:"index" json:"event_id,omitempty"`
	Event       *Event         `gorm:"foreignKey:EventID" json:"event,omitempty"`
	Payload     datatypes.JSON `json:"payload,omitempty"`
	IsValid     bool           `gorm:"not null" json:"is_valid"`
	OneTime     bool           `gorm:"not null" json:"one_time"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	ValidatedAt *time.Time     `json:"validated_at,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (r *Resource) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// Scan is the append-only audit entry written for every successful claim.
type Scan struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ResourceID uint      `gorm:"index;not null" json:"resource_id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	ScannedAt  time.Time `gorm:"index;not null" json:"scanned_at"`
	Resource   *Resource `gorm:"foreignKey:ResourceID" json:"resource,omitempty"`
}

func (Scan) TableName() string { return "resource_scans" }
