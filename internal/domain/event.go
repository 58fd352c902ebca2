package domain

import (
	"strings"
	"time"
)

// Event is a dated occasion that tickets can be bound to.
type Event struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	Description string    `gorm:"size:2000" json:"description,omitempty"`
	Date        time.Time `gorm:"index;not null" json:"date"`
	Location    string    `gorm:"size:300" json:"location,omitempty"`
	CreatedBy   uint      `gorm:"index;not null" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventChanges is a partial update; nil fields are left untouched.
type EventChanges struct {
	Name        *string
	Description *string
	Date        *time.Time
	Location    *string
}

func (c EventChanges) Empty() bool {
	return c.Name == nil && c.Description == nil && c.Date == nil && c.Location == nil
}

func (c EventChanges) Apply(e *Event) {
	if c.Name != nil {
		e.Name = strings.TrimSpace(*c.Name)
	}
	if c.Description != nil {
		e.Description = strings.TrimSpace(*c.Description)
	}
	if c.Date != nil {
		e.Date = c.Date.UTC()
	}
	if c.Location != nil {
		e.Location = strings.TrimSpace(*c.Location)
	}
}
