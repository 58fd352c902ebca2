package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

var (
	ErrEventNotFound = errors.New("event not found")
	// ErrEventInUse means tickets still reference the event.
	ErrEventInUse = errors.New("event has tickets")
)

type EventRepository interface {
	Create(ctx context.Context, ev *domain.Event) error
	FindByID(ctx context.Context, id uint) (*domain.Event, error)
	// List returns events dated at or after from, soonest first. A zero from
	// lists everything.
	List(ctx context.Context, from time.Time, req PageRequest) (PageResult[domain.Event], error)
	Update(ctx context.Context, id uint, changes domain.EventChanges) (*domain.Event, error)
	Delete(ctx context.Context, id uint) error
}

type GormEventRepository struct{ db *gorm.DB }

func NewEventRepository(db *gorm.DB) EventRepository { return &GormEventRepository{db: db} }

func (r *GormEventRepository) Create(ctx context.Context, ev *domain.Event) error {
	err := r.db.WithContext(ctx).Create(ev).Error
	recordOp(ctx, "event", "create", err)
	return err
}

func (r *GormEventRepository) FindByID(ctx context.Context, id uint) (*domain.Event, error) {
	ev, err := findEvent(r.db.WithContext(ctx), id)
	recordOp(ctx, "event", "find_by_id", err)
	return ev, err
}

func findEvent(db *gorm.DB, id uint) (*domain.Event, error) {
	var ev domain.Event
	err := db.First(&ev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *GormEventRepository) List(ctx context.Context, from time.Time, req PageRequest) (PageResult[domain.Event], error) {
	q := r.db.WithContext(ctx).Model(&domain.Event{})
	if !from.IsZero() {
		q = q.Where("date >= ?", from)
	}
	out, err := paginate[domain.Event](q, req, "date ASC, id ASC")
	recordOp(ctx, "event", "list", err)
	return out, err
}

func (r *GormEventRepository) Update(ctx context.Context, id uint, changes domain.EventChanges) (*domain.Event, error) {
	var updated *domain.Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := findEvent(tx, id)
		if err != nil {
			return err
		}
		changes.Apply(ev)
		if err := tx.Model(ev).Select("name", "description", "date", "location", "updated_at").Updates(ev).Error; err != nil {
			return err
		}
		updated = ev
		return nil
	})
	recordOp(ctx, "event", "update", err)
	return updated, err
}

// Delete refuses while any resource is bound to the event.
func (r *GormEventRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findEvent(tx, id); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&domain.Resource{}).Where("event_id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrEventInUse
		}
		return tx.Delete(&domain.Event{}, id).Error
	})
	recordOp(ctx, "event", "delete", err)
	return err
}
