package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	// ErrResourceConsumed means the conditional invalidation matched no row:
	// another claimant won, or the resource was never valid.
	ErrResourceConsumed = errors.New("resource already consumed")
	ErrCodeTaken        = errors.New("resource code already exists")
)

type ResourceRepository interface {
	Create(ctx context.Context, res *domain.Resource) error
	// CreateBatch inserts every resource or none of them.
	CreateBatch(ctx context.Context, batch []*domain.Resource) error
	FindByCode(ctx context.Context, code string) (*domain.Resource, error)
	FindByID(ctx context.Context, id uint) (*domain.Resource, error)
	ClaimOneTime(ctx context.Context, resourceID, userID uint, now time.Time) (*domain.Resource, *domain.Scan, error)
	AppendScan(ctx context.Context, resourceID, userID uint, now time.Time) (*domain.Scan, error)
	CountCreatedSince(ctx context.Context, userID uint, typ domain.ResourceType, since time.Time) (int64, error)
	ListCreatedBy(ctx context.Context, userID uint, limit int) ([]domain.Resource, error)
	ListAssignedTo(ctx context.Context, userID uint, limit int) ([]domain.Resource, error)
	ListScansBy(ctx context.Context, userID uint, limit int) ([]domain.Scan, error)
	HasScanBy(ctx context.Context, resourceID, userID uint) (bool, error)
	DeleteScansBy(ctx context.Context, resourceID, userID uint) (int64, error)
	DeleteOwned(ctx context.Context, resourceID, creatorID uint) (bool, error)
}

type GormResourceRepository struct{ db *gorm.DB }

func NewResourceRepository(db *gorm.DB) ResourceRepository { return &GormResourceRepository{db: db} }

func (r *GormResourceRepository) Create(ctx context.Context, res *domain.Resource) error {
	err := r.db.WithContext(ctx).Create(res).Error
	if isDuplicateKey(err) {
		err = ErrCodeTaken
	}
	recordOp(ctx, "resource", "create", err)
	return err
}

func (r *GormResourceRepository) CreateBatch(ctx context.Context, batch []*domain.Resource) error {
	if len(batch) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, res := range batch {
			if err := tx.Create(res).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if isDuplicateKey(err) {
		err = ErrCodeTaken
	}
	recordOp(ctx, "resource", "create_batch", err)
	return err
}

func (r *GormResourceRepository) FindByCode(ctx context.Context, code string) (*domain.Resource, error) {
	var res domain.Resource
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrResourceNotFound
	}
	recordOp(ctx, "resource", "find_by_code", err)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *GormResourceRepository) FindByID(ctx context.Context, id uint) (*domain.Resource, error) {
	var res domain.Resource
	err := r.db.WithContext(ctx).First(&res, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrResourceNotFound
	}
	recordOp(ctx, "resource", "find_by_id", err)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ClaimOneTime flips is_valid with a single conditional update and records
// the scan in the same transaction. Under concurrent claims exactly one caller
// sees a row affected; every other caller gets ErrResourceConsumed and no scan
// is written for it.
func (r *GormResourceRepository) ClaimOneTime(ctx context.Context, resourceID, userID uint, now time.Time) (*domain.Resource, *domain.Scan, error) {
	var (
		claimed domain.Resource
		scan    domain.Scan
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Resource{}).
			Where("id = ? AND is_valid = ?", resourceID, true).
			Updates(map[string]any{"is_valid": false, "validated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrResourceConsumed
		}
		scan = domain.Scan{ResourceID: resourceID, UserID: userID, ScannedAt: now}
		if err := tx.Create(&scan).Error; err != nil {
			return err
		}
		return tx.First(&claimed, resourceID).Error
	})
	recordOp(ctx, "resource", "claim_one_time", err)
	if err != nil {
		return nil, nil, err
	}
	return &claimed, &scan, nil
}

func (r *GormResourceRepository) AppendScan(ctx context.Context, resourceID, userID uint, now time.Time) (*domain.Scan, error) {
	scan := &domain.Scan{ResourceID: resourceID, UserID: userID, ScannedAt: now}
	err := r.db.WithContext(ctx).Create(scan).Error
	recordOp(ctx, "resource", "append_scan", err)
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func (r *GormResourceRepository) CountCreatedSince(ctx context.Context, userID uint, typ domain.ResourceType, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Resource{}).
		Where("created_by = ? AND type = ? AND created_at >= ?", userID, typ, since).
		Count(&n).Error
	recordOp(ctx, "resource", "count_created_since", err)
	return n, err
}

func (r *GormResourceRepository) ListCreatedBy(ctx context.Context, userID uint, limit int) ([]domain.Resource, error) {
	var out []domain.Resource
	err := r.db.WithContext(ctx).
		Where("created_by = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	recordOp(ctx, "resource", "list_created_by", err)
	return out, err
}

// ListAssignedTo returns resources handed to userID, newest first, with their
// event loaded.
func (r *GormResourceRepository) ListAssignedTo(ctx context.Context, userID uint, limit int) ([]domain.Resource, error) {
	var out []domain.Resource
	err := r.db.WithContext(ctx).
		Preload("Event").
		Where("assigned_to = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	recordOp(ctx, "resource", "list_assigned_to", err)
	return out, err
}

func (r *GormResourceRepository) ListScansBy(ctx context.Context, userID uint, limit int) ([]domain.Scan, error) {
	var out []domain.Scan
	err := r.db.WithContext(ctx).
		Preload("Resource").
		Where("user_id = ?", userID).
		Order("scanned_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	recordOp(ctx, "resource", "list_scans_by", err)
	return out, err
}

func (r *GormResourceRepository) HasScanBy(ctx context.Context, resourceID, userID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Scan{}).
		Where("resource_id = ? AND user_id = ?", resourceID, userID).
		Count(&n).Error
	recordOp(ctx, "resource", "has_scan_by", err)
	return n > 0, err
}

func (r *GormResourceRepository) DeleteScansBy(ctx context.Context, resourceID, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("resource_id = ? AND user_id = ?", resourceID, userID).
		Delete(&domain.Scan{})
	recordOp(ctx, "resource", "delete_scans_by", res.Error)
	return res.RowsAffected, res.Error
}

// DeleteOwned removes a resource created by creatorID together with its scans.
func (r *GormResourceRepository) DeleteOwned(ctx context.Context, resourceID, creatorID uint) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res domain.Resource
		if err := tx.Where("id = ? AND created_by = ?", resourceID, creatorID).First(&res).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("resource_id = ?", res.ID).Delete(&domain.Scan{}).Error; err != nil {
			return err
		}
		out := tx.Delete(&domain.Resource{}, res.ID)
		deleted = out.RowsAffected > 0
		return out.Error
	})
	recordOp(ctx, "resource", "delete_owned", err)
	return deleted, err
}
