package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type UserListQuery struct {
	PageRequest
	Email string
	Role  domain.Role
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error)
	SetRoles(ctx context.Context, userID uint, roles []domain.Role) (*domain.User, error)
	BumpTokenVersion(ctx context.Context, userID uint) (uint, error)
	UpdatePasswordHash(ctx context.Context, userID uint, hash string) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	u, err := findUser(r.db.WithContext(ctx).Where("id = ?", id))
	recordOp(ctx, "user", "find_by_id", err)
	return u, err
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := findUser(r.db.WithContext(ctx).Where("email = ?", domain.NormalizeEmail(email)))
	recordOp(ctx, "user", "find_by_email", err)
	return u, err
}

func findUser(q *gorm.DB) (*domain.User, error) {
	var u domain.User
	if err := q.Preload("Roles").First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts the user with its roles. A unique index violation on email,
// including one raced by a concurrent signup, maps to ErrEmailTaken.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = domain.NormalizeEmail(user.Email)
	err := r.db.WithContext(ctx).Create(user).Error
	if isDuplicateKey(err) {
		err = ErrEmailTaken
	}
	recordOp(ctx, "user", "create", err)
	return err
}

func (r *GormUserRepository) ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error) {
	q := r.db.WithContext(ctx).Model(&domain.User{})
	if query.Email != "" {
		q = q.Where("users.email LIKE ?", domain.NormalizeEmail(query.Email)+"%")
	}
	if query.Role != "" {
		q = q.Where("EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = users.id AND ur.role = ?)", query.Role)
	}
	page, err := paginate[domain.User](q, query.PageRequest, "users.id ASC", "Roles")
	recordOp(ctx, "user", "list_paged", err)
	return page, err
}

// SetRoles replaces the role set and bumps the token version in one
// transaction so outstanding access tokens stop matching.
func (r *GormUserRepository) SetRoles(ctx context.Context, userID uint, roles []domain.Role) (*domain.User, error) {
	var updated *domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).Where("id = ?", userID).
			UpdateColumn("token_version", gorm.Expr("token_version + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		if err := tx.Where("user_id = ?", userID).Delete(&domain.UserRole{}).Error; err != nil {
			return err
		}
		rows := make([]domain.UserRole, 0, len(roles))
		for _, role := range domain.SortRoles(roles) {
			rows = append(rows, domain.UserRole{UserID: userID, Role: role, CreatedAt: time.Now().UTC()})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		u, err := findUser(tx.Where("id = ?", userID))
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	recordOp(ctx, "user", "set_roles", err)
	return updated, err
}

func (r *GormUserRepository) BumpTokenVersion(ctx context.Context, userID uint) (uint, error) {
	var version uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).Where("id = ?", userID).
			UpdateColumn("token_version", gorm.Expr("token_version + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.Model(&domain.User{}).Select("token_version").Where("id = ?", userID).Scan(&version).Error
	})
	recordOp(ctx, "user", "bump_token_version", err)
	return version, err
}

func (r *GormUserRepository) UpdatePasswordHash(ctx context.Context, userID uint, hash string) error {
	err := updatePasswordHash(r.db.WithContext(ctx), userID, hash)
	recordOp(ctx, "user", "update_password_hash", err)
	return err
}

// updatePasswordHash sets the hash and bumps the token version in a single
// statement.
func updatePasswordHash(db *gorm.DB, userID uint, hash string) error {
	res := db.Model(&domain.User{}).Where("id = ?", userID).UpdateColumns(map[string]any{
		"password_hash": hash,
		"token_version": gorm.Expr("token_version + 1"),
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
