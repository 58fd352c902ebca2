package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

type RoleCount struct {
	Role    domain.Role `json:"role"`
	Members int64       `json:"members"`
}

// RoleRepository reads role membership from user_roles.
type RoleRepository interface {
	CountMembers(ctx context.Context) ([]RoleCount, error)
	UserIDsWithRole(ctx context.Context, role domain.Role) ([]uint, error)
}

type GormRoleRepository struct{ db *gorm.DB }

func NewRoleRepository(db *gorm.DB) RoleRepository { return &GormRoleRepository{db: db} }

// CountMembers returns every known role, including those with no members.
func (r *GormRoleRepository) CountMembers(ctx context.Context) ([]RoleCount, error) {
	var rows []RoleCount
	err := r.db.WithContext(ctx).Model(&domain.UserRole{}).
		Select("role, COUNT(*) AS members").
		Group("role").
		Scan(&rows).Error
	recordOp(ctx, "role", "count_members", err)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.Role]int64, len(rows))
	for _, row := range rows {
		counts[row.Role] = row.Members
	}
	out := make([]RoleCount, 0, len(domain.AllRoles()))
	for _, role := range domain.AllRoles() {
		out = append(out, RoleCount{Role: role, Members: counts[role]})
	}
	return out, nil
}

func (r *GormRoleRepository) UserIDsWithRole(ctx context.Context, role domain.Role) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&domain.UserRole{}).
		Where("role = ?", role).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	recordOp(ctx, "role", "user_ids_with_role", err)
	return ids, err
}
