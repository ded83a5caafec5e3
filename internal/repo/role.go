package repo

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
)

func (r *GormRepo) CreateRole(ctx context.Context, role *models.Role) error {
	return wrap(r.DB.WithContext(ctx).Create(role).Error, domain.ErrDuplicateRole, nil)
}

func (r *GormRepo) FindRoleByNormalizedName(ctx context.Context, normalized string) (*models.Role, error) {
	var role models.Role
	if err := r.DB.WithContext(ctx).Where("normalized_name = ?", normalized).First(&role).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &role, nil
}

// AddUserRole is a no-op when the link already exists.
func (r *GormRepo) AddUserRole(ctx context.Context, userID, roleID uint) error {
	err := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserRole{UserID: userID, RoleID: roleID}).Error
	return wrap(err, nil, nil)
}

func (r *GormRepo) RemoveUserRole(ctx context.Context, userID, roleID uint) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&models.UserRole{})
	return res.RowsAffected, wrap(res.Error, nil, nil)
}

func (r *GormRepo) UserRoles(ctx context.Context, userID uint) ([]models.Role, error) {
	var roles []models.Role
	err := r.DB.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.id").
		Find(&roles).Error
	if err != nil {
		return nil, wrap(err, nil, nil)
	}
	return roles, nil
}

func (r *GormRepo) AddRoleClaim(ctx context.Context, c *models.RoleClaim) error {
	return wrap(r.DB.WithContext(ctx).Create(c).Error, nil, nil)
}

// RoleClaimsForUser returns the claims of every role the user belongs to.
func (r *GormRepo) RoleClaimsForUser(ctx context.Context, userID uint) ([]models.RoleClaim, error) {
	var claims []models.RoleClaim
	err := r.DB.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.role_id = role_claims.role_id").
		Where("user_roles.user_id = ?", userID).
		Order("role_claims.id").
		Find(&claims).Error
	if err != nil {
		return nil, wrap(err, nil, nil)
	}
	return claims, nil
}
