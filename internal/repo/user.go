package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
)

func (r *GormRepo) CreateUser(ctx context.Context, u *models.User) error {
	return wrap(r.DB.WithContext(ctx).Create(u).Error, domain.ErrDuplicateUser, nil)
}

func (r *GormRepo) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &user, nil
}

func (r *GormRepo) FindUserByNormalizedName(ctx context.Context, normalized string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("normalized_user_name = ?", normalized).First(&user).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &user, nil
}

func (r *GormRepo) FindUserByNormalizedEmail(ctx context.Context, normalized string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("normalized_email = ?", normalized).Order("id").First(&user).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &user, nil
}

// UpdateUser applies updates only while the stored concurrency stamp still
// equals expectedStamp.
func (r *GormRepo) UpdateUser(ctx context.Context, id uint, expectedStamp string, updates map[string]any) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND concurrency_stamp = ?", id, expectedStamp).
		Updates(updates)
	if res.Error != nil {
		return wrap(res.Error, domain.ErrDuplicateUser, nil)
	}
	if res.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

// DeleteUser removes the user with claims, logins, tokens and role links.
func (r *GormRepo) DeleteUser(ctx context.Context, id uint) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&models.UserClaim{}, &models.UserLogin{}, &models.UserToken{}, &models.UserRole{}} {
			if err := tx.Where("user_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return wrap(err, nil, nil)
}

func (r *GormRepo) AddUserClaim(ctx context.Context, c *models.UserClaim) error {
	return wrap(r.DB.WithContext(ctx).Create(c).Error, nil, nil)
}

func (r *GormRepo) RemoveUserClaim(ctx context.Context, userID uint, claimType, claimValue string) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("user_id = ? AND claim_type = ? AND claim_value = ?", userID, claimType, claimValue).
		Delete(&models.UserClaim{})
	return res.RowsAffected, wrap(res.Error, nil, nil)
}

func (r *GormRepo) UserClaims(ctx context.Context, userID uint) ([]models.UserClaim, error) {
	var claims []models.UserClaim
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&claims).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return claims, nil
}

func (r *GormRepo) AddUserLogin(ctx context.Context, l *models.UserLogin) error {
	return wrap(r.DB.WithContext(ctx).Create(l).Error, domain.ErrDuplicateUser, nil)
}

func (r *GormRepo) RemoveUserLogin(ctx context.Context, userID uint, provider, key string) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("user_id = ? AND login_provider = ? AND provider_key = ?", userID, provider, key).
		Delete(&models.UserLogin{})
	return res.RowsAffected, wrap(res.Error, nil, nil)
}

func (r *GormRepo) FindUserLogin(ctx context.Context, provider, key string) (*models.UserLogin, error) {
	var login models.UserLogin
	if err := r.DB.WithContext(ctx).Where("login_provider = ? AND provider_key = ?", provider, key).First(&login).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &login, nil
}

// SaveUserToken inserts or replaces the named token of a user.
func (r *GormRepo) SaveUserToken(ctx context.Context, t *models.UserToken) error {
	return wrap(r.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(t).Error, nil, nil)
}

func (r *GormRepo) FindUserToken(ctx context.Context, userID uint, provider, name string) (*models.UserToken, error) {
	var tok models.UserToken
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND login_provider = ? AND name = ?", userID, provider, name).
		First(&tok).Error
	if err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &tok, nil
}

func (r *GormRepo) RemoveUserToken(ctx context.Context, userID uint, provider, name string) error {
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND login_provider = ? AND name = ?", userID, provider, name).
		Delete(&models.UserToken{}).Error
	return wrap(err, nil, nil)
}

func (r *GormRepo) UserNameTaken(ctx context.Context, normalized string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("normalized_user_name = ?", normalized).
		Count(&n).Error
	if err != nil {
		return false, wrap(err, nil, nil)
	}
	return n > 0, nil
}
