package repo

import (
	"context"
	"time"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
)

func (r *GormRepo) CreateAuthorization(ctx context.Context, a *models.Authorization) error {
	return wrap(r.DB.WithContext(ctx).Create(a).Error, nil, nil)
}

func (r *GormRepo) FindAuthorization(ctx context.Context, id uint) (*models.Authorization, error) {
	var a models.Authorization
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &a, nil
}

func (r *GormRepo) ListAuthorizationsByApplication(ctx context.Context, appID uint) ([]models.Authorization, error) {
	var out []models.Authorization
	if err := r.DB.WithContext(ctx).Where("application_id = ?", appID).Order("id").Find(&out).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return out, nil
}

func (r *GormRepo) ListAuthorizationsBySubject(ctx context.Context, subject string) ([]models.Authorization, error) {
	var out []models.Authorization
	if err := r.DB.WithContext(ctx).Where("subject = ?", subject).Order("id").Find(&out).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return out, nil
}

// RevokeAuthorizationTokens marks every still-valid token of the
// authorization revoked and reports how many rows changed.
func (r *GormRepo) RevokeAuthorizationTokens(ctx context.Context, authorizationID uint) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&models.OAuthToken{}).
		Where("authorization_id = ? AND status = ?", authorizationID, string(domain.TokenStatusValid)).
		Update("status", string(domain.TokenStatusRevoked))
	return res.RowsAffected, wrap(res.Error, nil, nil)
}

// RevokeAuthorization flips a valid authorization to revoked. It reports
// false when the authorization was already revoked.
func (r *GormRepo) RevokeAuthorization(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.Authorization{}).
		Where("id = ? AND status = ?", id, string(domain.AuthorizationStatusValid)).
		Updates(map[string]any{
			"status":     string(domain.AuthorizationStatusRevoked),
			"revoked_at": at,
		})
	if res.Error != nil {
		return false, wrap(res.Error, nil, nil)
	}
	return res.RowsAffected == 1, nil
}
