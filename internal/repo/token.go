package repo

import (
	"context"
	"time"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
)

func (r *GormRepo) CreateToken(ctx context.Context, t *models.OAuthToken) error {
	return wrap(r.DB.WithContext(ctx).Create(t).Error, nil, nil)
}

func (r *GormRepo) FindTokenByID(ctx context.Context, id string) (*models.OAuthToken, error) {
	var t models.OAuthToken
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &t, nil
}

func (r *GormRepo) FindTokenByHash(ctx context.Context, hash string) (*models.OAuthToken, error) {
	var t models.OAuthToken
	if err := r.DB.WithContext(ctx).Where("hash = ?", hash).First(&t).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &t, nil
}

// TransitionTokenStatus moves a token from one status to another in a single
// conditional UPDATE. Exactly one concurrent caller observes true.
func (r *GormRepo) TransitionTokenStatus(ctx context.Context, id string, from, to domain.TokenStatus, at time.Time) (bool, error) {
	updates := map[string]any{"status": string(to)}
	if to == domain.TokenStatusRedeemed {
		updates["redeemed_at"] = at
	}
	res := r.DB.WithContext(ctx).Model(&models.OAuthToken{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, wrap(res.Error, nil, nil)
	}
	return res.RowsAffected == 1, nil
}

// DeleteExpiredTokens prunes tokens that expired before cutoff.
func (r *GormRepo) DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.OAuthToken{})
	return res.RowsAffected, wrap(res.Error, nil, nil)
}
