package repo

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/identity/internal/models"
)

// EnsureScope inserts the scope unless one with the same name exists.
func (r *GormRepo) EnsureScope(ctx context.Context, s *models.Scope) error {
	err := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(s).Error
	return wrap(err, nil, nil)
}

func (r *GormRepo) FindScopesByNames(ctx context.Context, names []string) ([]models.Scope, error) {
	var out []models.Scope
	if len(names) == 0 {
		return out, nil
	}
	if err := r.DB.WithContext(ctx).Where("name IN ?", names).Order("name").Find(&out).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return out, nil
}

func (r *GormRepo) ListScopes(ctx context.Context) ([]models.Scope, error) {
	var out []models.Scope
	if err := r.DB.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return out, nil
}
