package repo

import (
	"context"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/models"
)

func (r *GormRepo) CreateApplication(ctx context.Context, app *models.Application) error {
	return wrap(r.DB.WithContext(ctx).Create(app).Error, domain.ErrDuplicateClientID, nil)
}

func (r *GormRepo) FindApplicationByClientID(ctx context.Context, clientID string) (*models.Application, error) {
	var app models.Application
	if err := r.DB.WithContext(ctx).Where("client_id = ?", clientID).First(&app).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &app, nil
}

func (r *GormRepo) FindApplicationByID(ctx context.Context, id uint) (*models.Application, error) {
	var app models.Application
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&app).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return &app, nil
}

func (r *GormRepo) ListApplications(ctx context.Context) ([]models.Application, error) {
	var apps []models.Application
	if err := r.DB.WithContext(ctx).Order("client_id").Find(&apps).Error; err != nil {
		return nil, wrap(err, nil, nil)
	}
	return apps, nil
}

// DeleteApplication fails with ErrClientInUse while authorizations or tokens
// still reference the application.
func (r *GormRepo) DeleteApplication(ctx context.Context, id uint) error {
	var refs int64
	if err := r.DB.WithContext(ctx).Model(&models.Authorization{}).Where("application_id = ?", id).Count(&refs).Error; err != nil {
		return wrap(err, nil, nil)
	}
	if refs > 0 {
		return domain.ErrClientInUse
	}
	res := r.DB.WithContext(ctx).Delete(&models.Application{}, id)
	if res.Error != nil {
		return wrap(res.Error, nil, domain.ErrClientInUse)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClientIDTaken reports whether a client id equals normalized once
// trimmed and upper-cased, the way user names are compared.
func (r *GormRepo) ClientIDTaken(ctx context.Context, normalized string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Application{}).
		Where("UPPER(TRIM(client_id)) = ?", normalized).
		Count(&n).Error
	if err != nil {
		return false, wrap(err, nil, nil)
	}
	return n > 0, nil
}
