package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Skotchmaster/identity/internal/domain"
)

// GormRepo is the storage contract of every component. Each method runs a
// single statement unless stated otherwise.
type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}

// Ping checks that the database answers.
func (r *GormRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return wrap(err, nil, nil)
	}
	return wrap(sqlDB.PingContext(ctx), nil, nil)
}

func (r *GormRepo) Close() error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// wrap translates driver errors into domain errors. dup is returned for
// unique violations and fk for foreign key violations when non-nil. A
// foreign key violation without a sentinel is a dangling reference and is
// reported as an internal error.
func wrap(err error, dup, fk error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case dup != nil && isUniqueViolation(err):
		return dup
	case isForeignKeyViolation(err):
		if fk != nil {
			return fmt.Errorf("%w: %v", fk, err)
		}
		return fmt.Errorf("repo: dangling reference: %v", err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
