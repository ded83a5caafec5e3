package migrations

import (
	"time"

	"github.com/Skotchmaster/identity/internal/models"
)

// Tables whose shape changed after the initial schema are frozen here as
// they were at version 1. Later versions transform them through column
// steps against the current models.

type userV1 struct {
	ID                   uint       `gorm:"primaryKey;autoIncrement"`
	UserName             string     `gorm:"size:256;not null"`
	NormalizedUserName   string     `gorm:"size:256;uniqueIndex:idx_users_normalized_user_name;not null"`
	Email                string     `gorm:"size:256"`
	NormalizedEmail      string     `gorm:"size:256;index:idx_users_normalized_email"`
	EmailConfirmed       bool       `gorm:"not null"`
	PasswordHash         string
	SecurityStamp        string     `gorm:"size:64;not null"`
	ConcurrencyStamp     string     `gorm:"size:64;not null"`
	PhoneNumber          string
	PhoneNumberConfirmed bool       `gorm:"not null"`
	TwoFactorEnabled     bool       `gorm:"not null"`
	LockoutEnabled       bool       `gorm:"not null"`
	LockoutEnd           *time.Time
	AccessFailedCount    int        `gorm:"not null"`
	CreatedAt            time.Time
}

func (userV1) TableName() string { return "users" }

type authorizationV1 struct {
	ID            uint                `gorm:"primaryKey;autoIncrement"`
	ApplicationID *uint               `gorm:"index:idx_authorizations_application_id"`
	Application   *models.Application `gorm:"constraint:OnDelete:RESTRICT"`
	Subject       string              `gorm:"size:450;index:idx_authorizations_subject;not null"`
	Scope         string
	Status        string              `gorm:"size:25;not null"`
	CreatedAt     time.Time
	RevokedAt     *time.Time
}

func (authorizationV1) TableName() string { return "authorizations" }

var initialTables = []any{
	&userV1{},
	&models.Role{},
	&models.UserRole{},
	&models.UserClaim{},
	&models.RoleClaim{},
	&models.UserLogin{},
	&models.UserToken{},
	&models.Application{},
	&authorizationV1{},
	&models.OAuthToken{},
	&models.Scope{},
}
