package models

import (
	"time"
)

type User struct {
	ID                   uint       `gorm:"primaryKey;autoIncrement"      json:"id"`
	UserName             string     `gorm:"size:256;not null"             json:"user_name"`
	NormalizedUserName   string     `gorm:"size:256;uniqueIndex;not null" json:"-"`
	Email                string     `gorm:"size:256"                      json:"email"`
	NormalizedEmail      string     `gorm:"size:256;index"                json:"-"`
	EmailConfirmed       bool       `gorm:"not null"                      json:"email_confirmed"`
	PasswordHash         string     `json:"-"`
	SecurityStamp        string     `gorm:"size:64;not null"              json:"-"`
	ConcurrencyStamp     string     `gorm:"size:64;not null"              json:"-"`
	PhoneNumber          string     `json:"phone_number,omitempty"`
	PhoneNumberConfirmed bool       `gorm:"not null"                      json:"phone_number_confirmed"`
	TwoFactorEnabled     bool       `gorm:"not null"                      json:"two_factor_enabled"`
	LockoutEnabled       bool       `gorm:"not null"                      json:"lockout_enabled"`
	LockoutEnd           *time.Time `json:"lockout_end,omitempty"`
	AccessFailedCount    int        `gorm:"not null"                      json:"-"`
	DisplayName          *string    `gorm:"size:256"                      json:"display_name,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`

	Claims []UserClaim `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Logins []UserLogin `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Tokens []UserToken `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Role struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"      json:"id"`
	Name             string `gorm:"size:256;not null"             json:"name"`
	NormalizedName   string `gorm:"size:256;uniqueIndex;not null" json:"-"`
	ConcurrencyStamp string `gorm:"size:64;not null"              json:"-"`

	Claims []RoleClaim `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type UserRole struct {
	UserID uint  `gorm:"primaryKey"                   json:"user_id"`
	RoleID uint  `gorm:"primaryKey"                   json:"role_id"`
	User   *User `gorm:"constraint:OnDelete:CASCADE"  json:"-"`
	Role   *Role `gorm:"constraint:OnDelete:CASCADE"  json:"-"`
}

type UserClaim struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint   `gorm:"index;not null"           json:"user_id"`
	ClaimType  string `gorm:"size:256;not null"        json:"type"`
	ClaimValue string `json:"value"`
}

type RoleClaim struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	RoleID     uint   `gorm:"index;not null"           json:"role_id"`
	ClaimType  string `gorm:"size:256;not null"        json:"type"`
	ClaimValue string `json:"value"`
}

// UserLogin links an external provider identity to a local user.
type UserLogin struct {
	LoginProvider       string `gorm:"primaryKey;size:128" json:"login_provider"`
	ProviderKey         string `gorm:"primaryKey;size:128" json:"provider_key"`
	ProviderDisplayName string `json:"provider_display_name"`
	UserID              uint   `gorm:"index;not null"      json:"user_id"`
}

// UserToken is a named per-user value, e.g. an authenticator key.
type UserToken struct {
	UserID        uint   `gorm:"primaryKey"          json:"user_id"`
	LoginProvider string `gorm:"primaryKey;size:128" json:"login_provider"`
	Name          string `gorm:"primaryKey;size:128" json:"name"`
	Value         string `json:"value"`
}

type Application struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"      json:"id"`
	ClientID          string    `gorm:"size:100;uniqueIndex;not null" json:"client_id"`
	ClientSecret      string    `json:"-"`
	DisplayName       string    `json:"display_name"`
	RedirectURI       string    `json:"redirect_uri"`
	LogoutRedirectURI string    `json:"logout_redirect_uri"`
	Type              string    `gorm:"size:25;not null"              json:"type"`
	Permissions       string    `json:"permissions"`
	CreatedAt         time.Time `json:"created_at"`
}

type Authorization struct {
	ID            uint         `gorm:"primaryKey;autoIncrement"       json:"id"`
	ApplicationID *uint        `gorm:"index"                          json:"application_id,omitempty"`
	Application   *Application `gorm:"constraint:OnDelete:RESTRICT"   json:"-"`
	Subject       string       `gorm:"size:450;index;not null"        json:"subject"`
	SubjectType   string       `gorm:"size:25;not null;default:user"  json:"subject_type"`
	Scope         string       `json:"scope"`
	Status        string       `gorm:"size:25;not null"               json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	RevokedAt     *time.Time   `json:"revoked_at,omitempty"`
}

type OAuthToken struct {
	ID              string         `gorm:"primaryKey;size:36"            json:"id"`
	ApplicationID   *uint          `gorm:"index"                         json:"application_id,omitempty"`
	Application     *Application   `gorm:"constraint:OnDelete:RESTRICT"  json:"-"`
	AuthorizationID *uint          `gorm:"index"                         json:"authorization_id,omitempty"`
	Authorization   *Authorization `gorm:"constraint:OnDelete:RESTRICT"  json:"-"`
	Subject         string         `gorm:"size:450;index;not null"       json:"subject"`
	Type            string         `gorm:"size:25;not null"              json:"type"`
	Status          string         `gorm:"size:25;not null"              json:"status"`
	Hash            *string        `gorm:"size:64;uniqueIndex"           json:"-"`
	RedirectURI     string         `json:"redirect_uri,omitempty"`
	Scope           string         `json:"scope"`
	SecurityStamp   string         `gorm:"size:64"                       json:"-"`
	ExpiresAt       time.Time      `gorm:"not null"                      json:"expires_at"`
	CreatedAt       time.Time      `json:"created_at"`
	RedeemedAt      *time.Time     `json:"redeemed_at,omitempty"`
}

func (OAuthToken) TableName() string {
	return "oauth_tokens"
}

type Scope struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"      json:"id"`
	Name        string `gorm:"size:200;uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
}
