package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/identity/internal/domain"
	"github.com/Skotchmaster/identity/internal/events"
	"github.com/Skotchmaster/identity/internal/hash"
	"github.com/Skotchmaster/identity/internal/logging"
	"github.com/Skotchmaster/identity/internal/metrics"
	"github.com/Skotchmaster/identity/internal/models"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 5 * time.Minute

	// ClaimRole is emitted once per role membership.
	ClaimRole = "role"
)

type Repository interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	FindUserByNormalizedName(ctx context.Context, normalized string) (*models.User, error)
	FindUserByNormalizedEmail(ctx context.Context, normalized string) (*models.User, error)
	UpdateUser(ctx context.Context, id uint, expectedStamp string, updates map[string]any) error
	DeleteUser(ctx context.Context, id uint) error
	ClientIDTaken(ctx context.Context, normalized string) (bool, error)

	AddUserClaim(ctx context.Context, c *models.UserClaim) error
	RemoveUserClaim(ctx context.Context, userID uint, claimType, claimValue string) (int64, error)
	UserClaims(ctx context.Context, userID uint) ([]models.UserClaim, error)

	AddUserLogin(ctx context.Context, l *models.UserLogin) error
	RemoveUserLogin(ctx context.Context, userID uint, provider, key string) (int64, error)
	FindUserLogin(ctx context.Context, provider, key string) (*models.UserLogin, error)

	SaveUserToken(ctx context.Context, t *models.UserToken) error
	FindUserToken(ctx context.Context, userID uint, provider, name string) (*models.UserToken, error)
	RemoveUserToken(ctx context.Context, userID uint, provider, name string) error

	CreateRole(ctx context.Context, role *models.Role) error
	FindRoleByNormalizedName(ctx context.Context, normalized string) (*models.Role, error)
	AddUserRole(ctx context.Context, userID, roleID uint) error
	RemoveUserRole(ctx context.Context, userID, roleID uint) (int64, error)
	UserRoles(ctx context.Context, userID uint) ([]models.Role, error)
	AddRoleClaim(ctx context.Context, c *models.RoleClaim) error
	RoleClaimsForUser(ctx context.Context, userID uint) ([]models.RoleClaim, error)
}

type Service struct {
	Repo    Repository
	Events  events.Publisher
	Metrics *metrics.Metrics

	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

func New(repo Repository, pub events.Publisher, m *metrics.Metrics) *Service {
	return &Service{
		Repo:              repo,
		Events:            pub,
		Metrics:           m,
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		LockoutDuration:   DefaultLockoutDuration,
	}
}

type NewUser struct {
	UserName    string
	Email       string
	Password    string
	DisplayName string
	PhoneNumber string
}

type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func newStamp() string { return uuid.NewString() }

func (s *Service) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "identity.create_user")

	name := strings.TrimSpace(in.UserName)
	if name == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: user name and password are required", domain.ErrInvalidRequest)
	}

	// Client tokens use the client id as subject; user names must not
	// collide with it.
	taken, err := s.Repo.ClientIDTaken(ctx, domain.Normalize(name))
	if err != nil {
		l.Error("create_user_error", "status", 500, "error", err)
		return nil, err
	}
	if taken {
		l.Warn("create_user_error", "status", 409, "reason", "user name is a client id", "user_name", name)
		return nil, fmt.Errorf("%w: user name is reserved", domain.ErrDuplicateUser)
	}

	pwHash, err := hash.HashPassword(in.Password)
	if err != nil {
		l.Error("create_user_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	u := &models.User{
		UserName:           name,
		NormalizedUserName: domain.Normalize(name),
		Email:              strings.TrimSpace(in.Email),
		NormalizedEmail:    domain.Normalize(in.Email),
		PasswordHash:       pwHash,
		SecurityStamp:      newStamp(),
		ConcurrencyStamp:   newStamp(),
		PhoneNumber:        in.PhoneNumber,
		LockoutEnabled:     true,
	}
	if d := strings.TrimSpace(in.DisplayName); d != "" {
		u.DisplayName = &d
	}

	if err := s.Repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrDuplicateUser) {
			l.Warn("create_user_error", "status", 409, "reason", "user already exists", "user_name", name)
		} else {
			l.Error("create_user_error", "status", 500, "error", err)
		}
		return nil, err
	}

	l.Info("user_created", "user_id", u.ID, "user_name", u.UserName)
	events.Emit(ctx, s.Events, events.Event{Type: events.TypeUserRegistered, Subject: u.UserName})
	return u, nil
}

func (s *Service) FindByID(ctx context.Context, id uint) (*models.User, error) {
	return s.Repo.FindUserByID(ctx, id)
}

// FindByNormalizedUsername accepts the raw or the normalized name.
func (s *Service) FindByNormalizedUsername(ctx context.Context, name string) (*models.User, error) {
	return s.Repo.FindUserByNormalizedName(ctx, domain.Normalize(name))
}

func (s *Service) FindByNormalizedEmail(ctx context.Context, email string) (*models.User, error) {
	return s.Repo.FindUserByNormalizedEmail(ctx, domain.Normalize(email))
}

func (s *Service) FindByLogin(ctx context.Context, provider, key string) (*models.User, error) {
	login, err := s.Repo.FindUserLogin(ctx, provider, key)
	if err != nil {
		return nil, err
	}
	return s.Repo.FindUserByID(ctx, login.UserID)
}

// CurrentStamp returns the security stamp of the user a token was issued to.
func (s *Service) CurrentStamp(ctx context.Context, subject string) (string, error) {
	u, err := s.FindByNormalizedUsername(ctx, subject)
	if err != nil {
		return "", err
	}
	return u.SecurityStamp, nil
}

// UpdateUser persists profile fields of u, failing with
// ErrConcurrencyConflict if u was modified since it was read.
func (s *Service) UpdateUser(ctx context.Context, u *models.User) error {
	u.UserName = strings.TrimSpace(u.UserName)
	if u.UserName == "" {
		return fmt.Errorf("%w: user name is required", domain.ErrInvalidRequest)
	}
	u.NormalizedUserName = domain.Normalize(u.UserName)
	u.NormalizedEmail = domain.Normalize(u.Email)

	return s.apply(ctx, u, map[string]any{
		"user_name":              u.UserName,
		"normalized_user_name":   u.NormalizedUserName,
		"email":                  u.Email,
		"normalized_email":       u.NormalizedEmail,
		"email_confirmed":        u.EmailConfirmed,
		"phone_number":           u.PhoneNumber,
		"phone_number_confirmed": u.PhoneNumberConfirmed,
		"display_name":           u.DisplayName,
		"lockout_enabled":        u.LockoutEnabled,
	}, false)
}

// apply runs a conditional update and mirrors the new stamps into u.
func (s *Service) apply(ctx context.Context, u *models.User, updates map[string]any, rotateSecurity bool) error {
	concurrency := newStamp()
	updates["concurrency_stamp"] = concurrency
	security := u.SecurityStamp
	if rotateSecurity {
		security = newStamp()
		updates["security_stamp"] = security
	}
	if err := s.Repo.UpdateUser(ctx, u.ID, u.ConcurrencyStamp, updates); err != nil {
		return err
	}
	u.ConcurrencyStamp = concurrency
	u.SecurityStamp = security
	return nil
}

func (s *Service) VerifyCredential(u *models.User, secret string) bool {
	if u == nil {
		return false
	}
	return hash.CheckPassword(u.PasswordHash, secret)
}

func (s *Service) IsLockedOut(u *models.User, now time.Time) bool {
	return u.LockoutEnabled && u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// RecordFailedAttempt increments the failure counter. Reaching
// MaxFailedAttempts locks the account for LockoutDuration and resets the
// counter. It reports whether the account is now locked.
func (s *Service) RecordFailedAttempt(ctx context.Context, u *models.User, now time.Time) (bool, error) {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		var locked bool
		locked, err = s.recordFailedAttempt(ctx, u, now)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return locked, err
		}
		fresh, ferr := s.Repo.FindUserByID(ctx, u.ID)
		if ferr != nil {
			return false, ferr
		}
		*u = *fresh
	}
	return false, err
}

func (s *Service) recordFailedAttempt(ctx context.Context, u *models.User, now time.Time) (bool, error) {
	count := u.AccessFailedCount + 1
	if !u.LockoutEnabled || count < s.MaxFailedAttempts {
		if err := s.apply(ctx, u, map[string]any{"access_failed_count": count}, false); err != nil {
			return false, err
		}
		u.AccessFailedCount = count
		return false, nil
	}

	// Lockout keeps the security stamp; issued tokens stay valid.
	end := now.Add(s.LockoutDuration).UTC()
	if err := s.apply(ctx, u, map[string]any{"access_failed_count": 0, "lockout_end": end}, false); err != nil {
		return false, err
	}
	u.AccessFailedCount = 0
	u.LockoutEnd = &end

	logging.FromContext(ctx).Warn("user_locked_out", "user_id", u.ID, "user_name", u.UserName, "lockout_end", end)
	s.Metrics.LockedOut()
	events.Emit(ctx, s.Events, events.Event{
		Type:    events.TypeUserLockedOut,
		Subject: u.UserName,
		Data:    map[string]any{"lockout_end": end},
	})
	return true, nil
}

func (s *Service) ResetFailedAttempts(ctx context.Context, u *models.User) error {
	if u.AccessFailedCount == 0 {
		return nil
	}
	if err := s.apply(ctx, u, map[string]any{"access_failed_count": 0}, false); err != nil {
		return err
	}
	u.AccessFailedCount = 0
	return nil
}

// SignIn checks a password and maintains the lockout counters. Unknown
// users and wrong passwords are both ErrInvalidGrant; a locked account is
// ErrAccountLocked even when the password is right.
func (s *Service) SignIn(ctx context.Context, userName, password string, now time.Time) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "identity.sign_in")

	if strings.TrimSpace(userName) == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", domain.ErrInvalidRequest)
	}
	u, err := s.FindByNormalizedUsername(ctx, userName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid username or password", domain.ErrInvalidGrant)
		}
		return nil, err
	}
	if s.IsLockedOut(u, now) {
		l.Warn("sign_in_rejected", "reason", "locked out", "user_id", u.ID)
		return nil, domain.ErrAccountLocked
	}
	if !s.VerifyCredential(u, password) {
		if _, err := s.RecordFailedAttempt(ctx, u, now); err != nil {
			l.Error("record_failed_attempt_error", "user_id", u.ID, "error", err)
		}
		return nil, fmt.Errorf("%w: invalid username or password", domain.ErrInvalidGrant)
	}
	if err := s.ResetFailedAttempts(ctx, u); err != nil {
		l.Warn("reset_failed_attempts_error", "user_id", u.ID, "error", err)
	}
	return u, nil
}

// SetLockoutEnd locks (future time) or unlocks (nil) the account.
func (s *Service) SetLockoutEnd(ctx context.Context, u *models.User, end *time.Time) error {
	if err := s.apply(ctx, u, map[string]any{"lockout_end": end}, true); err != nil {
		return err
	}
	u.LockoutEnd = end
	return nil
}

func (s *Service) SetPassword(ctx context.Context, u *models.User, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", domain.ErrInvalidRequest)
	}
	pwHash, err := hash.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.apply(ctx, u, map[string]any{"password_hash": pwHash}, true); err != nil {
		return err
	}
	u.PasswordHash = pwHash
	return nil
}

func (s *Service) SetTwoFactorEnabled(ctx context.Context, u *models.User, enabled bool) error {
	if err := s.apply(ctx, u, map[string]any{"two_factor_enabled": enabled}, true); err != nil {
		return err
	}
	u.TwoFactorEnabled = enabled
	return nil
}

// RotateSecurityStamp invalidates every token issued to the user.
func (s *Service) RotateSecurityStamp(ctx context.Context, u *models.User) error {
	return s.apply(ctx, u, map[string]any{}, true)
}

func (s *Service) DeleteUser(ctx context.Context, u *models.User) error {
	return s.Repo.DeleteUser(ctx, u.ID)
}

func (s *Service) AddClaim(ctx context.Context, u *models.User, c Claim) error {
	if c.Type == "" {
		return fmt.Errorf("%w: claim type is required", domain.ErrInvalidRequest)
	}
	return s.Repo.AddUserClaim(ctx, &models.UserClaim{UserID: u.ID, ClaimType: c.Type, ClaimValue: c.Value})
}

func (s *Service) RemoveClaim(ctx context.Context, u *models.User, c Claim) error {
	n, err := s.Repo.RemoveUserClaim(ctx, u.ID, c.Type, c.Value)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Claims returns the user's own claims followed by role names and role claims.
func (s *Service) Claims(ctx context.Context, u *models.User) ([]Claim, error) {
	own, err := s.Repo.UserClaims(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	roles, err := s.Repo.UserRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	roleClaims, err := s.Repo.RoleClaimsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	out := make([]Claim, 0, len(own)+len(roles)+len(roleClaims))
	for _, c := range own {
		out = append(out, Claim{Type: c.ClaimType, Value: c.ClaimValue})
	}
	for _, r := range roles {
		out = append(out, Claim{Type: ClaimRole, Value: r.Name})
	}
	for _, c := range roleClaims {
		out = append(out, Claim{Type: c.ClaimType, Value: c.ClaimValue})
	}
	return out, nil
}

func (s *Service) AddLogin(ctx context.Context, u *models.User, provider, key, displayName string) error {
	if provider == "" || key == "" {
		return fmt.Errorf("%w: login provider and key are required", domain.ErrInvalidRequest)
	}
	err := s.Repo.AddUserLogin(ctx, &models.UserLogin{
		LoginProvider:       provider,
		ProviderKey:         key,
		ProviderDisplayName: displayName,
		UserID:              u.ID,
	})
	if err != nil {
		return err
	}
	return s.RotateSecurityStamp(ctx, u)
}

func (s *Service) RemoveLogin(ctx context.Context, u *models.User, provider, key string) error {
	n, err := s.Repo.RemoveUserLogin(ctx, u.ID, provider, key)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return s.RotateSecurityStamp(ctx, u)
}

func (s *Service) CreateRole(ctx context.Context, name string, claims ...Claim) (*models.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", domain.ErrInvalidRequest)
	}
	role := &models.Role{Name: name, NormalizedName: domain.Normalize(name), ConcurrencyStamp: newStamp()}
	if err := s.Repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	for _, c := range claims {
		if err := s.Repo.AddRoleClaim(ctx, &models.RoleClaim{RoleID: role.ID, ClaimType: c.Type, ClaimValue: c.Value}); err != nil {
			return nil, err
		}
	}
	return role, nil
}

func (s *Service) AddToRole(ctx context.Context, u *models.User, roleName string) error {
	role, err := s.Repo.FindRoleByNormalizedName(ctx, domain.Normalize(roleName))
	if err != nil {
		return err
	}
	if err := s.Repo.AddUserRole(ctx, u.ID, role.ID); err != nil {
		return err
	}
	return s.RotateSecurityStamp(ctx, u)
}

func (s *Service) RemoveFromRole(ctx context.Context, u *models.User, roleName string) error {
	role, err := s.Repo.FindRoleByNormalizedName(ctx, domain.Normalize(roleName))
	if err != nil {
		return err
	}
	n, err := s.Repo.RemoveUserRole(ctx, u.ID, role.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return s.RotateSecurityStamp(ctx, u)
}

func (s *Service) Roles(ctx context.Context, u *models.User) ([]string, error) {
	roles, err := s.Repo.UserRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out, nil
}

// SetToken stores a named value such as an authenticator key.
func (s *Service) SetToken(ctx context.Context, u *models.User, provider, name, value string) error {
	return s.Repo.SaveUserToken(ctx, &models.UserToken{UserID: u.ID, LoginProvider: provider, Name: name, Value: value})
}

func (s *Service) Token(ctx context.Context, u *models.User, provider, name string) (string, error) {
	t, err := s.Repo.FindUserToken(ctx, u.ID, provider, name)
	if err != nil {
		return "", err
	}
	return t.Value, nil
}

func (s *Service) RemoveToken(ctx context.Context, u *models.User, provider, name string) error {
	return s.Repo.RemoveUserToken(ctx, u.ID, provider, name)
}
