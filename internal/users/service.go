package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAccount indicates registration input that cannot form an account.
	ErrInvalidAccount = errors.New("users: invalid account")
	// ErrEmailTaken indicates the email already backs an account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed email/password check. It does
	// not distinguish unknown email from wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

const minPasswordLength = 8

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service manages registered accounts and display name lookups.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, displayName, password string) (Account, error) {
	email = normalizeEmail(email)
	displayName = normalize(displayName)
	if email == "" || displayName == "" {
		return Account{}, fmt.Errorf("%w: email and display name required", ErrInvalidAccount)
	}
	if len(password) < minPasswordLength {
		return Account{}, fmt.Errorf("%w: password under %d characters", ErrInvalidAccount, minPasswordLength)
	}

	var existing Account
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Account{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return Account{}, err
	}
	account := Account{
		UserID:       userID,
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return Account{}, err
	}
	return account, nil
}

// Authenticate checks an email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	account.PasswordHash = ""
	return account, nil
}

// Exists reports whether a user id belongs to a registered account.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	return s.ExistsIn(s.db.WithContext(ctx), userID)
}

// ExistsIn answers the same question on the caller's transaction handle, so
// callers holding an open transaction over a single-connection pool do not
// need a second session for the lookup.
func (s *Service) ExistsIn(tx *gorm.DB, userID string) (bool, error) {
	var count int64
	if err := tx.Model(&Account{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DisplayNames resolves display names for the given user ids. Unknown ids
// are simply absent from the result.
func (s *Service) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	var accounts []Account
	if err := s.db.WithContext(ctx).
		Select("user_id", "display_name").
		Where("user_id IN ?", userIDs).
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	for _, account := range accounts {
		names[account.UserID] = account.DisplayName
	}
	return names, nil
}
