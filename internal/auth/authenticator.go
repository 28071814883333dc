package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"chat_gateway/internal/models"
	"chat_gateway/internal/storage"
	"chat_gateway/internal/utils"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

var (
	// ErrInvalidCredentials hides whether the email or the password was wrong
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering an existing email
	ErrEmailTaken = storage.ErrEmailTaken

	// ErrValidation is wrapped by every registration input error
	ErrValidation = errors.New("validation failed")

	ErrInvalidEmail     = fmt.Errorf("%w: invalid email address", ErrValidation)
	ErrPasswordTooShort = fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	ErrNameRequired     = fmt.Errorf("%w: name is required", ErrValidation)
)

// UserStore is the persistence the authenticator needs
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Authenticator registers users and checks their credentials
type Authenticator struct {
	users UserStore

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(users UserStore) *Authenticator {
	return &Authenticator{users: users}
}

// Register validates the input, hashes the password and stores a new user
func (a *Authenticator) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if name == "" {
		return nil, ErrNameRequired
	}

	hash, err := utils.HashPasswordArgon2(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{Email: email, Name: name, PasswordHash: hash}
	if err := a.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login returns the user whose credentials match
func (a *Authenticator) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := a.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrUserNotFound) {
		// spend the same hashing time as for a known user
		_, _ = utils.VerifyPassword(password, a.dummy())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (a *Authenticator) dummy() string {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = utils.HashPasswordArgon2("not-a-real-password")
	})
	return a.dummyHash
}

// ValidateEmail accepts a bare address such as user@example.com
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return ErrInvalidEmail
	}
	return nil
}

// IdentityOf returns the session identity of user
func IdentityOf(user *models.User) Identity {
	return Identity{UserID: user.ID, Email: user.Email, Name: user.Name}
}
