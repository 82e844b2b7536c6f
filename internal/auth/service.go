package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/petermazzocco/excel-analytics/internal/store"
	"github.com/petermazzocco/excel-analytics/models"
)

const (
	minPasswordLength = 6
	// bcrypt rejects longer inputs.
	maxPasswordBytes = 72
)

// ErrInvalidCredentials is returned for every failed login, whatever the cause.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError reports a rejected registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UserStore is the storage the auth service needs.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

// Service registers local accounts and exchanges credentials for tokens.
type Service struct {
	users  UserStore
	tokens *Tokens
	logger *slog.Logger
}

// NewService creates an auth service.
func NewService(users UserStore, tokens *Tokens, logger *slog.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger.With("component", "auth"),
	}
}

// Register creates a password account with the "user" role. It returns a
// *ValidationError for bad input and store.ErrEmailTaken for a duplicate email.
func (s *Service) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	switch {
	case name == "":
		return nil, &ValidationError{Field: "name", Message: "Name is required"}
	case email == "":
		return nil, &ValidationError{Field: "email", Message: "Email is required"}
	case !validEmail(email):
		return nil, &ValidationError{Field: "email", Message: "Email is invalid"}
	case len(password) < minPasswordLength:
		return nil, &ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters", minPasswordLength)}
	case len(password) > maxPasswordBytes:
		return nil, &ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at most %d bytes", maxPasswordBytes)}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: &hash,
		Role:         models.RoleUser,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login checks credentials and issues a token. Unknown emails, accounts
// without a password and wrong passwords all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			burnCompare(password)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("find user: %w", err)
	}

	if user.PasswordHash == nil || *user.PasswordHash == "" {
		burnCompare(password)
		return "", nil, ErrInvalidCredentials
	}
	if !CheckPassword(password, *user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Tokens exposes the issuer used by the service.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
