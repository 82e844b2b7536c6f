package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petermazzocco/excel-analytics/internal/store"
	"github.com/petermazzocco/excel-analytics/models"
)

// Profile is the identity returned by an OAuth provider.
type Profile struct {
	Provider   string
	ExternalID string
	Email      string
	Name       string
}

// Resolution tells how an OAuth profile was matched to a local account.
type Resolution int

const (
	Found Resolution = iota + 1
	Linked
	Created
)

func (r Resolution) String() string {
	switch r {
	case Found:
		return "found"
	case Linked:
		return "linked"
	case Created:
		return "created"
	default:
		return "unknown"
	}
}

// ErrIncompleteProfile is returned when the provider did not supply an id or email.
var ErrIncompleteProfile = errors.New("oauth profile is missing id or email")

// AccountStore is the storage needed to resolve OAuth logins.
type AccountStore interface {
	FindUserByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	LinkGoogle(ctx context.Context, user *models.User, googleID string) error
	CreateUser(ctx context.Context, user *models.User) error
}

// ResolveOAuth maps a provider profile to a local user: an account already
// linked to the external id is returned as is, an account with the same email
// gets linked, otherwise a passwordless account is created.
func ResolveOAuth(ctx context.Context, accounts AccountStore, p Profile) (*models.User, Resolution, error) {
	email := normalizeEmail(p.Email)
	if p.ExternalID == "" || email == "" {
		return nil, 0, ErrIncompleteProfile
	}

	user, err := accounts.FindUserByGoogleID(ctx, p.ExternalID)
	switch {
	case err == nil:
		return user, Found, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, 0, fmt.Errorf("find by external id: %w", err)
	}

	user, err = accounts.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		if err := accounts.LinkGoogle(ctx, user, p.ExternalID); err != nil {
			return nil, 0, err
		}
		return user, Linked, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, 0, fmt.Errorf("find by email: %w", err)
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	externalID := p.ExternalID
	user = &models.User{
		Name:     name,
		Email:    email,
		GoogleID: &externalID,
		Role:     models.RoleUser,
	}
	if err := accounts.CreateUser(ctx, user); err != nil {
		return nil, 0, err
	}
	return user, Created, nil
}
