package auth

import (
	"context"
	"errors"
	"testing"
)

func TestResolveOAuth(t *testing.T) {
	t.Parallel()

	svc, accounts := newTestService()
	ctx := context.Background()

	local, err := svc.Register(ctx, "Linus", "linus@example.com", "penguin")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Same email as the local account: linked.
	user, res, err := ResolveOAuth(ctx, accounts, Profile{Provider: "google", ExternalID: "g-100", Email: "Linus@example.com", Name: "Linus T"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res != Linked || user.ID != local.ID {
		t.Errorf("expected linked local account, got %s user %d", res, user.ID)
	}
	if user.GoogleID == nil || *user.GoogleID != "g-100" {
		t.Errorf("expected google id to be stored, got %v", user.GoogleID)
	}

	// Same external id again: found, not re-linked.
	user, res, err = ResolveOAuth(ctx, accounts, Profile{ExternalID: "g-100", Email: "linus@example.com"})
	if err != nil || res != Found || user.ID != local.ID {
		t.Errorf("expected found, got %s, %v", res, err)
	}
	if accounts.links != 1 {
		t.Errorf("expected exactly one link, got %d", accounts.links)
	}

	// Unknown identity: created without a password.
	user, res, err = ResolveOAuth(ctx, accounts, Profile{ExternalID: "g-200", Email: "new@example.com"})
	if err != nil {
		t.Fatalf("resolve new: %v", err)
	}
	if res != Created {
		t.Errorf("expected created, got %s", res)
	}
	if user.PasswordHash != nil {
		t.Error("expected passwordless account")
	}
	if user.Name != "new" {
		t.Errorf("expected name derived from email, got %q", user.Name)
	}

	if _, _, err := ResolveOAuth(ctx, accounts, Profile{ExternalID: "g-300"}); !errors.Is(err, ErrIncompleteProfile) {
		t.Errorf("expected ErrIncompleteProfile, got %v", err)
	}
}
