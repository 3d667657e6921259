package service

import (
	"context"
	"testing"
	"time"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

func newTestAuth(t *testing.T) (*AuthService, *config.Store) {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	auth := NewAuthService(store, "test-secret-key-for-jwt")
	return auth, store
}

func TestSessionRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	alice := model.Principal{
		UserID: "alice",
		Email:  "alice@example.com",
		Groups: []string{"engineering", "oncall"},
	}
	token, err := auth.IssueSession(ctx, alice, false, 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if principal.UserID != "alice" {
		t.Errorf("UserID: got %q, want alice", principal.UserID)
	}
	if principal.Email != "alice@example.com" {
		t.Errorf("Email: got %q", principal.Email)
	}
	if len(principal.Groups) != 2 || principal.Groups[0] != "engineering" {
		t.Errorf("Groups: got %v", principal.Groups)
	}
	if principal.Admin {
		t.Error("Admin: got true, want false")
	}
}

func TestSessionAdminFlag(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.IssueSession(ctx, model.Principal{UserID: "root", Email: "root@example.com"}, true, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	principal, err := auth.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if !principal.Admin {
		t.Error("expected admin flag to survive the round trip")
	}
}

func TestSessionExpired(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	token, err := auth.IssueSession(ctx, model.Principal{UserID: "a"}, false, -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := auth.ValidateSession(ctx, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestSessionInvalidToken(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.ValidateSession(ctx, "garbage.token.here"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestSessionWrongSecret(t *testing.T) {
	auth, _ := newTestAuth(t)
	other, _ := newTestAuth(t)
	other.jwtSecret = []byte("a-different-secret")
	ctx := context.Background()

	token, err := other.IssueSession(ctx, model.Principal{UserID: "a"}, false, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := auth.ValidateSession(ctx, token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestAPIKeyValidation(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	rawKey := "wdn_test_key_abcdef123456"
	key := &model.APIKey{
		UserID:    "alice",
		Name:      "ci",
		KeyHash:   config.HashSecret(rawKey),
		KeyPrefix: rawKey[:12],
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	principal, err := auth.ValidateAPIKey(ctx, rawKey)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if principal.UserID != "alice" {
		t.Errorf("UserID: got %q, want alice", principal.UserID)
	}
	if principal.KeyID != key.ID {
		t.Errorf("KeyID: got %q, want %q", principal.KeyID, key.ID)
	}

	if _, err := auth.ValidateAPIKey(ctx, "wrong_key"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAPIKeyRevoked(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	rawKey := "wdn_revoke_test_key"
	key := &model.APIKey{
		UserID:    "alice",
		Name:      "revoke-test",
		KeyHash:   config.HashSecret(rawKey),
		KeyPrefix: rawKey[:12],
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := store.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	if _, err := auth.ValidateAPIKey(ctx, rawKey); err != ErrKeyRevoked {
		t.Errorf("expected ErrKeyRevoked, got %v", err)
	}
}

func TestAPIKeyExpired(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	rawKey := "wdn_expired_test_key"
	past := time.Now().Add(-time.Hour)
	key := &model.APIKey{
		UserID:    "alice",
		Name:      "expired",
		KeyHash:   config.HashSecret(rawKey),
		KeyPrefix: rawKey[:12],
		ExpiresAt: &past,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if _, err := auth.ValidateAPIKey(ctx, rawKey); err != ErrTokenExpired {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}
