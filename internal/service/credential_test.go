package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

func newTestCredentials(t *testing.T) (*CredentialService, *config.Store) {
	t.Helper()
	auth, store := newTestAuth(t)
	return NewCredentialService(store, auth), store
}

func TestExpiryPresets(t *testing.T) {
	tests := []struct {
		preset ExpiryPreset
		want   time.Duration
		bound  bool
	}{
		{Expiry30Days, 30 * 24 * time.Hour, true},
		{Expiry90Days, 90 * 24 * time.Hour, true},
		{Expiry365Days, 365 * 24 * time.Hour, true},
		{ExpiryNever, 0, false},
	}
	for _, tt := range tests {
		d, ok := tt.preset.Duration()
		if ok != tt.bound || d != tt.want {
			t.Errorf("%s: got (%v, %v), want (%v, %v)", tt.preset, d, ok, tt.want, tt.bound)
		}
		if !tt.preset.Valid() {
			t.Errorf("%s: Valid() = false", tt.preset)
		}
	}
	if ExpiryPreset("7d").Valid() {
		t.Error("unknown preset reported valid")
	}
}

func TestCreateAPIKeyOneTimeReveal(t *testing.T) {
	creds, store := newTestCredentials(t)
	ctx := context.Background()

	key, raw, err := creds.CreateAPIKey(ctx, "alice", "ci", "deploy pipeline", Expiry90Days)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, "wdn_") {
		t.Errorf("raw key %q missing prefix", raw)
	}
	if key.ExpiresAt == nil {
		t.Fatal("expected expiry for 90d preset")
	}

	// The stored record carries only hash and prefix.
	stored, err := store.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if stored.KeyHash != config.HashSecret(raw) {
		t.Error("stored hash does not match the revealed secret")
	}
	if !strings.HasPrefix(raw, stored.KeyPrefix) {
		t.Errorf("stored prefix %q does not lead the raw key", stored.KeyPrefix)
	}
}

func TestCreateAPIKeyNeverExpires(t *testing.T) {
	creds, _ := newTestCredentials(t)
	ctx := context.Background()

	key, _, err := creds.CreateAPIKey(ctx, "alice", "forever", "", ExpiryNever)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if key.ExpiresAt != nil {
		t.Errorf("never preset should leave expires_at unset, got %v", key.ExpiresAt)
	}
}

func TestCreateAPIKeyRejectsUnknownPreset(t *testing.T) {
	creds, _ := newTestCredentials(t)
	ctx := context.Background()

	if _, _, err := creds.CreateAPIKey(ctx, "alice", "bad", "", ExpiryPreset("14d")); err == nil {
		t.Fatal("expected error for unknown expiry preset")
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	creds, store := newTestCredentials(t)
	ctx := context.Background()

	key, _, err := creds.CreateAPIKey(ctx, "alice", "doomed", "", ExpiryNever)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := creds.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	first, _ := store.GetAPIKey(ctx, key.ID)
	if !first.IsRevoked || first.RevokedAt == nil {
		t.Fatalf("key not marked revoked: %+v", first)
	}

	// Revoking again keeps the original timestamp.
	time.Sleep(10 * time.Millisecond)
	if err := creds.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("second RevokeAPIKey: %v", err)
	}
	second, _ := store.GetAPIKey(ctx, key.ID)
	if !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Errorf("revoked_at moved from %v to %v", first.RevokedAt, second.RevokedAt)
	}
}

func TestActiveKeysFiltering(t *testing.T) {
	creds, store := newTestCredentials(t)
	ctx := context.Background()

	live, _, err := creds.CreateAPIKey(ctx, "alice", "live", "", Expiry30Days)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	revoked, _, err := creds.CreateAPIKey(ctx, "alice", "revoked", "", ExpiryNever)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := creds.RevokeAPIKey(ctx, revoked.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	expired := &model.APIKey{UserID: "alice", Name: "expired", KeyHash: config.HashSecret("wdn_old"), KeyPrefix: "wdn_old", ExpiresAt: &past}
	if err := store.CreateAPIKey(ctx, expired); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	// Another user's key never shows up.
	if _, _, err := creds.CreateAPIKey(ctx, "bob", "bobs", "", ExpiryNever); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	active, err := creds.ActiveKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveKeys: %v", err)
	}
	if len(active) != 1 || active[0].ID != live.ID {
		t.Errorf("ActiveKeys = %+v, want only %s", active, live.ID)
	}
}

func TestGenerateSessionConfig(t *testing.T) {
	creds, store := newTestCredentials(t)
	ctx := context.Background()

	gw := &model.Gateway{Name: "edge", PublicEndpoint: "edge.example.com", Port: 1194, Protocol: "udp", IsActive: true}
	if err := store.CreateGateway(ctx, gw); err != nil {
		t.Fatalf("CreateGateway: %v", err)
	}

	grant, err := creds.GenerateSessionConfig(ctx, "alice", gw.ID)
	if err != nil {
		t.Fatalf("GenerateSessionConfig: %v", err)
	}
	if grant.DownloadToken == "" {
		t.Fatal("expected a signed download token")
	}
	if got := time.Until(grant.ExpiresAt); got < 23*time.Hour || got > 25*time.Hour {
		t.Errorf("download window %v, want about 24h", got)
	}

	artifact, err := creds.ResolveDownload(ctx, grant.DownloadToken)
	if err != nil {
		t.Fatalf("ResolveDownload: %v", err)
	}
	if artifact.ID != grant.Artifact.ID {
		t.Errorf("resolved artifact %s, want %s", artifact.ID, grant.Artifact.ID)
	}
	if artifact.UserID != "alice" || artifact.GatewayID != gw.ID {
		t.Errorf("artifact binding wrong: %+v", artifact)
	}
}

func TestGenerateSessionConfigInactiveGateway(t *testing.T) {
	creds, store := newTestCredentials(t)
	ctx := context.Background()

	gw := &model.Gateway{Name: "down", PublicEndpoint: "down.example.com", Port: 1194, Protocol: "udp", IsActive: false}
	if err := store.CreateGateway(ctx, gw); err != nil {
		t.Fatalf("CreateGateway: %v", err)
	}
	if _, err := creds.GenerateSessionConfig(ctx, "alice", gw.ID); err == nil {
		t.Fatal("expected error for inactive gateway")
	}
}

func TestResolveDownloadExpired(t *testing.T) {
	creds, store := newTestCredentials(t)
	ctx := context.Background()

	gw := &model.Gateway{Name: "edge", PublicEndpoint: "edge.example.com", Port: 1194, Protocol: "udp", IsActive: true}
	if err := store.CreateGateway(ctx, gw); err != nil {
		t.Fatalf("CreateGateway: %v", err)
	}
	grant, err := creds.GenerateSessionConfig(ctx, "alice", gw.ID)
	if err != nil {
		t.Fatalf("GenerateSessionConfig: %v", err)
	}

	// Expiry is lazy: nothing purges the row, the check happens at
	// download time.
	creds.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := creds.ResolveDownload(ctx, grant.DownloadToken); !errors.Is(err, ErrArtifactExpired) {
		t.Errorf("expected ErrArtifactExpired, got %v", err)
	}
}

func TestResolveDownloadWrongUser(t *testing.T) {
	creds, store := newTestCredentials(t)
	ctx := context.Background()

	gw := &model.Gateway{Name: "edge", PublicEndpoint: "edge.example.com", Port: 1194, Protocol: "udp", IsActive: true}
	if err := store.CreateGateway(ctx, gw); err != nil {
		t.Fatalf("CreateGateway: %v", err)
	}
	grant, err := creds.GenerateSessionConfig(ctx, "alice", gw.ID)
	if err != nil {
		t.Fatalf("GenerateSessionConfig: %v", err)
	}

	// Forge a token for the same artifact but another subject.
	forged, err := creds.auth.IssueDownloadToken(grant.Artifact.ID, "mallory", time.Hour)
	if err != nil {
		t.Fatalf("IssueDownloadToken: %v", err)
	}
	if _, err := creds.ResolveDownload(ctx, forged); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}
