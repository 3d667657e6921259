package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/meshwarden/warden/internal/model"
)

func newTestProvisioning(t *testing.T) (*ProvisioningService, *AuthService) {
	t.Helper()
	auth, store := newTestAuth(t)
	return NewProvisioningService(store, "https://warden.example.com"), auth
}

func TestGenerateToken(t *testing.T) {
	raw, hash, prefix, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !strings.HasPrefix(raw, "wdn_") {
		t.Errorf("raw token %q missing wdn_ prefix", raw)
	}
	if len(raw) != len("wdn_")+64 {
		t.Errorf("raw token length %d, want %d", len(raw), len("wdn_")+64)
	}
	if !strings.HasPrefix(raw, prefix) {
		t.Errorf("prefix %q is not a prefix of the raw token", prefix)
	}
	if strings.Contains(hash, raw[len("wdn_"):]) {
		t.Error("hash appears to contain the raw secret")
	}

	raw2, _, _, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if raw == raw2 {
		t.Error("two generated tokens are identical")
	}
}

func TestCreateHubStoresOnlyHash(t *testing.T) {
	prov, _ := newTestProvisioning(t)
	ctx := context.Background()

	hub := &model.MeshHub{Name: "hub-1", Endpoint: "hub1.example.com", Port: 1194, Protocol: "udp", IsActive: true}
	raw, err := prov.CreateHub(ctx, hub)
	if err != nil {
		t.Fatalf("CreateHub: %v", err)
	}
	if raw == "" {
		t.Fatal("expected raw token in creation response")
	}
	if hub.TokenHash == raw || strings.Contains(hub.TokenHash, raw) {
		t.Error("raw token leaked into the stored hash")
	}

	got, err := prov.AuthenticateHubToken(ctx, raw)
	if err != nil {
		t.Fatalf("AuthenticateHubToken: %v", err)
	}
	if got.ID != hub.ID {
		t.Errorf("token resolved to hub %s, want %s", got.ID, hub.ID)
	}

	if _, err := prov.AuthenticateHubToken(ctx, "wdn_wrong"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateSpokeToken(t *testing.T) {
	prov, _ := newTestProvisioning(t)
	ctx := context.Background()

	hub := &model.MeshHub{Name: "hub-1", Endpoint: "hub1.example.com", Port: 1194, Protocol: "udp", IsActive: true}
	if _, err := prov.CreateHub(ctx, hub); err != nil {
		t.Fatalf("CreateHub: %v", err)
	}

	spoke := &model.MeshSpoke{HubID: hub.ID, Name: "branch", LocalNetworks: model.StringSlice{"10.9.0.0/24"}}
	raw, err := prov.CreateSpoke(ctx, spoke)
	if err != nil {
		t.Fatalf("CreateSpoke: %v", err)
	}

	got, err := prov.AuthenticateSpokeToken(ctx, raw)
	if err != nil {
		t.Fatalf("AuthenticateSpokeToken: %v", err)
	}
	if got.ID != spoke.ID {
		t.Errorf("token resolved to spoke %s, want %s", got.ID, spoke.ID)
	}
}

func TestProvisionHubPushesControlPlane(t *testing.T) {
	var gotPath string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prov, _ := newTestProvisioning(t)
	ctx := context.Background()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	hub := &model.MeshHub{Name: "hub-live", Endpoint: u.Hostname(), Port: port, Protocol: "udp", IsActive: true}
	if _, err := prov.CreateHub(ctx, hub); err != nil {
		t.Fatalf("CreateHub: %v", err)
	}

	if err := prov.ProvisionHub(ctx, hub.ID); err != nil {
		t.Fatalf("ProvisionHub: %v", err)
	}
	if gotPath != "/provision" {
		t.Errorf("agent received path %q, want /provision", gotPath)
	}
	if !strings.Contains(gotBody, "warden.example.com") {
		t.Errorf("payload missing control plane URL: %s", gotBody)
	}
	if !strings.Contains(gotBody, hub.ID) {
		t.Errorf("payload missing node id: %s", gotBody)
	}
}

func TestProvisionHubFailureLeavesStateUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	prov, _ := newTestProvisioning(t)
	ctx := context.Background()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	hub := &model.MeshHub{Name: "hub-down", Endpoint: u.Hostname(), Port: port, Protocol: "udp", IsActive: true}
	raw, err := prov.CreateHub(ctx, hub)
	if err != nil {
		t.Fatalf("CreateHub: %v", err)
	}

	err = prov.ProvisionHub(ctx, hub.ID)
	var pf *ProvisioningFailure
	if !errors.As(err, &pf) {
		t.Fatalf("expected ProvisioningFailure, got %v", err)
	}

	// The enrollment token survives the failed push: a retry uses the
	// same secret.
	if _, err := prov.AuthenticateHubToken(ctx, raw); err != nil {
		t.Errorf("token invalidated by failed provisioning: %v", err)
	}
}
