package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

// secretPrefix leads every generated secret so leaked values can be
// recognized in logs and scanners.
const secretPrefix = "wdn_"

// provisionTimeout bounds the push to an agent endpoint.
const provisionTimeout = 10 * time.Second

// ProvisioningFailure reports that an agent could not be reached or
// rejected the provisioning payload. The stored node state is
// unchanged when this is returned; in particular the enrollment token
// is never rotated by a failed push.
type ProvisioningFailure struct {
	NodeID string
	Reason string
}

func (e *ProvisioningFailure) Error() string {
	return fmt.Sprintf("provisioning %s failed: %s", e.NodeID, e.Reason)
}

// ProvisioningService creates mesh nodes with their one-time
// enrollment tokens and pushes control-plane details to agents.
type ProvisioningService struct {
	store      *config.Store
	httpClient *http.Client

	// ControlPlaneURL is the address agents call back to with
	// heartbeats. Sent to the agent during provisioning.
	ControlPlaneURL string
}

func NewProvisioningService(store *config.Store, controlPlaneURL string) *ProvisioningService {
	return &ProvisioningService{
		store:           store,
		httpClient:      &http.Client{Timeout: provisionTimeout},
		ControlPlaneURL: controlPlaneURL,
	}
}

// GenerateToken returns a fresh enrollment secret and its stored
// representation. The raw value exists only in the caller's hands.
func GenerateToken() (raw, hash, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generating token: %w", err)
	}
	raw = secretPrefix + hex.EncodeToString(buf)
	return raw, config.HashSecret(raw), raw[:len(secretPrefix)+8], nil
}

// CreateHub persists a new hub and returns it with the raw enrollment
// token. The token is shown exactly once; only its hash survives.
func (s *ProvisioningService) CreateHub(ctx context.Context, hub *model.MeshHub) (rawToken string, err error) {
	raw, hash, prefix, err := GenerateToken()
	if err != nil {
		return "", err
	}
	hub.TokenHash = hash
	hub.TokenPrefix = prefix
	if err := s.store.CreateHub(ctx, hub); err != nil {
		return "", err
	}
	return raw, nil
}

// CreateSpoke persists a new spoke under its hub and returns the raw
// enrollment token, shown exactly once.
func (s *ProvisioningService) CreateSpoke(ctx context.Context, spoke *model.MeshSpoke) (rawToken string, err error) {
	raw, hash, prefix, err := GenerateToken()
	if err != nil {
		return "", err
	}
	spoke.TokenHash = hash
	spoke.TokenPrefix = prefix
	if err := s.store.CreateSpoke(ctx, spoke); err != nil {
		return "", err
	}
	return raw, nil
}

// AuthenticateHubToken resolves a presented raw enrollment token to
// its hub. Lookup is by hash; the raw value is never persisted.
func (s *ProvisioningService) AuthenticateHubToken(ctx context.Context, rawToken string) (*model.MeshHub, error) {
	hub, err := s.store.GetHubByTokenHash(ctx, config.HashSecret(rawToken))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return hub, nil
}

// AuthenticateSpokeToken resolves a presented raw enrollment token to
// its spoke.
func (s *ProvisioningService) AuthenticateSpokeToken(ctx context.Context, rawToken string) (*model.MeshSpoke, error) {
	spoke, err := s.store.GetSpokeByTokenHash(ctx, config.HashSecret(rawToken))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return spoke, nil
}

type provisionPayload struct {
	NodeID          string `json:"node_id"`
	ControlPlaneURL string `json:"control_plane_url"`
}

// ProvisionHub pushes the control-plane address to the hub's agent
// endpoint. Failure is reported to the caller and leaves the stored
// hub untouched; a retry presents the same enrollment token.
func (s *ProvisioningService) ProvisionHub(ctx context.Context, hubID string) error {
	hub, err := s.store.GetHub(ctx, hubID)
	if err != nil {
		return err
	}
	agentURL := fmt.Sprintf("http://%s:%d/provision", hub.Endpoint, hub.Port)
	return s.push(ctx, hub.ID, agentURL)
}

func (s *ProvisioningService) push(ctx context.Context, nodeID, agentURL string) error {
	body, err := json.Marshal(provisionPayload{
		NodeID:          nodeID,
		ControlPlaneURL: s.ControlPlaneURL,
	})
	if err != nil {
		return fmt.Errorf("encoding provision payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentURL, bytes.NewReader(body))
	if err != nil {
		return &ProvisioningFailure{NodeID: nodeID, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &ProvisioningFailure{NodeID: nodeID, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProvisioningFailure{NodeID: nodeID, Reason: fmt.Sprintf("agent returned %s", resp.Status)}
	}
	return nil
}
