package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

// SessionConfigTTL is the download window of a generated session
// config artifact. Expiry is checked lazily at download time.
const SessionConfigTTL = 24 * time.Hour

// ErrArtifactExpired means the session config's download window has
// passed.
var ErrArtifactExpired = errors.New("session config expired")

// ExpiryPreset is one of the fixed API key lifetimes.
type ExpiryPreset string

const (
	Expiry30Days  ExpiryPreset = "30d"
	Expiry90Days  ExpiryPreset = "90d"
	Expiry365Days ExpiryPreset = "365d"
	ExpiryNever   ExpiryPreset = "never"
)

// Duration returns the preset's lifetime, or ok=false for never.
func (p ExpiryPreset) Duration() (d time.Duration, ok bool) {
	switch p {
	case Expiry30Days:
		return 30 * 24 * time.Hour, true
	case Expiry90Days:
		return 90 * 24 * time.Hour, true
	case Expiry365Days:
		return 365 * 24 * time.Hour, true
	case ExpiryNever:
		return 0, false
	}
	return 0, false
}

// Valid reports whether p is a known preset.
func (p ExpiryPreset) Valid() bool {
	switch p {
	case Expiry30Days, Expiry90Days, Expiry365Days, ExpiryNever:
		return true
	}
	return false
}

// CredentialService manages API keys and session config artifacts.
type CredentialService struct {
	store *config.Store
	auth  *AuthService
	now   func() time.Time
}

func NewCredentialService(store *config.Store, auth *AuthService) *CredentialService {
	return &CredentialService{
		store: store,
		auth:  auth,
		now:   time.Now,
	}
}

// CreateAPIKey mints a key for the user and returns the raw secret
// exactly once. Only the hash and a display prefix are stored.
func (s *CredentialService) CreateAPIKey(ctx context.Context, userID, name, description string, expiry ExpiryPreset) (*model.APIKey, string, error) {
	if !expiry.Valid() {
		return nil, "", fmt.Errorf("unknown expiry preset %q", expiry)
	}

	raw, hash, prefix, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}

	key := &model.APIKey{
		UserID:      userID,
		Name:        name,
		Description: description,
		KeyHash:     hash,
		KeyPrefix:   prefix,
	}
	if d, ok := expiry.Duration(); ok {
		exp := s.now().UTC().Add(d)
		key.ExpiresAt = &exp
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, raw, nil
}

// RevokeAPIKey permanently disables a key. Revocation is terminal:
// there is no un-revoke, and revoking twice keeps the original
// revocation timestamp.
func (s *CredentialService) RevokeAPIKey(ctx context.Context, id string) error {
	return s.store.RevokeAPIKey(ctx, id)
}

// ActiveKeys lists the user's keys that can authenticate right now.
func (s *CredentialService) ActiveKeys(ctx context.Context, userID string) ([]model.APIKey, error) {
	keys, err := s.store.ListAPIKeysForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := keys[:0]
	for _, k := range keys {
		if k.Active(now) {
			active = append(active, k)
		}
	}
	return active, nil
}

// SessionConfigGrant is the result of generating a session config: the
// stored artifact and the signed token that authorizes its download.
type SessionConfigGrant struct {
	Artifact      *model.SessionConfigArtifact `json:"artifact"`
	DownloadToken string                       `json:"download_token"`
	ExpiresAt     time.Time                    `json:"expires_at"`
}

// GenerateSessionConfig creates a session config artifact for the
// (user, gateway) pair and signs a download token bound to both. The
// gateway must exist and be active.
func (s *CredentialService) GenerateSessionConfig(ctx context.Context, userID, gatewayID string) (*SessionConfigGrant, error) {
	gw, err := s.store.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	if !gw.IsActive {
		return nil, fmt.Errorf("gateway %s is inactive", gw.Name)
	}

	now := s.now().UTC()
	artifact := &model.SessionConfigArtifact{
		UserID:    userID,
		GatewayID: gatewayID,
		FileName:  fmt.Sprintf("%s-%s.ovpn", gw.Name, now.Format("20060102-150405")),
		ExpiresAt: now.Add(SessionConfigTTL),
	}
	if err := s.store.CreateSessionConfig(ctx, artifact); err != nil {
		return nil, err
	}

	token, err := s.auth.IssueDownloadToken(artifact.ID, userID, SessionConfigTTL)
	if err != nil {
		return nil, err
	}
	return &SessionConfigGrant{
		Artifact:      artifact,
		DownloadToken: token,
		ExpiresAt:     artifact.ExpiresAt,
	}, nil
}

// ResolveDownload validates a download token and returns the artifact
// it grants, enforcing the user binding and the lazy expiry check.
func (s *CredentialService) ResolveDownload(ctx context.Context, tokenStr string) (*model.SessionConfigArtifact, error) {
	artifactID, userID, err := s.auth.ValidateDownloadToken(tokenStr)
	if err != nil {
		return nil, err
	}
	artifact, err := s.store.GetSessionConfig(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.UserID != userID {
		return nil, ErrInvalidCredentials
	}
	if artifact.Expired(s.now()) {
		return nil, ErrArtifactExpired
	}
	return artifact, nil
}
