package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrKeyRevoked         = errors.New("api key revoked")
)

// APIKeyPrincipal identifies the key and the user it acts for.
type APIKeyPrincipal struct {
	KeyID  string
	UserID string
}

// SessionPrincipal is the identity tuple carried by a session token:
// the user, their email, their group memberships, and whether the
// session belongs to an admin. Groups are read fresh from the token on
// every request; nothing is cached between requests.
type SessionPrincipal struct {
	UserID string
	Email  string
	Groups []string
	Admin  bool
}

// Principal converts the session identity into the tuple access
// decisions are made for.
func (p *SessionPrincipal) Principal() model.Principal {
	return model.Principal{UserID: p.UserID, Email: p.Email, Groups: p.Groups}
}

type AuthService struct {
	store     *config.Store
	jwtSecret []byte
}

func NewAuthService(store *config.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateAPIKey checks the provided raw API key against stored key
// hashes. Revocation is terminal and wins over expiry in reporting.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKeyPrincipal, error) {
	hash := config.HashSecret(rawKey)

	key, err := s.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if key.IsRevoked {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	// Update last used timestamp (fire and forget)
	go s.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

	return &APIKeyPrincipal{
		KeyID:  key.ID,
		UserID: key.UserID,
	}, nil
}

// ValidateSession verifies a session bearer token and returns the
// identity tuple it carries.
func (s *AuthService) ValidateSession(ctx context.Context, tokenStr string) (*SessionPrincipal, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &SessionPrincipal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Groups: claims.Groups,
		Admin:  claims.Admin,
	}, nil
}

// IssueSession creates a signed session token carrying the identity
// tuple.
func (s *AuthService) IssueSession(ctx context.Context, principal model.Principal, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Email:  principal.Email,
		Groups: principal.Groups,
		Admin:  admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "warden",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// IssueDownloadToken signs a short-lived token that grants access to a
// single session config artifact for a single user.
func (s *AuthService) IssueDownloadToken(artifactID, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := downloadClaims{
		ArtifactID: artifactID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "warden",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateDownloadToken verifies a download token and returns the
// artifact and user it is bound to.
func (s *AuthService) ValidateDownloadToken(tokenStr string) (artifactID, userID string, err error) {
	claims := &downloadClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", "", ErrInvalidCredentials
	}
	return claims.ArtifactID, claims.Subject, nil
}

type sessionClaims struct {
	Email  string   `json:"email"`
	Groups []string `json:"groups,omitempty"`
	Admin  bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

type downloadClaims struct {
	ArtifactID string `json:"artifact_id"`
	jwt.RegisteredClaims
}
