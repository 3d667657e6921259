package model

import "time"

// SessionConfigArtifact records a generated VPN session config for a
// (user, gateway) pair. The artifact is retrievable by a signed,
// time-bounded download URL; the signing token itself is never stored.
// Expiry is checked lazily at download time, not actively purged.
type SessionConfigArtifact struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	GatewayID string    `json:"gateway_id" db:"gateway_id"`
	FileName  string    `json:"file_name" db:"file_name"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the artifact's download window has passed.
func (a *SessionConfigArtifact) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
