package model

import "time"

// APIKey authenticates programmatic requests on behalf of a user. The
// raw key is never stored; only a SHA-256 hash and a short prefix for
// identification are persisted.
type APIKey struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	KeyHash     string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	IsRevoked   bool       `json:"is_revoked" db:"is_revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Active reports whether the key may authenticate at the given
// instant. Revocation is terminal; expiry is passive and only ever
// checked by time comparison.
func (k *APIKey) Active(now time.Time) bool {
	if k.IsRevoked {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}
