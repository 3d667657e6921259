package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshwarden/warden/internal/model"
)

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. KeyHash must already be
// set (use HashSecret); the raw key never reaches the store. The ID
// and CreatedAt fields are populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.ID = uuid.NewString()
	key.CreatedAt = now()

	const q = `INSERT INTO api_keys
		(id, user_id, name, description, key_hash, key_prefix, expires_at, is_revoked, revoked_at, last_used_at, created_at)
		VALUES
		(:id, :user_id, :name, :description, :key_hash, :key_prefix, :expires_at, :is_revoked, :revoked_at, :last_used_at, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ListAPIKeysForUser returns a user's API keys, newest first.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys,
		"SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC", userID); err != nil {
		return nil, fmt.Errorf("list api keys for user: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks an API key as revoked. Revocation is terminal:
// an already revoked key stays revoked and the call reports ErrNotFound
// only for unknown IDs.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_revoked = 1, revoked_at = COALESCE(revoked_at, ?) WHERE id = ?", now(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used_at timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", now(), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Session config artifacts
// ---------------------------------------------------------------------------

// CreateSessionConfig records an issued session config artifact.
func (s *Store) CreateSessionConfig(ctx context.Context, a *model.SessionConfigArtifact) error {
	a.ID = uuid.NewString()
	a.CreatedAt = now()

	const q = `INSERT INTO session_configs (id, user_id, gateway_id, file_name, expires_at, created_at)
		VALUES (:id, :user_id, :gateway_id, :file_name, :expires_at, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		return fmt.Errorf("insert session config: %w", err)
	}
	return nil
}

// GetSessionConfig returns a session config artifact by ID. Expired
// artifacts are still returned; expiry is the caller's lazy check.
func (s *Store) GetSessionConfig(ctx context.Context, id string) (*model.SessionConfigArtifact, error) {
	var a model.SessionConfigArtifact
	if err := s.db.GetContext(ctx, &a, "SELECT * FROM session_configs WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session config: %w", err)
	}
	return &a, nil
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

// CreateAdmin inserts a new admin account.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	ts := now()
	admin.ID = uuid.NewString()
	admin.CreatedAt = ts
	admin.UpdatedAt = ts

	const q = `INSERT INTO admins (id, email, password_hash, name, is_active, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :name, :is_active, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, admin); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert admin: %w", err)
	}
	return nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, "SELECT * FROM admins WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists. Used
// for first-run detection.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id string) error {
	ts := now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?", ts, ts, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update admin last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Counts (telemetry)
// ---------------------------------------------------------------------------

// Counts reports row counts for telemetry and status output.
type Counts struct {
	Rules       int `db:"rules"`
	Assignments int `db:"assignments"`
	Networks    int `db:"networks"`
	Gateways    int `db:"gateways"`
	Hubs        int `db:"hubs"`
	Spokes      int `db:"spokes"`
	APIKeys     int `db:"api_keys"`
	Admins      int `db:"admins"`
}

// CountAll returns row counts across the main tables.
func (s *Store) CountAll(ctx context.Context) (Counts, error) {
	var c Counts
	const q = `SELECT
		(SELECT COUNT(*) FROM access_rules) AS rules,
		(SELECT COUNT(*) FROM rule_assignments) AS assignments,
		(SELECT COUNT(*) FROM networks) AS networks,
		(SELECT COUNT(*) FROM gateways) AS gateways,
		(SELECT COUNT(*) FROM mesh_hubs) AS hubs,
		(SELECT COUNT(*) FROM mesh_spokes) AS spokes,
		(SELECT COUNT(*) FROM api_keys) AS api_keys,
		(SELECT COUNT(*) FROM admins) AS admins`
	if err := s.db.GetContext(ctx, &c, q); err != nil {
		return Counts{}, fmt.Errorf("count all: %w", err)
	}
	return c, nil
}
