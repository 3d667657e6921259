package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS access_rules (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			type TEXT NOT NULL,
			value TEXT NOT NULL,
			port_range TEXT NOT NULL DEFAULT '',
			protocol TEXT NOT NULL DEFAULT '',
			network_scope TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			description TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS rule_assignments (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL REFERENCES access_rules(id) ON DELETE CASCADE,
			subject_type TEXT NOT NULL,
			subject TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (rule_id, subject_type, subject)
		)`,

		`CREATE TABLE IF NOT EXISTS networks (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			cidr TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS gateways (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			public_endpoint TEXT NOT NULL,
			port INTEGER NOT NULL,
			protocol TEXT NOT NULL DEFAULT 'udp',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_heartbeat DATETIME,
			client_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS mesh_hubs (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			endpoint TEXT NOT NULL,
			port INTEGER NOT NULL,
			protocol TEXT NOT NULL DEFAULT 'udp',
			subnet TEXT NOT NULL DEFAULT '',
			crypto_profile TEXT NOT NULL DEFAULT 'modern',
			tls_auth_enabled INTEGER NOT NULL DEFAULT 0,
			full_tunnel_mode INTEGER NOT NULL DEFAULT 0,
			push_dns INTEGER NOT NULL DEFAULT 0,
			dns_servers TEXT NOT NULL DEFAULT '[]',
			local_networks TEXT NOT NULL DEFAULT '[]',
			session_enabled INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			error_state TEXT NOT NULL DEFAULT '',
			last_heartbeat DATETIME,
			token_hash TEXT UNIQUE NOT NULL,
			token_prefix TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS mesh_spokes (
			id TEXT PRIMARY KEY,
			hub_id TEXT NOT NULL REFERENCES mesh_hubs(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			local_networks TEXT NOT NULL DEFAULT '[]',
			tunnel_ip TEXT NOT NULL DEFAULT '',
			remote_ip TEXT NOT NULL DEFAULT '',
			error_state TEXT NOT NULL DEFAULT '',
			last_seen DATETIME,
			token_hash TEXT UNIQUE NOT NULL,
			token_prefix TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (hub_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS hub_network_assignments (
			id TEXT PRIMARY KEY,
			hub_id TEXT NOT NULL REFERENCES mesh_hubs(id) ON DELETE CASCADE,
			network_id TEXT NOT NULL REFERENCES networks(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL,
			UNIQUE (hub_id, network_id)
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			expires_at DATETIME,
			is_revoked INTEGER NOT NULL DEFAULT 0,
			revoked_at DATETIME,
			last_used_at DATETIME,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS session_configs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			gateway_id TEXT NOT NULL REFERENCES gateways(id) ON DELETE CASCADE,
			file_name TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_rule_assignments_rule ON rule_assignments(rule_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_assignments_subject ON rule_assignments(subject_type, subject)`,
		`CREATE INDEX IF NOT EXISTS idx_mesh_spokes_hub ON mesh_spokes(hub_id)`,
		`CREATE INDEX IF NOT EXISTS idx_hub_network_assignments_hub ON hub_network_assignments(hub_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_configs_user ON session_configs(user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Idempotent re-runs: ignore "duplicate column" from older
			// databases that already applied an ALTER migration.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nstatement: %s", err, m)
		}
	}
	return nil
}
