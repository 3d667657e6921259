package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meshwarden/warden/internal/model"
)

// ---------------------------------------------------------------------------
// Networks
// ---------------------------------------------------------------------------

// CreateNetwork inserts a new network definition.
func (s *Store) CreateNetwork(ctx context.Context, n *model.Network) error {
	ts := now()
	n.ID = uuid.NewString()
	n.CreatedAt = ts
	n.UpdatedAt = ts

	const q = `INSERT INTO networks (id, name, cidr, is_active, created_at, updated_at)
		VALUES (:id, :name, :cidr, :is_active, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, n); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert network: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// GetNetwork returns a network by ID.
func (s *Store) GetNetwork(ctx context.Context, id string) (*model.Network, error) {
	var n model.Network
	if err := s.db.GetContext(ctx, &n, "SELECT * FROM networks WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get network: %w", err)
	}
	return &n, nil
}

// ListNetworks returns all networks ordered by name.
func (s *Store) ListNetworks(ctx context.Context) ([]model.Network, error) {
	var out []model.Network
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM networks ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	return out, nil
}

// UpdateNetwork updates an existing network.
func (s *Store) UpdateNetwork(ctx context.Context, n *model.Network) error {
	n.UpdatedAt = now()
	const q = `UPDATE networks SET name = :name, cidr = :cidr, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, q, n)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update network: %w", err)
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update network rows affected: %w", err)
	}
	if nrows == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// DeleteNetwork removes a network; hub assignments referencing it are
// cascade deleted.
func (s *Store) DeleteNetwork(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM networks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete network: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete network rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// ---------------------------------------------------------------------------
// Gateways
// ---------------------------------------------------------------------------

// CreateGateway inserts a new standalone VPN gateway.
func (s *Store) CreateGateway(ctx context.Context, g *model.Gateway) error {
	ts := now()
	g.ID = uuid.NewString()
	g.CreatedAt = ts
	g.UpdatedAt = ts

	const q = `INSERT INTO gateways (id, name, public_endpoint, port, protocol, is_active, last_heartbeat, client_count, created_at, updated_at)
		VALUES (:id, :name, :public_endpoint, :port, :protocol, :is_active, :last_heartbeat, :client_count, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, g); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert gateway: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// GetGateway returns a gateway by ID.
func (s *Store) GetGateway(ctx context.Context, id string) (*model.Gateway, error) {
	var g model.Gateway
	if err := s.db.GetContext(ctx, &g, "SELECT * FROM gateways WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get gateway: %w", err)
	}
	return &g, nil
}

// ListGateways returns all gateways ordered by name.
func (s *Store) ListGateways(ctx context.Context) ([]model.Gateway, error) {
	var out []model.Gateway
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM gateways ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list gateways: %w", err)
	}
	return out, nil
}

// DeleteGateway removes a gateway and its session config records.
func (s *Store) DeleteGateway(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM gateways WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete gateway: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete gateway rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// TouchGateway records a gateway heartbeat. Heartbeats are monotonic:
// a timestamp older than the stored value is ignored, which protects
// against out-of-order delivery. The client count rides along only
// when the heartbeat is accepted. Returns ErrNotFound for an unknown
// gateway ID.
func (s *Store) TouchGateway(ctx context.Context, id string, seenAt time.Time, clientCount int) error {
	const q = `UPDATE gateways SET last_heartbeat = ?, client_count = ?, updated_at = ?
		WHERE id = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`
	res, err := s.db.ExecContext(ctx, q, seenAt.UTC(), clientCount, now(), id, seenAt.UTC())
	if err != nil {
		return fmt.Errorf("touch gateway: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch gateway rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a stale-timestamp skip from a missing row.
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM gateways WHERE id = ?)`, id); err != nil {
			return fmt.Errorf("touch gateway lookup: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return nil
	}
	s.bumpGeneration()
	return nil
}

// ---------------------------------------------------------------------------
// Mesh hubs
// ---------------------------------------------------------------------------

// CreateHub inserts a new mesh hub. TokenHash and TokenPrefix must be
// set by the provisioning service; the raw token never reaches the
// store.
func (s *Store) CreateHub(ctx context.Context, h *model.MeshHub) error {
	ts := now()
	h.ID = uuid.NewString()
	h.CreatedAt = ts
	h.UpdatedAt = ts

	const q = `INSERT INTO mesh_hubs
		(id, name, endpoint, port, protocol, subnet, crypto_profile, tls_auth_enabled, full_tunnel_mode,
		 push_dns, dns_servers, local_networks, session_enabled, is_active, error_state,
		 last_heartbeat, token_hash, token_prefix, created_at, updated_at)
		VALUES
		(:id, :name, :endpoint, :port, :protocol, :subnet, :crypto_profile, :tls_auth_enabled, :full_tunnel_mode,
		 :push_dns, :dns_servers, :local_networks, :session_enabled, :is_active, :error_state,
		 :last_heartbeat, :token_hash, :token_prefix, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, h); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert hub: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// GetHub returns a hub by ID.
func (s *Store) GetHub(ctx context.Context, id string) (*model.MeshHub, error) {
	var h model.MeshHub
	if err := s.db.GetContext(ctx, &h, "SELECT * FROM mesh_hubs WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get hub: %w", err)
	}
	return &h, nil
}

// GetHubByTokenHash looks a hub up by the hash of its provisioning
// token. Used to authenticate agent heartbeats.
func (s *Store) GetHubByTokenHash(ctx context.Context, hash string) (*model.MeshHub, error) {
	var h model.MeshHub
	if err := s.db.GetContext(ctx, &h, "SELECT * FROM mesh_hubs WHERE token_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get hub by token: %w", err)
	}
	return &h, nil
}

// ListHubs returns all hubs ordered by name.
func (s *Store) ListHubs(ctx context.Context) ([]model.MeshHub, error) {
	var out []model.MeshHub
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM mesh_hubs ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list hubs: %w", err)
	}
	return out, nil
}

// UpdateHub updates a hub's configuration fields. Token columns are
// deliberately excluded: tokens are issued once at creation and never
// rotated by an update.
func (s *Store) UpdateHub(ctx context.Context, h *model.MeshHub) error {
	h.UpdatedAt = now()
	const q = `UPDATE mesh_hubs SET
		name = :name, endpoint = :endpoint, port = :port, protocol = :protocol, subnet = :subnet,
		crypto_profile = :crypto_profile, tls_auth_enabled = :tls_auth_enabled,
		full_tunnel_mode = :full_tunnel_mode, push_dns = :push_dns, dns_servers = :dns_servers,
		local_networks = :local_networks, session_enabled = :session_enabled,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, q, h)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update hub: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update hub rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// DeleteHub removes a hub and, atomically in the same transaction, all
// of its spokes and network assignments. Hub deletion is irreversible.
func (s *Store) DeleteHub(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// The FK cascades cover these, but the explicit deletes keep the
	// ownership contract visible and independent of PRAGMA state.
	if _, err := tx.ExecContext(ctx, "DELETE FROM mesh_spokes WHERE hub_id = ?", id); err != nil {
		return fmt.Errorf("delete hub spokes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM hub_network_assignments WHERE hub_id = ?", id); err != nil {
		return fmt.Errorf("delete hub network assignments: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM mesh_hubs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete hub: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete hub rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hub delete: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// TouchHub records a hub heartbeat and the agent-reported error state
// (empty clears a previous fault). Stale timestamps are ignored.
func (s *Store) TouchHub(ctx context.Context, id string, seenAt time.Time, errorState string) error {
	const q = `UPDATE mesh_hubs SET last_heartbeat = ?, error_state = ?, updated_at = ?
		WHERE id = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`
	if _, err := s.db.ExecContext(ctx, q, seenAt.UTC(), errorState, now(), id, seenAt.UTC()); err != nil {
		return fmt.Errorf("touch hub: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// ---------------------------------------------------------------------------
// Mesh spokes
// ---------------------------------------------------------------------------

// CreateSpoke inserts a new spoke under an existing hub. Returns
// ErrNotFound when the hub does not exist.
func (s *Store) CreateSpoke(ctx context.Context, sp *model.MeshSpoke) error {
	if _, err := s.GetHub(ctx, sp.HubID); err != nil {
		return err
	}

	ts := now()
	sp.ID = uuid.NewString()
	sp.CreatedAt = ts
	sp.UpdatedAt = ts

	const q = `INSERT INTO mesh_spokes
		(id, hub_id, name, local_networks, tunnel_ip, remote_ip, error_state, last_seen, token_hash, token_prefix, created_at, updated_at)
		VALUES
		(:id, :hub_id, :name, :local_networks, :tunnel_ip, :remote_ip, :error_state, :last_seen, :token_hash, :token_prefix, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, sp); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert spoke: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// GetSpoke returns a spoke by ID.
func (s *Store) GetSpoke(ctx context.Context, id string) (*model.MeshSpoke, error) {
	var sp model.MeshSpoke
	if err := s.db.GetContext(ctx, &sp, "SELECT * FROM mesh_spokes WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get spoke: %w", err)
	}
	return &sp, nil
}

// GetSpokeByTokenHash looks a spoke up by its token hash.
func (s *Store) GetSpokeByTokenHash(ctx context.Context, hash string) (*model.MeshSpoke, error) {
	var sp model.MeshSpoke
	if err := s.db.GetContext(ctx, &sp, "SELECT * FROM mesh_spokes WHERE token_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get spoke by token: %w", err)
	}
	return &sp, nil
}

// ListSpokes returns all spokes of a hub.
func (s *Store) ListSpokes(ctx context.Context, hubID string) ([]model.MeshSpoke, error) {
	var out []model.MeshSpoke
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM mesh_spokes WHERE hub_id = ? ORDER BY name", hubID); err != nil {
		return nil, fmt.Errorf("list spokes: %w", err)
	}
	return out, nil
}

// ListAllSpokes returns every spoke across all hubs.
func (s *Store) ListAllSpokes(ctx context.Context) ([]model.MeshSpoke, error) {
	var out []model.MeshSpoke
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM mesh_spokes ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list all spokes: %w", err)
	}
	return out, nil
}

// DeleteSpoke removes a single spoke. The owning hub is unaffected.
func (s *Store) DeleteSpoke(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM mesh_spokes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete spoke: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete spoke rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// TouchSpoke records a spoke heartbeat, optionally with its current
// tunnel and remote addresses. Stale timestamps are ignored.
func (s *Store) TouchSpoke(ctx context.Context, id string, seenAt time.Time, remoteIP, errorState string) error {
	const q = `UPDATE mesh_spokes SET last_seen = ?, remote_ip = ?, error_state = ?, updated_at = ?
		WHERE id = ? AND (last_seen IS NULL OR last_seen < ?)`
	if _, err := s.db.ExecContext(ctx, q, seenAt.UTC(), remoteIP, errorState, now(), id, seenAt.UTC()); err != nil {
		return fmt.Errorf("touch spoke: %w", err)
	}
	s.bumpGeneration()
	return nil
}

// ---------------------------------------------------------------------------
// Hub network assignments
// ---------------------------------------------------------------------------

// AssignNetworkToHub exposes a network through a hub. Both sides must
// exist; duplicates return ErrDuplicate.
func (s *Store) AssignNetworkToHub(ctx context.Context, hubID, networkID string) (*model.HubNetworkAssignment, error) {
	if _, err := s.GetHub(ctx, hubID); err != nil {
		return nil, err
	}
	if _, err := s.GetNetwork(ctx, networkID); err != nil {
		return nil, err
	}

	a := &model.HubNetworkAssignment{
		ID:        uuid.NewString(),
		HubID:     hubID,
		NetworkID: networkID,
		CreatedAt: now(),
	}
	const q = `INSERT INTO hub_network_assignments (id, hub_id, network_id, created_at)
		VALUES (:id, :hub_id, :network_id, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert hub network assignment: %w", err)
	}
	s.bumpGeneration()
	return a, nil
}

// UnassignNetworkFromHub removes the exposure of a network through a hub.
func (s *Store) UnassignNetworkFromHub(ctx context.Context, hubID, networkID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM hub_network_assignments WHERE hub_id = ? AND network_id = ?", hubID, networkID)
	if err != nil {
		return fmt.Errorf("delete hub network assignment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete hub network assignment rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.bumpGeneration()
	return nil
}

// ListHubNetworks returns the networks explicitly assigned to a hub.
func (s *Store) ListHubNetworks(ctx context.Context, hubID string) ([]model.Network, error) {
	var out []model.Network
	const q = `SELECT n.* FROM networks n
		JOIN hub_network_assignments a ON a.network_id = n.id
		WHERE a.hub_id = ? ORDER BY n.name`
	if err := s.db.SelectContext(ctx, &out, q, hubID); err != nil {
		return nil, fmt.Errorf("list hub networks: %w", err)
	}
	return out, nil
}

// HubSnapshot is a consistent view of one hub and everything reachable
// through it, read in a single transaction.
type HubSnapshot struct {
	Hub      model.MeshHub
	Spokes   []model.MeshSpoke
	Networks []model.Network // explicitly assigned, active only
}

// LoadHubSnapshot reads a hub, its spokes, and its assigned active
// networks transactionally. Returns ErrNotFound for an unknown hub.
func (s *Store) LoadHubSnapshot(ctx context.Context, hubID string) (*HubSnapshot, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &HubSnapshot{}
	if err := tx.GetContext(ctx, &snap.Hub, "SELECT * FROM mesh_hubs WHERE id = ?", hubID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot hub: %w", err)
	}
	if err := tx.SelectContext(ctx, &snap.Spokes, "SELECT * FROM mesh_spokes WHERE hub_id = ? ORDER BY name", hubID); err != nil {
		return nil, fmt.Errorf("snapshot spokes: %w", err)
	}
	const nq = `SELECT n.* FROM networks n
		JOIN hub_network_assignments a ON a.network_id = n.id
		WHERE a.hub_id = ? AND n.is_active = 1 ORDER BY n.name`
	if err := tx.SelectContext(ctx, &snap.Networks, nq, hubID); err != nil {
		return nil, fmt.Errorf("snapshot hub networks: %w", err)
	}
	return snap, nil
}
