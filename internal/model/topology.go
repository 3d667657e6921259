package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NodeStatus is the derived online state of a hub or spoke. It is
// computed from heartbeat recency and the agent-reported error state,
// never stored as an independent column.
type NodeStatus string

const (
	StatusUnprovisioned NodeStatus = "unprovisioned"
	StatusOnline        NodeStatus = "online"
	StatusOffline       NodeStatus = "offline"
	StatusError         NodeStatus = "error"
)

// Network is an addressable network segment that hubs can expose to
// authorized principals.
type Network struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CIDR      string    `json:"cidr" db:"cidr"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Gateway is a standalone VPN endpoint with no spokes. Session config
// artifacts are issued against gateways.
type Gateway struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	PublicEndpoint string     `json:"public_endpoint" db:"public_endpoint"`
	Port           int        `json:"port" db:"port"`
	Protocol       string     `json:"protocol" db:"protocol"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	ClientCount    int        `json:"client_count" db:"client_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// MeshHub is the central relay of a hub-and-spoke mesh. The one-time
// provisioning token is stored only as a hash plus a displayable
// prefix; the raw value exists solely in the creation response.
type MeshHub struct {
	ID             string      `json:"id" db:"id"`
	Name           string      `json:"name" db:"name"`
	Endpoint       string      `json:"endpoint" db:"endpoint"`
	Port           int         `json:"port" db:"port"`
	Protocol       string      `json:"protocol" db:"protocol"`
	Subnet         string      `json:"subnet" db:"subnet"`
	CryptoProfile  string      `json:"crypto_profile" db:"crypto_profile"`
	TLSAuthEnabled bool        `json:"tls_auth_enabled" db:"tls_auth_enabled"`
	FullTunnelMode bool        `json:"full_tunnel_mode" db:"full_tunnel_mode"`
	PushDNS        bool        `json:"push_dns" db:"push_dns"`
	DNSServers     StringSlice `json:"dns_servers" db:"dns_servers"`
	LocalNetworks  StringSlice `json:"local_networks" db:"local_networks"` // CIDRs behind the hub itself
	SessionEnabled bool        `json:"session_enabled" db:"session_enabled"`
	IsActive       bool        `json:"is_active" db:"is_active"`
	ErrorState     string      `json:"error_state,omitempty" db:"error_state"` // agent-reported fault, empty when healthy
	LastHeartbeat  *time.Time  `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	TokenHash      string      `json:"-" db:"token_hash"` // SHA-256, never expose
	TokenPrefix    string      `json:"token_prefix" db:"token_prefix"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// MeshSpoke is a secondary site connected to a hub. The hub owns its
// spokes: deleting a hub cascades to them.
type MeshSpoke struct {
	ID            string      `json:"id" db:"id"`
	HubID         string      `json:"hub_id" db:"hub_id"`
	Name          string      `json:"name" db:"name"`
	LocalNetworks StringSlice `json:"local_networks" db:"local_networks"`
	TunnelIP      string      `json:"tunnel_ip,omitempty" db:"tunnel_ip"`
	RemoteIP      string      `json:"remote_ip,omitempty" db:"remote_ip"`
	ErrorState    string      `json:"error_state,omitempty" db:"error_state"`
	LastSeen      *time.Time  `json:"last_seen,omitempty" db:"last_seen"`
	TokenHash     string      `json:"-" db:"token_hash"`
	TokenPrefix   string      `json:"token_prefix" db:"token_prefix"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// HubNetworkAssignment explicitly exposes a network through a hub.
// Exposure is never implied by topological proximity.
type HubNetworkAssignment struct {
	ID        string    `json:"id" db:"id"`
	HubID     string    `json:"hub_id" db:"hub_id"`
	NetworkID string    `json:"network_id" db:"network_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// StringSlice stores a []string as a JSON text column. Used for DNS
// server and local network lists on hubs and spokes.
type StringSlice []string

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}
}

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
