package model

// Principal is the resolved identity an access decision is made for:
// a user plus their group memberships. The tuple comes from the
// identity source and is trusted as-is; this engine performs no
// authentication beyond verifying the session token that carries it.
type Principal struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Groups []string `json:"groups"`
}

// Target describes the destination of a prospective connection. Host
// is either an IP address literal or a hostname; port and protocol are
// optional and only consulted when the matching rule constrains them.
type Target struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}
