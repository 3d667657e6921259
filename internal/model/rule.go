package model

import "time"

// RuleType discriminates how an access rule's value is interpreted
// during matching.
type RuleType string

const (
	RuleTypeIP               RuleType = "ip"
	RuleTypeCIDR             RuleType = "cidr"
	RuleTypeHostname         RuleType = "hostname"
	RuleTypeHostnameWildcard RuleType = "hostname_wildcard"
)

// Valid reports whether rt is one of the known rule types.
func (rt RuleType) Valid() bool {
	switch rt {
	case RuleTypeIP, RuleTypeCIDR, RuleTypeHostname, RuleTypeHostnameWildcard:
		return true
	}
	return false
}

// AccessRule grants a principal access to a host, network, or hostname.
// The zero-trust model means nothing is reachable without a granting
// rule. Value must parse according to Type; invalid rules are rejected
// at creation and never stored.
type AccessRule struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Type         RuleType  `json:"type" db:"type"`
	Value        string    `json:"value" db:"value"`
	PortRange    string    `json:"port_range,omitempty" db:"port_range"`       // "443" or "8000-8080", empty = any
	Protocol     string    `json:"protocol,omitempty" db:"protocol"`           // tcp/udp, empty = any
	NetworkScope string    `json:"network_scope,omitempty" db:"network_scope"` // CIDR the rule is confined to
	IsActive     bool      `json:"is_active" db:"is_active"`
	Description  string    `json:"description" db:"description"`
	Version      int64     `json:"version" db:"version"` // optimistic concurrency
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// SubjectType distinguishes user and group assignments.
type SubjectType string

const (
	SubjectUser  SubjectType = "user"
	SubjectGroup SubjectType = "group"
)

// RuleAssignment binds an access rule to a user or a group. A rule may
// have any number of assignments of either kind; assignments are
// managed independently of the rule itself.
type RuleAssignment struct {
	ID          string      `json:"id" db:"id"`
	RuleID      string      `json:"rule_id" db:"rule_id"`
	SubjectType SubjectType `json:"subject_type" db:"subject_type"`
	Subject     string      `json:"subject" db:"subject"` // user ID or group name
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}
