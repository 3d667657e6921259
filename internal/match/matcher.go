// Package match implements type-specific matching of access rules
// against target descriptors. Rule values are parsed into a
// discriminated union so matching is exhaustive per rule type and a
// malformed stored value can never match anything.
package match

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/meshwarden/warden/internal/model"
)

// Value is the parsed form of an access rule's value. Exactly one
// concrete type exists per rule type.
type Value interface {
	// Matches reports whether the target's address or hostname
	// satisfies this value. Port and protocol filters are applied
	// separately by Match.
	Matches(target model.Target) bool
}

// IPValue matches a single address literal exactly.
type IPValue struct {
	Addr netip.Addr
}

func (v IPValue) Matches(target model.Target) bool {
	addr, err := netip.ParseAddr(target.Host)
	if err != nil {
		return false
	}
	return addr.Unmap() == v.Addr
}

// CIDRValue matches any address inside the prefix. A target of the
// other address family never matches.
type CIDRValue struct {
	Prefix netip.Prefix
}

func (v CIDRValue) Matches(target model.Target) bool {
	addr, err := netip.ParseAddr(target.Host)
	if err != nil {
		return false
	}
	return v.Prefix.Contains(addr.Unmap())
}

// HostnameValue matches a hostname case-insensitively and exactly.
type HostnameValue struct {
	Name string // lowercased
}

func (v HostnameValue) Matches(target model.Target) bool {
	return strings.EqualFold(strings.TrimSuffix(target.Host, "."), v.Name)
}

// WildcardValue matches subdomains of a suffix at a label boundary:
// "*.example.com" matches "api.example.com" but neither "example.com"
// nor "evilexample.com".
type WildcardValue struct {
	Suffix string // ".example.com", lowercased, leading dot included
}

func (v WildcardValue) Matches(target model.Target) bool {
	host := strings.ToLower(strings.TrimSuffix(target.Host, "."))
	return strings.HasSuffix(host, v.Suffix) && len(host) > len(v.Suffix)
}

// ParseValue parses a rule value literal according to its declared
// type. Rules are validated with this at creation time, so a stored
// value that fails to parse is treated as non-matching, never an error
// surfaced to resolution.
func ParseValue(ruleType model.RuleType, literal string) (Value, error) {
	switch ruleType {
	case model.RuleTypeIP:
		addr, err := netip.ParseAddr(literal)
		if err != nil {
			return nil, fmt.Errorf("invalid ip %q: %w", literal, err)
		}
		return IPValue{Addr: addr.Unmap()}, nil

	case model.RuleTypeCIDR:
		prefix, err := netip.ParsePrefix(literal)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", literal, err)
		}
		return CIDRValue{Prefix: prefix.Masked()}, nil

	case model.RuleTypeHostname:
		name := strings.ToLower(strings.TrimSuffix(literal, "."))
		if !validHostname(name) {
			return nil, fmt.Errorf("invalid hostname %q", literal)
		}
		return HostnameValue{Name: name}, nil

	case model.RuleTypeHostnameWildcard:
		rest, ok := strings.CutPrefix(strings.ToLower(literal), "*.")
		if !ok {
			return nil, fmt.Errorf("wildcard value %q must start with %q", literal, "*.")
		}
		rest = strings.TrimSuffix(rest, ".")
		if !validHostname(rest) {
			return nil, fmt.Errorf("invalid wildcard suffix %q", literal)
		}
		return WildcardValue{Suffix: "." + rest}, nil

	default:
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}
}

// Match reports whether the rule grants access to the target: the
// parsed value must match and, when the rule constrains them, the
// target port must fall in the rule's range and the protocol must be
// equal case-insensitively. An omitted filter means "any". A rule
// whose stored value no longer parses matches nothing.
func Match(rule *model.AccessRule, target model.Target) bool {
	value, err := ParseValue(rule.Type, rule.Value)
	if err != nil {
		return false
	}
	if !value.Matches(target) {
		return false
	}
	if rule.PortRange != "" {
		lo, hi, err := ParsePortRange(rule.PortRange)
		if err != nil || target.Port < lo || target.Port > hi {
			return false
		}
	}
	if rule.Protocol != "" && !strings.EqualFold(rule.Protocol, target.Protocol) {
		return false
	}
	return true
}

// ParsePortRange parses "443" or "8000-8080" into an inclusive range.
func ParsePortRange(s string) (lo, hi int, err error) {
	parse := func(part string) (int, error) {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", part)
		}
		if n < 1 || n > 65535 {
			return 0, fmt.Errorf("port %d out of range", n)
		}
		return n, nil
	}

	if before, after, found := strings.Cut(s, "-"); found {
		if lo, err = parse(before); err != nil {
			return 0, 0, err
		}
		if hi, err = parse(after); err != nil {
			return 0, 0, err
		}
		if hi < lo {
			return 0, 0, fmt.Errorf("inverted port range %q", s)
		}
		return lo, hi, nil
	}

	lo, err = parse(s)
	if err != nil {
		return 0, 0, err
	}
	return lo, lo, nil
}

// ValidateRule checks every type-specific field of a rule at creation
// time: the value must parse for the declared type, the port range and
// network scope must parse when set. Nothing about the rule may be
// persisted if this fails.
func ValidateRule(rule *model.AccessRule) error {
	if !rule.Type.Valid() {
		return fmt.Errorf("unknown rule type %q", rule.Type)
	}
	if _, err := ParseValue(rule.Type, rule.Value); err != nil {
		return err
	}
	if rule.PortRange != "" {
		if _, _, err := ParsePortRange(rule.PortRange); err != nil {
			return err
		}
	}
	if rule.NetworkScope != "" {
		if _, err := netip.ParsePrefix(rule.NetworkScope); err != nil {
			return fmt.Errorf("invalid network scope %q: %w", rule.NetworkScope, err)
		}
	}
	return nil
}

// validHostname is a light syntactic check: non-empty dot-separated
// labels of LDH characters, no leading/trailing hyphen.
func validHostname(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}
