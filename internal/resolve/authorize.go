// Package resolve computes access decisions: which rules a principal
// holds, whether a target is authorized, and which routes a VPN
// session through a hub should be given. Decisions are the
// intersection of topology connectivity and rule grants — connectivity
// bounds what is possible, authorization narrows it further.
package resolve

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/match"
	"github.com/meshwarden/warden/internal/model"
)

// EffectiveRules returns the active rules granted to the principal:
// rules assigned to the user directly or to any of the principal's
// groups. Grants union; there are no deny rules and no precedence.
func EffectiveRules(snap *config.RuleSnapshot, principal model.Principal) []model.AccessRule {
	groups := make(map[string]bool, len(principal.Groups))
	for _, g := range principal.Groups {
		groups[g] = true
	}

	granted := make(map[string]bool)
	for _, a := range snap.Assignments {
		switch a.SubjectType {
		case model.SubjectUser:
			if a.Subject == principal.UserID {
				granted[a.RuleID] = true
			}
		case model.SubjectGroup:
			if groups[a.Subject] {
				granted[a.RuleID] = true
			}
		}
	}

	var rules []model.AccessRule
	for _, r := range snap.Rules {
		if r.IsActive && granted[r.ID] {
			rules = append(rules, r)
		}
	}
	return rules
}

// IsAuthorized reports whether any of the principal's effective rules
// grants the target. When a rule declares a network scope the target
// must lie inside that scope network in addition to matching the rule
// value; a hostname target can never satisfy a scoped rule because it
// has no address to test for containment.
func IsAuthorized(snap *config.RuleSnapshot, principal model.Principal, target model.Target) bool {
	for _, rule := range EffectiveRules(snap, principal) {
		if ruleAuthorizes(&rule, target) {
			return true
		}
	}
	return false
}

func ruleAuthorizes(rule *model.AccessRule, target model.Target) bool {
	if !match.Match(rule, target) {
		return false
	}
	if rule.NetworkScope == "" {
		return true
	}
	scope, err := netip.ParsePrefix(rule.NetworkScope)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(target.Host)
	if err != nil {
		return false
	}
	return scope.Contains(addr.Unmap())
}

// principalKey canonicalizes a principal for cache keying: same user
// with the same group set maps to the same key regardless of group
// order.
func principalKey(p model.Principal) string {
	if len(p.Groups) == 0 {
		return p.UserID
	}
	groups := make([]string, len(p.Groups))
	copy(groups, p.Groups)
	sort.Strings(groups)
	return p.UserID + "|" + strings.Join(groups, ",")
}
