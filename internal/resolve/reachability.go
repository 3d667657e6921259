package resolve

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/match"
	"github.com/meshwarden/warden/internal/model"
	"github.com/meshwarden/warden/internal/topology"
)

// Route is one prefix a principal's session through a hub may route
// to. When an effective rule grants only a host inside a broader
// reachable network, Prefix is that single host — authorization
// narrows topology-granted breadth to rule granularity.
type Route struct {
	Prefix netip.Prefix         `json:"prefix"`
	Origin topology.RouteOrigin `json:"origin"`
	Source string               `json:"source"`
	Rule   string               `json:"rule,omitempty"` // name of the granting rule
}

// cacheTTL bounds how long a cached route set may be served. The
// store generation catches every write, but a hub goes offline by
// heartbeat absence, which writes nothing. The TTL forces a
// recomputation well inside the heartbeat timeout so a silent hub
// fails closed.
const cacheTTL = 5 * time.Second

// Resolver computes authorized route sets on demand. Results are
// cached per (principal, hub) and served only while the store
// generation is unchanged and the entry is younger than cacheTTL:
// writes invalidate immediately, the passage of time shortly after.
type Resolver struct {
	store *config.Store
	now   func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	principal string
	hubID     string
}

type cacheEntry struct {
	generation int64
	computedAt time.Time
	routes     []Route
}

// New creates a Resolver over the store.
func New(store *config.Store) *Resolver {
	return &Resolver{
		store: store,
		now:   time.Now,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// EffectiveRules returns the principal's granted active rules from a
// fresh consistent snapshot.
func (r *Resolver) EffectiveRules(ctx context.Context, principal model.Principal) ([]model.AccessRule, error) {
	snap, err := r.store.LoadRuleSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return EffectiveRules(snap, principal), nil
}

// IsAuthorized reports whether the principal may reach the target.
func (r *Resolver) IsAuthorized(ctx context.Context, principal model.Principal, target model.Target) (bool, error) {
	snap, err := r.store.LoadRuleSnapshot(ctx)
	if err != nil {
		return false, err
	}
	return IsAuthorized(snap, principal, target), nil
}

// ComputeRoutes returns the routes the principal's session through the
// hub should be given: the authorized subset of the hub's reachable
// networks. A principal with no granting rule gets an empty set — the
// same result as an unknown shape of denial, so rule existence is not
// leaked. Unknown hub IDs return config.ErrNotFound.
func (r *Resolver) ComputeRoutes(ctx context.Context, principal model.Principal, hubID string) ([]Route, error) {
	key := cacheKey{principal: principalKey(principal), hubID: hubID}
	gen := r.store.Generation()
	now := r.now()

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && entry.generation == gen && now.Sub(entry.computedAt) < cacheTTL {
		routes := entry.routes
		r.mu.Unlock()
		return routes, nil
	}
	r.mu.Unlock()

	hubSnap, err := r.store.LoadHubSnapshot(ctx, hubID)
	if err != nil {
		return nil, err
	}
	ruleSnap, err := r.store.LoadRuleSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	reachable := topology.ReachableNetworksViaHub(&hubSnap.Hub, hubSnap.Networks, hubSnap.Spokes, now)
	rules := EffectiveRules(ruleSnap, principal)
	routes := intersect(reachable, rules)

	r.mu.Lock()
	r.cache[key] = cacheEntry{generation: gen, computedAt: now, routes: routes}
	r.mu.Unlock()
	return routes, nil
}

// TopologyView is the authorization-free administrative picture of one
// hub: derived statuses and everything reachable while it is online.
type TopologyView struct {
	Hub       model.MeshHub          `json:"hub"`
	Status    model.NodeStatus       `json:"status"`
	Spokes    []SpokeView            `json:"spokes"`
	Reachable []topology.RouteTarget `json:"reachable"`
}

// SpokeView pairs a spoke with its derived status.
type SpokeView struct {
	Spoke  model.MeshSpoke  `json:"spoke"`
	Status model.NodeStatus `json:"status"`
}

// TopologyRoutes returns the unfiltered reachability of a hub for the
// administrative topology view. No authorization is applied — the
// admin is omniscient.
func (r *Resolver) TopologyRoutes(ctx context.Context, hubID string) (*TopologyView, error) {
	snap, err := r.store.LoadHubSnapshot(ctx, hubID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	view := &TopologyView{
		Hub:       snap.Hub,
		Status:    topology.HubStatus(&snap.Hub, now),
		Reachable: topology.ReachableNetworksViaHub(&snap.Hub, snap.Networks, snap.Spokes, now),
	}
	for i := range snap.Spokes {
		view.Spokes = append(view.Spokes, SpokeView{
			Spoke:  snap.Spokes[i],
			Status: topology.SpokeStatus(&snap.Spokes[i], now),
		})
	}
	return view, nil
}

// intersect computes, for every reachable prefix, the portion the
// rules grant. Prefix containment is the whole arithmetic: two
// prefixes either nest or are disjoint, so each rule contributes the
// narrower of (rule grant, reachable prefix), further clipped by the
// rule's network scope. If anything grants the entire reachable
// prefix, narrower contributions inside it are subsumed.
func intersect(reachable []topology.RouteTarget, rules []model.AccessRule) []Route {
	var routes []Route
	for _, target := range reachable {
		var contributions []Route
		wholeGranted := false

		for i := range rules {
			rule := &rules[i]
			grant, ok := ruleGrantWithin(rule, target.Prefix)
			if !ok {
				continue
			}
			if grant == target.Prefix {
				wholeGranted = true
				routes = append(routes, Route{
					Prefix: target.Prefix,
					Origin: target.Origin,
					Source: target.Source,
					Rule:   rule.Name,
				})
				break
			}
			contributions = append(contributions, Route{
				Prefix: grant,
				Origin: target.Origin,
				Source: target.Source,
				Rule:   rule.Name,
			})
		}

		if !wholeGranted {
			routes = append(routes, dedupeRoutes(contributions)...)
		}
	}
	return routes
}

// ruleGrantWithin returns the prefix the rule grants inside the
// reachable prefix, if any. Hostname rules never contribute routes;
// they have no address footprint.
func ruleGrantWithin(rule *model.AccessRule, reachable netip.Prefix) (netip.Prefix, bool) {
	value, err := match.ParseValue(rule.Type, rule.Value)
	if err != nil {
		return netip.Prefix{}, false
	}

	var grant netip.Prefix
	switch v := value.(type) {
	case match.IPValue:
		if !reachable.Contains(v.Addr) {
			return netip.Prefix{}, false
		}
		grant = netip.PrefixFrom(v.Addr, v.Addr.BitLen())
	case match.CIDRValue:
		switch {
		case prefixContains(v.Prefix, reachable):
			grant = reachable
		case prefixContains(reachable, v.Prefix):
			grant = v.Prefix
		default:
			return netip.Prefix{}, false
		}
	case match.HostnameValue, match.WildcardValue:
		return netip.Prefix{}, false
	default:
		return netip.Prefix{}, false
	}

	if rule.NetworkScope != "" {
		scope, err := netip.ParsePrefix(rule.NetworkScope)
		if err != nil {
			return netip.Prefix{}, false
		}
		scope = scope.Masked()
		switch {
		case prefixContains(scope, grant):
			// grant already inside scope
		case prefixContains(grant, scope):
			grant = scope
		default:
			return netip.Prefix{}, false
		}
	}
	return grant, true
}

// prefixContains reports whether outer fully contains inner.
func prefixContains(outer, inner netip.Prefix) bool {
	return outer.Bits() <= inner.Bits() && outer.Contains(inner.Addr())
}

func dedupeRoutes(routes []Route) []Route {
	seen := make(map[netip.Prefix]bool, len(routes))
	out := routes[:0]
	for _, r := range routes {
		if seen[r.Prefix] {
			continue
		}
		seen[r.Prefix] = true
		out = append(out, r)
	}
	return out
}
