// Package topology derives hub/spoke/gateway liveness and the network
// set reachable through a hub. Status is always computed from the
// latest heartbeat timestamp, never read from a stored column, so it
// cannot drift from heartbeat reality.
package topology

import (
	"net/netip"
	"time"

	"github.com/meshwarden/warden/internal/model"
)

// HeartbeatTimeout is how long a node stays online after its last
// heartbeat before being considered offline.
const HeartbeatTimeout = 120 * time.Second

// HubStatus derives a hub's status at the given instant. A hub that
// never sent a heartbeat is unprovisioned; an agent-reported fault
// wins over heartbeat recency while the hub is active.
func HubStatus(hub *model.MeshHub, now time.Time) model.NodeStatus {
	return nodeStatus(hub.IsActive, hub.ErrorState, hub.LastHeartbeat, now)
}

// SpokeStatus derives a spoke's status from its last_seen timestamp.
func SpokeStatus(spoke *model.MeshSpoke, now time.Time) model.NodeStatus {
	return nodeStatus(true, spoke.ErrorState, spoke.LastSeen, now)
}

// GatewayOnline reports whether a standalone gateway is active with a
// recent heartbeat.
func GatewayOnline(gw *model.Gateway, now time.Time) bool {
	if !gw.IsActive || gw.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*gw.LastHeartbeat) <= HeartbeatTimeout
}

func nodeStatus(active bool, errorState string, lastSeen *time.Time, now time.Time) model.NodeStatus {
	if lastSeen == nil {
		return model.StatusUnprovisioned
	}
	if !active {
		return model.StatusOffline
	}
	if errorState != "" {
		return model.StatusError
	}
	if now.Sub(*lastSeen) <= HeartbeatTimeout {
		return model.StatusOnline
	}
	return model.StatusOffline
}

// RouteOrigin records where a reachable prefix came from, for the
// administrative topology view.
type RouteOrigin string

const (
	OriginHubLocal        RouteOrigin = "hub_local"
	OriginAssignedNetwork RouteOrigin = "assigned_network"
	OriginSpoke           RouteOrigin = "spoke"
)

// RouteTarget is one prefix reachable through a hub.
type RouteTarget struct {
	Prefix netip.Prefix `json:"prefix"`
	Origin RouteOrigin  `json:"origin"`
	// Source names the contributing entity: the hub itself, the
	// assigned network's name, or the spoke's name.
	Source string `json:"source"`
}

// ReachableNetworksViaHub returns every prefix reachable through the
// hub: its own local networks, the networks explicitly assigned to it,
// and the local networks of its online spokes. A hub that is not
// online exposes nothing — reachability fails closed. Prefixes that no
// longer parse are skipped rather than aborting the whole derivation.
func ReachableNetworksViaHub(hub *model.MeshHub, networks []model.Network, spokes []model.MeshSpoke, now time.Time) []RouteTarget {
	if HubStatus(hub, now) != model.StatusOnline {
		return nil
	}

	var targets []RouteTarget
	seen := make(map[netip.Prefix]bool)

	add := func(cidr string, origin RouteOrigin, source string) {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return
		}
		prefix = prefix.Masked()
		if seen[prefix] {
			return
		}
		seen[prefix] = true
		targets = append(targets, RouteTarget{Prefix: prefix, Origin: origin, Source: source})
	}

	for _, cidr := range hub.LocalNetworks {
		add(cidr, OriginHubLocal, hub.Name)
	}
	for _, n := range networks {
		if !n.IsActive {
			continue
		}
		add(n.CIDR, OriginAssignedNetwork, n.Name)
	}
	for i := range spokes {
		sp := &spokes[i]
		if SpokeStatus(sp, now) != model.StatusOnline {
			continue
		}
		for _, cidr := range sp.LocalNetworks {
			add(cidr, OriginSpoke, sp.Name)
		}
	}
	return targets
}
