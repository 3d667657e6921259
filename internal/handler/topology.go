package handler

import (
	"errors"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
	"github.com/meshwarden/warden/internal/resolve"
	"github.com/meshwarden/warden/internal/service"
)

// TopologyHandler manages networks, gateways, hubs, and spokes.
type TopologyHandler struct {
	store    *config.Store
	prov     *service.ProvisioningService
	resolver *resolve.Resolver
}

// NewTopologyHandler creates a new TopologyHandler.
func NewTopologyHandler(store *config.Store, prov *service.ProvisioningService, resolver *resolve.Resolver) *TopologyHandler {
	return &TopologyHandler{store: store, prov: prov, resolver: resolver}
}

// ---------------------------------------------------------------------------
// Networks
// ---------------------------------------------------------------------------

// ListNetworks returns all networks.
// GET /api/v1/networks
func (h *TopologyHandler) ListNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := h.store.ListNetworks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list networks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: networks, Count: len(networks)})
}

// CreateNetwork registers a network segment. The CIDR must parse.
// POST /api/v1/networks
func (h *TopologyHandler) CreateNetwork(w http.ResponseWriter, r *http.Request) {
	var n model.Network
	if err := readJSON(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if n.Name == "" {
		writeError(w, http.StatusBadRequest, "Network name is required")
		return
	}
	if _, err := netip.ParsePrefix(n.CIDR); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid CIDR: "+err.Error())
		return
	}

	if err := h.store.CreateNetwork(r.Context(), &n); err != nil {
		writeStoreError(w, err, "Failed to create network")
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// GetNetwork returns one network.
// GET /api/v1/networks/{networkId}
func (h *TopologyHandler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.GetNetwork(r.Context(), chi.URLParam(r, "networkId"))
	if err != nil {
		writeStoreError(w, err, "Failed to get network")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// UpdateNetwork replaces a network's definition.
// PUT /api/v1/networks/{networkId}
func (h *TopologyHandler) UpdateNetwork(w http.ResponseWriter, r *http.Request) {
	var n model.Network
	if err := readJSON(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	n.ID = chi.URLParam(r, "networkId")
	if _, err := netip.ParsePrefix(n.CIDR); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid CIDR: "+err.Error())
		return
	}

	if err := h.store.UpdateNetwork(r.Context(), &n); err != nil {
		writeStoreError(w, err, "Failed to update network")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DeleteNetwork removes a network and its hub assignments.
// DELETE /api/v1/networks/{networkId}
func (h *TopologyHandler) DeleteNetwork(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteNetwork(r.Context(), chi.URLParam(r, "networkId")); err != nil {
		writeStoreError(w, err, "Failed to delete network")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Gateways
// ---------------------------------------------------------------------------

// ListGateways returns all standalone gateways.
// GET /api/v1/gateways
func (h *TopologyHandler) ListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := h.store.ListGateways(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list gateways: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: gateways, Count: len(gateways)})
}

// CreateGateway registers a standalone gateway.
// POST /api/v1/gateways
func (h *TopologyHandler) CreateGateway(w http.ResponseWriter, r *http.Request) {
	var g model.Gateway
	if err := readJSON(r, &g); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if g.Name == "" || g.PublicEndpoint == "" {
		writeError(w, http.StatusBadRequest, "Gateway name and public_endpoint are required")
		return
	}

	if err := h.store.CreateGateway(r.Context(), &g); err != nil {
		writeStoreError(w, err, "Failed to create gateway")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// DeleteGateway removes a gateway.
// DELETE /api/v1/gateways/{gatewayId}
func (h *TopologyHandler) DeleteGateway(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteGateway(r.Context(), chi.URLParam(r, "gatewayId")); err != nil {
		writeStoreError(w, err, "Failed to delete gateway")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Hubs and spokes
// ---------------------------------------------------------------------------

// createHubResponse wraps a created hub with its one-time enrollment
// token. The raw token appears here and nowhere else.
type createHubResponse struct {
	Hub   model.MeshHub `json:"hub"`
	Token string        `json:"token"`
}

type createSpokeResponse struct {
	Spoke model.MeshSpoke `json:"spoke"`
	Token string          `json:"token"`
}

// ListHubs returns all hubs.
// GET /api/v1/hubs
func (h *TopologyHandler) ListHubs(w http.ResponseWriter, r *http.Request) {
	hubs, err := h.store.ListHubs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list hubs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: hubs, Count: len(hubs)})
}

// CreateHub registers a hub and returns the enrollment token exactly
// once.
// POST /api/v1/hubs
func (h *TopologyHandler) CreateHub(w http.ResponseWriter, r *http.Request) {
	var hub model.MeshHub
	if err := readJSON(r, &hub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if hub.Name == "" || hub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "Hub name and endpoint are required")
		return
	}

	raw, err := h.prov.CreateHub(r.Context(), &hub)
	if err != nil {
		writeStoreError(w, err, "Failed to create hub")
		return
	}
	writeJSON(w, http.StatusCreated, createHubResponse{Hub: hub, Token: raw})
}

// GetHub returns one hub.
// GET /api/v1/hubs/{hubId}
func (h *TopologyHandler) GetHub(w http.ResponseWriter, r *http.Request) {
	hub, err := h.store.GetHub(r.Context(), chi.URLParam(r, "hubId"))
	if err != nil {
		writeStoreError(w, err, "Failed to get hub")
		return
	}
	writeJSON(w, http.StatusOK, hub)
}

// UpdateHub replaces a hub's configuration. The enrollment token is
// never touched by updates.
// PUT /api/v1/hubs/{hubId}
func (h *TopologyHandler) UpdateHub(w http.ResponseWriter, r *http.Request) {
	var hub model.MeshHub
	if err := readJSON(r, &hub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	hub.ID = chi.URLParam(r, "hubId")

	if err := h.store.UpdateHub(r.Context(), &hub); err != nil {
		writeStoreError(w, err, "Failed to update hub")
		return
	}
	writeJSON(w, http.StatusOK, hub)
}

// DeleteHub removes a hub, its spokes, and its network assignments in
// one transaction.
// DELETE /api/v1/hubs/{hubId}
func (h *TopologyHandler) DeleteHub(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteHub(r.Context(), chi.URLParam(r, "hubId")); err != nil {
		writeStoreError(w, err, "Failed to delete hub")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ProvisionHub pushes the control-plane details to the hub's agent. A
// failed push reports the failure without mutating the hub.
// POST /api/v1/hubs/{hubId}/provision
func (h *TopologyHandler) ProvisionHub(w http.ResponseWriter, r *http.Request) {
	err := h.prov.ProvisionHub(r.Context(), chi.URLParam(r, "hubId"))
	if err != nil {
		var pf *service.ProvisioningFailure
		if errors.As(err, &pf) {
			writeError(w, http.StatusBadGateway, "Provisioning failed: "+pf.Reason,
				map[string]interface{}{"node_id": pf.NodeID})
			return
		}
		writeStoreError(w, err, "Failed to provision hub")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Topology returns the hub's derived status, its spokes with statuses,
// and every reachable prefix. This is the administrative view: no
// authorization filtering is applied.
// GET /api/v1/hubs/{hubId}/topology
func (h *TopologyHandler) Topology(w http.ResponseWriter, r *http.Request) {
	view, err := h.resolver.TopologyRoutes(r.Context(), chi.URLParam(r, "hubId"))
	if err != nil {
		writeStoreError(w, err, "Failed to derive topology")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListSpokes returns all spokes of one hub.
// GET /api/v1/hubs/{hubId}/spokes
func (h *TopologyHandler) ListSpokes(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	if _, err := h.store.GetHub(r.Context(), hubID); err != nil {
		writeStoreError(w, err, "Failed to get hub")
		return
	}
	spokes, err := h.store.ListSpokes(r.Context(), hubID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list spokes: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: spokes, Count: len(spokes)})
}

// CreateSpoke registers a spoke under a hub, returning its enrollment
// token exactly once.
// POST /api/v1/hubs/{hubId}/spokes
func (h *TopologyHandler) CreateSpoke(w http.ResponseWriter, r *http.Request) {
	var spoke model.MeshSpoke
	if err := readJSON(r, &spoke); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	spoke.HubID = chi.URLParam(r, "hubId")
	if spoke.Name == "" {
		writeError(w, http.StatusBadRequest, "Spoke name is required")
		return
	}
	for _, cidr := range spoke.LocalNetworks {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid local network CIDR "+cidr+": "+err.Error())
			return
		}
	}

	raw, err := h.prov.CreateSpoke(r.Context(), &spoke)
	if err != nil {
		writeStoreError(w, err, "Failed to create spoke")
		return
	}
	writeJSON(w, http.StatusCreated, createSpokeResponse{Spoke: spoke, Token: raw})
}

// DeleteSpoke removes a spoke.
// DELETE /api/v1/hubs/{hubId}/spokes/{spokeId}
func (h *TopologyHandler) DeleteSpoke(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSpoke(r.Context(), chi.URLParam(r, "spokeId")); err != nil {
		writeStoreError(w, err, "Failed to delete spoke")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Hub network assignments
// ---------------------------------------------------------------------------

// ListHubNetworks returns the networks exposed through a hub.
// GET /api/v1/hubs/{hubId}/networks
func (h *TopologyHandler) ListHubNetworks(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	if _, err := h.store.GetHub(r.Context(), hubID); err != nil {
		writeStoreError(w, err, "Failed to get hub")
		return
	}
	networks, err := h.store.ListHubNetworks(r.Context(), hubID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list hub networks: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: networks, Count: len(networks)})
}

// AssignNetwork exposes a network through a hub. Exposure is always
// explicit; proximity implies nothing.
// POST /api/v1/hubs/{hubId}/networks/{networkId}
func (h *TopologyHandler) AssignNetwork(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.AssignNetworkToHub(r.Context(), chi.URLParam(r, "hubId"), chi.URLParam(r, "networkId"))
	if err != nil {
		writeStoreError(w, err, "Failed to assign network")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// UnassignNetwork stops exposing a network through a hub.
// DELETE /api/v1/hubs/{hubId}/networks/{networkId}
func (h *TopologyHandler) UnassignNetwork(w http.ResponseWriter, r *http.Request) {
	if err := h.store.UnassignNetworkFromHub(r.Context(), chi.URLParam(r, "hubId"), chi.URLParam(r, "networkId")); err != nil {
		writeStoreError(w, err, "Failed to unassign network")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
