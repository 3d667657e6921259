package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/metrics"
	"github.com/meshwarden/warden/internal/service"
)

// AgentHandler ingests heartbeats from hub and spoke agents. Agents
// authenticate with their enrollment token in the X-Agent-Token
// header; the token is compared by hash, never stored raw.
type AgentHandler struct {
	store   *config.Store
	prov    *service.ProvisioningService
	metrics *metrics.Metrics
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(store *config.Store, prov *service.ProvisioningService, m *metrics.Metrics) *AgentHandler {
	return &AgentHandler{store: store, prov: prov, metrics: m}
}

// heartbeatRequest is the payload agents send on each beat. An empty
// error_state clears a previously reported fault.
type heartbeatRequest struct {
	ErrorState  string `json:"error_state,omitempty"`
	ClientCount int    `json:"client_count,omitempty"`
}

// HubHeartbeat records a hub agent's heartbeat. Stale beats arriving
// out of order never move the last-seen timestamp backwards.
// POST /api/v1/agent/hub/heartbeat
func (h *AgentHandler) HubHeartbeat(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Agent-Token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Agent token required")
		return
	}
	hub, err := h.prov.AuthenticateHubToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid agent token")
		return
	}

	var req heartbeatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.store.TouchHub(r.Context(), hub.ID, time.Now().UTC(), req.ErrorState); err != nil {
		writeStoreError(w, err, "Failed to record heartbeat")
		return
	}
	h.metrics.Heartbeats.WithLabelValues("hub").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// SpokeHeartbeat records a spoke agent's heartbeat along with the
// remote address it connected from.
// POST /api/v1/agent/spoke/heartbeat
func (h *AgentHandler) SpokeHeartbeat(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Agent-Token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Agent token required")
		return
	}
	spoke, err := h.prov.AuthenticateSpokeToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid agent token")
		return
	}

	var req heartbeatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	if err := h.store.TouchSpoke(r.Context(), spoke.ID, time.Now().UTC(), remoteIP, req.ErrorState); err != nil {
		writeStoreError(w, err, "Failed to record heartbeat")
		return
	}
	h.metrics.Heartbeats.WithLabelValues("spoke").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// GatewayHeartbeat records a standalone gateway's heartbeat, carrying
// a connected client count. Gateway agents have no enrollment token;
// the route runs behind the Authenticate middleware and agents send
// an API key. Unknown gateway IDs are a 404.
// POST /api/v1/agent/gateway/{gatewayId}/heartbeat
func (h *AgentHandler) GatewayHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.store.TouchGateway(r.Context(), chi.URLParam(r, "gatewayId"), time.Now().UTC(), req.ClientCount); err != nil {
		writeStoreError(w, err, "Failed to record heartbeat")
		return
	}
	h.metrics.Heartbeats.WithLabelValues("gateway").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
