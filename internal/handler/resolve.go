package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meshwarden/warden/internal/metrics"
	"github.com/meshwarden/warden/internal/model"
	"github.com/meshwarden/warden/internal/resolve"
	"github.com/meshwarden/warden/internal/server/middleware"
)

// ResolveHandler answers access questions for the authenticated
// principal: which rules apply, whether a target is reachable, and
// which routes a hub should install.
type ResolveHandler struct {
	resolver *resolve.Resolver
	metrics  *metrics.Metrics
}

// NewResolveHandler creates a new ResolveHandler.
func NewResolveHandler(resolver *resolve.Resolver, m *metrics.Metrics) *ResolveHandler {
	return &ResolveHandler{resolver: resolver, metrics: m}
}

// EffectiveRules returns the active rules granted to the caller
// directly or through any of their groups.
// GET /api/v1/resolve/rules
func (h *ResolveHandler) EffectiveRules(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	rules, err := h.resolver.EffectiveRules(r.Context(), principal.Identity())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve rules: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: rules, Count: len(rules)})
}

// checkRequest names a prospective connection target.
type checkRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// Check reports whether the caller may reach the given target. Denial
// is a normal 200 response with allowed=false, never an error.
// POST /api/v1/resolve/check
func (h *ResolveHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "Target host is required")
		return
	}

	principal := middleware.GetPrincipal(r.Context())
	target := model.Target{Host: req.Host, Port: req.Port, Protocol: req.Protocol}
	allowed, err := h.resolver.IsAuthorized(r.Context(), principal.Identity(), target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check access: "+err.Error())
		return
	}
	if !allowed {
		h.metrics.Denials.Inc()
	}
	writeJSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

// Routes computes the caller's authorized route set through a hub: the
// intersection of what the hub reaches and what the caller's rules
// grant, narrowed to rule granularity. An empty set is a valid answer.
// GET /api/v1/resolve/routes/{hubId}
func (h *ResolveHandler) Routes(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	start := time.Now()
	routes, err := h.resolver.ComputeRoutes(r.Context(), principal.Identity(), chi.URLParam(r, "hubId"))
	if err != nil {
		writeStoreError(w, err, "Failed to compute routes")
		return
	}
	h.metrics.Resolutions.Inc()
	h.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())

	if routes == nil {
		routes = []resolve.Route{}
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: routes, Count: len(routes)})
}
