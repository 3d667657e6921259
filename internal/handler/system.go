package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
	"github.com/meshwarden/warden/internal/server/middleware"
	"github.com/meshwarden/warden/internal/service"
)

// SystemHandler manages the engine's own administration: admin
// accounts, API keys, session configs, and rule bundles.
type SystemHandler struct {
	store   *config.Store
	authSvc *service.AuthService
	creds   *service.CredentialService
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store *config.Store, authSvc *service.AuthService, creds *service.CredentialService) *SystemHandler {
	return &SystemHandler{store: store, authSvc: authSvc, creds: creds}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   string `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin and returns a session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin, err := h.store.GetAdminByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		return
	}
	if !admin.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is disabled")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	ttl := 24 * time.Hour
	principal := model.Principal{UserID: admin.ID, Email: admin.Email}
	token, err := h.authSvc.IssueSession(r.Context(), principal, true, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	_ = h.store.UpdateAdminLastLogin(r.Context(), admin.ID)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(ttl.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Session tokens are stateless,
// so this is a no-op server side; clients discard their token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// Admin management
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /api/v1/system/admin
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: admins, Count: len(admins)})
}

// createAdminRequest is the expected payload for CreateAdmin.
type createAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// CreateAdmin registers a new admin account.
// POST /api/v1/system/admin
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password: "+err.Error())
		return
	}

	admin := &model.Admin{
		Email:        req.Email,
		PasswordHash: string(hash),
		Name:         req.Name,
		IsActive:     true,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		writeStoreError(w, err, "Failed to create admin")
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

// ListAPIKeys returns all API keys (hashes omitted by the model).
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: keys, Count: len(keys)})
}

// createAPIKeyRequest is the expected payload for CreateAPIKey.
type createAPIKeyRequest struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Expiry      string `json:"expiry"` // 30d, 90d, 365d, never
}

// createAPIKeyResponse carries the raw key. This is its only
// appearance; afterwards only the prefix identifies it.
type createAPIKeyResponse struct {
	Key    model.APIKey `json:"key"`
	RawKey string       `json:"raw_key"`
}

// CreateAPIKey mints an API key with a one-time reveal of the secret.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "user_id and name are required")
		return
	}
	if req.Expiry == "" {
		req.Expiry = string(service.Expiry90Days)
	}

	key, raw, err := h.creds.CreateAPIKey(r.Context(), req.UserID, req.Name, req.Description, service.ExpiryPreset(req.Expiry))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create API key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{Key: *key, RawKey: raw})
}

// RevokeAPIKey permanently disables a key.
// DELETE /api/v1/system/api-key/{keyId}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.RevokeAPIKey(r.Context(), chi.URLParam(r, "keyId")); err != nil {
		writeStoreError(w, err, "Failed to revoke API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Session configs
// ---------------------------------------------------------------------------

// createSessionConfigRequest names the gateway to generate a config for.
type createSessionConfigRequest struct {
	GatewayID string `json:"gateway_id"`
}

// CreateSessionConfig generates a session config artifact for the
// caller and returns a signed download URL valid for 24 hours.
// POST /api/v1/session-configs
func (h *SystemHandler) CreateSessionConfig(w http.ResponseWriter, r *http.Request) {
	var req createSessionConfigRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.GatewayID == "" {
		writeError(w, http.StatusBadRequest, "gateway_id is required")
		return
	}

	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	grant, err := h.creds.GenerateSessionConfig(r.Context(), principal.UserID, req.GatewayID)
	if err != nil {
		writeStoreError(w, err, "Failed to generate session config")
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

// DownloadSessionConfig serves an artifact by its signed token. The
// expiry check is lazy: nothing purges expired rows, the window is
// enforced here.
// GET /api/v1/session-configs/download?token=...
func (h *SystemHandler) DownloadSessionConfig(w http.ResponseWriter, r *http.Request) {
	token := queryString(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	artifact, err := h.creds.ResolveDownload(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrArtifactExpired):
			writeError(w, http.StatusGone, "Download window has expired")
		case errors.Is(err, config.ErrNotFound):
			writeError(w, http.StatusNotFound, "Session config not found")
		default:
			writeError(w, http.StatusUnauthorized, "Invalid download token")
		}
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// ---------------------------------------------------------------------------
// Bundles and status
// ---------------------------------------------------------------------------

// ExportBundle streams the rule and network configuration as YAML.
// GET /api/v1/system/bundle
func (h *SystemHandler) ExportBundle(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.ExportBundle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to export bundle: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="warden-bundle.yaml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportBundle applies a YAML bundle. Validation is all-or-nothing: a
// single invalid rule rejects the whole bundle before any write.
// POST /api/v1/system/bundle
func (h *SystemHandler) ImportBundle(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read bundle: "+err.Error())
		return
	}
	if err := h.store.ImportBundle(r.Context(), data); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to import bundle: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Status reports row counts across the main tables.
// GET /api/v1/system/status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
