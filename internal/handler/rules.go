package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/match"
	"github.com/meshwarden/warden/internal/model"
)

// RuleHandler manages access rules and their user/group assignments.
type RuleHandler struct {
	store *config.Store
}

// NewRuleHandler creates a new RuleHandler.
func NewRuleHandler(store *config.Store) *RuleHandler {
	return &RuleHandler{store: store}
}

// ListRules returns all access rules.
// GET /api/v1/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: rules, Count: len(rules)})
}

// CreateRule validates and stores a new access rule. Invalid values are
// rejected here and never reach the database.
// POST /api/v1/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.AccessRule
	if err := readJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if rule.Name == "" {
		writeError(w, http.StatusBadRequest, "Rule name is required")
		return
	}
	if err := match.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule: "+err.Error())
		return
	}

	if err := h.store.CreateRule(r.Context(), &rule); err != nil {
		writeStoreError(w, err, "Failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// GetRule returns a single rule by ID.
// GET /api/v1/rules/{ruleId}
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		writeStoreError(w, err, "Failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule replaces a rule's definition. The request must carry the
// version the caller last read; a mismatch is a 409.
// PUT /api/v1/rules/{ruleId}
func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.AccessRule
	if err := readJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	rule.ID = chi.URLParam(r, "ruleId")
	if rule.Version <= 0 {
		writeError(w, http.StatusBadRequest, "Rule version is required for updates")
		return
	}
	if err := match.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule: "+err.Error())
		return
	}

	if err := h.store.UpdateRule(r.Context(), &rule); err != nil {
		writeStoreError(w, err, "Failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule and all its assignments.
// DELETE /api/v1/rules/{ruleId}
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		writeStoreError(w, err, "Failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListAssignments returns the assignments of one rule.
// GET /api/v1/rules/{ruleId}/assignments
func (h *RuleHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	if _, err := h.store.GetRule(r.Context(), ruleID); err != nil {
		writeStoreError(w, err, "Failed to get rule")
		return
	}
	assignments, err := h.store.ListAssignmentsForRule(r.Context(), ruleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list assignments: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{Resource: assignments, Count: len(assignments)})
}

// CreateAssignment grants the rule to a user or group.
// POST /api/v1/rules/{ruleId}/assignments
func (h *RuleHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var a model.RuleAssignment
	if err := readJSON(r, &a); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	a.RuleID = chi.URLParam(r, "ruleId")
	if a.SubjectType != model.SubjectUser && a.SubjectType != model.SubjectGroup {
		writeError(w, http.StatusBadRequest, "subject_type must be user or group")
		return
	}
	if a.Subject == "" {
		writeError(w, http.StatusBadRequest, "Subject is required")
		return
	}

	if err := h.store.CreateAssignment(r.Context(), &a); err != nil {
		writeStoreError(w, err, "Failed to create assignment")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// DeleteAssignment revokes a single grant.
// DELETE /api/v1/rules/{ruleId}/assignments/{assignmentId}
func (h *RuleHandler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAssignment(r.Context(), chi.URLParam(r, "assignmentId")); err != nil {
		writeStoreError(w, err, "Failed to delete assignment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
