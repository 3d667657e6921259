package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meshwarden/warden/internal/config"
	"github.com/meshwarden/warden/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeStoreError maps store sentinel errors to HTTP statuses: not
// found to 404, version conflicts and duplicates to 409. Anything
// else is a 500.
func writeStoreError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, config.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg+": not found")
	case errors.Is(err, config.ErrConflict):
		writeError(w, http.StatusConflict, fallbackMsg+": version conflict")
	case errors.Is(err, config.ErrDuplicate):
		writeError(w, http.StatusConflict, fallbackMsg+": already exists")
	default:
		writeError(w, http.StatusInternalServerError, fallbackMsg+": "+err.Error())
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}
