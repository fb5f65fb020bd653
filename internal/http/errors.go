// Package httpapi exposes the HTTP API layer of the catalog store.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cortega26/elrincondeebano-sub000/internal/gate"
	"github.com/cortega26/elrincondeebano-sub000/internal/store"
)

// jsonError represents a JSON error payload.
type jsonError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonError{Error: message, Details: details})
}

// writeStoreError maps the store error taxonomy onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var badReq *store.BadRequestError
	var persist *store.PersistError
	switch {
	case errors.As(err, &badReq):
		WriteJSONError(w, http.StatusBadRequest, "validation_error", badReq.Reason)
	case errors.Is(err, store.ErrNotFound):
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
	case errors.As(err, &persist):
		WriteJSONError(w, http.StatusInternalServerError, "persistence_error", persist.Error())
	case errors.Is(err, gate.ErrShuttingDown):
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
	default:
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
