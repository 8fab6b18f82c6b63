package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"bridgeguard/core/clients"
	"bridgeguard/core/orchestrator"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
	"bridgeguard/core/verification"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeServiceError maps domain errors onto the HTTP taxonomy:
// validation 400, unknown id 404, state conflicts 409 with a
// machine-readable code, collaborator failures 502.
func writeServiceError(w http.ResponseWriter, logger *utils.Logger, err error) {
	var vErr orchestrator.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusBadRequest, "validation", vErr.Error())
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	var cErr *verification.ConflictError
	if errors.As(err, &cErr) {
		writeError(w, http.StatusConflict, cErr.Code, cErr.Message)
		return
	}
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "conflict", "operation not valid in the current state")
		return
	}
	var dErr *clients.DownstreamError
	if errors.As(err, &dErr) {
		writeError(w, http.StatusBadGateway, "downstream", dErr.Error())
		return
	}
	if logger != nil {
		logger.Errorf("handler: %v", err)
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
