package handlers

import (
	"encoding/json"
	"net/http"

	"bridgeguard/core/orchestrator"
	"bridgeguard/core/utils"
)

type SignalsHandler struct {
	orch   *orchestrator.Service
	logger *utils.Logger
}

func NewSignalsHandler(orch *orchestrator.Service, logger *utils.Logger) *SignalsHandler {
	return &SignalsHandler{orch: orch, logger: logger}
}

func (h *SignalsHandler) RiskComputed(w http.ResponseWriter, r *http.Request) {
	var sig orchestrator.RiskSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid json payload")
		return
	}
	result, err := h.orch.IngestRiskSignal(r.Context(), sig)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (h *SignalsHandler) FailurePredicted(w http.ResponseWriter, r *http.Request) {
	var sig orchestrator.ForecastSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid json payload")
		return
	}
	result, err := h.orch.IngestForecast(r.Context(), sig)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}
