package handlers

import (
	"net/http"

	"bridgeguard/config"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
	"bridgeguard/core/verification"
)

type VerificationHandler struct {
	cfg    *config.AppConfig
	svc    *verification.Service
	logger *utils.Logger
}

func NewVerificationHandler(cfg *config.AppConfig, svc *verification.Service, logger *utils.Logger) *VerificationHandler {
	return &VerificationHandler{cfg: cfg, svc: svc, logger: logger}
}

func (h *VerificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.Submit(r.Context(), pathParam(r, "maintenance_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.record(wf))
}

func (h *VerificationHandler) Track(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.Track(r.Context(), pathParam(r, "maintenance_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.record(wf))
}

func (h *VerificationHandler) State(w http.ResponseWriter, r *http.Request) {
	wf, err := h.svc.State(r.Context(), pathParam(r, "maintenance_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.record(wf))
}

func (h *VerificationHandler) record(wf *store.Workflow) map[string]any {
	rec := map[string]any{
		"workflow_id":         wf.WorkflowID,
		"asset_id":            wf.AssetID,
		"verification_status": wf.VerificationStatus,
		"confirmations":       wf.VerificationConfirmations,
		"required":            h.cfg.Verification.Required(),
	}
	if wf.MaintenanceID != nil {
		rec["maintenance_id"] = *wf.MaintenanceID
	}
	if wf.VerificationTxHash != nil {
		rec["tx_hash"] = *wf.VerificationTxHash
	}
	if wf.VerificationError != nil {
		rec["verification_error"] = *wf.VerificationError
	}
	if wf.VerificationUpdatedAt != nil {
		rec["updated_at"] = *wf.VerificationUpdatedAt
	}
	return rec
}
