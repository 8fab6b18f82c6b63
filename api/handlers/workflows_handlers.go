package handlers

import (
	"net/http"
	"strings"

	"bridgeguard/core/orchestrator"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
)

type WorkflowsHandler struct {
	store  store.WorkflowsStore
	audits store.AuditStore
	orch   *orchestrator.Service
	logger *utils.Logger
}

func NewWorkflowsHandler(ws store.WorkflowsStore, audits store.AuditStore, orch *orchestrator.Service, logger *utils.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{store: ws, audits: audits, orch: orch, logger: logger}
}

func (h *WorkflowsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.WorkflowFilter{
		AssetID: strings.TrimSpace(q.Get("asset_id")),
		Status:  strings.ToLower(strings.TrimSpace(q.Get("status"))),
		Stage:   strings.ToLower(strings.TrimSpace(q.Get("stage"))),
		Limit:   parseIntDefault(q.Get("limit"), 100),
		Offset:  parseIntDefault(q.Get("offset"), 0),
	}
	if v := strings.ToLower(q.Get("open")); v == "1" || v == "true" {
		filter.OpenOnly = true
	}
	items, err := h.store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *WorkflowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	wf, err := h.store.GetWorkflow(r.Context(), pathParam(r, "workflow_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "not_found", "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *WorkflowsHandler) Events(w http.ResponseWriter, r *http.Request) {
	workflowID := pathParam(r, "workflow_id")
	wf, err := h.store.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "not_found", "workflow not found")
		return
	}
	events, err := h.audits.ListEvents(r.Context(), workflowID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (h *WorkflowsHandler) MaintenanceCompleted(w http.ResponseWriter, r *http.Request) {
	wf, err := h.orch.CompleteMaintenance(r.Context(), pathParam(r, "workflow_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow":             wf,
		"verification_summary": verificationSummary(wf),
	})
}

func verificationSummary(wf *store.Workflow) map[string]any {
	if wf == nil {
		return nil
	}
	summary := map[string]any{
		"verification_status": wf.VerificationStatus,
		"confirmations":       wf.VerificationConfirmations,
	}
	if wf.MaintenanceID != nil {
		summary["maintenance_id"] = *wf.MaintenanceID
	}
	if wf.VerificationTxHash != nil {
		summary["tx_hash"] = *wf.VerificationTxHash
	}
	if wf.VerificationError != nil {
		summary["verification_error"] = *wf.VerificationError
	}
	return summary
}
