package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"bridgeguard/config"
	"bridgeguard/core/orchestrator"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
)

// IncidentsHandler serves the escalation-centric view: workflows that
// have entered the acknowledgement path, with their SLA state.
type IncidentsHandler struct {
	cfg    *config.AppConfig
	store  store.WorkflowsStore
	orch   *orchestrator.Service
	logger *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, ws store.WorkflowsStore, orch *orchestrator.Service, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, store: ws, orch: orch, logger: logger}
}

type incidentDTO struct {
	store.Workflow
	AckOverdue bool `json:"ack_overdue"`
}

func toIncidentDTO(wf store.Workflow) incidentDTO {
	overdue := wf.EscalationStage == store.StageManagementNotified &&
		wf.AuthorityAckDeadlineAt != nil &&
		utils.NowUTC().After(*wf.AuthorityAckDeadlineAt)
	return incidentDTO{Workflow: wf, AckOverdue: overdue}
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.WorkflowFilter{
		AssetID:   strings.TrimSpace(q.Get("asset_id")),
		Stage:     strings.ToLower(strings.TrimSpace(q.Get("stage"))),
		Escalated: true,
		Limit:     parseIntDefault(q.Get("limit"), 100),
		Offset:    parseIntDefault(q.Get("offset"), 0),
	}
	items, err := h.store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	result := make([]incidentDTO, 0, len(items))
	for _, wf := range items {
		result = append(result, toIncidentDTO(wf))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	wf, err := h.store.GetWorkflow(r.Context(), pathParam(r, "workflow_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if wf == nil || wf.EscalationStage == store.StageNone {
		writeError(w, http.StatusNotFound, "not_found", "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, toIncidentDTO(*wf))
}

func (h *IncidentsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AcknowledgedBy string `json:"acknowledged_by"`
		Notes          string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid json payload")
		return
	}
	wf, err := h.orch.Acknowledge(r.Context(), pathParam(r, "workflow_id"), payload.AcknowledgedBy, payload.Notes)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toIncidentDTO(*wf))
}
