package orchestrator

import (
	"context"
	"strings"

	"bridgeguard/config"
	"bridgeguard/core/clients"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"

	"github.com/gofrs/uuid/v5"
)

// ValidationError rejects a malformed signal or request without any
// state change.
type ValidationError string

func (e ValidationError) Error() string {
	return string(e)
}

type Service struct {
	cfg      *config.AppConfig
	store    store.WorkflowsStore
	audits   store.AuditStore
	runner   clients.CommandRunner
	notifier clients.NotificationSender
	reports  clients.ReportsClient
	logger   *utils.Logger
}

func NewService(cfg *config.AppConfig, ws store.WorkflowsStore, audits store.AuditStore, runner clients.CommandRunner, notifier clients.NotificationSender, reports clients.ReportsClient, logger *utils.Logger) *Service {
	return &Service{cfg: cfg, store: ws, audits: audits, runner: runner, notifier: notifier, reports: reports, logger: logger}
}

type TriggerResult struct {
	Triggered            bool            `json:"triggered"`
	Created              bool            `json:"created"`
	Coalesced            bool            `json:"coalesced"`
	Reason               string          `json:"reason,omitempty"`
	EffectiveProbability float64         `json:"effective_failure_probability"`
	Workflow             *store.Workflow `json:"workflow,omitempty"`
}

func newWorkflowID() string {
	return "wf-" + uuid.Must(uuid.NewV4()).String()
}

// maintenanceIDFor derives the maintenance id from the workflow id so
// retried completion calls always produce the same value.
func maintenanceIDFor(workflowID string) string {
	return "mnt-" + uuid.NewV5(uuid.NamespaceURL, "bridgeguard://maintenance/"+workflowID).String()
}

// IngestRiskSignal runs the trigger pipeline for one risk signal. The
// signal is always consumed: dispatch exhaustion parks the workflow in
// trigger_failed instead of surfacing an error to the producer.
func (s *Service) IngestRiskSignal(ctx context.Context, sig RiskSignal) (*TriggerResult, error) {
	sig.AssetID = strings.TrimSpace(sig.AssetID)
	if sig.AssetID == "" {
		return nil, ValidationError("asset_id is required")
	}
	if sig.HealthScore < 0 || sig.HealthScore > 1 || sig.FailureProbability72h < 0 || sig.FailureProbability72h > 1 {
		return nil, ValidationError("scores must be within [0,1]")
	}
	if sig.EvaluatedAt.IsZero() {
		sig.EvaluatedAt = utils.NowUTC()
	}
	forecast, err := s.store.GetForecast(ctx, sig.AssetID)
	if err != nil {
		s.logger.Warnf("orchestrator: forecast lookup for %s: %v", sig.AssetID, err)
		forecast = nil
	}
	prob := effectiveFailureProbability(sig, forecast)
	triggered, reason := evaluateTrigger(s.cfg.Triggers, sig, prob)
	result := &TriggerResult{Triggered: triggered, Reason: reason, EffectiveProbability: prob}
	if !triggered {
		return result, nil
	}

	level := normalizeRiskLevel(sig.RiskLevel)
	priority := classifyPriority(level, prob)
	now := utils.NowUTC()
	wf := &store.Workflow{
		WorkflowID:         newWorkflowID(),
		AssetID:            sig.AssetID,
		TriggerReason:      reason,
		RiskLevel:          level,
		HealthScore:        sig.HealthScore,
		FailureProbability: prob,
		RiskPriority:       priority,
		Status:             store.StatusPendingDispatch,
		Open:               true,
		VerificationStatus: store.VerificationNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	created, err := s.store.InsertWorkflow(ctx, wf)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.store.GetOpenWorkflowByAsset(ctx, sig.AssetID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// The open workflow closed between insert and lookup; the
			// next signal for this asset will open a fresh one.
			result.Coalesced = true
			return result, nil
		}
		if err := s.store.RefreshTrigger(ctx, existing.WorkflowID, reason, level, sig.HealthScore, prob, priority, now); err != nil {
			return nil, err
		}
		s.addEvent(ctx, existing.WorkflowID, "trigger.coalesced", reason)
		refreshed, err := s.store.GetWorkflow(ctx, existing.WorkflowID)
		if err != nil {
			return nil, err
		}
		result.Coalesced = true
		result.Workflow = refreshed
		return result, nil
	}

	result.Created = true
	s.addEvent(ctx, wf.WorkflowID, "workflow.created", reason)
	s.dispatchInspection(ctx, wf)
	final, err := s.store.GetWorkflow(ctx, wf.WorkflowID)
	if err != nil {
		return nil, err
	}
	result.Workflow = final
	return result, nil
}

// IngestForecast stores the forecast and re-evaluates the trigger with
// the probability alone, so a forecast can open an incident without a
// fresh risk signal.
func (s *Service) IngestForecast(ctx context.Context, f ForecastSignal) (*TriggerResult, error) {
	f.AssetID = strings.TrimSpace(f.AssetID)
	if f.AssetID == "" {
		return nil, ValidationError("asset_id is required")
	}
	if f.FailureProbability72h < 0 || f.FailureProbability72h > 1 {
		return nil, ValidationError("failure_probability_72h must be within [0,1]")
	}
	if f.GeneratedAt.IsZero() {
		f.GeneratedAt = utils.NowUTC()
	}
	if err := s.store.UpsertForecast(ctx, &store.AssetForecast{
		AssetID:     f.AssetID,
		Probability: f.FailureProbability72h,
		GeneratedAt: f.GeneratedAt,
	}); err != nil {
		return nil, err
	}
	return s.IngestRiskSignal(ctx, RiskSignal{
		AssetID:               f.AssetID,
		FailureProbability72h: f.FailureProbability72h,
		EvaluatedAt:           f.GeneratedAt,
	})
}

// Acknowledge records a human acknowledgement. Whoever wins the atomic
// stage transition against the escalation sweep decides the outcome; a
// late acknowledgement after police escalation keeps its audit fields
// but cannot rewind the stage.
func (s *Service) Acknowledge(ctx context.Context, workflowID, by, notes string) (*store.Workflow, error) {
	by = strings.TrimSpace(by)
	if by == "" {
		return nil, ValidationError("acknowledged_by is required")
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, store.ErrNotFound
	}
	now := utils.NowUTC()
	switch wf.EscalationStage {
	case store.StageManagementNotified:
		won, err := s.store.Acknowledge(ctx, workflowID, by, notes, now)
		if err != nil {
			return nil, err
		}
		if won {
			s.addEvent(ctx, workflowID, "workflow.acknowledged", by)
			break
		}
		// Lost the race. If the scheduler escalated meanwhile, keep the
		// acknowledgement for the audit trail.
		current, err := s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.EscalationStage == store.StagePoliceNotified {
			if recorded, err := s.store.RecordLateAck(ctx, workflowID, by, notes, now); err == nil && recorded {
				s.addEvent(ctx, workflowID, "workflow.ack_late", by)
			}
		}
	case store.StageAcknowledged:
		// Repeat acknowledgement: no-op by design of the endpoint.
	case store.StagePoliceNotified:
		recorded, err := s.store.RecordLateAck(ctx, workflowID, by, notes, now)
		if err != nil {
			return nil, err
		}
		if recorded {
			s.addEvent(ctx, workflowID, "workflow.ack_late", by)
		}
	default:
		return nil, store.ErrConflict
	}
	return s.store.GetWorkflow(ctx, workflowID)
}

// CompleteMaintenance moves a workflow into the evidence-awaiting state.
// The maintenance id is derived from the workflow id, so retries cannot
// mint a second one. Verification submission stays a separate, explicit
// operator step.
func (s *Service) CompleteMaintenance(ctx context.Context, workflowID string) (*store.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, store.ErrNotFound
	}
	switch wf.Status {
	case store.StatusInspectionRequested, store.StatusMaintenanceCompleted:
	default:
		return nil, store.ErrConflict
	}
	now := utils.NowUTC()
	maintenanceID := maintenanceIDFor(workflowID)
	if wf.MaintenanceID == nil {
		if err := s.store.AssignMaintenanceID(ctx, workflowID, maintenanceID, now); err != nil {
			return nil, err
		}
	} else {
		maintenanceID = *wf.MaintenanceID
	}
	completed, err := s.store.CompleteMaintenance(ctx, workflowID, now)
	if err != nil {
		return nil, err
	}
	if completed {
		s.addEvent(ctx, workflowID, "maintenance.completed", maintenanceID)
		if s.reports != nil {
			if err := s.reports.RegisterMaintenance(ctx, maintenanceID, workflowID, wf.AssetID); err != nil {
				s.logger.Warnf("orchestrator: register maintenance %s: %v", maintenanceID, err)
				s.addEvent(ctx, workflowID, "maintenance.register_failed", err.Error())
			}
		}
	}
	return s.store.GetWorkflow(ctx, workflowID)
}

func (s *Service) addEvent(ctx context.Context, workflowID, eventType, message string) {
	if s.audits == nil {
		return
	}
	if _, err := s.audits.AddEvent(ctx, &store.WorkflowEvent{
		WorkflowID: workflowID,
		EventType:  eventType,
		Message:    message,
		CreatedAt:  utils.NowUTC(),
	}); err != nil {
		s.logger.Errorf("orchestrator: audit event %s for %s: %v", eventType, workflowID, err)
	}
}
