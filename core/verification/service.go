package verification

import (
	"context"

	"bridgeguard/config"
	"bridgeguard/core/clients"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
)

const (
	CodeEvidenceRequired = "EVIDENCE_REQUIRED"
	CodeNotSubmitted     = "NOT_SUBMITTED"
	CodeNotCompleted     = "MAINTENANCE_NOT_COMPLETED"
)

// ConflictError carries a machine-readable code for 409 responses.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Code + ": " + e.Message
}

// Service is the verification submission gateway. Submission is an
// explicit operator action, never an automatic consequence of
// maintenance completion.
type Service struct {
	cfg     *config.AppConfig
	store   store.WorkflowsStore
	audits  store.AuditStore
	reports clients.ReportsClient
	chain   clients.ChainClient
	logger  *utils.Logger
}

func NewService(cfg *config.AppConfig, ws store.WorkflowsStore, audits store.AuditStore, reports clients.ReportsClient, chain clients.ChainClient, logger *utils.Logger) *Service {
	return &Service{cfg: cfg, store: ws, audits: audits, reports: reports, chain: chain, logger: logger}
}

// Submit sends the evidence set for on-chain verification. Requires at
// least one finalized evidence item; while the record is pending,
// submitted or confirmed the evidence set is locked and repeat calls
// return the current record unchanged. A failed record may be
// resubmitted by the operator and starts over.
func (s *Service) Submit(ctx context.Context, maintenanceID string) (*store.Workflow, error) {
	wf, err := s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, store.ErrNotFound
	}
	switch wf.VerificationStatus {
	case store.VerificationPending, store.VerificationSubmitted, store.VerificationConfirmed:
		return wf, nil
	case store.VerificationNone:
		return nil, &ConflictError{Code: CodeNotCompleted, Message: "maintenance is not completed"}
	}

	items, err := s.reports.ListFinalizedEvidence(ctx, maintenanceID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &ConflictError{Code: CodeEvidenceRequired, Message: "no finalized evidence for maintenance " + maintenanceID}
	}

	now := utils.NowUTC()
	won, err := s.store.BeginVerification(ctx, wf.WorkflowID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent submit got here first; return its record.
		return s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
	}
	if err := s.reports.LockEvidence(ctx, maintenanceID); err != nil {
		// The local pending status already rejects further submissions;
		// the reports side lock is advisory.
		s.logger.Warnf("verification: lock evidence %s: %v", maintenanceID, err)
	}

	hashes := make([]string, 0, len(items))
	for _, item := range items {
		hashes = append(hashes, item.SHA256)
	}
	txHash, err := s.chain.SubmitRecord(ctx, clients.VerificationRecord{
		MaintenanceID:  maintenanceID,
		WorkflowID:     wf.WorkflowID,
		AssetID:        wf.AssetID,
		EvidenceHashes: hashes,
	})
	if err != nil {
		s.logger.Errorf("verification: submit %s: %v", maintenanceID, err)
		if _, ferr := s.store.MarkVerificationFailed(ctx, wf.WorkflowID, err.Error(), utils.NowUTC()); ferr != nil {
			s.logger.Errorf("verification: mark failed %s: %v", wf.WorkflowID, ferr)
		}
		s.addEvent(ctx, wf.WorkflowID, "verification.failed", err.Error())
		return s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
	}
	if _, err := s.store.MarkVerificationSubmitted(ctx, wf.WorkflowID, txHash, utils.NowUTC()); err != nil {
		return nil, err
	}
	s.addEvent(ctx, wf.WorkflowID, "verification.submitted", txHash)
	return s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
}

// Track polls the chain for the record and advances the confirmation
// counter by one. Confirmations only ever increase; the status flips to
// confirmed exactly when the counter first reaches the threshold and a
// confirmed record is returned unchanged on further calls.
func (s *Service) Track(ctx context.Context, maintenanceID string) (*store.Workflow, error) {
	wf, err := s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, store.ErrNotFound
	}
	switch wf.VerificationStatus {
	case store.VerificationConfirmed:
		return wf, nil
	case store.VerificationSubmitted:
	default:
		return nil, &ConflictError{Code: CodeNotSubmitted, Message: "verification has not been submitted"}
	}
	if wf.VerificationTxHash != nil {
		if err := s.chain.CheckRecord(ctx, *wf.VerificationTxHash); err != nil {
			s.logger.Errorf("verification: track %s: %v", maintenanceID, err)
			if _, ferr := s.store.MarkVerificationFailed(ctx, wf.WorkflowID, err.Error(), utils.NowUTC()); ferr != nil {
				s.logger.Errorf("verification: mark failed %s: %v", wf.WorkflowID, ferr)
			}
			s.addEvent(ctx, wf.WorkflowID, "verification.failed", err.Error())
			return s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
		}
	}
	if _, err := s.store.AddConfirmation(ctx, wf.WorkflowID, s.cfg.Verification.Required(), utils.NowUTC()); err != nil {
		return nil, err
	}
	current, err := s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.VerificationStatus == store.VerificationConfirmed && wf.VerificationStatus == store.VerificationSubmitted {
		s.addEvent(ctx, current.WorkflowID, "verification.confirmed", maintenanceID)
	}
	return current, nil
}

// State returns the current verification record.
func (s *Service) State(ctx context.Context, maintenanceID string) (*store.Workflow, error) {
	wf, err := s.store.GetWorkflowByMaintenanceID(ctx, maintenanceID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, store.ErrNotFound
	}
	return wf, nil
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
		s.logger.Errorf("verification: audit event %s for %s: %v", eventType, workflowID, err)
	}
}
