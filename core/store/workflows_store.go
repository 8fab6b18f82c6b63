package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

type WorkflowsStore interface {
	InsertWorkflow(ctx context.Context, wf *Workflow) (bool, error)
	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)
	GetOpenWorkflowByAsset(ctx context.Context, assetID string) (*Workflow, error)
	GetWorkflowByMaintenanceID(ctx context.Context, maintenanceID string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]Workflow, error)
	RefreshTrigger(ctx context.Context, workflowID, reason, riskLevel string, healthScore, failureProb float64, priority string, now time.Time) error

	MarkInspectionRequested(ctx context.Context, workflowID, ticketID string, now time.Time) (bool, error)
	MarkTriggerFailed(ctx context.Context, workflowID, dispatchErr string, now time.Time) (bool, error)

	ArmEscalation(ctx context.Context, workflowID string, notifiedAt, deadline time.Time) (bool, error)
	ListEscalationDue(ctx context.Context, now time.Time) ([]Workflow, error)
	MarkPoliceNotified(ctx context.Context, workflowID string, now time.Time) (bool, error)
	SetPoliceNotifiedAt(ctx context.Context, workflowID string, now time.Time) error
	Acknowledge(ctx context.Context, workflowID, by, notes string, now time.Time) (bool, error)
	RecordLateAck(ctx context.Context, workflowID, by, notes string, now time.Time) (bool, error)

	AssignMaintenanceID(ctx context.Context, workflowID, maintenanceID string, now time.Time) error
	CompleteMaintenance(ctx context.Context, workflowID string, now time.Time) (bool, error)

	BeginVerification(ctx context.Context, workflowID string, now time.Time) (bool, error)
	MarkVerificationSubmitted(ctx context.Context, workflowID, txHash string, now time.Time) (bool, error)
	MarkVerificationFailed(ctx context.Context, workflowID, message string, now time.Time) (bool, error)
	AddConfirmation(ctx context.Context, workflowID string, required int, now time.Time) (bool, error)

	UpsertForecast(ctx context.Context, f *AssetForecast) error
	GetForecast(ctx context.Context, assetID string) (*AssetForecast, error)
	DeleteForecastsBefore(ctx context.Context, before time.Time) (int64, error)
}

type workflowsStore struct {
	db *DB
}

func NewWorkflowsStore(db *DB) WorkflowsStore {
	return &workflowsStore{db: db}
}

const workflowColumns = `workflow_id, asset_id, trigger_reason, risk_level, health_score, failure_probability, risk_priority, status, open, escalation_stage, authority_notified_at, authority_ack_deadline_at, acknowledged_at, acknowledged_by, ack_notes, police_notified_at, inspection_ticket_id, dispatch_error, maintenance_id, verification_status, verification_tx_hash, verification_error, verification_confirmations, verification_updated_at, created_at, updated_at`

// InsertWorkflow creates a new workflow unless an open one already
// exists for the asset. The partial unique index on (asset_id) WHERE
// open=1 makes this race-free; false means the caller should coalesce.
func (s *workflowsStore) InsertWorkflow(ctx context.Context, wf *Workflow) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO workflows(workflow_id, asset_id, trigger_reason, risk_level, health_score, failure_probability, risk_priority, status, open, escalation_stage, verification_status, verification_confirmations, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,1,'','none',0,?,?)
		ON CONFLICT DO NOTHING`),
		wf.WorkflowID, wf.AssetID, wf.TriggerReason, wf.RiskLevel, wf.HealthScore, wf.FailureProbability, wf.RiskPriority, wf.Status, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT `+workflowColumns+` FROM workflows WHERE workflow_id=?`), workflowID)
	return scanWorkflow(row)
}

func (s *workflowsStore) GetOpenWorkflowByAsset(ctx context.Context, assetID string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT `+workflowColumns+` FROM workflows WHERE asset_id=? AND open=1`), assetID)
	return scanWorkflow(row)
}

func (s *workflowsStore) GetWorkflowByMaintenanceID(ctx context.Context, maintenanceID string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT `+workflowColumns+` FROM workflows WHERE maintenance_id=?`), maintenanceID)
	return scanWorkflow(row)
}

func (s *workflowsStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]Workflow, error) {
	var clauses []string
	var args []any
	if filter.AssetID != "" {
		clauses = append(clauses, "asset_id=?")
		args = append(args, filter.AssetID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Stage != "" {
		clauses = append(clauses, "escalation_stage=?")
		args = append(args, filter.Stage)
	}
	if filter.Escalated {
		clauses = append(clauses, "escalation_stage!=''")
	}
	if filter.OpenOnly {
		clauses = append(clauses, "open=1")
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		if wf != nil {
			res = append(res, *wf)
		}
	}
	return res, rows.Err()
}

func (s *workflowsStore) RefreshTrigger(ctx context.Context, workflowID, reason, riskLevel string, healthScore, failureProb float64, priority string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET trigger_reason=?, risk_level=?, health_score=?, failure_probability=?, risk_priority=?, updated_at=?
		WHERE workflow_id=? AND open=1`),
		reason, riskLevel, healthScore, failureProb, priority, now, workflowID)
	return err
}

func (s *workflowsStore) MarkInspectionRequested(ctx context.Context, workflowID, ticketID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET status=?, inspection_ticket_id=?, updated_at=?
		WHERE workflow_id=? AND status=?`),
		StatusInspectionRequested, ticketID, now, workflowID, StatusPendingDispatch)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) MarkTriggerFailed(ctx context.Context, workflowID, dispatchErr string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET status=?, dispatch_error=?, open=0, updated_at=?
		WHERE workflow_id=? AND status=?`),
		StatusTriggerFailed, dispatchErr, now, workflowID, StatusPendingDispatch)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) ArmEscalation(ctx context.Context, workflowID string, notifiedAt, deadline time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET escalation_stage=?, authority_notified_at=?, authority_ack_deadline_at=?, updated_at=?
		WHERE workflow_id=? AND escalation_stage=''`),
		StageManagementNotified, notifiedAt, deadline, notifiedAt, workflowID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) ListEscalationDue(ctx context.Context, now time.Time) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT `+workflowColumns+` FROM workflows
		WHERE open=1 AND escalation_stage=? AND authority_ack_deadline_at IS NOT NULL AND authority_ack_deadline_at<=?
		ORDER BY authority_ack_deadline_at ASC`),
		StageManagementNotified, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		if wf != nil {
			res = append(res, *wf)
		}
	}
	return res, rows.Err()
}

// MarkPoliceNotified advances the escalation stage. The caller must only
// notify the authority when this returns true: the conditional update is
// the single atomic winner selection between concurrent scheduler ticks
// and a racing acknowledgement.
func (s *workflowsStore) MarkPoliceNotified(ctx context.Context, workflowID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET escalation_stage=?, updated_at=?
		WHERE workflow_id=? AND escalation_stage=?`),
		StagePoliceNotified, now, workflowID, StageManagementNotified)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) SetPoliceNotifiedAt(ctx context.Context, workflowID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET police_notified_at=?, updated_at=?
		WHERE workflow_id=? AND escalation_stage=?`),
		now, now, workflowID, StagePoliceNotified)
	return err
}

func (s *workflowsStore) Acknowledge(ctx context.Context, workflowID, by, notes string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET escalation_stage=?, acknowledged_at=?, acknowledged_by=?, ack_notes=?, updated_at=?
		WHERE workflow_id=? AND escalation_stage=?`),
		StageAcknowledged, now, by, notes, now, workflowID, StageManagementNotified)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// RecordLateAck keeps the audit fields of an acknowledgement that lost
// the race against authority escalation. The stage is left untouched.
func (s *workflowsStore) RecordLateAck(ctx context.Context, workflowID, by, notes string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET acknowledged_at=?, acknowledged_by=?, ack_notes=?, updated_at=?
		WHERE workflow_id=? AND escalation_stage=? AND acknowledged_at IS NULL`),
		now, by, notes, now, workflowID, StagePoliceNotified)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// AssignMaintenanceID writes the maintenance id once; later calls are
// no-ops, keeping the mapping immutable.
func (s *workflowsStore) AssignMaintenanceID(ctx context.Context, workflowID, maintenanceID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET maintenance_id=?, updated_at=?
		WHERE workflow_id=? AND maintenance_id IS NULL`),
		maintenanceID, now, workflowID)
	return err
}

func (s *workflowsStore) CompleteMaintenance(ctx context.Context, workflowID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET status=?, verification_status=?, verification_updated_at=?, open=0, updated_at=?
		WHERE workflow_id=? AND status=?`),
		StatusMaintenanceCompleted, VerificationAwaitingEvidence, now, now, workflowID, StatusInspectionRequested)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// BeginVerification locks the evidence set by moving to pending. Allowed
// from awaiting_evidence, or from failed on an explicit operator
// resubmission; the confirmation counter starts over.
func (s *workflowsStore) BeginVerification(ctx context.Context, workflowID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET verification_status=?, verification_error=NULL, verification_tx_hash=NULL, verification_confirmations=0, verification_updated_at=?, updated_at=?
		WHERE workflow_id=? AND verification_status IN (?,?)`),
		VerificationPending, now, now, workflowID, VerificationAwaitingEvidence, VerificationFailed)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) MarkVerificationSubmitted(ctx context.Context, workflowID, txHash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET verification_status=?, verification_tx_hash=?, verification_updated_at=?, updated_at=?
		WHERE workflow_id=? AND verification_status=?`),
		VerificationSubmitted, txHash, now, now, workflowID, VerificationPending)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) MarkVerificationFailed(ctx context.Context, workflowID, message string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET verification_status=?, verification_error=?, verification_updated_at=?, updated_at=?
		WHERE workflow_id=? AND verification_status IN (?,?)`),
		VerificationFailed, message, now, now, workflowID, VerificationPending, VerificationSubmitted)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// AddConfirmation bumps the confirmation counter and flips to confirmed
// the moment the threshold is first reached, all in one statement so
// concurrent track calls cannot double-confirm.
func (s *workflowsStore) AddConfirmation(ctx context.Context, workflowID string, required int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE workflows SET
			verification_confirmations=verification_confirmations+1,
			verification_status=CASE WHEN verification_confirmations+1>=? THEN ? ELSE ? END,
			verification_updated_at=?, updated_at=?
		WHERE workflow_id=? AND verification_status=?`),
		required, VerificationConfirmed, VerificationSubmitted, now, now, workflowID, VerificationSubmitted)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (s *workflowsStore) UpsertForecast(ctx context.Context, f *AssetForecast) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO asset_forecasts(asset_id, probability, generated_at)
		VALUES(?,?,?)
		ON CONFLICT (asset_id)
		DO UPDATE SET probability=excluded.probability, generated_at=excluded.generated_at
		WHERE excluded.generated_at > asset_forecasts.generated_at`),
		f.AssetID, f.Probability, f.GeneratedAt)
	return err
}

func (s *workflowsStore) GetForecast(ctx context.Context, assetID string) (*AssetForecast, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT asset_id, probability, generated_at FROM asset_forecasts WHERE asset_id=?`), assetID)
	var f AssetForecast
	if err := row.Scan(&f.AssetID, &f.Probability, &f.GeneratedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (s *workflowsStore) DeleteForecastsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.rebind(`DELETE FROM asset_forecasts WHERE generated_at < ?`), before)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func scanWorkflow(row interface {
	Scan(dest ...any) error
}) (*Workflow, error) {
	var wf Workflow
	var openInt int
	var authorityNotified, ackDeadline, acked, policeNotified, verUpdated sql.NullTime
	var ackedBy, ackNotes, ticketID, dispatchErr, maintenanceID, txHash, verErr sql.NullString
	if err := row.Scan(
		&wf.WorkflowID, &wf.AssetID, &wf.TriggerReason, &wf.RiskLevel, &wf.HealthScore, &wf.FailureProbability,
		&wf.RiskPriority, &wf.Status, &openInt, &wf.EscalationStage,
		&authorityNotified, &ackDeadline, &acked, &ackedBy, &ackNotes, &policeNotified,
		&ticketID, &dispatchErr, &maintenanceID,
		&wf.VerificationStatus, &txHash, &verErr, &wf.VerificationConfirmations, &verUpdated,
		&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	wf.Open = openInt == 1
	if authorityNotified.Valid {
		wf.AuthorityNotifiedAt = &authorityNotified.Time
	}
	if ackDeadline.Valid {
		wf.AuthorityAckDeadlineAt = &ackDeadline.Time
	}
	if acked.Valid {
		wf.AcknowledgedAt = &acked.Time
	}
	if ackedBy.Valid {
		val := ackedBy.String
		wf.AcknowledgedBy = &val
	}
	if ackNotes.Valid {
		val := ackNotes.String
		wf.AckNotes = &val
	}
	if policeNotified.Valid {
		wf.PoliceNotifiedAt = &policeNotified.Time
	}
	if ticketID.Valid {
		val := ticketID.String
		wf.InspectionTicketID = &val
	}
	if dispatchErr.Valid {
		val := dispatchErr.String
		wf.DispatchError = &val
	}
	if maintenanceID.Valid {
		val := maintenanceID.String
		wf.MaintenanceID = &val
	}
	if txHash.Valid {
		val := txHash.String
		wf.VerificationTxHash = &val
	}
	if verErr.Valid {
		val := verErr.String
		wf.VerificationError = &val
	}
	if verUpdated.Valid {
		wf.VerificationUpdatedAt = &verUpdated.Time
	}
	return &wf, nil
}
