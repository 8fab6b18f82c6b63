package store

import "time"

const (
	StatusPendingDispatch      = "pending_dispatch"
	StatusInspectionRequested  = "inspection_requested"
	StatusMaintenanceCompleted = "maintenance_completed"
	StatusTriggerFailed        = "trigger_failed"
)

const (
	StageNone               = ""
	StageManagementNotified = "management_notified"
	StageAcknowledged       = "acknowledged"
	StagePoliceNotified     = "police_notified"
)

const (
	VerificationNone             = "none"
	VerificationAwaitingEvidence = "awaiting_evidence"
	VerificationPending          = "pending"
	VerificationSubmitted        = "submitted"
	VerificationConfirmed        = "confirmed"
	VerificationFailed           = "failed"
)

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Workflow is one end-to-end response cycle for a triggering signal on a
// single asset. Rows are never deleted; terminal workflows remain as
// audit records.
type Workflow struct {
	WorkflowID                string     `json:"workflow_id"`
	AssetID                   string     `json:"asset_id"`
	TriggerReason             string     `json:"trigger_reason"`
	RiskLevel                 string     `json:"risk_level,omitempty"`
	HealthScore               float64    `json:"health_score"`
	FailureProbability        float64    `json:"failure_probability"`
	RiskPriority              string     `json:"risk_priority"`
	Status                    string     `json:"status"`
	Open                      bool       `json:"open"`
	EscalationStage           string     `json:"escalation_stage,omitempty"`
	AuthorityNotifiedAt       *time.Time `json:"authority_notified_at,omitempty"`
	AuthorityAckDeadlineAt    *time.Time `json:"authority_ack_deadline_at,omitempty"`
	AcknowledgedAt            *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy            *string    `json:"acknowledged_by,omitempty"`
	AckNotes                  *string    `json:"ack_notes,omitempty"`
	PoliceNotifiedAt          *time.Time `json:"police_notified_at,omitempty"`
	InspectionTicketID        *string    `json:"inspection_ticket_id,omitempty"`
	DispatchError             *string    `json:"dispatch_error,omitempty"`
	MaintenanceID             *string    `json:"maintenance_id,omitempty"`
	VerificationStatus        string     `json:"verification_status"`
	VerificationTxHash        *string    `json:"verification_tx_hash,omitempty"`
	VerificationError         *string    `json:"verification_error,omitempty"`
	VerificationConfirmations int        `json:"verification_confirmations"`
	VerificationUpdatedAt     *time.Time `json:"verification_updated_at,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// AssetForecast is the most recent failure forecast for an asset,
// produced by the prediction collaborator.
type AssetForecast struct {
	AssetID     string    `json:"asset_id"`
	Probability float64   `json:"probability"`
	GeneratedAt time.Time `json:"generated_at"`
}

// WorkflowEvent is one entry of the append-only audit trail.
type WorkflowEvent struct {
	ID         int64     `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	EventType  string    `json:"event_type"`
	Message    string    `json:"message,omitempty"`
	MetaJSON   string    `json:"meta_json,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type WorkflowFilter struct {
	AssetID   string
	Status    string
	Stage     string
	Escalated bool // only workflows that entered the escalation path
	OpenOnly  bool
	Limit     int
	Offset    int
}
