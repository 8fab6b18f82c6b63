package orchestrator

import (
	"context"
	"fmt"

	"bridgeguard/core/clients"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"

	"github.com/sethvargo/go-retry"
)

// dispatchInspection submits the inspection.create command with bounded
// retry and runs the escalation arming step on success. Exhausted
// retries park the workflow in trigger_failed; the triggering signal is
// consumed either way.
func (s *Service) dispatchInspection(ctx context.Context, wf *store.Workflow) {
	cmd := clients.InspectionCommand{
		WorkflowID:  wf.WorkflowID,
		AssetID:     wf.AssetID,
		Priority:    wf.RiskPriority,
		Reason:      wf.TriggerReason,
		RequestedAt: utils.NowUTC(),
	}
	var ticketID string
	// WithMaxRetries counts retries after the first attempt, so the
	// configured attempt budget covers the total number of calls.
	backoff := retry.WithMaxRetries(uint64(s.cfg.Dispatch.Attempts()-1), retry.NewConstant(s.cfg.Dispatch.RetryBackoff()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := s.runner.CreateInspection(ctx, cmd)
		if err != nil {
			return retry.RetryableError(err)
		}
		ticketID = id
		return nil
	})
	now := utils.NowUTC()
	if err != nil {
		s.logger.Errorf("orchestrator: dispatch for %s exhausted: %v", wf.WorkflowID, err)
		if _, ferr := s.store.MarkTriggerFailed(ctx, wf.WorkflowID, err.Error(), now); ferr != nil {
			s.logger.Errorf("orchestrator: mark trigger_failed %s: %v", wf.WorkflowID, ferr)
		}
		s.addEvent(ctx, wf.WorkflowID, "dispatch.failed", err.Error())
		return
	}
	if _, err := s.store.MarkInspectionRequested(ctx, wf.WorkflowID, ticketID, now); err != nil {
		s.logger.Errorf("orchestrator: mark inspection_requested %s: %v", wf.WorkflowID, err)
		return
	}
	s.addEvent(ctx, wf.WorkflowID, "inspection.requested", ticketID)
	s.armEscalation(ctx, wf, ticketID)
}

// armEscalation starts the acknowledgement SLA clock and notifies the
// management recipients. The clock is armed before the notification
// goes out: escalation must fire on schedule even when the management
// channel is down.
func (s *Service) armEscalation(ctx context.Context, wf *store.Workflow, ticketID string) {
	now := utils.NowUTC()
	deadline := now.Add(s.cfg.Escalation.AckSLA())
	armed, err := s.store.ArmEscalation(ctx, wf.WorkflowID, now, deadline)
	if err != nil {
		s.logger.Errorf("orchestrator: arm escalation %s: %v", wf.WorkflowID, err)
		return
	}
	if !armed {
		return
	}
	s.addEvent(ctx, wf.WorkflowID, "escalation.armed", deadline.Format("2006-01-02T15:04:05Z07:00"))
	n := clients.Notification{
		WorkflowID: wf.WorkflowID,
		AssetID:    wf.AssetID,
		Severity:   wf.RiskPriority,
		Subject:    fmt.Sprintf("Inspection opened for asset %s (%s)", wf.AssetID, wf.RiskPriority),
		Body:       fmt.Sprintf("Inspection ticket %s was opened for asset %s: %s. Acknowledge before %s.", ticketID, wf.AssetID, wf.TriggerReason, deadline.UTC().Format("15:04 MST")),
		Recipients: s.cfg.Escalation.ManagementRecipientList(),
		Channels:   s.cfg.Escalation.ManagementChannelList(),
	}
	if err := s.notifier.Dispatch(ctx, n); err != nil {
		s.logger.Errorf("orchestrator: management notification %s: %v", wf.WorkflowID, err)
		s.addEvent(ctx, wf.WorkflowID, "notification.failed", err.Error())
		return
	}
	s.addEvent(ctx, wf.WorkflowID, "notification.dispatched", "management")
}
