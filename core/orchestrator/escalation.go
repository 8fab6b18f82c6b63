package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bridgeguard/config"
	"bridgeguard/core/clients"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
)

// EscalationEngine is the background half of the orchestration: it polls
// for workflows whose acknowledgement SLA has expired and escalates them
// to the authority. Escalation never depends on incoming traffic.
type EscalationEngine struct {
	cfg      *config.AppConfig
	store    store.WorkflowsStore
	audits   store.AuditStore
	notifier clients.NotificationSender
	logger   *utils.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewEscalationEngine(cfg *config.AppConfig, ws store.WorkflowsStore, audits store.AuditStore, notifier clients.NotificationSender, logger *utils.Logger) *EscalationEngine {
	return &EscalationEngine{cfg: cfg, store: ws, audits: audits, notifier: notifier, logger: logger}
}

func (e *EscalationEngine) Start() {
	e.StartWithContext(context.Background())
}

func (e *EscalationEngine) StartWithContext(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	e.mu.Unlock()
	go e.loop(runCtx)
}

func (e *EscalationEngine) Stop() {
	_ = e.StopWithContext(context.Background())
}

func (e *EscalationEngine) StopWithContext(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel == nil || !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	cancel()
	waitDone := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *EscalationEngine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Escalation.CheckInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep escalates every workflow whose deadline has passed. The stage
// transition is compare-and-set before the authority notification goes
// out, so concurrent ticks send at most one notification per workflow.
func (e *EscalationEngine) Sweep(ctx context.Context) {
	now := utils.NowUTC()
	due, err := e.store.ListEscalationDue(ctx, now)
	if err != nil {
		e.logger.Errorf("escalation: list due workflows: %v", err)
		return
	}
	for _, wf := range due {
		won, err := e.store.MarkPoliceNotified(ctx, wf.WorkflowID, now)
		if err != nil {
			e.logger.Errorf("escalation: mark %s: %v", wf.WorkflowID, err)
			continue
		}
		if !won {
			// An acknowledgement or another tick got there first.
			continue
		}
		e.addEvent(ctx, wf.WorkflowID, "escalation.police_notified", wf.AssetID)
		n := clients.Notification{
			WorkflowID: wf.WorkflowID,
			AssetID:    wf.AssetID,
			Severity:   wf.RiskPriority,
			Subject:    fmt.Sprintf("UNACKNOWLEDGED incident on asset %s", wf.AssetID),
			Body:       fmt.Sprintf("Incident %s on asset %s was not acknowledged within the SLA window. Authority escalation engaged.", wf.WorkflowID, wf.AssetID),
			Recipients: e.cfg.Escalation.AuthorityRecipientList(),
			Channels:   e.cfg.Escalation.AuthorityChannelList(),
		}
		if err := e.notifier.Dispatch(ctx, n); err != nil {
			// Stage is already advanced; the escalation stays at-most-once.
			e.logger.Errorf("escalation: authority notification %s: %v", wf.WorkflowID, err)
			e.addEvent(ctx, wf.WorkflowID, "escalation.notify_failed", err.Error())
			continue
		}
		if err := e.store.SetPoliceNotifiedAt(ctx, wf.WorkflowID, utils.NowUTC()); err != nil {
			e.logger.Errorf("escalation: set police_notified_at %s: %v", wf.WorkflowID, err)
		}
	}
}

func (e *EscalationEngine) addEvent(ctx context.Context, workflowID, eventType, message string) {
	if e.audits == nil {
		return
	}
	if _, err := e.audits.AddEvent(ctx, &store.WorkflowEvent{
		WorkflowID: workflowID,
		EventType:  eventType,
		Message:    message,
		CreatedAt:  utils.NowUTC(),
	}); err != nil {
		e.logger.Errorf("escalation: audit event %s for %s: %v", eventType, workflowID, err)
	}
}
