package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridgeguard/core/store"
)

func newEscalationEnv(t *testing.T) (*testEnv, *EscalationEngine) {
	t.Helper()
	env := newTestEnv(t)
	engine := NewEscalationEngine(env.cfg, env.store, env.audits, env.notifier, nil)
	return env, engine
}

// armOverdueWorkflow sets up a workflow in management_notified whose ack
// deadline already passed.
func armOverdueWorkflow(t *testing.T, env *testEnv, id, asset string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	wf := &store.Workflow{
		WorkflowID:         id,
		AssetID:            asset,
		TriggerReason:      "risk_level_high",
		RiskLevel:          "high",
		RiskPriority:       store.PriorityHigh,
		Status:             store.StatusPendingDispatch,
		Open:               true,
		VerificationStatus: store.VerificationNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := env.store.InsertWorkflow(ctx, wf); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := env.store.MarkInspectionRequested(ctx, id, "ticket-"+id, now); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if _, err := env.store.ArmEscalation(ctx, id, now.Add(-time.Hour), now.Add(-30*time.Minute)); err != nil {
		t.Fatalf("arm: %v", err)
	}
}

func TestSweepEscalatesOverdueWorkflow(t *testing.T) {
	env, engine := newEscalationEnv(t)
	ctx := context.Background()
	armOverdueWorkflow(t, env, "wf-1", "asset-1")

	engine.Sweep(ctx)

	wf, _ := env.store.GetWorkflow(ctx, "wf-1")
	if wf.EscalationStage != store.StagePoliceNotified {
		t.Fatalf("stage=%q want police_notified", wf.EscalationStage)
	}
	if wf.PoliceNotifiedAt == nil {
		t.Fatalf("police_notified_at not set")
	}
	if len(env.notifier.sent) != 1 {
		t.Fatalf("authority notifications=%d want 1", len(env.notifier.sent))
	}
	n := env.notifier.sent[0]
	if len(n.Recipients) == 0 || n.Recipients[0] != "police-dispatch" {
		t.Fatalf("recipients=%v want police-dispatch", n.Recipients)
	}

	// A second sweep finds nothing to do.
	engine.Sweep(ctx)
	if len(env.notifier.sent) != 1 {
		t.Fatalf("repeated sweep re-notified the authority")
	}
}

func TestSweepNotBeforeDeadline(t *testing.T) {
	env, engine := newEscalationEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	wf := &store.Workflow{
		WorkflowID:         "wf-1",
		AssetID:            "asset-1",
		TriggerReason:      "risk_level_high",
		RiskPriority:       store.PriorityHigh,
		Status:             store.StatusPendingDispatch,
		Open:               true,
		VerificationStatus: store.VerificationNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := env.store.InsertWorkflow(ctx, wf); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := env.store.MarkInspectionRequested(ctx, "wf-1", "t1", now); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if _, err := env.store.ArmEscalation(ctx, "wf-1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("arm: %v", err)
	}

	engine.Sweep(ctx)
	got, _ := env.store.GetWorkflow(ctx, "wf-1")
	if got.EscalationStage != store.StageManagementNotified {
		t.Fatalf("sweep escalated before the deadline: %q", got.EscalationStage)
	}
	if len(env.notifier.sent) != 0 {
		t.Fatalf("unexpected notification before deadline")
	}
}

func TestSweepSkipsAcknowledged(t *testing.T) {
	env, engine := newEscalationEnv(t)
	ctx := context.Background()
	armOverdueWorkflow(t, env, "wf-1", "asset-1")

	if _, err := env.store.Acknowledge(ctx, "wf-1", "alice", "", time.Now().UTC()); err != nil {
		t.Fatalf("ack: %v", err)
	}
	engine.Sweep(ctx)
	wf, _ := env.store.GetWorkflow(ctx, "wf-1")
	if wf.EscalationStage != store.StageAcknowledged {
		t.Fatalf("acknowledged workflow escalated: %q", wf.EscalationStage)
	}
	if len(env.notifier.sent) != 0 {
		t.Fatalf("sweep notified for an acknowledged workflow")
	}
}

func TestSweepStageAdvancesEvenWhenNotifyFails(t *testing.T) {
	env, engine := newEscalationEnv(t)
	ctx := context.Background()
	armOverdueWorkflow(t, env, "wf-1", "asset-1")
	env.notifier.err = errors.New("channel down")

	engine.Sweep(ctx)
	wf, _ := env.store.GetWorkflow(ctx, "wf-1")
	if wf.EscalationStage != store.StagePoliceNotified {
		t.Fatalf("stage=%q want police_notified", wf.EscalationStage)
	}
	if wf.PoliceNotifiedAt != nil {
		t.Fatalf("police_notified_at set despite failed notification")
	}

	// The failed notification is not retried by a later sweep; the stage
	// transition already consumed the escalation.
	env.notifier.err = nil
	engine.Sweep(ctx)
	if len(env.notifier.sent) != 0 {
		t.Fatalf("escalation notified twice")
	}
}

func TestEngineStartStop(t *testing.T) {
	_, engine := newEscalationEnv(t)
	engine.Start()
	engine.Start() // second start is a no-op
	if err := engine.StopWithContext(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	engine.Stop() // stop on a stopped engine is safe
}
