package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bridgeguard/config"
	"bridgeguard/core/utils"
)

func newTestStores(t *testing.T) (WorkflowsStore, AuditStore) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: DriverSQLite,
		DBPath:   filepath.Join(t.TempDir(), "test.db"),
	}
	logger := utils.NewLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return NewWorkflowsStore(db), NewAuditStore(db)
}

func testWorkflow(id, asset string) *Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Workflow{
		WorkflowID:         id,
		AssetID:            asset,
		TriggerReason:      "risk_level_high",
		RiskLevel:          "high",
		HealthScore:        0.9,
		FailureProbability: 0.8,
		RiskPriority:       PriorityHigh,
		Status:             StatusPendingDispatch,
		Open:               true,
		VerificationStatus: VerificationNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestInsertWorkflowCoalescesPerAsset(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()

	created, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a"))
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	created, err = ws.InsertWorkflow(ctx, testWorkflow("wf-2", "asset-a"))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Fatalf("second insert for the same open asset must coalesce")
	}
	open, err := ws.GetOpenWorkflowByAsset(ctx, "asset-a")
	if err != nil || open == nil {
		t.Fatalf("open lookup: %v", err)
	}
	if open.WorkflowID != "wf-1" {
		t.Fatalf("open workflow is %s, want wf-1", open.WorkflowID)
	}

	// A different asset is unaffected.
	created, err = ws.InsertWorkflow(ctx, testWorkflow("wf-3", "asset-b"))
	if err != nil || !created {
		t.Fatalf("other asset insert: created=%v err=%v", created, err)
	}
}

func TestInsertAllowedAfterWorkflowCloses(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	won, err := ws.MarkTriggerFailed(ctx, "wf-1", "runtime unreachable", now)
	if err != nil || !won {
		t.Fatalf("mark failed: won=%v err=%v", won, err)
	}
	created, err := ws.InsertWorkflow(ctx, testWorkflow("wf-2", "asset-a"))
	if err != nil || !created {
		t.Fatalf("insert after close: created=%v err=%v", created, err)
	}
}

func TestMarkInspectionRequestedIsCAS(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	won, err := ws.MarkInspectionRequested(ctx, "wf-1", "ticket-1", now)
	if err != nil || !won {
		t.Fatalf("first transition: won=%v err=%v", won, err)
	}
	won, err = ws.MarkInspectionRequested(ctx, "wf-1", "ticket-2", now)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if won {
		t.Fatalf("transition out of pending_dispatch must happen once")
	}
	wf, _ := ws.GetWorkflow(ctx, "wf-1")
	if wf.Status != StatusInspectionRequested || wf.InspectionTicketID == nil || *wf.InspectionTicketID != "ticket-1" {
		t.Fatalf("unexpected state: %+v", wf)
	}
}

func TestAcknowledgeBeatsEscalation(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := ws.MarkInspectionRequested(ctx, "wf-1", "ticket-1", now); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	armed, err := ws.ArmEscalation(ctx, "wf-1", now, now.Add(30*time.Minute))
	if err != nil || !armed {
		t.Fatalf("arm: armed=%v err=%v", armed, err)
	}
	won, err := ws.Acknowledge(ctx, "wf-1", "alice", "handled", now)
	if err != nil || !won {
		t.Fatalf("ack: won=%v err=%v", won, err)
	}
	// The sweep losing the race must be a no-op.
	won, err = ws.MarkPoliceNotified(ctx, "wf-1", now)
	if err != nil {
		t.Fatalf("police: %v", err)
	}
	if won {
		t.Fatalf("escalation after acknowledgement must lose")
	}
	wf, _ := ws.GetWorkflow(ctx, "wf-1")
	if wf.EscalationStage != StageAcknowledged {
		t.Fatalf("stage=%q want acknowledged", wf.EscalationStage)
	}
}

func TestEscalationBeatsAcknowledge(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := ws.MarkInspectionRequested(ctx, "wf-1", "ticket-1", now); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if _, err := ws.ArmEscalation(ctx, "wf-1", now, now.Add(-time.Minute)); err != nil {
		t.Fatalf("arm: %v", err)
	}
	won, err := ws.MarkPoliceNotified(ctx, "wf-1", now)
	if err != nil || !won {
		t.Fatalf("police: won=%v err=%v", won, err)
	}
	won, err = ws.Acknowledge(ctx, "wf-1", "alice", "", now)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if won {
		t.Fatalf("acknowledge after escalation must lose the CAS")
	}
	recorded, err := ws.RecordLateAck(ctx, "wf-1", "alice", "late", now)
	if err != nil || !recorded {
		t.Fatalf("late ack: recorded=%v err=%v", recorded, err)
	}
	// A second late ack must not overwrite the first.
	recorded, err = ws.RecordLateAck(ctx, "wf-1", "bob", "later", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second late ack: %v", err)
	}
	if recorded {
		t.Fatalf("late ack fields must be written once")
	}
	wf, _ := ws.GetWorkflow(ctx, "wf-1")
	if wf.EscalationStage != StagePoliceNotified {
		t.Fatalf("stage=%q want police_notified", wf.EscalationStage)
	}
	if wf.AcknowledgedBy == nil || *wf.AcknowledgedBy != "alice" {
		t.Fatalf("acknowledged_by=%v want alice", wf.AcknowledgedBy)
	}
}

func TestListEscalationDue(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"wf-due", "wf-future", "wf-acked"} {
		wf := testWorkflow(id, "asset-"+id)
		if _, err := ws.InsertWorkflow(ctx, wf); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		if _, err := ws.MarkInspectionRequested(ctx, id, "t-"+id, now); err != nil {
			t.Fatalf("inspection %s: %v", id, err)
		}
	}
	if _, err := ws.ArmEscalation(ctx, "wf-due", now, now.Add(-time.Minute)); err != nil {
		t.Fatalf("arm due: %v", err)
	}
	if _, err := ws.ArmEscalation(ctx, "wf-future", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("arm future: %v", err)
	}
	if _, err := ws.ArmEscalation(ctx, "wf-acked", now, now.Add(-time.Minute)); err != nil {
		t.Fatalf("arm acked: %v", err)
	}
	if _, err := ws.Acknowledge(ctx, "wf-acked", "alice", "", now); err != nil {
		t.Fatalf("ack: %v", err)
	}

	due, err := ws.ListEscalationDue(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].WorkflowID != "wf-due" {
		t.Fatalf("due=%v want exactly wf-due", due)
	}
}

func TestMaintenanceCompletionFlow(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := ws.MarkInspectionRequested(ctx, "wf-1", "ticket-1", now); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := ws.AssignMaintenanceID(ctx, "wf-1", "mnt-1", now); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// Assign is write-once.
	if err := ws.AssignMaintenanceID(ctx, "wf-1", "mnt-2", now); err != nil {
		t.Fatalf("second assign: %v", err)
	}
	wf, _ := ws.GetWorkflow(ctx, "wf-1")
	if wf.MaintenanceID == nil || *wf.MaintenanceID != "mnt-1" {
		t.Fatalf("maintenance_id=%v want mnt-1", wf.MaintenanceID)
	}

	done, err := ws.CompleteMaintenance(ctx, "wf-1", now)
	if err != nil || !done {
		t.Fatalf("complete: done=%v err=%v", done, err)
	}
	done, err = ws.CompleteMaintenance(ctx, "wf-1", now)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if done {
		t.Fatalf("completion must transition once")
	}
	wf, _ = ws.GetWorkflow(ctx, "wf-1")
	if wf.Status != StatusMaintenanceCompleted || wf.VerificationStatus != VerificationAwaitingEvidence || wf.Open {
		t.Fatalf("unexpected state after completion: %+v", wf)
	}
	byMnt, err := ws.GetWorkflowByMaintenanceID(ctx, "mnt-1")
	if err != nil || byMnt == nil || byMnt.WorkflowID != "wf-1" {
		t.Fatalf("lookup by maintenance id: %v %v", byMnt, err)
	}
}

func TestVerificationTransitions(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := ws.MarkInspectionRequested(ctx, "wf-1", "ticket-1", now); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := ws.AssignMaintenanceID(ctx, "wf-1", "mnt-1", now); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := ws.CompleteMaintenance(ctx, "wf-1", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	won, err := ws.BeginVerification(ctx, "wf-1", now)
	if err != nil || !won {
		t.Fatalf("begin: won=%v err=%v", won, err)
	}
	won, err = ws.BeginVerification(ctx, "wf-1", now)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if won {
		t.Fatalf("begin must not restart a pending verification")
	}
	if _, err := ws.MarkVerificationSubmitted(ctx, "wf-1", "0xabc", now); err != nil {
		t.Fatalf("submitted: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if _, err := ws.AddConfirmation(ctx, "wf-1", 3, now); err != nil {
			t.Fatalf("confirmation %d: %v", i, err)
		}
		wf, _ := ws.GetWorkflow(ctx, "wf-1")
		if wf.VerificationConfirmations != i {
			t.Fatalf("confirmations=%d want %d", wf.VerificationConfirmations, i)
		}
		wantStatus := VerificationSubmitted
		if i >= 3 {
			wantStatus = VerificationConfirmed
		}
		if wf.VerificationStatus != wantStatus {
			t.Fatalf("after %d confirmations status=%q want %q", i, wf.VerificationStatus, wantStatus)
		}
	}
	// Confirmed is terminal for the counter.
	if _, err := ws.AddConfirmation(ctx, "wf-1", 3, now); err != nil {
		t.Fatalf("extra confirmation: %v", err)
	}
	wf, _ := ws.GetWorkflow(ctx, "wf-1")
	if wf.VerificationConfirmations != 3 || wf.VerificationStatus != VerificationConfirmed {
		t.Fatalf("confirmed record changed: %+v", wf)
	}
}

func TestBeginVerificationAllowedFromFailed(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := ws.MarkInspectionRequested(ctx, "wf-1", "t", now); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if err := ws.AssignMaintenanceID(ctx, "wf-1", "mnt-1", now); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := ws.CompleteMaintenance(ctx, "wf-1", now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := ws.BeginVerification(ctx, "wf-1", now); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := ws.MarkVerificationFailed(ctx, "wf-1", "rpc timeout", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	won, err := ws.BeginVerification(ctx, "wf-1", now)
	if err != nil || !won {
		t.Fatalf("resubmit from failed: won=%v err=%v", won, err)
	}
	wf, _ := ws.GetWorkflow(ctx, "wf-1")
	if wf.VerificationStatus != VerificationPending || wf.VerificationError != nil || wf.VerificationConfirmations != 0 {
		t.Fatalf("restart did not reset state: %+v", wf)
	}
}

func TestForecastUpsertKeepsNewest(t *testing.T) {
	ws, _ := newTestStores(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := ws.UpsertForecast(ctx, &AssetForecast{AssetID: "asset-a", Probability: 0.5, GeneratedAt: base}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ws.UpsertForecast(ctx, &AssetForecast{AssetID: "asset-a", Probability: 0.9, GeneratedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("newer upsert: %v", err)
	}
	f, err := ws.GetForecast(ctx, "asset-a")
	if err != nil || f == nil {
		t.Fatalf("get: %v", err)
	}
	if f.Probability != 0.9 {
		t.Fatalf("probability=%v want 0.9", f.Probability)
	}
	// An older forecast must not replace a newer one.
	if err := ws.UpsertForecast(ctx, &AssetForecast{AssetID: "asset-a", Probability: 0.1, GeneratedAt: base.Add(-time.Hour)}); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	f, _ = ws.GetForecast(ctx, "asset-a")
	if f.Probability != 0.9 {
		t.Fatalf("stale forecast replaced newer one: %v", f.Probability)
	}

	n, err := ws.DeleteForecastsBefore(ctx, base.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune: n=%d err=%v", n, err)
	}
	f, _ = ws.GetForecast(ctx, "asset-a")
	if f != nil {
		t.Fatalf("forecast survived pruning")
	}
}

func TestAuditTrailOrdering(t *testing.T) {
	ws, audits := newTestStores(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ws.InsertWorkflow(ctx, testWorkflow("wf-1", "asset-a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i, et := range []string{"workflow.created", "inspection.requested", "escalation.armed"} {
		if _, err := audits.AddEvent(ctx, &WorkflowEvent{
			WorkflowID: "wf-1",
			EventType:  et,
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("add event: %v", err)
		}
	}
	events, err := audits.ListEvents(ctx, "wf-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].EventType != "workflow.created" || events[2].EventType != "escalation.armed" {
		t.Fatalf("events out of order: %v", events)
	}
}
