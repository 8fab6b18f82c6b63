package store

import (
	"context"
)

type AuditStore interface {
	AddEvent(ctx context.Context, ev *WorkflowEvent) (int64, error)
	ListEvents(ctx context.Context, workflowID string) ([]WorkflowEvent, error)
}

type auditStore struct {
	db *DB
}

func NewAuditStore(db *DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) AddEvent(ctx context.Context, ev *WorkflowEvent) (int64, error) {
	meta := ev.MetaJSON
	if meta == "" {
		meta = "{}"
	}
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO workflow_events(workflow_id, event_type, message, meta_json, created_at)
		VALUES(?,?,?,?,?)`),
		ev.WorkflowID, ev.EventType, ev.Message, meta, ev.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (s *auditStore) ListEvents(ctx context.Context, workflowID string) ([]WorkflowEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT id, workflow_id, event_type, message, meta_json, created_at
		FROM workflow_events WHERE workflow_id=? ORDER BY created_at ASC, id ASC`), workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []WorkflowEvent
	for rows.Next() {
		var ev WorkflowEvent
		if err := rows.Scan(&ev.ID, &ev.WorkflowID, &ev.EventType, &ev.Message, &ev.MetaJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
