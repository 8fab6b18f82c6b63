package clients

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// InspectionCommand is the inspection.create command submitted to the
// workflow-execution runtime.
type InspectionCommand struct {
	WorkflowID  string    `json:"workflow_id"`
	AssetID     string    `json:"asset_id"`
	Priority    string    `json:"priority"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

type CommandRunner interface {
	CreateInspection(ctx context.Context, cmd InspectionCommand) (string, error)
}

type HTTPCommandRunner struct {
	client  *http.Client
	baseURL string
}

func NewHTTPCommandRunner(baseURL string, timeout time.Duration) *HTTPCommandRunner {
	return &HTTPCommandRunner{client: newHTTPClient(timeout), baseURL: baseURL}
}

func (r *HTTPCommandRunner) CreateInspection(ctx context.Context, cmd InspectionCommand) (string, error) {
	var out struct {
		TicketID string `json:"ticket_id"`
	}
	err := doJSON(ctx, r.client, "runtime inspection.create", http.MethodPost, joinURL(r.baseURL, "/commands/inspection-create"), cmd, &out)
	if err != nil {
		return "", err
	}
	if out.TicketID == "" {
		return "", &DownstreamError{Op: "runtime inspection.create", Err: errors.New("empty ticket id")}
	}
	return out.TicketID, nil
}
