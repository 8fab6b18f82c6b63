package clients

import (
	"context"
	"net/http"
	"time"
)

// EvidenceItem mirrors the report-generation service's view of one
// uploaded evidence file. Finalized means the hash is computed and the
// file was accepted.
type EvidenceItem struct {
	EvidenceID    string     `json:"evidence_id"`
	MaintenanceID string     `json:"maintenance_id"`
	Filename      string     `json:"filename"`
	SHA256        string     `json:"sha256"`
	Finalized     bool       `json:"finalized"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty"`
}

type ReportsClient interface {
	RegisterMaintenance(ctx context.Context, maintenanceID, workflowID, assetID string) error
	ListFinalizedEvidence(ctx context.Context, maintenanceID string) ([]EvidenceItem, error)
	LockEvidence(ctx context.Context, maintenanceID string) error
}

type HTTPReportsClient struct {
	client  *http.Client
	baseURL string
}

func NewHTTPReportsClient(baseURL string, timeout time.Duration) *HTTPReportsClient {
	return &HTTPReportsClient{client: newHTTPClient(timeout), baseURL: baseURL}
}

func (c *HTTPReportsClient) RegisterMaintenance(ctx context.Context, maintenanceID, workflowID, assetID string) error {
	payload := map[string]string{
		"maintenance_id": maintenanceID,
		"workflow_id":    workflowID,
		"asset_id":       assetID,
	}
	return doJSON(ctx, c.client, "reports register", http.MethodPost, joinURL(c.baseURL, "/maintenance"), payload, nil)
}

func (c *HTTPReportsClient) ListFinalizedEvidence(ctx context.Context, maintenanceID string) ([]EvidenceItem, error) {
	var out struct {
		Items []EvidenceItem `json:"items"`
	}
	url := joinURL(c.baseURL, "/maintenance/"+maintenanceID+"/evidence?finalized=1")
	if err := doJSON(ctx, c.client, "reports list evidence", http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	var res []EvidenceItem
	for _, item := range out.Items {
		if item.Finalized {
			res = append(res, item)
		}
	}
	return res, nil
}

func (c *HTTPReportsClient) LockEvidence(ctx context.Context, maintenanceID string) error {
	url := joinURL(c.baseURL, "/maintenance/"+maintenanceID+"/evidence/lock")
	return doJSON(ctx, c.client, "reports lock evidence", http.MethodPost, url, nil, nil)
}
