package clients

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// VerificationRecord is the verification.record command handed to the
// chain-verification service. Hashing and the RPC protocol are its
// concern, not this engine's.
type VerificationRecord struct {
	MaintenanceID  string   `json:"maintenance_id"`
	WorkflowID     string   `json:"workflow_id"`
	AssetID        string   `json:"asset_id"`
	EvidenceHashes []string `json:"evidence_hashes"`
}

type ChainClient interface {
	SubmitRecord(ctx context.Context, rec VerificationRecord) (string, error)
	CheckRecord(ctx context.Context, txHash string) error
}

type HTTPChainClient struct {
	client  *http.Client
	baseURL string
}

func NewHTTPChainClient(baseURL string, timeout time.Duration) *HTTPChainClient {
	return &HTTPChainClient{client: newHTTPClient(timeout), baseURL: baseURL}
}

func (c *HTTPChainClient) SubmitRecord(ctx context.Context, rec VerificationRecord) (string, error) {
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := doJSON(ctx, c.client, "chain submit", http.MethodPost, joinURL(c.baseURL, "/verification/records"), rec, &out); err != nil {
		return "", err
	}
	if out.TxHash == "" {
		return "", &DownstreamError{Op: "chain submit", Err: errors.New("empty tx hash")}
	}
	return out.TxHash, nil
}

func (c *HTTPChainClient) CheckRecord(ctx context.Context, txHash string) error {
	url := joinURL(c.baseURL, "/verification/records/"+txHash)
	return doJSON(ctx, c.client, "chain check", http.MethodGet, url, nil, nil)
}
