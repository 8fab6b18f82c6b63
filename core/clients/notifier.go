package clients

import (
	"context"
	"net/http"
	"time"
)

// Notification is the notification.dispatch command consumed by the
// channel-level notification service. Template rendering and per-channel
// retry live on the other side of this boundary.
type Notification struct {
	WorkflowID string   `json:"workflow_id"`
	AssetID    string   `json:"asset_id"`
	Severity   string   `json:"severity"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
	Channels   []string `json:"channels"`
}

type NotificationSender interface {
	Dispatch(ctx context.Context, n Notification) error
}

type HTTPNotificationSender struct {
	client  *http.Client
	baseURL string
}

func NewHTTPNotificationSender(baseURL string, timeout time.Duration) *HTTPNotificationSender {
	return &HTTPNotificationSender{client: newHTTPClient(timeout), baseURL: baseURL}
}

func (s *HTTPNotificationSender) Dispatch(ctx context.Context, n Notification) error {
	return doJSON(ctx, s.client, "notifier dispatch", http.MethodPost, joinURL(s.baseURL, "/notifications/dispatch"), n, nil)
}
