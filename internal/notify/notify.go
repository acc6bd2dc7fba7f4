// Package notify carries violation signals to the seller. The seller-facing
// channel itself (email, dashboard) is an external collaborator; this package
// only defines the port and two small adapters.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Violation describes one automated anti-sharing enforcement event.
type Violation struct {
	LicenseID       string    `json:"license_id"`
	SoftwareID      string    `json:"software_id"`
	Holder          string    `json:"holder"`
	BoundDevice     string    `json:"bound_device"`
	PresentedDevice string    `json:"presented_device"`
	Reason          string    `json:"reason"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// SellerNotifier delivers violation notices. Delivery is best-effort: the
// gate's block decision stands whether or not the notice goes out.
type SellerNotifier interface {
	NotifyViolation(ctx context.Context, v Violation) error
}

// LogNotifier records violations in the structured log. The default when no
// webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that writes to the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("component", "seller_notifier"))}
}

func (n *LogNotifier) NotifyViolation(ctx context.Context, v Violation) error {
	n.logger.WarnContext(ctx, "license violation",
		slog.String("license_id", v.LicenseID),
		slog.String("software_id", v.SoftwareID),
		slog.String("holder", v.Holder),
		slog.String("reason", v.Reason),
		slog.Time("occurred_at", v.OccurredAt),
	)
	return nil
}

// WebhookNotifier POSTs the violation as JSON to a seller-operated endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a notifier for the given endpoint.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "seller_notifier")),
	}
}

func (n *WebhookNotifier) NotifyViolation(ctx context.Context, v Violation) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build violation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver violation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("violation webhook returned %d", resp.StatusCode)
	}
	return nil
}
