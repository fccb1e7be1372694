package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// CompletionEvent is the payload delivered when a digest run finishes.
// Rendering and transport beyond this trigger live with the receiver.
type CompletionEvent struct {
	OwnerID     string    `json:"owner_id"`
	JobID       string    `json:"job_id"`
	DigestID    string    `json:"digest_id"`
	ResultRef   string    `json:"result_ref"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Notifier triggers the delivery boundary on completion. Failures are the
// caller's to log; a failed notification never fails the job.
type Notifier interface {
	DigestCompleted(ctx context.Context, webhookURL string, event CompletionEvent) error
}

// WebhookNotifier POSTs completion events to the owner's configured URL.
type WebhookNotifier struct {
	client *http.Client
	logger *log.Logger
}

func NewWebhookNotifier(logger *log.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (n *WebhookNotifier) DigestCompleted(ctx context.Context, webhookURL string, event CompletionEvent) error {
	if webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.client.Do(request)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", response.StatusCode)
	}
	if n.logger != nil {
		n.logger.Printf("completion webhook delivered owner=%s digest=%s", event.OwnerID, event.DigestID)
	}
	return nil
}

// NoopNotifier is used when no delivery boundary is configured.
type NoopNotifier struct{}

func (NoopNotifier) DigestCompleted(context.Context, string, CompletionEvent) error {
	return nil
}
