// ABOUTME: Best-effort webhook notifications for finalized turns
// ABOUTME: Fires after commit and never feeds errors back into the turn flow

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Event is the payload delivered to the webhook after a turn is finalized.
type Event struct {
	Event       string `json:"event"`
	ID          int64  `json:"id"`
	UserMessage string `json:"user_message"`
	BotResponse string `json:"bot_response"`
	Source      string `json:"source"`
	Timestamp   string `json:"timestamp"`
}

// EventTurnFinalized is the only event type emitted today.
const EventTurnFinalized = "turn_finalized"

// defaultTimeout bounds one webhook delivery attempt.
const defaultTimeout = 5 * time.Second

// Webhook posts turn events to a configured URL. Delivery is best effort:
// failures are logged and dropped, never retried and never surfaced to the
// turn flow that triggered them.
type Webhook struct {
	url     string
	http    *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewWebhook creates a webhook notifier. An empty URL yields a notifier whose
// TurnFinalized is a no-op, so callers never need a nil check.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:     strings.TrimSpace(url),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("component", "notify"),
		timeout: defaultTimeout,
	}
}

// Enabled reports whether a webhook URL is configured.
func (w *Webhook) Enabled() bool {
	return w.url != ""
}

// TurnFinalized delivers a turn_finalized event. The delivery uses its own
// timeout context detached from the caller's, so a finalized turn is notified
// even when the originating request has already returned.
func (w *Webhook) TurnFinalized(id int64, userMessage, botResponse, source string) {
	if !w.Enabled() {
		return
	}

	event := Event{
		Event:       EventTurnFinalized,
		ID:          id,
		UserMessage: userMessage,
		BotResponse: botResponse,
		Source:      source,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	if err := w.deliver(event); err != nil {
		w.logger.Warn("webhook delivery failed", "turn_id", id, "error", err)
	}
}

func (w *Webhook) deliver(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
