// ABOUTME: HTTP client for the external reasoning agent webhook
// ABOUTME: Maps transport, auth and payload problems into a reason taxonomy

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Failure reasons reported in Result.Reason. The orchestrator treats all of
// them the same way (fall back to the knowledge base); they exist so operators
// can tell a missing token apart from a down agent.
const (
	ReasonNotConfigured = "not_configured"
	ReasonTransport     = "transport"
	ReasonUnauthorized  = "unauthorized"
	ReasonServer        = "server"
	ReasonEmptyReply    = "empty_reply"
)

// Timeout bounds for the agent call. Configured values are clamped into
// [MinTimeout, MaxTimeout]; zero means DefaultTimeout.
const (
	MinTimeout     = 5 * time.Second
	MaxTimeout     = 30 * time.Second
	DefaultTimeout = 10 * time.Second
)

// Request is the payload sent to the agent webhook.
type Request struct {
	Message   string      `json:"message"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id,omitempty"`
	SourceURL string      `json:"source_url,omitempty"`
	KBContext []KBContext `json:"kb_context,omitempty"`
}

// KBContext is a knowledge base excerpt attached to a request so the agent
// can ground its reply even when the user rejected the suggested entries.
type KBContext struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Result is the outcome of one agent call. When OK is true Reply holds the
// agent's text; otherwise Reason says what went wrong. Raw keeps the decoded
// response body for logging and audits.
type Result struct {
	OK     bool
	Reply  string
	Reason string
	Raw    map[string]any
}

// Client calls the external reasoning agent over HTTP. A client with an empty
// endpoint or token is valid and fails every call fast with
// ReasonNotConfigured, which routes the orchestrator to its fallback.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *slog.Logger
}

// New creates an agent client. The timeout is clamped into the supported
// range; pass zero for the default.
func New(endpoint, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: ClampTimeout(timeout)},
		logger:   logger.With("component", "agent"),
	}
}

// ClampTimeout bounds a configured agent timeout into [MinTimeout, MaxTimeout].
// Zero or negative values mean DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Configured reports whether both endpoint and token are set.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.token != ""
}

// Ask sends the turn to the agent and returns its reply. Failures never come
// back as errors; they are encoded in Result.Reason so the caller can always
// continue to the fallback path. The returned error is reserved for request
// construction problems, which indicate a bug rather than a bad agent.
func (c *Client) Ask(ctx context.Context, req Request) (Result, error) {
	if !c.Configured() {
		return Result{Reason: ReasonNotConfigured}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Chatbot-Token", c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("agent call failed", "turn_id", req.TurnID, "error", err)
		return Result{Reason: ReasonTransport}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.Warn("agent rejected credentials", "status", resp.StatusCode)
		return Result{Reason: ReasonUnauthorized}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Warn("agent returned error status", "status", resp.StatusCode, "turn_id", req.TurnID)
		return Result{Reason: ReasonServer}, nil
	}

	payload, err := decodeBody(resp.Body)
	if err != nil {
		c.logger.Warn("agent response unreadable", "turn_id", req.TurnID, "error", err)
		return Result{Reason: ReasonEmptyReply}, nil
	}

	reply := extractReply(payload)
	if reply == "" {
		return Result{Reason: ReasonEmptyReply, Raw: payload}, nil
	}

	return Result{OK: true, Reply: reply, Raw: payload}, nil
}

func decodeBody(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// extractReply pulls the agent's text from the response body. Agents in the
// wild disagree on the field name, so the lookup cascades.
func extractReply(payload map[string]any) string {
	for _, field := range []string{"reply_text", "response", "message"} {
		if text, ok := payload[field].(string); ok {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
