// ABOUTME: HTTP route handlers for the chatbot API
// ABOUTME: Buffered-turn endpoints plus the suggestion-first alternative flow

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tisals/chatbot-gateway/internal/orchestrator"
	"github.com/tisals/chatbot-gateway/internal/ratelimit"
	"github.com/tisals/chatbot-gateway/internal/store"
	"github.com/tisals/chatbot-gateway/internal/turn"
)

// MessageRequest is the JSON request body for POST /api/messages and the
// suggestion endpoints. A missing session_id gets one minted by the server.
type MessageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// MessageResponse is the JSON response for POST /api/messages and
// POST /api/turns/{id}/process.
type MessageResponse struct {
	Success   bool   `json:"success"`
	Text      string `json:"text,omitempty"`
	Source    string `json:"source,omitempty"`
	TurnID    int64  `json:"turn_id,omitempty"`
	Status    string `json:"status,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// TurnStatusResponse is the JSON response for GET /api/turns/{id}.
type TurnStatusResponse struct {
	TurnID int64  `json:"turn_id"`
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", g.handleSubmitMessage)
		r.Get("/turns/{id}", g.handleTurnStatus)
		r.Post("/turns/{id}/process", g.handleProcessTurn)

		r.Post("/suggest", g.handleSuggest)
		r.Post("/faqs/{id}/select", g.handleSelectFAQ)
		r.Post("/other", g.handleOtherOption)
	})

	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSubmitMessage handles POST /api/messages, the primary entry point.
// The message joins the session's pending turn (or opens one); the caller
// polls /api/turns/{id} until the idle window elapses.
func (g *Gateway) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	req, err := parseMessageRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := ensureSessionID(req.SessionID)

	resp, err := g.orch.HandleMessage(r.Context(), ratelimit.ClientKey(r), sessionID, req.Message)
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		g.sendJSONError(w, http.StatusBadRequest, "message is empty")
		return
	}
	if err != nil {
		g.logger.Error("handling message failed", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if resp.RateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(int(resp.RetryAfter.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, MessageResponse{
			Success:   false,
			Text:      resp.Text,
			SessionID: sessionID,
		})
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Success:   true,
		Text:      resp.Text,
		Source:    resp.Source,
		TurnID:    resp.TurnID,
		Status:    resp.Status,
		SessionID: sessionID,
	})
}

// handleTurnStatus handles GET /api/turns/{id} polling.
func (g *Gateway) handleTurnStatus(w http.ResponseWriter, r *http.Request) {
	id, err := turnID(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid turn id")
		return
	}

	state, t, err := g.turns.Readiness(r.Context(), id)
	if err != nil {
		g.logger.Error("readiness check failed", "turn_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if state == turn.ReadinessNotFound {
		g.sendJSONError(w, http.StatusNotFound, "turn not found")
		return
	}

	writeJSON(w, http.StatusOK, TurnStatusResponse{
		TurnID: id,
		Status: t.Status,
		Ready:  state == turn.ReadinessReady,
	})
}

// handleProcessTurn handles POST /api/turns/{id}/process. When the turn is
// ready this claims and answers it; a caller that lost the claim race sees
// status processing and polls again.
func (g *Gateway) handleProcessTurn(w http.ResponseWriter, r *http.Request) {
	id, err := turnID(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid turn id")
		return
	}

	resp, err := g.orch.ProcessTurn(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "turn not found")
		return
	}
	if err != nil {
		g.logger.Error("processing turn failed", "turn_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Success: resp.Status == store.TurnStatusCompleted || resp.Status == store.TurnStatusFailed,
		Text:    resp.Text,
		Source:  resp.Source,
		TurnID:  resp.TurnID,
		Status:  resp.Status,
	})
}

// handleSuggest handles POST /api/suggest, the first step of the
// suggestion-first flow.
func (g *Gateway) handleSuggest(w http.ResponseWriter, r *http.Request) {
	req, err := parseMessageRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := ensureSessionID(req.SessionID)

	resp, err := g.orch.HandleUserMessage(r.Context(), ratelimit.ClientKey(r), sessionID, req.Message)
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		g.sendJSONError(w, http.StatusBadRequest, "message is empty")
		return
	}
	if err != nil {
		g.logger.Error("suggestion search failed", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeSuggestion(w, resp)
}

// handleSelectFAQ handles POST /api/faqs/{id}/select.
func (g *Gateway) handleSelectFAQ(w http.ResponseWriter, r *http.Request) {
	faqID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || faqID <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "invalid faq id")
		return
	}

	var req MessageRequest
	// The body only carries an optional session_id here
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil && decodeErr != io.EOF {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sessionID := ensureSessionID(req.SessionID)

	resp, err := g.orch.HandleSelectFAQ(r.Context(), ratelimit.ClientKey(r), sessionID, faqID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "faq not found")
		return
	}
	if err != nil {
		g.logger.Error("faq selection failed", "faq_id", faqID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeSuggestion(w, resp)
}

// handleOtherOption handles POST /api/other, the suggestion-flow escalation.
func (g *Gateway) handleOtherOption(w http.ResponseWriter, r *http.Request) {
	req, err := parseMessageRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := ensureSessionID(req.SessionID)

	resp, err := g.orch.HandleOtherOption(r.Context(), ratelimit.ClientKey(r), sessionID, req.Message)
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		g.sendJSONError(w, http.StatusBadRequest, "message is empty")
		return
	}
	if err != nil {
		g.logger.Error("escalation failed", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeSuggestion(w, resp)
}

// writeSuggestion maps a suggestion-flow response to HTTP, turning a throttled
// result into 429 with a Retry-After hint.
func (g *Gateway) writeSuggestion(w http.ResponseWriter, resp orchestrator.SuggestionResponse) {
	if resp.RateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(int(resp.RetryAfter.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseMessageRequest parses and validates a MessageRequest from the given reader.
// Returns an error if the JSON is invalid or the message field is missing.
func parseMessageRequest(r io.Reader) (*MessageRequest, error) {
	var req MessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}
	return &req, nil
}

// ensureSessionID mints a session identifier when the client did not send one.
func ensureSessionID(sessionID string) string {
	if s := strings.TrimSpace(sessionID); s != "" {
		return s
	}
	return uuid.New().String()
}

func turnID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid turn id")
	}
	return id, nil
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
