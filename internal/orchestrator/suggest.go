// ABOUTME: Suggestion-first interaction flow as an alternative to buffered turns
// ABOUTME: Previews matching FAQs, answers a selected one or escalates to the agent

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tisals/chatbot-gateway/internal/agent"
	"github.com/tisals/chatbot-gateway/internal/store"
)

// Suggestion payload types returned to the frontend.
const (
	SuggestionTypeSuggestions = "suggestions"
	SuggestionTypeAnswer      = "answer"
	SuggestionTypeNoResults   = "no_results"
	SuggestionTypeFallback    = "fallback"
	SuggestionTypeRateLimited = "rate_limited"
)

// suggestionLimit caps how many FAQ previews one query returns.
const suggestionLimit = 5

// Suggestion is a preview of one knowledge entry the user may pick.
type Suggestion struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

// SuggestionResponse is the result of a suggestion-flow call. Exactly one of
// Suggestions or Text is meaningful depending on Type.
type SuggestionResponse struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Source      string       `json:"source,omitempty"`
	Suggestions []Suggestion `json:"suggested_questions,omitempty"`
	ContactURL  string       `json:"contact_url,omitempty"`
	FAQID       int64        `json:"faq_id,omitempty"`

	RateLimited bool          `json:"-"`
	RetryAfter  time.Duration `json:"-"`
}

// throttled builds the response for a client over its admission limit. The
// suggestion flow shares the same limiter as the buffered path, so a client
// cannot sidestep metering by switching endpoints.
func (o *Orchestrator) throttled(clientKey string) SuggestionResponse {
	return SuggestionResponse{
		Type:        SuggestionTypeRateLimited,
		Text:        textRateLimited,
		RateLimited: true,
		RetryAfter:  o.limiter.Retry(clientKey),
	}
}

// HandleUserMessage searches the knowledge base and returns FAQ previews for
// the user to choose from. No agent call happens here; when nothing matches,
// the user is pointed at the contact page instead.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, clientKey, sessionID, message string) (SuggestionResponse, error) {
	if !o.limiter.Admit(clientKey) {
		return o.throttled(clientKey), nil
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return SuggestionResponse{}, ErrEmptyMessage
	}

	matches, err := o.knowledge.Search(ctx, message, suggestionLimit)
	if err != nil {
		return SuggestionResponse{}, fmt.Errorf("searching suggestions: %w", err)
	}

	if len(matches) == 0 {
		text := "No encontré información relevante en la base de conocimientos. Puedes dejarnos tu consulta en nuestra página de contacto."
		if o.contactURL != "" {
			text += " Aquí puedes escribirnos: " + o.contactURL
		}
		o.record(ctx, sessionID, message, text, store.SourceNoContext, store.TurnStatusFailed)
		return SuggestionResponse{
			Type:       SuggestionTypeNoResults,
			Text:       text,
			ContactURL: o.contactURL,
		}, nil
	}

	suggestions := make([]Suggestion, 0, len(matches))
	for _, m := range matches {
		suggestions = append(suggestions, Suggestion{
			ID:       m.ID,
			Question: m.Question,
			Category: m.Category,
			Source:   m.Source,
		})
	}
	return SuggestionResponse{Type: SuggestionTypeSuggestions, Suggestions: suggestions}, nil
}

// HandleSelectFAQ answers with the chosen knowledge entry verbatim.
func (o *Orchestrator) HandleSelectFAQ(ctx context.Context, clientKey, sessionID string, faqID int64) (SuggestionResponse, error) {
	if !o.limiter.Admit(clientKey) {
		return o.throttled(clientKey), nil
	}

	entry, err := o.knowledge.GetByID(ctx, faqID)
	if errors.Is(err, store.ErrNotFound) {
		return SuggestionResponse{}, store.ErrNotFound
	}
	if err != nil {
		return SuggestionResponse{}, fmt.Errorf("loading faq %d: %w", faqID, err)
	}

	text := kbAnswerPrefix + entry.Answer
	if entry.SourceURL != "" {
		text += "\n\nMás detalles: " + entry.SourceURL
	}

	// The entry's own question stands in for the user message in the audit log
	o.record(ctx, sessionID, entry.Question, text, store.SourceKnowledgeBase, store.TurnStatusCompleted)

	return SuggestionResponse{
		Type:   SuggestionTypeAnswer,
		Text:   text,
		Source: store.SourceKnowledgeBase,
		FAQID:  entry.ID,
	}, nil
}

// HandleOtherOption escalates to the agent after the user rejected every
// suggestion. The rejected entries still travel along as context so the agent
// knows what was already offered.
func (o *Orchestrator) HandleOtherOption(ctx context.Context, clientKey, sessionID, message string) (SuggestionResponse, error) {
	if !o.limiter.Admit(clientKey) {
		return o.throttled(clientKey), nil
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return SuggestionResponse{}, ErrEmptyMessage
	}

	matches, err := o.knowledge.Search(ctx, message, suggestionLimit)
	if err != nil {
		o.logger.Warn("kb context lookup failed", "session_id", sessionID, "error", err)
	}
	kbContext := make([]agent.KBContext, 0, len(matches))
	for _, m := range matches {
		kbContext = append(kbContext, agent.KBContext{Question: m.Question, Answer: m.Answer})
	}

	result, err := o.agent.Ask(ctx, agent.Request{
		Message:   message,
		SessionID: sessionID,
		KBContext: kbContext,
	})
	if err != nil {
		o.logger.Error("agent request could not be built", "session_id", sessionID, "error", err)
	}

	if result.OK {
		o.record(ctx, sessionID, message, result.Reply, store.SourceAgent, store.TurnStatusCompleted)
		return SuggestionResponse{
			Type:   SuggestionTypeAnswer,
			Text:   result.Reply,
			Source: store.SourceAgent,
		}, nil
	}

	text := "En este momento no puedo generar una respuesta personalizada. Puedes dejarnos tu consulta y nuestro equipo te responderá."
	if o.contactURL != "" {
		text += " Ir a contacto: " + o.contactURL
	}
	o.record(ctx, sessionID, message, text, store.SourceNoContext, store.TurnStatusFailed)

	return SuggestionResponse{
		Type:       SuggestionTypeFallback,
		Text:       text,
		ContactURL: o.contactURL,
	}, nil
}

// record persists a single-shot exchange. Suggestion-flow answers are final
// the moment they are produced, so they skip the pending/processing states.
func (o *Orchestrator) record(ctx context.Context, sessionID, userMessage, botResponse, source, status string) {
	id, err := o.store.SaveCompletedTurn(ctx, sessionID, userMessage, botResponse, source, status)
	if err != nil {
		o.logger.Error("saving exchange failed", "session_id", sessionID, "error", err)
		return
	}
	o.notify(id, userMessage, botResponse, source)
}
