// ABOUTME: Conversation orchestrator tying rate limiting, turns, agent and fallback
// ABOUTME: Every path finalizes with user-facing text, errors never leak raw

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tisals/chatbot-gateway/internal/agent"
	"github.com/tisals/chatbot-gateway/internal/knowledge"
	"github.com/tisals/chatbot-gateway/internal/store"
	"github.com/tisals/chatbot-gateway/internal/turn"
)

// ErrEmptyMessage rejects blank input before any turn state is touched.
var ErrEmptyMessage = errors.New("message is empty")

// User-facing texts. The audience is Spanish-speaking; operators see English
// logs instead.
const (
	textRateLimited = "Has enviado demasiados mensajes. Por favor, espera un momento antes de intentarlo de nuevo."
	textNoContext   = "Lo siento, no tengo información sobre eso en este momento. ¿Puedo ayudarte con algo más?"
	kbAnswerPrefix  = "Según nuestra base de conocimientos:\n\n"
	kbSourceSuffix  = "\n\nPara más información, visita: "
)

// fallbackSearchLimit bounds the knowledge lookup used when the agent fails.
const fallbackSearchLimit = 3

// Response is what the caller relays to the end user.
type Response struct {
	Text        string
	Source      string
	TurnID      int64
	Status      string
	RateLimited bool
	RetryAfter  time.Duration
}

// Limiter is the admission check applied before any turn state changes.
type Limiter interface {
	Admit(key string) bool
	Retry(key string) time.Duration
}

// Agent answers a complete turn. Failures come back inside the Result.
type Agent interface {
	Ask(ctx context.Context, req agent.Request) (agent.Result, error)
}

// Knowledge is the fallback answer source.
type Knowledge interface {
	Search(ctx context.Context, query string, limit int) ([]knowledge.ScoredEntry, error)
	GetByID(ctx context.Context, id int64) (*store.KnowledgeEntry, error)
}

// Turns manages turn grouping and the claim transition.
type Turns interface {
	HandleIncoming(ctx context.Context, sessionID, message string) (*store.Turn, bool, error)
	Readiness(ctx context.Context, id int64) (turn.Readiness, *store.Turn, error)
	Claim(ctx context.Context, id int64) error
}

// Store covers the persistence the orchestrator uses directly.
type Store interface {
	GetTurn(ctx context.Context, id int64) (*store.Turn, error)
	FinalizeTurn(ctx context.Context, id int64, response, source, status string) error
	SaveCompletedTurn(ctx context.Context, sessionID, userMessage, botResponse, source, status string) (int64, error)
}

// Notifier observes finalized turns. Implementations must be best-effort.
type Notifier interface {
	TurnFinalized(id int64, userMessage, botResponse, source string)
}

// notifyTimeout bounds how long a finalize waits on its observers.
const notifyTimeout = 10 * time.Second

// Orchestrator coordinates one message's journey from admission to answer.
type Orchestrator struct {
	limiter    Limiter
	turns      Turns
	store      Store
	agent      Agent
	knowledge  Knowledge
	notifiers  []Notifier
	contactURL string
	logger     *slog.Logger
}

// Options configures optional orchestrator behavior.
type Options struct {
	// ContactURL, when set, is appended to no-context apologies so the user
	// has somewhere to go.
	ContactURL string
	Notifiers  []Notifier
}

// New creates an orchestrator.
func New(limiter Limiter, turns Turns, st Store, ag Agent, kb Knowledge, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		limiter:    limiter,
		turns:      turns,
		store:      st,
		agent:      ag,
		knowledge:  kb,
		notifiers:  opts.Notifiers,
		contactURL: strings.TrimSpace(opts.ContactURL),
		logger:     logger.With("component", "orchestrator"),
	}
}

// HandleMessage is the primary entry point. It admits, buffers and, when the
// session's turn is already eligible, processes in the same call. The zero
// Text with a pending Status means the message was buffered and the caller
// should poll.
func (o *Orchestrator) HandleMessage(ctx context.Context, clientKey, sessionID, message string) (Response, error) {
	if !o.limiter.Admit(clientKey) {
		return Response{
			Text:        textRateLimited,
			RateLimited: true,
			RetryAfter:  o.limiter.Retry(clientKey),
		}, nil
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return Response{}, ErrEmptyMessage
	}

	t, created, err := o.turns.HandleIncoming(ctx, sessionID, message)
	if err != nil {
		return Response{}, fmt.Errorf("recording message: %w", err)
	}
	o.logger.Info("message accepted", "turn_id", t.ID, "session_id", sessionID, "new_turn", created, "buffered", len(t.MessageBuffer))

	state, _, err := o.turns.Readiness(ctx, t.ID)
	if err != nil {
		return Response{}, err
	}
	if state != turn.ReadinessReady {
		return Response{TurnID: t.ID, Status: store.TurnStatusPending}, nil
	}

	return o.ProcessTurn(ctx, t.ID)
}

// ProcessTurn claims an eligible turn and produces its final answer: agent
// first, knowledge base on agent failure, apology when neither helps. Callers
// that lose the claim race get the turn's current status and no side effects.
func (o *Orchestrator) ProcessTurn(ctx context.Context, id int64) (Response, error) {
	state, t, err := o.turns.Readiness(ctx, id)
	if err != nil {
		return Response{}, err
	}
	switch state {
	case turn.ReadinessNotFound:
		return Response{}, store.ErrNotFound
	case turn.ReadinessWaiting:
		return Response{TurnID: id, Status: store.TurnStatusPending}, nil
	case turn.Readiness(store.TurnStatusProcessing):
		return Response{TurnID: id, Status: store.TurnStatusProcessing}, nil
	case turn.Readiness(store.TurnStatusCompleted), turn.Readiness(store.TurnStatusFailed):
		return finalizedResponse(t), nil
	}

	if err := o.turns.Claim(ctx, id); err != nil {
		if errors.Is(err, store.ErrTurnClaimed) {
			// Someone else is (or was) processing it
			o.logger.Debug("lost claim race", "turn_id", id)
			return Response{TurnID: id, Status: store.TurnStatusProcessing}, nil
		}
		return Response{}, fmt.Errorf("claiming turn %d: %w", id, err)
	}

	// Reload after the claim so appends that raced in are included
	t, err = o.store.GetTurn(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("loading claimed turn %d: %w", id, err)
	}

	started := time.Now()
	text, source := o.resolve(ctx, t)

	status := store.TurnStatusCompleted
	if source == store.SourceNoContext {
		status = store.TurnStatusFailed
	}

	if err := o.store.FinalizeTurn(ctx, id, text, source, status); err != nil {
		return Response{}, fmt.Errorf("finalizing turn %d: %w", id, err)
	}
	o.logger.Info("turn finalized", "turn_id", id, "source", source, "status", status, "elapsed", time.Since(started))

	o.notify(id, t.UserMessage, text, source)

	return Response{Text: text, Source: source, TurnID: id, Status: status}, nil
}

// resolve produces the answer text and source tag for a claimed turn. It
// never fails: every path ends in some text.
func (o *Orchestrator) resolve(ctx context.Context, t *store.Turn) (string, string) {
	result, err := o.agent.Ask(ctx, agent.Request{
		Message:   t.UserMessage,
		SessionID: t.SessionID,
		TurnID:    t.ID,
	})
	if err != nil {
		o.logger.Error("agent request could not be built", "turn_id", t.ID, "error", err)
	} else if result.OK {
		return result.Reply, store.SourceAgent
	} else {
		o.logger.Warn("agent unavailable, trying knowledge base", "turn_id", t.ID, "reason", result.Reason)
	}

	matches, err := o.knowledge.Search(ctx, t.UserMessage, fallbackSearchLimit)
	if err != nil {
		o.logger.Error("knowledge fallback failed", "turn_id", t.ID, "error", err)
	}
	if len(matches) > 0 {
		return knowledgeAnswer(matches[0].KnowledgeEntry), store.SourceKBFallback
	}

	return o.apology(), store.SourceNoContext
}

// apology is the terminal no-context text, with the contact link when one is
// configured.
func (o *Orchestrator) apology() string {
	if o.contactURL == "" {
		return textNoContext
	}
	return textNoContext + " Puedes dejarnos tu consulta aquí: " + o.contactURL
}

// knowledgeAnswer formats a knowledge entry as a user-facing reply.
func knowledgeAnswer(entry *store.KnowledgeEntry) string {
	text := kbAnswerPrefix + entry.Answer
	if entry.SourceURL != "" {
		text += kbSourceSuffix + entry.SourceURL
	}
	return text
}

func finalizedResponse(t *store.Turn) Response {
	resp := Response{TurnID: t.ID, Status: t.Status, Source: t.Source}
	if t.BotResponse != nil {
		resp.Text = *t.BotResponse
	}
	return resp
}

// notify fans the finalized turn out to observers. Each notifier runs in its
// own goroutine under a detached timeout so a slow webhook cannot stall or
// fail the response path.
func (o *Orchestrator) notify(id int64, userMessage, botResponse, source string) {
	for _, n := range o.notifiers {
		n := n
		go func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				n.TurnFinalized(id, userMessage, botResponse, source)
			}()
			select {
			case <-done:
			case <-time.After(notifyTimeout):
				o.logger.Warn("notifier timed out", "turn_id", id)
			}
		}()
	}
}
