// ABOUTME: Gateway orchestrator that owns the HTTP server lifecycle
// ABOUTME: Wires the orchestrator, rate limiter and store behind chi routes

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tisals/chatbot-gateway/internal/orchestrator"
	"github.com/tisals/chatbot-gateway/internal/store"
	"github.com/tisals/chatbot-gateway/internal/turn"
)

// Orchestrator is the conversation flow behind every endpoint.
type Orchestrator interface {
	HandleMessage(ctx context.Context, clientKey, sessionID, message string) (orchestrator.Response, error)
	ProcessTurn(ctx context.Context, id int64) (orchestrator.Response, error)
	HandleUserMessage(ctx context.Context, clientKey, sessionID, message string) (orchestrator.SuggestionResponse, error)
	HandleSelectFAQ(ctx context.Context, clientKey, sessionID string, faqID int64) (orchestrator.SuggestionResponse, error)
	HandleOtherOption(ctx context.Context, clientKey, sessionID, message string) (orchestrator.SuggestionResponse, error)
}

// Turns answers polling questions about a turn's readiness.
type Turns interface {
	Readiness(ctx context.Context, id int64) (turn.Readiness, *store.Turn, error)
}

// Gateway serves the chatbot HTTP API.
type Gateway struct {
	addr       string
	orch       Orchestrator
	turns      Turns
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a gateway listening on addr.
func New(addr string, orch Orchestrator, turns Turns, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		addr:   addr,
		orch:   orch,
		turns:  turns,
		logger: logger.With("component", "gateway"),
	}
	g.httpServer = &http.Server{
		Addr:              addr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Handler exposes the route tree, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.logger.Info("shutting down HTTP server")
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
