// ABOUTME: Turn lifecycle manager grouping session messages into buffered turns
// ABOUTME: Evaluates idle-window readiness on demand, no timers

package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tisals/chatbot-gateway/internal/store"
)

// DefaultIdleWindow is how long a session must stay quiet before its pending
// turn becomes eligible for processing.
const DefaultIdleWindow = 30 * time.Second

// Readiness states reported by Readiness. Eligibility is computed against the
// idle window when asked, never by a background timer, so a turn can sit
// eligible-but-unclaimed for an arbitrary time without harm.
type Readiness string

const (
	ReadinessWaiting  Readiness = "waiting"
	ReadinessReady    Readiness = "ready"
	ReadinessNotFound Readiness = "not_found"
)

// Store defines what the manager needs from turn storage.
type Store interface {
	CreatePendingTurn(ctx context.Context, sessionID, message string) (*store.Turn, error)
	AppendToTurn(ctx context.Context, id int64, message string) error
	GetLatestPendingTurn(ctx context.Context, sessionID string) (*store.Turn, error)
	GetTurn(ctx context.Context, id int64) (*store.Turn, error)
	ClaimTurn(ctx context.Context, id int64) error
}

// Manager groups a session's messages into turns. One pending turn exists per
// session at a time; messages arriving while it is pending append to its
// buffer, and the first message after it is claimed or finalized opens a
// fresh turn.
type Manager struct {
	store      Store
	idleWindow time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a turn manager. A non-positive idle window falls back to the
// default.
func New(st Store, idleWindow time.Duration, logger *slog.Logger) *Manager {
	if idleWindow <= 0 {
		idleWindow = DefaultIdleWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      st,
		idleWindow: idleWindow,
		logger:     logger.With("component", "turn"),
		now:        time.Now,
	}
}

// IdleWindow returns the configured idle window.
func (m *Manager) IdleWindow() time.Duration {
	return m.idleWindow
}

// HandleIncoming records a message for a session: it appends to the session's
// pending turn when one exists, otherwise creates a new pending turn. The
// returned bool is true when a new turn was created. If the pending turn is
// claimed between lookup and append, the message opens a new turn instead of
// being lost.
func (m *Manager) HandleIncoming(ctx context.Context, sessionID, message string) (*store.Turn, bool, error) {
	pending, err := m.store.GetLatestPendingTurn(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return m.create(ctx, sessionID, message)
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up pending turn: %w", err)
	}

	err = m.store.AppendToTurn(ctx, pending.ID, message)
	if errors.Is(err, store.ErrTurnFrozen) || errors.Is(err, store.ErrNotFound) {
		// Lost a race with a claim; the message starts the next turn
		m.logger.Debug("pending turn froze during append", "turn_id", pending.ID, "session_id", sessionID)
		return m.create(ctx, sessionID, message)
	}
	if err != nil {
		return nil, false, fmt.Errorf("appending to turn %d: %w", pending.ID, err)
	}

	appended, err := m.store.GetTurn(ctx, pending.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reloading turn %d: %w", pending.ID, err)
	}
	return appended, false, nil
}

func (m *Manager) create(ctx context.Context, sessionID, message string) (*store.Turn, bool, error) {
	created, err := m.store.CreatePendingTurn(ctx, sessionID, message)
	if err != nil {
		return nil, false, fmt.Errorf("creating turn: %w", err)
	}
	m.logger.Debug("turn created", "turn_id", created.ID, "session_id", sessionID)
	return created, true, nil
}

// Readiness reports whether a turn can be claimed for processing. Pending
// turns are ready once the session has been idle for the full window;
// processing and terminal turns report their status directly.
func (m *Manager) Readiness(ctx context.Context, id int64) (Readiness, *store.Turn, error) {
	t, err := m.store.GetTurn(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ReadinessNotFound, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("loading turn %d: %w", id, err)
	}

	if t.Status != store.TurnStatusPending {
		return Readiness(t.Status), t, nil
	}
	if m.now().Sub(t.LastMessageAt) >= m.idleWindow {
		return ReadinessReady, t, nil
	}
	return ReadinessWaiting, t, nil
}

// Claim attempts the pending-to-processing transition for a turn. Exactly one
// concurrent caller wins; the rest get store.ErrTurnClaimed.
func (m *Manager) Claim(ctx context.Context, id int64) error {
	return m.store.ClaimTurn(ctx, id)
}
