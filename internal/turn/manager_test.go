package turn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tisals/chatbot-gateway/internal/store"
)

func setupManager(t *testing.T) (*Manager, *store.SQLiteStore, *time.Time) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := New(st, 30*time.Second, nil)
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, st, &now
}

func TestManager_Defaults(t *testing.T) {
	m := New(nil, 0, nil)
	assert.Equal(t, DefaultIdleWindow, m.IdleWindow())
}

func TestManager_HandleIncoming_CreatesThenAppends(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	first, created, err := m.HandleIncoming(ctx, "s1", "¿cuál es el horario?")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, store.TurnStatusPending, first.Status)

	second, created, err := m.HandleIncoming(ctx, "s1", "¿de atención?")
	require.NoError(t, err)
	assert.False(t, created, "second message within the window must append")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"¿cuál es el horario?", "¿de atención?"}, second.MessageBuffer)
	assert.Equal(t, "¿cuál es el horario? ¿de atención?", second.UserMessage)
}

func TestManager_HandleIncoming_SessionsAreIsolated(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	a, _, err := m.HandleIncoming(ctx, "s1", "hola")
	require.NoError(t, err)
	b, created, err := m.HandleIncoming(ctx, "s2", "hola")
	require.NoError(t, err)

	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestManager_HandleIncoming_NewTurnAfterClaim(t *testing.T) {
	m, st, _ := setupManager(t)
	ctx := context.Background()

	first, _, err := m.HandleIncoming(ctx, "s1", "primera")
	require.NoError(t, err)
	require.NoError(t, st.ClaimTurn(ctx, first.ID))

	second, created, err := m.HandleIncoming(ctx, "s1", "segunda")
	require.NoError(t, err)
	assert.True(t, created, "a claimed turn never absorbs new messages")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{"segunda"}, second.MessageBuffer)
}

func TestManager_Readiness(t *testing.T) {
	m, _, now := setupManager(t)
	ctx := context.Background()

	turn, _, err := m.HandleIncoming(ctx, "s1", "hola")
	require.NoError(t, err)

	state, _, err := m.Readiness(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, ReadinessWaiting, state, "just-created turns wait out the idle window")

	*now = now.Add(29 * time.Second)
	state, _, err = m.Readiness(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, ReadinessWaiting, state)

	*now = now.Add(2 * time.Second)
	state, got, err := m.Readiness(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, ReadinessReady, state)
	assert.Equal(t, turn.ID, got.ID)
}

func TestManager_Readiness_TerminalAndProcessing(t *testing.T) {
	m, st, now := setupManager(t)
	ctx := context.Background()

	turn, _, err := m.HandleIncoming(ctx, "s1", "hola")
	require.NoError(t, err)
	*now = now.Add(time.Minute)

	require.NoError(t, m.Claim(ctx, turn.ID))
	state, _, err := m.Readiness(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, Readiness(store.TurnStatusProcessing), state)

	require.NoError(t, st.FinalizeTurn(ctx, turn.ID, "listo", store.SourceAgent, store.TurnStatusCompleted))
	state, _, err = m.Readiness(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, Readiness(store.TurnStatusCompleted), state)
}

func TestManager_Readiness_NotFound(t *testing.T) {
	m, _, _ := setupManager(t)

	state, got, err := m.Readiness(context.Background(), 9999)
	require.NoError(t, err)
	assert.Equal(t, ReadinessNotFound, state)
	assert.Nil(t, got)
}

func TestManager_Claim_SecondCallerLoses(t *testing.T) {
	m, _, _ := setupManager(t)
	ctx := context.Background()

	turn, _, err := m.HandleIncoming(ctx, "s1", "hola")
	require.NoError(t, err)

	require.NoError(t, m.Claim(ctx, turn.ID))
	assert.ErrorIs(t, m.Claim(ctx, turn.ID), store.ErrTurnClaimed)
}
