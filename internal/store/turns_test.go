package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestStore_CreatePendingTurn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "hola")
	require.NoError(t, err)
	assert.NotZero(t, turn.ID)
	assert.Equal(t, TurnStatusPending, turn.Status)

	retrieved, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "s1", retrieved.SessionID)
	assert.Equal(t, "hola", retrieved.UserMessage)
	assert.Equal(t, []string{"hola"}, retrieved.MessageBuffer)
	assert.Nil(t, retrieved.BotResponse, "bot_response must be null while pending")
}

func TestStore_CreatePendingTurn_KeepsSubSecondPrecision(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC()
	turn, err := store.CreatePendingTurn(ctx, "s1", "hola")
	require.NoError(t, err)

	retrieved, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)

	// A rounded-down timestamp would make a fresh turn look idle already and
	// trip the idle-window check early
	assert.False(t, retrieved.LastMessageAt.Before(before))
	assert.True(t, retrieved.LastMessageAt.Equal(turn.LastMessageAt))
}

func TestStore_GetTurn_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetTurn(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendToTurn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "¿cuál es el horario?")
	require.NoError(t, err)

	require.NoError(t, store.AppendToTurn(ctx, turn.ID, "¿cuál es el horario?"))

	retrieved, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	require.Len(t, retrieved.MessageBuffer, 2)
	assert.Equal(t, "¿cuál es el horario? ¿cuál es el horario?", retrieved.UserMessage)
	assert.False(t, retrieved.LastMessageAt.Before(turn.LastMessageAt))
}

func TestStore_AppendToTurn_FrozenAfterClaim(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "primera")
	require.NoError(t, err)

	require.NoError(t, store.ClaimTurn(ctx, turn.ID))

	err = store.AppendToTurn(ctx, turn.ID, "tarde")
	assert.ErrorIs(t, err, ErrTurnFrozen)

	// Buffer must be unchanged
	retrieved, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"primera"}, retrieved.MessageBuffer)
}

func TestStore_AppendToTurn_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.AppendToTurn(ctx, 4242, "nada")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetLatestPendingTurn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetLatestPendingTurn(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := store.CreatePendingTurn(ctx, "s1", "uno")
	require.NoError(t, err)

	// Finalized turns are not returned
	require.NoError(t, store.ClaimTurn(ctx, first.ID))
	require.NoError(t, store.FinalizeTurn(ctx, first.ID, "listo", SourceAgent, TurnStatusCompleted))

	second, err := store.CreatePendingTurn(ctx, "s1", "dos")
	require.NoError(t, err)

	pending, err := store.GetLatestPendingTurn(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, pending.ID)

	// Other sessions are isolated
	_, err = store.GetLatestPendingTurn(ctx, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ClaimTurn_SingleWinner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "hola")
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.ClaimTurn(ctx, turn.ID)
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrTurnClaimed)
			losses++
		}
	}

	assert.Equal(t, 1, wins, "exactly one claim attempt must win")
	assert.Equal(t, workers-1, losses)

	retrieved, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, TurnStatusProcessing, retrieved.Status)
}

func TestStore_ClaimTurn_AlreadyTerminal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "hola")
	require.NoError(t, err)

	require.NoError(t, store.ClaimTurn(ctx, turn.ID))
	require.NoError(t, store.FinalizeTurn(ctx, turn.ID, "ok", SourceAgent, TurnStatusCompleted))

	err = store.ClaimTurn(ctx, turn.ID)
	assert.ErrorIs(t, err, ErrTurnClaimed, "status never reverses out of a terminal state")
}

func TestStore_FinalizeTurn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "hola")
	require.NoError(t, err)
	require.NoError(t, store.ClaimTurn(ctx, turn.ID))

	require.NoError(t, store.FinalizeTurn(ctx, turn.ID, "9am-5pm", SourceAgent, TurnStatusCompleted))

	retrieved, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, TurnStatusCompleted, retrieved.Status)
	require.NotNil(t, retrieved.BotResponse)
	assert.Equal(t, "9am-5pm", *retrieved.BotResponse)
	assert.Equal(t, SourceAgent, retrieved.Source)

	// A second finalize must not succeed
	err = store.FinalizeTurn(ctx, turn.ID, "otra", SourceKBFallback, TurnStatusFailed)
	assert.ErrorIs(t, err, ErrTurnClaimed)
}

func TestStore_FinalizeTurn_RequiresProcessing(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "hola")
	require.NoError(t, err)

	err = store.FinalizeTurn(ctx, turn.ID, "ok", SourceAgent, TurnStatusCompleted)
	assert.ErrorIs(t, err, ErrTurnClaimed, "pending turns cannot skip straight to a terminal state")
}

func TestStore_FinalizeTurn_RejectsNonTerminalStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	turn, err := store.CreatePendingTurn(ctx, "s1", "hola")
	require.NoError(t, err)
	require.NoError(t, store.ClaimTurn(ctx, turn.ID))

	err = store.FinalizeTurn(ctx, turn.ID, "ok", SourceAgent, TurnStatusPending)
	assert.Error(t, err)
}

func TestStore_SaveCompletedTurn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.SaveCompletedTurn(ctx, "s1", "¿horario?", "9 a 5", SourceKnowledgeBase, TurnStatusCompleted)
	require.NoError(t, err)

	turn, err := store.GetTurn(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TurnStatusCompleted, turn.Status)
	assert.Equal(t, SourceKnowledgeBase, turn.Source)
	require.NotNil(t, turn.BotResponse)
	assert.Equal(t, "9 a 5", *turn.BotResponse)
}

func TestStore_ListTurns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, msg := range []string{"uno", "dos", "tres"} {
		_, err := store.CreatePendingTurn(ctx, "s1", msg)
		require.NoError(t, err)
	}

	turns, err := store.ListTurns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "tres", turns[0].UserMessage, "most recent first")
}
