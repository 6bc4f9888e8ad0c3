package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEntry(t *testing.T, s *SQLiteStore, question, answer, category string) *KnowledgeEntry {
	t.Helper()
	entry := &KnowledgeEntry{
		Question:  question,
		Answer:    answer,
		Category:  category,
		Source:    "manual",
		SourceURL: "https://example.com/faq",
	}
	require.NoError(t, s.CreateKnowledgeEntry(context.Background(), entry))
	return entry
}

func TestStore_KnowledgeCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := seedEntry(t, store, "¿Cuál es el horario de atención?", "De 9am a 5pm.", "horarios")
	require.NotZero(t, entry.ID)

	retrieved, err := store.GetKnowledgeEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Question, retrieved.Question)
	assert.Equal(t, "https://example.com/faq", retrieved.SourceURL)

	retrieved.Answer = "De 9am a 6pm."
	require.NoError(t, store.UpdateKnowledgeEntry(ctx, retrieved))

	updated, err := store.GetKnowledgeEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "De 9am a 6pm.", updated.Answer)

	require.NoError(t, store.DeleteKnowledgeEntry(ctx, entry.ID))
	_, err = store.GetKnowledgeEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_KnowledgeNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetKnowledgeEntry(ctx, 123)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.UpdateKnowledgeEntry(ctx, &KnowledgeEntry{ID: 123}), ErrNotFound)
	assert.ErrorIs(t, store.DeleteKnowledgeEntry(ctx, 123), ErrNotFound)
}

func TestStore_SearchKnowledgeCandidates_AllTermsRequired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedEntry(t, store, "Horario de atención", "De 9 a 5", "horarios")
	seedEntry(t, store, "Cursos de seguridad laboral", "Listado de cursos", "cursos")
	seedEntry(t, store, "Horario de cursos", "Los cursos son por la tarde", "cursos")

	// Single term matches both entries mentioning "horario"
	results, err := store.SearchKnowledgeCandidates(ctx, []string{"horario"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Both terms must appear somewhere in the record
	results, err = store.SearchKnowledgeCandidates(ctx, []string{"horario", "cursos"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Horario de cursos", results[0].Question)
}

func TestStore_SearchKnowledgeCandidates_FoldsAccents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := seedEntry(t, store, "Horario de atención al público", "Atendemos de 9 a 5", "información")

	// Folded term against accented entry text
	results, err := store.SearchKnowledgeCandidates(ctx, []string{"atencion"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entry.ID, results[0].ID)

	// Accented terms fold too
	results, err = store.SearchKnowledgeCandidates(ctx, []string{"atención", "público"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestStore_UpdateKnowledgeEntry_RefreshesMatching(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := seedEntry(t, store, "Pregunta inicial", "Sin datos", "general")

	entry.Question = "Horario de atención"
	require.NoError(t, store.UpdateKnowledgeEntry(ctx, entry))

	results, err := store.SearchKnowledgeCandidates(ctx, []string{"atencion"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entry.ID, results[0].ID)
}

func TestStore_SearchKnowledgeCandidates_InsertionOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := seedEntry(t, store, "Horario uno", "a", "x")
	second := seedEntry(t, store, "Horario dos", "b", "x")

	results, err := store.SearchKnowledgeCandidates(ctx, []string{"horario"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, first.ID, results[0].ID)
	assert.Equal(t, second.ID, results[1].ID)
}

func TestStore_SearchKnowledgeCandidates_EmptyTerms(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedEntry(t, store, "Horario", "a", "x")

	results, err := store.SearchKnowledgeCandidates(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results, "no terms must never match everything")
}

func TestStore_SearchKnowledgeCandidates_EscapesLikeWildcards(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedEntry(t, store, "Descuento del 100%", "Aplica en enero", "promociones")
	seedEntry(t, store, "Otra pregunta", "Sin relación", "general")

	results, err := store.SearchKnowledgeCandidates(ctx, []string{"100%"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Descuento del 100%", results[0].Question)
}

func TestStore_ListKnowledgeEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedEntry(t, store, "Primera", "a", "x")
	seedEntry(t, store, "Segunda", "b", "x")

	entries, err := store.ListKnowledgeEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Segunda", entries[0].Question, "most recent first")
}
