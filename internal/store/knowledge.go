// ABOUTME: Knowledge base CRUD and candidate fetch for keyword search
// ABOUTME: Candidates require every term as a substring of question, category or answer

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateKnowledgeEntry inserts a new knowledge base record and sets its ID.
func (s *SQLiteStore) CreateKnowledgeEntry(ctx context.Context, entry *KnowledgeEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO knowledge_base (question, answer, category, source, source_url, created_at, question_norm, answer_norm, category_norm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Question,
		entry.Answer,
		entry.Category,
		entry.Source,
		entry.SourceURL,
		entry.CreatedAt.UTC().Format(time.RFC3339),
		NormalizeText(entry.Question),
		NormalizeText(entry.Answer),
		NormalizeText(entry.Category),
	)
	if err != nil {
		return fmt.Errorf("inserting knowledge entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting insert id: %w", err)
	}
	entry.ID = id

	s.logger.Debug("created knowledge entry", "id", id, "category", entry.Category)
	return nil
}

// GetKnowledgeEntry retrieves a knowledge entry by ID.
// Returns ErrNotFound if the entry doesn't exist.
func (s *SQLiteStore) GetKnowledgeEntry(ctx context.Context, id int64) (*KnowledgeEntry, error) {
	query := `
		SELECT id, question, answer, category, source, source_url, created_at
		FROM knowledge_base
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	entry, err := scanKnowledgeEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying knowledge entry: %w", err)
	}
	return entry, nil
}

// UpdateKnowledgeEntry updates an existing entry.
// Returns ErrNotFound if the entry doesn't exist.
func (s *SQLiteStore) UpdateKnowledgeEntry(ctx context.Context, entry *KnowledgeEntry) error {
	query := `
		UPDATE knowledge_base
		SET question = ?, answer = ?, category = ?, source = ?, source_url = ?,
		    question_norm = ?, answer_norm = ?, category_norm = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Question,
		entry.Answer,
		entry.Category,
		entry.Source,
		entry.SourceURL,
		NormalizeText(entry.Question),
		NormalizeText(entry.Answer),
		NormalizeText(entry.Category),
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("updating knowledge entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated knowledge entry", "id", entry.ID)
	return nil
}

// DeleteKnowledgeEntry removes an entry.
// Returns ErrNotFound if the entry doesn't exist.
func (s *SQLiteStore) DeleteKnowledgeEntry(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_base WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting knowledge entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted knowledge entry", "id", id)
	return nil
}

// ListKnowledgeEntries returns entries ordered by most recently created.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListKnowledgeEntries(ctx context.Context, limit int) ([]*KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, question, answer, category, source, source_url, created_at
		FROM knowledge_base
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge entries: %w", err)
	}
	defer rows.Close()

	return collectKnowledgeEntries(rows)
}

// SearchKnowledgeCandidates returns entries where every term appears as a
// substring of the question, category or answer. Matching runs against the
// normalized shadow columns, so it is case- and accent-insensitive regardless
// of how the entry text is spelled. Candidates are returned in insertion order
// (id ascending) so that downstream re-ranking has a deterministic tie order.
// An empty term list returns no candidates.
func (s *SQLiteStore) SearchKnowledgeCandidates(ctx context.Context, terms []string, limit int) ([]*KnowledgeEntry, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 15
	}

	var conditions []string
	var args []any
	for _, term := range terms {
		like := "%" + escapeLike(NormalizeText(term)) + "%"
		conditions = append(conditions, `(question_norm LIKE ? ESCAPE '\' OR category_norm LIKE ? ESCAPE '\' OR answer_norm LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, question, answer, category, source, source_url, created_at
		FROM knowledge_base
		WHERE %s
		ORDER BY id ASC
		LIMIT ?
	`, strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge candidates: %w", err)
	}
	defer rows.Close()

	return collectKnowledgeEntries(rows)
}

// escapeLike escapes LIKE metacharacters in a user-supplied term.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func scanKnowledgeEntry(scan func(dest ...any) error) (*KnowledgeEntry, error) {
	var entry KnowledgeEntry
	var createdAtStr string

	if err := scan(
		&entry.ID,
		&entry.Question,
		&entry.Answer,
		&entry.Category,
		&entry.Source,
		&entry.SourceURL,
		&createdAtStr,
	); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	entry.CreatedAt = createdAt

	return &entry, nil
}

func collectKnowledgeEntries(rows *sql.Rows) ([]*KnowledgeEntry, error) {
	var entries []*KnowledgeEntry
	for rows.Next() {
		entry, err := scanKnowledgeEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning knowledge row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating knowledge rows: %w", err)
	}
	return entries, nil
}
