// ABOUTME: SQLite-backed store using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema and applies idempotent migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists knowledge entries and turns in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas ride in the DSN so every pooled connection gets them. An Exec
	// would configure only whichever connection it happened to grab, and the
	// rest would hit SQLITE_BUSY instead of waiting during concurrent claims.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS knowledge_base (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			question      TEXT NOT NULL,
			answer        TEXT NOT NULL,
			category      TEXT NOT NULL DEFAULT '',
			source        TEXT NOT NULL DEFAULT '',
			source_url    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			question_norm TEXT NOT NULL DEFAULT '',
			answer_norm   TEXT NOT NULL DEFAULT '',
			category_norm TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_base(category);

		CREATE TABLE IF NOT EXISTS turns (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id      TEXT NOT NULL,
			user_message    TEXT NOT NULL,
			message_buffer  TEXT NOT NULL,
			bot_response    TEXT,
			source          TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			last_message_at TEXT NOT NULL,

			CHECK (status IN ('pending', 'processing', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
		CREATE INDEX IF NOT EXISTS idx_turns_status ON turns(status);
		CREATE INDEX IF NOT EXISTS idx_turns_session_status ON turns(session_id, status);
		CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: early databases stored turns without a session/buffer model
	// and knowledge entries without normalized shadow columns.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		table  string
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('turns') WHERE name = 'session_id'`,
			apply:  `ALTER TABLE turns ADD COLUMN session_id TEXT NOT NULL DEFAULT ''`,
			table:  "turns",
			column: "session_id",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('turns') WHERE name = 'message_buffer'`,
			apply:  `ALTER TABLE turns ADD COLUMN message_buffer TEXT NOT NULL DEFAULT '[]'`,
			table:  "turns",
			column: "message_buffer",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('turns') WHERE name = 'last_message_at'`,
			apply:  `ALTER TABLE turns ADD COLUMN last_message_at TEXT NOT NULL DEFAULT ''`,
			table:  "turns",
			column: "last_message_at",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('knowledge_base') WHERE name = 'question_norm'`,
			apply:  `ALTER TABLE knowledge_base ADD COLUMN question_norm TEXT NOT NULL DEFAULT ''`,
			table:  "knowledge_base",
			column: "question_norm",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('knowledge_base') WHERE name = 'answer_norm'`,
			apply:  `ALTER TABLE knowledge_base ADD COLUMN answer_norm TEXT NOT NULL DEFAULT ''`,
			table:  "knowledge_base",
			column: "answer_norm",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('knowledge_base') WHERE name = 'category_norm'`,
			apply:  `ALTER TABLE knowledge_base ADD COLUMN category_norm TEXT NOT NULL DEFAULT ''`,
			table:  "knowledge_base",
			column: "category_norm",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return s.backfillKnowledgeNorms()
}

// backfillKnowledgeNorms fills the normalized shadow columns for knowledge
// rows written before those columns existed. Folding happens in Go, so this
// cannot be a plain UPDATE. Idempotent: only rows still empty are touched.
func (s *SQLiteStore) backfillKnowledgeNorms() error {
	rows, err := s.db.Query(`
		SELECT id, question, answer, category
		FROM knowledge_base
		WHERE question_norm = '' AND question != ''
	`)
	if err != nil {
		return fmt.Errorf("selecting unnormalized knowledge rows: %w", err)
	}
	defer rows.Close()

	type pending struct {
		id                         int64
		question, answer, category string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.question, &p.answer, &p.category); err != nil {
			return fmt.Errorf("scanning knowledge row: %w", err)
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating knowledge rows: %w", err)
	}

	for _, p := range todo {
		_, err := s.db.Exec(`
			UPDATE knowledge_base
			SET question_norm = ?, answer_norm = ?, category_norm = ?
			WHERE id = ?
		`, NormalizeText(p.question), NormalizeText(p.answer), NormalizeText(p.category), p.id)
		if err != nil {
			return fmt.Errorf("backfilling norm columns for entry %d: %w", p.id, err)
		}
	}
	if len(todo) > 0 {
		s.logger.Info("backfilled normalized knowledge columns", "rows", len(todo))
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
