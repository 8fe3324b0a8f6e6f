// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent, conversation and transcript persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")
	o := buildOptions(opts)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps per-connection pragmas in force and makes
	// ":memory:" databases visible to every caller.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{sqlStore{
		db:       db,
		sealer:   o.sealer,
		logger:   logger,
		conflict: isConstraintViolation,
		missing:  isForeignKeyViolation,
	}}

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
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			remote_agent_id TEXT NOT NULL,
			api_key TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			remote_session_id TEXT,
			summary TEXT,
			call_outcome TEXT,
			call_title TEXT,
			evaluation_results TEXT,
			data_collection TEXT,
			analysis_fetched_at TEXT,

			CHECK (status IN ('active', 'completed'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent
			ON conversations(agent_id, started_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,

			CHECK (role IN ('user', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
			ON messages(conversation_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Analysis columns arrived after the first schema; older databases lack them.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		column string
		apply  string
	}{
		{column: "remote_session_id", apply: `ALTER TABLE conversations ADD COLUMN remote_session_id TEXT`},
		{column: "call_outcome", apply: `ALTER TABLE conversations ADD COLUMN call_outcome TEXT`},
		{column: "call_title", apply: `ALTER TABLE conversations ADD COLUMN call_title TEXT`},
		{column: "evaluation_results", apply: `ALTER TABLE conversations ADD COLUMN evaluation_results TEXT`},
		{column: "data_collection", apply: `ALTER TABLE conversations ADD COLUMN data_collection TEXT`},
		{column: "analysis_fetched_at", apply: `ALTER TABLE conversations ADD COLUMN analysis_fetched_at TEXT`},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('conversations') WHERE name = ?`, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to conversations: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "conversations")
	}

	// Depends on remote_session_id, which legacy tables may only just have gained
	if _, err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_remote
			ON conversations(remote_session_id) WHERE remote_session_id IS NOT NULL
	`); err != nil {
		return fmt.Errorf("creating remote session index: %w", err)
	}

	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports a reference to a missing parent row
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

