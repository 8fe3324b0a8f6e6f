// Package store provides persistent storage for coven-voice.
//
// # Architecture
//
// The Store interface is composed of three narrower interfaces so consumers
// can depend on only what they use:
//
//   - AgentStore: agent records managed by the settings surface
//   - ConversationStore: conversation records, remote-session linking, finalization and analysis merges
//   - TranscriptStore: the append-only message log
//
// SQLiteStore and PostgresStore share one query layer over database/sql and
// differ only in setup, placeholder syntax and constraint error detection.
// MockStore is an in-memory implementation with the same row-level rules.
//
// # Concurrency
//
// The conversation row is the unit of concurrency. Every rule that must hold
// under concurrent writers is enforced by a conditional UPDATE:
//
//   - Finalization only matches rows WHERE status = 'active', so the first
//     finalizer wins and later calls report false.
//   - Remote-session linking only matches rows whose remote_session_id is NULL
//     or already equal, so an id is never replaced.
//   - Analysis merges only SET the fields present in the patch, so a push and
//     a pull touching different fields never clobber each other.
//
// # Data Models
//
//   - Agent: remote agent id plus an API key, optionally sealed at rest
//   - Conversation: lifecycle record with summary and call analysis
//   - Message: one utterance, ordered by timestamp then insertion sequence
//   - AnalysisPatch: a partial analysis update where nil means untouched
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Schema is created on open; columns added after the first release are
// applied by idempotent migrations that check pragma_table_info first.
//
// # Postgres
//
// NewPostgresStore opens a pgx pool and applies the embedded goose
// migrations in internal/store/migrations.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrRemoteIDConflict: a different remote-session id is already linked
//   - ErrUnseal: a sealed API key could not be opened with the configured key
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(t.TempDir()+"/test.db")
// for integration tests with real SQLite.
package store
