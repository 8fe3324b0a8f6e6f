// ABOUTME: Query layer shared by the SQLite and Postgres stores over database/sql
// ABOUTME: Row-level conditional updates carry the finalize and remote-id linking rules

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sqlStore holds every query; engines differ only in setup, bind syntax and error codes
type sqlStore struct {
	db       *sql.DB
	sealer   Sealer
	logger   *slog.Logger
	numbered bool // $1-style placeholders

	conflict func(error) bool // unique violation
	missing  func(error) bool // foreign key violation
}

// rebind rewrites ? placeholders for engines that use numbered parameters
func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Ping checks the database connection
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

// CreateAgent inserts a new agent. An empty ID is filled with a UUID.
func (s *sqlStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = now
	}

	sealed, err := s.sealer.Seal(agent.APIKey)
	if err != nil {
		return fmt.Errorf("sealing api key: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO agents (id, name, remote_agent_id, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, agent.RemoteAgentID, sealed, formatTime(agent.CreatedAt), formatTime(agent.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "name", agent.Name)
	return nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *sqlStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.queryRow(ctx, `
		SELECT id, name, remote_agent_id, api_key, created_at, updated_at
		FROM agents
		WHERE id = ?
	`, id)

	agent, err := s.scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents ordered by name
func (s *sqlStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.query(ctx, `
		SELECT id, name, remote_agent_id, api_key, created_at, updated_at
		FROM agents
		ORDER BY name ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := s.scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// UpdateAgent replaces the mutable fields of an agent.
// Returns ErrNotFound if the agent doesn't exist.
func (s *sqlStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	sealed, err := s.sealer.Seal(agent.APIKey)
	if err != nil {
		return fmt.Errorf("sealing api key: %w", err)
	}

	result, err := s.exec(ctx, `
		UPDATE agents
		SET name = ?, remote_agent_id = ?, api_key = ?, updated_at = ?
		WHERE id = ?
	`, agent.Name, agent.RemoteAgentID, sealed, formatTime(agent.UpdatedAt), agent.ID)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return requireRow(result)
}

// DeleteAgent removes an agent and, by cascade, its conversations
func (s *sqlStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var sealed, createdAtStr, updatedAtStr string
	if err := row.Scan(&agent.ID, &agent.Name, &agent.RemoteAgentID, &sealed, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	agent.APIKey, err = s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("opening api key for agent %s: %w", agent.ID, err)
	}
	agent.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	agent.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &agent, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateConversation inserts a new conversation record.
// Empty ID, StartedAt and Status are defaulted.
func (s *sqlStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.StartedAt.IsZero() {
		conv.StartedAt = time.Now().UTC()
	}
	if conv.Status == "" {
		conv.Status = StatusActive
	}

	args, err := insertConversationArgs(conv)
	if err != nil {
		return err
	}

	query := `INSERT INTO conversations (` + conversationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.exec(ctx, query, args...); err != nil {
		if s.missing(err) {
			return fmt.Errorf("agent %s: %w", conv.AgentID, ErrNotFound)
		}
		if s.conflict(err) && conv.RemoteSessionID != "" {
			return ErrRemoteIDConflict
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "agent_id", conv.AgentID)
	return nil
}

// GetConversation retrieves a conversation by local ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *sqlStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.getConversation(ctx, `WHERE id = ?`, id)
}

// GetConversationByRemoteID retrieves the conversation linked to a remote-session id.
// Returns ErrNotFound if no conversation carries that id yet.
func (s *sqlStore) GetConversationByRemoteID(ctx context.Context, remoteID string) (*Conversation, error) {
	if remoteID == "" {
		return nil, ErrNotFound
	}
	return s.getConversation(ctx, `WHERE remote_session_id = ?`, remoteID)
}

func (s *sqlStore) getConversation(ctx context.Context, where string, arg any) (*Conversation, error) {
	var row conversationRow
	err := s.queryRow(ctx, `SELECT `+conversationColumns+` FROM conversations `+where, arg).Scan(row.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return row.toConversation()
}

// ListConversations returns conversations newest first. An empty agentID lists all agents.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *sqlStore) ListConversations(ctx context.Context, agentID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var row conversationRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conv, err := row.toConversation()
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// SetRemoteSessionID links a conversation to its remote-session id exactly once
func (s *sqlStore) SetRemoteSessionID(ctx context.Context, id, remoteID string) error {
	if remoteID == "" {
		return errors.New("remote session id is required")
	}

	result, err := s.exec(ctx, `
		UPDATE conversations
		SET remote_session_id = ?
		WHERE id = ? AND (remote_session_id IS NULL OR remote_session_id = ?)
	`, remoteID, id, remoteID)
	if err != nil {
		if s.conflict(err) {
			return ErrRemoteIDConflict
		}
		return fmt.Errorf("setting remote session id: %w", err)
	}

	if err := requireRow(result); errors.Is(err, ErrNotFound) {
		// Either the row is missing or it already carries another id
		if _, getErr := s.GetConversation(ctx, id); getErr != nil {
			return getErr
		}
		return ErrRemoteIDConflict
	} else if err != nil {
		return err
	}

	s.logger.Debug("linked remote session", "id", id, "remote_session_id", remoteID)
	return nil
}

// FinalizeConversation completes an active conversation in a single update
func (s *sqlStore) FinalizeConversation(ctx context.Context, id string, endedAt time.Time, summary string) (bool, error) {
	result, err := s.exec(ctx, `
		UPDATE conversations
		SET ended_at = ?, status = 'completed', summary = COALESCE(summary, ?)
		WHERE id = ? AND status = 'active'
	`, formatTime(endedAt), summary, id)
	if err != nil {
		return false, fmt.Errorf("finalizing conversation: %w", err)
	}

	if err := requireRow(result); errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetConversation(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	} else if err != nil {
		return false, err
	}

	s.logger.Debug("finalized conversation", "id", id)
	return true, nil
}

// MergeAnalysis overlays the non-nil patch fields onto a conversation
func (s *sqlStore) MergeAnalysis(ctx context.Context, id string, patch AnalysisPatch) error {
	sets, args, err := patchAssignments(patch)
	if err != nil {
		return err
	}
	if sets == "" {
		_, err := s.GetConversation(ctx, id)
		return err
	}

	args = append(args, id)
	result, err := s.exec(ctx, `UPDATE conversations SET `+sets+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("merging analysis: %w", err)
	}
	return requireRow(result)
}

// MergeAnalysisByRemoteID overlays the patch onto the conversation linked to remoteID
func (s *sqlStore) MergeAnalysisByRemoteID(ctx context.Context, remoteID string, patch AnalysisPatch) (string, error) {
	conv, err := s.GetConversationByRemoteID(ctx, remoteID)
	if err != nil {
		return "", err
	}
	if err := s.MergeAnalysis(ctx, conv.ID, patch); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// AppendMessage stores a message with a generated id and the current time
func (s *sqlStore) AppendMessage(ctx context.Context, conversationID string, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}

	_, err := s.exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, formatTime(msg.Timestamp))
	if err != nil {
		if s.missing(err) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", conversationID, "role", role)
	return msg, nil
}

// ListMessages returns all messages for a conversation in chronological order
func (s *sqlStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.query(ctx, `
		SELECT id, conversation_id, role, content, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var role, ts string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Role = Role(role)
		msg.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
