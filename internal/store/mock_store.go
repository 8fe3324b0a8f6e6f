// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the same row-level semantics

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	agents        map[string]*Agent
	conversations map[string]*Conversation
	remoteIndex   map[string]string     // remote session id -> conversation ID
	messages      map[string][]*Message // keyed by conversation ID

	// failure injection for tests
	appendErr   error
	finalizeErr error
	pingErr     error
	appendCalls int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:        make(map[string]*Agent),
		conversations: make(map[string]*Conversation),
		remoteIndex:   make(map[string]string),
		messages:      make(map[string][]*Message),
	}
}

// CreateAgent stores a new agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if _, exists := m.agents[agent.ID]; exists {
		return fmt.Errorf("agent %s already exists", agent.ID)
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = now
	}

	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

// ListAgents returns all agents ordered by name.
func (m *MockStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateAgent replaces an agent's mutable fields.
func (m *MockStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.agents[agent.ID]
	if !ok {
		return ErrNotFound
	}
	agent.UpdatedAt = time.Now().UTC()
	agent.CreatedAt = existing.CreatedAt
	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// DeleteAgent removes an agent and its conversations.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	for convID, c := range m.conversations {
		if c.AgentID != id {
			continue
		}
		if c.RemoteSessionID != "" {
			delete(m.remoteIndex, c.RemoteSessionID)
		}
		delete(m.messages, convID)
		delete(m.conversations, convID)
	}
	return nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[conv.AgentID]; !ok {
		return fmt.Errorf("agent %s: %w", conv.AgentID, ErrNotFound)
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if _, exists := m.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	if conv.RemoteSessionID != "" {
		if _, taken := m.remoteIndex[conv.RemoteSessionID]; taken {
			return ErrRemoteIDConflict
		}
	}
	if conv.StartedAt.IsZero() {
		conv.StartedAt = time.Now().UTC()
	}
	if conv.Status == "" {
		conv.Status = StatusActive
	}

	c := conv.Clone()
	m.conversations[c.ID] = c
	if c.RemoteSessionID != "" {
		m.remoteIndex[c.RemoteSessionID] = c.ID
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// GetConversationByRemoteID retrieves the conversation owning a remote session id.
func (m *MockStore) GetConversationByRemoteID(ctx context.Context, remoteID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.remoteIndex[remoteID]
	if !ok || remoteID == "" {
		return nil, ErrNotFound
	}
	return m.conversations[id].Clone(), nil
}

// ListConversations returns conversations newest first.
func (m *MockStore) ListConversations(ctx context.Context, agentID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var out []*Conversation
	for _, c := range m.conversations {
		if agentID != "" && c.AgentID != agentID {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetRemoteSessionID links a conversation to its remote session once.
func (m *MockStore) SetRemoteSessionID(ctx context.Context, id, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remoteID == "" {
		return errors.New("remote session id is required")
	}
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.RemoteSessionID == remoteID {
		return nil
	}
	if c.RemoteSessionID != "" {
		return ErrRemoteIDConflict
	}
	if _, taken := m.remoteIndex[remoteID]; taken {
		return ErrRemoteIDConflict
	}
	c.RemoteSessionID = remoteID
	m.remoteIndex[remoteID] = id
	return nil
}

// FinalizeConversation completes an active conversation.
func (m *MockStore) FinalizeConversation(ctx context.Context, id string, endedAt time.Time, summary string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalizeErr != nil {
		return false, m.finalizeErr
	}
	c, ok := m.conversations[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != StatusActive {
		return false, nil
	}
	t := endedAt.UTC()
	c.EndedAt = &t
	c.Status = StatusCompleted
	if c.Summary == nil {
		s := summary
		c.Summary = &s
	}
	return true, nil
}

// MergeAnalysis overlays the patch onto a conversation.
func (m *MockStore) MergeAnalysis(ctx context.Context, id string, patch AnalysisPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	patch.ApplyTo(c)
	return nil
}

// MergeAnalysisByRemoteID overlays the patch onto the conversation owning remoteID.
func (m *MockStore) MergeAnalysisByRemoteID(ctx context.Context, remoteID string, patch AnalysisPatch) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.remoteIndex[remoteID]
	if !ok || remoteID == "" {
		return "", ErrNotFound
	}
	patch.ApplyTo(m.conversations[id])
	return id, nil
}

// AppendMessage stores a message with a generated ID.
func (m *MockStore) AppendMessage(ctx context.Context, conversationID string, role Role, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendCalls++
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	ts := time.Now().UTC()
	// Keep timestamps non-decreasing even on coarse clocks
	if msgs := m.messages[conversationID]; len(msgs) > 0 && ts.Before(msgs[len(msgs)-1].Timestamp) {
		ts = msgs[len(msgs)-1].Timestamp
	}
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      ts,
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)

	out := *msg
	return &out, nil
}

// ListMessages returns a conversation's messages oldest first.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// AppendCalls returns how many times AppendMessage was invoked.
func (m *MockStore) AppendCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appendCalls
}

// FailAppends makes AppendMessage return err until called again with nil.
func (m *MockStore) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// FailFinalize makes FinalizeConversation return err until called again with nil.
func (m *MockStore) FailFinalize(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeErr = err
}

// FailPing makes Ping return err until called again with nil.
func (m *MockStore) FailPing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// Ping reports the injected ping failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
