// ABOUTME: Store interface and data types for coven-voice persistence
// ABOUTME: Defines Agent, Conversation, Message, analysis patches and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrRemoteIDConflict is returned when a conversation already carries a different
// remote-session id, or another conversation already owns the requested one.
var ErrRemoteIDConflict = errors.New("remote session id already set")

// Role identifies who produced a message
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// Status is the lifecycle status of a conversation record
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Outcome is the remote service's verdict on a call.
// The zero value means no verdict has been recorded.
type Outcome string

const (
	OutcomeAbsent  Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// ParseOutcome normalizes a remote verdict. Unrecognized values map to OutcomeUnknown.
func ParseOutcome(s string) Outcome {
	switch Outcome(s) {
	case OutcomeAbsent:
		return OutcomeAbsent
	case OutcomeSuccess, OutcomeFailure, OutcomeUnknown:
		return Outcome(s)
	default:
		return OutcomeUnknown
	}
}

// Agent is a configured voice persona backed by the remote conversational service.
// RemoteAgentID and APIKey are opaque and never validated locally.
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RemoteAgentID string    `json:"remote_agent_id"`
	APIKey        string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CriterionResult is one evaluation criterion outcome from call analysis
type CriterionResult struct {
	CriteriaID string `json:"criteria_id,omitempty"`
	Result     string `json:"result"`
	Rationale  string `json:"rationale"`
}

// CollectedValue is one free-form data collection result from call analysis
type CollectedValue struct {
	DataCollectionID string `json:"data_collection_id,omitempty"`
	Value            any    `json:"value"`
	Rationale        string `json:"rationale,omitempty"`
}

// Analysis holds the post-call analytics attached to a conversation
type Analysis struct {
	Outcome           Outcome                    `json:"outcome,omitempty"`
	Title             *string                    `json:"title"`
	EvaluationResults map[string]CriterionResult `json:"evaluation_results,omitempty"`
	DataCollection    map[string]CollectedValue  `json:"data_collection,omitempty"`
	FetchedAt         *time.Time                 `json:"fetched_at"`
}

// Conversation is one session between an operator and an Agent.
// EndedAt and Summary are set together on finalization; Status only moves
// from active to completed; RemoteSessionID is never replaced once set.
type Conversation struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	Status          Status     `json:"status"`
	RemoteSessionID string     `json:"remote_session_id,omitempty"` // empty until the session channel reports it
	Summary         *string    `json:"summary"`
	Analysis        Analysis   `json:"analysis"`
}

// Completed reports whether the conversation has been finalized
func (c *Conversation) Completed() bool {
	return c.Status == StatusCompleted
}

// Clone returns a deep copy so callers can hand snapshots out safely
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.Summary != nil {
		s := *c.Summary
		out.Summary = &s
	}
	if c.Analysis.Title != nil {
		s := *c.Analysis.Title
		out.Analysis.Title = &s
	}
	if c.Analysis.FetchedAt != nil {
		t := *c.Analysis.FetchedAt
		out.Analysis.FetchedAt = &t
	}
	if c.Analysis.EvaluationResults != nil {
		out.Analysis.EvaluationResults = make(map[string]CriterionResult, len(c.Analysis.EvaluationResults))
		for k, v := range c.Analysis.EvaluationResults {
			out.Analysis.EvaluationResults[k] = v
		}
	}
	if c.Analysis.DataCollection != nil {
		out.Analysis.DataCollection = make(map[string]CollectedValue, len(c.Analysis.DataCollection))
		for k, v := range c.Analysis.DataCollection {
			out.Analysis.DataCollection[k] = v
		}
	}
	return &out
}

// Message is one utterance in a conversation transcript
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// AnalysisPatch is a partial analysis update. A nil field is left untouched,
// so two writers that touch different fields never clobber each other.
type AnalysisPatch struct {
	Summary           *string
	Outcome           *Outcome
	Title             *string
	EvaluationResults map[string]CriterionResult
	DataCollection    map[string]CollectedValue
	FetchedAt         *time.Time
}

// Empty reports whether the patch would change nothing
func (p AnalysisPatch) Empty() bool {
	return p.Summary == nil && p.Outcome == nil && p.Title == nil &&
		p.EvaluationResults == nil && p.DataCollection == nil && p.FetchedAt == nil
}

// WithFetchedAt returns a copy of the patch stamped with the given time
func (p AnalysisPatch) WithFetchedAt(t time.Time) AnalysisPatch {
	t = t.UTC()
	p.FetchedAt = &t
	return p
}

// ApplyTo overlays the non-nil fields of the patch onto c
func (p AnalysisPatch) ApplyTo(c *Conversation) {
	if p.Summary != nil {
		s := *p.Summary
		c.Summary = &s
	}
	if p.Outcome != nil {
		c.Analysis.Outcome = *p.Outcome
	}
	if p.Title != nil {
		s := *p.Title
		c.Analysis.Title = &s
	}
	if p.EvaluationResults != nil {
		c.Analysis.EvaluationResults = make(map[string]CriterionResult, len(p.EvaluationResults))
		for k, v := range p.EvaluationResults {
			c.Analysis.EvaluationResults[k] = v
		}
	}
	if p.DataCollection != nil {
		c.Analysis.DataCollection = make(map[string]CollectedValue, len(p.DataCollection))
		for k, v := range p.DataCollection {
			c.Analysis.DataCollection[k] = v
		}
	}
	if p.FetchedAt != nil {
		t := *p.FetchedAt
		c.Analysis.FetchedAt = &t
	}
}

// AgentStore holds agent records managed by the settings surface
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id string) error
}

// ConversationStore holds conversation records
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByRemoteID(ctx context.Context, remoteID string) (*Conversation, error)
	ListConversations(ctx context.Context, agentID string, limit int) ([]*Conversation, error)

	// SetRemoteSessionID stores the remote id once. Setting the same value again
	// is a no-op; a different value returns ErrRemoteIDConflict.
	SetRemoteSessionID(ctx context.Context, id, remoteID string) error

	// FinalizeConversation sets ended_at, status and summary in one update.
	// An existing summary is kept. Returns false if the conversation was
	// already completed.
	FinalizeConversation(ctx context.Context, id string, endedAt time.Time, summary string) (bool, error)

	MergeAnalysis(ctx context.Context, id string, patch AnalysisPatch) error

	// MergeAnalysisByRemoteID applies a patch to the conversation owning remoteID
	// and returns its local id. Returns ErrNotFound when no conversation matches.
	MergeAnalysisByRemoteID(ctx context.Context, remoteID string, patch AnalysisPatch) (string, error)
}

// TranscriptStore is the append-only message log
type TranscriptStore interface {
	// AppendMessage stores a message with a store-assigned id and timestamp
	AppendMessage(ctx context.Context, conversationID string, role Role, content string) (*Message, error)

	// ListMessages returns a conversation's messages, oldest first
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
}

// Store is the full persistence surface
type Store interface {
	AgentStore
	ConversationStore
	TranscriptStore

	// Ping checks the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
