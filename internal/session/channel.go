// ABOUTME: Contracts the coordinator consumes: credential exchange, channel dialing and analysis
// ABOUTME: Channel events are delivered over a Go channel and consumed by a single pump goroutine

package session

import (
	"context"

	"github.com/2389/coven-voice/internal/store"
)

// EventType identifies a session channel event
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventMessage    EventType = "message"
	EventMode       EventType = "mode"
	EventError      EventType = "error"
)

// Source is the speaker label the remote service attaches to a message
type Source string

const (
	SourceAI   Source = "ai"
	SourceUser Source = "user"
)

// Role maps a remote speaker label onto a transcript role.
// ok is false for labels the transcript does not record.
func (s Source) Role() (role store.Role, ok bool) {
	switch s {
	case SourceAI:
		return store.RoleAgent, true
	case SourceUser:
		return store.RoleUser, true
	default:
		return "", false
	}
}

// Event is one notification from a session channel.
// Connect may carry the remote session id; Message carries Source and Text;
// Mode carries Speaking; Error carries Err.
type Event struct {
	Type            EventType
	Source          Source
	Text            string
	RemoteSessionID string
	Speaking        bool
	Err             error
}

// Credential is a short-lived grant to open one session channel
type Credential struct {
	SignedURL string
}

// CredentialExchange trades an agent id for a channel credential.
// The agent's API key never leaves the implementation.
type CredentialExchange interface {
	Exchange(ctx context.Context, agentID string) (Credential, error)
}

// Dialer opens a session channel from a credential
type Dialer interface {
	Dial(ctx context.Context, cred Credential) (Channel, error)
}

// Channel is a live bidirectional session with the remote service.
// Events is closed after the final event has been delivered.
type Channel interface {
	Events() <-chan Event
	SendText(ctx context.Context, text string) error
	RemoteSessionID() string
	Close(ctx context.Context) error
}

// AnalysisSource pulls post-call analysis for a remote session.
// Implementations return errors wrapping ErrAnalysisNotReady when the remote
// service has nothing yet and ErrAnalysisFetch for other upstream failures.
type AnalysisSource interface {
	FetchAnalysis(ctx context.Context, agentID, remoteSessionID string) (store.AnalysisPatch, error)
}

// Store is the persistence surface the coordinator needs
type Store interface {
	store.ConversationStore
	store.TranscriptStore
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
}
