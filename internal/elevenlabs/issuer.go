// ABOUTME: Adapters that expose the ElevenLabs client through the session contracts
// ABOUTME: Agent API keys are looked up per call so coordinators never hold them

package elevenlabs

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-voice/internal/session"
	"github.com/2389/coven-voice/internal/store"
)

// AgentLookup resolves a local agent id to its stored record
type AgentLookup interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
}

// TokenIssuer implements session.CredentialExchange
type TokenIssuer struct {
	agents AgentLookup
	client *Client
}

// NewTokenIssuer creates a credential exchange backed by client
func NewTokenIssuer(agents AgentLookup, client *Client) *TokenIssuer {
	return &TokenIssuer{agents: agents, client: client}
}

// Exchange returns a signed websocket URL for the agent. A missing agent
// returns an error wrapping store.ErrNotFound.
func (t *TokenIssuer) Exchange(ctx context.Context, agentID string) (session.Credential, error) {
	agent, err := t.agents.GetAgent(ctx, agentID)
	if err != nil {
		return session.Credential{}, fmt.Errorf("looking up agent %s: %w", agentID, err)
	}
	signed, err := t.client.SignedURL(ctx, agent.APIKey, agent.RemoteAgentID)
	if err != nil {
		return session.Credential{}, err
	}
	return session.Credential{SignedURL: signed}, nil
}

// AnalysisFetcher implements session.AnalysisSource
type AnalysisFetcher struct {
	agents AgentLookup
	client *Client
}

// NewAnalysisFetcher creates an analysis source backed by client
func NewAnalysisFetcher(agents AgentLookup, client *Client) *AnalysisFetcher {
	return &AnalysisFetcher{agents: agents, client: client}
}

// FetchAnalysis pulls and parses the analysis for remoteID. The patch carries
// no FetchedAt; callers stamp it when merging.
func (f *AnalysisFetcher) FetchAnalysis(ctx context.Context, agentID, remoteID string) (store.AnalysisPatch, error) {
	agent, err := f.agents.GetAgent(ctx, agentID)
	if err != nil {
		return store.AnalysisPatch{}, fmt.Errorf("looking up agent %s: %w", agentID, err)
	}

	details, err := f.client.Conversation(ctx, agent.APIKey, remoteID)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return store.AnalysisPatch{}, fmt.Errorf("%w: %w", session.ErrAnalysisNotReady, err)
		}
		return store.AnalysisPatch{}, fmt.Errorf("%w: %w", session.ErrAnalysisFetch, err)
	}
	if !details.HasAnalysis() {
		return store.AnalysisPatch{}, fmt.Errorf("%w: conversation %s is %s", session.ErrAnalysisNotReady, remoteID, details.Status)
	}

	patch, err := ParseAnalysis(details.Analysis)
	if err != nil {
		return store.AnalysisPatch{}, fmt.Errorf("%w: %w", session.ErrAnalysisFetch, err)
	}
	return patch, nil
}

var (
	_ session.CredentialExchange = (*TokenIssuer)(nil)
	_ session.AnalysisSource     = (*AnalysisFetcher)(nil)
)
