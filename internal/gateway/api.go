// ABOUTME: HTTP API handlers for agents, conversations, credential exchange and analysis
// ABOUTME: Maps session and store errors onto JSON error responses

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-voice/internal/elevenlabs"
	"github.com/2389/coven-voice/internal/session"
	"github.com/2389/coven-voice/internal/store"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// TokenRequest is the body of POST /api/token
type TokenRequest struct {
	AgentID string `json:"agentId"`
}

// AnalysisRequest is the body of POST /api/analysis
type AnalysisRequest struct {
	ConversationID       string `json:"conversationId"`
	RemoteConversationID string `json:"remoteConversationId"`
}

// CreateAgentRequest is the body of POST /api/agents
type CreateAgentRequest struct {
	Name          string `json:"name"`
	RemoteAgentID string `json:"remote_agent_id"`
	APIKey        string `json:"api_key"`
}

// CreateConversationRequest is the body of POST /api/conversations
type CreateConversationRequest struct {
	AgentID string `json:"agent_id"`
}

// SendMessageRequest is the body of POST /api/conversations/{id}/messages
type SendMessageRequest struct {
	Content string `json:"content"`
}

// AnalysisResponse reports a merged analysis using the upstream field names
type AnalysisResponse struct {
	Summary                   *string                          `json:"summary"`
	CallSuccessful            *store.Outcome                   `json:"call_successful"`
	CallSummaryTitle          *string                          `json:"call_summary_title"`
	EvaluationCriteriaResults map[string]store.CriterionResult `json:"evaluation_criteria_results"`
	DataCollectionResults     map[string]store.CollectedValue  `json:"data_collection_results"`
	AnalysisFetchedAt         *time.Time                       `json:"analysis_fetched_at"`
}

func analysisResponse(p store.AnalysisPatch) AnalysisResponse {
	return AnalysisResponse{
		Summary:                   p.Summary,
		CallSuccessful:            p.Outcome,
		CallSummaryTitle:          p.Title,
		EvaluationCriteriaResults: p.EvaluationResults,
		DataCollectionResults:     p.DataCollection,
		AnalysisFetchedAt:         p.FetchedAt,
	}
}

// ConversationResponse is a conversation with its transcript
type ConversationResponse struct {
	Conversation *store.Conversation `json:"conversation"`
	Messages     []*store.Message    `json:"messages"`
	State        session.State       `json:"state,omitempty"`
	Speaking     bool                `json:"speaking"`
	Unlinkable   bool                `json:"unlinkable"`
	LastError    string              `json:"last_error,omitempty"`
}

func snapshotResponse(s session.Snapshot) ConversationResponse {
	return ConversationResponse{
		Conversation: s.Conversation,
		Messages:     s.Messages,
		State:        s.State,
		Speaking:     s.Speaking,
		Unlinkable:   s.Unlinkable,
		LastError:    s.LastError,
	}
}

// decodeJSON decodes a bounded request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeJSON writes v with the given status
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// sendJSONErrorDetails writes a JSON error response carrying upstream details.
func (g *Gateway) sendJSONErrorDetails(w http.ResponseWriter, status int, message, details string) {
	g.writeJSON(w, status, map[string]string{"error": message, "details": details})
}

// sendUpstreamError reports a failed ElevenLabs call. Upstream statuses are
// passed through with the upstream body as details.
func (g *Gateway) sendUpstreamError(w http.ResponseWriter, message string, err error) bool {
	var apiErr *elevenlabs.APIError
	if errors.As(err, &apiErr) {
		g.sendJSONErrorDetails(w, apiErr.Status, message, apiErr.Body)
		return true
	}
	return false
}

// sendSessionError maps coordinator and reconciler errors onto status codes.
func (g *Gateway) sendSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, session.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrConversationCompleted),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, session.ErrNotLoaded):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrMissingRemoteID):
		g.sendJSONError(w, http.StatusUnprocessableEntity, session.ErrMissingRemoteID.Error())
	case errors.Is(err, session.ErrAnalysisNotReady):
		g.sendJSONError(w, http.StatusNotFound, "Analysis not ready yet")
	case errors.Is(err, session.ErrTimeout):
		g.sendJSONError(w, http.StatusGatewayTimeout, "Upstream request timed out")
	case errors.Is(err, session.ErrConnectFailure), errors.Is(err, session.ErrAnalysisFetch):
		g.sendJSONErrorDetails(w, http.StatusBadGateway, "Upstream request failed", err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendAnalysisError reports a failed analysis pull, passing upstream
// statuses through.
func (g *Gateway) sendAnalysisError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrAnalysisFetch) &&
		g.sendUpstreamError(w, "Failed to fetch conversation analysis from ElevenLabs", err) {
		return
	}
	g.sendSessionError(w, err)
}

// handleToken exchanges an agent id for a signed session URL.
// POST /api/token {agentId} -> {signedUrl}
func (g *Gateway) handleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "Agent ID is required")
		return
	}

	ctx := r.Context()
	if timeout := g.config.Session.CredentialTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cred, err := g.credentials.Exchange(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Agent not found")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			g.logger.Warn("credential exchange timed out", "agent_id", req.AgentID, "error", err)
			g.sendJSONError(w, http.StatusGatewayTimeout, "Timed out getting conversation token from ElevenLabs")
			return
		}
		if g.sendUpstreamError(w, "Failed to get conversation token from ElevenLabs", err) {
			return
		}
		g.logger.Error("credential exchange failed", "agent_id", req.AgentID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"signedUrl": cred.SignedURL})
}

// handleAnalysis pulls analysis for a conversation and merges it.
// POST /api/analysis {conversationId, remoteConversationId}
func (g *Gateway) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "Conversation ID is required")
		return
	}

	patch, err := g.reconciler.Pull(r.Context(), req.ConversationID, req.RemoteConversationID)
	if err != nil {
		g.sendAnalysisError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"analysis": analysisResponse(patch),
	})
}

// handleListAgents returns every configured agent. API keys are never serialized.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.logger.Error("failed to list agents", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.RemoteAgentID == "" || req.APIKey == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name, remote_agent_id and api_key are required")
		return
	}

	agent := &store.Agent{Name: req.Name, RemoteAgentID: req.RemoteAgentID, APIKey: req.APIKey}
	if err := g.store.CreateAgent(r.Context(), agent); err != nil {
		g.logger.Error("failed to create agent", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.logger.Info("agent created", "agent_id", agent.ID, "name", agent.Name)
	g.writeJSON(w, http.StatusCreated, agent)
}

func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := g.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Agent not found")
			return
		}
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, agent)
}

func (g *Gateway) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := g.store.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Agent not found")
			return
		}
		g.logger.Error("failed to delete agent", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations lists conversations newest first.
// GET /api/conversations?agent_id=...&limit=...
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	convs, err := g.store.ListConversations(r.Context(), r.URL.Query().Get("agent_id"), limit)
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// handleCreateConversation creates an active conversation for an agent.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	conv := &store.Conversation{AgentID: req.AgentID, StartedAt: g.now().UTC(), Status: store.StatusActive}
	if err := g.store.CreateConversation(r.Context(), conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Agent not found")
			return
		}
		g.logger.Error("failed to create conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.logger.Info("conversation created", "conversation_id", conv.ID, "agent_id", conv.AgentID)
	g.writeJSON(w, http.StatusCreated, conv)
}

// handleGetConversation returns a conversation and its transcript. A live
// coordinator's view is preferred since it includes session state.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if c, ok := g.registry.Lookup(id); ok {
		g.writeJSON(w, http.StatusOK, snapshotResponse(c.Snapshot()))
		return
	}

	conv, err := g.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	msgs, err := g.store.ListMessages(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to list messages", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}

	resp := ConversationResponse{
		Conversation: conv,
		Messages:     msgs,
		Unlinkable:   conv.Completed() && conv.RemoteSessionID == "",
	}
	if conv.Completed() {
		resp.State = session.StateCompleted
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleStartConversation opens the voice session for a conversation.
func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	c, err := g.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendSessionError(w, err)
		return
	}
	if err := c.Start(r.Context()); err != nil {
		if g.sendUpstreamError(w, "Failed to get conversation token from ElevenLabs", err) {
			return
		}
		g.sendSessionError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, snapshotResponse(c.Snapshot()))
}

// handleSendMessage records a typed user message and forwards it to the session.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := g.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendSessionError(w, err)
		return
	}
	msg, err := c.SendUserMessage(r.Context(), req.Content)
	if err != nil {
		g.sendSessionError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, msg)
}

// handleEndConversation terminates the session and finalizes the record.
func (g *Gateway) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := g.registry.Get(r.Context(), id)
	if err != nil {
		g.sendSessionError(w, err)
		return
	}
	if err := c.End(r.Context()); err != nil {
		// The coordinator stays registered so the end can be retried
		g.sendSessionError(w, err)
		return
	}
	snap := c.Snapshot()
	if err := g.registry.Release(r.Context(), id); err != nil {
		g.logger.Warn("failed to release coordinator", "conversation_id", id, "error", err)
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"conversation": snap.Conversation,
		"unlinkable":   snap.Unlinkable,
	})
}

// handleRefreshAnalysis pulls analysis through the conversation's coordinator.
func (g *Gateway) handleRefreshAnalysis(w http.ResponseWriter, r *http.Request) {
	c, err := g.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendSessionError(w, err)
		return
	}
	patch, err := c.RefreshAnalysis(r.Context())
	if err != nil {
		g.sendAnalysisError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"analysis":     analysisResponse(patch),
		"conversation": c.Snapshot().Conversation,
	})
}

// handleWebhook applies analysis pushed by ElevenLabs after a call.
// POST /webhooks/elevenlabs
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "could not read body")
		return
	}

	if secret := g.config.ElevenLabs.WebhookSecret; secret != "" {
		if err := elevenlabs.VerifySignature(secret, r.Header.Get(elevenlabs.SignatureHeader), body, g.now()); err != nil {
			g.logger.Warn("rejected webhook", "error", err)
			g.sendJSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	ev, err := elevenlabs.ParseWebhook(body)
	if err != nil {
		if errors.Is(err, elevenlabs.ErrMissingConversationID) {
			g.sendJSONError(w, http.StatusBadRequest, "Missing conversation_id")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := g.reconciler.ApplyPush(r.Context(), ev.ConversationID, ev.Patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Info("webhook for unknown conversation", "remote_session_id", ev.ConversationID)
			g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		g.logger.Error("failed to apply webhook", "remote_session_id", ev.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "Failed to update conversation")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Analysis updated",
		"conversation_id": id,
	})
}

// formatSSEEvent formats an SSE event with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = io.WriteString(w, formatSSEEvent(event, string(dataJSON)))
}
