// ABOUTME: Server-sent event stream of live coordinator updates for one conversation
// ABOUTME: Sends a snapshot first, then state, message and conversation updates with heartbeats

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/2389/coven-voice/internal/session"
	"github.com/2389/coven-voice/internal/store"
)

// sseHeartbeatInterval keeps idle proxies from closing the stream
var sseHeartbeatInterval = 30 * time.Second

// conversationView returns the live snapshot when a coordinator exists and a
// store-backed view otherwise.
func (g *Gateway) conversationView(ctx context.Context, id string) (ConversationResponse, error) {
	if c, ok := g.registry.Lookup(id); ok {
		return snapshotResponse(c.Snapshot()), nil
	}

	conv, err := g.store.GetConversation(ctx, id)
	if err != nil {
		return ConversationResponse{}, err
	}
	msgs, err := g.store.ListMessages(ctx, id)
	if err != nil {
		return ConversationResponse{}, err
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}

	resp := ConversationResponse{
		Conversation: conv,
		Messages:     msgs,
		State:        session.StateIdle,
	}
	if conv.Completed() {
		resp.State = session.StateCompleted
		resp.Unlinkable = conv.RemoteSessionID == ""
	}
	return resp, nil
}

// handleConversationEvents streams updates for a conversation.
// GET /api/conversations/{id}/events
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	view, err := g.conversationView(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		g.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Subscribe before writing the snapshot so no update falls in between
	updates, _ := g.registry.Broadcaster().Subscribe(r.Context(), id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "snapshot", view)
	flusher.Flush()

	g.streamUpdates(r.Context(), w, flusher, updates)
}

// streamUpdates writes one SSE event per update until the client goes away
// or the broadcaster shuts down.
func (g *Gateway) streamUpdates(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, updates <-chan *session.Update) {
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-g.closing:
			return

		case <-heartbeat.C:
			g.writeSSEEvent(w, "heartbeat", map[string]string{"at": g.now().UTC().Format(time.RFC3339)})
			flusher.Flush()

		case u, ok := <-updates:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(u.Type), u)
			flusher.Flush()
		}
	}
}
