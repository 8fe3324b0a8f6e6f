// ABOUTME: Tests for transcript rendering
// ABOUTME: Checks markdown layout and the HTML page served for a conversation

package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-voice/internal/store"
)

func TestTranscriptMarkdown(t *testing.T) {
	started := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	ended := started.Add(5 * time.Minute)
	summary := "User asked 1 question. Total of 2 messages exchanged."
	title := "Opening hours"

	conv := &store.Conversation{
		ID:        "conv-1",
		StartedAt: started,
		EndedAt:   &ended,
		Status:    store.StatusCompleted,
		Summary:   &summary,
		Analysis: store.Analysis{
			Outcome: store.OutcomeSuccess,
			Title:   &title,
			EvaluationResults: map[string]store.CriterionResult{
				"polite": {Result: "success", Rationale: "greeted the caller"},
			},
			DataCollection: map[string]store.CollectedValue{
				"party_size": {Value: float64(2)},
			},
		},
	}
	msgs := []*store.Message{
		{Role: store.RoleUser, Content: "When do you open?", Timestamp: started},
		{Role: store.RoleAgent, Content: "At nine.\n# not a heading", Timestamp: started.Add(time.Second)},
	}

	md := TranscriptMarkdown(conv, "Front desk", msgs)

	assert.True(t, strings.HasPrefix(md, "# Opening hours\n"))
	assert.Contains(t, md, "- **Agent:** Front desk")
	assert.Contains(t, md, "- **Outcome:** success")
	assert.Contains(t, md, "## Summary\n\n"+summary)
	assert.Contains(t, md, "- **polite:** success (greeted the caller)")
	assert.Contains(t, md, "- **party_size:** 2")
	assert.Contains(t, md, "> When do you open?")
	assert.Contains(t, md, "> # not a heading")
	assert.Less(t, strings.Index(md, "**User**"), strings.Index(md, "**Agent**"))
}

func TestTranscriptMarkdownEmpty(t *testing.T) {
	conv := &store.Conversation{ID: "conv-2", StartedAt: time.Now(), Status: store.StatusActive}
	md := TranscriptMarkdown(conv, "", nil)

	assert.True(t, strings.HasPrefix(md, "# Conversation conv-2\n"))
	assert.Contains(t, md, "_No messages._")
	assert.NotContains(t, md, "## Summary")
}

func TestHandleTranscript(t *testing.T) {
	tg := newTestGateway(t)
	conv := tg.newConversation(t)
	_, err := tg.store.AppendMessage(context.Background(), conv.ID, store.RoleUser, "<script>alert(1)</script> hi")
	require.NoError(t, err)

	rec := tg.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Conversation "+conv.ID+"</h1>")
	assert.Contains(t, body, "<blockquote>")
	assert.NotContains(t, body, "<script>alert(1)</script>")

	rec = tg.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/transcript?format=md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "- **Agent:** Front desk")

	rec = tg.do(t, http.MethodGet, "/api/conversations/missing/transcript", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticStylesheet(t *testing.T) {
	tg := newTestGateway(t)
	rec := tg.do(t, http.MethodGet, "/static/transcript.css", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get("Content-Type"))
}
