// ABOUTME: Renders a conversation transcript and its analysis as an HTML page
// ABOUTME: Builds markdown from stored messages and converts it with goldmark

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-voice/internal/assets"
	"github.com/2389/coven-voice/internal/store"
)

var transcriptTemplate = assets.MustTemplate("transcript.html")

// roleLabel is the speaker name shown in transcripts
func roleLabel(role store.Role) string {
	switch role {
	case store.RoleUser:
		return "User"
	case store.RoleAgent:
		return "Agent"
	default:
		return string(role)
	}
}

// TranscriptMarkdown renders a conversation as markdown. Message content is
// quoted line by line so speaker text cannot open new headings.
func TranscriptMarkdown(conv *store.Conversation, agentName string, msgs []*store.Message) string {
	var b strings.Builder

	title := "Conversation " + conv.ID
	if conv.Analysis.Title != nil && *conv.Analysis.Title != "" {
		title = *conv.Analysis.Title
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if agentName != "" {
		fmt.Fprintf(&b, "- **Agent:** %s\n", agentName)
	}
	fmt.Fprintf(&b, "- **Status:** %s\n", conv.Status)
	fmt.Fprintf(&b, "- **Started:** %s\n", conv.StartedAt.UTC().Format(time.RFC1123))
	if conv.EndedAt != nil {
		fmt.Fprintf(&b, "- **Ended:** %s\n", conv.EndedAt.UTC().Format(time.RFC1123))
	}
	if conv.Analysis.Outcome != "" {
		fmt.Fprintf(&b, "- **Outcome:** %s\n", conv.Analysis.Outcome)
	}
	b.WriteString("\n")

	if conv.Summary != nil && *conv.Summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(*conv.Summary)
		b.WriteString("\n\n")
	}

	if len(conv.Analysis.EvaluationResults) > 0 {
		b.WriteString("## Evaluation\n\n")
		for _, name := range sortedKeys(conv.Analysis.EvaluationResults) {
			r := conv.Analysis.EvaluationResults[name]
			fmt.Fprintf(&b, "- **%s:** %s", name, r.Result)
			if r.Rationale != "" {
				fmt.Fprintf(&b, " (%s)", r.Rationale)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(conv.Analysis.DataCollection) > 0 {
		b.WriteString("## Collected data\n\n")
		for _, name := range sortedKeys(conv.Analysis.DataCollection) {
			fmt.Fprintf(&b, "- **%s:** %v\n", name, conv.Analysis.DataCollection[name].Value)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Transcript\n\n")
	if len(msgs) == 0 {
		b.WriteString("_No messages._\n")
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "**%s** _%s_\n\n", roleLabel(m.Role), m.Timestamp.UTC().Format(time.Kitchen))
		for _, line := range strings.Split(m.Content, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// handleTranscript serves a conversation as HTML, or as markdown when
// ?format=md is given.
// GET /api/conversations/{id}/transcript
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

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

	agentName := ""
	if agent, err := g.store.GetAgent(r.Context(), conv.AgentID); err == nil {
		agentName = agent.Name
	}

	md := TranscriptMarkdown(conv, agentName, msgs)
	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(md))
		return
	}

	// Convert markdown to HTML; raw HTML in messages is not rendered
	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
		g.logger.Error("failed to convert markdown", "error", err)
		htmlBuf.Reset()
		htmlBuf.WriteString("<p>Failed to render transcript.</p>")
	}

	data := struct {
		Title   string
		Content template.HTML
	}{
		Title:   "Transcript " + conv.ID,
		Content: template.HTML(htmlBuf.String()),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := transcriptTemplate.Execute(w, data); err != nil {
		g.logger.Error("failed to render transcript", "error", err)
	}
}
