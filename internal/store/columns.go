// ABOUTME: Column encoding shared by the SQLite and Postgres stores
// ABOUTME: Fixed-width timestamps, JSON analysis maps and patch-to-SET translation

package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so that lexical order equals chronological order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or older tools may use plain RFC3339
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// nullString returns nil for empty strings so the column stays NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeEvaluation(raw *string) (map[string]CriterionResult, error) {
	if raw == nil || *raw == "" || *raw == "null" {
		return nil, nil
	}
	out := make(map[string]CriterionResult)
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil, fmt.Errorf("decoding evaluation results: %w", err)
	}
	return out, nil
}

func decodeDataCollection(raw *string) (map[string]CollectedValue, error) {
	if raw == nil || *raw == "" || *raw == "null" {
		return nil, nil
	}
	out := make(map[string]CollectedValue)
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil, fmt.Errorf("decoding data collection results: %w", err)
	}
	return out, nil
}

// patchAssignments turns the non-nil fields of a patch into SET clauses
func patchAssignments(p AnalysisPatch) (string, []any, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = ?")
	}

	if p.Summary != nil {
		add("summary", *p.Summary)
	}
	if p.Outcome != nil {
		add("call_outcome", nullString(string(*p.Outcome)))
	}
	if p.Title != nil {
		add("call_title", *p.Title)
	}
	if p.EvaluationResults != nil {
		v, err := encodeJSON(p.EvaluationResults)
		if err != nil {
			return "", nil, fmt.Errorf("encoding evaluation results: %w", err)
		}
		add("evaluation_results", v)
	}
	if p.DataCollection != nil {
		v, err := encodeJSON(p.DataCollection)
		if err != nil {
			return "", nil, fmt.Errorf("encoding data collection results: %w", err)
		}
		add("data_collection", v)
	}
	if p.FetchedAt != nil {
		add("analysis_fetched_at", formatTime(*p.FetchedAt))
	}

	return strings.Join(sets, ", "), args, nil
}

// conversationRow is the raw column set shared by both SQL stores
type conversationRow struct {
	id             string
	agentID        string
	startedAt      string
	endedAt        *string
	status         string
	remoteID       *string
	summary        *string
	outcome        *string
	title          *string
	evaluation     *string
	dataCollection *string
	fetchedAt      *string
}

const conversationColumns = `id, agent_id, started_at, ended_at, status, remote_session_id, summary,
	call_outcome, call_title, evaluation_results, data_collection, analysis_fetched_at`

func (r *conversationRow) dest() []any {
	return []any{
		&r.id, &r.agentID, &r.startedAt, &r.endedAt, &r.status, &r.remoteID, &r.summary,
		&r.outcome, &r.title, &r.evaluation, &r.dataCollection, &r.fetchedAt,
	}
}

func (r *conversationRow) toConversation() (*Conversation, error) {
	conv := &Conversation{
		ID:      r.id,
		AgentID: r.agentID,
		Status:  Status(r.status),
		Summary: r.summary,
	}

	var err error
	conv.StartedAt, err = parseTime(r.startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	conv.EndedAt, err = parseNullTime(r.endedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing ended_at: %w", err)
	}
	if r.remoteID != nil {
		conv.RemoteSessionID = *r.remoteID
	}
	if r.outcome != nil {
		conv.Analysis.Outcome = ParseOutcome(*r.outcome)
	}
	conv.Analysis.Title = r.title
	conv.Analysis.EvaluationResults, err = decodeEvaluation(r.evaluation)
	if err != nil {
		return nil, err
	}
	conv.Analysis.DataCollection, err = decodeDataCollection(r.dataCollection)
	if err != nil {
		return nil, err
	}
	conv.Analysis.FetchedAt, err = parseNullTime(r.fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing analysis_fetched_at: %w", err)
	}
	return conv, nil
}

// insertArgs returns the column values for an INSERT in conversationColumns order
func insertConversationArgs(conv *Conversation) ([]any, error) {
	evaluation, err := encodeJSON(mapOrNil(conv.Analysis.EvaluationResults))
	if err != nil {
		return nil, fmt.Errorf("encoding evaluation results: %w", err)
	}
	collected, err := encodeJSON(mapOrNil(conv.Analysis.DataCollection))
	if err != nil {
		return nil, fmt.Errorf("encoding data collection results: %w", err)
	}
	return []any{
		conv.ID,
		conv.AgentID,
		formatTime(conv.StartedAt),
		formatNullTime(conv.EndedAt),
		string(conv.Status),
		nullString(conv.RemoteSessionID),
		nullStringPtr(conv.Summary),
		nullString(string(conv.Analysis.Outcome)),
		nullStringPtr(conv.Analysis.Title),
		evaluation,
		collected,
		formatNullTime(conv.Analysis.FetchedAt),
	}, nil
}

// mapOrNil keeps nil maps as SQL NULL instead of the JSON literal "null"
func mapOrNil[M ~map[string]V, V any](m M) any {
	if m == nil {
		return nil
	}
	return m
}
