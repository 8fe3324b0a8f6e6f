// ABOUTME: Tests for analysis and webhook payload decoding

package elevenlabs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-voice/internal/store"
)

const fullAnalysis = `{
	"transcript_summary": "The caller rescheduled to Friday.",
	"call_successful": "success",
	"call_summary_title": "Reschedule",
	"evaluation_criteria_results": {
		"polite": {"criteria_id": "polite", "result": "success", "rationale": "Greeted the caller."}
	},
	"data_collection_results": {
		"day": {"data_collection_id": "day", "value": "Friday", "rationale": "Stated twice."}
	}
}`

func TestParseAnalysis_Full(t *testing.T) {
	patch, err := ParseAnalysis([]byte(fullAnalysis))
	require.NoError(t, err)

	assert.Equal(t, "The caller rescheduled to Friday.", *patch.Summary)
	assert.Equal(t, store.OutcomeSuccess, *patch.Outcome)
	assert.Equal(t, "Reschedule", *patch.Title)
	assert.Equal(t, "Greeted the caller.", patch.EvaluationResults["polite"].Rationale)
	assert.Equal(t, "Friday", patch.DataCollection["day"].Value)
	assert.Nil(t, patch.FetchedAt)
}

func TestParseAnalysis_SparseFieldsStayNil(t *testing.T) {
	patch, err := ParseAnalysis([]byte(`{"transcript_summary":"","call_successful":"maybe"}`))
	require.NoError(t, err)

	assert.Nil(t, patch.Summary)
	assert.Nil(t, patch.Title)
	assert.Nil(t, patch.EvaluationResults)
	require.NotNil(t, patch.Outcome)
	assert.Equal(t, store.OutcomeUnknown, *patch.Outcome)

	empty, err := ParseAnalysis(nil)
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	_, err = ParseAnalysis([]byte(`{"transcript_summary": 7}`))
	assert.Error(t, err)
}

func TestParseWebhook(t *testing.T) {
	t.Run("bare body", func(t *testing.T) {
		ev, err := ParseWebhook([]byte(`{"conversation_id":"conv_1","analysis":` + fullAnalysis + `}`))
		require.NoError(t, err)
		assert.Equal(t, "conv_1", ev.ConversationID)
		assert.Equal(t, "Reschedule", *ev.Patch.Title)
	})

	t.Run("data envelope", func(t *testing.T) {
		body := `{"type":"post_call_transcription","event_timestamp":1700000000,"data":{"agent_id":"agent_123","conversation_id":"conv_2","analysis":` + fullAnalysis + `}}`
		ev, err := ParseWebhook([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "post_call_transcription", ev.Type)
		assert.Equal(t, "conv_2", ev.ConversationID)
		assert.Equal(t, "agent_123", ev.AgentID)
	})

	t.Run("missing conversation id", func(t *testing.T) {
		_, err := ParseWebhook([]byte(`{"analysis":{}}`))
		assert.ErrorIs(t, err, ErrMissingConversationID)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseWebhook([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"conversation_id":"conv_1"}`)
	now := time.Unix(1_700_000_000, 0)
	header := SignatureFor("whsec", body, now)

	assert.NoError(t, VerifySignature("whsec", header, body, now))
	assert.NoError(t, VerifySignature("whsec", header, body, now.Add(29*time.Minute)))

	assert.ErrorIs(t, VerifySignature("whsec", header, body, now.Add(31*time.Minute)), ErrSignatureExpired)
	assert.ErrorIs(t, VerifySignature("other", header, body, now), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", header, []byte(`{}`), now), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", "", body, now), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", "t=abc,v0=00", body, now), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("whsec", "t=1700000000,v0=zz", body, now), ErrInvalidSignature)
}
