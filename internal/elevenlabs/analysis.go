// ABOUTME: Converts ElevenLabs post-call analysis JSON into store analysis patches
// ABOUTME: Missing or empty fields stay nil so merges never clear earlier values

package elevenlabs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/coven-voice/internal/store"
)

type rawAnalysis struct {
	TranscriptSummary         string                           `json:"transcript_summary"`
	CallSuccessful            string                           `json:"call_successful"`
	CallSummaryTitle          string                           `json:"call_summary_title"`
	EvaluationCriteriaResults map[string]store.CriterionResult `json:"evaluation_criteria_results"`
	DataCollectionResults     map[string]store.CollectedValue  `json:"data_collection_results"`
}

// ParseAnalysis decodes an upstream analysis object. Empty strings and absent
// maps produce nil patch fields.
func ParseAnalysis(raw json.RawMessage) (store.AnalysisPatch, error) {
	var patch store.AnalysisPatch
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return patch, nil
	}

	var a rawAnalysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return patch, fmt.Errorf("elevenlabs: decoding analysis: %w", err)
	}

	if a.TranscriptSummary != "" {
		patch.Summary = &a.TranscriptSummary
	}
	if a.CallSuccessful != "" {
		outcome := store.ParseOutcome(a.CallSuccessful)
		patch.Outcome = &outcome
	}
	if a.CallSummaryTitle != "" {
		patch.Title = &a.CallSummaryTitle
	}
	patch.EvaluationResults = a.EvaluationCriteriaResults
	patch.DataCollection = a.DataCollectionResults
	return patch, nil
}
