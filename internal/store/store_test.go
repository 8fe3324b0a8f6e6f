// ABOUTME: Behavior tests run against every Store implementation
// ABOUTME: Covers ordering, finalize and merge idempotence, and remote-id linking rules

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

type storeFactory func(t *testing.T) Store

func storeImplementations() map[string]storeFactory {
	return map[string]storeFactory{
		"sqlite": func(t *testing.T) Store { return setupTestStore(t) },
		"mock":   func(t *testing.T) Store { return NewMockStore() },
	}
}

// forEachStore runs fn against each Store implementation
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeImplementations() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func seedConversation(t *testing.T, s Store) (*Agent, *Conversation) {
	t.Helper()
	ctx := context.Background()

	agent := &Agent{Name: "Support", RemoteAgentID: "agent_remote_1", APIKey: "xi-key"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	conv := &Conversation{AgentID: agent.ID}
	require.NoError(t, s.CreateConversation(ctx, conv))
	return agent, conv
}

func strPtr(s string) *string { return &s }

func outcomePtr(o Outcome) *Outcome { return &o }

func TestStore_AgentCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		agent := &Agent{Name: "Bravo", RemoteAgentID: "remote-b", APIKey: "key-b"}
		require.NoError(t, s.CreateAgent(ctx, agent))
		require.NotEmpty(t, agent.ID)
		require.NoError(t, s.CreateAgent(ctx, &Agent{Name: "Alpha", RemoteAgentID: "remote-a", APIKey: "key-a"}))

		got, err := s.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, "Bravo", got.Name)
		assert.Equal(t, "remote-b", got.RemoteAgentID)
		assert.Equal(t, "key-b", got.APIKey)

		agents, err := s.ListAgents(ctx)
		require.NoError(t, err)
		require.Len(t, agents, 2)
		assert.Equal(t, "Alpha", agents[0].Name)
		assert.Equal(t, "Bravo", agents[1].Name)

		got.APIKey = "rotated"
		require.NoError(t, s.UpdateAgent(ctx, got))
		again, err := s.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, "rotated", again.APIKey)

		require.NoError(t, s.DeleteAgent(ctx, agent.ID))
		_, err = s.GetAgent(ctx, agent.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteAgent(ctx, agent.ID), ErrNotFound)
		assert.ErrorIs(t, s.UpdateAgent(ctx, &Agent{ID: "missing"}), ErrNotFound)
	})
}

func TestStore_CreateConversationDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		assert.NotEmpty(t, conv.ID)
		assert.Equal(t, StatusActive, conv.Status)
		assert.False(t, conv.StartedAt.IsZero())

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, got.Status)
		assert.Nil(t, got.EndedAt)
		assert.Nil(t, got.Summary)
		assert.Empty(t, got.RemoteSessionID)
		assert.Equal(t, OutcomeAbsent, got.Analysis.Outcome)
		assert.True(t, got.StartedAt.Equal(conv.StartedAt))
	})
}

func TestStore_CreateConversationUnknownAgent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.CreateConversation(context.Background(), &Conversation{AgentID: "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListMessagesOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		contents := []string{"hello", "hi there", "how are you", "fine"}
		roles := []Role{RoleUser, RoleAgent, RoleUser, RoleAgent}
		for i, c := range contents {
			msg, err := s.AppendMessage(ctx, conv.ID, roles[i], c)
			require.NoError(t, err)
			assert.NotEmpty(t, msg.ID)
			assert.Equal(t, conv.ID, msg.ConversationID)
		}

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i, m := range msgs {
			assert.Equal(t, contents[i], m.Content)
			assert.Equal(t, roles[i], m.Role)
			if i > 0 {
				assert.False(t, m.Timestamp.Before(msgs[i-1].Timestamp), "timestamps must not decrease")
			}
		}
	})
}

func TestStore_AppendMessageRejectsBadInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		_, err := s.AppendMessage(ctx, conv.ID, Role("system"), "x")
		assert.Error(t, err)

		_, err = s.AppendMessage(ctx, "missing", RoleUser, "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListConversationsNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		agent := &Agent{Name: "A", RemoteAgentID: "r", APIKey: "k"}
		require.NoError(t, s.CreateAgent(ctx, agent))
		other := &Agent{Name: "B", RemoteAgentID: "r2", APIKey: "k2"}
		require.NoError(t, s.CreateAgent(ctx, other))

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.CreateConversation(ctx, &Conversation{
				ID:        "conv-" + string(rune('a'+i)),
				AgentID:   agent.ID,
				StartedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "conv-other", AgentID: other.ID, StartedAt: base}))

		convs, err := s.ListConversations(ctx, agent.ID, 0)
		require.NoError(t, err)
		require.Len(t, convs, 3)
		assert.Equal(t, "conv-c", convs[0].ID)
		assert.Equal(t, "conv-b", convs[1].ID)
		assert.Equal(t, "conv-a", convs[2].ID)

		limited, err := s.ListConversations(ctx, agent.ID, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		all, err := s.ListConversations(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})
}

func TestStore_FinalizeIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		first := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
		ok, err := s.FinalizeConversation(ctx, conv.ID, first, "No messages in this conversation.")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.FinalizeConversation(ctx, conv.ID, first.Add(time.Hour), "different")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		require.NotNil(t, got.EndedAt)
		assert.True(t, got.EndedAt.Equal(first))
		require.NotNil(t, got.Summary)
		assert.Equal(t, "No messages in this conversation.", *got.Summary)

		_, err = s.FinalizeConversation(ctx, "missing", first, "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_FinalizeKeepsRicherSummary(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		require.NoError(t, s.MergeAnalysis(ctx, conv.ID, AnalysisPatch{Summary: strPtr("The caller asked about billing.")}))

		ok, err := s.FinalizeConversation(ctx, conv.ID, time.Now(), "User asked 1 question. Total of 2 messages exchanged.")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "The caller asked about billing.", *got.Summary)
	})
}

func TestStore_RemoteIDNeverOverwritten(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		agent, conv := seedConversation(t, s)

		require.NoError(t, s.SetRemoteSessionID(ctx, conv.ID, "R1"))
		require.NoError(t, s.SetRemoteSessionID(ctx, conv.ID, "R1"), "same value is a no-op")
		assert.ErrorIs(t, s.SetRemoteSessionID(ctx, conv.ID, "R2"), ErrRemoteIDConflict)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "R1", got.RemoteSessionID)

		// Another conversation cannot claim the same remote id
		second := &Conversation{AgentID: agent.ID}
		require.NoError(t, s.CreateConversation(ctx, second))
		assert.ErrorIs(t, s.SetRemoteSessionID(ctx, second.ID, "R1"), ErrRemoteIDConflict)

		assert.ErrorIs(t, s.SetRemoteSessionID(ctx, "missing", "R9"), ErrNotFound)

		byRemote, err := s.GetConversationByRemoteID(ctx, "R1")
		require.NoError(t, err)
		assert.Equal(t, conv.ID, byRemote.ID)
	})
}

func TestStore_MergeAnalysisIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		fetched := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
		patch := AnalysisPatch{
			Summary: strPtr("Caller wanted a refund."),
			Outcome: outcomePtr(OutcomeSuccess),
			Title:   strPtr("Refund request"),
			EvaluationResults: map[string]CriterionResult{
				"polite": {CriteriaID: "polite", Result: "success", Rationale: "Greeted the caller."},
			},
			DataCollection: map[string]CollectedValue{
				"order_id": {DataCollectionID: "order_id", Value: "A-100", Rationale: "Stated by caller."},
			},
			FetchedAt: &fetched,
		}

		require.NoError(t, s.MergeAnalysis(ctx, conv.ID, patch))
		once, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)

		require.NoError(t, s.MergeAnalysis(ctx, conv.ID, patch))
		twice, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)

		assert.Equal(t, once, twice)
		assert.Equal(t, OutcomeSuccess, twice.Analysis.Outcome)
		assert.Equal(t, "Refund request", *twice.Analysis.Title)
		assert.Equal(t, "Greeted the caller.", twice.Analysis.EvaluationResults["polite"].Rationale)
		assert.Equal(t, "A-100", twice.Analysis.DataCollection["order_id"].Value)
		assert.True(t, twice.Analysis.FetchedAt.Equal(fetched))
		assert.Equal(t, StatusActive, twice.Status, "merge never touches status")
		assert.Nil(t, twice.EndedAt)
	})
}

func TestStore_MergeAnalysisPerField(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)
		require.NoError(t, s.SetRemoteSessionID(ctx, conv.ID, "R1"))

		_, err := s.FinalizeConversation(ctx, conv.ID, time.Now(), "derived")
		require.NoError(t, err)

		// Push carries only the outcome; a later pull carries only the title
		id, err := s.MergeAnalysisByRemoteID(ctx, "R1", AnalysisPatch{Outcome: outcomePtr(OutcomeFailure)})
		require.NoError(t, err)
		assert.Equal(t, conv.ID, id)
		require.NoError(t, s.MergeAnalysis(ctx, conv.ID, AnalysisPatch{Title: strPtr("Dropped call")}))

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailure, got.Analysis.Outcome)
		assert.Equal(t, "Dropped call", *got.Analysis.Title)
		assert.Equal(t, "derived", *got.Summary)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.NotNil(t, got.EndedAt)
	})
}

func TestStore_PushForUnknownRemoteID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		_, err := s.MergeAnalysisByRemoteID(ctx, "R-unknown", AnalysisPatch{Summary: strPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Summary, "no record mutated")
	})
}

func TestStore_MergeEmptyPatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, conv := seedConversation(t, s)

		assert.NoError(t, s.MergeAnalysis(ctx, conv.ID, AnalysisPatch{}))
		assert.ErrorIs(t, s.MergeAnalysis(ctx, "missing", AnalysisPatch{}), ErrNotFound)
	})
}

func TestStore_DeleteAgentCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		agent, conv := seedConversation(t, s)
		_, err := s.AppendMessage(ctx, conv.ID, RoleUser, "hi")
		require.NoError(t, err)

		require.NoError(t, s.DeleteAgent(ctx, agent.ID))

		_, err = s.GetConversation(ctx, conv.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestParseOutcome(t *testing.T) {
	assert.Equal(t, OutcomeAbsent, ParseOutcome(""))
	assert.Equal(t, OutcomeSuccess, ParseOutcome("success"))
	assert.Equal(t, OutcomeFailure, ParseOutcome("failure"))
	assert.Equal(t, OutcomeUnknown, ParseOutcome("unknown"))
	assert.Equal(t, OutcomeUnknown, ParseOutcome("maybe"))
}

func TestConversationClone(t *testing.T) {
	now := time.Now()
	orig := &Conversation{
		ID:      "c1",
		EndedAt: &now,
		Summary: strPtr("s"),
		Analysis: Analysis{
			EvaluationResults: map[string]CriterionResult{"a": {Result: "success"}},
		},
	}
	cp := orig.Clone()
	*cp.Summary = "changed"
	cp.Analysis.EvaluationResults["b"] = CriterionResult{}

	assert.Equal(t, "s", *orig.Summary)
	assert.Len(t, orig.Analysis.EvaluationResults, 1)
}
