// ABOUTME: Tests for push and pull analysis reconciliation
// ABOUTME: Covers unknown remote ids, idempotent overlays and forwarding to live coordinators

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-voice/internal/store"
)

func newTestReconciler(h *harness, registry *Registry) *Reconciler {
	return NewReconciler(h.store, h.analysis, registry, time.Second, nil)
}

func TestReconciler_PushUnknownRemoteID(t *testing.T) {
	h := newHarness(t)
	r := newTestReconciler(h, nil)

	title := "Should not land"
	_, err := r.ApplyPush(context.Background(), "R-unknown", store.AnalysisPatch{Title: &title})
	assert.ErrorIs(t, err, store.ErrNotFound)

	conv := h.stored(t)
	assert.Nil(t, conv.Analysis.Title)
	assert.Nil(t, conv.Analysis.FetchedAt)
}

func TestReconciler_PushIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetRemoteSessionID(ctx, h.conv.ID, "R1"))
	r := newTestReconciler(h, nil)
	fixed := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	summary := "Caller confirmed the appointment."
	outcome := store.OutcomeSuccess
	patch := store.AnalysisPatch{Summary: &summary, Outcome: &outcome}

	id, err := r.ApplyPush(ctx, "R1", patch)
	require.NoError(t, err)
	assert.Equal(t, h.conv.ID, id)
	once := h.stored(t)

	_, err = r.ApplyPush(ctx, "R1", patch)
	require.NoError(t, err)
	assert.Equal(t, once, h.stored(t))
	assert.True(t, once.Analysis.FetchedAt.Equal(fixed))
	assert.Equal(t, store.StatusActive, once.Status, "push never touches status")
}

func TestReconciler_PushReachesLiveCoordinator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registry := NewRegistry(Deps{
		Store:       h.store,
		Credentials: h.creds,
		Dialer:      h.dialer,
		Analysis:    h.analysis,
	}, DefaultConfig())
	defer registry.CloseAll(ctx)

	c, err := registry.Get(ctx, h.conv.ID)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	h.dialer.last().emit(Event{Type: EventConnect, RemoteSessionID: "R1"})
	require.Eventually(t, func() bool {
		return c.Snapshot().Conversation.RemoteSessionID == "R1"
	}, time.Second, 5*time.Millisecond)

	r := newTestReconciler(h, registry)
	title := "Booking"
	_, err = r.ApplyPush(ctx, "R1", store.AnalysisPatch{Title: &title})
	require.NoError(t, err)

	snap := c.Snapshot()
	require.NotNil(t, snap.Conversation.Analysis.Title)
	assert.Equal(t, "Booking", *snap.Conversation.Analysis.Title)
}

func TestReconciler_PullWithoutRemoteID(t *testing.T) {
	h := newHarness(t)
	r := newTestReconciler(h, nil)

	_, err := r.Pull(context.Background(), h.conv.ID, "")
	assert.ErrorIs(t, err, ErrMissingRemoteID)
	assert.Equal(t, 0, h.analysis.callCount())

	_, err = r.Pull(context.Background(), "missing", "R1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReconciler_PullMergesAndStamps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetRemoteSessionID(ctx, h.conv.ID, "R1"))

	title := "Returns"
	h.analysis.patch = store.AnalysisPatch{Title: &title}
	r := newTestReconciler(h, nil)

	patch, err := r.Pull(ctx, h.conv.ID, "")
	require.NoError(t, err)
	assert.NotNil(t, patch.FetchedAt)
	assert.Equal(t, [2]string{h.agent.ID, "R1"}, h.analysis.lastIDs)

	conv := h.stored(t)
	assert.Equal(t, "Returns", *conv.Analysis.Title)
	assert.NotNil(t, conv.Analysis.FetchedAt)
}

func TestReconciler_PullWithExplicitRemoteID(t *testing.T) {
	h := newHarness(t)
	h.analysis.patch = store.AnalysisPatch{}
	r := newTestReconciler(h, nil)

	_, err := r.Pull(context.Background(), h.conv.ID, "R-explicit")
	require.NoError(t, err)
	assert.Equal(t, "R-explicit", h.analysis.lastIDs[1])
}

func TestReconciler_PullNotReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetRemoteSessionID(ctx, h.conv.ID, "R1"))
	h.analysis.err = ErrAnalysisNotReady
	r := newTestReconciler(h, nil)

	_, err := r.Pull(ctx, h.conv.ID, "")
	assert.ErrorIs(t, err, ErrAnalysisNotReady)
	assert.Nil(t, h.stored(t).Analysis.FetchedAt)
}
