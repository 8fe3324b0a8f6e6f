// ABOUTME: Reconciler merges post-call analysis that arrives by push or by pull
// ABOUTME: Both paths are per-field overlays keyed by local or remote conversation id

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-voice/internal/store"
)

// Reconciler applies analysis to conversations that may or may not have a
// live coordinator. When one exists it sees the change too.
type Reconciler struct {
	store    Store
	source   AnalysisSource
	registry *Registry
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewReconciler creates a reconciler. registry may be nil.
func NewReconciler(s Store, source AnalysisSource, registry *Registry, timeout time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    s,
		source:   source,
		registry: registry,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With("component", "reconciler"),
	}
}

// ApplyPush merges analysis delivered for a remote session id and returns the
// local conversation id. Returns store.ErrNotFound, with nothing mutated,
// when no conversation is linked to remoteID.
func (r *Reconciler) ApplyPush(ctx context.Context, remoteID string, patch store.AnalysisPatch) (string, error) {
	patch = patch.WithFetchedAt(r.now())

	id, err := r.store.MergeAnalysisByRemoteID(ctx, remoteID, patch)
	if err != nil {
		return "", err
	}

	r.logger.Info("applied pushed analysis", "conversation_id", id, "remote_session_id", remoteID)
	if r.registry != nil {
		if c, ok := r.registry.Lookup(id); ok {
			c.ReflectAnalysis(patch)
		}
	}
	return id, nil
}

// Pull fetches and merges analysis for a conversation. remoteID overrides the
// stored remote session id when non-empty. A live coordinator performs the
// refresh itself so its snapshot is reloaded.
func (r *Reconciler) Pull(ctx context.Context, conversationID, remoteID string) (store.AnalysisPatch, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.AnalysisPatch{}, err
	}
	if remoteID == "" {
		remoteID = conv.RemoteSessionID
	}
	if remoteID == "" {
		return store.AnalysisPatch{}, ErrMissingRemoteID
	}

	if r.registry != nil && remoteID == conv.RemoteSessionID {
		if c, ok := r.registry.Lookup(conversationID); ok {
			return c.RefreshAnalysis(ctx)
		}
	}

	patch, err := fetchAnalysis(ctx, r.source, r.timeout, conv.AgentID, remoteID)
	if err != nil {
		return store.AnalysisPatch{}, err
	}
	patch = patch.WithFetchedAt(r.now())

	if err := r.store.MergeAnalysis(ctx, conversationID, patch); err != nil {
		return store.AnalysisPatch{}, fmt.Errorf("%w: merging analysis: %w", ErrStoreWrite, err)
	}

	r.logger.Info("applied pulled analysis", "conversation_id", conversationID, "remote_session_id", remoteID)
	return patch, nil
}
