// ABOUTME: Registry keeps at most one live coordinator per conversation
// ABOUTME: Lets HTTP handlers, the webhook and the CLI share the same in-memory session

package session

import (
	"context"
	"log/slog"
	"sync"
)

// Registry tracks live coordinators by conversation id
type Registry struct {
	mu     sync.Mutex
	coords map[string]*Coordinator
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewRegistry creates a registry whose coordinators share deps and cfg.
// A shared broadcaster is created when deps.Broadcaster is nil.
func NewRegistry(deps Deps, cfg Config) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewBroadcaster(logger)
	}
	return &Registry{
		coords: make(map[string]*Coordinator),
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "registry"),
	}
}

// Broadcaster returns the broadcaster shared by every coordinator
func (r *Registry) Broadcaster() *Broadcaster {
	return r.deps.Broadcaster
}

// Get returns the live coordinator for a conversation, loading one if needed.
// Loading happens outside the lock; if two callers race, the first to
// register wins and the other's coordinator is discarded.
func (r *Registry) Get(ctx context.Context, conversationID string) (*Coordinator, error) {
	if c, ok := r.Lookup(conversationID); ok {
		return c, nil
	}

	c := NewCoordinator(conversationID, r.deps, r.cfg)
	if err := c.Load(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.coords[conversationID]; ok {
		r.mu.Unlock()
		_ = c.Close(ctx)
		return existing, nil
	}
	r.coords[conversationID] = c
	r.mu.Unlock()

	r.logger.Debug("coordinator registered", "conversation_id", conversationID)
	return c, nil
}

// Lookup returns the live coordinator for a conversation without creating one
func (r *Registry) Lookup(conversationID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coords[conversationID]
	return c, ok
}

// Release closes and forgets a conversation's coordinator
func (r *Registry) Release(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	c, ok := r.coords[conversationID]
	delete(r.coords, conversationID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.Debug("coordinator released", "conversation_id", conversationID)
	return c.Close(ctx)
}

// Len returns the number of live coordinators
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coords)
}

// CloseAll closes every coordinator, finalizing any started conversations
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	coords := r.coords
	r.coords = make(map[string]*Coordinator)
	r.mu.Unlock()

	for id, c := range coords {
		if err := c.Close(ctx); err != nil {
			r.logger.Warn("failed to close coordinator", "conversation_id", id, "error", err)
		}
	}
}
