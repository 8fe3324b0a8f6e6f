// ABOUTME: Coordinator drives one conversation through idle, connecting, active and completed
// ABOUTME: Mirrors channel utterances into the transcript store and finalizes exactly once

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-voice/internal/dedupe"
	"github.com/2389/coven-voice/internal/store"
)

// State is the coordinator's view of the live session
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateCompleted  State = "completed"
)

// storeTimeout bounds store writes triggered by channel events, which have no caller context
const storeTimeout = 5 * time.Second

// Config bounds the coordinator's remote calls and dedupe window
type Config struct {
	CredentialTimeout time.Duration
	AnalysisTimeout   time.Duration
	DedupeWindow      time.Duration
	DedupeMaxEntries  int
}

// DefaultConfig returns the timeouts used when none are configured
func DefaultConfig() Config {
	return Config{
		CredentialTimeout: 15 * time.Second,
		AnalysisTimeout:   30 * time.Second,
		DedupeWindow:      0,
		DedupeMaxEntries:  1000,
	}
}

// Deps are the collaborators a coordinator talks to
type Deps struct {
	Store       Store
	Credentials CredentialExchange
	Dialer      Dialer
	Analysis    AnalysisSource
	Broadcaster *Broadcaster // optional; a private one is created when nil
	Logger      *slog.Logger
	Now         func() time.Time
}

// Snapshot is a point-in-time copy of a coordinator's state
type Snapshot struct {
	State        State               `json:"state"`
	Conversation *store.Conversation `json:"conversation"`
	Agent        *store.Agent        `json:"agent"`
	Messages     []*store.Message    `json:"messages"`
	Active       bool                `json:"active"`
	Speaking     bool                `json:"speaking"`
	Connecting   bool                `json:"connecting"`
	Unlinkable   bool                `json:"unlinkable"` // completed without a remote session id
	LastError    string              `json:"last_error,omitempty"`
}

// Coordinator owns the lifecycle of one conversation. Every state transition
// happens under mu; channel events are consumed by a single pump goroutine.
type Coordinator struct {
	id       string
	store    Store
	creds    CredentialExchange
	dialer   Dialer
	analysis AnalysisSource
	bus      *Broadcaster
	ownBus   bool
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	loaded   bool
	closed   bool
	state    State
	agent    *store.Agent
	conv     *store.Conversation
	messages []*store.Message
	speaking bool
	started  bool // a channel was opened at least once
	channel  Channel
	window   *dedupe.Window
	lastErr  error
}

// NewCoordinator creates a coordinator for conversationID. Call Load before anything else.
func NewCoordinator(conversationID string, deps Deps, cfg Config) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	bus := deps.Broadcaster
	ownBus := false
	if bus == nil {
		bus = NewBroadcaster(logger)
		ownBus = true
	}
	return &Coordinator{
		id:       conversationID,
		store:    deps.Store,
		creds:    deps.Credentials,
		dialer:   deps.Dialer,
		analysis: deps.Analysis,
		bus:      bus,
		ownBus:   ownBus,
		cfg:      cfg,
		logger:   logger.With("component", "coordinator", "conversation_id", conversationID),
		now:      now,
		state:    StateIdle,
		window:   dedupe.New(cfg.DedupeWindow, cfg.DedupeMaxEntries),
	}
}

// ID returns the conversation id
func (c *Coordinator) ID() string {
	return c.id
}

// Load reads the agent, conversation and transcript and seeds the dedupe window.
// A conversation that is already completed puts the coordinator in StateCompleted.
func (c *Coordinator) Load(ctx context.Context) error {
	conv, err := c.store.GetConversation(ctx, c.id)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	agent, err := c.store.GetAgent(ctx, conv.AgentID)
	if err != nil {
		return fmt.Errorf("loading agent %s: %w", conv.AgentID, err)
	}
	messages, err := c.store.ListMessages(ctx, c.id)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	keys := make([]string, len(messages))
	for i, m := range messages {
		keys[i] = dedupe.Key(string(m.Role), m.Content)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.agent = agent
	c.conv = conv
	c.messages = messages
	c.window.Seed(keys)
	c.loaded = true
	if conv.Completed() {
		c.state = StateCompleted
	} else if c.channel == nil {
		c.state = StateIdle
	}

	c.logger.Debug("loaded conversation", "status", conv.Status, "messages", len(messages))
	c.publishLocked(&Update{Type: UpdateConversation, Conversation: conv.Clone()})
	return nil
}

// Start exchanges credentials and opens the session channel. It is a no-op
// while connecting or active. Start returns once the channel is dialed; the
// coordinator moves to StateActive when the channel reports its connection.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	switch c.state {
	case StateConnecting, StateActive:
		c.mu.Unlock()
		return nil
	case StateCompleted:
		c.mu.Unlock()
		return ErrConversationCompleted
	}
	if c.conv.Completed() {
		c.state = StateCompleted
		c.mu.Unlock()
		return ErrConversationCompleted
	}
	// A channel that errored but never disconnected is replaced
	stale := c.channel
	c.channel = nil
	c.state = StateConnecting
	c.lastErr = nil
	agentID := c.agent.ID
	c.publishLocked(&Update{Type: UpdateState})
	c.mu.Unlock()

	if stale != nil {
		c.closeChannel(stale)
	}

	cctx, cancel := ctx, context.CancelFunc(func() {})
	if c.cfg.CredentialTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, c.cfg.CredentialTimeout)
	}
	cred, err := c.creds.Exchange(cctx, agentID)
	cancel()
	if err != nil {
		return c.failConnect(classifyRemote(err, ErrConnectFailure, "credential exchange"))
	}

	ch, err := c.dialer.Dial(ctx, cred)
	if err != nil {
		return c.failConnect(classifyRemote(err, ErrConnectFailure, "dial"))
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.closed {
		// Ended while we were dialing
		state := c.state
		c.mu.Unlock()
		c.closeChannel(ch)
		if state == StateCompleted {
			return ErrConversationCompleted
		}
		return ErrClosed
	}
	c.channel = ch
	c.started = true
	c.mu.Unlock()

	go c.pump(ch)

	c.logger.Info("session channel opened")
	return nil
}

func (c *Coordinator) failConnect(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnecting {
		c.state = StateIdle
	}
	c.lastErr = err
	c.logger.Warn("failed to start session", "error", err)
	c.publishLocked(&Update{Type: UpdateError, Error: err.Error()})
	return err
}

// classifyRemote separates timeouts from hard failures
func classifyRemote(err, kind error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

// pump delivers channel events to the coordinator one at a time
func (c *Coordinator) pump(ch Channel) {
	for ev := range ch.Events() {
		c.handleEvent(ch, ev)
	}
	// A channel that stops without saying goodbye has still disconnected
	c.handleEvent(ch, Event{Type: EventDisconnect})
}

func (c *Coordinator) handleEvent(ch Channel, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	c.mu.Lock()
	if c.channel != ch {
		// Events from a channel we already let go of
		c.mu.Unlock()
		return
	}

	var release Channel
	switch ev.Type {
	case EventConnect:
		if c.state == StateConnecting {
			c.state = StateActive
			c.publishLocked(&Update{Type: UpdateState})
		}
		remoteID := ev.RemoteSessionID
		if remoteID == "" {
			remoteID = ch.RemoteSessionID()
		}
		c.captureRemoteIDLocked(ctx, remoteID)

	case EventMessage:
		c.recordInboundLocked(ctx, ev)
		c.captureRemoteIDLocked(ctx, ch.RemoteSessionID())

	case EventMode:
		if c.speaking != ev.Speaking {
			c.speaking = ev.Speaking
			c.publishLocked(&Update{Type: UpdateState})
		}

	case EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("session channel error")
		}
		if c.state == StateConnecting {
			err = fmt.Errorf("%w: %w", ErrConnectFailure, err)
		}
		c.logger.Error("session channel error", "error", err, "state", c.state)
		c.lastErr = err
		c.speaking = false
		switch c.state {
		case StateConnecting:
			// Never connected, so nothing to finalize; Start may retry
			c.channel = nil
			c.state = StateIdle
			release = ch
		case StateActive:
			// Keep the handle: the disconnect that follows still finalizes
			c.state = StateIdle
		}
		c.publishLocked(&Update{Type: UpdateError, Error: err.Error()})

	case EventDisconnect:
		c.logger.Info("session channel disconnected")
		c.channel = nil
		c.speaking = false
		release = ch
		if !c.conv.Completed() {
			if err := c.finalizeLocked(ctx); err != nil {
				c.logger.Error("failed to finalize on disconnect", "error", err)
				c.lastErr = err
				c.state = StateIdle
				c.publishLocked(&Update{Type: UpdateError, Error: err.Error()})
			}
		} else {
			c.publishLocked(&Update{Type: UpdateState})
		}
	}
	c.mu.Unlock()

	if release != nil {
		c.closeChannel(release)
	}
}

// captureRemoteIDLocked stores the remote session id the first time it is known
func (c *Coordinator) captureRemoteIDLocked(ctx context.Context, remoteID string) {
	if remoteID == "" || c.conv.RemoteSessionID != "" {
		return
	}
	if err := c.store.SetRemoteSessionID(ctx, c.id, remoteID); err != nil {
		if errors.Is(err, store.ErrRemoteIDConflict) {
			c.logger.Warn("remote session id already linked", "remote_session_id", remoteID)
			if conv, getErr := c.store.GetConversation(ctx, c.id); getErr == nil {
				c.conv.RemoteSessionID = conv.RemoteSessionID
			}
			return
		}
		// Retried on the next message
		c.logger.Warn("failed to store remote session id", "remote_session_id", remoteID, "error", err)
		return
	}
	c.conv.RemoteSessionID = remoteID
	c.logger.Info("linked remote session", "remote_session_id", remoteID)
	c.publishLocked(&Update{Type: UpdateConversation, Conversation: c.conv.Clone()})
}

func (c *Coordinator) recordInboundLocked(ctx context.Context, ev Event) {
	role, ok := ev.Source.Role()
	if !ok {
		c.logger.Debug("ignoring message from unknown source", "source", ev.Source)
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	key := dedupe.Key(string(role), ev.Text)
	if c.window.CheckAndMark(key) {
		c.logger.Debug("skipping duplicate message", "role", role)
		return
	}

	msg, err := c.store.AppendMessage(ctx, c.id, role, ev.Text)
	if err != nil {
		c.window.Forget(key)
		err = fmt.Errorf("%w: %w", ErrStoreWrite, err)
		c.logger.Error("failed to save message", "role", role, "error", err)
		c.publishLocked(&Update{Type: UpdateError, Error: err.Error()})
		return
	}

	c.messages = append(c.messages, msg)
	c.publishLocked(&Update{Type: UpdateMessage, Message: copyMessage(msg)})
}

// SendUserMessage records a typed message and forwards it when the session is active.
// The message is stored even if an identical one exists; transport failures are
// logged and published but not returned.
func (c *Coordinator) SendUserMessage(ctx context.Context, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.conv.Completed() {
		c.mu.Unlock()
		return nil, ErrConversationCompleted
	}

	msg, err := c.store.AppendMessage(ctx, c.id, store.RoleUser, content)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	// An echo of this utterance from the channel is not stored twice
	c.window.Mark(dedupe.Key(string(store.RoleUser), content))
	c.messages = append(c.messages, msg)
	c.publishLocked(&Update{Type: UpdateMessage, Message: copyMessage(msg)})

	var ch Channel
	if c.state == StateActive {
		ch = c.channel
	}
	c.mu.Unlock()

	if ch != nil {
		if err := ch.SendText(ctx, content); err != nil {
			err = fmt.Errorf("%w: %w", ErrTransportSend, err)
			c.logger.Warn("failed to forward message", "error", err)
			c.mu.Lock()
			c.publishLocked(&Update{Type: UpdateError, Error: err.Error()})
			c.mu.Unlock()
		}
	}

	return copyMessage(msg), nil
}

// Finalize completes the conversation. It is idempotent: a completed
// conversation is left exactly as it is. A failed write leaves the
// coordinator in its prior state so the caller can retry.
func (c *Coordinator) Finalize(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	ch := c.channel
	err := c.finalizeLocked(ctx)
	if err == nil {
		c.channel = nil
	} else {
		ch = nil
	}
	c.mu.Unlock()

	if ch != nil {
		c.closeChannel(ch)
	}
	return err
}

func (c *Coordinator) finalizeLocked(ctx context.Context) error {
	if c.conv.Completed() {
		c.state = StateCompleted
		return nil
	}

	summary := DeriveSummary(c.messages)
	changed, err := c.store.FinalizeConversation(ctx, c.id, c.now().UTC(), summary)
	if err != nil {
		return fmt.Errorf("%w: finalizing: %w", ErrStoreWrite, err)
	}

	conv, err := c.store.GetConversation(ctx, c.id)
	if err != nil {
		c.logger.Warn("failed to reload finalized conversation", "error", err)
		conv = c.conv.Clone()
		conv.Status = store.StatusCompleted
	}
	c.conv = conv
	c.state = StateCompleted
	c.speaking = false

	if changed {
		c.logger.Info("conversation finalized", "messages", len(c.messages))
	}
	c.publishLocked(&Update{Type: UpdateConversation, Conversation: conv.Clone()})
	return nil
}

// End terminates the session: the channel is closed gracefully, then the
// conversation is finalized.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Close(ctx); err != nil {
			c.logger.Warn("failed to close session channel", "error", err)
		}
	}
	return c.Finalize(ctx)
}

// Close releases the coordinator when its view goes away. The channel is
// closed and, if a session was ever started, the conversation is finalized
// even when the channel could not be closed cleanly.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	ch := c.channel
	c.channel = nil
	started := c.started
	loaded := c.loaded
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Close(ctx); err != nil {
			c.logger.Warn("failed to close session channel", "error", err)
		}
	}

	var err error
	if loaded && started {
		err = c.Finalize(ctx)
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.window.Close()
	if c.ownBus {
		c.bus.Close()
	}
	return err
}

// MergeAnalysis overlays an analysis patch on the conversation. Status and
// ended-at are never touched.
func (c *Coordinator) MergeAnalysis(ctx context.Context, patch store.AnalysisPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	if err := c.store.MergeAnalysis(ctx, c.id, patch); err != nil {
		return fmt.Errorf("%w: merging analysis: %w", ErrStoreWrite, err)
	}
	patch.ApplyTo(c.conv)
	c.publishLocked(&Update{Type: UpdateConversation, Conversation: c.conv.Clone()})
	return nil
}

// ReflectAnalysis applies a patch that was already stored elsewhere, so the
// in-memory conversation and subscribers see pushed analysis.
func (c *Coordinator) ReflectAnalysis(patch store.AnalysisPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded || c.closed {
		return
	}
	patch.ApplyTo(c.conv)
	c.publishLocked(&Update{Type: UpdateConversation, Conversation: c.conv.Clone()})
}

// RefreshAnalysis pulls the latest analysis, merges it and reloads the
// conversation and transcript. No remote call is made when the remote session
// id is unknown.
func (c *Coordinator) RefreshAnalysis(ctx context.Context) (store.AnalysisPatch, error) {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return store.AnalysisPatch{}, err
	}
	remoteID := c.conv.RemoteSessionID
	agentID := c.agent.ID
	c.mu.Unlock()

	if remoteID == "" {
		return store.AnalysisPatch{}, ErrMissingRemoteID
	}

	patch, err := fetchAnalysis(ctx, c.analysis, c.cfg.AnalysisTimeout, agentID, remoteID)
	if err != nil {
		return store.AnalysisPatch{}, err
	}
	patch = patch.WithFetchedAt(c.now())

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.MergeAnalysis(ctx, c.id, patch); err != nil {
		return store.AnalysisPatch{}, fmt.Errorf("%w: merging analysis: %w", ErrStoreWrite, err)
	}
	if err := c.reloadLocked(ctx); err != nil {
		c.logger.Warn("failed to reload after analysis refresh", "error", err)
		patch.ApplyTo(c.conv)
	}
	c.publishLocked(&Update{Type: UpdateConversation, Conversation: c.conv.Clone()})
	return patch, nil
}

func (c *Coordinator) reloadLocked(ctx context.Context) error {
	conv, err := c.store.GetConversation(ctx, c.id)
	if err != nil {
		return err
	}
	messages, err := c.store.ListMessages(ctx, c.id)
	if err != nil {
		return err
	}
	c.conv = conv
	c.messages = messages
	return nil
}

// fetchAnalysis runs a bounded pull and normalizes its errors
func fetchAnalysis(ctx context.Context, src AnalysisSource, timeout time.Duration, agentID, remoteID string) (store.AnalysisPatch, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	patch, err := src.FetchAnalysis(ctx, agentID, remoteID)
	if err != nil {
		if errors.Is(err, ErrAnalysisNotReady) {
			return store.AnalysisPatch{}, err
		}
		return store.AnalysisPatch{}, classifyRemote(err, ErrAnalysisFetch, "fetching analysis")
	}
	return patch, nil
}

// Snapshot returns a copy of the coordinator's current state
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:      c.state,
		Active:     c.state == StateActive,
		Speaking:   c.speaking,
		Connecting: c.state == StateConnecting,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if c.conv != nil {
		s.Conversation = c.conv.Clone()
		s.Unlinkable = c.conv.Completed() && c.conv.RemoteSessionID == ""
	}
	if c.agent != nil {
		a := *c.agent
		a.APIKey = ""
		s.Agent = &a
	}
	s.Messages = make([]*store.Message, len(c.messages))
	for i, m := range c.messages {
		s.Messages[i] = copyMessage(m)
	}
	return s
}

// Subscribe returns a feed of updates until ctx is cancelled or the coordinator closes
func (c *Coordinator) Subscribe(ctx context.Context) <-chan *Update {
	ch, _ := c.bus.Subscribe(ctx, c.id)
	return ch
}

func (c *Coordinator) usableLocked() error {
	if c.closed {
		return ErrClosed
	}
	if !c.loaded {
		return ErrNotLoaded
	}
	return nil
}

func (c *Coordinator) publishLocked(u *Update) {
	u.ConversationID = c.id
	u.State = c.state
	u.Speaking = c.speaking
	u.At = c.now().UTC()
	c.bus.Publish(u)
}

// closeChannel closes ch without holding mu, since closing may wait on the
// channel's reader which may be waiting on the pump
func (c *Coordinator) closeChannel(ch Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := ch.Close(ctx); err != nil {
		c.logger.Debug("closing session channel", "error", err)
	}
}

func copyMessage(m *store.Message) *store.Message {
	out := *m
	return &out
}
