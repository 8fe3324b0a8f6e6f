// ABOUTME: Test doubles for the session channel, dialer, credential exchange and analysis source
// ABOUTME: Channels are driven by tests through emit so event order is fully controlled

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-voice/internal/store"
)

type fakeChannel struct {
	mu       sync.Mutex
	events   chan Event
	sent     []string
	sendErr  error
	closeErr error
	remoteID string
	closed   bool
	closes   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 64)}
}

func (f *fakeChannel) Events() <-chan Event { return f.events }

func (f *fakeChannel) SendText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChannel) RemoteSessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteID
}

func (f *fakeChannel) setRemoteID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteID = id
}

func (f *fakeChannel) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return f.closeErr
}

// emit delivers an event unless the channel was closed
func (f *fakeChannel) emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- ev
}

// hangup simulates the remote side going away without a disconnect event
func (f *fakeChannel) hangup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

func (f *fakeChannel) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
	creds    []Credential
}

func (d *fakeDialer) Dial(ctx context.Context, cred Credential) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creds = append(d.creds, cred)
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

type fakeCredentials struct {
	err   error
	block bool
	calls int
	mu    sync.Mutex
}

func (f *fakeCredentials) Exchange(ctx context.Context, agentID string) (Credential, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Credential{}, ctx.Err()
	}
	if f.err != nil {
		return Credential{}, f.err
	}
	return Credential{SignedURL: "wss://example.test/convai?agent=" + agentID}, nil
}

type fakeAnalysis struct {
	mu      sync.Mutex
	calls   int
	patch   store.AnalysisPatch
	err     error
	lastIDs [2]string
}

func (f *fakeAnalysis) FetchAnalysis(ctx context.Context, agentID, remoteID string) (store.AnalysisPatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIDs = [2]string{agentID, remoteID}
	if f.err != nil {
		return store.AnalysisPatch{}, f.err
	}
	return f.patch, nil
}

func (f *fakeAnalysis) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// harness wires a coordinator to in-memory fakes
type harness struct {
	store    *store.MockStore
	dialer   *fakeDialer
	creds    *fakeCredentials
	analysis *fakeAnalysis
	agent    *store.Agent
	conv     *store.Conversation
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		store:    store.NewMockStore(),
		dialer:   &fakeDialer{},
		creds:    &fakeCredentials{},
		analysis: &fakeAnalysis{},
	}
	h.agent = &store.Agent{Name: "Support", RemoteAgentID: "agent_remote", APIKey: "xi-key"}
	require.NoError(t, h.store.CreateAgent(ctx, h.agent))
	h.conv = &store.Conversation{AgentID: h.agent.ID}
	require.NoError(t, h.store.CreateConversation(ctx, h.conv))

	h.coord = h.newCoordinator(t)
	require.NoError(t, h.coord.Load(ctx))
	return h
}

func (h *harness) newCoordinator(t *testing.T) *Coordinator {
	cfg := DefaultConfig()
	cfg.CredentialTimeout = 200 * time.Millisecond
	cfg.AnalysisTimeout = 200 * time.Millisecond
	c := NewCoordinator(h.conv.ID, Deps{
		Store:       h.store,
		Credentials: h.creds,
		Dialer:      h.dialer,
		Analysis:    h.analysis,
	}, cfg)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

// startActive starts the coordinator and delivers a connect event
func (h *harness) startActive(t *testing.T, remoteID string) *fakeChannel {
	t.Helper()
	require.NoError(t, h.coord.Start(context.Background()))
	ch := h.dialer.last()
	require.NotNil(t, ch)
	ch.setRemoteID(remoteID)
	ch.emit(Event{Type: EventConnect, RemoteSessionID: remoteID})
	h.waitState(t, StateActive)
	return ch
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.coord.Snapshot().State == want
	}, time.Second, 5*time.Millisecond, "state never became %s", want)
}

func (h *harness) waitMessages(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.coord.Snapshot().Messages) == n
	}, time.Second, 5*time.Millisecond, "expected %d messages", n)
}

func (h *harness) stored(t *testing.T) *store.Conversation {
	t.Helper()
	conv, err := h.store.GetConversation(context.Background(), h.conv.ID)
	require.NoError(t, err)
	return conv
}

var errBoom = errors.New("boom")
