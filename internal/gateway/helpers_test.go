// ABOUTME: Shared test fixtures for gateway handler tests
// ABOUTME: Builds a gateway over MockStore with fake credential, dialer and analysis collaborators

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-voice/internal/config"
	"github.com/2389/coven-voice/internal/session"
	"github.com/2389/coven-voice/internal/store"
)

type testChannel struct {
	mu       sync.Mutex
	events   chan session.Event
	sent     []string
	remoteID string
	closed   bool
}

func newTestChannel() *testChannel {
	return &testChannel{events: make(chan session.Event, 16)}
}

func (c *testChannel) Events() <-chan session.Event { return c.events }

func (c *testChannel) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *testChannel) RemoteSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

func (c *testChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// connect reports the remote session id the way the live channel does
func (c *testChannel) connect(remoteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteID = remoteID
	if !c.closed {
		c.events <- session.Event{Type: session.EventConnect, RemoteSessionID: remoteID}
	}
}

func (c *testChannel) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type testDialer struct {
	mu       sync.Mutex
	channels []*testChannel
}

func (d *testDialer) Dial(ctx context.Context, cred session.Credential) (session.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := newTestChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *testDialer) last() *testChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

type testCredentials struct {
	err   error
	block bool
}

func (c *testCredentials) Exchange(ctx context.Context, agentID string) (session.Credential, error) {
	if c.block {
		<-ctx.Done()
		return session.Credential{}, ctx.Err()
	}
	if c.err != nil {
		return session.Credential{}, c.err
	}
	return session.Credential{SignedURL: "wss://convai.test/session?agent=" + agentID}, nil
}

type testAnalysis struct {
	mu    sync.Mutex
	patch store.AnalysisPatch
	err   error
	calls int
}

func (a *testAnalysis) FetchAnalysis(ctx context.Context, agentID, remoteID string) (store.AnalysisPatch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return store.AnalysisPatch{}, a.err
	}
	return a.patch, nil
}

// testGateway bundles a gateway with the fakes behind it
type testGateway struct {
	gw       *Gateway
	store    *store.MockStore
	dialer   *testDialer
	creds    *testCredentials
	analysis *testAnalysis
	agent    *store.Agent
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = ""
	return cfg
}

func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *testGateway {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}

	tg := &testGateway{
		store:    store.NewMockStore(),
		dialer:   &testDialer{},
		creds:    &testCredentials{},
		analysis: &testAnalysis{},
	}
	tg.agent = &store.Agent{Name: "Front desk", RemoteAgentID: "agent_remote_1", APIKey: "xi-secret"}
	require.NoError(t, tg.store.CreateAgent(context.Background(), tg.agent))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := NewWithDeps(cfg, Deps{
		Store:       tg.store,
		Credentials: tg.creds,
		Dialer:      tg.dialer,
		Analysis:    tg.analysis,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { gw.registry.CloseAll(context.Background()) })

	tg.gw = gw
	return tg
}

// newConversation creates an active conversation for the test agent
func (tg *testGateway) newConversation(t *testing.T) *store.Conversation {
	t.Helper()
	conv := &store.Conversation{AgentID: tg.agent.ID}
	require.NoError(t, tg.store.CreateConversation(context.Background(), conv))
	return conv
}

func (tg *testGateway) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	tg.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func strPtr(s string) *string { return &s }
