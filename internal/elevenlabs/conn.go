// ABOUTME: Websocket session channel for ElevenLabs Conversational AI in text-only mode
// ABOUTME: Translates upstream protocol messages into session events and answers pings

package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-voice/internal/session"
)

const (
	writeTimeout     = 5 * time.Second
	closeGracePeriod = 2 * time.Second
	eventBufferSize  = 32
)

// ErrConnClosed is returned when writing to a closed channel
var ErrConnClosed = errors.New("elevenlabs: connection closed")

// Dialer opens ConvAI websocket sessions. It implements session.Dialer.
type Dialer struct {
	ws     *websocket.Dialer
	wsBase *url.URL
	logger *slog.Logger
}

// NewDialer creates a dialer. A non-empty wsBaseURL replaces the scheme and
// host of every signed URL, which lets the service run behind a proxy.
func NewDialer(wsBaseURL string, logger *slog.Logger) (*Dialer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dialer{
		ws:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.With("component", "elevenlabs-ws"),
	}
	if base := strings.TrimSpace(wsBaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid websocket base url %q", wsBaseURL)
		}
		d.wsBase = u
	}
	return d, nil
}

// Dial connects to the signed URL and requests a text-only conversation
func (d *Dialer) Dial(ctx context.Context, cred session.Credential) (session.Channel, error) {
	target, err := d.target(cred.SignedURL)
	if err != nil {
		return nil, err
	}

	ws, _, err := d.ws.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing convai: %w", err)
	}

	c := &Conn{
		ws:      ws,
		events:  make(chan session.Event, eventBufferSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  d.logger,
	}

	init := map[string]any{
		"type": "conversation_initiation_client_data",
		"conversation_config_override": map[string]any{
			"conversation": map[string]any{"text_only": true},
		},
	}
	if err := c.writeJSON(ctx, init); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("sending initiation data: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (d *Dialer) target(signed string) (string, error) {
	u, err := url.Parse(signed)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid signed url")
	}
	if d.wsBase != nil {
		u.Scheme = d.wsBase.Scheme
		u.Host = d.wsBase.Host
	}
	return u.String(), nil
}

// Conn is one ConvAI websocket session. It implements session.Channel.
type Conn struct {
	ws     *websocket.Conn
	events chan session.Event
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	remoteID string

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Events returns the event stream. It is closed after the connection ends.
func (c *Conn) Events() <-chan session.Event { return c.events }

// RemoteSessionID returns the conversation id announced by the server, if any
func (c *Conn) RemoteSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

// SendText sends a typed user message
func (c *Conn) SendText(ctx context.Context, text string) error {
	select {
	case <-c.closing:
		return ErrConnClosed
	default:
	}
	return c.writeJSON(ctx, map[string]any{"type": "user_message", "text": text})
}

// Close ends the session gracefully, waiting briefly for the server to
// acknowledge before dropping the socket.
func (c *Conn) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)

		c.writeMu.Lock()
		werr := c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()

		if werr == nil {
			timer := time.NewTimer(closeGracePeriod)
			select {
			case <-c.done:
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
		err = c.ws.Close()
		<-c.done
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(v)
}

// emit delivers ev unless the connection is shutting down
func (c *Conn) emit(ev session.Event) {
	select {
	case c.events <- ev:
	case <-c.closing:
	}
}

type serverMessage struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event"`

	Ping *struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event"`
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.emit(session.Event{Type: session.EventError, Err: fmt.Errorf("reading convai: %w", err)})
				}
			}
			c.emit(session.Event{Type: session.EventDisconnect})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("skipping undecodable message", "error", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *Conn) handle(msg serverMessage) {
	switch msg.Type {
	case "conversation_initiation_metadata":
		var id string
		if msg.Metadata != nil {
			id = msg.Metadata.ConversationID
		}
		c.mu.Lock()
		c.remoteID = id
		c.mu.Unlock()
		c.emit(session.Event{Type: session.EventConnect, RemoteSessionID: id})

	case "user_transcript":
		if msg.UserTranscript != nil && msg.UserTranscript.Text != "" {
			c.emit(session.Event{Type: session.EventMessage, Source: session.SourceUser, Text: msg.UserTranscript.Text})
		}

	case "agent_response":
		if msg.AgentResponse != nil && msg.AgentResponse.Text != "" {
			c.emit(session.Event{Type: session.EventMode, Speaking: true})
			c.emit(session.Event{Type: session.EventMessage, Source: session.SourceAI, Text: msg.AgentResponse.Text})
			c.emit(session.Event{Type: session.EventMode, Speaking: false})
		}

	case "interruption":
		c.emit(session.Event{Type: session.EventMode, Speaking: false})

	case "ping":
		if msg.Ping == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := c.writeJSON(ctx, map[string]any{"type": "pong", "event_id": msg.Ping.EventID}); err != nil {
			c.logger.Debug("failed to answer ping", "error", err)
		}

	case "agent_response_correction", "audio", "internal_tentative_agent_response", "vad_score":
		// Text-only sessions have no use for these

	default:
		c.logger.Debug("ignoring convai message", "type", msg.Type)
	}
}

var (
	_ session.Dialer  = (*Dialer)(nil)
	_ session.Channel = (*Conn)(nil)
)
