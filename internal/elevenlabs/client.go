// ABOUTME: HTTP client for the ElevenLabs Conversational AI REST API
// ABOUTME: Exchanges agent credentials for signed session URLs and fetches conversation analysis

package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public ElevenLabs API endpoint
const DefaultBaseURL = "https://api.elevenlabs.io"

// maxErrorBody bounds how much of an upstream error body is kept
const maxErrorBody = 4096

// ErrNotReady is returned when the conversation or its analysis does not exist upstream yet
var ErrNotReady = errors.New("elevenlabs: conversation not ready")

// APIError is a non-2xx response from the ElevenLabs API
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("elevenlabs: status %d", e.Status)
	}
	return fmt.Sprintf("elevenlabs: status %d: %s", e.Status, e.Body)
}

// Client talks to the ElevenLabs REST API. Every call takes the API key of
// the agent it acts for, so one client serves all agents.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL and a nil
// httpClient gets a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With("component", "elevenlabs"),
	}
}

// SignedURL requests a short-lived websocket URL for one conversation with remoteAgentID
func (c *Client) SignedURL(ctx context.Context, apiKey, remoteAgentID string) (string, error) {
	if remoteAgentID == "" {
		return "", errors.New("elevenlabs: agent id is required")
	}
	q := url.Values{"agent_id": {remoteAgentID}}

	var resp struct {
		SignedURL string `json:"signed_url"`
	}
	if err := c.get(ctx, apiKey, "/v1/convai/conversation/get-signed-url?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if resp.SignedURL == "" {
		return "", errors.New("elevenlabs: response carried no signed_url")
	}
	return resp.SignedURL, nil
}

// TranscriptTurn is one entry in the upstream transcript
type TranscriptTurn struct {
	Role           string  `json:"role"`
	Message        string  `json:"message"`
	TimeInCallSecs float64 `json:"time_in_call_secs"`
}

// ConversationDetails is the upstream record of a finished or running conversation
type ConversationDetails struct {
	ConversationID string           `json:"conversation_id"`
	AgentID        string           `json:"agent_id"`
	Status         string           `json:"status"`
	Transcript     []TranscriptTurn `json:"transcript"`
	Analysis       json.RawMessage  `json:"analysis"`
}

// HasAnalysis reports whether the upstream record carries an analysis object
func (d *ConversationDetails) HasAnalysis() bool {
	s := strings.TrimSpace(string(d.Analysis))
	return s != "" && s != "null"
}

// Conversation fetches the upstream record for remoteID. A 404 is reported
// as ErrNotReady since analysis is produced some time after the call ends.
func (c *Client) Conversation(ctx context.Context, apiKey, remoteID string) (*ConversationDetails, error) {
	if remoteID == "" {
		return nil, errors.New("elevenlabs: conversation id is required")
	}
	var details ConversationDetails
	if err := c.get(ctx, apiKey, "/v1/convai/conversations/"+url.PathEscape(remoteID), &details); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrNotReady
		}
		return nil, err
	}
	return &details, nil
}

func (c *Client) get(ctx context.Context, apiKey, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: building request: %w", err)
	}
	req.Header.Set("xi-api-key", apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("elevenlabs request",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("elevenlabs: decoding response: %w", err)
	}
	return nil
}
