// ABOUTME: Webhook signature verification and payload decoding for post-call analysis pushes
// ABOUTME: Accepts both the bare {conversation_id, analysis} body and the typed data envelope

package elevenlabs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-voice/internal/store"
)

// SignatureHeader carries the webhook HMAC
const SignatureHeader = "ElevenLabs-Signature"

// SignatureTolerance is how old a signed timestamp may be
const SignatureTolerance = 30 * time.Minute

var (
	// ErrInvalidSignature means the header was malformed or the HMAC did not match
	ErrInvalidSignature = errors.New("elevenlabs: invalid webhook signature")

	// ErrSignatureExpired means the signed timestamp is outside the tolerance
	ErrSignatureExpired = errors.New("elevenlabs: webhook signature expired")

	// ErrMissingConversationID means the payload named no conversation
	ErrMissingConversationID = errors.New("elevenlabs: missing conversation_id")
)

// VerifySignature checks a header of the form "t=<unix>,v0=<hex>" where the
// hex value is HMAC-SHA256 over "<unix>.<body>" keyed by secret.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v0":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	signedAt := time.Unix(unix, 0)
	if now.Sub(signedAt) > SignatureTolerance || signedAt.Sub(now) > SignatureTolerance {
		return ErrSignatureExpired
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(want, sign(secret, ts, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignatureFor builds a header value for body signed at t
func SignatureFor(secret string, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v0=" + hex.EncodeToString(sign(secret, ts, body))
}

func sign(secret, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// WebhookEvent is a decoded analysis push
type WebhookEvent struct {
	Type           string
	ConversationID string
	AgentID        string
	Patch          store.AnalysisPatch
}

type webhookBody struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	AgentID        string          `json:"agent_id"`
	Analysis       json.RawMessage `json:"analysis"`
	Data           *webhookBody    `json:"data"`
}

// ParseWebhook decodes a push body. Returns ErrMissingConversationID when the
// payload names no conversation.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("elevenlabs: decoding webhook: %w", err)
	}

	src := &b
	if b.Data != nil && b.ConversationID == "" {
		src = b.Data
	}
	if src.ConversationID == "" {
		return nil, ErrMissingConversationID
	}

	patch, err := ParseAnalysis(src.Analysis)
	if err != nil {
		return nil, err
	}
	return &WebhookEvent{
		Type:           b.Type,
		ConversationID: src.ConversationID,
		AgentID:        src.AgentID,
		Patch:          patch,
	}, nil
}
