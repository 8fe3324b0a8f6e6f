// ABOUTME: Tests for the derived placeholder summary

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-voice/internal/store"
)

func msgs(roles ...store.Role) []*store.Message {
	out := make([]*store.Message, len(roles))
	for i, r := range roles {
		out[i] = &store.Message{Role: r, Content: "x"}
	}
	return out
}

func TestDeriveSummary(t *testing.T) {
	u, a := store.RoleUser, store.RoleAgent

	tests := []struct {
		name     string
		messages []*store.Message
		want     string
	}{
		{"empty", nil, "No messages in this conversation."},
		{"three users two agents", msgs(u, a, u, a, u), "User asked 3 questions. Total of 5 messages exchanged."},
		{"single question", msgs(u, a), "User asked 1 question. Total of 2 messages exchanged."},
		{"agent only", msgs(a, a), "Total of 2 messages exchanged."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSummary(tt.messages))
		})
	}
}

func TestSourceRole(t *testing.T) {
	role, ok := SourceAI.Role()
	assert.True(t, ok)
	assert.Equal(t, store.RoleAgent, role)

	role, ok = SourceUser.Role()
	assert.True(t, ok)
	assert.Equal(t, store.RoleUser, role)

	_, ok = Source("system").Role()
	assert.False(t, ok)
}
