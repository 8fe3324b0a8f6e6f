// ABOUTME: Placeholder summary derived from a transcript when no richer analysis exists
// ABOUTME: Pure function of the message count and the number of user messages

package session

import (
	"fmt"
	"strings"

	"github.com/2389/coven-voice/internal/store"
)

// EmptySummary is the summary of a conversation with no messages
const EmptySummary = "No messages in this conversation."

// DeriveSummary describes a transcript by its counts, for example
// "User asked 3 questions. Total of 5 messages exchanged."
func DeriveSummary(messages []*store.Message) string {
	if len(messages) == 0 {
		return EmptySummary
	}

	users := 0
	for _, m := range messages {
		if m.Role == store.RoleUser {
			users++
		}
	}

	var parts []string
	if users > 0 {
		noun := "question"
		if users > 1 {
			noun = "questions"
		}
		parts = append(parts, fmt.Sprintf("User asked %d %s", users, noun))
	}
	parts = append(parts, fmt.Sprintf("Total of %d messages exchanged", len(messages)))

	return strings.Join(parts, ". ") + "."
}
