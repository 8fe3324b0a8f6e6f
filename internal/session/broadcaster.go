// ABOUTME: In-memory fan-out of coordinator updates to live viewers
// ABOUTME: Subscribers register per conversation id and receive state, message and analysis changes

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-voice/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// UpdateType identifies what changed in a coordinator
type UpdateType string

const (
	UpdateState        UpdateType = "state"
	UpdateMessage      UpdateType = "message"
	UpdateConversation UpdateType = "conversation"
	UpdateError        UpdateType = "error"
)

// Update is one change published by a coordinator.
// Only the field matching Type is populated, plus State on every update.
type Update struct {
	Type           UpdateType          `json:"type"`
	ConversationID string              `json:"conversation_id"`
	State          State               `json:"state"`
	Speaking       bool                `json:"speaking"`
	Message        *store.Message      `json:"message,omitempty"`
	Conversation   *store.Conversation `json:"conversation,omitempty"`
	Error          string              `json:"error,omitempty"`
	At             time.Time           `json:"at"`
}

// Broadcaster provides in-memory pub/sub for coordinator updates.
// Publishing never blocks; updates are dropped for subscribers that fall behind.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Update // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for updates on a conversation. The returned channel is
// closed when ctx is cancelled, on Unsubscribe, or when the broadcaster closes.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *Update, string) {
	subID := uuid.New().String()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan *Update)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "conversation_id", conversationID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends an update to every subscriber of its conversation.
func (b *Broadcaster) Publish(u *Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send
	for _, ch := range b.subscribers[u.ConversationID] {
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"conversation_id", u.ConversationID,
				"type", u.Type)
		}
	}
}

// Subscribers returns the number of live subscriptions for a conversation.
func (b *Broadcaster) Subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed", "conversation_id", conversationID, "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}

	b.logger.Debug("broadcaster closed")
}
