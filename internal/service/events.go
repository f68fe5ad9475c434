package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
)

// EventType names a change notification.
type EventType string

const (
	EventChatListUpdated   EventType = "chat-list-updated"
	EventActiveChatChanged EventType = "active-chat-changed"
	EventMessageAdded      EventType = "message-added"
	EventMessageDeleted    EventType = "message-deleted"
	EventMessagesCleared   EventType = "messages-cleared"
)

// Event is delivered synchronously to every subscriber. Only the fields that
// belong to Type are set.
type Event struct {
	Type   EventType
	ChatID string
	// Chat is the newly active record for EventActiveChatChanged; it may be nil.
	Chat      *record.Record
	Message   *model.Message
	Timestamp time.Time
}

// Handler receives events. It may call back into the ChatService.
type Handler func(Event)

// EventBus fans events out to subscribers in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	next     int
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *EventBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every current subscriber. A panicking handler is
// logged and does not stop delivery to the others.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "event", e.Type, "chat_id", e.ChatID, "panic", r)
		}
	}()
	h(e)
}
