package repository

import (
	"context"
)

// Well-known keys.
const (
	KeyChatIndex       = "chat_index"
	KeyActiveChatID    = "active_chat_id"
	KeyChatHistoryRoot = "chat_history_root"
)

// Repository is the key/value store that holds the persisted chat index and
// the small pieces of state around it. Values are opaque strings.
// This interface makes it easy to switch storage backends.
type Repository interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for an absent key.
	Delete(ctx context.Context, key string) error
}
