package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/repository"
)

// StateService persists the small pieces of store state that live next to the
// chat index: the active-chat pointer and the chat-history root the index was
// built from.
type StateService struct {
	repo repository.Repository
}

func NewStateService(repo repository.Repository) *StateService {
	return &StateService{repo: repo}
}

// ActiveChatID returns the persisted active chat id, or "" when none is set.
func (s *StateService) ActiveChatID(ctx context.Context) (string, error) {
	val, err := s.repo.Get(ctx, repository.KeyActiveChatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read active chat id: %w", err)
	}
	return val, nil
}

// SetActiveChatID persists id. An empty id clears the pointer.
func (s *StateService) SetActiveChatID(ctx context.Context, id string) error {
	if id == "" {
		if err := s.repo.Delete(ctx, repository.KeyActiveChatID); err != nil {
			return fmt.Errorf("failed to clear active chat id: %w", err)
		}
		return nil
	}
	if err := s.repo.Set(ctx, repository.KeyActiveChatID, id); err != nil {
		return fmt.Errorf("failed to save active chat id: %w", err)
	}
	return nil
}

// ChatHistoryRoot returns the root recorded by the previous run. known is
// false on the first run.
func (s *StateService) ChatHistoryRoot(ctx context.Context) (root string, known bool, err error) {
	val, err := s.repo.Get(ctx, repository.KeyChatHistoryRoot)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read chat history root: %w", err)
	}
	return val, true, nil
}

func (s *StateService) SetChatHistoryRoot(ctx context.Context, root string) error {
	if err := s.repo.Set(ctx, repository.KeyChatHistoryRoot, root); err != nil {
		return fmt.Errorf("failed to save chat history root: %w", err)
	}
	slog.Debug("Recorded chat history root", "root", root)
	return nil
}
