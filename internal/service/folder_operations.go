package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/validation"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/vaultpath"
)

// subfolderPath resolves p to a folder strictly below the chat-history root
// and validates every segment added to the root.
func (s *ChatService) subfolderPath(p string) (string, error) {
	n, err := s.chatPath(p)
	if err != nil {
		return "", err
	}
	if n == s.root {
		return "", fmt.Errorf("%w: the chat history folder itself cannot be changed", app_errors.ErrValidation)
	}
	rel := n
	if s.root != vaultpath.Root {
		rel = strings.TrimPrefix(n, s.root+"/")
	}
	for _, seg := range strings.Split(rel, "/") {
		if err := validation.Name("folder", seg); err != nil {
			return "", err
		}
	}
	return n, nil
}

// CreateFolder creates a folder below the chat-history root. Missing parents
// are created too.
func (s *ChatService) CreateFolder(ctx context.Context, folderPath string) error {
	s.lock()
	defer s.unlock()

	p, err := s.subfolderPath(folderPath)
	if err != nil {
		return err
	}
	st, err := s.fs.Stat(p)
	if err != nil {
		return s.failLocked(ctx, "create folder", err)
	}
	if st != nil {
		return fmt.Errorf("%w: %q already exists", app_errors.ErrConflict, p)
	}
	if err := s.fs.Mkdir(p); err != nil {
		return s.failLocked(ctx, "create folder", err)
	}
	slog.Info("Folder created", "path", p)
	s.emit(Event{Type: EventChatListUpdated})
	return nil
}

// RenameFolder gives the folder at folderPath a new name within its parent.
// Index entries are not touched; loaded chats below it get their paths rebased.
func (s *ChatService) RenameFolder(ctx context.Context, folderPath, newName string) error {
	newName = strings.TrimSpace(newName)
	if err := validation.Name("folder", newName); err != nil {
		return err
	}

	s.lock()
	defer s.unlock()

	from, err := s.subfolderPath(folderPath)
	if err != nil {
		return err
	}
	to := vaultpath.Join(vaultpath.Dir(from), newName)
	if to == from {
		return nil
	}
	return s.moveFolderLocked(ctx, "rename folder", from, to)
}

// MoveFolder moves the folder at folderPath into targetFolder.
func (s *ChatService) MoveFolder(ctx context.Context, folderPath, targetFolder string) error {
	s.lock()
	defer s.unlock()

	from, err := s.subfolderPath(folderPath)
	if err != nil {
		return err
	}
	dir, err := s.folderPath(targetFolder)
	if err != nil {
		return err
	}
	if vaultpath.IsWithin(dir, from) {
		return fmt.Errorf("%w: cannot move %q into itself", app_errors.ErrValidation, from)
	}
	to := vaultpath.Join(dir, vaultpath.Base(from))
	if to == from {
		return nil
	}
	st, err := s.fs.Stat(dir)
	if err != nil {
		return s.failLocked(ctx, "move folder", err)
	}
	if st == nil || st.Type != gateway.TypeFolder {
		return fmt.Errorf("%w: target folder %q", app_errors.ErrNotFound, dir)
	}
	return s.moveFolderLocked(ctx, "move folder", from, to)
}

func (s *ChatService) moveFolderLocked(ctx context.Context, op, from, to string) error {
	st, err := s.fs.Stat(from)
	if err != nil {
		return s.failLocked(ctx, op, err)
	}
	if st == nil || st.Type != gateway.TypeFolder {
		return fmt.Errorf("%w: folder %q", app_errors.ErrNotFound, from)
	}
	if st, err := s.fs.Stat(to); err != nil {
		return s.failLocked(ctx, op, err)
	} else if st != nil {
		return fmt.Errorf("%w: %q already exists", app_errors.ErrConflict, to)
	}

	// Pending saves must land before the files move away from under them.
	for id, rec := range s.cache {
		if vaultpath.IsWithin(rec.FilePath(), from) {
			if err := rec.Flush(); err != nil {
				slog.Warn("Failed to flush chat before moving its folder", "chat_id", id, "error", err)
			}
		}
	}
	if err := s.fs.Rename(from, to); err != nil {
		return s.failLocked(ctx, op, err)
	}
	for _, rec := range s.cache {
		if p, ok := vaultpath.Rebase(rec.FilePath(), from, to); ok {
			rec.SetFilePath(p)
		}
	}
	slog.Info("Folder moved", "from", from, "to", to)
	s.emit(Event{Type: EventChatListUpdated})
	return nil
}

// DeleteFolder recursively deletes a folder and every chat in it. The chats
// leave the index before the files are removed. Deleting a missing folder
// succeeds. When removal fails the index is rebuilt from what is left and the
// previous active chat is restored if it survived.
func (s *ChatService) DeleteFolder(ctx context.Context, folderPath string) error {
	s.lock()
	defer s.unlock()

	p, err := s.subfolderPath(folderPath)
	if err != nil {
		return err
	}
	st, err := s.fs.Stat(p)
	if err != nil {
		return s.failLocked(ctx, "delete folder", err)
	}
	if st == nil {
		return nil
	}
	if st.Type != gateway.TypeFolder {
		return fmt.Errorf("%w: %q is not a folder", app_errors.ErrValidation, p)
	}

	files, err := s.scanner.Files(p)
	if err != nil {
		return s.failLocked(ctx, "delete folder", err)
	}
	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
		s.evictLocked(id)
	}
	// Chats loaded from a mismatched path are still below the folder.
	for id, rec := range s.cache {
		if vaultpath.IsWithin(rec.FilePath(), p) {
			ids = append(ids, id)
			s.evictLocked(id)
		}
	}

	prevActive := s.activeID
	s.index.Remove(ids...)
	activeGone := false
	for _, id := range ids {
		if id == s.activeID {
			activeGone = true
		}
	}
	if activeGone {
		s.activateFallbackLocked(ctx)
	}
	_ = s.index.Persist(ctx)
	s.emit(Event{Type: EventChatListUpdated})

	if err := s.fs.Rmdir(p, true); err != nil && !gateway.IsNotExist(err) {
		// Some or all of the chats survived; the index must list them again.
		if isDefinite(err) {
			s.rebuildLocked(ctx)
		}
		err = s.failLocked(ctx, "delete folder", err)
		if prevActive != s.activeID && s.index.Has(prevActive) {
			if aerr := s.setActiveLocked(ctx, prevActive); aerr != nil {
				slog.Warn("Failed to restore active chat", "chat_id", prevActive, "error", aerr)
			}
		}
		return err
	}
	slog.Info("Folder deleted", "path", p, "chats", len(ids))
	return nil
}
