package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/hierarchy"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/validation"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/vaultpath"
)

// metadataUpdate carries the validation rules for caller-supplied metadata.
type metadataUpdate struct {
	Name          *string  `validate:"omitempty,max=200,safename"`
	Temperature   *float64 `validate:"omitempty,gte=0,lte=2"`
	ContextWindow *int     `validate:"omitempty,gt=0"`
}

// CreateNewChat creates an empty chat in folder (the chat-history root when
// empty), writes it immediately and makes it the active chat.
func (s *ChatService) CreateNewChat(ctx context.Context, name, folder string) (*record.Record, error) {
	s.lock()
	defer s.unlock()

	now := s.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Chat " + now.Local().Format("2006-01-02 15.04")
	}
	if err := validation.Name("name", name); err != nil {
		return nil, err
	}
	dir, err := s.folderPath(folder)
	if err != nil {
		return nil, err
	}

	meta := model.ChatMetadata{
		ID:            uuid.NewString(),
		Name:          name,
		ModelName:     s.opts.DefaultModelName,
		Temperature:   s.opts.DefaultTemperature,
		ContextWindow: s.opts.DefaultContextWindow,
		CreatedAt:     now,
		LastModified:  now,
	}
	meta = meta.Clone()
	if err := validation.Struct(meta); err != nil {
		return nil, err
	}
	return s.registerLocked(ctx, "create chat", dir, meta, nil)
}

// CloneChat copies chat id, messages included, into the same folder under the
// name "Copy of <name>" and activates the copy.
func (s *ChatService) CloneChat(ctx context.Context, id string) (*record.Record, error) {
	s.lock()
	defer s.unlock()

	src, err := s.getChatLocked(ctx, id, "")
	if err != nil {
		return nil, err
	}
	now := s.now()
	meta := src.Metadata()
	meta.ID = uuid.NewString()
	meta.Name = "Copy of " + meta.Name
	meta.CreatedAt = now
	meta.LastModified = now
	if err := validation.Struct(meta); err != nil {
		return nil, err
	}
	return s.registerLocked(ctx, "clone chat", vaultpath.Dir(src.FilePath()), meta, src.Messages())
}

// registerLocked writes a new chat, adds it to the cache and index and
// activates it. Nothing is registered when the first write fails.
func (s *ChatService) registerLocked(ctx context.Context, op, dir string, meta model.ChatMetadata, msgs []model.Message) (*record.Record, error) {
	path := vaultpath.Join(dir, hierarchy.ChatFileName(meta.ID, s.opts.FileExtension))
	rec := record.New(s.fs, path, meta, msgs, s.recordOptions())
	if err := rec.SaveImmediately(); err != nil {
		rec.Stop()
		return nil, s.failLocked(ctx, op, err)
	}

	s.cache[meta.ID] = rec
	s.index.Put(rec.Metadata())
	_ = s.index.Persist(ctx)
	s.emit(Event{Type: EventChatListUpdated})
	slog.Info("Chat created", "chat_id", meta.ID, "path", path)

	if err := s.setActiveLocked(ctx, meta.ID); err != nil {
		slog.Warn("New chat could not be activated", "chat_id", meta.ID, "error", err)
	}
	return rec, nil
}

// RenameChat changes the display name of chat id.
func (s *ChatService) RenameChat(ctx context.Context, id, newName string) error {
	newName = strings.TrimSpace(newName)
	if err := validation.Name("name", newName); err != nil {
		return err
	}
	return s.UpdateChatMetadata(ctx, id, record.MetadataPatch{Name: &newName})
}

// UpdateChatMetadata applies patch to chat id. Unchanged fields cause no
// write and no index update.
func (s *ChatService) UpdateChatMetadata(ctx context.Context, id string, patch record.MetadataPatch) error {
	if err := validation.Struct(metadataUpdate{
		Name:          patch.Name,
		Temperature:   patch.Temperature,
		ContextWindow: patch.ContextWindow,
	}); err != nil {
		return err
	}

	s.lock()
	defer s.unlock()

	rec, err := s.getChatLocked(ctx, id, "")
	if err != nil {
		return err
	}
	if !rec.UpdateMetadata(patch) {
		return nil
	}
	if err := s.commitLocked(ctx, "update chat metadata", rec); err != nil {
		return err
	}
	s.emit(Event{Type: EventChatListUpdated})
	return nil
}

// commitLocked writes rec now and refreshes its index entry. A record whose
// write failed is evicted so the next access reloads what is on disk.
func (s *ChatService) commitLocked(ctx context.Context, op string, rec *record.Record) error {
	if err := rec.SaveImmediately(); err != nil {
		s.evictLocked(rec.ID())
		return s.failLocked(ctx, op, err)
	}
	if s.index.Put(rec.Metadata()) {
		_ = s.index.Persist(ctx)
	}
	return nil
}

// evictLocked drops a loaded chat and waits out its in-flight write.
func (s *ChatService) evictLocked(id string) {
	if rec, ok := s.cache[id]; ok {
		rec.Discard()
		delete(s.cache, id)
	}
}

// AddMessage appends a message to chat id. The file write is debounced; the
// index is refreshed right away.
func (s *ChatService) AddMessage(ctx context.Context, id string, role model.Role, content string) (model.Message, error) {
	return s.AppendMessage(ctx, id, model.Message{Role: role, Content: content})
}

// AppendMessage appends a fully populated message to chat id.
func (s *ChatService) AppendMessage(ctx context.Context, id string, msg model.Message) (model.Message, error) {
	s.lock()
	defer s.unlock()
	return s.appendLocked(ctx, id, msg)
}

// AddMessageToActiveChat appends a message to the active chat.
func (s *ChatService) AddMessageToActiveChat(ctx context.Context, role model.Role, content string) (model.Message, error) {
	s.lock()
	defer s.unlock()
	if s.activeID == "" {
		return model.Message{}, fmt.Errorf("%w: no active chat", app_errors.ErrNotFound)
	}
	return s.appendLocked(ctx, s.activeID, model.Message{Role: role, Content: content})
}

func (s *ChatService) appendLocked(ctx context.Context, id string, msg model.Message) (model.Message, error) {
	rec, err := s.getChatLocked(ctx, id, "")
	if err != nil {
		return model.Message{}, err
	}
	added, err := rec.AppendMessage(msg)
	if err != nil {
		return model.Message{}, err
	}
	if s.index.Put(rec.Metadata()) {
		_ = s.index.Persist(ctx)
	}
	s.emit(Event{Type: EventMessageAdded, ChatID: id, Message: &added})
	return added, nil
}

// DeleteMessagesAfter keeps the messages up to and including index and
// deletes the rest. It returns how many messages were removed.
func (s *ChatService) DeleteMessagesAfter(ctx context.Context, id string, index int) (int, error) {
	s.lock()
	defer s.unlock()

	rec, err := s.getChatLocked(ctx, id, "")
	if err != nil {
		return 0, err
	}
	removed, err := rec.DeleteMessagesAfter(index)
	if err != nil || removed == 0 {
		return 0, err
	}
	if err := s.commitLocked(ctx, "delete messages", rec); err != nil {
		return 0, err
	}
	s.emit(Event{Type: EventChatListUpdated})
	return removed, nil
}

// DeleteMessageByTimestamp removes the message of chat id nearest to ts,
// provided it lies within the configured tolerance.
func (s *ChatService) DeleteMessageByTimestamp(ctx context.Context, id string, ts time.Time) error {
	s.lock()
	defer s.unlock()

	rec, err := s.getChatLocked(ctx, id, "")
	if err != nil {
		return err
	}
	removed, err := rec.DeleteMessageByTimestamp(ts, s.opts.TimestampTolerance)
	if err != nil {
		return err
	}
	if err := s.commitLocked(ctx, "delete message", rec); err != nil {
		return err
	}
	s.emit(Event{Type: EventMessageDeleted, ChatID: id, Timestamp: removed.Timestamp})
	return nil
}

// ClearChatMessagesByID removes every message of chat id.
func (s *ChatService) ClearChatMessagesByID(ctx context.Context, id string) error {
	s.lock()
	defer s.unlock()

	rec, err := s.getChatLocked(ctx, id, "")
	if err != nil {
		return err
	}
	rec.ClearMessages()
	if err := s.commitLocked(ctx, "clear messages", rec); err != nil {
		return err
	}
	s.emit(Event{Type: EventMessagesCleared, ChatID: id})
	return nil
}

// DeleteChat removes chat id from disk, the cache and the index. Deleting a
// chat that does not exist succeeds.
func (s *ChatService) DeleteChat(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: chat id must not be empty", app_errors.ErrValidation)
	}
	s.lock()
	defer s.unlock()

	if rec, ok := s.cache[id]; ok {
		if err := rec.DeleteFile(); err != nil {
			// The file is still there; pending edits go to it before the
			// record leaves the cache.
			if ferr := rec.Flush(); ferr != nil {
				slog.Warn("Failed to flush chat after a failed delete", "chat_id", id, "error", ferr)
			}
			s.evictLocked(id)
			return s.failLocked(ctx, "delete chat", err)
		}
	} else {
		path, found, err := s.scanner.FindChatFile(s.root, id)
		if err != nil {
			return s.failLocked(ctx, "delete chat", err)
		}
		if found {
			if err := s.fs.Remove(path); err != nil && !gateway.IsNotExist(err) {
				return s.failLocked(ctx, "delete chat", err)
			}
		}
	}

	delete(s.cache, id)
	if s.index.Remove(id) {
		_ = s.index.Persist(ctx)
		s.emit(Event{Type: EventChatListUpdated})
	}
	if s.activeID == id {
		s.activateFallbackLocked(ctx)
	}
	slog.Info("Chat deleted", "chat_id", id)
	return nil
}

// MoveChat moves chat id into targetFolder, which must exist.
func (s *ChatService) MoveChat(ctx context.Context, id, targetFolder string) error {
	s.lock()
	defer s.unlock()

	dir, err := s.folderPath(targetFolder)
	if err != nil {
		return err
	}
	st, err := s.fs.Stat(dir)
	if err != nil {
		return s.failLocked(ctx, "move chat", err)
	}
	if st == nil || st.Type != gateway.TypeFolder {
		return fmt.Errorf("%w: target folder %q", app_errors.ErrNotFound, dir)
	}

	rec := s.cache[id]
	var from string
	if rec != nil {
		from = rec.FilePath()
	} else {
		p, found, err := s.scanner.FindChatFile(s.root, id)
		if err != nil {
			return s.failLocked(ctx, "move chat", err)
		}
		if !found {
			return fmt.Errorf("%w: chat %s", app_errors.ErrNotFound, id)
		}
		from = p
	}

	to := vaultpath.Join(dir, hierarchy.ChatFileName(id, s.opts.FileExtension))
	if to == from {
		return nil
	}
	if rec != nil {
		if err := rec.Flush(); err != nil {
			slog.Warn("Failed to flush chat before moving it", "chat_id", id, "error", err)
		}
	}
	if err := s.fs.Rename(from, to); err != nil {
		return s.failLocked(ctx, "move chat", err)
	}
	if rec != nil {
		rec.SetFilePath(to)
	}
	slog.Info("Chat moved", "chat_id", id, "from", from, "to", to)
	s.emit(Event{Type: EventChatListUpdated})
	return nil
}
