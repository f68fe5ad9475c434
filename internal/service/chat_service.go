package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/hierarchy"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/index"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/repository"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/vaultpath"
)

// DefaultTimestampTolerance is how far a requested message timestamp may be
// from the stored one and still match.
const DefaultTimestampTolerance = time.Second

// Options configure a ChatService.
type Options struct {
	// ChatHistoryPath is the vault-relative folder holding all chats.
	ChatHistoryPath string
	// FileExtension of chat files, without the dot.
	FileExtension      string
	SaveEnabled        bool
	SaveDebounce       time.Duration
	TimestampTolerance time.Duration

	// Defaults applied to new chats.
	DefaultModelName     string
	DefaultTemperature   *float64
	DefaultContextWindow *int

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// ChatService is the chat store: it owns the index, the cache of loaded
// records and the active-chat pointer, and performs every mutation so that
// the three stay consistent with the files.
//
// Public methods are serialized by one mutex. Events raised while it is held
// are queued and published after it is released.
type ChatService struct {
	mu       sync.Mutex
	fs       gateway.FileSystem
	scanner  *hierarchy.Scanner
	index    *index.Index
	state    *StateService
	events   *EventBus
	opts     Options
	root     string
	cache    map[string]*record.Record
	activeID string
	pending  []Event
}

// NewChatService wires a store over fs, keeping its index and state in repo.
func NewChatService(fs gateway.FileSystem, repo repository.Repository, events *EventBus, opts Options) (*ChatService, error) {
	root, err := vaultpath.Normalize(opts.ChatHistoryPath)
	if err != nil {
		return nil, fmt.Errorf("invalid chat history path: %w", err)
	}
	opts.FileExtension = strings.TrimPrefix(opts.FileExtension, ".")
	if opts.FileExtension == "" {
		return nil, fmt.Errorf("%w: chat file extension must not be empty", app_errors.ErrValidation)
	}
	if opts.TimestampTolerance <= 0 {
		opts.TimestampTolerance = DefaultTimestampTolerance
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if events == nil {
		events = NewEventBus()
	}

	scanner := hierarchy.NewScanner(fs, opts.FileExtension)
	return &ChatService{
		fs:      fs,
		scanner: scanner,
		index:   index.New(repo, fs, scanner, root),
		state:   NewStateService(repo),
		events:  events,
		opts:    opts,
		root:    root,
		cache:   make(map[string]*record.Record),
	}, nil
}

// Subscribe registers an event handler and returns its unsubscribe function.
func (s *ChatService) Subscribe(h Handler) func() {
	return s.events.Subscribe(h)
}

// Root is the normalized chat-history root.
func (s *ChatService) Root() string {
	return s.root
}

func (s *ChatService) lock() { s.mu.Lock() }

// unlock releases the store and then publishes the events queued meanwhile.
func (s *ChatService) unlock() {
	events := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, e := range events {
		s.events.Publish(e)
	}
}

func (s *ChatService) emit(e Event) {
	s.pending = append(s.pending, e)
}

func (s *ChatService) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Millisecond)
}

func (s *ChatService) recordOptions() record.Options {
	return record.Options{
		SaveEnabled:    s.opts.SaveEnabled,
		DebounceWindow: s.opts.SaveDebounce,
		Now:            s.opts.Now,
	}
}

// Initialize prepares the store: it makes sure the chat-history root exists,
// loads the index (rebuilding it when the root changed since the last run or
// the persisted copy is unusable) and restores the active chat.
func (s *ChatService) Initialize(ctx context.Context) error {
	s.lock()
	defer s.unlock()

	force := false
	prevRoot, known, err := s.state.ChatHistoryRoot(ctx)
	if err != nil {
		slog.Warn("Could not read previous chat history root, rebuilding index", "error", err)
		force = true
	} else if known && prevRoot != s.root {
		slog.Info("Chat history root changed, rebuilding index", "previous", prevRoot, "current", s.root)
		force = true
	}

	if s.root != vaultpath.Root {
		st, err := s.fs.Stat(s.root)
		if err != nil {
			return fmt.Errorf("failed to inspect chat history root: %w", err)
		}
		if st == nil {
			if err := s.fs.Mkdir(s.root); err != nil {
				return fmt.Errorf("failed to create chat history root: %w", err)
			}
			slog.Info("Created chat history root", "path", s.root)
		} else if st.Type != gateway.TypeFolder {
			return fmt.Errorf("%w: chat history root %q is not a folder", app_errors.ErrValidation, s.root)
		}
	}

	if err := s.index.Load(ctx, force); err != nil {
		return fmt.Errorf("failed to load chat index: %w", err)
	}
	if err := s.state.SetChatHistoryRoot(ctx, s.root); err != nil {
		slog.Warn("Failed to record chat history root", "error", err)
	}

	active, err := s.state.ActiveChatID(ctx)
	if err != nil {
		slog.Warn("Failed to restore active chat", "error", err)
	}
	if active != "" && !s.index.Has(active) {
		slog.Info("Stored active chat is not indexed, clearing it", "chat_id", active)
		active = ""
		s.persistActive(ctx, "")
	}
	s.activeID = active

	slog.Info("Chat store initialized", "root", s.root, "chats", s.index.Len(), "active_chat_id", active)
	s.emit(Event{Type: EventChatListUpdated})
	return nil
}

// GetChatHierarchy returns the folder/chat tree. Listing failures degrade to
// an empty tree instead of an error.
func (s *ChatService) GetChatHierarchy(ctx context.Context) ([]model.HierarchyNode, error) {
	s.lock()
	defer s.unlock()

	res, err := s.scanner.Scan(s.root, s.index)
	if err != nil {
		slog.Error("Failed to scan chat hierarchy, returning an empty tree", "root", s.root, "error", err)
		return []model.HierarchyNode{}, nil
	}
	if len(res.Unindexed) > 0 {
		slog.Warn("Chat files missing from the index; run a rebuild", "count", len(res.Unindexed), "chat_ids", res.Unindexed)
	}
	return res.Nodes, nil
}

// ListChats returns the metadata of every indexed chat, most recent first.
func (s *ChatService) ListChats(ctx context.Context) []model.ChatMetadata {
	s.lock()
	defer s.unlock()
	return s.listLocked()
}

func (s *ChatService) listLocked() []model.ChatMetadata {
	snap := s.index.Snapshot()
	out := make([]model.ChatMetadata, 0, len(snap))
	for id, e := range snap {
		out = append(out, e.Metadata(id))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastModified.IsZero() != b.LastModified.IsZero():
			return b.LastModified.IsZero()
		case !a.LastModified.Equal(b.LastModified):
			return a.LastModified.After(b.LastModified)
		case a.Name != b.Name:
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out
}

// GetChat returns the record of chat id, loading it on first access.
func (s *ChatService) GetChat(ctx context.Context, id string) (*record.Record, error) {
	s.lock()
	defer s.unlock()
	return s.getChatLocked(ctx, id, "")
}

// GetChatAt loads chat id from an explicit file path.
func (s *ChatService) GetChatAt(ctx context.Context, id, filePath string) (*record.Record, error) {
	s.lock()
	defer s.unlock()
	p, err := s.chatPath(filePath)
	if err != nil {
		return nil, err
	}
	return s.getChatLocked(ctx, id, p)
}

func (s *ChatService) getChatLocked(ctx context.Context, id, explicitPath string) (*record.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: chat id must not be empty", app_errors.ErrValidation)
	}
	if rec, ok := s.cache[id]; ok {
		return rec, nil
	}

	path := explicitPath
	if path == "" {
		found, ok, err := s.scanner.FindChatFile(s.root, id)
		if err != nil {
			slog.Warn("Failed to search for chat file", "chat_id", id, "error", err)
			return nil, fmt.Errorf("failed to locate chat %s: %w", id, err)
		}
		if !ok {
			s.forgetLocked(ctx, id, "chat file not found")
			return nil, fmt.Errorf("%w: chat %s", app_errors.ErrNotFound, id)
		}
		if !s.index.Has(id) {
			slog.Warn("Chat file is not indexed, treating it as gone", "chat_id", id, "path", found)
			return nil, fmt.Errorf("%w: chat %s is not indexed", app_errors.ErrNotFound, id)
		}
		path = found
	}

	rec, err := record.Load(s.fs, path, s.recordOptions())
	if err == nil && rec.ID() != id {
		err = &record.ParseError{Path: path, Field: "metadata.id", Reason: fmt.Sprintf("expected %s, found %s", id, rec.ID())}
	}
	if err != nil {
		if explicitPath != "" || errors.Is(err, app_errors.ErrNotFound) {
			s.forgetLocked(ctx, id, "chat file could not be loaded")
		}
		return nil, err
	}
	s.cache[id] = rec
	return rec, nil
}

// forgetLocked drops a chat that turned out to be gone from the cache and the
// index, moving the active pointer on if it pointed at it.
func (s *ChatService) forgetLocked(ctx context.Context, id, reason string) {
	if rec, ok := s.cache[id]; ok {
		rec.Discard()
		delete(s.cache, id)
	}
	if s.index.Remove(id) {
		slog.Warn("Removed chat from index", "chat_id", id, "reason", reason)
		_ = s.index.Persist(ctx)
		s.emit(Event{Type: EventChatListUpdated})
	}
	if s.activeID == id {
		s.activateFallbackLocked(ctx)
	}
}

// GetActiveChatID returns the active chat id, "" when there is none.
func (s *ChatService) GetActiveChatID() string {
	s.lock()
	defer s.unlock()
	return s.activeID
}

// GetActiveChat returns the active record, nil when no chat is active.
func (s *ChatService) GetActiveChat(ctx context.Context) (*record.Record, error) {
	s.lock()
	defer s.unlock()
	if s.activeID == "" {
		return nil, nil
	}
	return s.getChatLocked(ctx, s.activeID, "")
}

// SetActiveChat makes id the active chat; "" clears the pointer. An id the
// index does not know triggers one rebuild; if it is still unknown the
// previous active chat is kept. An indexed chat whose file is corrupt is
// activated without a record.
func (s *ChatService) SetActiveChat(ctx context.Context, id string) error {
	s.lock()
	defer s.unlock()
	return s.setActiveLocked(ctx, id)
}

func (s *ChatService) setActiveLocked(ctx context.Context, id string) error {
	if id == s.activeID {
		if id != "" {
			if _, ok := s.cache[id]; !ok {
				if _, err := s.getChatLocked(ctx, id, ""); err != nil {
					slog.Warn("Active chat could not be reloaded", "chat_id", id, "error", err)
				}
			}
		}
		return nil
	}

	var rec *record.Record
	if id != "" {
		if !s.index.Has(id) {
			slog.Info("Chat to activate is not indexed, rebuilding once", "chat_id", id)
			s.rebuildLocked(ctx)
			if !s.index.Has(id) {
				return fmt.Errorf("%w: chat %s", app_errors.ErrNotFound, id)
			}
		}
		loaded, err := s.getChatLocked(ctx, id, "")
		switch {
		case errors.Is(err, app_errors.ErrCorruptData):
			// The chat stays indexed; listeners get no record to show.
			slog.Warn("Activated chat could not be loaded", "chat_id", id, "error", err)
		case err != nil:
			return err
		default:
			rec = loaded
		}
	}

	s.activeID = id
	s.persistActive(ctx, id)
	s.emit(Event{Type: EventActiveChatChanged, ChatID: id, Chat: rec})
	return nil
}

func (s *ChatService) persistActive(ctx context.Context, id string) {
	if err := s.state.SetActiveChatID(ctx, id); err != nil {
		slog.Error("Failed to persist active chat", "chat_id", id, "error", err)
	}
}

// activateFallbackLocked points the active chat at the most recently modified
// indexed chat, or clears it when there is none.
func (s *ChatService) activateFallbackLocked(ctx context.Context) {
	next := ""
	if chats := s.listLocked(); len(chats) > 0 {
		next = chats[0].ID
	}

	var rec *record.Record
	if next != "" {
		rec = s.cache[next]
		if rec == nil {
			if p, ok, err := s.scanner.FindChatFile(s.root, next); err == nil && ok {
				if loaded, err := record.Load(s.fs, p, s.recordOptions()); err == nil && loaded.ID() == next {
					s.cache[next] = loaded
					rec = loaded
				}
			}
		}
	}

	slog.Info("Active chat moved", "previous", s.activeID, "chat_id", next)
	s.activeID = next
	s.persistActive(ctx, next)
	s.emit(Event{Type: EventActiveChatChanged, ChatID: next, Chat: rec})
}

// chatPath normalizes p and checks that it lies within the chat-history root.
func (s *ChatService) chatPath(p string) (string, error) {
	n, err := vaultpath.Normalize(p)
	if err != nil {
		return "", err
	}
	if !vaultpath.IsWithin(n, s.root) {
		return "", fmt.Errorf("%w: path %q is outside the chat history folder %q", app_errors.ErrValidation, n, s.root)
	}
	return n, nil
}

// folderPath resolves a folder argument; empty means the chat-history root.
func (s *ChatService) folderPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return s.root, nil
	}
	return s.chatPath(p)
}

// isDefinite reports whether err describes a confirmed outcome; anything else
// leaves the filesystem state unknown.
func isDefinite(err error) bool {
	for _, target := range []error{
		app_errors.ErrValidation,
		app_errors.ErrNotFound,
		app_errors.ErrPermission,
		app_errors.ErrConflict,
		app_errors.ErrCorruptData,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// failLocked classifies a failed filesystem step. Unconfirmed outcomes rebuild
// the index before the error is returned.
func (s *ChatService) failLocked(ctx context.Context, op string, err error) error {
	if isDefinite(err) {
		slog.Warn("Chat store operation failed", "operation", op, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	slog.Error("Filesystem outcome unconfirmed, rebuilding index", "operation", op, "error", err)
	s.rebuildLocked(ctx)
	return fmt.Errorf("%w: %s: %w", app_errors.ErrAmbiguousState, op, err)
}

// rebuildLocked rebuilds the index and brings the cache and active pointer in
// line with it.
func (s *ChatService) rebuildLocked(ctx context.Context) (int, error) {
	n, err := s.index.Rebuild(ctx)
	if err != nil {
		slog.Error("Failed to rebuild chat index", "root", s.root, "error", err)
		return 0, err
	}
	for id, rec := range s.cache {
		if !s.index.Has(id) {
			rec.Discard()
			delete(s.cache, id)
		}
	}
	if s.activeID != "" && !s.index.Has(s.activeID) {
		s.activateFallbackLocked(ctx)
	}
	s.emit(Event{Type: EventChatListUpdated})
	return n, nil
}
