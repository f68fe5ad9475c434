// Package index keeps the id -> IndexEntry map used to list chats without
// opening their files, and knows how to rebuild it from the chat tree.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/hierarchy"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/repository"
)

// Index is the in-memory chat index. It is the last writer wins; persistence
// failures are logged and only cost a rebuild on the next start.
type Index struct {
	mu      sync.RWMutex
	entries map[string]model.IndexEntry
	// root is fixed for the life of the index.
	root    string

	repo    repository.Repository
	fs      gateway.FileSystem
	scanner *hierarchy.Scanner
	sf      singleflight.Group
}

func New(repo repository.Repository, fs gateway.FileSystem, scanner *hierarchy.Scanner, root string) *Index {
	return &Index{
		entries: make(map[string]model.IndexEntry),
		root:    root,
		repo:    repo,
		fs:      fs,
		scanner: scanner,
	}
}

// Load restores the persisted index. A missing or malformed index, or force,
// triggers a rebuild from files. An empty object is a valid index.
func (i *Index) Load(ctx context.Context, force bool) error {
	if !force {
		entries, err := i.readPersisted(ctx)
		if err == nil {
			i.mu.Lock()
			i.entries = entries
			i.mu.Unlock()
			slog.Info("Loaded persisted chat index", "chats", len(entries))
			return nil
		}
		slog.Info("Persisted chat index unusable, rebuilding from files", "reason", err)
	}
	_, err := i.Rebuild(ctx)
	return err
}

func (i *Index) readPersisted(ctx context.Context) (map[string]model.IndexEntry, error) {
	raw, err := i.repo.Get(ctx, repository.KeyChatIndex)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.New("no persisted index")
		}
		return nil, err
	}
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("persisted index is not an object")
	}
	var entries map[string]model.IndexEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("persisted index has the wrong shape: %w", err)
	}
	for id, e := range entries {
		if e.Name == "" || e.LastModified == "" || e.CreatedAt == "" {
			return nil, fmt.Errorf("persisted index entry %s lacks required fields", id)
		}
	}
	return entries, nil
}

// Rebuild replaces the whole index with what BuildFromFiles finds and persists
// it. Concurrent calls share one rebuild.
func (i *Index) Rebuild(ctx context.Context) (int, error) {
	v, err, shared := i.sf.Do("rebuild", func() (interface{}, error) {
		entries, err := i.BuildFromFiles(ctx)
		if err != nil {
			return 0, err
		}
		i.mu.Lock()
		i.entries = entries
		i.mu.Unlock()
		_ = i.Persist(ctx)
		slog.Info("Rebuilt chat index from files", "chats", len(entries), "root", i.root)
		return len(entries), nil
	})
	if err != nil {
		slog.Error("Chat index rebuild failed", "error", err)
		return 0, err
	}
	if shared {
		slog.Debug("Joined an in-flight chat index rebuild")
	}
	return v.(int), nil
}

// BuildFromFiles reads and validates every recognized chat file below the
// root without touching the live index. Invalid files are skipped and logged.
func (i *Index) BuildFromFiles(ctx context.Context) (map[string]model.IndexEntry, error) {
	root := i.root
	entries := make(map[string]model.IndexEntry)
	err := i.scanner.Walk(root, func(path, id string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := i.fs.Read(path)
		if err != nil {
			slog.Warn("Skipping unreadable chat file during rebuild", "chat_id", id, "path", path, "error", err)
			return nil
		}
		data, err := record.Parse([]byte(raw))
		if err != nil {
			slog.Warn("Skipping invalid chat file during rebuild", "chat_id", id, "path", path, "error", err)
			return nil
		}
		if data.Metadata.ID != id {
			slog.Warn("Skipping chat file whose id does not match its name",
				"chat_id", id, "path", path, "metadata_id", data.Metadata.ID)
			return nil
		}
		if _, dup := entries[id]; dup {
			slog.Warn("Skipping duplicate chat file", "chat_id", id, "path", path)
			return nil
		}
		entries[id] = model.NewIndexEntry(data.Metadata)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk chat history %q: %w", root, err)
	}
	return entries, nil
}

// Persist writes the current index to the repository. Errors are logged and
// returned; callers may ignore them.
func (i *Index) Persist(ctx context.Context) error {
	i.mu.RLock()
	data, err := json.Marshal(i.entries)
	i.mu.RUnlock()
	if err != nil {
		slog.Error("Failed to marshal chat index", "error", err)
		return fmt.Errorf("%w: %w", app_errors.ErrInternal, err)
	}
	if err := i.repo.Set(ctx, repository.KeyChatIndex, string(data)); err != nil {
		slog.Error("Failed to persist chat index", "error", err)
		return err
	}
	return nil
}

// Entry returns a copy of the entry for id.
func (i *Index) Entry(id string) (model.IndexEntry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.entries[id]
	if !ok {
		return model.IndexEntry{}, false
	}
	return e.Clone(), true
}

func (i *Index) Has(id string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.entries[id]
	return ok
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// IDs returns the indexed chat ids in sorted order.
func (i *Index) IDs() []string {
	i.mu.RLock()
	ids := make([]string, 0, len(i.entries))
	for id := range i.entries {
		ids = append(ids, id)
	}
	i.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the whole index.
func (i *Index) Snapshot() map[string]model.IndexEntry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]model.IndexEntry, len(i.entries))
	for id, e := range i.entries {
		out[id] = e.Clone()
	}
	return out
}

// Put stores the entry derived from meta and reports whether it changed.
func (i *Index) Put(meta model.ChatMetadata) bool {
	entry := model.NewIndexEntry(meta)
	i.mu.Lock()
	defer i.mu.Unlock()
	if prev, ok := i.entries[meta.ID]; ok && prev.Equal(entry) {
		return false
	}
	i.entries[meta.ID] = entry
	return true
}

// Remove drops ids and reports whether any of them was present.
func (i *Index) Remove(ids ...string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	removed := false
	for _, id := range ids {
		if _, ok := i.entries[id]; ok {
			delete(i.entries, id)
			removed = true
		}
	}
	return removed
}
