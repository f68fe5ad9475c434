package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
)

// IndexReport lists where the live index and the chat files disagree.
type IndexReport struct {
	// Missing chats have a valid file but no index entry.
	Missing []string
	// Orphaned entries have no valid file.
	Orphaned []string
	// Stale entries differ from the metadata stored in their file.
	Stale []string
}

// Consistent reports whether the index matches the files exactly.
func (r *IndexReport) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Orphaned) == 0 && len(r.Stale) == 0
}

// RebuildIndex rebuilds the index from the chat files and returns the number
// of indexed chats.
func (s *ChatService) RebuildIndex(ctx context.Context) (int, error) {
	s.lock()
	defer s.unlock()
	_ = s.flushAllLocked()
	n, err := s.rebuildLocked(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild chat index: %w", err)
	}
	return n, nil
}

// VerifyIndex compares the live index with a fresh read of every chat file.
// Pending saves are written first; nothing else is modified.
func (s *ChatService) VerifyIndex(ctx context.Context) (*IndexReport, error) {
	s.lock()
	defer s.unlock()

	_ = s.flushAllLocked()

	built, err := s.index.BuildFromFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat files: %w", err)
	}
	live := s.index.Snapshot()

	report := &IndexReport{}
	for id, fromFile := range built {
		entry, ok := live[id]
		switch {
		case !ok:
			report.Missing = append(report.Missing, id)
		case !entry.Equal(fromFile):
			report.Stale = append(report.Stale, id)
		}
	}
	for id := range live {
		if _, ok := built[id]; !ok {
			report.Orphaned = append(report.Orphaned, id)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Orphaned)
	sort.Strings(report.Stale)

	if !report.Consistent() {
		slog.Warn("Chat index disagrees with files",
			"missing", report.Missing, "orphaned", report.Orphaned, "stale", report.Stale)
	}
	return report, nil
}

// SyncWithFilesystem compares the set of chat file names with the index and
// rebuilds when they differ. It reports whether a rebuild ran.
func (s *ChatService) SyncWithFilesystem(ctx context.Context) (bool, error) {
	s.lock()
	defer s.unlock()

	files, err := s.scanner.Files(s.root)
	if err != nil {
		return false, fmt.Errorf("failed to list chat files: %w", err)
	}
	indexed := s.index.IDs()
	same := len(files) == len(indexed)
	for _, id := range indexed {
		if !same {
			break
		}
		_, same = files[id]
	}
	if same {
		return false, nil
	}

	slog.Info("Chat files changed outside the store, rebuilding index", "files", len(files), "indexed", len(indexed))
	if _, err := s.rebuildLocked(ctx); err != nil {
		return false, fmt.Errorf("failed to rebuild chat index: %w", err)
	}
	return true, nil
}

// Close writes every pending debounced save and stops the savers.
func (s *ChatService) Close() error {
	s.lock()
	defer s.unlock()

	err := s.flushAllLocked()
	for _, rec := range s.cache {
		rec.Stop()
	}
	s.cache = make(map[string]*record.Record)
	return err
}

// flushAllLocked writes the pending saves of every loaded chat.
func (s *ChatService) flushAllLocked() error {
	var errs []error
	for id, rec := range s.cache {
		if err := rec.Flush(); err != nil {
			slog.Error("Failed to flush chat", "chat_id", id, "error", err)
			errs = append(errs, fmt.Errorf("chat %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
