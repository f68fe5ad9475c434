// Package watcher notices chat files changed by other programs (sync clients,
// editors, a second device) and asks the store to reconcile its index.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
)

// Syncer reconciles the index with the files on disk.
type Syncer interface {
	SyncWithFilesystem(ctx context.Context) (bool, error)
}

// Watcher watches an OS directory tree and calls Syncer once a burst of
// changes has been quiet for the debounce interval.
type Watcher struct {
	dir      string
	syncer   Syncer
	debounce time.Duration
	fsw      *fsnotify.Watcher

	mu         sync.Mutex
	pending    bool
	lastChange time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for dir. Call Start to begin watching.
func New(dir string, syncer Syncer, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		syncer:   syncer,
		debounce: debounce,
		fsw:      fsw,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start adds dir and its subdirectories and starts the event loop.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.dir); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.processEvents()
	go w.processPending()
	slog.Info("Watching chat history for external changes", "dir", w.dir, "debounce", w.debounce)
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			slog.Warn("Failed to watch folder", "dir", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if gateway.IsTempFile(filepath.Base(event.Name)) || event.Op == fsnotify.Chmod {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						slog.Warn("Failed to watch new folder", "dir", event.Name, "error", err)
					}
				}
			}
			slog.Debug("Chat history changed on disk", "path", event.Name, "op", event.Op.String())
			w.mu.Lock()
			w.pending = true
			w.lastChange = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) processPending() {
	defer w.wg.Done()
	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case now := <-ticker.C:
			w.mu.Lock()
			due := w.pending && now.Sub(w.lastChange) >= w.debounce
			if due {
				w.pending = false
			}
			w.mu.Unlock()
			if !due {
				continue
			}

			rebuilt, err := w.syncer.SyncWithFilesystem(w.ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Failed to reconcile chat index with disk", "error", err)
				continue
			}
			if rebuilt {
				slog.Info("Chat index reconciled after external change")
			}
		}
	}
}

// Close stops the watcher and waits for its goroutines.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
