// Package record holds one chat in memory and owns its persisted form:
// parsing, serialization and debounced saving through the filesystem gateway.
package record

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
)

// DefaultDebounce is the coalescing window for Save.
const DefaultDebounce = 1500 * time.Millisecond

var errDeleted = fmt.Errorf("%w: chat file was deleted", app_errors.ErrNotFound)

// Options control persistence of a record.
type Options struct {
	// SaveEnabled gates the debounced Save pathway. SaveImmediately always writes.
	SaveEnabled    bool
	DebounceWindow time.Duration
	// Now is the clock used for activity timestamps. Defaults to time.Now.
	Now func() time.Time
}

// MetadataPatch carries the metadata fields a caller wants to change. Nil
// fields are left alone.
type MetadataPatch struct {
	Name             *string
	ModelName        *string
	SelectedRolePath *string
	Temperature      *float64
	ContextWindow    *int
}

// Record is one chat's metadata and messages.
type Record struct {
	mu       sync.RWMutex
	meta     model.ChatMetadata
	messages []model.Message
	filePath string

	// writeMu serializes writes of this record's file and guards deleted.
	writeMu sync.Mutex
	deleted bool
	fs      gateway.FileSystem
	opts    Options
	saver   *saver
}

// New creates an in-memory record. Nothing is written until Save or SaveImmediately.
func New(fs gateway.FileSystem, filePath string, meta model.ChatMetadata, messages []model.Message, opts Options) *Record {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if messages == nil {
		messages = []model.Message{}
	}
	r := &Record{
		meta:     meta.Clone(),
		messages: model.CloneMessages(messages),
		filePath: filePath,
		fs:       fs,
		opts:     opts,
	}
	r.saver = newSaver(opts.DebounceWindow, r.debouncedWrite)
	return r
}

// Load reads and validates the chat file at filePath. It fails with a wrapped
// ErrNotFound when the file is absent and a *ParseError when it is corrupt.
func Load(fs gateway.FileSystem, filePath string, opts Options) (*Record, error) {
	raw, err := fs.Read(filePath)
	if err != nil {
		slog.Warn("Failed to read chat file", "path", filePath, "error", err)
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	data, err := Parse([]byte(raw))
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = filePath
		}
		slog.Warn("Chat file failed validation", "path", filePath, "error", err)
		return nil, err
	}
	return New(fs, filePath, data.Metadata, data.Messages, opts), nil
}

// ID returns the immutable chat id.
func (r *Record) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta.ID
}

// Metadata returns a copy of the chat metadata.
func (r *Record) Metadata() model.ChatMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta.Clone()
}

// Messages returns a copy of the message list.
func (r *Record) Messages() []model.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.CloneMessages(r.messages)
}

func (r *Record) MessageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

func (r *Record) FilePath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filePath
}

// SetFilePath points the record at a new location after a move or rename on disk.
func (r *Record) SetFilePath(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filePath = p
}

// AddMessage appends a message stamped with the current time.
func (r *Record) AddMessage(role model.Role, content string) (model.Message, error) {
	return r.AppendMessage(model.Message{Role: role, Content: content})
}

// AppendMessage appends msg, defaulting its timestamp to now, and records activity.
func (r *Record) AppendMessage(msg model.Message) (model.Message, error) {
	if !msg.Role.Valid() {
		return model.Message{}, fmt.Errorf("%w: unknown message role %q", app_errors.ErrValidation, msg.Role)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.opts.Now()
	}
	msg.Timestamp = msg.Timestamp.UTC().Truncate(time.Millisecond)
	msg = msg.Clone()

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.touchLocked()
	r.mu.Unlock()

	r.Save()
	return msg.Clone(), nil
}

// ClearMessages empties the message list.
func (r *Record) ClearMessages() {
	r.mu.Lock()
	r.messages = []model.Message{}
	r.touchLocked()
	r.mu.Unlock()
	r.Save()
}

// UpdateMetadata applies the fields of patch that differ from the current
// values and reports whether anything changed.
func (r *Record) UpdateMetadata(patch MetadataPatch) bool {
	r.mu.Lock()
	changed := false
	if patch.Name != nil && *patch.Name != r.meta.Name {
		r.meta.Name = *patch.Name
		changed = true
	}
	if patch.ModelName != nil && *patch.ModelName != r.meta.ModelName {
		r.meta.ModelName = *patch.ModelName
		changed = true
	}
	if patch.SelectedRolePath != nil && *patch.SelectedRolePath != r.meta.SelectedRolePath {
		r.meta.SelectedRolePath = *patch.SelectedRolePath
		changed = true
	}
	if patch.Temperature != nil && (r.meta.Temperature == nil || *r.meta.Temperature != *patch.Temperature) {
		t := *patch.Temperature
		r.meta.Temperature = &t
		changed = true
	}
	if patch.ContextWindow != nil && (r.meta.ContextWindow == nil || *r.meta.ContextWindow != *patch.ContextWindow) {
		c := *patch.ContextWindow
		r.meta.ContextWindow = &c
		changed = true
	}
	if changed {
		r.touchLocked()
	}
	r.mu.Unlock()

	if changed {
		r.Save()
	}
	return changed
}

// DeleteMessagesAfter keeps messages[0..index] and drops the rest. It returns
// the number of removed messages.
func (r *Record) DeleteMessagesAfter(index int) (int, error) {
	r.mu.Lock()
	if index < 0 || index >= len(r.messages) {
		n := len(r.messages)
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: message index %d out of range [0, %d)", app_errors.ErrValidation, index, n)
	}
	removed := len(r.messages) - index - 1
	if removed == 0 {
		r.mu.Unlock()
		return 0, nil
	}
	r.messages = r.messages[:index+1:index+1]
	r.touchLocked()
	r.mu.Unlock()

	r.Save()
	return removed, nil
}

// findLocked returns the position of the message nearest to ts within
// tolerance. Ties go to the earlier message.
func (r *Record) findLocked(ts time.Time, tolerance time.Duration) (int, bool) {
	best, bestDist := -1, tolerance
	for i, m := range r.messages {
		d := m.Timestamp.Sub(ts)
		if d < 0 {
			d = -d
		}
		if d < bestDist || (d == bestDist && best < 0) {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

// DeleteMessageByTimestamp removes the message nearest to ts within tolerance.
func (r *Record) DeleteMessageByTimestamp(ts time.Time, tolerance time.Duration) (model.Message, error) {
	r.mu.Lock()
	i, ok := r.findLocked(ts, tolerance)
	if !ok {
		id := r.meta.ID
		r.mu.Unlock()
		return model.Message{}, fmt.Errorf("%w: no message in chat %s within %s of %s",
			app_errors.ErrNotFound, id, tolerance, model.FormatTime(ts))
	}
	removed := r.messages[i]
	r.messages = append(r.messages[:i:i], r.messages[i+1:]...)
	r.touchLocked()
	r.mu.Unlock()

	r.Save()
	return removed, nil
}

// touchLocked rewrites lastModified, keeping it strictly increasing even when
// the clock has not advanced past the millisecond.
func (r *Record) touchLocked() {
	ts := r.opts.Now().UTC().Truncate(time.Millisecond)
	if !ts.After(r.meta.LastModified) {
		ts = r.meta.LastModified.Add(time.Millisecond)
	}
	r.meta.LastModified = ts
}

// Save schedules a debounced write when persistence is enabled.
func (r *Record) Save() {
	if !r.opts.SaveEnabled {
		return
	}
	r.saver.trigger()
}

// SaveImmediately writes the record now, bypassing the debounce window, so
// the caller can react to a failure synchronously.
func (r *Record) SaveImmediately() error {
	r.saver.takePending()
	return r.write()
}

// Flush writes the record if a debounced save is still pending. Either way it
// returns only after any in-flight write has finished.
func (r *Record) Flush() error {
	if !r.saver.takePending() {
		// Acquiring writeMu waits out a write the timer already started.
		r.writeMu.Lock()
		defer r.writeMu.Unlock()
		return nil
	}
	return r.write()
}

// Stop cancels any pending debounced save. The record must not be saved afterwards.
func (r *Record) Stop() {
	r.saver.stop()
}

// Discard cancels pending saves and waits for an in-flight write to finish.
// Every later write is refused, so the file is never recreated.
func (r *Record) Discard() {
	r.saver.stop()
	r.writeMu.Lock()
	r.deleted = true
	r.writeMu.Unlock()
}

// DeleteFile removes the backing file. A file that is already gone counts as
// success. When removal fails the record stays usable and keeps its pending
// saves.
func (r *Record) DeleteFile() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	p := r.FilePath()
	if err := r.fs.Remove(p); err != nil {
		if !gateway.IsNotExist(err) {
			return fmt.Errorf("failed to delete chat file: %w", err)
		}
		slog.Debug("Chat file already absent", "path", p)
	}
	r.deleted = true
	r.saver.stop()
	return nil
}

func (r *Record) write() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.deleted {
		return errDeleted
	}

	r.mu.RLock()
	data, err := Marshal(r.meta, r.messages)
	p := r.filePath
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := r.fs.Write(p, string(data)); err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}
	return nil
}

func (r *Record) debouncedWrite() {
	if err := r.write(); err != nil && !errors.Is(err, errDeleted) {
		slog.Error("Debounced chat save failed", "chat_id", r.ID(), "path", r.FilePath(), "error", err)
	}
}
