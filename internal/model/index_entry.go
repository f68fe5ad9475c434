package model

import (
	"fmt"
	"time"
)

// timeLayout is ISO-8601 with millisecond precision, the persisted timestamp form.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in the persisted ISO-8601 form (UTC, milliseconds).
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a persisted ISO-8601 timestamp and returns it in UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// IndexEntry is the denormalized snapshot of ChatMetadata kept in the chat
// index. The chat id is the map key and is not repeated here. Timestamps stay
// in their persisted string form.
type IndexEntry struct {
	Name             string   `json:"name"`
	LastModified     string   `json:"lastModified"`
	CreatedAt        string   `json:"createdAt"`
	ModelName        string   `json:"modelName,omitempty"`
	SelectedRolePath string   `json:"selectedRolePath,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ContextWindow    *int     `json:"contextWindow,omitempty"`
}

// NewIndexEntry derives the index snapshot of m.
func NewIndexEntry(m ChatMetadata) IndexEntry {
	c := m.Clone()
	return IndexEntry{
		Name:             c.Name,
		LastModified:     FormatTime(c.LastModified),
		CreatedAt:        FormatTime(c.CreatedAt),
		ModelName:        c.ModelName,
		SelectedRolePath: c.SelectedRolePath,
		Temperature:      c.Temperature,
		ContextWindow:    c.ContextWindow,
	}
}

// Metadata expands the entry back into ChatMetadata. Unparsable timestamps
// become the zero time.
func (e IndexEntry) Metadata(id string) ChatMetadata {
	created, _ := ParseTime(e.CreatedAt)
	modified, _ := ParseTime(e.LastModified)
	m := ChatMetadata{
		ID:               id,
		Name:             e.Name,
		ModelName:        e.ModelName,
		SelectedRolePath: e.SelectedRolePath,
		Temperature:      e.Temperature,
		ContextWindow:    e.ContextWindow,
		CreatedAt:        created,
		LastModified:     modified,
	}
	return m.Clone()
}

// Clone returns a copy of e that shares no pointers with it.
func (e IndexEntry) Clone() IndexEntry {
	out := e
	if e.Temperature != nil {
		t := *e.Temperature
		out.Temperature = &t
	}
	if e.ContextWindow != nil {
		c := *e.ContextWindow
		out.ContextWindow = &c
	}
	return out
}

// Equal reports whether two entries carry the same values.
func (e IndexEntry) Equal(o IndexEntry) bool {
	if e.Name != o.Name || e.LastModified != o.LastModified || e.CreatedAt != o.CreatedAt ||
		e.ModelName != o.ModelName || e.SelectedRolePath != o.SelectedRolePath {
		return false
	}
	if (e.Temperature == nil) != (o.Temperature == nil) || (e.Temperature != nil && *e.Temperature != *o.Temperature) {
		return false
	}
	if (e.ContextWindow == nil) != (o.ContextWindow == nil) || (e.ContextWindow != nil && *e.ContextWindow != *o.ContextWindow) {
		return false
	}
	return true
}
