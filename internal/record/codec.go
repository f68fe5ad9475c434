package record

import (
	"bytes"
	"encoding/json"
	"fmt"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
)

// ParseError reports the first field of a chat file that failed structural
// validation. It always matches app_errors.ErrCorruptData.
type ParseError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	where := "chat file"
	if e.Path != "" {
		where = fmt.Sprintf("chat file %q", e.Path)
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", where, e.Reason)
	}
	return fmt.Sprintf("%s: field '%s': %s", where, e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error { return app_errors.ErrCorruptData }

// Persisted shapes. Timestamps stay strings until validated.
type fileDoc struct {
	Metadata json.RawMessage `json:"metadata"`
	Messages json.RawMessage `json:"messages"`
}

type metadataDoc struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	ModelName        string   `json:"modelName,omitempty"`
	SelectedRolePath string   `json:"selectedRolePath,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ContextWindow    *int     `json:"contextWindow,omitempty"`
	CreatedAt        string   `json:"createdAt"`
	LastModified     string   `json:"lastModified"`
}

type messageDoc struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Timestamp  string           `json:"timestamp"`
	Images     []string         `json:"images,omitempty"`
	ToolCalls  []model.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type outDoc struct {
	Metadata metadataDoc  `json:"metadata"`
	Messages []messageDoc `json:"messages"`
}

// Data is the typed content of a chat file.
type Data struct {
	Metadata model.ChatMetadata
	Messages []model.Message
}

// Parse decodes and validates the persisted form of a chat. The returned error
// is a *ParseError for every structural problem.
func Parse(raw []byte) (*Data, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ParseError{Reason: "content is not a JSON object"}
	}

	var doc fileDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, &ParseError{Reason: "invalid JSON: " + err.Error()}
	}
	if isAbsent(doc.Metadata) {
		return nil, &ParseError{Field: "metadata", Reason: "missing"}
	}

	var meta metadataDoc
	if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
		return nil, &ParseError{Field: "metadata", Reason: err.Error()}
	}
	if meta.ID == "" {
		return nil, &ParseError{Field: "metadata.id", Reason: "missing"}
	}
	if meta.Name == "" {
		return nil, &ParseError{Field: "metadata.name", Reason: "empty"}
	}
	created, err := model.ParseTime(meta.CreatedAt)
	if err != nil {
		return nil, &ParseError{Field: "metadata.createdAt", Reason: err.Error()}
	}
	modified, err := model.ParseTime(meta.LastModified)
	if err != nil {
		return nil, &ParseError{Field: "metadata.lastModified", Reason: err.Error()}
	}

	if isAbsent(doc.Messages) || bytes.TrimSpace(doc.Messages)[0] != '[' {
		return nil, &ParseError{Field: "messages", Reason: "must be an array"}
	}
	var msgs []messageDoc
	if err := json.Unmarshal(doc.Messages, &msgs); err != nil {
		return nil, &ParseError{Field: "messages", Reason: err.Error()}
	}

	out := &Data{
		Metadata: model.ChatMetadata{
			ID:               meta.ID,
			Name:             meta.Name,
			ModelName:        meta.ModelName,
			SelectedRolePath: meta.SelectedRolePath,
			Temperature:      meta.Temperature,
			ContextWindow:    meta.ContextWindow,
			CreatedAt:        created,
			LastModified:     modified,
		},
		Messages: make([]model.Message, 0, len(msgs)),
	}
	for i, m := range msgs {
		role := model.Role(m.Role)
		if !role.Valid() {
			return nil, &ParseError{Field: fmt.Sprintf("messages[%d].role", i), Reason: fmt.Sprintf("unknown role %q", m.Role)}
		}
		ts, err := model.ParseTime(m.Timestamp)
		if err != nil {
			return nil, &ParseError{Field: fmt.Sprintf("messages[%d].timestamp", i), Reason: err.Error()}
		}
		out.Messages = append(out.Messages, model.Message{
			Role:       role,
			Content:    m.Content,
			Timestamp:  ts,
			Images:     m.Images,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	return out, nil
}

// Marshal renders a chat in its persisted form.
func Marshal(meta model.ChatMetadata, messages []model.Message) ([]byte, error) {
	doc := outDoc{
		Metadata: metadataDoc{
			ID:               meta.ID,
			Name:             meta.Name,
			ModelName:        meta.ModelName,
			SelectedRolePath: meta.SelectedRolePath,
			Temperature:      meta.Temperature,
			ContextWindow:    meta.ContextWindow,
			CreatedAt:        model.FormatTime(meta.CreatedAt),
			LastModified:     model.FormatTime(meta.LastModified),
		},
		Messages: make([]messageDoc, 0, len(messages)),
	}
	for _, m := range messages {
		doc.Messages = append(doc.Messages, messageDoc{
			Role:       string(m.Role),
			Content:    m.Content,
			Timestamp:  model.FormatTime(m.Timestamp),
			Images:     m.Images,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal chat %s: %w", app_errors.ErrInternal, meta.ID, err)
	}
	return data, nil
}

func isAbsent(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
