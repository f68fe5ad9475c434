package model

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleError:
		return true
	}
	return false
}

// ChatMetadata describes one chat. ID is immutable once created and
// LastModified is rewritten on every mutation that records activity.
type ChatMetadata struct {
	ID               string    `json:"id" validate:"required"`
	Name             string    `json:"name" validate:"required"`
	ModelName        string    `json:"modelName,omitempty"`
	SelectedRolePath string    `json:"selectedRolePath,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	ContextWindow    *int      `json:"contextWindow,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	LastModified     time.Time `json:"lastModified"`
}

// Clone returns a deep copy of m.
func (m ChatMetadata) Clone() ChatMetadata {
	out := m
	if m.Temperature != nil {
		t := *m.Temperature
		out.Temperature = &t
	}
	if m.ContextWindow != nil {
		c := *m.ContextWindow
		out.ContextWindow = &c
	}
	return out
}

// ToolFunction is the function part of a tool call.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation requested by an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// Message stores a single message in a chat. Messages carry no sequence
// number; ordering is insertion order.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	Images     []string   `json:"images,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Images != nil {
		out.Images = append([]string(nil), m.Images...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return out
}

// CloneMessages deep-copies a message slice.
func CloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
