// Package scri defines the normalized, provider-agnostic request/response
// vocabulary (SCRI) every adapter translates to and from. This package has
// zero dependencies on other gateway packages — router, circuit, health,
// and every adapter import it, never the reverse.
package scri

import (
	"encoding/json"
	"time"
)

// Role is the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlockType discriminates the typed-block union carried by a
// Message when its content is not plain text.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockImage      ContentBlockType = "image"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
	BlockThinking   ContentBlockType = "thinking"
)

// TextBlock is plain text content.
type TextBlock struct {
	Text string `json:"text"`
}

// ImageBlock carries either inline base64 bytes or a URI reference.
type ImageBlock struct {
	MediaType string `json:"media_type,omitempty"` // e.g. "image/png"
	Data      string `json:"data,omitempty"`        // base64, mutually exclusive with URI
	URI       string `json:"uri,omitempty"`
}

// ToolUseBlock is a model-issued tool invocation request.
type ToolUseBlock struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultBlock is the caller's answer to a prior ToolUseBlock.
type ToolResultBlock struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ThinkingBlock is opaque provider reasoning text, optionally signed so a
// provider can verify it was not tampered with across turns.
type ThinkingBlock struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// ContentBlock is a tagged union; exactly the field named by Type is set.
// Order of blocks within a Message.Blocks slice is semantically
// significant and MUST be preserved end to end.
type ContentBlock struct {
	Type       ContentBlockType `json:"type"`
	Text       *TextBlock       `json:"text,omitempty"`
	Image      *ImageBlock      `json:"image,omitempty"`
	ToolUse    *ToolUseBlock     `json:"tool_use,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
	Thinking   *ThinkingBlock   `json:"thinking,omitempty"`
}

// NewTextBlock is a convenience constructor for the common case.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: &TextBlock{Text: text}}
}

// Message is one turn in a conversation. Content is either plain text (the
// cheap, common path) or an ordered list of typed Blocks — never both.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
}

// IsBlockform reports whether this message carries typed blocks rather
// than plain text.
func (m Message) IsBlockform() bool { return len(m.Blocks) > 0 }

// Text returns the flattened text content of a message, whether it is
// plain-text form or block form (concatenating TextBlock text; other
// block types, thinking included, are skipped).
func (m Message) Text() string {
	if !m.IsBlockform() {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText && b.Text != nil {
			out += b.Text.Text
		}
	}
	return out
}

// NewMessage builds a plain-text message of the given role.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// NewUserMessage builds a user message.
func NewUserMessage(content string) Message { return NewMessage(RoleUser, content) }

// NewAssistantMessage builds an assistant message.
func NewAssistantMessage(content string) Message { return NewMessage(RoleAssistant, content) }

// NewToolResultMessage builds a tool-result message in plain-text form.
func NewToolResultMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}
