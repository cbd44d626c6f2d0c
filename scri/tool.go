package scri

import "encoding/json"

// Tool describes a function the model may call. Name is unique within a
// single ChatRequest's tool list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON-Schema-shaped object
}

// ToolChoicePolicy selects how the model is steered toward tool use.
type ToolChoicePolicy string

const (
	ToolChoiceAuto ToolChoicePolicy = "auto"
	ToolChoiceNone ToolChoicePolicy = "none"
	ToolChoiceAny  ToolChoicePolicy = "any"
	// ToolChoiceSpecific forces one named tool; ToolChoice.Name carries it.
	ToolChoiceSpecific ToolChoicePolicy = "specific"
)

// ToolChoice is the tool-selection policy attached to a ChatRequest.
type ToolChoice struct {
	Policy ToolChoicePolicy `json:"policy"`
	Name   string           `json:"name,omitempty"` // set when Policy == ToolChoiceSpecific
}

// ToolCall is a model-issued invocation surfaced on a ChatResponse choice,
// mirroring a ToolUseBlock but at the response-level convenience field
// (adapters populate both where the per-provider wire shape makes the
// distinction natural).
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}
