package scri

import "time"

// FinishReason is the closed set of terminal reasons a ChatResponse choice
// can carry.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Usage is token accounting for one ChatResponse.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	TotalTokens     int `json:"total_tokens"`
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Add accumulates another Usage into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// ThinkingConfig requests extended reasoning from the model.
type ThinkingConfig struct {
	Enabled bool `json:"enabled"`
	Budget  int  `json:"budget,omitempty"` // max reasoning tokens, provider-interpreted
}

// ChatRequest is the normalized inbound request. Model is either a user
// alias, an explicit "provider:model" pair, or a bare model id the router
// resolves by prefix/default — see the router package.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Temperature float32           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Tools       []Tool            `json:"tools,omitempty"`
	ToolChoice  ToolChoice        `json:"tool_choice,omitempty"`
	Thinking    *ThinkingConfig   `json:"thinking,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// Deadline is an explicit per-call deadline the caller wants honored in
	// addition to any context.Context deadline already in force. Router.Chat
	// bounds each candidate attempt by the smaller of Deadline and its
	// PerCallTimeout, and the adapter's own HTTP client timeout still
	// applies. ChatStream does not read it.
	Deadline time.Duration `json:"-"`
}

// Lineage is the per-response provenance record.
type Lineage struct {
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Attempts       int       `json:"attempts"`
	Fallback       bool      `json:"fallback"`
	AdapterVersion int       `json:"adapter_version"`
	AttemptHistory []AttemptRecord `json:"attempt_history,omitempty"`
}

// ChatChoice is the model's single answer (SCRI chat is single-choice).
type ChatChoice struct {
	Content      string         `json:"content,omitempty"`
	Blocks       []ContentBlock `json:"blocks,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	FinishReason FinishReason   `json:"finish_reason"`
	Thinking     []ThinkingBlock `json:"thinking,omitempty"`
}

// ChatResponse is the normalized outbound response. Its shape MUST be
// identical regardless of which fallback candidate produced it — only
// Lineage differs.
type ChatResponse struct {
	ID       string     `json:"id"`
	Model    string     `json:"model"`
	Provider string     `json:"provider"`
	Choice   ChatChoice `json:"choice"`
	Usage    Usage      `json:"usage"`
	Lineage  Lineage    `json:"lineage"`
}

// AttemptRecord is one candidate's outcome, surfaced to the caller when
// the router exhausts its candidate list.
type AttemptRecord struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Message  string `json:"message"` // truncated
}
