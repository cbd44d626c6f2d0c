package router

import "strings"

// PrefixRule routes a model-ID prefix (e.g. "gpt-4o", "claude-3-5-sonnet")
// to a provider name.
type PrefixRule struct {
	Prefix   string
	Provider string
}

// PrefixRouter matches the longest configured prefix against a model ID.
type PrefixRouter struct {
	rules []PrefixRule
}

// NewPrefixRouter sorts rules by descending prefix length so the longest
// match always wins, then stores them. A bubble sort is fine here: rule
// counts are small (one entry per known model family).
func NewPrefixRouter(rules []PrefixRule) *PrefixRouter {
	sorted := make([]PrefixRule, len(rules))
	copy(sorted, rules)
	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if len(sorted[j].Prefix) < len(sorted[j+1].Prefix) {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}
	return &PrefixRouter{rules: sorted}
}

// RouteByModelID returns the provider for the longest matching prefix.
func (r *PrefixRouter) RouteByModelID(modelID string) (string, bool) {
	if r == nil || len(r.rules) == 0 || modelID == "" {
		return "", false
	}
	for _, rule := range r.rules {
		if strings.HasPrefix(modelID, rule.Prefix) {
			return rule.Provider, true
		}
	}
	return "", false
}

// DefaultPrefixRules is the built-in family-name inference table, covering
// every adapter the factory package knows how to build.
var DefaultPrefixRules = []PrefixRule{
	{Prefix: "gpt-", Provider: "openai"},
	{Prefix: "o1", Provider: "openai"},
	{Prefix: "o3", Provider: "openai"},
	{Prefix: "claude-", Provider: "anthropic"},
	{Prefix: "gemini-", Provider: "gemini"},
	{Prefix: "deepseek-", Provider: "deepseek"},
	{Prefix: "qwen", Provider: "qwen"},
	{Prefix: "glm-", Provider: "glm"},
	{Prefix: "grok-", Provider: "grok"},
	{Prefix: "moonshot-", Provider: "kimi"},
	{Prefix: "mistral-", Provider: "mistral"},
	{Prefix: "abab", Provider: "minimax"},
	{Prefix: "hunyuan-", Provider: "hunyuan"},
	{Prefix: "doubao-", Provider: "doubao"},
	{Prefix: "llama", Provider: "llama"},
}
