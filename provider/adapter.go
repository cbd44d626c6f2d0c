// Package provider defines the adapter contract every backend integration
// implements, and the registry that looks adapters up by name. An adapter
// translates between one backend's wire format and the scri package's
// stable normalized vocabulary, absorbing that backend's drift so it
// never leaks past this boundary.
package provider

import (
	"context"

	"github.com/sovereign-gateway/scri/scri"
)

// Adapter is the contract every provider integration implements. A
// reload replaces the *value* behind a live adapter pointer (see package
// reload); the interface itself never changes shape across a fix.
type Adapter interface {
	// Name is the adapter's provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Chat sends a synchronous chat request and returns a normalized
	// response. Implementations translate scri types to and from the
	// backend's wire format internally.
	Chat(ctx context.Context, req scri.ChatRequest) (scri.ChatResponse, error)

	// ChatStream sends a streaming chat request. The returned channel is
	// closed by the adapter after it has emitted a terminal StreamEvent
	// (StreamFinish or one carrying Err) — callers must not assume a
	// closed channel alone means success.
	ChatStream(ctx context.Context, req scri.ChatRequest) (<-chan scri.StreamEvent, error)

	// Embed computes embeddings. Adapters that don't support embeddings
	// return an errorkind.Validation AdapterError.
	Embed(ctx context.Context, req scri.EmbeddingRequest) (scri.EmbeddingResponse, error)

	// ListModels returns the backend's currently known model catalog.
	ListModels(ctx context.Context) ([]scri.ModelCapabilities, error)

	// HealthCheck performs a cheap, side-effect-free call used by the
	// reload manager's verify step. The circuit breaker does not call it:
	// its half-open probe is the next real request it admits.
	HealthCheck(ctx context.Context) error

	// ConvertMessages translates msgs into this backend's native message
	// payload. Pure and side-effect free; the concrete type is
	// provider-native, so the return is any.
	ConvertMessages(msgs []scri.Message) (any, error)

	// ConvertTools translates tools into this backend's native tool
	// payload. Pure and side-effect free.
	ConvertTools(tools []scri.Tool) (any, error)
}
