package scri

// EmbeddingRequest asks a provider to embed one or more inputs.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingResponse carries one vector per input, in input order.
type EmbeddingResponse struct {
	Model      string      `json:"model"`
	Provider   string      `json:"provider"`
	Embeddings [][]float32 `json:"embeddings"`
	Usage      Usage       `json:"usage"`
}

// ModelCapabilities describes one model a provider exposes, returned by
// Adapter.ListModels and surfaced on GET /models.
type ModelCapabilities struct {
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	SupportsTools  bool   `json:"supports_tools"`
	SupportsImages bool   `json:"supports_images"`
	SupportsEmbed  bool   `json:"supports_embed"`
	MaxInputTokens int    `json:"max_input_tokens,omitempty"`
}
