// Package llama wraps localcompat for llama's OpenAI-compatible API.
package llama

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the llama provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a llama adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.together.xyz"
	}
	if model == "" {
		model = "meta-llama/Llama-3-70b-chat-hf"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "llama",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/v1/chat/completions",
		EmbedPath:     "/v1/embeddings",
		SupportsTools: true,
	}, logger)}
}
