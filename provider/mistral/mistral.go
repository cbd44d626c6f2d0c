// Package mistral wraps localcompat for mistral's OpenAI-compatible API.
package mistral

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the mistral provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a mistral adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.mistral.ai"
	}
	if model == "" {
		model = "mistral-large-latest"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "mistral",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/v1/chat/completions",
		EmbedPath:     "/v1/embeddings",
		SupportsTools: true,
	}, logger)}
}
