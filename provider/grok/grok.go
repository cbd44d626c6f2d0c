// Package grok wraps localcompat for grok's OpenAI-compatible API.
package grok

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the grok provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a grok adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.x.ai"
	}
	if model == "" {
		model = "grok-beta"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "grok",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/v1/chat/completions",
		EmbedPath:     "/v1/embeddings",
		SupportsTools: true,
	}, logger)}
}
