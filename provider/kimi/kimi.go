// Package kimi wraps localcompat for kimi's OpenAI-compatible API.
package kimi

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the kimi provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a kimi adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.moonshot.cn"
	}
	if model == "" {
		model = "moonshot-v1-8k"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "kimi",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/v1/chat/completions",
		EmbedPath:     "/v1/embeddings",
		SupportsTools: true,
	}, logger)}
}
