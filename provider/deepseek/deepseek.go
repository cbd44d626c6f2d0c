// Package deepseek wraps localcompat for DeepSeek's OpenAI-compatible API.
package deepseek

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the DeepSeek provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a DeepSeek adapter. apiKey/baseURL/model/timeout come
// from resolved configuration; an empty baseURL falls back to DeepSeek's
// public endpoint.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	if model == "" {
		model = "deepseek-chat"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "deepseek",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/chat/completions",
		EmbedPath:     "/embeddings",
		SupportsTools: true,
	}, logger)}
}
