// Package qwen wraps localcompat for qwen's OpenAI-compatible API.
package qwen

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the qwen provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a qwen adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com"
	}
	if model == "" {
		model = "qwen3-235b-a22b"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "qwen",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/compatible-mode/v1/chat/completions",
		EmbedPath:     "/compatible-mode/v1/embeddings",
		SupportsTools: true,
	}, logger)}
}
