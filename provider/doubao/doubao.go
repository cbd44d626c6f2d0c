// Package doubao wraps localcompat for doubao's OpenAI-compatible API.
package doubao

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the doubao provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a doubao adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://ark.cn-beijing.volces.com"
	}
	if model == "" {
		model = "Doubao-1.5-pro-32k"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "doubao",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/api/v3/chat/completions",
		EmbedPath:     "/api/v3/embeddings",
		SupportsTools: true,
	}, logger)}
}
