// Package glm wraps localcompat for glm's OpenAI-compatible API.
package glm

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the glm provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a glm adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://open.bigmodel.cn"
	}
	if model == "" {
		model = "glm-4.5"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "glm",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/api/paas/v4/chat/completions",
		EmbedPath:     "/api/paas/v4/embeddings",
		SupportsTools: true,
	}, logger)}
}
