// Package hunyuan wraps localcompat for hunyuan's OpenAI-compatible API.
package hunyuan

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the hunyuan provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a hunyuan adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.hunyuan.cloud.tencent.com/v1"
	}
	if model == "" {
		model = "hunyuan-turbo"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "hunyuan",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/chat/completions",
		EmbedPath:     "/embeddings",
		SupportsTools: true,
	}, logger)}
}
