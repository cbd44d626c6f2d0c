// Package minimax wraps localcompat for minimax's OpenAI-compatible API.
package minimax

import (
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

// Adapter is the minimax provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs a minimax adapter.
func New(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.minimax.io"
	}
	if model == "" {
		model = "abab6.5-chat"
	}
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "minimax",
		APIKey:        apiKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		Timeout:       timeout,
		EndpointPath:  "/v1/text/chatcompletion_v2",
		EmbedPath:     "/v1/embeddings",
		SupportsTools: true,
	}, logger)}
}
