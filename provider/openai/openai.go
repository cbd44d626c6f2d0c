// Package openai wraps localcompat for OpenAI's Chat Completions API,
// adding only the optional Organization header over the
// OpenAI-compatible base.
package openai

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider/localcompat"
)

const defaultBaseURL = "https://api.openai.com"

// Config configures the OpenAI adapter.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	Timeout      time.Duration
}

// Adapter is the OpenAI provider.
type Adapter struct {
	*localcompat.Adapter
}

// New constructs an OpenAI adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	org := cfg.Organization
	return &Adapter{Adapter: localcompat.New(localcompat.Config{
		ProviderName:  "openai",
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		DefaultModel:  cfg.Model,
		Timeout:       cfg.Timeout,
		SupportsTools: true,
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
			if org != "" {
				req.Header.Set("OpenAI-Organization", org)
			}
			req.Header.Set("Content-Type", "application/json")
		},
	}, logger)}
}
