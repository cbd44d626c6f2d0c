// Package factory maps a provider name plus resolved configuration to a
// constructed provider.Adapter. It is the single place that knows every
// built-in provider family; reload.Manager
// calls it to build a fresh adapter value when applying a fix, and
// cmd/gateway calls it once per configured provider at startup.
package factory

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/provider/anthropic"
	"github.com/sovereign-gateway/scri/provider/deepseek"
	"github.com/sovereign-gateway/scri/provider/doubao"
	"github.com/sovereign-gateway/scri/provider/gemini"
	"github.com/sovereign-gateway/scri/provider/glm"
	"github.com/sovereign-gateway/scri/provider/grok"
	"github.com/sovereign-gateway/scri/provider/hunyuan"
	"github.com/sovereign-gateway/scri/provider/kimi"
	"github.com/sovereign-gateway/scri/provider/llama"
	"github.com/sovereign-gateway/scri/provider/localcompat"
	"github.com/sovereign-gateway/scri/provider/minimax"
	"github.com/sovereign-gateway/scri/provider/mistral"
	"github.com/sovereign-gateway/scri/provider/openai"
	"github.com/sovereign-gateway/scri/provider/qwen"
)

// Config is the generic per-provider configuration the gateway's
// config package resolves into before calling New.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Extra   map[string]any
}

// New constructs a provider.Adapter for name. Unknown names fall back to
// a generic OpenAI-compatible adapter (localcompat) provided BaseURL is
// set, so Groq/Fireworks/OpenRouter/Ollama/vLLM-style endpoints work
// without a dedicated family package.
func New(name string, cfg Config, logger *zap.Logger) (provider.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch name {
	case "openai":
		org, _ := cfg.Extra["organization"].(string)
		return openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Organization: org, Timeout: cfg.Timeout}, logger), nil

	case "anthropic", "claude":
		return anthropic.New(anthropic.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}, logger), nil

	case "gemini":
		return gemini.New(gemini.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout}, logger), nil

	case "deepseek":
		return deepseek.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "qwen":
		return qwen.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "glm":
		return glm.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "grok", "xai":
		return grok.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "kimi":
		return kimi.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "mistral":
		return mistral.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "minimax":
		return minimax.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "hunyuan":
		return hunyuan.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "doubao":
		return doubao.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil
	case "llama":
		return llama.New(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger), nil

	default:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("factory: unknown provider %q and no base_url given for a generic OpenAI-compatible adapter", name)
		}
		return localcompat.New(localcompat.Config{
			ProviderName: name, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, DefaultModel: cfg.Model, Timeout: cfg.Timeout, SupportsTools: true,
		}, logger), nil
	}
}
