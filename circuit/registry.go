package circuit

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds one Breaker per provider, created lazily on first
// access with a shared default Config.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	logger   *zap.Logger
}

// NewRegistry creates a breaker registry; cfg is applied to every
// provider unless overridden via ConfigureProvider before first use.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		logger:   logger,
	}
}

// Get returns the breaker for provider, creating it with the registry's
// default config on first access.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = New(provider, r.cfg, r.logger)
	r.breakers[provider] = b
	return b
}

// ConfigureProvider installs a per-provider override config, replacing
// any existing breaker for that provider (only safe to call during
// startup wiring, before traffic begins).
func (r *Registry) ConfigureProvider(provider string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[provider] = New(provider, cfg, r.logger)
}

// All returns a snapshot of every known provider's breaker, used by the
// GET /health endpoint.
func (r *Registry) All() map[string]*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}
