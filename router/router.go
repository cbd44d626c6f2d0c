// Package router implements alias resolution and the candidate-fallback
// engine: a logical model name resolves to an ordered list of
// (provider, model) candidates, and dispatch walks that list
// left-to-right, consulting each candidate's circuit breaker
// (circuit.Breaker.Allow) and paused state (health.Monitor.Paused)
// before invoking its adapter.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/circuit"
	"github.com/sovereign-gateway/scri/errorkind"
	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/scri"
)

// Candidate is one resolved (provider, model) pair in dispatch order.
type Candidate struct {
	Provider string
	Model    string
	Priority int
}

// Config configures alias resolution and fallback ranking.
type Config struct {
	// Aliases maps a user-facing name straight to a canonical
	// "provider:model" or bare model string — checked first.
	Aliases map[string]string
	// Fallbacks maps a requested model name (as the caller sent it,
	// before alias resolution) to its ordered candidate
	// list (each entry "provider:model" or bare "provider"), used once
	// the primary provider for that model is determined. The primary
	// itself need not be repeated; it is always tried first.
	Fallbacks map[string][]string
	// DefaultProvider is used when no alias, explicit form, or prefix
	// rule resolves a name.
	DefaultProvider string
	// Priorities maps a provider name to its configured priority; lower
	// ranks higher, and local providers share priority 0, the highest.
	// Fallback candidates are sorted by this before dispatch; providers
	// absent from the map rank last, in configured order.
	Priorities map[string]int
	// PrefixRules overrides DefaultPrefixRules when non-nil.
	PrefixRules []PrefixRule
	// PerCallTimeout bounds each candidate attempt; the request's own
	// deadline (from ctx) still takes precedence if sooner.
	PerCallTimeout time.Duration
}

// RouterErrorKind distinguishes the ways routing can fail.
type RouterErrorKind string

const (
	ErrAllProvidersFailed RouterErrorKind = "all_providers_failed"
	ErrNoCandidate        RouterErrorKind = "no_candidate"
	ErrDisabled           RouterErrorKind = "disabled"
)

// RouterError is returned when routing cannot produce a response.
type RouterError struct {
	Kind     RouterErrorKind
	Model    string
	Attempts []scri.AttemptRecord
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router: %s for model %q after %d attempt(s)", e.Kind, e.Model, len(e.Attempts))
}

// Router resolves a logical model name to a provider and dispatches with
// fallback across the candidate list.
type Router struct {
	cfg      Config
	registry *provider.Registry
	breakers *circuit.Registry
	health   *health.Monitor
	prefix   *PrefixRouter
	logger   *zap.Logger
}

// New constructs a Router.
func New(cfg Config, registry *provider.Registry, breakers *circuit.Registry, monitor *health.Monitor, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := cfg.PrefixRules
	if rules == nil {
		rules = DefaultPrefixRules
	}
	return &Router{
		cfg:      cfg,
		registry: registry,
		breakers: breakers,
		health:   monitor,
		prefix:   NewPrefixRouter(rules),
		logger:   logger,
	}
}

func splitProviderModel(name string) (provider, model string, ok bool) {
	p, m, found := strings.Cut(name, ":")
	if !found {
		return "", name, false
	}
	return p, m, true
}

// resolvePrimary applies the alias-resolution order: user alias table,
// explicit provider:model form, prefix inference, default provider.
func (r *Router) resolvePrimary(requested string) (provider, model string) {
	if canonical, ok := r.cfg.Aliases[requested]; ok {
		if p, m, found := splitProviderModel(canonical); found {
			return p, m
		}
		requested = canonical
	}
	if p, m, found := splitProviderModel(requested); found {
		return p, m
	}
	if p, ok := r.prefix.RouteByModelID(requested); ok {
		return p, requested
	}
	return r.cfg.DefaultProvider, requested
}

// priority resolves a provider's configured rank; unranked providers
// sort last, in configured order.
func (r *Router) priority(provider string) int {
	if p, ok := r.cfg.Priorities[provider]; ok {
		return p
	}
	return math.MaxInt
}

// candidates builds the ordered dispatch list: primary first, then any
// configured fallbacks for the requested model name, ranked by provider
// priority (local providers share priority 0, the highest; ties keep
// configured order).
func (r *Router) candidates(requested string) []Candidate {
	primaryProvider, model := r.resolvePrimary(requested)
	out := []Candidate{{Provider: primaryProvider, Model: model, Priority: r.priority(primaryProvider)}}

	fallbacks := make([]Candidate, 0, len(r.cfg.Fallbacks[requested]))
	for _, fb := range r.cfg.Fallbacks[requested] {
		p, m, found := splitProviderModel(fb)
		if !found {
			p, m = fb, model
		}
		if p == primaryProvider && m == model {
			continue
		}
		fallbacks = append(fallbacks, Candidate{Provider: p, Model: m, Priority: r.priority(p)})
	}
	sort.SliceStable(fallbacks, func(i, j int) bool { return fallbacks[i].Priority < fallbacks[j].Priority })
	return append(out, fallbacks...)
}

// Chat resolves req.Model and dispatches across the candidate list.
func (r *Router) Chat(ctx context.Context, req scri.ChatRequest) (scri.ChatResponse, error) {
	candidates := r.candidates(req.Model)
	if len(candidates) == 0 {
		return scri.ChatResponse{}, &RouterError{Kind: ErrNoCandidate, Model: req.Model}
	}

	var attempts []scri.AttemptRecord
	registered := false
	for idx, cand := range candidates {
		adapter, ok := r.registry.Get(cand.Provider)
		if !ok {
			attempts = append(attempts, scri.AttemptRecord{Provider: cand.Provider, Kind: string(errorkind.Unknown), Message: "adapter not registered"})
			continue
		}
		registered = true

		breaker := r.breakers.Get(cand.Provider)
		if r.health.Paused(cand.Provider) || !breaker.Allow() {
			attempts = append(attempts, scri.AttemptRecord{Provider: cand.Provider, Kind: "skipped", Message: "paused or circuit open"})
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		timeout := r.cfg.PerCallTimeout
		if req.Deadline > 0 && (timeout <= 0 || req.Deadline < timeout) {
			timeout = req.Deadline
		}
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		attemptReq := req
		attemptReq.Model = cand.Model
		resp, err := adapter.Chat(callCtx, attemptReq)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			breaker.RecordSuccess()
			r.health.RecordSuccess(cand.Provider)
			resp.Lineage.Fallback = idx > 0
			resp.Lineage.Attempts = idx + 1
			resp.Lineage.AttemptHistory = attempts
			return resp, nil
		}

		if ctx.Err() != nil {
			// Caller cancellation/deadline — never attributed to the
			// provider as a failure.
			return scri.ChatResponse{}, ctx.Err()
		}

		kind := errorkind.Kind(errorkind.Unknown)
		if ae, ok := errorkind.AsAdapterError(err); ok {
			kind = ae.Kind
		}
		breaker.RecordFailure(kind)
		r.health.RecordError(cand.Provider, kind, err.Error(), 0)
		attempts = append(attempts, scri.AttemptRecord{Provider: cand.Provider, Kind: string(kind), Message: err.Error()})

		if errorkind.TerminalForRequest(kind) {
			// The request itself is at fault — rerouting to another
			// provider cannot change the outcome.
			return scri.ChatResponse{}, err
		}
	}

	if !registered {
		// Nothing was ever invokable for this name.
		return scri.ChatResponse{}, &RouterError{Kind: ErrNoCandidate, Model: req.Model, Attempts: attempts}
	}
	return scri.ChatResponse{}, &RouterError{Kind: ErrAllProvidersFailed, Model: req.Model, Attempts: attempts}
}

// ChatStream resolves and dispatches a streaming request. Fallback across
// candidates is only possible before the first event is emitted — once
// bytes have reached the caller, switching providers mid-stream would
// violate the "identical response shape" transparency guarantee, so a
// failure after streaming has started is terminal.
func (r *Router) ChatStream(ctx context.Context, req scri.ChatRequest) (<-chan scri.StreamEvent, error) {
	candidates := r.candidates(req.Model)
	if len(candidates) == 0 {
		return nil, &RouterError{Kind: ErrNoCandidate, Model: req.Model}
	}

	var attempts []scri.AttemptRecord
	registered := false
	for _, cand := range candidates {
		adapter, ok := r.registry.Get(cand.Provider)
		if !ok {
			continue
		}
		registered = true
		breaker := r.breakers.Get(cand.Provider)
		if r.health.Paused(cand.Provider) || !breaker.Allow() {
			continue
		}

		attemptReq := req
		attemptReq.Model = cand.Model
		ch, err := adapter.ChatStream(ctx, attemptReq)
		if err == nil {
			breaker.RecordSuccess()
			r.health.RecordSuccess(cand.Provider)
			return ch, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		kind := errorkind.Kind(errorkind.Unknown)
		if ae, ok := errorkind.AsAdapterError(err); ok {
			kind = ae.Kind
		}
		breaker.RecordFailure(kind)
		r.health.RecordError(cand.Provider, kind, err.Error(), 0)
		attempts = append(attempts, scri.AttemptRecord{Provider: cand.Provider, Kind: string(kind), Message: err.Error()})

		if errorkind.TerminalForRequest(kind) {
			return nil, err
		}
	}

	if !registered {
		return nil, &RouterError{Kind: ErrNoCandidate, Model: req.Model, Attempts: attempts}
	}
	return nil, &RouterError{Kind: ErrAllProvidersFailed, Model: req.Model, Attempts: attempts}
}

// Embed resolves req.Model and dispatches an embedding request across
// the candidate list with the same breaker and health bookkeeping as
// Chat: paused or open-circuit providers are skipped, successes and
// classified failures are recorded, and exhausting the list yields
// all_providers_failed with per-attempt outcomes.
func (r *Router) Embed(ctx context.Context, req scri.EmbeddingRequest) (scri.EmbeddingResponse, error) {
	candidates := r.candidates(req.Model)
	if len(candidates) == 0 {
		return scri.EmbeddingResponse{}, &RouterError{Kind: ErrNoCandidate, Model: req.Model}
	}

	var attempts []scri.AttemptRecord
	registered := false
	for _, cand := range candidates {
		adapter, ok := r.registry.Get(cand.Provider)
		if !ok {
			attempts = append(attempts, scri.AttemptRecord{Provider: cand.Provider, Kind: string(errorkind.Unknown), Message: "adapter not registered"})
			continue
		}
		registered = true

		breaker := r.breakers.Get(cand.Provider)
		if r.health.Paused(cand.Provider) || !breaker.Allow() {
			attempts = append(attempts, scri.AttemptRecord{Provider: cand.Provider, Kind: "skipped", Message: "paused or circuit open"})
			continue
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.PerCallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.PerCallTimeout)
		}

		attemptReq := req
		attemptReq.Model = cand.Model
		resp, err := adapter.Embed(callCtx, attemptReq)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			breaker.RecordSuccess()
			r.health.RecordSuccess(cand.Provider)
			return resp, nil
		}

		if ctx.Err() != nil {
			return scri.EmbeddingResponse{}, ctx.Err()
		}

		kind := errorkind.Kind(errorkind.Unknown)
		if ae, ok := errorkind.AsAdapterError(err); ok {
			kind = ae.Kind
		}
		breaker.RecordFailure(kind)
		r.health.RecordError(cand.Provider, kind, err.Error(), 0)
		attempts = append(attempts, scri.AttemptRecord{Provider: cand.Provider, Kind: string(kind), Message: err.Error()})

		if errorkind.TerminalForRequest(kind) {
			return scri.EmbeddingResponse{}, err
		}
	}

	if !registered {
		return scri.EmbeddingResponse{}, &RouterError{Kind: ErrNoCandidate, Model: req.Model, Attempts: attempts}
	}
	return scri.EmbeddingResponse{}, &RouterError{Kind: ErrAllProvidersFailed, Model: req.Model, Attempts: attempts}
}
