package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/errorkind"
	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/metrics"
	"github.com/sovereign-gateway/scri/reload"
	"github.com/sovereign-gateway/scri/router"
	"github.com/sovereign-gateway/scri/scri"
)

type handlers struct {
	d      Deps
	logger *zap.Logger
	tracer *metrics.Tracer
}

// handleChat implements POST /api/v1/chat: body is scri.ChatRequest,
// response is scri.ChatResponse.
func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var req scri.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	start := time.Now()
	ctx, span := h.tracer.StartRequest(r.Context(), metrics.RequestAttrs{Model: req.Model})
	resp, err := h.d.Router.Chat(ctx, req)
	if err != nil {
		h.tracer.EndRequest(span, "error", 0)
		h.writeRouterError(w, req.Model, err)
		return
	}
	span.SetAttributes(
		attribute.String("scri.provider", resp.Lineage.Provider),
		attribute.Bool("scri.fallback", resp.Lineage.Fallback),
	)
	h.tracer.EndRequest(span, "ok", resp.Lineage.Attempts)

	if h.d.Metrics != nil {
		h.d.Metrics.RecordRequest(resp.Lineage.Provider, resp.Model, "ok", time.Since(start).Seconds())
		h.d.Metrics.RecordTokens(resp.Lineage.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		if resp.Lineage.Fallback {
			h.d.Metrics.RecordFallback(req.Model)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream implements POST /api/v1/chat/stream: same input as
// handleChat, response is an SSE stream of scri.StreamEvent records
// terminated by a "finish" event.
func (h *handlers) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req scri.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	ch, err := h.d.Router.ChatStream(r.Context(), req)
	if err != nil {
		h.writeRouterError(w, req.Model, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unknown", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sawFinish := false
	for evt := range ch {
		if evt.Type == scri.StreamFinish {
			sawFinish = true
		}
		data, marshalErr := json.Marshal(evt)
		if marshalErr != nil {
			continue
		}
		if _, err := w.Write([]byte("event: " + string(evt.Type) + "\ndata: ")); err != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
	if !sawFinish && r.Context().Err() == nil {
		data, _ := json.Marshal(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
			Err: &scri.StreamError{Kind: string(errorkind.StreamFormatDrift), Message: "stream closed without a finish event"}})
		_, _ = w.Write([]byte("event: " + string(scri.StreamFinish) + "\ndata: " + string(data) + "\n\n"))
		flusher.Flush()
	}
}

// handleEmbed implements POST /api/v1/embed. Embedding requests go
// through the same router candidate walk as chat, so circuit, health,
// and fallback semantics apply identically.
func (h *handlers) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req scri.EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}

	start := time.Now()
	resp, err := h.d.Router.Embed(r.Context(), req)
	if err != nil {
		h.writeRouterError(w, req.Model, err)
		return
	}

	if h.d.Metrics != nil {
		h.d.Metrics.RecordRequest(resp.Provider, resp.Model, "ok", time.Since(start).Seconds())
		h.d.Metrics.RecordTokens(resp.Provider, resp.Usage.InputTokens, 0)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleModels implements GET /api/v1/models: registered provider models
// plus the alias table.
func (h *handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	type modelsResponse struct {
		Models  []scri.ModelCapabilities `json:"models"`
		Aliases map[string]string        `json:"aliases"`
	}
	out := modelsResponse{Aliases: h.d.Config.Aliases}
	for _, name := range h.d.Registry.List() {
		adapter, ok := h.d.Registry.Get(name)
		if !ok {
			continue
		}
		models, err := adapter.ListModels(r.Context())
		if err != nil {
			h.logger.Warn("list_models failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		out.Models = append(out.Models, models...)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth implements GET /api/v1/health: per-provider health and
// circuit state.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	type providerStatus struct {
		Health  health.ProviderHealth `json:"health"`
		Circuit circuitStatus         `json:"circuit"`
	}
	out := make(map[string]providerStatus)
	breakers := h.d.Breakers.All()
	names := make(map[string]struct{})
	for _, n := range h.d.Health.Providers() {
		names[n] = struct{}{}
	}
	for n := range breakers {
		names[n] = struct{}{}
	}
	for name := range names {
		ph := h.d.Health.Snapshot(name)
		var cs circuitStatus
		if b, ok := breakers[name]; ok {
			cs = circuitStatus{State: b.State().String(), OpenUntil: b.OpenUntil()}
		}
		out[name] = providerStatus{Health: ph, Circuit: cs}
	}
	writeJSON(w, http.StatusOK, out)
}

type circuitStatus struct {
	State     string    `json:"state"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

// handleHealingStatus implements GET /api/v1/healing/status: global
// enabled/paused state and per-provider cooldown deadlines.
func (h *handlers) handleHealingStatus(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Enabled   bool                             `json:"enabled"`
		Providers map[string]health.ProviderHealth `json:"providers"`
	}
	out := status{Enabled: h.d.Health.HealingEnabled(), Providers: make(map[string]health.ProviderHealth)}
	for _, name := range h.d.Health.Providers() {
		out.Providers[name] = h.d.Health.Snapshot(name)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleHealingPause(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	h.d.Health.Pause(provider)
	writeJSON(w, http.StatusOK, map[string]string{"provider": provider, "status": "paused"})
}

func (h *handlers) handleHealingResume(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	h.d.Health.Resume(provider)
	writeJSON(w, http.StatusOK, map[string]string{"provider": provider, "status": "resumed"})
}

// handleFixesPending implements GET /api/v1/fixes/pending.
func (h *handlers) handleFixesPending(w http.ResponseWriter, r *http.Request) {
	fixes := h.d.Reload.PendingAll()
	sort.Slice(fixes, func(i, j int) bool { return fixes[i].Provider < fixes[j].Provider })
	writeJSON(w, http.StatusOK, fixes)
}

func (h *handlers) handleFixApprove(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	approver := r.Header.Get("X-API-Key")
	v, err := h.d.Reload.Approve(r.Context(), provider, approver)
	if err != nil {
		writeProviderError(w, http.StatusConflict, "fix_not_found", provider, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) handleFixReject(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	if err := h.d.Reload.Reject(provider); err != nil {
		writeProviderError(w, http.StatusConflict, "fix_not_found", provider, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": provider, "status": "rejected"})
}

func (h *handlers) handleFixHistory(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	writeJSON(w, http.StatusOK, h.d.Reload.History(provider))
}

func (h *handlers) handleFixRollback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "version must be an integer")
		return
	}
	v, err := h.d.Reload.RollbackTo(r.Context(), provider, version)
	if err != nil {
		writeProviderError(w, http.StatusConflict, "rollback_failed", provider, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleCircuit implements POST /api/v1/circuit/{provider}/{open|close|reset}.
func (h *handlers) handleCircuit(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")
	action := r.PathValue("action")
	b := h.d.Breakers.Get(providerName)

	switch action {
	case "open":
		b.ForceOpen()
	case "close":
		b.ForceClose()
	case "reset":
		b.Reset()
	default:
		writeError(w, http.StatusBadRequest, "validation", "action must be one of open, close, reset")
		return
	}
	if h.d.Metrics != nil {
		h.d.Metrics.RecordCircuitAdminTransition(providerName, b.State().String())
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": providerName, "state": b.State().String()})
}

// handleMetrics implements GET /api/v1/metrics: a JSON-encoded
// counter/gauge/histogram snapshot, distinct from the Prometheus text
// exposition served at GET /metrics.
func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	samples, err := metrics.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unknown", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleDashboard implements GET /api/v1/dashboard: an aggregated view
// combining health, circuit, and pending-fix state for operator tooling.
func (h *handlers) handleDashboard(w http.ResponseWriter, r *http.Request) {
	type dashboard struct {
		Providers []string                         `json:"providers"`
		Health    map[string]health.ProviderHealth `json:"health"`
		Circuit   map[string]circuitStatus         `json:"circuit"`
		Pending   []reload.PendingFix              `json:"pending"`
	}
	out := dashboard{
		Health:  make(map[string]health.ProviderHealth),
		Circuit: make(map[string]circuitStatus),
		Pending: h.d.Reload.PendingAll(),
	}
	for _, name := range h.d.Registry.List() {
		out.Providers = append(out.Providers, name)
		out.Health[name] = h.d.Health.Snapshot(name)
		b := h.d.Breakers.Get(name)
		out.Circuit[name] = circuitStatus{State: b.State().String(), OpenUntil: b.OpenUntil()}
	}
	writeJSON(w, http.StatusOK, out)
}

// writeRouterError maps a router.RouterError (or any other error) onto
// the {kind, message, provider?, details?} envelope, enumerating
// per-attempt outcomes for all_providers_failed so the caller can
// diagnose which candidate failed and why.
func (h *handlers) writeRouterError(w http.ResponseWriter, model string, err error) {
	re, ok := err.(*router.RouterError)
	if !ok {
		// Terminal adapter errors (validation, content_filter) surface
		// directly with their classified kind.
		if ae, aok := errorkind.AsAdapterError(err); aok {
			status := http.StatusBadGateway
			if ae.Kind == errorkind.Validation {
				status = http.StatusBadRequest
			}
			writeProviderError(w, status, string(ae.Kind), ae.Provider, ae.Message)
			return
		}
		writeError(w, http.StatusBadGateway, "unknown", err.Error())
		return
	}

	status := http.StatusBadGateway
	if re.Kind == router.ErrNoCandidate || re.Kind == router.ErrDisabled {
		status = http.StatusBadRequest
	}

	type attemptJSON struct {
		Provider string `json:"provider"`
		Kind     string `json:"kind"`
		Message  string `json:"message"`
	}
	attempts := make([]attemptJSON, 0, len(re.Attempts))
	for _, a := range re.Attempts {
		attempts = append(attempts, attemptJSON{Provider: a.Provider, Kind: a.Kind, Message: a.Message})
	}

	if h.d.Metrics != nil && re.Kind == router.ErrAllProvidersFailed {
		h.d.Metrics.RecordRouterExhausted(model)
	}

	writeJSON(w, status, struct {
		Kind     string        `json:"kind"`
		Message  string        `json:"message"`
		Attempts []attemptJSON `json:"attempts,omitempty"`
	}{Kind: string(re.Kind), Message: re.Error(), Attempts: attempts})
}
