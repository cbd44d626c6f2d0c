package heal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/internal/pool"
	"github.com/sovereign-gateway/scri/metrics"
	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/reload"
	"github.com/sovereign-gateway/scri/scri"
)

// Worker runs the diagnose→research→fix pipeline for one provider at a
// time. It is wired as the dispatch callback health.NewMonitor expects:
// Submit must return immediately, since Monitor.RecordError calls it
// synchronously from the request path.
//
// Concurrency is collapsed per provider with golang.org/x/sync/singleflight
// rather than a hand-rolled in-flight map — a second Submit for a
// provider already mid-cycle waits on and shares the first cycle's
// outcome instead of starting a redundant one.
type Worker struct {
	cfg       Config
	registry  *provider.Registry
	reloadMgr *reload.Manager
	health    *health.Monitor
	metrics   *metrics.Sink
	logger    *zap.Logger

	g            singleflight.Group
	researchPool *pool.GoroutinePool

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Worker.
func New(cfg Config, registry *provider.Registry, reloadMgr *reload.Manager, monitor *health.Monitor, sink *metrics.Sink, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	poolCfg := pool.DefaultGoroutinePoolConfig()
	poolCfg.MaxWorkers = cfg.MaxSearchQueries
	poolCfg.QueueSize = cfg.MaxSearchQueries
	poolCfg.PanicHandler = func(r any) {
		logger.Error("heal: research task panicked", zap.Any("panic", r))
	}
	return &Worker{
		cfg:          cfg,
		registry:     registry,
		reloadMgr:    reloadMgr,
		health:       monitor,
		metrics:      sink,
		logger:       logger,
		researchPool: pool.NewGoroutinePool(poolCfg),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Submit dispatches req's heal cycle in the background and returns
// immediately. Pass this method as health.NewMonitor's dispatch callback.
func (w *Worker) Submit(req health.HealRequest) {
	go func() {
		_, _, _ = w.g.Do(req.Provider, func() (any, error) {
			w.run(context.Background(), req)
			return nil, nil
		})
	}()
}

// Cancel aborts provider's in-flight heal cycle, if any. The provider is
// left in its pre-cycle adapter state: a cancelled cycle never reaches
// reloadMgr.Propose, so no apply/verify/commit ever starts for it.
func (w *Worker) Cancel(providerName string) bool {
	w.mu.Lock()
	cancel, ok := w.cancels[providerName]
	w.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (w *Worker) run(parent context.Context, req health.HealRequest) {
	ctx, cancel := context.WithCancel(parent)
	w.mu.Lock()
	w.cancels[req.Provider] = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.cancels, req.Provider)
		w.mu.Unlock()
		cancel()
	}()

	outcome := "error"
	defer func() {
		if w.metrics != nil {
			w.metrics.RecordHealCycle(req.Provider, outcome)
		}
	}()

	diag, err := w.diagnose(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		werr := &HealError{Kind: HealDiagnosisFailed, Provider: req.Provider, Cause: err}
		w.logger.Warn("heal: diagnose phase failed", zap.String("provider", req.Provider), zap.Error(werr))
		return
	}

	if !diag.IsStructural {
		w.health.Decay(req.Provider)
		w.logger.Info("heal: diagnosis found no structural drift, decaying window",
			zap.String("provider", req.Provider), zap.String("summary", diag.Summary))
		outcome = "noise"
		return
	}

	citations, err := w.research(ctx, diag.SearchQueries)
	if err != nil {
		werr := &HealError{Kind: HealResearchFailed, Provider: req.Provider, Cause: err}
		w.logger.Warn("heal: research phase failed, proceeding without citations",
			zap.String("provider", req.Provider), zap.Error(werr))
	}

	fix, err := w.fix(ctx, req.Provider, diag, citations)
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return
		}
		werr := &HealError{Kind: HealFixFailed, Provider: req.Provider, Cause: err}
		w.logger.Warn("heal: fix phase failed", zap.String("provider", req.Provider), zap.Error(werr))
		return
	}

	src := reload.SourceConfig{BaseURL: fix.BaseURL, Model: fix.Model, Extra: fix.Extra}
	rd := reload.Diagnosis{Summary: diag.Summary, LikelyCause: diag.LikelyCause, IsStructural: diag.IsStructural, SearchQueries: diag.SearchQueries}

	_, pending, err := w.reloadMgr.ProposeDetailed(ctx, req.Provider, src, fix.Confidence, fix.Rationale, diag.Summary, &rd, citations)
	if err != nil {
		werr := &HealError{Kind: HealVerificationFailed, Provider: req.Provider, Cause: err}
		w.logger.Error("heal: proposed fix failed to apply", zap.String("provider", req.Provider), zap.Error(werr))
		outcome = "rollback"
		return
	}
	if pending != nil {
		w.logger.Info("heal: fix queued for approval", zap.String("provider", req.Provider), zap.Float64("confidence", fix.Confidence))
		outcome = "pending"
	} else {
		w.logger.Info("heal: fix auto-applied", zap.String("provider", req.Provider))
		outcome = "committed"
	}
}

// diagnose runs phase 1 against the configured heal model.
func (w *Worker) diagnose(ctx context.Context, req health.HealRequest) (diagnoseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.DiagnoseBudget)
	defer cancel()

	adapter, ok := w.registry.Get(w.cfg.HealModel)
	if !ok {
		return diagnoseResult{}, fmt.Errorf("heal: heal model %q not registered", w.cfg.HealModel)
	}

	recent := req.RecentErrors
	if len(recent) > w.cfg.MaxRecentErrors {
		recent = recent[:w.cfg.MaxRecentErrors]
	}
	scrubbed := make([]string, len(recent))
	for i, e := range recent {
		scrubbed[i] = scrub(e)
	}

	var sourceDesc string
	if cur, ok := w.reloadMgr.Current(req.Provider); ok {
		b, _ := json.Marshal(cur.Source)
		sourceDesc = string(b)
	}

	prompt := fmt.Sprintf(
		"Provider %q is returning errors classified as structural drift.\n"+
			"Recent error payloads (PII scrubbed): %s\n"+
			"Current adapter configuration: %s\n"+
			"Respond with JSON only, shape: "+
			`{"summary":"...","likely_cause":"...","is_structural":true|false,"search_queries":["..."]}`+
			" (at most %d search_queries). is_structural=false means these errors are ordinary operational "+
			"noise, not a wire-format change.",
		req.Provider, strings.Join(scrubbed, " | "), sourceDesc, w.cfg.MaxSearchQueries,
	)

	text, err := w.chatText(ctx, adapter, prompt)
	if err != nil {
		return diagnoseResult{}, fmt.Errorf("diagnose: %w", err)
	}

	var out diagnoseResult
	if err := parseJSON(text, &out); err != nil {
		return diagnoseResult{}, fmt.Errorf("diagnose: parse response: %w", err)
	}
	if len(out.SearchQueries) > w.cfg.MaxSearchQueries {
		out.SearchQueries = out.SearchQueries[:w.cfg.MaxSearchQueries]
	}
	return out, nil
}

// research runs phase 2: one search-capable provider, walked in
// preference order, answers every query concurrently through researchPool
// (bounded to MaxSearchQueries workers) so a slow query never serializes
// behind the others inside the shared phase budget. The first provider in
// ResearchPreference that is registered is used for every query in this
// cycle.
func (w *Worker) research(parent context.Context, queries []string) ([]reload.Citation, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(parent, w.cfg.ResearchBudget)
	defer cancel()

	var adapter provider.Adapter
	var chosen string
	for _, name := range w.cfg.ResearchPreference {
		if a, ok := w.registry.Get(name); ok {
			adapter, chosen = a, name
			break
		}
	}
	if adapter == nil {
		return nil, fmt.Errorf("research: no search-capable provider available from preference list %v", w.cfg.ResearchPreference)
	}

	var (
		mu        sync.Mutex
		citations []reload.Citation
		wg        sync.WaitGroup
	)
	for _, q := range queries {
		q := q
		wg.Add(1)
		err := w.researchPool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			found, err := w.researchQuery(ctx, adapter, q)
			if err != nil {
				w.logger.Warn("heal: research query failed", zap.String("provider", chosen), zap.String("query", q), zap.Error(err))
				return err
			}
			mu.Lock()
			citations = append(citations, found...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			wg.Done()
			w.logger.Warn("heal: research query not scheduled", zap.String("provider", chosen), zap.String("query", q), zap.Error(err))
		}
	}
	wg.Wait()
	return citations, nil
}

// researchQuery issues a single search query against adapter and parses
// the resulting citation bundle.
func (w *Worker) researchQuery(ctx context.Context, adapter provider.Adapter, q string) ([]reload.Citation, error) {
	text, err := w.chatText(ctx, adapter, fmt.Sprintf(
		"Search the web for: %s\nReply with JSON only, shape: "+
			`{"results":[{"url":"...","excerpt":"..."}]}`, q))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Results []struct {
			URL     string `json:"url"`
			Excerpt string `json:"excerpt"`
		} `json:"results"`
	}
	if err := parseJSON(text, &parsed); err != nil {
		return nil, err
	}
	now := time.Now()
	citations := make([]reload.Citation, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		citations = append(citations, reload.Citation{URL: r.URL, Excerpt: r.Excerpt, At: now})
	}
	return citations, nil
}

// fix runs phase 3 against the heal model, combining the diagnosis and
// citation bundle with the provider's current configuration to produce a
// patch.
func (w *Worker) fix(ctx context.Context, providerName string, diag diagnoseResult, citations []reload.Citation) (fixResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.FixBudget)
	defer cancel()

	adapter, ok := w.registry.Get(w.cfg.HealModel)
	if !ok {
		return fixResult{}, fmt.Errorf("heal: heal model %q not registered", w.cfg.HealModel)
	}

	var sourceDesc string
	if cur, ok := w.reloadMgr.Current(providerName); ok {
		b, _ := json.Marshal(cur.Source)
		sourceDesc = string(b)
	}
	citationBlob, _ := json.Marshal(citations)

	prompt := fmt.Sprintf(
		"Provider %q needs an adapter configuration fix for: %s (cause: %s).\n"+
			"Citations: %s\n"+
			"Current configuration: %s\n"+
			"Respond with JSON only, shape: "+
			`{"base_url":"...","model":"...","extra":{},"confidence":0.0,"rationale":"..."}`+
			" — base_url/model/extra describe the full replacement configuration, not a diff; "+
			"confidence in [0,1].",
		providerName, diag.Summary, diag.LikelyCause, string(citationBlob), sourceDesc,
	)

	text, err := w.chatText(ctx, adapter, prompt)
	if err != nil {
		return fixResult{}, fmt.Errorf("fix: %w", err)
	}
	var out fixResult
	if err := parseJSON(text, &out); err != nil {
		return fixResult{}, fmt.Errorf("fix: parse response: %w", err)
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}

func (w *Worker) chatText(ctx context.Context, a provider.Adapter, prompt string) (string, error) {
	resp, err := a.Chat(ctx, scri.ChatRequest{
		Messages:  []scri.Message{scri.NewUserMessage(prompt)},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return resp.Choice.Content, nil
}

// parseJSON extracts and decodes a JSON object from text, tolerating a
// markdown code fence around it — heal-model responses are prompted for
// raw JSON but models routinely wrap it anyway.
func parseJSON(text string, out any) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if i := strings.LastIndex(body, "```"); i >= 0 {
			body = body[:i]
		}
		body = strings.TrimSpace(body)
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object found in response")
	}
	return json.Unmarshal([]byte(body[start:end+1]), out)
}
