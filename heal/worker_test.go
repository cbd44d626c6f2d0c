package heal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/provider/factory"
	"github.com/sovereign-gateway/scri/reload"
	"github.com/sovereign-gateway/scri/scri"
)

// scriptedAdapter returns successive canned Chat responses, one per call,
// the way a real heal-model conversation would progress through the
// diagnose/fix phases — the test drives what "the model said" without a
// live HTTP client, following the same hand-rolled-fake idiom as
// reload/manager_test.go's fakeAdapter.
type scriptedAdapter struct {
	name      string
	responses []string
	calls     int
}

func (a *scriptedAdapter) Name() string { return a.name }
// Chat returns the next scripted response. An adapter with no scripted
// responses at all (e.g. a stand-in built for the reload manager's
// canary probe, which this test suite doesn't care about scripting)
// always succeeds with empty content instead of erroring.
func (a *scriptedAdapter) Chat(ctx context.Context, req scri.ChatRequest) (scri.ChatResponse, error) {
	if len(a.responses) == 0 {
		return scri.ChatResponse{Provider: a.name}, nil
	}
	if a.calls >= len(a.responses) {
		return scri.ChatResponse{}, assert.AnError
	}
	resp := a.responses[a.calls]
	a.calls++
	return scri.ChatResponse{Provider: a.name, Choice: scri.ChatChoice{Content: resp}}, nil
}
func (a *scriptedAdapter) ChatStream(ctx context.Context, req scri.ChatRequest) (<-chan scri.StreamEvent, error) {
	return nil, nil
}
func (a *scriptedAdapter) Embed(ctx context.Context, req scri.EmbeddingRequest) (scri.EmbeddingResponse, error) {
	return scri.EmbeddingResponse{}, nil
}
func (a *scriptedAdapter) ListModels(ctx context.Context) ([]scri.ModelCapabilities, error) {
	return nil, nil
}
func (a *scriptedAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *scriptedAdapter) ConvertMessages(msgs []scri.Message) (any, error) { return msgs, nil }
func (a *scriptedAdapter) ConvertTools(tools []scri.Tool) (any, error)     { return tools, nil }

func newTestWorker(t *testing.T, healModel *scriptedAdapter, research *scriptedAdapter, autoApply bool) (*Worker, *reload.Manager, *provider.Registry, *health.Monitor) {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register("p1", &scriptedAdapter{name: "p1", responses: []string{}})
	reg.Register("local", healModel)
	if research != nil {
		reg.Register("xai", research)
	}

	monitor := health.NewMonitor(health.Config{HealingEnabled: true}, nil, nil)
	reloadMgr := reload.New(reload.Config{AutoApply: autoApply, AutoApplyThreshold: 0.5}, reg, monitor, nil, nil, nil, zap.NewNop())
	reloadMgr.SetAdapterConstructor(func(name string, cfg factory.Config, logger *zap.Logger) (provider.Adapter, error) {
		return &scriptedAdapter{name: name}, nil
	})
	reloadMgr.Seed("p1", reload.SourceConfig{BaseURL: "https://initial.example"})

	w := New(Config{HealModel: "local"}, reg, reloadMgr, monitor, nil, zap.NewNop())
	return w, reloadMgr, reg, monitor
}

func TestWorker_NonStructuralDiagnosisDecaysWithoutProposing(t *testing.T) {
	healModel := &scriptedAdapter{responses: []string{
		`{"summary":"rate limiting","likely_cause":"burst traffic","is_structural":false,"search_queries":[]}`,
	}}
	w, reloadMgr, _, _ := newTestWorker(t, healModel, nil, true)

	w.run(context.Background(), health.HealRequest{Provider: "p1", RecentErrors: []string{"429 too many requests"}})

	_, pending := reloadMgr.Pending("p1")
	assert.False(t, pending)
	cur, ok := reloadMgr.Current("p1")
	require.True(t, ok)
	assert.Equal(t, 1, cur.Version, "no fix should be proposed for non-structural diagnoses")
}

func TestWorker_StructuralDriftAutoAppliesFix(t *testing.T) {
	healModel := &scriptedAdapter{responses: []string{
		`{"summary":"tool schema changed","likely_cause":"provider renamed a field","is_structural":true,"search_queries":["provider X tool call schema changelog"]}`,
		`{"base_url":"https://fixed.example","model":"m2","extra":{},"confidence":0.9,"rationale":"renamed field per changelog"}`,
	}}
	research := &scriptedAdapter{responses: []string{
		`{"results":[{"url":"https://vendor.example/changelog","excerpt":"renamed arguments to args"}]}`,
	}}
	w, reloadMgr, reg, _ := newTestWorker(t, healModel, research, true)

	w.run(context.Background(), health.HealRequest{Provider: "p1", RecentErrors: []string{"unexpected field: args"}})

	cur, ok := reloadMgr.Current("p1")
	require.True(t, ok)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, reload.OriginHealedAuto, cur.Origin)
	assert.Equal(t, "https://fixed.example", cur.Source.BaseURL)

	adapter, ok := reg.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", adapter.Name())
}

func TestWorker_LowConfidenceFixQueuesPendingWithDiagnosisAttached(t *testing.T) {
	healModel := &scriptedAdapter{responses: []string{
		`{"summary":"ambiguous error","likely_cause":"unclear","is_structural":true,"search_queries":[]}`,
		`{"base_url":"https://maybe.example","model":"m2","extra":{},"confidence":0.3,"rationale":"uncertain"}`,
	}}
	w, reloadMgr, _, _ := newTestWorker(t, healModel, nil, true)

	w.run(context.Background(), health.HealRequest{Provider: "p1", RecentErrors: []string{"unknown_field: foo"}})

	pf, ok := reloadMgr.Pending("p1")
	require.True(t, ok)
	assert.Equal(t, reload.PendingStatusPending, pf.Status)
	require.NotNil(t, pf.Diagnosis)
	assert.Equal(t, "ambiguous error", pf.Diagnosis.Summary)

	cur, ok := reloadMgr.Current("p1")
	require.True(t, ok)
	assert.Equal(t, 1, cur.Version, "low-confidence fix must not apply")
}

func TestWorker_DiagnosePhaseFailureAbortsCycleCleanly(t *testing.T) {
	healModel := &scriptedAdapter{responses: []string{"not json at all"}}
	w, reloadMgr, _, _ := newTestWorker(t, healModel, nil, true)

	w.run(context.Background(), health.HealRequest{Provider: "p1", RecentErrors: []string{"some error"}})

	_, pending := reloadMgr.Pending("p1")
	assert.False(t, pending)
	cur, ok := reloadMgr.Current("p1")
	require.True(t, ok)
	assert.Equal(t, 1, cur.Version)
}

func TestWorker_ConcurrentSubmitsCollapseIntoOneCycle(t *testing.T) {
	healModel := &scriptedAdapter{responses: []string{
		`{"summary":"tool schema changed","likely_cause":"x","is_structural":true,"search_queries":[]}`,
		`{"base_url":"https://fixed.example","model":"m2","extra":{},"confidence":0.9,"rationale":"fix"}`,
	}}
	w, reloadMgr, _, _ := newTestWorker(t, healModel, nil, true)

	done := make(chan struct{}, 2)
	req := health.HealRequest{Provider: "p1", RecentErrors: []string{"drift"}}
	for i := 0; i < 2; i++ {
		go func() {
			_, _, _ = w.g.Do(req.Provider, func() (any, error) {
				w.run(context.Background(), req)
				return nil, nil
			})
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	cur, ok := reloadMgr.Current("p1")
	require.True(t, ok)
	assert.Equal(t, 2, cur.Version, "collapsed concurrent triggers must still produce exactly one applied version")
}
