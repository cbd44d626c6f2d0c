package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-gateway/scri/circuit"
	"github.com/sovereign-gateway/scri/errorkind"
	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/scri"
)

// fakeAdapter fails its first failCount Chat calls with errs[i] (cycling
// the last entry), then answers every call with a fixed response, the
// same hand-rolled-fake idiom as reload/manager_test.go's fakeAdapter.
type fakeAdapter struct {
	name      string
	failCount int
	errs      []error
	calls     int
	answer    string
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Chat(ctx context.Context, req scri.ChatRequest) (scri.ChatResponse, error) {
	a.calls++
	if a.calls <= a.failCount {
		i := a.calls - 1
		if i >= len(a.errs) {
			i = len(a.errs) - 1
		}
		return scri.ChatResponse{}, a.errs[i]
	}
	return scri.ChatResponse{
		ID:       "resp-" + a.name,
		Model:    req.Model,
		Provider: a.name,
		Choice:   scri.ChatChoice{Content: a.answer, FinishReason: scri.FinishStop},
		Lineage:  scri.Lineage{Provider: a.name, Model: req.Model, Attempts: 1},
	}, nil
}

func (a *fakeAdapter) ChatStream(ctx context.Context, req scri.ChatRequest) (<-chan scri.StreamEvent, error) {
	if a.calls < a.failCount {
		a.calls++
		return nil, a.errs[0]
	}
	ch := make(chan scri.StreamEvent, 2)
	ch <- scri.StreamEvent{Type: scri.StreamTextDelta, Delta: a.answer}
	ch <- scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishStop}
	close(ch)
	return ch, nil
}

func (a *fakeAdapter) Embed(ctx context.Context, req scri.EmbeddingRequest) (scri.EmbeddingResponse, error) {
	a.calls++
	if a.calls <= a.failCount {
		i := a.calls - 1
		if i >= len(a.errs) {
			i = len(a.errs) - 1
		}
		return scri.EmbeddingResponse{}, a.errs[i]
	}
	return scri.EmbeddingResponse{Model: req.Model, Provider: a.name, Embeddings: [][]float32{{0.1, 0.2}}}, nil
}

func (a *fakeAdapter) ListModels(ctx context.Context) ([]scri.ModelCapabilities, error) {
	return nil, nil
}

func (a *fakeAdapter) HealthCheck(ctx context.Context) error { return nil }

func (a *fakeAdapter) ConvertMessages(msgs []scri.Message) (any, error) { return msgs, nil }

func (a *fakeAdapter) ConvertTools(tools []scri.Tool) (any, error) { return tools, nil }

func newTestRouter(cfg Config, adapters ...*fakeAdapter) (*Router, *circuit.Registry, *health.Monitor) {
	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a.name, a)
	}
	breakers := circuit.NewRegistry(circuit.Config{FailureThreshold: 5, SuccessThreshold: 2}, nil)
	monitor := health.NewMonitor(health.Config{HealingEnabled: false}, nil, nil)
	return New(cfg, reg, breakers, monitor, nil), breakers, monitor
}

func TestResolvePrimary_AliasWinsOverEverything(t *testing.T) {
	r, _, _ := newTestRouter(Config{
		Aliases:         map[string]string{"reason": "anthropic:claude-3-5-sonnet"},
		DefaultProvider: "ollama",
	})
	p, m := r.resolvePrimary("reason")
	assert.Equal(t, "anthropic", p)
	assert.Equal(t, "claude-3-5-sonnet", m)
}

func TestResolvePrimary_ExplicitProviderModelForm(t *testing.T) {
	r, _, _ := newTestRouter(Config{DefaultProvider: "ollama"})
	p, m := r.resolvePrimary("openai:gpt-4o")
	assert.Equal(t, "openai", p)
	assert.Equal(t, "gpt-4o", m)
}

func TestResolvePrimary_PrefixInference(t *testing.T) {
	r, _, _ := newTestRouter(Config{DefaultProvider: "ollama"})
	p, m := r.resolvePrimary("claude-3-5-haiku")
	assert.Equal(t, "anthropic", p)
	assert.Equal(t, "claude-3-5-haiku", m)
}

func TestResolvePrimary_FallsBackToDefaultProvider(t *testing.T) {
	r, _, _ := newTestRouter(Config{DefaultProvider: "ollama"})
	p, m := r.resolvePrimary("some-unknown-model")
	assert.Equal(t, "ollama", p)
	assert.Equal(t, "some-unknown-model", m)
}

func TestResolvePrimary_AliasToBareModelStillInfersPrefix(t *testing.T) {
	r, _, _ := newTestRouter(Config{
		Aliases:         map[string]string{"fast": "gpt-4o-mini"},
		DefaultProvider: "ollama",
	})
	p, m := r.resolvePrimary("fast")
	assert.Equal(t, "openai", p)
	assert.Equal(t, "gpt-4o-mini", m)
}

func TestChat_HappyPathSingleProvider(t *testing.T) {
	a := &fakeAdapter{name: "ollama", answer: "pong"}
	r, _, _ := newTestRouter(Config{DefaultProvider: "ollama"}, a)

	resp, err := r.Chat(context.Background(), scri.ChatRequest{
		Model:    "local-model",
		Messages: []scri.Message{scri.NewUserMessage("ping")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Lineage.Provider)
	assert.Equal(t, 1, resp.Lineage.Attempts)
	assert.False(t, resp.Lineage.Fallback)
	assert.Equal(t, "pong", resp.Choice.Content)
}

// The primary raises transient, the fallback answers, and the primary's
// circuit stays closed because transient errors never count toward the
// failure threshold.
func TestChat_TransientFailureFallsBackAndCircuitStaysClosed(t *testing.T) {
	primary := &fakeAdapter{name: "anthropic", failCount: 3,
		errs: []error{errorkind.New(errorkind.Transient, "anthropic", "overloaded")}}
	backup := &fakeAdapter{name: "openai", answer: "hello"}
	r, breakers, _ := newTestRouter(Config{
		Aliases:   map[string]string{"reason": "anthropic:opus"},
		Fallbacks: map[string][]string{"reason": {"openai:gpt-4o"}},
	}, primary, backup)

	resp, err := r.Chat(context.Background(), scri.ChatRequest{Model: "reason"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Lineage.Provider)
	assert.Equal(t, 2, resp.Lineage.Attempts)
	assert.True(t, resp.Lineage.Fallback)
	require.Len(t, resp.Lineage.AttemptHistory, 1)
	assert.Equal(t, string(errorkind.Transient), resp.Lineage.AttemptHistory[0].Kind)

	assert.Equal(t, circuit.Closed, breakers.Get("anthropic").State())
}

// Five consecutive structural errors open the circuit; the next call
// skips the provider without invoking the adapter.
func TestChat_StructuralStormOpensCircuitAndSkips(t *testing.T) {
	a := &fakeAdapter{name: "anthropic", failCount: 100,
		errs: []error{errorkind.New(errorkind.SchemaMismatch, "anthropic", "missing content")}}
	r, breakers, _ := newTestRouter(Config{DefaultProvider: "anthropic"}, a)

	for i := 0; i < 5; i++ {
		_, err := r.Chat(context.Background(), scri.ChatRequest{Model: "m"})
		require.Error(t, err)
	}
	assert.Equal(t, circuit.Open, breakers.Get("anthropic").State())

	callsBefore := a.calls
	_, err := r.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	var re *RouterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrAllProvidersFailed, re.Kind)
	assert.Equal(t, callsBefore, a.calls, "open circuit must fail fast without invoking the adapter")
}

func TestChat_ValidationErrorIsTerminalForRequest(t *testing.T) {
	primary := &fakeAdapter{name: "anthropic", failCount: 1,
		errs: []error{errorkind.New(errorkind.Validation, "anthropic", "bad request")}}
	backup := &fakeAdapter{name: "openai", answer: "never reached"}
	r, _, _ := newTestRouter(Config{
		DefaultProvider: "anthropic",
		Fallbacks:       map[string][]string{"m": {"openai"}},
	}, primary, backup)

	_, err := r.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	require.Error(t, err)
	ae, ok := errorkind.AsAdapterError(err)
	require.True(t, ok, "caller should see the adapter error, not a RouterError")
	assert.Equal(t, errorkind.Validation, ae.Kind)
	assert.Zero(t, backup.calls, "a caller-fault request must not be rerouted")
}

func TestChat_AuthErrorStillFallsBackToOtherProvider(t *testing.T) {
	primary := &fakeAdapter{name: "anthropic", failCount: 1,
		errs: []error{errorkind.New(errorkind.Auth, "anthropic", "invalid key")}}
	backup := &fakeAdapter{name: "openai", answer: "hi"}
	r, _, _ := newTestRouter(Config{
		DefaultProvider: "anthropic",
		Fallbacks:       map[string][]string{"m": {"openai"}},
	}, primary, backup)

	resp, err := r.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Lineage.Provider)
	assert.True(t, resp.Lineage.Fallback)
}

func TestChat_PausedProviderIsSkipped(t *testing.T) {
	primary := &fakeAdapter{name: "anthropic", answer: "primary"}
	backup := &fakeAdapter{name: "openai", answer: "backup"}
	r, _, monitor := newTestRouter(Config{
		DefaultProvider: "anthropic",
		Fallbacks:       map[string][]string{"m": {"openai"}},
	}, primary, backup)
	monitor.Pause("anthropic")

	resp, err := r.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Lineage.Provider)
	assert.Zero(t, primary.calls)
}

func TestChat_ExhaustedCandidatesEnumerateAttempts(t *testing.T) {
	p1 := &fakeAdapter{name: "anthropic", failCount: 1,
		errs: []error{errorkind.New(errorkind.Transient, "anthropic", "busy")}}
	p2 := &fakeAdapter{name: "openai", failCount: 1,
		errs: []error{errorkind.New(errorkind.SchemaMismatch, "openai", "shape changed")}}
	r, _, _ := newTestRouter(Config{
		DefaultProvider: "anthropic",
		Fallbacks:       map[string][]string{"m": {"openai"}},
	}, p1, p2)

	_, err := r.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	var re *RouterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrAllProvidersFailed, re.Kind)
	require.Len(t, re.Attempts, 2)
	assert.Equal(t, "anthropic", re.Attempts[0].Provider)
	assert.Equal(t, string(errorkind.Transient), re.Attempts[0].Kind)
	assert.Equal(t, "openai", re.Attempts[1].Provider)
	assert.Equal(t, string(errorkind.SchemaMismatch), re.Attempts[1].Kind)
}

func TestChat_UnregisteredProviderYieldsNoCandidateOutcome(t *testing.T) {
	r, _, _ := newTestRouter(Config{DefaultProvider: "ghost"})
	_, err := r.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	var re *RouterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrNoCandidate, re.Kind)
}

// Caller cancellation must not count as a provider failure: the breaker
// stays closed and last-failure stays unset even though the adapter
// returned an error under a dead context.
func TestChat_CancelledContextNotAttributedToProvider(t *testing.T) {
	a := &fakeAdapter{name: "ollama", failCount: 1,
		errs: []error{context.Canceled}}
	r, breakers, monitor := newTestRouter(Config{DefaultProvider: "ollama"}, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Chat(ctx, scri.ChatRequest{Model: "m"})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, circuit.Closed, breakers.Get("ollama").State())
	assert.True(t, monitor.Snapshot("ollama").LastFailure.IsZero())
}

// A fallback-produced response differs from a direct one only in its
// lineage record.
func TestChat_FallbackTransparency(t *testing.T) {
	backup := &fakeAdapter{name: "openai", answer: "same answer"}
	direct, _, _ := newTestRouter(Config{DefaultProvider: "openai"}, backup)
	directResp, err := direct.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	require.NoError(t, err)

	primary := &fakeAdapter{name: "anthropic", failCount: 1,
		errs: []error{errorkind.New(errorkind.Transient, "anthropic", "busy")}}
	backup2 := &fakeAdapter{name: "openai", answer: "same answer"}
	routed, _, _ := newTestRouter(Config{
		DefaultProvider: "anthropic",
		Fallbacks:       map[string][]string{"m": {"openai"}},
	}, primary, backup2)
	fellBack, err := routed.Chat(context.Background(), scri.ChatRequest{Model: "m"})
	require.NoError(t, err)

	directResp.Lineage = scri.Lineage{}
	fellBack.Lineage = scri.Lineage{}
	assert.Equal(t, directResp, fellBack)
}

// Fallbacks are ranked by configured provider priority, not config
// order: the local provider (priority 0) is tried before a cloud
// provider listed ahead of it.
func TestChat_FallbacksRankedByProviderPriority(t *testing.T) {
	primary := &fakeAdapter{name: "anthropic", failCount: 1,
		errs: []error{errorkind.New(errorkind.Transient, "anthropic", "busy")}}
	cloud := &fakeAdapter{name: "openai", answer: "from cloud"}
	local := &fakeAdapter{name: "ollama", answer: "from local"}
	r, _, _ := newTestRouter(Config{
		Aliases:   map[string]string{"reason": "anthropic:opus"},
		Fallbacks: map[string][]string{"reason": {"openai:gpt-4o", "ollama:llama3"}},
		Priorities: map[string]int{
			"anthropic": 5,
			"openai":    5,
			"ollama":    0,
		},
	}, primary, cloud, local)

	resp, err := r.Chat(context.Background(), scri.ChatRequest{Model: "reason"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Lineage.Provider)
	assert.Zero(t, cloud.calls, "the lower-priority cloud fallback must not be tried first")
}

func TestCandidates_UnrankedProvidersKeepConfigOrder(t *testing.T) {
	r, _, _ := newTestRouter(Config{
		DefaultProvider: "anthropic",
		Fallbacks:       map[string][]string{"m": {"openai", "mistral"}},
	})
	cands := r.candidates("m")
	require.Len(t, cands, 3)
	assert.Equal(t, "anthropic", cands[0].Provider)
	assert.Equal(t, "openai", cands[1].Provider)
	assert.Equal(t, "mistral", cands[2].Provider)
}

func TestEmbed_HappyPath(t *testing.T) {
	a := &fakeAdapter{name: "ollama"}
	r, _, _ := newTestRouter(Config{DefaultProvider: "ollama"}, a)

	resp, err := r.Embed(context.Background(), scri.EmbeddingRequest{Model: "embed-model", Input: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Provider)
	require.Len(t, resp.Embeddings, 1)
}

// Embedding requests walk the same candidate list as chat: a transient
// primary failure falls back, and the failure is recorded with the
// primary's health state.
func TestEmbed_TransientFailureFallsBack(t *testing.T) {
	primary := &fakeAdapter{name: "openai", failCount: 1,
		errs: []error{errorkind.New(errorkind.Transient, "openai", "overloaded")}}
	backup := &fakeAdapter{name: "ollama"}
	r, breakers, monitor := newTestRouter(Config{
		DefaultProvider: "openai",
		Fallbacks:       map[string][]string{"embed-model": {"ollama"}},
	}, primary, backup)

	resp, err := r.Embed(context.Background(), scri.EmbeddingRequest{Model: "embed-model", Input: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, circuit.Closed, breakers.Get("openai").State())
	assert.False(t, monitor.Snapshot("openai").LastFailure.IsZero())
}

func TestEmbed_OpenCircuitSkipsProvider(t *testing.T) {
	a := &fakeAdapter{name: "openai"}
	r, breakers, _ := newTestRouter(Config{DefaultProvider: "openai"}, a)
	breakers.Get("openai").ForceOpen()

	_, err := r.Embed(context.Background(), scri.EmbeddingRequest{Model: "m", Input: []string{"x"}})
	var re *RouterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrAllProvidersFailed, re.Kind)
	assert.Zero(t, a.calls, "open circuit must fail fast without invoking the adapter")
}

func TestChatStream_FallsBackBeforeFirstEvent(t *testing.T) {
	primary := &fakeAdapter{name: "anthropic", failCount: 1,
		errs: []error{errorkind.New(errorkind.Transient, "anthropic", "busy")}}
	backup := &fakeAdapter{name: "openai", answer: "streamed"}
	r, _, _ := newTestRouter(Config{
		DefaultProvider: "anthropic",
		Fallbacks:       map[string][]string{"m": {"openai"}},
	}, primary, backup)

	ch, err := r.ChatStream(context.Background(), scri.ChatRequest{Model: "m"})
	require.NoError(t, err)

	var events []scri.StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}
	require.Len(t, events, 2)
	assert.Equal(t, scri.StreamTextDelta, events[0].Type)
	assert.Equal(t, "streamed", events[0].Delta)
	assert.Equal(t, scri.StreamFinish, events[1].Type)
}
