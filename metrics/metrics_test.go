package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One Sink per test binary: promauto registers against the default
// registry, so a second New under the same namespace would panic on
// duplicate registration.
var testSink = New("scri_metrics_test", nil)

func findSample(t *testing.T, samples []MetricSample, name string, labels map[string]string) (MetricSample, bool) {
	t.Helper()
outer:
	for _, s := range samples {
		if s.Name != name {
			continue
		}
		for k, v := range labels {
			if s.Labels[k] != v {
				continue outer
			}
		}
		return s, true
	}
	return MetricSample{}, false
}

func TestSnapshot_ReflectsRecordedCounters(t *testing.T) {
	testSink.RecordRequest("ollama", "llama3", "ok", 0.25)
	testSink.RecordTokens("ollama", 10, 20)
	testSink.RecordCircuitOpen("anthropic")
	testSink.RecordCircuitAdminTransition("anthropic", "closed")
	testSink.RecordHealCommit("google")
	testSink.RecordHealRollback("google")
	testSink.RecordFallback("reason")
	testSink.RecordAdapterError("anthropic", "schema_mismatch")

	samples, err := Snapshot()
	require.NoError(t, err)

	s, ok := findSample(t, samples, "scri_metrics_test_requests_total",
		map[string]string{"provider": "ollama", "model": "llama3", "status": "ok"})
	require.True(t, ok)
	assert.GreaterOrEqual(t, s.Value, 1.0)

	s, ok = findSample(t, samples, "scri_metrics_test_tokens_total",
		map[string]string{"provider": "ollama", "kind": "output"})
	require.True(t, ok)
	assert.GreaterOrEqual(t, s.Value, 20.0)

	_, ok = findSample(t, samples, "scri_metrics_test_circuit_opens_total",
		map[string]string{"provider": "anthropic"})
	assert.True(t, ok)

	_, ok = findSample(t, samples, "scri_metrics_test_heal_rollback_total",
		map[string]string{"provider": "google"})
	assert.True(t, ok)

	_, ok = findSample(t, samples, "scri_metrics_test_adapter_error_total",
		map[string]string{"provider": "anthropic", "kind": "schema_mismatch"})
	assert.True(t, ok)
}

func TestRecordTokens_SkipsZeroCounts(t *testing.T) {
	testSink.RecordTokens("fresh-provider", 0, 0)
	samples, err := Snapshot()
	require.NoError(t, err)
	_, ok := findSample(t, samples, "scri_metrics_test_tokens_total",
		map[string]string{"provider": "fresh-provider"})
	assert.False(t, ok)
}
