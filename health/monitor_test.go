package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-gateway/scri/errorkind"
)

// Heal gating: structural errors below error_threshold within the
// window never dispatch a heal request; crossing the threshold dispatches
// exactly one; subsequent threshold crossings during cooldown dispatch
// zero.
func TestMonitor_HealGating(t *testing.T) {
	var dispatched []HealRequest
	m := NewMonitor(Config{
		ErrorThreshold:  3,
		CooldownSeconds: time.Hour,
		HealingEnabled:  true,
	}, func(r HealRequest) { dispatched = append(dispatched, r) }, nil)

	m.RecordError("openai", errorkind.UnknownField, "raw-1", 1)
	m.RecordError("openai", errorkind.UnknownField, "raw-2", 1)
	require.Empty(t, dispatched, "below threshold must not dispatch")

	m.RecordError("openai", errorkind.UnknownField, "raw-3", 1)
	require.Len(t, dispatched, 1, "crossing threshold dispatches exactly one")

	// Further structural errors during cooldown dispatch nothing more.
	for i := 0; i < 10; i++ {
		m.RecordError("openai", errorkind.UnknownField, "raw-n", 1)
	}
	assert.Len(t, dispatched, 1)
}

func TestMonitor_TransientErrorsNeverDispatch(t *testing.T) {
	var dispatched []HealRequest
	m := NewMonitor(Config{ErrorThreshold: 2, HealingEnabled: true},
		func(r HealRequest) { dispatched = append(dispatched, r) }, nil)

	for i := 0; i < 20; i++ {
		m.RecordError("ollama", errorkind.Transient, "", 1)
	}
	assert.Empty(t, dispatched)
}

func TestMonitor_PausedProviderNeverDispatches(t *testing.T) {
	var dispatched []HealRequest
	m := NewMonitor(Config{ErrorThreshold: 2, HealingEnabled: true},
		func(r HealRequest) { dispatched = append(dispatched, r) }, nil)
	m.Pause("anthropic")

	m.RecordError("anthropic", errorkind.SchemaMismatch, "", 1)
	m.RecordError("anthropic", errorkind.SchemaMismatch, "", 1)
	assert.Empty(t, dispatched)
}

func TestMonitor_DecayResetsWindow(t *testing.T) {
	var dispatched []HealRequest
	m := NewMonitor(Config{ErrorThreshold: 3, HealingEnabled: true},
		func(r HealRequest) { dispatched = append(dispatched, r) }, nil)

	m.RecordError("google", errorkind.ToolSchemaDrift, "", 1)
	m.RecordError("google", errorkind.ToolSchemaDrift, "", 1)
	m.Decay("google")
	m.RecordError("google", errorkind.ToolSchemaDrift, "", 1)
	assert.Empty(t, dispatched, "decay should have cleared the prior two")
}
