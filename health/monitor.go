// Package health implements the structural-error sliding-window monitor
// that gates self-heal dispatch: per-provider, in-memory counters over a
// ring of one-second buckets (see window.go), with threshold and
// cooldown gating plus non-blocking observer callbacks.
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/errorkind"
)

// Config tunes the monitor. Zero values fall back to defaults.
type Config struct {
	ErrorThreshold  int           // structural errors within the window that trigger a heal dispatch
	CooldownSeconds time.Duration // dispatch suppression window after a heal request fires
	HealingEnabled  bool
}

func (c Config) withDefaults() Config {
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 5
	}
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 600 * time.Second
	}
	return c
}

type providerState struct {
	window      slidingWindow
	errorCounts map[string]int
	lastSuccess time.Time
	lastFailure time.Time
	cooldown    time.Time
	paused      bool
}

// Monitor is the per-provider structural-error classifier and heal-
// dispatch gate.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	logger   *zap.Logger
	states   map[string]*providerState
	dispatch func(HealRequest)

	obsMu     sync.Mutex
	observers []chan Event
}

// NewMonitor creates a Monitor. dispatch is called (synchronously, from
// whichever goroutine crosses the threshold) whenever a HealRequest
// should be submitted to the heal worker; wiring code typically passes
// heal.Worker.Submit.
func NewMonitor(cfg Config, dispatch func(HealRequest), logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatch == nil {
		dispatch = func(HealRequest) {}
	}
	return &Monitor{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		states:   make(map[string]*providerState),
		dispatch: dispatch,
	}
}

func (m *Monitor) state(provider string) *providerState {
	st, ok := m.states[provider]
	if !ok {
		st = &providerState{errorCounts: make(map[string]int)}
		m.states[provider] = st
	}
	return st
}

// RecordSuccess notes a successful call, used for LastSuccess and for
// external observability only — it does not affect the structural
// counter (the window decays purely by time).
func (m *Monitor) RecordSuccess(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(provider).lastSuccess = time.Now()
}

// RecordError classifies and records one adapter error. If it is
// structural, not in cooldown, healing is enabled, and the provider is
// not paused, crossing ErrorThreshold dispatches exactly one HealRequest
// and starts the cooldown.
func (m *Monitor) RecordError(provider string, kind errorkind.Kind, raw string, adapterVersion int) {
	now := time.Now()

	m.mu.Lock()
	st := m.state(provider)
	st.lastFailure = now
	st.errorCounts[string(kind)]++

	var crossed bool
	var recent []string
	if errorkind.IsStructural(kind) {
		st.window.bump(now.Unix())
		count := st.window.count(now.Unix())
		if count == int64(m.cfg.ErrorThreshold) &&
			m.cfg.HealingEnabled &&
			!st.paused &&
			now.After(st.cooldown) {
			crossed = true
			st.cooldown = now.Add(m.cfg.CooldownSeconds)
			if raw != "" {
				recent = append(recent, raw)
			}
		}
	}
	m.mu.Unlock()

	m.emit(Event{Kind: EventErrorRecorded, Provider: provider, At: now})

	if crossed {
		m.logger.Warn("structural error threshold crossed, dispatching heal request",
			zap.String("provider", provider), zap.Int("threshold", m.cfg.ErrorThreshold))
		m.emit(Event{Kind: EventCooldownEntered, Provider: provider, At: now})
		req := HealRequest{Provider: provider, RecentErrors: recent, AdapterVersion: adapterVersion, DispatchedAt: now}
		m.dispatch(req)
		m.emit(Event{Kind: EventHealDispatched, Provider: provider, At: now})
	}
}

// Decay resets a provider's structural-error window to zero. Called by
// the heal worker's diagnose phase when it determines the errors that
// triggered the cycle are not structural: full reset, not partial decay.
func (m *Monitor) Decay(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(provider).window.reset()
}

// Pause suspends heal dispatch for provider without affecting its
// circuit-breaker state or its error counters.
func (m *Monitor) Pause(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(provider).paused = true
}

// Resume re-enables heal dispatch for provider.
func (m *Monitor) Resume(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(provider).paused = false
}

// Paused reports whether provider's heal dispatch is currently paused.
func (m *Monitor) Paused(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(provider).paused
}

// SetHealingEnabled toggles the global healing switch.
func (m *Monitor) SetHealingEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.HealingEnabled = enabled
}

// HealingEnabled reports the current global healing switch.
func (m *Monitor) HealingEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.HealingEnabled
}

// Snapshot returns a ProviderHealth view for GET /health and
// GET /healing/status.
func (m *Monitor) Snapshot(provider string) ProviderHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(provider)
	counts := make(map[string]int, len(st.errorCounts))
	for k, v := range st.errorCounts {
		counts[k] = v
	}
	return ProviderHealth{
		Provider:        provider,
		ErrorCounts:     counts,
		StructuralCount: st.window.count(time.Now().Unix()),
		LastSuccess:     st.lastSuccess,
		LastFailure:     st.lastFailure,
		CooldownUntil:   st.cooldown,
		Paused:          st.paused,
	}
}

// Providers returns every provider name the monitor has observed.
func (m *Monitor) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.states))
	for k := range m.states {
		out = append(out, k)
	}
	return out
}

// Subscribe registers a non-blocking observer. The returned channel is
// buffered; events are dropped (never block the caller recording an
// error) if the subscriber falls behind. Observers never influence heal
// dispatch — they are notified only after the dispatch decision has
// already been made.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	m.obsMu.Lock()
	m.observers = append(m.observers, ch)
	m.obsMu.Unlock()
	return ch
}

func (m *Monitor) emit(evt Event) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for _, ch := range m.observers {
		select {
		case ch <- evt:
		default:
		}
	}
}
