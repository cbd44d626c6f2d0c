package reload

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/errorkind"
	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/metrics"
	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/provider/factory"
	"github.com/sovereign-gateway/scri/scri"
)

// Config tunes the reload manager. Zero values fall back to defaults.
type Config struct {
	MaxHistory         int           // bounded ring size per provider, default 10
	VerifyTimeout      time.Duration // default 10s
	PendingExpiry       time.Duration // default 7 days
	AutoApply          bool
	AutoApplyThreshold float64 // default 0.8
}

func (c Config) withDefaults() Config {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 10
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 10 * time.Second
	}
	if c.PendingExpiry == 0 {
		c.PendingExpiry = 7 * 24 * time.Hour
	}
	if c.AutoApplyThreshold <= 0 {
		c.AutoApplyThreshold = 0.8
	}
	return c
}

// canaryRequest is the fixed synthetic probe used by the verify step:
// short enough to be cheap, shaped to exercise both the text-response
// and tool-call paths so the single probe is schema-sensitive on both
// surfaces.
var canaryRequest = scri.ChatRequest{
	Messages: []scri.Message{scri.NewUserMessage("reply with the word pong")},
	MaxTokens: 16,
	Tools: []scri.Tool{{
		Name:        "noop",
		Description: "a no-op canary tool; do not call it unless asked to",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}},
}

// Manager owns the full lifecycle of every provider's adapter
// configuration version: apply/verify/commit/rollback and the
// pending-fix queue, swapping the live adapter through
// provider.Registry's atomic slots.
type Manager struct {
	cfg      Config
	registry *provider.Registry
	health   *health.Monitor
	metrics  *metrics.Sink
	store    *Store
	logger   *zap.Logger

	// newAdapter is the adapter constructor, injected as factory.New by
	// default so tests can substitute a fake without a real HTTP client.
	newAdapter func(name string, cfg factory.Config, logger *zap.Logger) (provider.Adapter, error)
	// secrets resolves a provider's API key from environment at apply
	// time; never stored on AdapterVersion/PendingFix.
	secrets func(provider string) string

	mu      sync.Mutex
	history map[string][]AdapterVersion
	live    map[string]int
	pending map[string]*PendingFix

	plocksMu sync.Mutex
	plocks   map[string]*sync.Mutex
}

// New constructs a Manager. store may be nil to disable persistence
// (history and pending fixes then live in memory only, for tests).
func New(cfg Config, registry *provider.Registry, monitor *health.Monitor, sink *metrics.Sink, store *Store, secrets func(string) string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if secrets == nil {
		secrets = func(string) string { return "" }
	}
	return &Manager{
		cfg:        cfg.withDefaults(),
		registry:   registry,
		health:     monitor,
		metrics:    sink,
		store:      store,
		logger:     logger,
		newAdapter: factory.New,
		secrets:    secrets,
		history:    make(map[string][]AdapterVersion),
		live:       make(map[string]int),
		pending:    make(map[string]*PendingFix),
		plocks:     make(map[string]*sync.Mutex),
	}
}

// SetAdapterConstructor overrides the adapter constructor used by
// applyAndVerify/RollbackTo, which otherwise defaults to factory.New.
// Exposed across the package boundary so other packages' tests (notably
// heal's) can drive a Manager against a fake adapter without a real
// network client, the same way this package's own tests override the
// field directly.
func (m *Manager) SetAdapterConstructor(fn func(name string, cfg factory.Config, logger *zap.Logger) (provider.Adapter, error)) {
	m.newAdapter = fn
}

func (m *Manager) providerLock(provider string) *sync.Mutex {
	m.plocksMu.Lock()
	defer m.plocksMu.Unlock()
	l, ok := m.plocks[provider]
	if !ok {
		l = &sync.Mutex{}
		m.plocks[provider] = l
	}
	return l
}

// Seed registers provider's initial version (origin=initial) without
// going through verify — used at startup for adapters built straight from
// configuration, which are presumed good until proven otherwise by a real
// request.
func (m *Manager) Seed(provider string, src SourceConfig) AdapterVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := AdapterVersion{Provider: provider, Version: 1, SourceHash: src.Hash(), Source: src, CreatedAt: time.Now(), Origin: OriginInitial}
	m.history[provider] = append(m.history[provider], v)
	m.live[provider] = v.Version
	if m.store != nil {
		_ = m.store.SaveVersion(v)
	}
	return v
}

// Current returns provider's live AdapterVersion, if any.
func (m *Manager) Current(provider string) (AdapterVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(provider)
}

func (m *Manager) currentLocked(provider string) (AdapterVersion, bool) {
	num, ok := m.live[provider]
	if !ok {
		return AdapterVersion{}, false
	}
	for _, v := range m.history[provider] {
		if v.Version == num {
			return v, true
		}
	}
	return AdapterVersion{}, false
}

// History returns provider's bounded version history, oldest first.
func (m *Manager) History(provider string) []AdapterVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AdapterVersion, len(m.history[provider]))
	copy(out, m.history[provider])
	return out
}

// Pending returns provider's pending fix, if one is outstanding.
func (m *Manager) Pending(provider string) (PendingFix, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pf, ok := m.pending[provider]
	if !ok {
		return PendingFix{}, false
	}
	return *pf, true
}

// PendingAll returns every outstanding pending fix.
func (m *Manager) PendingAll() []PendingFix {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingFix, 0, len(m.pending))
	for _, pf := range m.pending {
		out = append(out, *pf)
	}
	return out
}

// appendHistoryLocked appends v and enforces the bounded ring. Eviction
// always takes the oldest entry that is not the current-live version and
// not v itself — the live version must survive even when it is the
// oldest entry (e.g. a failed-verification append while live still
// points at the original seed).
func (m *Manager) appendHistoryLocked(provider string, v AdapterVersion) {
	h := append(m.history[provider], v)
	live := m.live[provider]
	for len(h) > m.cfg.MaxHistory {
		evict := -1
		for i := 0; i < len(h)-1; i++ {
			if h[i].Version != live {
				evict = i
				break
			}
		}
		if evict < 0 {
			break
		}
		h = append(h[:evict], h[evict+1:]...)
	}
	m.history[provider] = h
	if m.store != nil {
		_ = m.store.SaveVersion(v)
	}
}

func (m *Manager) nextVersionLocked(provider string) int {
	max := 0
	for _, v := range m.history[provider] {
		if v.Version > max {
			max = v.Version
		}
	}
	return max + 1
}

// Propose is called by the heal worker with a freshly drafted fix. It
// either applies immediately (auto_apply enabled and confidence at or
// above auto_apply_threshold) or queues a PendingFix for human approval.
func (m *Manager) Propose(ctx context.Context, provider string, src SourceConfig, confidence float64, rationale, summary string) (*AdapterVersion, *PendingFix, error) {
	return m.ProposeDetailed(ctx, provider, src, confidence, rationale, summary, nil, nil)
}

// ProposeDetailed is Propose plus the heal worker's phase-1/phase-2
// intermediate results, carried onto the PendingFix record (or discarded,
// for an auto-applied fix, once it has committed) purely for audit
// purposes — they play no part in the auto-apply decision itself.
func (m *Manager) ProposeDetailed(ctx context.Context, provider string, src SourceConfig, confidence float64, rationale, summary string, diagnosis *Diagnosis, citations []Citation) (*AdapterVersion, *PendingFix, error) {
	m.mu.Lock()
	autoApply := m.cfg.AutoApply && confidence >= m.cfg.AutoApplyThreshold
	m.mu.Unlock()

	if !autoApply {
		pf := &PendingFix{
			Provider: provider, Status: PendingStatusPending, Source: src,
			Confidence: confidence, Rationale: rationale, Summary: summary,
			CreatedAt: time.Now(), ExpiresAt: time.Now().Add(m.cfg.PendingExpiry),
			Diagnosis: diagnosis, Citations: citations,
		}
		m.mu.Lock()
		m.pending[provider] = pf
		m.mu.Unlock()
		if m.store != nil {
			_ = m.store.SavePending(*pf)
		}
		return nil, pf, nil
	}

	v, err := m.applyAndVerify(ctx, provider, src, confidence, rationale, OriginHealedAuto, "")
	return v, nil, err
}

// Approve applies provider's pending fix, running the apply path from
// the staging step onward.
func (m *Manager) Approve(ctx context.Context, provider, approver string) (*AdapterVersion, error) {
	m.mu.Lock()
	pf, ok := m.pending[provider]
	if !ok || pf.Status != PendingStatusPending {
		m.mu.Unlock()
		return nil, fmt.Errorf("reload: no pending fix for %q", provider)
	}
	src, confidence, rationale := pf.Source, pf.Confidence, pf.Rationale
	m.mu.Unlock()

	v, err := m.applyAndVerify(ctx, provider, src, confidence, rationale, OriginHealedApproved, approver)

	m.mu.Lock()
	if cur, ok := m.pending[provider]; ok && cur == pf {
		if err == nil {
			pf.Status = PendingStatusApproved
		}
		delete(m.pending, provider)
	}
	m.mu.Unlock()
	if m.store != nil {
		_ = m.store.DeletePending(provider)
	}
	return v, err
}

// Reject discards provider's pending fix and records a reject audit entry.
func (m *Manager) Reject(provider string) error {
	m.mu.Lock()
	pf, ok := m.pending[provider]
	if !ok || pf.Status != PendingStatusPending {
		m.mu.Unlock()
		return fmt.Errorf("reload: no pending fix for %q", provider)
	}
	delete(m.pending, provider)
	m.mu.Unlock()
	if m.store != nil {
		_ = m.store.DeletePending(provider)
		_ = m.store.AppendAudit(AuditEntry{Provider: provider, Event: "reject", Details: pf.Rationale})
	}
	return nil
}

// ExpirePending removes every pending fix whose ExpiresAt has passed,
// records an expire audit entry for each, and returns the providers
// affected.
func (m *Manager) ExpirePending() []string {
	now := time.Now()
	m.mu.Lock()
	var expired []string
	for provider, pf := range m.pending {
		if now.After(pf.ExpiresAt) {
			expired = append(expired, provider)
			delete(m.pending, provider)
		}
	}
	m.mu.Unlock()
	for _, provider := range expired {
		if m.store != nil {
			_ = m.store.DeletePending(provider)
			_ = m.store.AppendAudit(AuditEntry{Provider: provider, Event: "expire"})
		}
	}
	return expired
}

// applyAndVerify builds the candidate adapter, swaps it in atomically,
// verifies with a health check plus a canary chat within VerifyTimeout,
// then commits or rolls back. Lifecycle
// transitions for a single provider are serialized by its per-provider
// lock, but the network-bound verify step does not hold the manager's
// bookkeeping mutex, so concurrent providers apply independently.
func (m *Manager) applyAndVerify(ctx context.Context, providerName string, src SourceConfig, confidence float64, rationale string, origin Origin, approver string) (*AdapterVersion, error) {
	lock := m.providerLock(providerName)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	prev, hadPrev := m.currentLocked(providerName)
	nextNum := m.nextVersionLocked(providerName)
	m.mu.Unlock()

	candidate := AdapterVersion{
		Provider: providerName, Version: nextNum, SourceHash: src.Hash(), Source: src,
		CreatedAt: time.Now(), Origin: origin, Confidence: confidence, Approver: approver,
	}

	adapter, err := m.newAdapter(providerName, factory.Config{
		APIKey: m.secrets(providerName), BaseURL: src.BaseURL, Model: src.Model, Timeout: src.Timeout, Extra: src.Extra,
	}, m.logger)
	if err != nil {
		return nil, fmt.Errorf("reload: build adapter for %q: %w", providerName, err)
	}

	// Atomic swap: Registry.Register stores through an atomic.Pointer, so
	// in-flight Get callers never observe a torn value.
	m.registry.Register(providerName, adapter)

	verifyCtx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	verifyErr := m.verify(verifyCtx, adapter)
	cancel()

	if verifyErr == nil {
		m.mu.Lock()
		m.appendHistoryLocked(providerName, candidate)
		m.live[providerName] = candidate.Version
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordHealCommit(providerName)
		}
		if m.store != nil {
			_ = m.store.AppendAudit(AuditEntry{Provider: providerName, Event: "apply_commit", Version: candidate.Version})
		}
		m.logger.Info("heal commit", zap.String("provider", providerName), zap.Int("version", candidate.Version), zap.String("origin", string(origin)))
		return &candidate, nil
	}

	// Verification failed: swap back and record the attempt.
	candidate.FailedVerification = true
	m.mu.Lock()
	m.appendHistoryLocked(providerName, candidate)
	if hadPrev {
		m.live[providerName] = prev.Version
	}
	m.mu.Unlock()

	if hadPrev {
		rollbackAdapter, rbErr := m.newAdapter(providerName, factory.Config{
			APIKey: m.secrets(providerName), BaseURL: prev.Source.BaseURL, Model: prev.Source.Model, Timeout: prev.Source.Timeout, Extra: prev.Source.Extra,
		}, m.logger)
		if rbErr == nil {
			m.registry.Register(providerName, rollbackAdapter)
		} else {
			m.logger.Error("reload: failed to rebuild previous adapter during rollback", zap.String("provider", providerName), zap.Error(rbErr))
		}
	}

	if m.metrics != nil {
		m.metrics.RecordHealRollback(providerName)
	}
	if m.store != nil {
		_ = m.store.AppendAudit(AuditEntry{Provider: providerName, Event: "apply_rollback", Version: candidate.Version, Details: verifyErr.Error()})
	}
	if m.health != nil {
		m.health.RecordError(providerName, errorkind.Unknown, "verification failed: "+verifyErr.Error(), candidate.Version)
	}
	m.logger.Warn("heal rollback", zap.String("provider", providerName), zap.Int("attempted_version", candidate.Version), zap.Error(verifyErr))
	return nil, fmt.Errorf("reload: verification failed for %q: %w", providerName, verifyErr)
}

// verify runs HealthCheck followed by a canary Chat, both within ctx's
// deadline.
func (m *Manager) verify(ctx context.Context, a provider.Adapter) error {
	if err := a.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health_check: %w", err)
	}
	if _, err := a.Chat(ctx, canaryRequest); err != nil {
		return fmt.Errorf("canary chat: %w", err)
	}
	return nil
}

// RollbackTo swaps provider back to an arbitrary version still in
// history, recording a new entry with origin=manual-rollback.
func (m *Manager) RollbackTo(ctx context.Context, providerName string, version int) (*AdapterVersion, error) {
	lock := m.providerLock(providerName)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	var target *AdapterVersion
	for i := range m.history[providerName] {
		if m.history[providerName][i].Version == version {
			target = &m.history[providerName][i]
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return nil, fmt.Errorf("reload: version %d not found for %q", version, providerName)
	}

	adapter, err := m.newAdapter(providerName, factory.Config{
		APIKey: m.secrets(providerName), BaseURL: target.Source.BaseURL, Model: target.Source.Model, Timeout: target.Source.Timeout, Extra: target.Source.Extra,
	}, m.logger)
	if err != nil {
		return nil, fmt.Errorf("reload: rebuild adapter for rollback: %w", err)
	}
	m.registry.Register(providerName, adapter)

	m.mu.Lock()
	nextNum := m.nextVersionLocked(providerName)
	newVer := AdapterVersion{
		Provider: providerName, Version: nextNum, SourceHash: target.SourceHash, Source: target.Source,
		CreatedAt: time.Now(), Origin: OriginManualRollback,
	}
	m.appendHistoryLocked(providerName, newVer)
	m.live[providerName] = newVer.Version
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.AppendAudit(AuditEntry{Provider: providerName, Event: "manual_rollback", Version: newVer.Version, Details: fmt.Sprintf("to v%d", version)})
	}
	m.logger.Info("manual rollback", zap.String("provider", providerName), zap.Int("to_version", version), zap.Int("new_version", newVer.Version))
	return &newVer, nil
}
