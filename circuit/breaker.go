// Package circuit implements the per-provider three-state circuit breaker
// gating every outbound adapter call: a mutex-guarded state machine in
// which only structural error kinds count toward the failure threshold,
// and administrative transitions are tracked separately from natural
// ones.
package circuit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/errorkind"
)

// State is one of the three circuit states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes one provider's breaker. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration

	// OnStateChange fires on every natural (threshold-driven) transition.
	OnStateChange func(provider string, from, to State)
	// OnAdminTransition fires on ForceOpen/ForceClose/Reset, recorded under
	// a distinct metric from natural transitions.
	OnAdminTransition func(provider string, from, to State)
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return cfg
}

// Breaker is one provider's circuit breaker.
type Breaker struct {
	provider string
	cfg      Config
	logger   *zap.Logger

	mu                sync.Mutex
	state             State
	consecutiveFail   int
	consecutiveSucc   int
	openUntil         time.Time
	probeBudget       int
}

// New creates a breaker for the named provider.
func New(provider string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		provider: provider,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		state:    Closed,
	}
}

// State returns the current state, resolving an elapsed open-until
// deadline into half-open as a side effect — the open -> half-open
// transition is event-driven rather than timer-driven.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpen()
	return b.state
}

// OpenUntil returns the deadline at which an Open breaker becomes eligible
// for half-open probing. Zero value means the breaker is not open.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil
}

// maybeExpireOpen must be called with mu held.
func (b *Breaker) maybeExpireOpen() {
	if b.state == Open && !b.openUntil.IsZero() && time.Now().After(b.openUntil) {
		b.setState(HalfOpen)
		b.consecutiveSucc = 0
		b.probeBudget = b.cfg.SuccessThreshold
	}
}

// Allow reports whether a call against this provider may proceed right
// now, consuming one unit of half-open probe budget if applicable. The
// router must call this immediately before invoking the adapter, and
// skip the candidate entirely when it returns false.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpen()

	switch b.state {
	case Closed:
		return true
	case Open:
		return false
	case HalfOpen:
		if b.probeBudget <= 0 {
			return false
		}
		b.probeBudget--
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFail = 0
	case HalfOpen:
		b.consecutiveSucc++
		if b.consecutiveSucc >= b.cfg.SuccessThreshold {
			b.setState(Closed)
			b.consecutiveFail = 0
			b.consecutiveSucc = 0
		}
	case Open:
		// A success observed while open is a stale probe racing the
		// expiry check; ignore rather than corrupt state.
	}
}

// RecordFailure reports a failed call outcome of the given classified
// kind. Only structural kinds count toward the failure threshold — a
// rate-limit storm (transient) must never trip the breaker.
func (b *Breaker) RecordFailure(kind errorkind.Kind) {
	if !errorkind.IsStructural(kind) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.FailureThreshold {
			b.openNow()
		}
	case HalfOpen:
		b.openNow()
	case Open:
		// Already open; nothing to do.
	}
}

// openNow must be called with mu held.
func (b *Breaker) openNow() {
	b.setState(Open)
	b.openUntil = time.Now().Add(b.cfg.RecoveryTimeout)
	b.consecutiveFail = 0
	b.consecutiveSucc = 0
	b.probeBudget = 0
}

// setState must be called with mu held; fires OnStateChange.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.provider, from, to)
	}
	b.logger.Info("circuit state changed",
		zap.String("provider", b.provider),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// ForceOpen, ForceClose, and Reset are administrative transitions,
// permitted from any state, tracked under a metric distinct from natural
// transitions.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	from := b.state
	b.state = Open
	b.openUntil = time.Now().Add(b.cfg.RecoveryTimeout)
	b.consecutiveFail = 0
	b.consecutiveSucc = 0
	b.probeBudget = 0
	b.fireAdmin(from, Open)
}

func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	from := b.state
	b.state = Closed
	b.consecutiveFail = 0
	b.consecutiveSucc = 0
	b.fireAdmin(from, Closed)
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	from := b.state
	b.state = Closed
	b.consecutiveFail = 0
	b.consecutiveSucc = 0
	b.openUntil = time.Time{}
	b.fireAdmin(from, Closed)
}

// fireAdmin must be called with mu held.
func (b *Breaker) fireAdmin(from, to State) {
	if b.cfg.OnAdminTransition != nil {
		go b.cfg.OnAdminTransition(b.provider, from, to)
	}
	b.logger.Info("circuit admin transition",
		zap.String("provider", b.provider),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}
