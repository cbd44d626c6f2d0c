// Package reload owns the full lifecycle of an adapter's live
// configuration version: snapshot/apply/verify/rollback and the
// pending-fix queue a low-confidence heal cycle drops into. Go cannot
// safely hot-swap compiled code, so "source" here is the adapter's
// declarative wire configuration (base URL, model, endpoint overrides)
// rather than literal source text — a heal fix is a new SourceConfig,
// not a new binary, applied through provider.Registry's atomic.Pointer
// slots.
package reload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Origin records how an AdapterVersion came to exist.
type Origin string

const (
	OriginInitial        Origin = "initial"
	OriginHealedAuto      Origin = "healed-auto"
	OriginHealedApproved Origin = "healed-approved"
	OriginManualRollback Origin = "manual-rollback"
)

// SourceConfig is the adapter-reconstructible configuration a fix patches.
// It deliberately excludes API-key material — that is read
// only from environment and never persisted; the manager resolves it
// separately at apply time via its secrets lookup.
type SourceConfig struct {
	BaseURL string         `json:"base_url,omitempty"`
	Model   string         `json:"model,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Hash returns a content hash of the source, used as AdapterVersion's
// SourceHash for audit/dedup purposes.
func (s SourceConfig) Hash() string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// AdapterVersion is one entry in a provider's version history.
type AdapterVersion struct {
	Provider            string       `json:"provider"`
	Version             int          `json:"version"`
	SourceHash          string       `json:"source_hash"`
	Source              SourceConfig `json:"source"`
	CreatedAt           time.Time    `json:"created_at"`
	Origin              Origin       `json:"origin"`
	Confidence          float64      `json:"confidence,omitempty"`
	Approver            string       `json:"approver,omitempty"`
	FailedVerification  bool         `json:"failed_verification,omitempty"`
}

// PendingFixStatus is the lifecycle state of a PendingFix.
type PendingFixStatus string

const (
	PendingStatusPending  PendingFixStatus = "pending"
	PendingStatusApproved PendingFixStatus = "approved"
	PendingStatusRejected PendingFixStatus = "rejected"
	PendingStatusExpired  PendingFixStatus = "expired"
)

// PendingFix is a drafted fix awaiting human approval because auto_apply
// was off or its confidence fell below auto_apply_threshold.
type PendingFix struct {
	Provider   string           `json:"provider"`
	Status     PendingFixStatus `json:"status"`
	Source     SourceConfig     `json:"source"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale"`
	Summary    string           `json:"summary,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`

	// Diagnosis and Citations carry the heal worker's phase-1/phase-2
	// intermediate results onto the record so a rejected or expired fix
	// remains auditable even though no adapter version was ever produced
	// from it.
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Diagnosis is the heal worker's phase-1 (diagnose) output.
type Diagnosis struct {
	Summary       string   `json:"summary"`
	LikelyCause   string   `json:"likely_cause"`
	IsStructural  bool     `json:"is_structural"`
	SearchQueries []string `json:"search_queries,omitempty"`
}

// Citation is one phase-2 (research) result.
type Citation struct {
	URL     string    `json:"url"`
	Excerpt string    `json:"excerpt"`
	At      time.Time `json:"at"`
}

// AuditEntry is one line of the append-only heal-cycle audit log.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Provider string    `json:"provider"`
	Event    string    `json:"event"` // apply_commit | apply_rollback | reject | manual_rollback | expire
	Version  int       `json:"version,omitempty"`
	Details  string    `json:"details,omitempty"`
}
