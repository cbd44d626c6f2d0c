// Package config loads and watches the gateway's TOML configuration: a
// server block, per-provider connection settings, an alias table, a
// behaviour block, and a healing block. Resolution layers defaults, the
// TOML file, then environment overrides via the Builder-style Loader's
// reflect-driven env pass. The polling FileWatcher reports file changes
// to registered callbacks; cmd/gateway does not start one, so the running
// gateway reads its configuration once at startup.
package config

import "time"

// Config is the gateway's full configuration, as decoded from TOML plus
// any environment overrides.
type Config struct {
	Server    ServerConfig              `toml:"server" env:"SERVER"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Aliases   map[string]string         `toml:"aliases"`
	Fallbacks map[string][]string       `toml:"fallbacks"`
	Behaviour BehaviourConfig           `toml:"behaviour" env:"BEHAVIOUR"`
	Healing   HealingConfig             `toml:"healing" env:"HEALING"`
	Reload    ReloadConfig              `toml:"reload" env:"RELOAD"`
	Circuit   CircuitConfig             `toml:"circuit" env:"CIRCUIT"`
	Log       LogConfig                 `toml:"log" env:"LOG"`
	Telemetry TelemetryConfig           `toml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig is the HTTP front-end's listen and timeout configuration.
type ServerConfig struct {
	Addr            string        `toml:"addr" env:"ADDR"`
	MetricsAddr     string        `toml:"metrics_addr" env:"METRICS_ADDR"`
	ReadTimeout     time.Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	APIKeys         []string      `toml:"api_keys" env:"API_KEYS"`
	CORSOrigins     []string      `toml:"cors_origins" env:"CORS_ORIGINS"`
}

// ProviderConfig is one backend's connection settings. APIKeyEnv names the
// environment variable the key is read from at startup and at reload
// apply-time; the key itself is never a TOML field — key material is
// read only from environment, never logged, never persisted.
type ProviderConfig struct {
	Enabled   bool           `toml:"enabled"`
	APIKeyEnv string         `toml:"api_key_env"`
	BaseURL   string         `toml:"base_url"`
	Model     string         `toml:"model"`
	Timeout   time.Duration  `toml:"timeout"`
	Priority  int            `toml:"priority"`
	Extra     map[string]any `toml:"extra"`
}

// BehaviourConfig tunes request routing.
type BehaviourConfig struct {
	DefaultProvider string `toml:"default_provider" env:"DEFAULT_PROVIDER"`
	PreferLocal     bool   `toml:"prefer_local" env:"PREFER_LOCAL"`
	EnableFallback  bool   `toml:"enable_fallback" env:"ENABLE_FALLBACK"`
}

// HealingConfig tunes the health monitor and heal worker.
type HealingConfig struct {
	Enabled                 bool     `toml:"enabled" env:"ENABLED"`
	AutoApply               bool     `toml:"auto_apply" env:"AUTO_APPLY"`
	AutoApplyThreshold      float64  `toml:"auto_apply_threshold" env:"AUTO_APPLY_THRESHOLD"`
	HealModel               string   `toml:"heal_model" env:"HEAL_MODEL"`
	ErrorThreshold          int      `toml:"error_threshold" env:"ERROR_THRESHOLD"`
	CooldownSeconds         int      `toml:"cooldown_seconds" env:"COOLDOWN_SECONDS"`
	ResearchPreferenceOrder []string `toml:"research_preference_order" env:"RESEARCH_PREFERENCE_ORDER"`
}

// ReloadConfig tunes the adapter version history and verification step.
type ReloadConfig struct {
	DataDir            string        `toml:"data_dir" env:"DATA_DIR"`
	MaxHistory         int           `toml:"max_history" env:"MAX_HISTORY"`
	VerifyTimeout      time.Duration `toml:"verify_timeout" env:"VERIFY_TIMEOUT"`
	PendingExpiry      time.Duration `toml:"pending_expiry" env:"PENDING_EXPIRY"`
}

// CircuitConfig holds the circuit-breaker tuning that cmd/gateway applies
// to every provider's breaker. There is no per-provider override:
// ProviderConfig carries no circuit settings and Extra is not consulted
// for them.
type CircuitConfig struct {
	FailureThreshold int           `toml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	SuccessThreshold int           `toml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	RecoveryTimeout  time.Duration `toml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
}

// LogConfig configures the gateway's zap logger.
type LogConfig struct {
	Level       string   `toml:"level" env:"LEVEL"`
	Format      string   `toml:"format" env:"FORMAT"` // "console" or "json"
	OutputPaths []string `toml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures OTel trace export, consumed by
// internal/telemetry.Init.
type TelemetryConfig struct {
	Enabled      bool    `toml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `toml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `toml:"sample_rate" env:"SAMPLE_RATE"`
}

// ConfigErrorKind classifies why configuration loading or validation
// failed.
type ConfigErrorKind string

const (
	ConfigErrParse      ConfigErrorKind = "parse"
	ConfigErrValidation ConfigErrorKind = "validation"
	ConfigErrEnv        ConfigErrorKind = "env"
)

// ConfigError wraps a configuration failure with its classification.
// Config errors are terminal: no retry, no fallback.
type ConfigError struct {
	Kind    ConfigErrorKind
	Field   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return "config: " + string(e.Kind) + " (" + e.Field + "): " + e.Message
	}
	return "config: " + string(e.Kind) + ": " + e.Message
}

func (e *ConfigError) Unwrap() error { return e.Cause }
