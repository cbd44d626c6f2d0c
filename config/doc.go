// Package config loads, validates, and watches the gateway's TOML
// configuration file: a server block, per-provider
// connection settings (enable flag, API-key env-var reference, base URL,
// default model), an alias table, a fallback table, a behaviour block,
// and a healing block.
//
// Configuration resolves in three layers: DefaultConfig(), then the TOML
// file named by WithConfigPath, then environment overrides under the
// SCRIGW_ prefix (overridable via WithEnvPrefix). API key material is
// never a config field — ProviderConfig.APIKeyEnv only names the
// environment variable it is read from at adapter-construction time, so
// keys are never logged or persisted to the TOML file or the reload
// manager's version history.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("gateway.toml").
//	    WithEnvPrefix("SCRIGW").
//	    Load()
package config
