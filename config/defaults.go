package config

import "time"

// DefaultConfig returns the configuration used when no TOML file is given
// and no environment override applies; Loader.Load starts from it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Providers: map[string]ProviderConfig{
			"local": {
				Enabled: true,
				BaseURL: "http://localhost:11434/v1",
				Model:   "llama3",
				Timeout: 60 * time.Second,
			},
		},
		Aliases: map[string]string{
			"local": "local:llama3",
		},
		Fallbacks: map[string][]string{},
		Behaviour: BehaviourConfig{
			DefaultProvider: "local",
			PreferLocal:     true,
			EnableFallback:  true,
		},
		Healing: HealingConfig{
			Enabled:                 true,
			AutoApply:               false,
			AutoApplyThreshold:      0.8,
			HealModel:               "local",
			ErrorThreshold:          5,
			CooldownSeconds:         600,
			ResearchPreferenceOrder: []string{"xai", "openai", "google", "anthropic"},
		},
		Reload: ReloadConfig{
			DataDir:       "data/adapters",
			MaxHistory:    10,
			VerifyTimeout: 10 * time.Second,
			PendingExpiry: 7 * 24 * time.Hour,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			RecoveryTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "sovereign-gateway",
			SampleRate:  0.1,
		},
	}
}
