package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Loader builds a Config from defaults, an optional TOML file, and
// environment overrides, in that priority order.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the default AGENTFLOW-era env prefix
// replaced by SCRIGW.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SCRIGW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the TOML file path to load.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers an additional validation hook, run after
// Config.Validate.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves a Config: defaults, then TOML file (if configPath is
// set), then environment overrides, then validation.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, err
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, &ConfigError{Kind: ConfigErrEnv, Message: err.Error(), Cause: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, &ConfigError{Kind: ConfigErrValidation, Message: err.Error(), Cause: err}
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ConfigError{Kind: ConfigErrParse, Field: l.configPath, Message: "failed to read config file", Cause: err}
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return &ConfigError{Kind: ConfigErrParse, Field: l.configPath, Message: "failed to parse TOML", Cause: err}
	}
	return nil
}

// loadFromEnv reflects over Config's "env" tags, so SCRIGW_SERVER_ADDR
// overrides server.addr, etc. Map-typed
// fields (Providers, Aliases, Fallbacks) carry no env tag and are only
// ever set from TOML — per-provider secrets come in via APIKeyEnv, not
// through this mechanism.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads a Config from path and panics on failure, for contexts
// where a failure is already fatal. cmd/gateway does not use it: it calls
// Load and maps a failure to its config-parse exit code.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks structural invariants not already enforced by defaults.
// It never validates API key material — that is resolved from environment
// at adapter-construction time, not here.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &ConfigError{Kind: ConfigErrValidation, Field: "server.addr", Message: "must not be empty"}
	}
	if c.Behaviour.DefaultProvider == "" {
		return &ConfigError{Kind: ConfigErrValidation, Field: "behaviour.default_provider", Message: "must not be empty"}
	}
	if _, ok := c.Providers[c.Behaviour.DefaultProvider]; !ok {
		return &ConfigError{Kind: ConfigErrValidation, Field: "behaviour.default_provider", Message: fmt.Sprintf("provider %q is not configured", c.Behaviour.DefaultProvider)}
	}
	for name, p := range c.Providers {
		if p.Enabled && p.Model == "" {
			return &ConfigError{Kind: ConfigErrValidation, Field: "providers." + name + ".model", Message: "enabled provider must set a default model"}
		}
	}
	if c.Healing.AutoApplyThreshold < 0 || c.Healing.AutoApplyThreshold > 1 {
		return &ConfigError{Kind: ConfigErrValidation, Field: "healing.auto_apply_threshold", Message: "must be between 0 and 1"}
	}
	return nil
}
