// Package config centralises runtime configuration helpers for Beacon.
package config

import (
	"os"
	"strings"
	"time"
)

// Environment identifies the runtime environment where Beacon operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ProviderSpec describes one simulated provider in the manifest.
type ProviderSpec struct {
	UUID string `yaml:"uuid,omitempty"`
	Name string `yaml:"name"`
	Icon string `yaml:"icon,omitempty"`
	RDNS string `yaml:"rdns"`
}

// RequesterSettings tunes the backoff-driven re-request loop.
type RequesterSettings struct {
	Enabled            bool          `yaml:"enabled"`
	InitialInterval    time.Duration `yaml:"initial_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	StopWhenDiscovered bool          `yaml:"stop_when_discovered"`
}

// AdmissionSettings configures the optional JavaScript admission policy.
type AdmissionSettings struct {
	ScriptPath string `yaml:"script_path,omitempty"`
}

// BridgeSettings configures the websocket inspect bridge.
type BridgeSettings struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// AuditSettings configures the optional Postgres discovery audit store.
// Schema migrations are embedded in the binary.
type AuditSettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn,omitempty"`
}

// Settings contains the Beacon configuration tree loaded from defaults,
// manifest file and environment overrides.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Debug       bool              `yaml:"debug"`
	Requester   RequesterSettings `yaml:"requester"`
	Admission   AdmissionSettings `yaml:"admission"`
	Bridge      BridgeSettings    `yaml:"bridge"`
	Audit       AuditSettings     `yaml:"audit"`
	Providers   []ProviderSpec    `yaml:"providers"`
}

// Default returns the default Beacon configuration.
func Default() Settings {
	return Settings{
		Environment: EnvDev,
		Debug:       false,
		Requester: RequesterSettings{
			Enabled:            true,
			InitialInterval:    500 * time.Millisecond,
			MaxInterval:        30 * time.Second,
			StopWhenDiscovered: false,
		},
		Admission: AdmissionSettings{ScriptPath: ""},
		Bridge:    BridgeSettings{Enabled: false, ListenAddr: "127.0.0.1:8791"},
		Audit:     AuditSettings{Enabled: false, DSN: ""},
		Providers: nil,
	}
}

// FromEnv applies environment variable overrides to the given settings.
func FromEnv(cfg Settings) Settings {
	if env := strings.TrimSpace(os.Getenv("BEACON_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if debug := strings.TrimSpace(os.Getenv("BEACON_DEBUG")); debug != "" {
		cfg.Debug = debug == "true" || debug == "1"
	}
	if dsn := strings.TrimSpace(os.Getenv("BEACON_AUDIT_DSN")); dsn != "" {
		cfg.Audit.Enabled = true
		cfg.Audit.DSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv("BEACON_BRIDGE_ADDR")); addr != "" {
		cfg.Bridge.Enabled = true
		cfg.Bridge.ListenAddr = addr
	}
	return cfg
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	cfg.Providers = append([]ProviderSpec(nil), base.Providers...)
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment overrides the runtime environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		s.Environment = env
	}
}

// WithProviders replaces the simulated provider specs.
func WithProviders(specs []ProviderSpec) Option {
	return func(s *Settings) {
		s.Providers = append([]ProviderSpec(nil), specs...)
	}
}
