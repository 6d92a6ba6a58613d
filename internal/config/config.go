// Package config loads and validates the gateway's YAML configuration,
// applying well-known environment-variable overrides after parse.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the control-plane and admin listeners.
type ServerConfig struct {
	Host     string `yaml:"host"`
	WSPort   int    `yaml:"ws_port"`
	HTTPPort int    `yaml:"http_port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// AuthConfig configures admin-API authentication.
type AuthConfig struct {
	Mode               string `yaml:"mode"` // "jwt" | "oauth2" | "none"
	JWTSecret          string `yaml:"jwt_secret"`
	OAuth2TokenURL     string `yaml:"oauth2_token_url"`
	OAuth2ClientID     string `yaml:"oauth2_client_id"`
	OAuth2ClientSecret string `yaml:"oauth2_client_secret"`
}

// IdentityConfig configures the Identifier Resolver's static alias table,
// mapping agent-facing names (e.g. "sandbox") onto registry IDs.
type IdentityConfig struct {
	Aliases map[string]string `yaml:"aliases"`
}

// ProcessConfig configures the Process Runner's port range and restart
// budget.
type ProcessConfig struct {
	PortRangeStart int           `yaml:"port_range_start"`
	PortRangeEnd   int           `yaml:"port_range_end"`
	MaxRestarts    int           `yaml:"max_restarts"`
	RestartWindow  time.Duration `yaml:"restart_window"`
	RingBufferKB   int           `yaml:"ring_buffer_kb"`
}

// SupervisorConfig configures the Lifecycle Supervisor's steady-state sweep
// and the persisted-manifest backend.
type SupervisorConfig struct {
	HealthSweepInterval time.Duration `yaml:"health_sweep_interval"`
	ManifestPath        string        `yaml:"manifest_path"`
	Storage             string        `yaml:"storage"` // "file" | "sqlite"
	SQLitePath          string        `yaml:"sqlite_path"`
}

// DispatchConfig configures default dispatch timeouts.
type DispatchConfig struct {
	DefaultTimeout      time.Duration `yaml:"default_timeout"`
	RegistrationTimeout time.Duration `yaml:"registration_timeout"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
}

// CacheConfig configures the Result Cache.
type CacheConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MarketplaceConfig configures the search-install flow's registry client.
// Leaving Registries empty disables the marketplace advisor entirely,
// falling back to supervisor.NoopAdvisor, which rejects every
// search-install query.
type MarketplaceConfig struct {
	Registries         []string      `yaml:"registries"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	OAuth2TokenURL     string        `yaml:"oauth2_token_url"`
	OAuth2ClientID     string        `yaml:"oauth2_client_id"`
	OAuth2ClientSecret string        `yaml:"oauth2_client_secret"`
	OAuth2Scopes       []string      `yaml:"oauth2_scopes"`
}

// Config is the gateway's top-level configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Identity    IdentityConfig    `yaml:"identity"`
	Process     ProcessConfig     `yaml:"process"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Cache       CacheConfig       `yaml:"cache"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	LogLevel    string            `yaml:"log_level"`
}

// Default returns a Config with every field populated to this gateway's
// standard defaults (120s dispatch, 30s registration, 5s probe, 30s health
// sweep, etc.).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			WSPort:   8765,
			HTTPPort: 8080,
			GRPCPort: 8766,
		},
		Auth: AuthConfig{Mode: "jwt"},
		Process: ProcessConfig{
			PortRangeStart: 20000,
			PortRangeEnd:   21000,
			MaxRestarts:    5,
			RestartWindow:  time.Minute,
			RingBufferKB:   64,
		},
		Supervisor: SupervisorConfig{
			HealthSweepInterval: 30 * time.Second,
			ManifestPath:        "manifest.yaml",
			Storage:             "file",
		},
		Dispatch: DispatchConfig{
			DefaultTimeout:      120 * time.Second,
			RegistrationTimeout: 30 * time.Second,
			ProbeTimeout:        5 * time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL:    10 * time.Minute,
			SweepInterval: time.Minute,
		},
		Marketplace: MarketplaceConfig{
			CacheTTL: 15 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file, merging it over Default(), then applies
// environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverride describes one well-known environment variable and how to
// apply it to the config: when present, it overrides whatever the config
// file (or default) set.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string) error
}

func envOverrides() []envOverride {
	return []envOverride{
		{"TOOLGATED_HOST", func(c *Config, v string) error { c.Server.Host = v; return nil }},
		{"TOOLGATED_WS_PORT", intOverride(func(c *Config) *int { return &c.Server.WSPort })},
		{"TOOLGATED_HTTP_PORT", intOverride(func(c *Config) *int { return &c.Server.HTTPPort })},
		{"TOOLGATED_GRPC_PORT", intOverride(func(c *Config) *int { return &c.Server.GRPCPort })},
		{"TOOLGATED_ADMIN_TOKEN_SECRET", func(c *Config, v string) error { c.Auth.JWTSecret = v; return nil }},
		{"TOOLGATED_MANIFEST_PATH", func(c *Config, v string) error { c.Supervisor.ManifestPath = v; return nil }},
		{"TOOLGATED_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	}
}

func intOverride(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", v, err)
		}
		*field(c) = n
		return nil
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides() {
		if v, ok := os.LookupEnv(o.name); ok {
			_ = o.apply(cfg, v)
		}
	}
}

// Validate aggregates every config error instead of failing on the first
// one, so operators see the whole list of problems at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Server.WSPort == c.Server.HTTPPort {
		errs = append(errs, "server.ws_port and server.http_port must differ")
	}
	if c.Process.PortRangeStart >= c.Process.PortRangeEnd {
		errs = append(errs, "process.port_range_start must be < process.port_range_end")
	}
	if c.Auth.Mode == "jwt" && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth.mode is jwt")
	}
	if c.Auth.Mode == "oauth2" && (c.Auth.OAuth2TokenURL == "" || c.Auth.OAuth2ClientID == "") {
		errs = append(errs, "auth.oauth2_token_url and auth.oauth2_client_id are required when auth.mode is oauth2")
	}
	switch c.Supervisor.Storage {
	case "file":
	case "sqlite":
		if c.Supervisor.SQLitePath == "" {
			errs = append(errs, "supervisor.sqlite_path is required when supervisor.storage is sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("supervisor.storage must be 'file' or 'sqlite', got %q", c.Supervisor.Storage))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
