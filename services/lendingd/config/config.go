package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"openlend/crypto"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress string `yaml:"listen"`
	// DataDir holds the LevelDB state. Empty selects the in-memory backend,
	// which is only suitable for local networks.
	DataDir string `yaml:"data_dir"`
	// ProtocolConfig points at the TOML file describing reserves, risk knobs
	// and oracle seeds.
	ProtocolConfig string `yaml:"protocol_config"`
	// LogFile enables rotated file logging when set; empty logs to stdout.
	LogFile string `yaml:"log_file"`
	// Admins lists the bech32 addresses accepted as protocol authority.
	Admins []string `yaml:"admins"`

	Auth       AuthConfig                 `yaml:"auth"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
	CORS       CORSConfig                 `yaml:"cors"`
	Telemetry  TelemetryConfig            `yaml:"telemetry"`
}

// AuthConfig controls JWT verification on the HTTP API.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// RateLimitConfig bounds one route group.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// CORSConfig whitelists browser origins for dashboard access.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8660"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.ProtocolConfig = strings.TrimSpace(cfg.ProtocolConfig)
	if cfg.ProtocolConfig == "" {
		cfg.ProtocolConfig = "protocol.toml"
	}
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)

	admins := make([]string, 0, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		if trimmed := strings.TrimSpace(admin); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	cfg.Admins = admins

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required when auth is enabled")
	}
	for _, admin := range cfg.Admins {
		if _, err := crypto.DecodeAddress(admin); err != nil {
			return fmt.Errorf("admins: invalid address %q: %w", admin, err)
		}
	}
	for key, limit := range cfg.RateLimits {
		if limit.RatePerSecond < 0 {
			return fmt.Errorf("rate_limits: %s: rate_per_second must not be negative", key)
		}
		if limit.Burst < 0 {
			return fmt.Errorf("rate_limits: %s: burst must not be negative", key)
		}
	}
	return nil
}

// AdminAddresses returns the decoded admin set. Call after Load has
// validated the entries.
func (cfg Config) AdminAddresses() []crypto.Address {
	out := make([]crypto.Address, 0, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		addr, err := crypto.DecodeAddress(admin)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}
