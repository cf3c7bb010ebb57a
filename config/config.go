package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"openlend/native/lending"
)

// Config is the protocol-level configuration: global risk knobs, the oracle
// staleness policy and the set of reserves to activate at startup.
type Config struct {
	// CloseFactorBps caps the share of a borrower's debt a single
	// liquidation call may cover.
	CloseFactorBps uint64 `toml:"CloseFactorBps"`
	// FlashLoanPremiumBps is the fee charged on flash loan principal.
	FlashLoanPremiumBps uint64 `toml:"FlashLoanPremiumBps"`

	Oracle   OracleConfig        `toml:"oracle"`
	Reserves []ReserveDefinition `toml:"reserve"`
}

// OracleConfig bounds how old a price quote may be before the protocol
// refuses to act on it.
type OracleConfig struct {
	MaxAgeSeconds int64 `toml:"MaxAgeSeconds"`
	// Prices seeds the manual oracle with decimal USD prices, used by local
	// networks and tests.
	Prices map[string]string `toml:"prices"`
}

// ReserveDefinition couples an asset symbol with its reserve parameters.
type ReserveDefinition struct {
	Asset  string                `toml:"Asset"`
	Config lending.ReserveConfig `toml:"config"`
}

const (
	defaultCloseFactorBps      = 5_000
	defaultFlashLoanPremiumBps = 9
	defaultOracleMaxAgeSeconds = 300
)

// Load reads the protocol configuration from path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CloseFactorBps == 0 {
		c.CloseFactorBps = defaultCloseFactorBps
	}
	if c.FlashLoanPremiumBps == 0 {
		c.FlashLoanPremiumBps = defaultFlashLoanPremiumBps
	}
	if c.Oracle.MaxAgeSeconds == 0 {
		c.Oracle.MaxAgeSeconds = defaultOracleMaxAgeSeconds
	}
}

// Validate rejects configurations the engine would refuse at runtime.
func (c *Config) Validate() error {
	if c.CloseFactorBps > 10_000 {
		return fmt.Errorf("config: close factor %d exceeds 10000 bps", c.CloseFactorBps)
	}
	if c.FlashLoanPremiumBps > 10_000 {
		return fmt.Errorf("config: flash loan premium %d exceeds 10000 bps", c.FlashLoanPremiumBps)
	}
	if c.Oracle.MaxAgeSeconds < 0 {
		return fmt.Errorf("config: oracle max age must not be negative")
	}
	seen := make(map[string]bool, len(c.Reserves))
	for i, def := range c.Reserves {
		asset := strings.ToUpper(strings.TrimSpace(def.Asset))
		if asset == "" {
			return fmt.Errorf("config: reserve %d has no asset symbol", i)
		}
		if seen[asset] {
			return fmt.Errorf("config: duplicate reserve %s", asset)
		}
		seen[asset] = true
		if err := def.Config.Validate(); err != nil {
			return fmt.Errorf("config: reserve %s: %w", asset, err)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
