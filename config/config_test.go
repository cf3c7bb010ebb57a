package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
CloseFactorBps = 5000
FlashLoanPremiumBps = 9

[oracle]
MaxAgeSeconds = 120

[oracle.prices]
ETH = "2000"
USDC = "1"

[[reserve]]
Asset = "USDC"

[reserve.config]
CollateralFactorBps = 8000
LiquidationThresholdBps = 9000
LiquidationBonusBps = 500
MaxUtilizationBps = 9500
ReserveFactorBps = 1000
Active = true

[reserve.config.interest]
BaseRateBps = 500
MultiplierBps = 1000
JumpMultiplierBps = 30000
KinkBps = 8000
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protocol.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesReservesAndOracle(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CloseFactorBps != 5000 {
		t.Fatalf("close factor: got %d", cfg.CloseFactorBps)
	}
	if cfg.Oracle.MaxAgeSeconds != 120 {
		t.Fatalf("oracle max age: got %d", cfg.Oracle.MaxAgeSeconds)
	}
	if cfg.Oracle.Prices["ETH"] != "2000" {
		t.Fatalf("seed price: got %q", cfg.Oracle.Prices["ETH"])
	}
	if len(cfg.Reserves) != 1 {
		t.Fatalf("reserves: got %d want 1", len(cfg.Reserves))
	}
	reserve := cfg.Reserves[0]
	if reserve.Asset != "USDC" {
		t.Fatalf("asset: got %q", reserve.Asset)
	}
	if reserve.Config.Interest.KinkBps != 8000 {
		t.Fatalf("kink: got %d", reserve.Config.Interest.KinkBps)
	}
	if !reserve.Config.Active {
		t.Fatalf("reserve not active")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if cfg.CloseFactorBps != defaultCloseFactorBps {
		t.Fatalf("default close factor: got %d", cfg.CloseFactorBps)
	}
	if cfg.FlashLoanPremiumBps != defaultFlashLoanPremiumBps {
		t.Fatalf("default premium: got %d", cfg.FlashLoanPremiumBps)
	}
	if cfg.Oracle.MaxAgeSeconds != defaultOracleMaxAgeSeconds {
		t.Fatalf("default oracle age: got %d", cfg.Oracle.MaxAgeSeconds)
	}
}

func TestLoadRejectsBadParameters(t *testing.T) {
	bad := `
[[reserve]]
Asset = "USDC"

[reserve.config]
CollateralFactorBps = 9500
LiquidationThresholdBps = 9000
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatalf("expected validation failure for threshold below collateral factor")
	}

	unknown := "NotAKey = true\n"
	if _, err := Load(writeConfig(t, unknown)); err == nil {
		t.Fatalf("expected failure for unknown keys")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load fresh: %v", err)
	}
	if cfg.CloseFactorBps != defaultCloseFactorBps {
		t.Fatalf("fresh close factor: got %d", cfg.CloseFactorBps)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not created: %v", err)
	}
}
