package lending

import "fmt"

// InterestParams configure the kinked borrow-rate curve in basis points.
type InterestParams struct {
	BaseRateBps       uint64 `toml:"BaseRateBps" json:"baseRateBps"`
	MultiplierBps     uint64 `toml:"MultiplierBps" json:"multiplierBps"`
	JumpMultiplierBps uint64 `toml:"JumpMultiplierBps" json:"jumpMultiplierBps"`
	KinkBps           uint64 `toml:"KinkBps" json:"kinkBps"`
}

// Model instantiates the rate curve described by the parameters.
func (p InterestParams) Model() *InterestModel {
	return NewInterestModel(p.BaseRateBps, p.MultiplierBps, p.JumpMultiplierBps, p.KinkBps)
}

// ReserveConfig carries the governance-set risk and rate parameters for a
// reserve. All ratios are basis points of 10,000.
type ReserveConfig struct {
	// CollateralFactorBps is the loan-to-value cap applied when computing
	// borrowing power.
	CollateralFactorBps uint64 `toml:"CollateralFactorBps" json:"collateralFactorBps"`
	// LiquidationThresholdBps weights collateral in the health factor. Must
	// be at least the collateral factor so borrow power never exceeds the
	// liquidation bound.
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps" json:"liquidationThresholdBps"`
	// LiquidationBonusBps is the liquidator's discount on seized collateral.
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps" json:"liquidationBonusBps"`
	// BorrowFactorBps haircuts this asset's value when it is the borrowed
	// side of a borrowing-power check. Zero means no haircut.
	BorrowFactorBps uint64 `toml:"BorrowFactorBps" json:"borrowFactorBps"`
	// MaxUtilizationBps caps post-borrow utilization. Zero means uncapped.
	MaxUtilizationBps uint64 `toml:"MaxUtilizationBps" json:"maxUtilizationBps"`
	// ReserveFactorBps is the protocol's cut of accrued borrow interest.
	ReserveFactorBps uint64 `toml:"ReserveFactorBps" json:"reserveFactorBps"`
	// StableRateMarginBps is added to the variable borrow rate to quote the
	// stable borrow rate.
	StableRateMarginBps uint64 `toml:"StableRateMarginBps" json:"stableRateMarginBps"`

	StableBorrowEnabled bool `toml:"StableBorrowEnabled" json:"stableBorrowEnabled"`
	Active              bool `toml:"Active" json:"active"`
	Frozen              bool `toml:"Frozen" json:"frozen"`
	Paused              bool `toml:"Paused" json:"paused"`

	Interest InterestParams `toml:"interest" json:"interest"`
}

// Validate rejects parameter combinations that would let accounts borrow past
// their own liquidation bound or misprice the curve.
func (c ReserveConfig) Validate() error {
	if c.CollateralFactorBps > 10_000 {
		return fmt.Errorf("lending: collateral factor %d exceeds 10000 bps", c.CollateralFactorBps)
	}
	if c.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("lending: liquidation threshold %d exceeds 10000 bps", c.LiquidationThresholdBps)
	}
	if c.LiquidationThresholdBps < c.CollateralFactorBps {
		return fmt.Errorf("lending: liquidation threshold %d below collateral factor %d", c.LiquidationThresholdBps, c.CollateralFactorBps)
	}
	if c.BorrowFactorBps > 10_000 {
		return fmt.Errorf("lending: borrow factor %d exceeds 10000 bps", c.BorrowFactorBps)
	}
	if c.MaxUtilizationBps > 10_000 {
		return fmt.Errorf("lending: max utilization %d exceeds 10000 bps", c.MaxUtilizationBps)
	}
	if c.ReserveFactorBps >= 10_000 {
		return fmt.Errorf("lending: reserve factor %d must stay below 10000 bps", c.ReserveFactorBps)
	}
	if c.Interest.KinkBps > 10_000 {
		return fmt.Errorf("lending: kink %d exceeds 10000 bps", c.Interest.KinkBps)
	}
	return nil
}
