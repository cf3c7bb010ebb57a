package lending

import (
	"math/big"

	"github.com/holiman/uint256"

	"openlend/crypto"
)

// RateMode selects which debt book a borrow or repay operates on.
type RateMode uint8

const (
	// RateModeNone is used by flash loans to request immediate repayment.
	RateModeNone RateMode = iota
	// RateModeStable locks the stable borrow rate quoted at draw time.
	RateModeStable
	// RateModeVariable tracks the floating rate via the borrow index.
	RateModeVariable
)

func (m RateMode) String() string {
	switch m {
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	default:
		return "none"
	}
}

// Reserve is the accounting state for one asset pool. Supply and variable
// debt are tracked in scaled units against their respective ray indexes;
// stable debt is tracked in underlying units compounded at the average
// locked rate.
type Reserve struct {
	ID    uint32
	Asset string

	LiquidityIndex      *big.Int // ray
	VariableBorrowIndex *big.Int // ray

	CurrentLiquidityRate      *big.Int // ray, annual
	CurrentVariableBorrowRate *big.Int // ray, annual
	CurrentStableBorrowRate   *big.Int // ray, annual

	LastUpdateTimestamp uint64

	TotalScaledSupply       *big.Int
	TotalScaledVariableDebt *big.Int
	TotalStableDebt         *big.Int
	AverageStableRate       *big.Int // ray

	// TreasuryScaledSupply is the protocol-owned slice of TotalScaledSupply,
	// minted from the reserve-factor share of accrued interest.
	TreasuryScaledSupply *big.Int

	Config ReserveConfig
}

func (r *Reserve) ensureDefaults() {
	if r == nil {
		return
	}
	if r.LiquidityIndex == nil || r.LiquidityIndex.Sign() == 0 {
		r.LiquidityIndex = new(big.Int).Set(ray)
	}
	if r.VariableBorrowIndex == nil || r.VariableBorrowIndex.Sign() == 0 {
		r.VariableBorrowIndex = new(big.Int).Set(ray)
	}
	if r.CurrentLiquidityRate == nil {
		r.CurrentLiquidityRate = big.NewInt(0)
	}
	if r.CurrentVariableBorrowRate == nil {
		r.CurrentVariableBorrowRate = big.NewInt(0)
	}
	if r.CurrentStableBorrowRate == nil {
		r.CurrentStableBorrowRate = big.NewInt(0)
	}
	if r.TotalScaledSupply == nil {
		r.TotalScaledSupply = big.NewInt(0)
	}
	if r.TotalScaledVariableDebt == nil {
		r.TotalScaledVariableDebt = big.NewInt(0)
	}
	if r.TotalStableDebt == nil {
		r.TotalStableDebt = big.NewInt(0)
	}
	if r.AverageStableRate == nil {
		r.AverageStableRate = big.NewInt(0)
	}
	if r.TreasuryScaledSupply == nil {
		r.TreasuryScaledSupply = big.NewInt(0)
	}
}

// Clone deep copies the reserve so staged mutations never leak into state.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := &Reserve{
		ID:                  r.ID,
		Asset:               r.Asset,
		LastUpdateTimestamp: r.LastUpdateTimestamp,
		Config:              r.Config,
	}
	clone.LiquidityIndex = cloneBig(r.LiquidityIndex)
	clone.VariableBorrowIndex = cloneBig(r.VariableBorrowIndex)
	clone.CurrentLiquidityRate = cloneBig(r.CurrentLiquidityRate)
	clone.CurrentVariableBorrowRate = cloneBig(r.CurrentVariableBorrowRate)
	clone.CurrentStableBorrowRate = cloneBig(r.CurrentStableBorrowRate)
	clone.TotalScaledSupply = cloneBig(r.TotalScaledSupply)
	clone.TotalScaledVariableDebt = cloneBig(r.TotalScaledVariableDebt)
	clone.TotalStableDebt = cloneBig(r.TotalStableDebt)
	clone.AverageStableRate = cloneBig(r.AverageStableRate)
	clone.TreasuryScaledSupply = cloneBig(r.TreasuryScaledSupply)
	clone.ensureDefaults()
	return clone
}

// UnderlyingSupply returns the supply book in underlying units at the current
// liquidity index, treasury slice included.
func (r *Reserve) UnderlyingSupply() (*big.Int, error) {
	return amountFromScaled(r.TotalScaledSupply, r.LiquidityIndex)
}

// UnderlyingVariableDebt returns the variable debt book in underlying units
// at the current borrow index.
func (r *Reserve) UnderlyingVariableDebt() (*big.Int, error) {
	return amountFromScaled(r.TotalScaledVariableDebt, r.VariableBorrowIndex)
}

// TotalDebt returns variable plus stable debt in underlying units.
func (r *Reserve) TotalDebt() (*big.Int, error) {
	variable, err := r.UnderlyingVariableDebt()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(variable, r.TotalStableDebt), nil
}

// AvailableLiquidity returns the idle underlying sitting in the pool:
// supplied minus lent out, floored at zero for rounding dust.
func (r *Reserve) AvailableLiquidity() (*big.Int, error) {
	supplied, err := r.UnderlyingSupply()
	if err != nil {
		return nil, err
	}
	debt, err := r.TotalDebt()
	if err != nil {
		return nil, err
	}
	available := new(big.Int).Sub(supplied, debt)
	if available.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return available, nil
}

// UserPosition tracks one account's claims against one reserve.
type UserPosition struct {
	Address crypto.Address
	Asset   string

	ScaledSupply       *big.Int
	ScaledVariableDebt *big.Int

	StableDebt        *big.Int // underlying, as of LastStableAccrual
	StableRate        *big.Int // ray, locked weighted-average rate
	LastStableAccrual uint64

	UsingAsCollateral bool
}

func (p *UserPosition) ensureDefaults() {
	if p == nil {
		return
	}
	if p.ScaledSupply == nil {
		p.ScaledSupply = big.NewInt(0)
	}
	if p.ScaledVariableDebt == nil {
		p.ScaledVariableDebt = big.NewInt(0)
	}
	if p.StableDebt == nil {
		p.StableDebt = big.NewInt(0)
	}
	if p.StableRate == nil {
		p.StableRate = big.NewInt(0)
	}
}

func (p *UserPosition) empty() bool {
	if p == nil {
		return true
	}
	p.ensureDefaults()
	return p.ScaledSupply.Sign() == 0 && p.ScaledVariableDebt.Sign() == 0 && p.StableDebt.Sign() == 0
}

// Clone deep copies the position.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	clone := &UserPosition{
		Address:           p.Address,
		Asset:             p.Asset,
		LastStableAccrual: p.LastStableAccrual,
		UsingAsCollateral: p.UsingAsCollateral,
	}
	clone.ScaledSupply = cloneBig(p.ScaledSupply)
	clone.ScaledVariableDebt = cloneBig(p.ScaledVariableDebt)
	clone.StableDebt = cloneBig(p.StableDebt)
	clone.StableRate = cloneBig(p.StableRate)
	clone.ensureDefaults()
	return clone
}

// AccountData is the cross-reserve risk summary for one account. Values are
// wad-scaled USD; the health factor is ray-scaled and pegged at
// MaxHealthFactor while the account carries no debt.
type AccountData struct {
	TotalCollateralValue        *big.Int
	TotalDebtValue              *big.Int
	AvailableBorrowValue        *big.Int
	CurrentLiquidationThreshold uint64 // bps, collateral weighted
	LTV                         uint64 // bps, collateral weighted
	HealthFactor                *big.Int
}

// MaxHealthFactor is the sentinel health factor for debt-free accounts.
var MaxHealthFactor = new(big.Int).Set(maxUint256)

// ReserveData is the read model returned by reserve queries, with indexes
// and totals projected to the query timestamp.
type ReserveData struct {
	Asset string
	ID    uint32

	TotalSupplied      *big.Int
	TotalVariableDebt  *big.Int
	TotalStableDebt    *big.Int
	AvailableLiquidity *big.Int
	Utilization        *big.Int // ray

	LiquidityRate      *big.Int // ray
	VariableBorrowRate *big.Int // ray
	StableBorrowRate   *big.Int // ray

	LiquidityIndex      *big.Int // ray
	VariableBorrowIndex *big.Int // ray

	LastUpdateTimestamp uint64
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// checkBounds verifies stored quantities fit the unsigned 256-bit word.
func checkBounds(values ...*big.Int) error {
	for _, v := range values {
		if v == nil {
			continue
		}
		if v.Sign() < 0 {
			return ErrArithmeticOverflow
		}
		if _, overflow := uint256.FromBig(v); overflow {
			return ErrArithmeticOverflow
		}
	}
	return nil
}
