package lending

import (
	"fmt"
	"math/big"

	"openlend/crypto"
	"openlend/native/oracle"
)

// snapshot aggregates an account's collateral and debt across every reserve
// it touches, priced in wad USD at indexes projected to the engine clock.
type snapshot struct {
	data              *AccountData
	thresholdWeighted *big.Int // wad USD, collateral weighted by liq. threshold
	ltvWeighted       *big.Int // wad USD, collateral weighted by collateral factor
}

func (e *Engine) priceOf(asset string) (*big.Int, error) {
	if e.oracle == nil {
		return nil, fmt.Errorf("lending: oracle not configured: %w", oracle.ErrPriceUnavailable)
	}
	quote, err := e.oracle.GetPrice(asset)
	if err != nil {
		return nil, err
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("lending: quote for %s empty: %w", asset, oracle.ErrPriceUnavailable)
	}
	return quote.Price, nil
}

// normalizedIncome projects the liquidity index to the engine clock without
// persisting, so read paths see the same value a mutation would accrue to.
func (e *Engine) normalizedIncome(r *Reserve) (*big.Int, error) {
	if e.now <= r.LastUpdateTimestamp || r.CurrentLiquidityRate.Sign() == 0 {
		return new(big.Int).Set(r.LiquidityIndex), nil
	}
	factor, err := compoundFactor(r.CurrentLiquidityRate, e.now-r.LastUpdateTimestamp)
	if err != nil {
		return nil, err
	}
	return mulRay(r.LiquidityIndex, factor)
}

// normalizedVariableDebt projects the variable borrow index to the engine
// clock without persisting.
func (e *Engine) normalizedVariableDebt(r *Reserve) (*big.Int, error) {
	if e.now <= r.LastUpdateTimestamp || r.CurrentVariableBorrowRate.Sign() == 0 {
		return new(big.Int).Set(r.VariableBorrowIndex), nil
	}
	factor, err := compoundFactor(r.CurrentVariableBorrowRate, e.now-r.LastUpdateTimestamp)
	if err != nil {
		return nil, err
	}
	return mulRay(r.VariableBorrowIndex, factor)
}

func (e *Engine) accountSnapshot(addr crypto.Address) (*snapshot, error) {
	positions, err := e.state.PositionsOf(addr)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{
		data: &AccountData{
			TotalCollateralValue: big.NewInt(0),
			TotalDebtValue:       big.NewInt(0),
			AvailableBorrowValue: big.NewInt(0),
			HealthFactor:         new(big.Int).Set(MaxHealthFactor),
		},
		thresholdWeighted: big.NewInt(0),
		ltvWeighted:       big.NewInt(0),
	}
	for _, pos := range positions {
		if pos == nil || pos.empty() {
			continue
		}
		reserve, err := e.state.GetReserve(pos.Asset)
		if err != nil {
			return nil, err
		}
		if reserve == nil {
			continue
		}
		reserve.ensureDefaults()
		price, err := e.priceOf(pos.Asset)
		if err != nil {
			return nil, err
		}
		if pos.ScaledSupply.Sign() > 0 && pos.UsingAsCollateral {
			index, err := e.normalizedIncome(reserve)
			if err != nil {
				return nil, err
			}
			balance, err := amountFromScaled(pos.ScaledSupply, index)
			if err != nil {
				return nil, err
			}
			value, err := mulWad(balance, price)
			if err != nil {
				return nil, err
			}
			snap.data.TotalCollateralValue.Add(snap.data.TotalCollateralValue, value)
			weighted, err := percentOf(value, reserve.Config.LiquidationThresholdBps)
			if err != nil {
				return nil, err
			}
			snap.thresholdWeighted.Add(snap.thresholdWeighted, weighted)
			power, err := percentOf(value, reserve.Config.CollateralFactorBps)
			if err != nil {
				return nil, err
			}
			snap.ltvWeighted.Add(snap.ltvWeighted, power)
		}
		debt := big.NewInt(0)
		if pos.ScaledVariableDebt.Sign() > 0 {
			index, err := e.normalizedVariableDebt(reserve)
			if err != nil {
				return nil, err
			}
			variable, err := amountFromScaled(pos.ScaledVariableDebt, index)
			if err != nil {
				return nil, err
			}
			debt.Add(debt, variable)
		}
		stable, err := projectedStableDebt(pos, e.now)
		if err != nil {
			return nil, err
		}
		debt.Add(debt, stable)
		if debt.Sign() > 0 {
			value, err := mulWad(debt, price)
			if err != nil {
				return nil, err
			}
			snap.data.TotalDebtValue.Add(snap.data.TotalDebtValue, value)
		}
	}

	if snap.data.TotalCollateralValue.Sign() > 0 {
		snap.data.CurrentLiquidationThreshold = weightedBps(snap.thresholdWeighted, snap.data.TotalCollateralValue)
		snap.data.LTV = weightedBps(snap.ltvWeighted, snap.data.TotalCollateralValue)
	}
	if snap.data.TotalDebtValue.Sign() > 0 {
		hf, err := divRay(snap.thresholdWeighted, snap.data.TotalDebtValue)
		if err != nil {
			return nil, err
		}
		snap.data.HealthFactor = hf
		available := new(big.Int).Sub(snap.ltvWeighted, snap.data.TotalDebtValue)
		if available.Sign() < 0 {
			available = big.NewInt(0)
		}
		snap.data.AvailableBorrowValue = available
	} else {
		snap.data.AvailableBorrowValue = new(big.Int).Set(snap.ltvWeighted)
	}
	return snap, nil
}

func weightedBps(weighted, total *big.Int) uint64 {
	ratio := new(big.Int).Mul(weighted, basisPoints)
	ratio.Quo(ratio, total)
	if !ratio.IsUint64() {
		return 0
	}
	return ratio.Uint64()
}

// validateBorrow checks the account can absorb amount of new debt in the
// given reserve: the borrow-factor adjusted value must fit inside remaining
// borrowing power and the simulated health factor must stay at or above one.
func (e *Engine) validateBorrow(addr crypto.Address, r *Reserve, amount, price *big.Int) error {
	snap, err := e.accountSnapshot(addr)
	if err != nil {
		return err
	}
	value, err := mulWad(amount, price)
	if err != nil {
		return err
	}
	adjusted := new(big.Int).Set(value)
	if factor := r.Config.BorrowFactorBps; factor > 0 && factor < 10_000 {
		adjusted.Mul(adjusted, basisPoints)
		adjusted.Quo(adjusted, new(big.Int).SetUint64(factor))
	}
	if adjusted.Cmp(snap.data.AvailableBorrowValue) > 0 {
		return ErrBorrowCapExceeded
	}
	newDebt := new(big.Int).Add(snap.data.TotalDebtValue, value)
	if newDebt.Sign() == 0 {
		return nil
	}
	hf, err := divRay(snap.thresholdWeighted, newDebt)
	if err != nil {
		return err
	}
	if hf.Cmp(ray) < 0 {
		return ErrHealthFactorTooLow
	}
	return nil
}

// validateWithdraw checks that removing amount of collateral keeps the
// simulated health factor at or above one. Non-collateral withdrawals and
// debt-free accounts pass immediately.
func (e *Engine) validateWithdraw(addr crypto.Address, r *Reserve, pos *UserPosition, amount *big.Int) error {
	if !pos.UsingAsCollateral {
		return nil
	}
	snap, err := e.accountSnapshot(addr)
	if err != nil {
		return err
	}
	if snap.data.TotalDebtValue.Sign() == 0 {
		return nil
	}
	price, err := e.priceOf(r.Asset)
	if err != nil {
		return err
	}
	value, err := mulWad(amount, price)
	if err != nil {
		return err
	}
	removed, err := percentOf(value, r.Config.LiquidationThresholdBps)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(snap.thresholdWeighted, removed)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	hf, err := divRay(remaining, snap.data.TotalDebtValue)
	if err != nil {
		return err
	}
	if hf.Cmp(ray) < 0 {
		return ErrHealthFactorTooLow
	}
	return nil
}

// liquidationAmounts resolves the debt actually covered and the collateral
// seized for a liquidation call. The close factor caps the covered debt at
// half the borrower's debt in the reserve unless the position is severely
// undercollateralized, in which case the whole book is closeable.
func (e *Engine) liquidationAmounts(collateral, debt *Reserve, debtPos, collateralPos *UserPosition, debtToCover, healthFactor *big.Int) (*big.Int, error) {
	variable, err := debt.variableDebtOf(debtPos)
	if err != nil {
		return nil, err
	}
	userDebt := new(big.Int).Add(variable, debtPos.StableDebt)
	if userDebt.Sign() == 0 {
		return nil, ErrNoDebtToRepay
	}
	maxClose, err := percentOf(userDebt, e.closeFactorBps)
	if err != nil {
		return nil, err
	}
	if healthFactor.Cmp(e.severeHealthFactor) < 0 {
		maxClose = userDebt
	}
	if debtToCover.Cmp(maxClose) > 0 {
		return nil, ErrCloseFactorExceeded
	}

	debtPrice, err := e.priceOf(debt.Asset)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := e.priceOf(collateral.Asset)
	if err != nil {
		return nil, err
	}
	debtValue, err := mulWad(debtToCover, debtPrice)
	if err != nil {
		return nil, err
	}
	base, err := divWad(debtValue, collateralPrice)
	if err != nil {
		return nil, err
	}
	seize, err := percentOf(base, 10_000+collateral.Config.LiquidationBonusBps)
	if err != nil {
		return nil, err
	}
	balance, err := collateral.supplyBalanceOf(collateralPos)
	if err != nil {
		return nil, err
	}
	if seize.Cmp(balance) > 0 {
		return nil, ErrInsufficientCollateral
	}
	return seize, nil
}
