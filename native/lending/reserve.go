package lending

import "math/big"

// accrue compounds the reserve's indexes from the last update to now, mints
// the reserve-factor share of borrow interest to the treasury slice and
// refreshes the stored rates from post-accrual utilization. Indexes only
// ever move forward.
func (r *Reserve) accrue(now uint64) error {
	r.ensureDefaults()
	if now <= r.LastUpdateTimestamp {
		return nil
	}
	elapsed := now - r.LastUpdateTimestamp
	r.LastUpdateTimestamp = now

	if r.CurrentLiquidityRate.Sign() > 0 && r.TotalScaledSupply.Sign() > 0 {
		factor, err := compoundFactor(r.CurrentLiquidityRate, elapsed)
		if err != nil {
			return err
		}
		index, err := mulRay(r.LiquidityIndex, factor)
		if err != nil {
			return err
		}
		r.LiquidityIndex = index
	}

	interest := big.NewInt(0)
	if r.CurrentVariableBorrowRate.Sign() > 0 && r.TotalScaledVariableDebt.Sign() > 0 {
		before, err := r.UnderlyingVariableDebt()
		if err != nil {
			return err
		}
		factor, err := compoundFactor(r.CurrentVariableBorrowRate, elapsed)
		if err != nil {
			return err
		}
		index, err := mulRay(r.VariableBorrowIndex, factor)
		if err != nil {
			return err
		}
		r.VariableBorrowIndex = index
		after, err := r.UnderlyingVariableDebt()
		if err != nil {
			return err
		}
		if delta := new(big.Int).Sub(after, before); delta.Sign() > 0 {
			interest.Add(interest, delta)
		}
	}
	if r.TotalStableDebt.Sign() > 0 && r.AverageStableRate.Sign() > 0 {
		factor, err := compoundFactor(r.AverageStableRate, elapsed)
		if err != nil {
			return err
		}
		compounded, err := mulRay(r.TotalStableDebt, factor)
		if err != nil {
			return err
		}
		if delta := new(big.Int).Sub(compounded, r.TotalStableDebt); delta.Sign() > 0 {
			interest.Add(interest, delta)
		}
		r.TotalStableDebt = compounded
	}

	// Mint the protocol's cut of the interest as a supply claim so the supply
	// book keeps backing the debt book in full.
	if interest.Sign() > 0 && r.Config.ReserveFactorBps > 0 {
		fee, err := percentOf(interest, r.Config.ReserveFactorBps)
		if err != nil {
			return err
		}
		if fee.Sign() > 0 {
			feeScaled, err := scaledFromAmount(fee, r.LiquidityIndex)
			if err != nil {
				return err
			}
			r.TotalScaledSupply.Add(r.TotalScaledSupply, feeScaled)
			r.TreasuryScaledSupply.Add(r.TreasuryScaledSupply, feeScaled)
		}
	}

	return r.refreshRates()
}

// refreshRates recomputes the stored annual rates from current utilization.
// Called after accrual and again after any change to the supply or debt
// books so the next accrual window compounds at the right rates.
func (r *Reserve) refreshRates() error {
	model := r.Config.Interest.Model()
	supplied, err := r.UnderlyingSupply()
	if err != nil {
		return err
	}
	debt, err := r.TotalDebt()
	if err != nil {
		return err
	}
	utilization, err := model.Utilization(debt, supplied)
	if err != nil {
		return err
	}
	borrowRate, err := model.BorrowRate(utilization)
	if err != nil {
		return err
	}
	r.CurrentVariableBorrowRate = borrowRate
	r.CurrentStableBorrowRate = new(big.Int).Add(borrowRate, bpsToRay(r.Config.StableRateMarginBps))
	supplyRate, err := model.SupplyRate(borrowRate, utilization, r.Config.ReserveFactorBps)
	if err != nil {
		return err
	}
	r.CurrentLiquidityRate = supplyRate
	return nil
}

// cumulateToLiquidityIndex distributes a one-off income amount (flash loan
// premiums) to all suppliers by growing the liquidity index.
func (r *Reserve) cumulateToLiquidityIndex(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	supplied, err := r.UnderlyingSupply()
	if err != nil {
		return err
	}
	if supplied.Sign() == 0 {
		return nil
	}
	share, err := divRay(amount, supplied)
	if err != nil {
		return err
	}
	index, err := mulRay(r.LiquidityIndex, new(big.Int).Add(ray, share))
	if err != nil {
		return err
	}
	r.LiquidityIndex = index
	return nil
}

// checkInvariants verifies every stored quantity still fits the 256-bit
// unsigned range before the transition persists.
func (r *Reserve) checkInvariants() error {
	return checkBounds(r.LiquidityIndex, r.VariableBorrowIndex, r.TotalScaledSupply,
		r.TotalScaledVariableDebt, r.TotalStableDebt, r.TreasuryScaledSupply)
}
