package lending

import "math/big"

// The supply and variable debt books are kept in scaled units: a claim is
// divided by the index at mint time, so multiplying by the current index
// yields the underlying balance with all interest since. Stable debt is kept
// in underlying units and compounded lazily at the position's locked rate.

// mintSupply credits a supply claim for amount underlying at the current
// liquidity index and returns the scaled units minted.
func (r *Reserve) mintSupply(p *UserPosition, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	scaled, err := scaledFromAmount(amount, r.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if scaled.Sign() == 0 {
		scaled = big.NewInt(1)
	}
	p.ScaledSupply = new(big.Int).Add(p.ScaledSupply, scaled)
	r.TotalScaledSupply = new(big.Int).Add(r.TotalScaledSupply, scaled)
	return scaled, nil
}

// burnSupply debits a supply claim for amount underlying. The comparison is
// exact in scaled units: a computed scaled amount above the position's
// balance fails rather than being clamped.
func (r *Reserve) burnSupply(p *UserPosition, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	scaled, err := scaledFromAmount(amount, r.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if scaled.Sign() == 0 {
		scaled = big.NewInt(1)
	}
	return scaled, r.burnSupplyScaled(p, scaled)
}

func (r *Reserve) burnSupplyScaled(p *UserPosition, scaled *big.Int) error {
	if p.ScaledSupply.Cmp(scaled) < 0 {
		return ErrInsufficientBalance
	}
	p.ScaledSupply = new(big.Int).Sub(p.ScaledSupply, scaled)
	r.TotalScaledSupply = new(big.Int).Sub(r.TotalScaledSupply, scaled)
	return nil
}

// transferSupplyScaled moves scaled supply units between positions without
// touching the reserve total, used when a liquidator takes the claim itself.
func transferSupplyScaled(from, to *UserPosition, scaled *big.Int) error {
	if from.ScaledSupply.Cmp(scaled) < 0 {
		return ErrInsufficientBalance
	}
	from.ScaledSupply = new(big.Int).Sub(from.ScaledSupply, scaled)
	to.ScaledSupply = new(big.Int).Add(to.ScaledSupply, scaled)
	return nil
}

// supplyBalanceOf returns the position's underlying supply balance including
// interest accrued since the last interaction.
func (r *Reserve) supplyBalanceOf(p *UserPosition) (*big.Int, error) {
	return amountFromScaled(p.ScaledSupply, r.LiquidityIndex)
}

// mintVariableDebt records a variable-rate borrow at the current borrow
// index and returns the scaled units minted.
func (r *Reserve) mintVariableDebt(p *UserPosition, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	scaled, err := scaledFromAmount(amount, r.VariableBorrowIndex)
	if err != nil {
		return nil, err
	}
	if scaled.Sign() == 0 {
		scaled = big.NewInt(1)
	}
	p.ScaledVariableDebt = new(big.Int).Add(p.ScaledVariableDebt, scaled)
	r.TotalScaledVariableDebt = new(big.Int).Add(r.TotalScaledVariableDebt, scaled)
	return scaled, nil
}

// burnVariableDebt retires amount of variable debt. When the amount covers
// the full compounded balance the whole scaled claim is burned so no dust
// survives the final repayment.
func (r *Reserve) burnVariableDebt(p *UserPosition, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	outstanding, err := r.variableDebtOf(p)
	if err != nil {
		return err
	}
	if outstanding.Sign() == 0 {
		return ErrNoDebtToRepay
	}
	scaled := new(big.Int)
	if amount.Cmp(outstanding) >= 0 {
		scaled.Set(p.ScaledVariableDebt)
	} else {
		if scaled, err = scaledFromAmount(amount, r.VariableBorrowIndex); err != nil {
			return err
		}
		if scaled.Cmp(p.ScaledVariableDebt) > 0 {
			scaled.Set(p.ScaledVariableDebt)
		}
	}
	p.ScaledVariableDebt = new(big.Int).Sub(p.ScaledVariableDebt, scaled)
	r.TotalScaledVariableDebt = new(big.Int).Sub(r.TotalScaledVariableDebt, scaled)
	return nil
}

// variableDebtOf returns the position's compounded variable debt.
func (r *Reserve) variableDebtOf(p *UserPosition) (*big.Int, error) {
	return amountFromScaled(p.ScaledVariableDebt, r.VariableBorrowIndex)
}

// syncStableDebt compounds the position's stable debt at its locked rate up
// to now. The reserve-level total compounds separately in accrue at the
// average rate, so only the position is touched here.
func (r *Reserve) syncStableDebt(p *UserPosition, now uint64) error {
	if p.StableDebt.Sign() == 0 {
		p.LastStableAccrual = now
		return nil
	}
	if now <= p.LastStableAccrual {
		return nil
	}
	factor, err := compoundFactor(p.StableRate, now-p.LastStableAccrual)
	if err != nil {
		return err
	}
	compounded, err := mulRay(p.StableDebt, factor)
	if err != nil {
		return err
	}
	p.StableDebt = compounded
	p.LastStableAccrual = now
	return nil
}

// projectedStableDebt returns the position's stable debt compounded to now
// without mutating the position, for read paths and risk snapshots.
func projectedStableDebt(p *UserPosition, now uint64) (*big.Int, error) {
	if p.StableDebt == nil || p.StableDebt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if now <= p.LastStableAccrual {
		return new(big.Int).Set(p.StableDebt), nil
	}
	factor, err := compoundFactor(p.StableRate, now-p.LastStableAccrual)
	if err != nil {
		return nil, err
	}
	return mulRay(p.StableDebt, factor)
}

// mintStableDebt records a stable-rate borrow, locking the current stable
// rate into the position as a balance-weighted average. The position must be
// synced to now first.
func (r *Reserve) mintStableDebt(p *UserPosition, amount *big.Int, now uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	newDebt := new(big.Int).Add(p.StableDebt, amount)
	weighted, err := weightedRate(p.StableDebt, p.StableRate, amount, r.CurrentStableBorrowRate, newDebt)
	if err != nil {
		return err
	}
	p.StableRate = weighted
	p.StableDebt = newDebt
	p.LastStableAccrual = now

	newTotal := new(big.Int).Add(r.TotalStableDebt, amount)
	average, err := weightedRate(r.TotalStableDebt, r.AverageStableRate, amount, r.CurrentStableBorrowRate, newTotal)
	if err != nil {
		return err
	}
	r.AverageStableRate = average
	r.TotalStableDebt = newTotal
	return nil
}

// burnStableDebt retires amount of stable debt from a synced position. The
// average rate is left in place; it converges as positions roll over.
func (r *Reserve) burnStableDebt(p *UserPosition, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.StableDebt.Sign() == 0 {
		return ErrNoDebtToRepay
	}
	if amount.Cmp(p.StableDebt) > 0 {
		amount = p.StableDebt
	}
	p.StableDebt = new(big.Int).Sub(p.StableDebt, amount)
	if p.StableDebt.Sign() == 0 {
		p.StableRate = big.NewInt(0)
	}
	remaining := new(big.Int).Sub(r.TotalStableDebt, amount)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	r.TotalStableDebt = remaining
	if r.TotalStableDebt.Sign() == 0 {
		r.AverageStableRate = big.NewInt(0)
	}
	return nil
}

func weightedRate(existing, existingRate, added, addedRate, total *big.Int) (*big.Int, error) {
	if total.Sign() == 0 {
		return big.NewInt(0), nil
	}
	left, err := mulScaled(existing, existingRate, big.NewInt(1), big.NewInt(0))
	if err != nil {
		return nil, err
	}
	right, err := mulScaled(added, addedRate, big.NewInt(1), big.NewInt(0))
	if err != nil {
		return nil, err
	}
	sum := new(big.Int).Add(left, right)
	return sum.Quo(sum, total), nil
}
