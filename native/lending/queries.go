package lending

import (
	"math/big"

	"openlend/crypto"
)

// Read paths. Queries never mutate state; indexes and totals are projected
// to the engine clock so results match what the next mutation would accrue.

// GetUserAccountData returns the cross-reserve risk summary for the address.
func (e *Engine) GetUserAccountData(addr crypto.Address) (*AccountData, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	snap, err := e.accountSnapshot(addr)
	if err != nil {
		return nil, err
	}
	return snap.data, nil
}

// GetPosition returns the address's stored position in the reserve, with
// stable debt projected to the engine clock.
func (e *Engine) GetPosition(asset string, addr crypto.Address) (*UserPosition, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	asset = normalizeAsset(asset)
	stored, err := e.state.GetPosition(asset, addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		position := &UserPosition{Address: addr, Asset: asset}
		position.ensureDefaults()
		return position, nil
	}
	position := stored.Clone()
	projected, err := projectedStableDebt(position, e.now)
	if err != nil {
		return nil, err
	}
	position.StableDebt = projected
	return position, nil
}

// GetReserveData returns the reserve's totals, rates and indexes projected
// to the engine clock.
func (e *Engine) GetReserveData(asset string) (*ReserveData, error) {
	reserve, err := e.reserveForQuery(asset)
	if err != nil {
		return nil, err
	}
	liquidityIndex, err := e.normalizedIncome(reserve)
	if err != nil {
		return nil, err
	}
	borrowIndex, err := e.normalizedVariableDebt(reserve)
	if err != nil {
		return nil, err
	}
	supplied, err := amountFromScaled(reserve.TotalScaledSupply, liquidityIndex)
	if err != nil {
		return nil, err
	}
	variable, err := amountFromScaled(reserve.TotalScaledVariableDebt, borrowIndex)
	if err != nil {
		return nil, err
	}
	stable := new(big.Int).Set(reserve.TotalStableDebt)
	if reserve.AverageStableRate.Sign() > 0 && e.now > reserve.LastUpdateTimestamp {
		factor, err := compoundFactor(reserve.AverageStableRate, e.now-reserve.LastUpdateTimestamp)
		if err != nil {
			return nil, err
		}
		if stable, err = mulRay(stable, factor); err != nil {
			return nil, err
		}
	}
	debt := new(big.Int).Add(variable, stable)
	available := new(big.Int).Sub(supplied, debt)
	if available.Sign() < 0 {
		available = big.NewInt(0)
	}
	model := reserve.Config.Interest.Model()
	utilization, err := model.Utilization(debt, supplied)
	if err != nil {
		return nil, err
	}
	return &ReserveData{
		Asset:               reserve.Asset,
		ID:                  reserve.ID,
		TotalSupplied:       supplied,
		TotalVariableDebt:   variable,
		TotalStableDebt:     stable,
		AvailableLiquidity:  available,
		Utilization:         utilization,
		LiquidityRate:       new(big.Int).Set(reserve.CurrentLiquidityRate),
		VariableBorrowRate:  new(big.Int).Set(reserve.CurrentVariableBorrowRate),
		StableBorrowRate:    new(big.Int).Set(reserve.CurrentStableBorrowRate),
		LiquidityIndex:      liquidityIndex,
		VariableBorrowIndex: borrowIndex,
		LastUpdateTimestamp: reserve.LastUpdateTimestamp,
	}, nil
}

// GetReserveNormalizedIncome returns the liquidity index projected to the
// engine clock, the factor converting scaled supply to underlying.
func (e *Engine) GetReserveNormalizedIncome(asset string) (*big.Int, error) {
	reserve, err := e.reserveForQuery(asset)
	if err != nil {
		return nil, err
	}
	return e.normalizedIncome(reserve)
}

// GetReserveNormalizedVariableDebt returns the variable borrow index
// projected to the engine clock.
func (e *Engine) GetReserveNormalizedVariableDebt(asset string) (*big.Int, error) {
	reserve, err := e.reserveForQuery(asset)
	if err != nil {
		return nil, err
	}
	return e.normalizedVariableDebt(reserve)
}

// ListReserveData returns projected data for every configured reserve.
func (e *Engine) ListReserveData() ([]*ReserveData, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	reserves, err := e.state.ListReserves()
	if err != nil {
		return nil, err
	}
	out := make([]*ReserveData, 0, len(reserves))
	for _, reserve := range reserves {
		if reserve == nil {
			continue
		}
		data, err := e.GetReserveData(reserve.Asset)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (e *Engine) reserveForQuery(asset string) (*Reserve, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	stored, err := e.state.GetReserve(normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrReserveNotActive
	}
	reserve := stored.Clone()
	reserve.ensureDefaults()
	return reserve, nil
}
