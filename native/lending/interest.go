package lending

import "math/big"

// InterestModel maps pool utilization to ray-scaled annual rates using a
// kinked curve: a gentle slope up to the kink and a steep jump slope past it.
type InterestModel struct {
	BaseRate       *big.Int // ray, rate at zero utilization
	Multiplier     *big.Int // ray, slope below the kink
	JumpMultiplier *big.Int // ray, slope above the kink
	Kink           *big.Int // ray, utilization where the jump slope starts
}

// NewInterestModel builds a model from basis-point curve parameters.
func NewInterestModel(baseBps, multiplierBps, jumpBps, kinkBps uint64) *InterestModel {
	return &InterestModel{
		BaseRate:       bpsToRay(baseBps),
		Multiplier:     bpsToRay(multiplierBps),
		JumpMultiplier: bpsToRay(jumpBps),
		Kink:           bpsToRay(kinkBps),
	}
}

// Utilization computes totalDebt/totalSupplied in ray precision. An empty
// pool is defined to have zero utilization.
func (m *InterestModel) Utilization(totalDebt, totalSupplied *big.Int) (*big.Int, error) {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return divRay(totalDebt, totalSupplied)
}

// BorrowRate evaluates the annual borrow rate at the given ray utilization.
func (m *InterestModel) BorrowRate(utilization *big.Int) (*big.Int, error) {
	rate := new(big.Int).Set(m.BaseRate)
	if utilization == nil || utilization.Sign() == 0 {
		return rate, nil
	}
	if m.Kink.Sign() == 0 || utilization.Cmp(m.Kink) <= 0 {
		slope, err := mulRay(utilization, m.Multiplier)
		if err != nil {
			return nil, err
		}
		return rate.Add(rate, slope), nil
	}
	atKink, err := mulRay(m.Kink, m.Multiplier)
	if err != nil {
		return nil, err
	}
	rate.Add(rate, atKink)
	excess := new(big.Int).Sub(utilization, m.Kink)
	jump, err := mulRay(excess, m.JumpMultiplier)
	if err != nil {
		return nil, err
	}
	return rate.Add(rate, jump), nil
}

// SupplyRate derives the annual supply rate: the borrow rate weighted by
// utilization, net of the protocol's reserve factor cut.
func (m *InterestModel) SupplyRate(borrowRate, utilization *big.Int, reserveFactorBps uint64) (*big.Int, error) {
	if borrowRate == nil || borrowRate.Sign() == 0 || utilization == nil || utilization.Sign() == 0 {
		return big.NewInt(0), nil
	}
	gross, err := mulRay(borrowRate, utilization)
	if err != nil {
		return nil, err
	}
	if reserveFactorBps >= 10_000 {
		return big.NewInt(0), nil
	}
	return percentOf(gross, 10_000-reserveFactorBps)
}

// Clone deep copies the model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate:       new(big.Int).Set(m.BaseRate),
		Multiplier:     new(big.Int).Set(m.Multiplier),
		JumpMultiplier: new(big.Int).Set(m.JumpMultiplier),
		Kink:           new(big.Int).Set(m.Kink),
	}
}
