package lending

import (
	"math/big"

	"openlend/core/events"
	"openlend/crypto"
)

// Governance entry points. Every call is gated on the configured authorizer;
// without one, all admin operations are rejected.

func (e *Engine) requireAuthority(caller crypto.Address) error {
	if e.authorize == nil || !e.authorize(caller) {
		return ErrNotAuthorized
	}
	return nil
}

// AddReserve activates a reserve for the asset with the supplied parameters
// and returns its identifier.
func (e *Engine) AddReserve(caller crypto.Address, asset string, cfg ReserveConfig) (uint32, error) {
	if err := e.requireAuthority(caller); err != nil {
		return 0, err
	}
	if err := e.begin(); err != nil {
		return 0, err
	}
	defer e.end()
	asset = normalizeAsset(asset)
	if asset == "" {
		return 0, ErrInvalidAmount
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	existing, err := e.state.GetReserve(asset)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, ErrReserveAlreadyActive
	}
	listed, err := e.state.ListReserves()
	if err != nil {
		return 0, err
	}
	cfg.Active = true
	reserve := &Reserve{
		ID:                  uint32(len(listed) + 1),
		Asset:               asset,
		LastUpdateTimestamp: e.now,
		Config:              cfg,
	}
	reserve.ensureDefaults()
	if err := reserve.refreshRates(); err != nil {
		return 0, err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return 0, err
	}
	e.emit(events.LendingReserveAdded{Asset: asset, ID: reserve.ID})
	return reserve.ID, nil
}

// SetReserveConfig replaces the reserve's parameters. Interest accrues at
// the old curve up to now so the change only applies going forward.
func (e *Engine) SetReserveConfig(caller crypto.Address, asset string, cfg ReserveConfig) error {
	if err := e.requireAuthority(caller); err != nil {
		return err
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	asset = normalizeAsset(asset)
	if err := cfg.Validate(); err != nil {
		return err
	}
	stored, err := e.state.GetReserve(asset)
	if err != nil {
		return err
	}
	if stored == nil {
		return ErrReserveNotActive
	}
	reserve := stored.Clone()
	if err := reserve.accrue(e.now); err != nil {
		return err
	}
	reserve.Config = cfg
	if err := reserve.refreshRates(); err != nil {
		return err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}
	e.emitReserveUpdated(reserve)
	return nil
}

// SetReservePaused halts or resumes a single reserve without touching the
// rest of the protocol.
func (e *Engine) SetReservePaused(caller crypto.Address, asset string, paused bool) error {
	if err := e.requireAuthority(caller); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	asset = normalizeAsset(asset)
	stored, err := e.state.GetReserve(asset)
	if err != nil {
		return err
	}
	if stored == nil {
		return ErrReserveNotActive
	}
	reserve := stored.Clone()
	reserve.Config.Paused = paused
	return e.state.PutReserve(asset, reserve)
}

// WithdrawProtocolFees redeems up to amount of the treasury's accrued supply
// claim and pays the underlying to the recipient. Passing WithdrawAll sweeps
// the full claim.
func (e *Engine) WithdrawProtocolFees(caller crypto.Address, asset string, amount *big.Int, recipient crypto.Address) (*big.Int, error) {
	if err := e.requireAuthority(caller); err != nil {
		return nil, err
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	asset = normalizeAsset(asset)
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	if err := reserve.accrue(e.now); err != nil {
		return nil, err
	}
	accrued, err := amountFromScaled(reserve.TreasuryScaledSupply, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if accrued.Sign() == 0 {
		return nil, ErrInsufficientBalance
	}
	sweep := amount.Cmp(WithdrawAll) == 0 || amount.Cmp(accrued) >= 0
	if sweep {
		amount = accrued
	}

	accounts := newAccountSet(e.state)
	vault, err := accounts.get(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if vault.Balance(asset).Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	var scaled *big.Int
	if sweep {
		scaled = new(big.Int).Set(reserve.TreasuryScaledSupply)
	} else if scaled, err = scaledFromAmount(amount, reserve.LiquidityIndex); err != nil {
		return nil, err
	}
	if scaled.Cmp(reserve.TreasuryScaledSupply) > 0 {
		scaled = new(big.Int).Set(reserve.TreasuryScaledSupply)
	}
	reserve.TreasuryScaledSupply = new(big.Int).Sub(reserve.TreasuryScaledSupply, scaled)
	reserve.TotalScaledSupply = new(big.Int).Sub(reserve.TotalScaledSupply, scaled)

	if err := debit(vault, asset, amount); err != nil {
		return nil, err
	}
	recipientAcc, err := accounts.get(recipient)
	if err != nil {
		return nil, err
	}
	credit(recipientAcc, asset, amount)

	if err := reserve.refreshRates(); err != nil {
		return nil, err
	}
	if err := reserve.checkInvariants(); err != nil {
		return nil, err
	}
	if err := accounts.persist(); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return nil, err
	}
	e.emitReserveUpdated(reserve)
	return amount, nil
}
