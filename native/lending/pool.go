package lending

import (
	"fmt"
	"math/big"
	"strings"

	"openlend/core/events"
	"openlend/core/types"
	"openlend/crypto"
	nativecommon "openlend/native/common"
	"openlend/native/oracle"
)

const moduleName = "lending"

const (
	defaultCloseFactorBps        = 5_000
	defaultFlashLoanPremiumBps   = 9
	defaultSevereHealthFactorPct = 80
)

// WithdrawAll is the sentinel amount requesting the caller's full balance.
var WithdrawAll = new(big.Int).Set(maxUint256)

// FlashLoanReceiver is the callback contract for flash loans. The engine
// credits the borrowed amounts to the receiver's account, invokes
// ExecuteOperation and then pulls principal plus premium back out.
type FlashLoanReceiver interface {
	Address() crypto.Address
	ExecuteOperation(assets []string, amounts, premiums []*big.Int, initiator crypto.Address, params []byte) error
}

// Engine orchestrates every state transition of the lending protocol. It is
// not safe for concurrent use; callers serialize operations and set the
// block timestamp before each batch.
type Engine struct {
	state  State
	oracle oracle.PriceOracle

	moduleAddress crypto.Address

	now       uint64
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	authorize func(crypto.Address) bool

	entered bool

	flashLoanPremiumBps uint64
	closeFactorBps      uint64
	severeHealthFactor  *big.Int // ray
}

// NewEngine constructs an engine whose pool vault lives at moduleAddr.
func NewEngine(moduleAddr crypto.Address) *Engine {
	severe := new(big.Int).Mul(ray, big.NewInt(defaultSevereHealthFactorPct))
	severe.Quo(severe, big.NewInt(100))
	return &Engine{
		moduleAddress:       moduleAddr,
		flashLoanPremiumBps: defaultFlashLoanPremiumBps,
		closeFactorBps:      defaultCloseFactorBps,
		severeHealthFactor:  severe,
	}
}

// SetState wires the persistence backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetOracle wires the price source used for risk checks.
func (e *Engine) SetOracle(o oracle.PriceOracle) { e.oracle = o }

// SetPauses wires the pause authority consulted before mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter wires the event sink. A nil emitter drops events.
func (e *Engine) SetEmitter(emitter events.Emitter) { e.emitter = emitter }

// SetAuthorizer wires the governance capability check for admin operations.
func (e *Engine) SetAuthorizer(fn func(crypto.Address) bool) { e.authorize = fn }

// SetTimestamp fixes the engine clock, in Unix seconds, for the operations
// that follow. Accrual windows are measured against this value.
func (e *Engine) SetTimestamp(now uint64) { e.now = now }

// SetFlashLoanPremium overrides the flash loan premium in basis points.
func (e *Engine) SetFlashLoanPremium(bps uint64) { e.flashLoanPremiumBps = bps }

// SetCloseFactor overrides the liquidation close factor in basis points.
func (e *Engine) SetCloseFactor(bps uint64) {
	if bps == 0 || bps > 10_000 {
		return
	}
	e.closeFactorBps = bps
}

// ModuleAddress returns the pool vault address holding deposited underlying.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// begin acquires the engine for a state-mutating operation: the backend must
// be wired, the module must not be paused and no other operation may be in
// flight. Callers that receive nil must defer end.
func (e *Engine) begin() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.entered {
		return ErrReentrancyDetected
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.entered = true
	return nil
}

func (e *Engine) end() { e.entered = false }

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) loadReserve(asset string) (*Reserve, error) {
	stored, err := e.state.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if stored == nil || !stored.Config.Active {
		return nil, ErrReserveNotActive
	}
	if stored.Config.Paused {
		return nil, ErrProtocolPaused
	}
	reserve := stored.Clone()
	reserve.ensureDefaults()
	return reserve, nil
}

// accountSet stages account mutations so an operation touching the same
// address twice works on a single clone, and nothing persists on failure.
type accountSet struct {
	state    State
	accounts map[string]*types.Account
	order    []crypto.Address
}

func newAccountSet(state State) *accountSet {
	return &accountSet{state: state, accounts: make(map[string]*types.Account)}
}

func (s *accountSet) get(addr crypto.Address) (*types.Account, error) {
	key := addr.String()
	if account, ok := s.accounts[key]; ok {
		return account, nil
	}
	stored, err := s.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	account := stored.Clone()
	if account == nil {
		account = &types.Account{}
	}
	s.accounts[key] = account
	s.order = append(s.order, addr)
	return account, nil
}

func (s *accountSet) persist() error {
	for _, addr := range s.order {
		if err := s.state.PutAccount(addr, s.accounts[addr.String()]); err != nil {
			return err
		}
	}
	return nil
}

// positionSet stages position mutations keyed by asset and address.
type positionSet struct {
	state     State
	positions map[string]*UserPosition
	order     []string
}

func newPositionSet(state State) *positionSet {
	return &positionSet{state: state, positions: make(map[string]*UserPosition)}
}

func (s *positionSet) get(asset string, addr crypto.Address) (*UserPosition, error) {
	key := asset + "/" + addr.String()
	if position, ok := s.positions[key]; ok {
		return position, nil
	}
	stored, err := s.state.GetPosition(asset, addr)
	if err != nil {
		return nil, err
	}
	position := stored.Clone()
	if position == nil {
		position = &UserPosition{Address: addr, Asset: asset}
	}
	position.ensureDefaults()
	s.positions[key] = position
	s.order = append(s.order, key)
	return position, nil
}

func (s *positionSet) persist() error {
	for _, key := range s.order {
		if err := s.state.PutPosition(s.positions[key]); err != nil {
			return err
		}
	}
	return nil
}

func debit(account *types.Account, asset string, amount *big.Int) error {
	balance := account.Balance(asset)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	account.SetBalance(asset, new(big.Int).Sub(balance, amount))
	return nil
}

func credit(account *types.Account, asset string, amount *big.Int) {
	account.SetBalance(asset, new(big.Int).Add(account.Balance(asset), amount))
}

// Deposit moves amount of asset from the supplier into the pool vault and
// mints a supply claim for onBehalfOf. The first deposit into a reserve
// enables the claim as collateral.
func (e *Engine) Deposit(supplier crypto.Address, asset string, amount *big.Int, onBehalfOf crypto.Address) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	asset = normalizeAsset(asset)
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	if reserve.Config.Frozen {
		return ErrReserveFrozen
	}
	if err := reserve.accrue(e.now); err != nil {
		return err
	}

	accounts := newAccountSet(e.state)
	supplierAcc, err := accounts.get(supplier)
	if err != nil {
		return err
	}
	if err := debit(supplierAcc, asset, amount); err != nil {
		return err
	}
	vault, err := accounts.get(e.moduleAddress)
	if err != nil {
		return err
	}
	credit(vault, asset, amount)

	positions := newPositionSet(e.state)
	position, err := positions.get(asset, onBehalfOf)
	if err != nil {
		return err
	}
	firstDeposit := position.ScaledSupply.Sign() == 0
	if _, err := reserve.mintSupply(position, amount); err != nil {
		return err
	}
	if firstDeposit {
		position.UsingAsCollateral = true
	}
	if err := reserve.refreshRates(); err != nil {
		return err
	}
	if err := reserve.checkInvariants(); err != nil {
		return err
	}

	if err := accounts.persist(); err != nil {
		return err
	}
	if err := positions.persist(); err != nil {
		return err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}

	e.emit(events.LendingDeposit{
		Asset:          asset,
		Supplier:       supplier,
		OnBehalfOf:     onBehalfOf,
		Amount:         amount,
		LiquidityIndex: reserve.LiquidityIndex,
	})
	e.emitReserveUpdated(reserve)
	return nil
}

// Withdraw redeems part or all of the supplier's claim and pays the
// underlying out to the recipient. Passing WithdrawAll redeems the full
// compounded balance. The withdrawal fails when pool cash cannot cover it or
// when the remaining collateral would leave the account unhealthy.
func (e *Engine) Withdraw(supplier crypto.Address, asset string, amount *big.Int, to crypto.Address) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	asset = normalizeAsset(asset)
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	if err := reserve.accrue(e.now); err != nil {
		return err
	}

	positions := newPositionSet(e.state)
	position, err := positions.get(asset, supplier)
	if err != nil {
		return err
	}
	balance, err := reserve.supplyBalanceOf(position)
	if err != nil {
		return err
	}
	withdrawAll := amount.Cmp(WithdrawAll) == 0
	if withdrawAll {
		amount = balance
	}
	if amount.Sign() <= 0 || balance.Sign() == 0 {
		return ErrInsufficientBalance
	}
	if amount.Cmp(balance) > 0 {
		return ErrInsufficientBalance
	}

	accounts := newAccountSet(e.state)
	vault, err := accounts.get(e.moduleAddress)
	if err != nil {
		return err
	}
	if vault.Balance(asset).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.validateWithdraw(supplier, reserve, position, amount); err != nil {
		return err
	}

	if withdrawAll || amount.Cmp(balance) == 0 {
		if err := reserve.burnSupplyScaled(position, new(big.Int).Set(position.ScaledSupply)); err != nil {
			return err
		}
	} else if _, err := reserve.burnSupply(position, amount); err != nil {
		return err
	}
	if err := debit(vault, asset, amount); err != nil {
		return err
	}
	recipient, err := accounts.get(to)
	if err != nil {
		return err
	}
	credit(recipient, asset, amount)

	if err := reserve.refreshRates(); err != nil {
		return err
	}
	if err := reserve.checkInvariants(); err != nil {
		return err
	}
	if err := accounts.persist(); err != nil {
		return err
	}
	if err := positions.persist(); err != nil {
		return err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}

	e.emit(events.LendingWithdraw{
		Asset:          asset,
		Supplier:       supplier,
		To:             to,
		Amount:         amount,
		LiquidityIndex: reserve.LiquidityIndex,
	})
	e.emitReserveUpdated(reserve)
	return nil
}

// Borrow draws amount of asset from the pool against onBehalfOf's
// collateral, opening debt in the selected rate mode and paying the
// underlying to the borrower.
func (e *Engine) Borrow(borrower crypto.Address, asset string, amount *big.Int, mode RateMode, onBehalfOf crypto.Address) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return ErrInvalidRateMode
	}
	asset = normalizeAsset(asset)
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	if reserve.Config.Frozen {
		return ErrReserveFrozen
	}
	if mode == RateModeStable && !reserve.Config.StableBorrowEnabled {
		return ErrInvalidRateMode
	}
	if err := reserve.accrue(e.now); err != nil {
		return err
	}

	accounts := newAccountSet(e.state)
	vault, err := accounts.get(e.moduleAddress)
	if err != nil {
		return err
	}
	if vault.Balance(asset).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.checkUtilization(reserve, amount); err != nil {
		return err
	}
	price, err := e.priceOf(asset)
	if err != nil {
		return err
	}
	if err := e.validateBorrow(onBehalfOf, reserve, amount, price); err != nil {
		return err
	}

	positions := newPositionSet(e.state)
	position, err := positions.get(asset, onBehalfOf)
	if err != nil {
		return err
	}
	borrowRate := reserve.CurrentVariableBorrowRate
	if mode == RateModeStable {
		borrowRate = reserve.CurrentStableBorrowRate
		if err := reserve.syncStableDebt(position, e.now); err != nil {
			return err
		}
		if err := reserve.mintStableDebt(position, amount, e.now); err != nil {
			return err
		}
	} else if _, err := reserve.mintVariableDebt(position, amount); err != nil {
		return err
	}

	if err := debit(vault, asset, amount); err != nil {
		return err
	}
	borrowerAcc, err := accounts.get(borrower)
	if err != nil {
		return err
	}
	credit(borrowerAcc, asset, amount)

	if err := reserve.refreshRates(); err != nil {
		return err
	}
	if err := reserve.checkInvariants(); err != nil {
		return err
	}
	if err := accounts.persist(); err != nil {
		return err
	}
	if err := positions.persist(); err != nil {
		return err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}

	e.emit(events.LendingBorrow{
		Asset:       asset,
		Borrower:    borrower,
		OnBehalfOf:  onBehalfOf,
		Amount:      amount,
		RateMode:    mode.String(),
		BorrowRate:  borrowRate,
		BorrowIndex: reserve.VariableBorrowIndex,
	})
	e.emitReserveUpdated(reserve)
	return nil
}

func (e *Engine) checkUtilization(reserve *Reserve, amount *big.Int) error {
	ceiling := reserve.Config.MaxUtilizationBps
	if ceiling == 0 || ceiling >= 10_000 {
		return nil
	}
	supplied, err := reserve.UnderlyingSupply()
	if err != nil {
		return err
	}
	if supplied.Sign() == 0 {
		return ErrInsufficientLiquidity
	}
	debt, err := reserve.TotalDebt()
	if err != nil {
		return err
	}
	debt.Add(debt, amount)
	utilization, err := divRay(debt, supplied)
	if err != nil {
		return err
	}
	if utilization.Cmp(bpsToRay(ceiling)) > 0 {
		return ErrUtilizationExceeded
	}
	return nil
}

// Repay retires debt of onBehalfOf in the selected rate mode, pulling at
// most the outstanding compounded amount from the payer. Excess in the
// request is simply not collected.
func (e *Engine) Repay(payer crypto.Address, asset string, amount *big.Int, mode RateMode, onBehalfOf crypto.Address) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return ErrInvalidRateMode
	}
	asset = normalizeAsset(asset)
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	if err := reserve.accrue(e.now); err != nil {
		return err
	}

	positions := newPositionSet(e.state)
	position, err := positions.get(asset, onBehalfOf)
	if err != nil {
		return err
	}
	var outstanding *big.Int
	if mode == RateModeStable {
		if err := reserve.syncStableDebt(position, e.now); err != nil {
			return err
		}
		outstanding = new(big.Int).Set(position.StableDebt)
	} else if outstanding, err = reserve.variableDebtOf(position); err != nil {
		return err
	}
	if outstanding.Sign() == 0 {
		return ErrNoDebtToRepay
	}
	repaid := minBig(amount, outstanding)
	repaid = new(big.Int).Set(repaid)

	accounts := newAccountSet(e.state)
	payerAcc, err := accounts.get(payer)
	if err != nil {
		return err
	}
	if err := debit(payerAcc, asset, repaid); err != nil {
		return err
	}
	vault, err := accounts.get(e.moduleAddress)
	if err != nil {
		return err
	}
	credit(vault, asset, repaid)

	if mode == RateModeStable {
		if err := reserve.burnStableDebt(position, repaid); err != nil {
			return err
		}
	} else if err := reserve.burnVariableDebt(position, repaid); err != nil {
		return err
	}

	if err := reserve.refreshRates(); err != nil {
		return err
	}
	if err := reserve.checkInvariants(); err != nil {
		return err
	}
	if err := accounts.persist(); err != nil {
		return err
	}
	if err := positions.persist(); err != nil {
		return err
	}
	if err := e.state.PutReserve(asset, reserve); err != nil {
		return err
	}

	e.emit(events.LendingRepay{
		Asset:       asset,
		Payer:       payer,
		OnBehalfOf:  onBehalfOf,
		Amount:      repaid,
		RateMode:    mode.String(),
		BorrowIndex: reserve.VariableBorrowIndex,
	})
	e.emitReserveUpdated(reserve)
	return nil
}

// SetUsingAsCollateral flips whether the user's supply claim in the reserve
// backs their debt. Disabling requires the account to stay healthy without
// that collateral.
func (e *Engine) SetUsingAsCollateral(user crypto.Address, asset string, enabled bool) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	asset = normalizeAsset(asset)
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	if err := reserve.accrue(e.now); err != nil {
		return err
	}
	positions := newPositionSet(e.state)
	position, err := positions.get(asset, user)
	if err != nil {
		return err
	}
	if position.ScaledSupply.Sign() == 0 {
		return ErrInsufficientBalance
	}
	if !enabled && position.UsingAsCollateral {
		balance, err := reserve.supplyBalanceOf(position)
		if err != nil {
			return err
		}
		if err := e.validateWithdraw(user, reserve, position, balance); err != nil {
			return err
		}
	}
	position.UsingAsCollateral = enabled
	return positions.persist()
}

// LiquidationCall lets a liquidator repay part of an unhealthy borrower's
// debt in exchange for the borrower's collateral plus a bonus. The covered
// debt is capped by the close factor unless the position is severely
// undercollateralized. The liquidator either takes the supply claim or, when
// receiveClaim is false, the underlying itself.
func (e *Engine) LiquidationCall(liquidator crypto.Address, collateralAsset, debtAsset string, user crypto.Address, debtToCover *big.Int, receiveClaim bool) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrInvalidAmount
	}
	collateralAsset = normalizeAsset(collateralAsset)
	debtAsset = normalizeAsset(debtAsset)

	collateralReserve, err := e.loadReserve(collateralAsset)
	if err != nil {
		return err
	}
	debtReserve := collateralReserve
	if debtAsset != collateralAsset {
		if debtReserve, err = e.loadReserve(debtAsset); err != nil {
			return err
		}
	}
	if err := collateralReserve.accrue(e.now); err != nil {
		return err
	}
	if debtReserve != collateralReserve {
		if err := debtReserve.accrue(e.now); err != nil {
			return err
		}
	}

	snap, err := e.accountSnapshot(user)
	if err != nil {
		return err
	}
	if snap.data.TotalDebtValue.Sign() == 0 {
		return ErrNoDebtToRepay
	}
	if snap.data.HealthFactor.Cmp(ray) >= 0 {
		return ErrNotLiquidatable
	}

	positions := newPositionSet(e.state)
	debtPosition, err := positions.get(debtAsset, user)
	if err != nil {
		return err
	}
	if err := debtReserve.syncStableDebt(debtPosition, e.now); err != nil {
		return err
	}
	collateralPosition := debtPosition
	if collateralAsset != debtAsset {
		if collateralPosition, err = positions.get(collateralAsset, user); err != nil {
			return err
		}
	}
	if !collateralPosition.UsingAsCollateral || collateralPosition.ScaledSupply.Sign() == 0 {
		return ErrInsufficientCollateral
	}

	seize, err := e.liquidationAmounts(collateralReserve, debtReserve, debtPosition, collateralPosition, debtToCover, snap.data.HealthFactor)
	if err != nil {
		return err
	}

	accounts := newAccountSet(e.state)
	liquidatorAcc, err := accounts.get(liquidator)
	if err != nil {
		return err
	}
	if err := debit(liquidatorAcc, debtAsset, debtToCover); err != nil {
		return err
	}
	vault, err := accounts.get(e.moduleAddress)
	if err != nil {
		return err
	}
	credit(vault, debtAsset, debtToCover)

	// Variable debt burns first, the stable book covers the remainder.
	variable, err := debtReserve.variableDebtOf(debtPosition)
	if err != nil {
		return err
	}
	fromVariable := minBig(debtToCover, variable)
	if fromVariable.Sign() > 0 {
		if err := debtReserve.burnVariableDebt(debtPosition, fromVariable); err != nil {
			return err
		}
	}
	if remainder := new(big.Int).Sub(debtToCover, fromVariable); remainder.Sign() > 0 {
		if err := debtReserve.burnStableDebt(debtPosition, remainder); err != nil {
			return err
		}
	}

	collateralBalance, err := collateralReserve.supplyBalanceOf(collateralPosition)
	if err != nil {
		return err
	}
	var seizedScaled *big.Int
	if seize.Cmp(collateralBalance) == 0 {
		seizedScaled = new(big.Int).Set(collateralPosition.ScaledSupply)
	} else if seizedScaled, err = scaledFromAmount(seize, collateralReserve.LiquidityIndex); err != nil {
		return err
	}
	if receiveClaim {
		liquidatorPosition, err := positions.get(collateralAsset, liquidator)
		if err != nil {
			return err
		}
		if err := transferSupplyScaled(collateralPosition, liquidatorPosition, seizedScaled); err != nil {
			return err
		}
		if liquidatorPosition.ScaledSupply.Cmp(seizedScaled) == 0 {
			liquidatorPosition.UsingAsCollateral = true
		}
	} else {
		if vault.Balance(collateralAsset).Cmp(seize) < 0 {
			return ErrInsufficientLiquidity
		}
		if err := collateralReserve.burnSupplyScaled(collateralPosition, seizedScaled); err != nil {
			return err
		}
		if err := debit(vault, collateralAsset, seize); err != nil {
			return err
		}
		credit(liquidatorAcc, collateralAsset, seize)
	}

	if err := collateralReserve.refreshRates(); err != nil {
		return err
	}
	if debtReserve != collateralReserve {
		if err := debtReserve.refreshRates(); err != nil {
			return err
		}
	}
	if err := collateralReserve.checkInvariants(); err != nil {
		return err
	}
	if err := debtReserve.checkInvariants(); err != nil {
		return err
	}
	if err := accounts.persist(); err != nil {
		return err
	}
	if err := positions.persist(); err != nil {
		return err
	}
	if err := e.state.PutReserve(collateralAsset, collateralReserve); err != nil {
		return err
	}
	if debtReserve != collateralReserve {
		if err := e.state.PutReserve(debtAsset, debtReserve); err != nil {
			return err
		}
	}

	e.emit(events.LendingLiquidation{
		CollateralAsset:  collateralAsset,
		DebtAsset:        debtAsset,
		Borrower:         user,
		Liquidator:       liquidator,
		DebtCovered:      debtToCover,
		CollateralSeized: seize,
		ReceiveClaim:     receiveClaim,
	})
	e.emitReserveUpdated(collateralReserve)
	if debtReserve != collateralReserve {
		e.emitReserveUpdated(debtReserve)
	}
	return nil
}

// FlashLoan credits the requested amounts to the receiver, invokes its
// callback and settles each asset: either principal plus premium is pulled
// back (premium cumulated to suppliers), or, for a non-none rate mode, the
// shortfall is converted into regular debt for onBehalfOf. The reentrancy
// latch stays held across the callback, so the receiver cannot reenter the
// engine.
func (e *Engine) FlashLoan(initiator crypto.Address, receiver FlashLoanReceiver, assets []string, amounts []*big.Int, modes []RateMode, onBehalfOf crypto.Address, params []byte) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	if receiver == nil || len(assets) == 0 || len(assets) != len(amounts) || len(assets) != len(modes) {
		return ErrInvalidAmount
	}

	reserves := make([]*Reserve, len(assets))
	premiums := make([]*big.Int, len(assets))
	normalized := make([]string, len(assets))
	seen := make(map[string]bool, len(assets))
	accounts := newAccountSet(e.state)
	vault, err := accounts.get(e.moduleAddress)
	if err != nil {
		return err
	}
	for i, asset := range assets {
		asset = normalizeAsset(asset)
		if amounts[i] == nil || amounts[i].Sign() <= 0 || seen[asset] {
			return ErrInvalidAmount
		}
		seen[asset] = true
		normalized[i] = asset
		reserve, err := e.loadReserve(asset)
		if err != nil {
			return err
		}
		if err := reserve.accrue(e.now); err != nil {
			return err
		}
		if vault.Balance(asset).Cmp(amounts[i]) < 0 {
			return ErrInsufficientLiquidity
		}
		premium, err := percentOf(amounts[i], e.flashLoanPremiumBps)
		if err != nil {
			return err
		}
		reserves[i] = reserve
		premiums[i] = premium
	}

	receiverAcc, err := accounts.get(receiver.Address())
	if err != nil {
		return err
	}
	for i := range normalized {
		if err := debit(vault, normalized[i], amounts[i]); err != nil {
			return err
		}
		credit(receiverAcc, normalized[i], amounts[i])
	}

	if err := receiver.ExecuteOperation(normalized, amounts, premiums, initiator, params); err != nil {
		return fmt.Errorf("lending: flash loan receiver failed: %v: %w", err, ErrFlashLoanNotRepaid)
	}

	positions := newPositionSet(e.state)
	for i, asset := range normalized {
		reserve := reserves[i]
		owed := new(big.Int).Add(amounts[i], premiums[i])
		if receiverAcc.Balance(asset).Cmp(owed) >= 0 {
			if err := debit(receiverAcc, asset, owed); err != nil {
				return err
			}
			credit(vault, asset, owed)
			if err := reserve.cumulateToLiquidityIndex(premiums[i]); err != nil {
				return err
			}
		} else if modes[i] != RateModeNone {
			// The principal stays out as a regular borrow; the premium is
			// waived, matching an ordinary draw at the prevailing rate.
			if reserve.Config.Frozen {
				return ErrReserveFrozen
			}
			if modes[i] == RateModeStable && !reserve.Config.StableBorrowEnabled {
				return ErrInvalidRateMode
			}
			if err := e.checkUtilization(reserve, amounts[i]); err != nil {
				return err
			}
			price, err := e.priceOf(asset)
			if err != nil {
				return err
			}
			if err := e.validateBorrow(onBehalfOf, reserve, amounts[i], price); err != nil {
				return err
			}
			position, err := positions.get(asset, onBehalfOf)
			if err != nil {
				return err
			}
			if modes[i] == RateModeStable {
				if err := reserve.syncStableDebt(position, e.now); err != nil {
					return err
				}
				if err := reserve.mintStableDebt(position, amounts[i], e.now); err != nil {
					return err
				}
			} else if _, err := reserve.mintVariableDebt(position, amounts[i]); err != nil {
				return err
			}
			premiums[i] = big.NewInt(0)
		} else {
			return ErrFlashLoanNotRepaid
		}
		if err := reserve.refreshRates(); err != nil {
			return err
		}
		if err := reserve.checkInvariants(); err != nil {
			return err
		}
	}

	if err := accounts.persist(); err != nil {
		return err
	}
	if err := positions.persist(); err != nil {
		return err
	}
	for i, asset := range normalized {
		if err := e.state.PutReserve(asset, reserves[i]); err != nil {
			return err
		}
	}
	for i, asset := range normalized {
		e.emit(events.LendingFlashLoan{
			Asset:     asset,
			Receiver:  receiver.Address(),
			Initiator: initiator,
			Amount:    amounts[i],
			Premium:   premiums[i],
			Mode:      modes[i].String(),
		})
		e.emitReserveUpdated(reserves[i])
	}
	return nil
}

func (e *Engine) emitReserveUpdated(reserve *Reserve) {
	e.emit(events.LendingReserveUpdated{
		Asset:               reserve.Asset,
		LiquidityIndex:      reserve.LiquidityIndex,
		VariableBorrowIndex: reserve.VariableBorrowIndex,
		LiquidityRate:       reserve.CurrentLiquidityRate,
		VariableBorrowRate:  reserve.CurrentVariableBorrowRate,
		StableBorrowRate:    reserve.CurrentStableBorrowRate,
	})
}
