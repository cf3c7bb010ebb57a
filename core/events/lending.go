package events

import (
	"math/big"

	"openlend/core/types"
	"openlend/crypto"
)

const (
	// TypeLendingDeposit is emitted when liquidity is supplied to a reserve.
	TypeLendingDeposit = "lending.deposit"
	// TypeLendingWithdraw is emitted when supplied liquidity is redeemed.
	TypeLendingWithdraw = "lending.withdraw"
	// TypeLendingBorrow is emitted when a borrow is drawn from a reserve.
	TypeLendingBorrow = "lending.borrow"
	// TypeLendingRepay is emitted when outstanding debt is repaid.
	TypeLendingRepay = "lending.repay"
	// TypeLendingLiquidation is emitted when a position is liquidated.
	TypeLendingLiquidation = "lending.liquidation"
	// TypeLendingFlashLoan is emitted once a flash loan settles.
	TypeLendingFlashLoan = "lending.flashloan"
	// TypeLendingReserveUpdated is emitted whenever reserve indexes or rates
	// change, carrying the data needed to replay accrual off-chain.
	TypeLendingReserveUpdated = "lending.reserve_updated"
	// TypeLendingReserveAdded is emitted when governance configures a reserve.
	TypeLendingReserveAdded = "lending.reserve_added"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// LendingDeposit captures a completed supply operation.
type LendingDeposit struct {
	Asset          string
	Supplier       crypto.Address
	OnBehalfOf     crypto.Address
	Amount         *big.Int
	LiquidityIndex *big.Int
}

func (LendingDeposit) EventType() string { return TypeLendingDeposit }

func (e LendingDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingDeposit,
		Attributes: map[string]string{
			"asset":          normalizeAsset(e.Asset),
			"supplier":       e.Supplier.String(),
			"onBehalfOf":     e.OnBehalfOf.String(),
			"amount":         bigString(e.Amount),
			"liquidityIndex": bigString(e.LiquidityIndex),
		},
	}
}

// LendingWithdraw captures a completed withdraw operation.
type LendingWithdraw struct {
	Asset          string
	Supplier       crypto.Address
	To             crypto.Address
	Amount         *big.Int
	LiquidityIndex *big.Int
}

func (LendingWithdraw) EventType() string { return TypeLendingWithdraw }

func (e LendingWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingWithdraw,
		Attributes: map[string]string{
			"asset":          normalizeAsset(e.Asset),
			"supplier":       e.Supplier.String(),
			"to":             e.To.String(),
			"amount":         bigString(e.Amount),
			"liquidityIndex": bigString(e.LiquidityIndex),
		},
	}
}

// LendingBorrow captures a completed borrow operation.
type LendingBorrow struct {
	Asset       string
	Borrower    crypto.Address
	OnBehalfOf  crypto.Address
	Amount      *big.Int
	RateMode    string
	BorrowRate  *big.Int
	BorrowIndex *big.Int
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrow,
		Attributes: map[string]string{
			"asset":       normalizeAsset(e.Asset),
			"borrower":    e.Borrower.String(),
			"onBehalfOf":  e.OnBehalfOf.String(),
			"amount":      bigString(e.Amount),
			"rateMode":    e.RateMode,
			"borrowRate":  bigString(e.BorrowRate),
			"borrowIndex": bigString(e.BorrowIndex),
		},
	}
}

// LendingRepay captures a completed repay operation.
type LendingRepay struct {
	Asset       string
	Payer       crypto.Address
	OnBehalfOf  crypto.Address
	Amount      *big.Int
	RateMode    string
	BorrowIndex *big.Int
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingRepay,
		Attributes: map[string]string{
			"asset":       normalizeAsset(e.Asset),
			"payer":       e.Payer.String(),
			"onBehalfOf":  e.OnBehalfOf.String(),
			"amount":      bigString(e.Amount),
			"rateMode":    e.RateMode,
			"borrowIndex": bigString(e.BorrowIndex),
		},
	}
}

// LendingLiquidation captures a completed liquidation call.
type LendingLiquidation struct {
	CollateralAsset  string
	DebtAsset        string
	Borrower         crypto.Address
	Liquidator       crypto.Address
	DebtCovered      *big.Int
	CollateralSeized *big.Int
	ReceiveClaim     bool
}

func (LendingLiquidation) EventType() string { return TypeLendingLiquidation }

func (e LendingLiquidation) Event() *types.Event {
	receive := "false"
	if e.ReceiveClaim {
		receive = "true"
	}
	return &types.Event{
		Type: TypeLendingLiquidation,
		Attributes: map[string]string{
			"collateralAsset":  normalizeAsset(e.CollateralAsset),
			"debtAsset":        normalizeAsset(e.DebtAsset),
			"borrower":         e.Borrower.String(),
			"liquidator":       e.Liquidator.String(),
			"debtCovered":      bigString(e.DebtCovered),
			"collateralSeized": bigString(e.CollateralSeized),
			"receiveClaim":     receive,
		},
	}
}

// LendingFlashLoan captures a settled flash loan for one asset.
type LendingFlashLoan struct {
	Asset     string
	Receiver  crypto.Address
	Initiator crypto.Address
	Amount    *big.Int
	Premium   *big.Int
	Mode      string
}

func (LendingFlashLoan) EventType() string { return TypeLendingFlashLoan }

func (e LendingFlashLoan) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingFlashLoan,
		Attributes: map[string]string{
			"asset":     normalizeAsset(e.Asset),
			"receiver":  e.Receiver.String(),
			"initiator": e.Initiator.String(),
			"amount":    bigString(e.Amount),
			"premium":   bigString(e.Premium),
			"mode":      e.Mode,
		},
	}
}

// LendingReserveUpdated carries the post-accrual reserve state.
type LendingReserveUpdated struct {
	Asset               string
	LiquidityIndex      *big.Int
	VariableBorrowIndex *big.Int
	LiquidityRate       *big.Int
	VariableBorrowRate  *big.Int
	StableBorrowRate    *big.Int
}

func (LendingReserveUpdated) EventType() string { return TypeLendingReserveUpdated }

func (e LendingReserveUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingReserveUpdated,
		Attributes: map[string]string{
			"asset":               normalizeAsset(e.Asset),
			"liquidityIndex":      bigString(e.LiquidityIndex),
			"variableBorrowIndex": bigString(e.VariableBorrowIndex),
			"liquidityRate":       bigString(e.LiquidityRate),
			"variableBorrowRate":  bigString(e.VariableBorrowRate),
			"stableBorrowRate":    bigString(e.StableBorrowRate),
		},
	}
}

// LendingReserveAdded captures a governance reserve initialisation.
type LendingReserveAdded struct {
	Asset string
	ID    uint32
}

func (LendingReserveAdded) EventType() string { return TypeLendingReserveAdded }

func (e LendingReserveAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingReserveAdded,
		Attributes: map[string]string{
			"asset": normalizeAsset(e.Asset),
			"id":    new(big.Int).SetUint64(uint64(e.ID)).String(),
		},
	}
}
