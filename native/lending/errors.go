package lending

import (
	"errors"

	nativecommon "openlend/native/common"
)

var (
	// ErrNilState indicates the engine was invoked before its persistence
	// backend was configured.
	ErrNilState = errors.New("lending: state not configured")
	// ErrInvalidAmount indicates a zero, negative or missing amount.
	ErrInvalidAmount = errors.New("lending: amount must be positive")
	// ErrReserveNotActive indicates the asset has no active reserve.
	ErrReserveNotActive = errors.New("lending: reserve not active")
	// ErrReserveAlreadyActive indicates governance tried to add a reserve for
	// an asset that already has one.
	ErrReserveAlreadyActive = errors.New("lending: reserve already active")
	// ErrReserveFrozen indicates the reserve only accepts exits (withdraw and
	// repay) while new deposits and borrows are rejected.
	ErrReserveFrozen = errors.New("lending: reserve frozen")
	// ErrProtocolPaused indicates the module (or the individual reserve) has
	// been halted by the pause authority.
	ErrProtocolPaused = nativecommon.ErrProtocolPaused
	// ErrReentrancyDetected indicates a state-mutating entry point was invoked
	// while another one was still executing, e.g. from a flash loan callback.
	ErrReentrancyDetected = errors.New("lending: reentrant call detected")
	// ErrInsufficientLiquidity indicates the pool does not hold enough idle
	// underlying to satisfy the requested outflow.
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	// ErrUtilizationExceeded indicates the borrow would push utilization past
	// the reserve's configured ceiling.
	ErrUtilizationExceeded = errors.New("lending: utilization cap exceeded")
	// ErrHealthFactorTooLow indicates the operation would leave the account
	// below the liquidation threshold.
	ErrHealthFactorTooLow = errors.New("lending: health factor below threshold")
	// ErrBorrowCapExceeded indicates the borrow exceeds the account's
	// loan-to-value constrained borrowing power.
	ErrBorrowCapExceeded = errors.New("lending: borrow exceeds available borrowing power")
	// ErrInsufficientBalance indicates the account does not hold the funds or
	// claims the operation requires.
	ErrInsufficientBalance = errors.New("lending: insufficient balance")
	// ErrInsufficientCollateral indicates the borrower's collateral cannot
	// cover the collateral seizure computed for a liquidation.
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	// ErrArithmeticOverflow indicates a fixed-point computation left the
	// 256-bit unsigned range.
	ErrArithmeticOverflow = errors.New("lending: arithmetic overflow")
	// ErrFlashLoanNotRepaid indicates the flash loan receiver ended the
	// callback without the funds to settle principal plus premium.
	ErrFlashLoanNotRepaid = errors.New("lending: flash loan not repaid")
	// ErrNoDebtToRepay indicates a repay or liquidation targeted an account
	// with no outstanding debt in the selected book.
	ErrNoDebtToRepay = errors.New("lending: no outstanding debt to repay")
	// ErrNotLiquidatable indicates the borrower's health factor is at or above
	// one.
	ErrNotLiquidatable = errors.New("lending: borrower not eligible for liquidation")
	// ErrCloseFactorExceeded indicates the liquidator asked to cover more debt
	// than the close factor allows.
	ErrCloseFactorExceeded = errors.New("lending: debt to cover exceeds close factor")
	// ErrNotAuthorized indicates the caller lacks the governance capability.
	ErrNotAuthorized = errors.New("lending: caller not authorized")
	// ErrInvalidRateMode indicates the rate mode is unknown or disabled for
	// the reserve.
	ErrInvalidRateMode = errors.New("lending: invalid interest rate mode")
)
