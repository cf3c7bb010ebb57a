package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestBorrowingPowerFromSingleDeposit(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "ETH", defaultConfig())
	f.setPrice(t, "ETH", "2000")
	user := makeAddress(0x31)
	f.fund(user, "ETH", wadAmount(1))
	if err := f.engine.Deposit(user, "ETH", wadAmount(1), user); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	data, err := f.engine.GetUserAccountData(user)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if data.TotalCollateralValue.Cmp(wadAmount(2_000)) != 0 {
		t.Fatalf("collateral value: got %s want %s", data.TotalCollateralValue, wadAmount(2_000))
	}
	// 80% collateral factor on $2000.
	if data.AvailableBorrowValue.Cmp(wadAmount(1_600)) != 0 {
		t.Fatalf("available borrow: got %s want %s", data.AvailableBorrowValue, wadAmount(1_600))
	}
	if data.HealthFactor.Cmp(MaxHealthFactor) != 0 {
		t.Fatalf("debt-free health factor: got %s", data.HealthFactor)
	}
}

func TestHealthFactorAfterBorrow(t *testing.T) {
	f := newFixture(t)
	cfg := defaultConfig()
	cfg.LiquidationThresholdBps = 9_500
	f.addReserve(t, "USDC", cfg)
	f.addReserve(t, "DAI", defaultConfig())
	f.setPrice(t, "USDC", "1")
	f.setPrice(t, "DAI", "1")
	whale := makeAddress(0x30)
	f.fund(whale, "DAI", wadAmount(10_000))
	if err := f.engine.Deposit(whale, "DAI", wadAmount(10_000), whale); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	user := makeAddress(0x31)
	f.fund(user, "USDC", wadAmount(1_000))
	if err := f.engine.Deposit(user, "USDC", wadAmount(1_000), user); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Borrow(user, "DAI", wadAmount(500), RateModeVariable, user); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	data, err := f.engine.GetUserAccountData(user)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	// 1000 * 0.95 / 500 = 1.9 in ray.
	want := new(big.Int).Mul(ray, big.NewInt(19))
	want.Quo(want, big.NewInt(10))
	if data.HealthFactor.Cmp(want) != 0 {
		t.Fatalf("health factor: got %s want %s", data.HealthFactor, want)
	}
}

func TestBorrowRejectsOverLimitAndBadMode(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "ETH", defaultConfig())
	f.addReserve(t, "DAI", defaultConfig())
	f.setPrice(t, "ETH", "2000")
	f.setPrice(t, "DAI", "1")
	whale := makeAddress(0x30)
	f.fund(whale, "DAI", wadAmount(100_000))
	if err := f.engine.Deposit(whale, "DAI", wadAmount(100_000), whale); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	borrower := makeAddress(0x31)
	f.fund(borrower, "ETH", wadAmount(1))
	if err := f.engine.Deposit(borrower, "ETH", wadAmount(1), borrower); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}

	// Borrow power is 1600; asking for more must fail before funds move.
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(1_700), RateModeVariable, borrower); !errors.Is(err, ErrBorrowCapExceeded) {
		t.Fatalf("over-limit borrow: got %v want %v", err, ErrBorrowCapExceeded)
	}
	if got := f.balance(borrower, "DAI"); got.Sign() != 0 {
		t.Fatalf("failed borrow moved funds: %s", got)
	}
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(100), RateModeNone, borrower); !errors.Is(err, ErrInvalidRateMode) {
		t.Fatalf("bad rate mode: got %v want %v", err, ErrInvalidRateMode)
	}

	noStable := defaultConfig()
	noStable.StableBorrowEnabled = false
	if err := f.engine.SetReserveConfig(f.admin, "DAI", noStable); err != nil {
		t.Fatalf("disable stable: %v", err)
	}
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(100), RateModeStable, borrower); !errors.Is(err, ErrInvalidRateMode) {
		t.Fatalf("stable borrow disabled: got %v want %v", err, ErrInvalidRateMode)
	}
}

func TestBorrowUtilizationCeiling(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "ETH", defaultConfig())
	cfg := defaultConfig()
	cfg.MaxUtilizationBps = 5_000
	f.addReserve(t, "DAI", cfg)
	f.setPrice(t, "ETH", "2000")
	f.setPrice(t, "DAI", "1")
	whale := makeAddress(0x30)
	f.fund(whale, "DAI", wadAmount(1_000))
	if err := f.engine.Deposit(whale, "DAI", wadAmount(1_000), whale); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	borrower := makeAddress(0x31)
	f.fund(borrower, "ETH", wadAmount(1))
	if err := f.engine.Deposit(borrower, "ETH", wadAmount(1), borrower); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}

	if err := f.engine.Borrow(borrower, "DAI", wadAmount(600), RateModeVariable, borrower); !errors.Is(err, ErrUtilizationExceeded) {
		t.Fatalf("utilization breach: got %v want %v", err, ErrUtilizationExceeded)
	}
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(500), RateModeVariable, borrower); err != nil {
		t.Fatalf("borrow at ceiling: %v", err)
	}
}

func TestRepayCapsAtOutstandingDebt(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "ETH", defaultConfig())
	f.addReserve(t, "DAI", defaultConfig())
	f.setPrice(t, "ETH", "2000")
	f.setPrice(t, "DAI", "1")
	whale := makeAddress(0x30)
	f.fund(whale, "DAI", wadAmount(10_000))
	if err := f.engine.Deposit(whale, "DAI", wadAmount(10_000), whale); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	borrower := makeAddress(0x31)
	f.fund(borrower, "ETH", wadAmount(1))
	f.fund(borrower, "DAI", wadAmount(1_000))
	if err := f.engine.Deposit(borrower, "ETH", wadAmount(1), borrower); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(500), RateModeVariable, borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Overpay: only the outstanding 500 is pulled.
	before := f.balance(borrower, "DAI")
	if err := f.engine.Repay(borrower, "DAI", wadAmount(800), RateModeVariable, borrower); err != nil {
		t.Fatalf("repay: %v", err)
	}
	paid := new(big.Int).Sub(before, f.balance(borrower, "DAI"))
	if paid.Cmp(wadAmount(500)) != 0 {
		t.Fatalf("repaid: got %s want %s", paid, wadAmount(500))
	}
	position, err := f.engine.GetPosition("DAI", borrower)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position.ScaledVariableDebt.Sign() != 0 {
		t.Fatalf("debt not cleared: %s", position.ScaledVariableDebt)
	}
	if err := f.engine.Repay(borrower, "DAI", wadAmount(1), RateModeVariable, borrower); !errors.Is(err, ErrNoDebtToRepay) {
		t.Fatalf("repay without debt: got %v want %v", err, ErrNoDebtToRepay)
	}
}

func TestStableBorrowLocksRate(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "ETH", defaultConfig())
	f.addReserve(t, "DAI", defaultConfig())
	f.setPrice(t, "ETH", "2000")
	f.setPrice(t, "DAI", "1")
	whale := makeAddress(0x30)
	f.fund(whale, "DAI", wadAmount(10_000))
	if err := f.engine.Deposit(whale, "DAI", wadAmount(10_000), whale); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	borrower := makeAddress(0x31)
	f.fund(borrower, "ETH", wadAmount(1))
	if err := f.engine.Deposit(borrower, "ETH", wadAmount(1), borrower); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(500), RateModeStable, borrower); err != nil {
		t.Fatalf("stable borrow: %v", err)
	}

	position, err := f.engine.GetPosition("DAI", borrower)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position.StableDebt.Cmp(wadAmount(500)) != 0 {
		t.Fatalf("stable debt: got %s want %s", position.StableDebt, wadAmount(500))
	}
	if position.StableRate.Sign() <= 0 {
		t.Fatalf("stable rate not locked: %s", position.StableRate)
	}
	lockedRate := new(big.Int).Set(position.StableRate)

	// A year later the stable book compounds at the locked rate.
	f.advance(31_536_000)
	position, err = f.engine.GetPosition("DAI", borrower)
	if err != nil {
		t.Fatalf("get position after a year: %v", err)
	}
	if position.StableDebt.Cmp(wadAmount(500)) <= 0 {
		t.Fatalf("stable debt did not grow: %s", position.StableDebt)
	}
	if position.StableRate.Cmp(lockedRate) != 0 {
		t.Fatalf("locked rate drifted: got %s want %s", position.StableRate, lockedRate)
	}

	f.fund(borrower, "DAI", position.StableDebt)
	if err := f.engine.Repay(borrower, "DAI", WithdrawAll, RateModeStable, borrower); err != nil {
		t.Fatalf("repay stable: %v", err)
	}
	position, err = f.engine.GetPosition("DAI", borrower)
	if err != nil {
		t.Fatalf("get position after repay: %v", err)
	}
	if position.StableDebt.Sign() != 0 {
		t.Fatalf("stable debt not cleared: %s", position.StableDebt)
	}
}

func TestWithdrawBlockedWhenCollateralBacksDebt(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "ETH", defaultConfig())
	f.addReserve(t, "DAI", defaultConfig())
	f.setPrice(t, "ETH", "2000")
	f.setPrice(t, "DAI", "1")
	whale := makeAddress(0x30)
	f.fund(whale, "DAI", wadAmount(10_000))
	if err := f.engine.Deposit(whale, "DAI", wadAmount(10_000), whale); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	borrower := makeAddress(0x31)
	f.fund(borrower, "ETH", wadAmount(1))
	if err := f.engine.Deposit(borrower, "ETH", wadAmount(1), borrower); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(1_500), RateModeVariable, borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Health after removing the whole ETH claim would collapse.
	if err := f.engine.Withdraw(borrower, "ETH", wadAmount(1), borrower); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("withdraw collateral: got %v want %v", err, ErrHealthFactorTooLow)
	}
}
