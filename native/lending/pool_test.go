package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"openlend/core/types"
	"openlend/crypto"
	"openlend/native/oracle"
)

type mockState struct {
	reserves  map[string]*Reserve
	positions map[string]*UserPosition
	accounts  map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		reserves:  make(map[string]*Reserve),
		positions: make(map[string]*UserPosition),
		accounts:  make(map[string]*types.Account),
	}
}

func positionKey(asset string, addr crypto.Address) string {
	return asset + "/" + addr.String()
}

func (m *mockState) GetReserve(asset string) (*Reserve, error) {
	return m.reserves[asset], nil
}

func (m *mockState) PutReserve(asset string, reserve *Reserve) error {
	m.reserves[asset] = reserve
	return nil
}

func (m *mockState) ListReserves() ([]*Reserve, error) {
	out := make([]*Reserve, 0, len(m.reserves))
	for _, reserve := range m.reserves {
		out = append(out, reserve)
	}
	return out, nil
}

func (m *mockState) GetPosition(asset string, addr crypto.Address) (*UserPosition, error) {
	return m.positions[positionKey(asset, addr)], nil
}

func (m *mockState) PutPosition(position *UserPosition) error {
	if position == nil {
		return nil
	}
	m.positions[positionKey(position.Asset, position.Address)] = position
	return nil
}

func (m *mockState) PositionsOf(addr crypto.Address) ([]*UserPosition, error) {
	var out []*UserPosition
	for _, position := range m.positions {
		if position.Address.String() == addr.String() {
			out = append(out, position)
		}
	}
	return out, nil
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	return m.accounts[addr.String()], nil
}

func (m *mockState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[addr.String()] = account
	return nil
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func wadAmount(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), wad)
}

type fixture struct {
	engine *Engine
	state  *mockState
	prices *oracle.ManualOracle
	admin  crypto.Address
	vault  crypto.Address
	now    uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:  newMockState(),
		prices: oracle.NewManualOracle(),
		admin:  makeAddress(0x01),
		vault:  crypto.ModuleAddress(moduleName),
		now:    1_700_000_000,
	}
	f.engine = NewEngine(f.vault)
	f.engine.SetState(f.state)
	f.engine.SetOracle(f.prices)
	f.engine.SetTimestamp(f.now)
	admin := f.admin.String()
	f.engine.SetAuthorizer(func(addr crypto.Address) bool {
		return addr.String() == admin
	})
	return f
}

func (f *fixture) advance(seconds uint64) {
	f.now += seconds
	f.engine.SetTimestamp(f.now)
}

func (f *fixture) setPrice(t *testing.T, asset, usd string) {
	t.Helper()
	if err := f.prices.SetDecimal(asset, usd, time.Unix(int64(f.now), 0)); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func (f *fixture) addReserve(t *testing.T, asset string, cfg ReserveConfig) {
	t.Helper()
	if _, err := f.engine.AddReserve(f.admin, asset, cfg); err != nil {
		t.Fatalf("add reserve %s: %v", asset, err)
	}
}

func (f *fixture) fund(addr crypto.Address, asset string, amount *big.Int) {
	account := f.state.accounts[addr.String()]
	if account == nil {
		account = &types.Account{}
		f.state.accounts[addr.String()] = account
	}
	account.SetBalance(asset, new(big.Int).Set(amount))
}

func (f *fixture) balance(addr crypto.Address, asset string) *big.Int {
	account := f.state.accounts[addr.String()]
	if account == nil {
		return big.NewInt(0)
	}
	return account.Balance(asset)
}

func defaultConfig() ReserveConfig {
	return ReserveConfig{
		CollateralFactorBps:     8_000,
		LiquidationThresholdBps: 9_000,
		LiquidationBonusBps:     500,
		MaxUtilizationBps:       9_500,
		ReserveFactorBps:        1_000,
		StableRateMarginBps:     200,
		StableBorrowEnabled:     true,
		Active:                  true,
		Interest: InterestParams{
			BaseRateBps:       500,
			MultiplierBps:     1_000,
			JumpMultiplierBps: 30_000,
			KinkBps:           8_000,
		},
	}
}

func TestDepositMintsClaimAndMovesFunds(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "USDC", defaultConfig())
	f.setPrice(t, "USDC", "1")
	supplier := makeAddress(0x10)
	f.fund(supplier, "USDC", wadAmount(1_000))

	if err := f.engine.Deposit(supplier, "USDC", wadAmount(1_000), supplier); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.balance(supplier, "USDC"); got.Sign() != 0 {
		t.Fatalf("supplier balance not drained: %s", got)
	}
	if got := f.balance(f.vault, "USDC"); got.Cmp(wadAmount(1_000)) != 0 {
		t.Fatalf("vault balance: got %s want %s", got, wadAmount(1_000))
	}
	position, err := f.engine.GetPosition("USDC", supplier)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position.ScaledSupply.Cmp(wadAmount(1_000)) != 0 {
		t.Fatalf("scaled supply: got %s want %s", position.ScaledSupply, wadAmount(1_000))
	}
	if !position.UsingAsCollateral {
		t.Fatalf("first deposit should enable collateral use")
	}
}

func TestDepositRejectsBadInputs(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "USDC", defaultConfig())
	supplier := makeAddress(0x10)
	f.fund(supplier, "USDC", wadAmount(10))

	if err := f.engine.Deposit(supplier, "USDC", big.NewInt(0), supplier); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v want %v", err, ErrInvalidAmount)
	}
	if err := f.engine.Deposit(supplier, "USDC", big.NewInt(-5), supplier); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v want %v", err, ErrInvalidAmount)
	}
	if err := f.engine.Deposit(supplier, "DOGE", wadAmount(1), supplier); !errors.Is(err, ErrReserveNotActive) {
		t.Fatalf("unknown reserve: got %v want %v", err, ErrReserveNotActive)
	}
	if err := f.engine.Deposit(supplier, "USDC", wadAmount(100), supplier); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("unfunded deposit: got %v want %v", err, ErrInsufficientBalance)
	}
}

func TestWithdrawRoundTripAndSentinel(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "USDC", defaultConfig())
	f.setPrice(t, "USDC", "1")
	supplier := makeAddress(0x10)
	f.fund(supplier, "USDC", wadAmount(1_000))

	if err := f.engine.Deposit(supplier, "USDC", wadAmount(1_000), supplier); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Withdraw(supplier, "USDC", wadAmount(400), supplier); err != nil {
		t.Fatalf("partial withdraw: %v", err)
	}
	if got := f.balance(supplier, "USDC"); got.Cmp(wadAmount(400)) != 0 {
		t.Fatalf("after partial withdraw: got %s want %s", got, wadAmount(400))
	}
	if err := f.engine.Withdraw(supplier, "USDC", WithdrawAll, supplier); err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if got := f.balance(supplier, "USDC"); got.Cmp(wadAmount(1_000)) != 0 {
		t.Fatalf("after withdraw all: got %s want %s", got, wadAmount(1_000))
	}
	position, err := f.engine.GetPosition("USDC", supplier)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position.ScaledSupply.Sign() != 0 {
		t.Fatalf("scaled supply not burned: %s", position.ScaledSupply)
	}
	if err := f.engine.Withdraw(supplier, "USDC", wadAmount(1), supplier); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("empty withdraw: got %v want %v", err, ErrInsufficientBalance)
	}
}

func TestWithdrawBlockedByPoolLiquidity(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "USDC", defaultConfig())
	f.addReserve(t, "ETH", defaultConfig())
	f.setPrice(t, "USDC", "1")
	f.setPrice(t, "ETH", "2000")
	supplier := makeAddress(0x10)
	borrower := makeAddress(0x11)
	f.fund(supplier, "USDC", wadAmount(1_000))
	f.fund(borrower, "USDC", wadAmount(1_000))
	f.fund(borrower, "ETH", wadAmount(10))

	if err := f.engine.Deposit(supplier, "USDC", wadAmount(1_000), supplier); err != nil {
		t.Fatalf("deposit supplier: %v", err)
	}
	if err := f.engine.Deposit(borrower, "USDC", wadAmount(1_000), borrower); err != nil {
		t.Fatalf("deposit borrower: %v", err)
	}
	if err := f.engine.Deposit(borrower, "ETH", wadAmount(10), borrower); err != nil {
		t.Fatalf("deposit eth collateral: %v", err)
	}
	if err := f.engine.Borrow(borrower, "USDC", wadAmount(1_500), RateModeVariable, borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// 500 cash remains; the full claim cannot be paid out.
	if err := f.engine.Withdraw(supplier, "USDC", wadAmount(1_000), supplier); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("withdraw: got %v want %v", err, ErrInsufficientLiquidity)
	}
	if err := f.engine.Withdraw(supplier, "USDC", wadAmount(400), supplier); err != nil {
		t.Fatalf("partial withdraw inside cash: %v", err)
	}
}

func TestModulePauseBlocksMutations(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "USDC", defaultConfig())
	supplier := makeAddress(0x10)
	f.fund(supplier, "USDC", wadAmount(10))
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{moduleName: true}})

	if err := f.engine.Deposit(supplier, "USDC", wadAmount(10), supplier); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("deposit under pause: got %v want %v", err, ErrProtocolPaused)
	}
	f.engine.SetPauses(stubPauseView{})
	if err := f.engine.Deposit(supplier, "USDC", wadAmount(10), supplier); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestReservePauseAndFreeze(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "USDC", defaultConfig())
	f.setPrice(t, "USDC", "1")
	supplier := makeAddress(0x10)
	f.fund(supplier, "USDC", wadAmount(100))
	if err := f.engine.Deposit(supplier, "USDC", wadAmount(50), supplier); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := f.engine.SetReservePaused(f.admin, "USDC", true); err != nil {
		t.Fatalf("pause reserve: %v", err)
	}
	if err := f.engine.Deposit(supplier, "USDC", wadAmount(10), supplier); !errors.Is(err, ErrProtocolPaused) {
		t.Fatalf("deposit on paused reserve: got %v want %v", err, ErrProtocolPaused)
	}
	if err := f.engine.SetReservePaused(f.admin, "USDC", false); err != nil {
		t.Fatalf("unpause reserve: %v", err)
	}

	frozen := defaultConfig()
	frozen.Frozen = true
	if err := f.engine.SetReserveConfig(f.admin, "USDC", frozen); err != nil {
		t.Fatalf("freeze reserve: %v", err)
	}
	if err := f.engine.Deposit(supplier, "USDC", wadAmount(10), supplier); !errors.Is(err, ErrReserveFrozen) {
		t.Fatalf("deposit on frozen reserve: got %v want %v", err, ErrReserveFrozen)
	}
	// Exits stay open while frozen.
	if err := f.engine.Withdraw(supplier, "USDC", wadAmount(50), supplier); err != nil {
		t.Fatalf("withdraw on frozen reserve: %v", err)
	}
}

func TestAdminOperationsRequireAuthority(t *testing.T) {
	f := newFixture(t)
	outsider := makeAddress(0x66)
	if _, err := f.engine.AddReserve(outsider, "USDC", defaultConfig()); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("add reserve: got %v want %v", err, ErrNotAuthorized)
	}
	f.addReserve(t, "USDC", defaultConfig())
	if err := f.engine.SetReservePaused(outsider, "USDC", true); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("pause: got %v want %v", err, ErrNotAuthorized)
	}
	if _, err := f.engine.AddReserve(f.admin, "USDC", defaultConfig()); !errors.Is(err, ErrReserveAlreadyActive) {
		t.Fatalf("duplicate reserve: got %v want %v", err, ErrReserveAlreadyActive)
	}
}

func TestSetUsingAsCollateralGuardsHealth(t *testing.T) {
	f := newFixture(t)
	f.addReserve(t, "ETH", defaultConfig())
	f.addReserve(t, "DAI", defaultConfig())
	f.setPrice(t, "ETH", "2000")
	f.setPrice(t, "DAI", "1")
	whale := makeAddress(0x20)
	borrower := makeAddress(0x21)
	f.fund(whale, "DAI", wadAmount(10_000))
	f.fund(borrower, "ETH", wadAmount(1))

	if err := f.engine.Deposit(whale, "DAI", wadAmount(10_000), whale); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if err := f.engine.Deposit(borrower, "ETH", wadAmount(1), borrower); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := f.engine.Borrow(borrower, "DAI", wadAmount(1_000), RateModeVariable, borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.SetUsingAsCollateral(borrower, "ETH", false); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("disable collateral with debt: got %v want %v", err, ErrHealthFactorTooLow)
	}
	if err := f.engine.Repay(borrower, "DAI", WithdrawAll, RateModeVariable, borrower); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.engine.SetUsingAsCollateral(borrower, "ETH", false); err != nil {
		t.Fatalf("disable collateral debt-free: %v", err)
	}
}
