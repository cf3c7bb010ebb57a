package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"openlend/core/types"
	"openlend/crypto"
	"openlend/gateway/middleware"
	"openlend/native/lending"
	"openlend/native/oracle"
	"openlend/storage"
)

type fixture struct {
	t      *testing.T
	store  *storage.LendingStore
	prices *oracle.ManualOracle
	engine *lending.Engine
	server *Server
	router http.Handler
	admin  crypto.Address
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithAuth(t, nil)
}

func newFixtureWithAuth(t *testing.T, auth *middleware.Authenticator) *fixture {
	t.Helper()
	store := storage.NewLendingStore(storage.NewMemDB())
	prices := oracle.NewManualOracle()

	admin := makeAddress(0xAA)
	engine := lending.NewEngine(crypto.ModuleAddress("lending"))
	engine.SetState(store)
	engine.SetOracle(prices)
	engine.SetAuthorizer(func(addr crypto.Address) bool {
		return addr.String() == admin.String()
	})

	pauses := NewPauseSwitch()
	engine.SetPauses(pauses)

	srv := New(engine, pauses, nil)
	engine.SetEmitter(NewEventSink(srv.logger))
	now := time.Unix(1_700_000_000, 0)
	srv.SetClock(func() time.Time { return now })

	f := &fixture{
		t:      t,
		store:  store,
		prices: prices,
		engine: engine,
		server: srv,
		router: srv.Router(RouterConfig{Auth: auth}),
		admin:  admin,
		now:    now,
	}
	return f
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func wadAmount(units int64) *big.Int {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(units), wad)
}

func defaultConfig() lending.ReserveConfig {
	return lending.ReserveConfig{
		CollateralFactorBps:     8_000,
		LiquidationThresholdBps: 9_000,
		LiquidationBonusBps:     500,
		MaxUtilizationBps:       9_500,
		ReserveFactorBps:        1_000,
		Active:                  true,
		Interest: lending.InterestParams{
			BaseRateBps:       500,
			MultiplierBps:     1_000,
			JumpMultiplierBps: 30_000,
			KinkBps:           8_000,
		},
	}
}

func (f *fixture) setPrice(asset, price string) {
	f.t.Helper()
	require.NoError(f.t, f.prices.SetDecimal(asset, price, f.now))
}

func (f *fixture) addReserve(asset string) {
	f.t.Helper()
	f.engine.SetTimestamp(uint64(f.now.Unix()))
	_, err := f.engine.AddReserve(f.admin, asset, defaultConfig())
	require.NoError(f.t, err)
}

func (f *fixture) fund(addr crypto.Address, asset string, amount *big.Int) {
	f.t.Helper()
	account, err := f.store.GetAccount(addr)
	require.NoError(f.t, err)
	if account == nil {
		account = &types.Account{}
	}
	account.SetBalance(asset, amount)
	require.NoError(f.t, f.store.PutAccount(addr, account))
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func decodePayload(t *testing.T, res *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
}

func TestDepositAndReserveQuery(t *testing.T) {
	f := newFixture(t)
	f.setPrice("USDC", "1")
	f.addReserve("USDC")

	supplier := makeAddress(0x01)
	f.fund(supplier, "USDC", wadAmount(1_000))

	res := f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: supplier.String(),
		Asset:    "USDC",
		Amount:   wadAmount(1_000).String(),
	})
	require.Equal(t, http.StatusOK, res.Code)
	require.NotEmpty(t, res.Header().Get("X-Request-ID"))

	res = f.do(http.MethodGet, "/v1/lending/reserves/USDC", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var reserve reservePayload
	decodePayload(t, res, &reserve)
	require.Equal(t, "USDC", reserve.Asset)
	require.Equal(t, wadAmount(1_000).String(), reserve.TotalSupplied)
	require.Equal(t, wadAmount(1_000).String(), reserve.AvailableLiquidity)

	res = f.do(http.MethodGet, fmt.Sprintf("/v1/lending/positions/%s/USDC", supplier.String()), nil)
	require.Equal(t, http.StatusOK, res.Code)
	var position positionPayload
	decodePayload(t, res, &position)
	require.Equal(t, wadAmount(1_000).String(), position.ScaledSupply)
	require.True(t, position.UsingAsCollateral)
}

func TestDepositRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	f.setPrice("USDC", "1")
	f.addReserve("USDC")
	supplier := makeAddress(0x01)

	res := f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: supplier.String(),
		Asset:    "USDC",
		Amount:   "not-a-number",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: "nonsense-address",
		Asset:    "USDC",
		Amount:   "100",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: supplier.String(),
		Asset:    "DOGE",
		Amount:   "100",
	})
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestWithdrawAllRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.setPrice("USDC", "1")
	f.addReserve("USDC")

	supplier := makeAddress(0x01)
	f.fund(supplier, "USDC", wadAmount(500))

	res := f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: supplier.String(),
		Asset:    "USDC",
		Amount:   wadAmount(500).String(),
	})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/withdraw", withdrawRequest{
		Supplier: supplier.String(),
		Asset:    "USDC",
		Amount:   "all",
	})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodGet, fmt.Sprintf("/v1/lending/positions/%s/USDC", supplier.String()), nil)
	require.Equal(t, http.StatusOK, res.Code)
	var position positionPayload
	decodePayload(t, res, &position)
	require.Equal(t, "0", position.ScaledSupply)

	account, err := f.store.GetAccount(supplier)
	require.NoError(t, err)
	require.Zero(t, account.Balance("USDC").Cmp(wadAmount(500)))
}

func TestBorrowRepayOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.setPrice("ETH", "2000")
	f.setPrice("USDC", "1")
	f.addReserve("ETH")
	f.addReserve("USDC")

	whale := makeAddress(0x02)
	f.fund(whale, "USDC", wadAmount(10_000))
	res := f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: whale.String(),
		Asset:    "USDC",
		Amount:   wadAmount(10_000).String(),
	})
	require.Equal(t, http.StatusOK, res.Code)

	borrower := makeAddress(0x03)
	f.fund(borrower, "ETH", wadAmount(1))
	res = f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: borrower.String(),
		Asset:    "ETH",
		Amount:   wadAmount(1).String(),
	})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/borrow", borrowRequest{
		Borrower: borrower.String(),
		Asset:    "USDC",
		Amount:   wadAmount(1_000).String(),
		RateMode: "variable",
	})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodGet, "/v1/lending/accounts/"+borrower.String(), nil)
	require.Equal(t, http.StatusOK, res.Code)
	var account accountPayload
	decodePayload(t, res, &account)
	require.Equal(t, wadAmount(2_000).String(), account.TotalCollateralValue)
	require.Equal(t, wadAmount(1_000).String(), account.TotalDebtValue)

	// Over borrowing power: 1 ETH at 80% collateral factor backs 1600.
	res = f.do(http.MethodPost, "/v1/lending/borrow", borrowRequest{
		Borrower: borrower.String(),
		Asset:    "USDC",
		Amount:   wadAmount(1_000).String(),
		RateMode: "variable",
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/repay", repayRequest{
		Payer:    borrower.String(),
		Asset:    "USDC",
		Amount:   wadAmount(1_000).String(),
		RateMode: "variable",
	})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/repay", repayRequest{
		Payer:    borrower.String(),
		Asset:    "USDC",
		Amount:   wadAmount(1).String(),
		RateMode: "variable",
	})
	require.Equal(t, http.StatusConflict, res.Code)
}

func TestBorrowRejectsUnknownRateMode(t *testing.T) {
	f := newFixture(t)
	f.setPrice("USDC", "1")
	f.addReserve("USDC")
	borrower := makeAddress(0x03)

	res := f.do(http.MethodPost, "/v1/lending/borrow", borrowRequest{
		Borrower: borrower.String(),
		Asset:    "USDC",
		Amount:   "100",
		RateMode: "floating",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t)
	f.setPrice("USDC", "1")

	res := f.do(http.MethodPost, "/v1/admin/reserves", addReserveRequest{
		Caller: f.admin.String(),
		Asset:  "USDC",
		Config: defaultConfig(),
	})
	require.Equal(t, http.StatusCreated, res.Code)
	var created struct {
		ID uint32 `json:"id"`
	}
	decodePayload(t, res, &created)
	require.Equal(t, uint32(1), created.ID)

	// Same asset again conflicts.
	res = f.do(http.MethodPost, "/v1/admin/reserves", addReserveRequest{
		Caller: f.admin.String(),
		Asset:  "USDC",
		Config: defaultConfig(),
	})
	require.Equal(t, http.StatusConflict, res.Code)

	// Unauthorized caller address is refused by the engine.
	res = f.do(http.MethodPost, "/v1/admin/reserves", addReserveRequest{
		Caller: makeAddress(0x0F).String(),
		Asset:  "DAI",
		Config: defaultConfig(),
	})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(http.MethodPost, "/v1/admin/reserves/USDC/pause", setPausedRequest{
		Caller: f.admin.String(),
		Paused: true,
	})
	require.Equal(t, http.StatusOK, res.Code)
}

func TestModulePauseBlocksWrites(t *testing.T) {
	f := newFixture(t)
	f.setPrice("USDC", "1")
	f.addReserve("USDC")
	supplier := makeAddress(0x01)
	f.fund(supplier, "USDC", wadAmount(100))

	res := f.do(http.MethodPost, "/v1/admin/pause", setModulePausedRequest{Paused: true})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: supplier.String(),
		Asset:    "USDC",
		Amount:   wadAmount(100).String(),
	})
	require.Equal(t, http.StatusServiceUnavailable, res.Code)

	res = f.do(http.MethodPost, "/v1/admin/pause", setModulePausedRequest{Paused: false})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: supplier.String(),
		Asset:    "USDC",
		Amount:   wadAmount(100).String(),
	})
	require.Equal(t, http.StatusOK, res.Code)
}

func TestWritesRequireTokenWhenAuthEnabled(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: "test-secret",
	}, nil)
	f := newFixtureWithAuth(t, auth)
	f.setPrice("USDC", "1")
	f.addReserve("USDC")

	res := f.do(http.MethodPost, "/v1/lending/deposit", depositRequest{
		Supplier: makeAddress(0x01).String(),
		Asset:    "USDC",
		Amount:   "100",
	})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	// Reads stay open.
	res = f.do(http.MethodGet, "/v1/lending/reserves", nil)
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestListReserves(t *testing.T) {
	f := newFixture(t)
	f.setPrice("USDC", "1")
	f.setPrice("ETH", "2000")
	f.addReserve("USDC")
	f.addReserve("ETH")

	res := f.do(http.MethodGet, "/v1/lending/reserves", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var listing struct {
		Reserves []reservePayload `json:"reserves"`
	}
	decodePayload(t, res, &listing)
	require.Len(t, listing.Reserves, 2)
}
