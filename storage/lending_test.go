package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"openlend/core/types"
	"openlend/crypto"
	"openlend/native/lending"
)

func testAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestLendingStoreReserveRoundTrip(t *testing.T) {
	store := NewLendingStore(NewMemDB())

	missing, err := store.GetReserve("USDC")
	require.NoError(t, err)
	require.Nil(t, missing)

	reserve := &lending.Reserve{
		ID:                  1,
		Asset:               "USDC",
		LiquidityIndex:      big.NewInt(2e9),
		VariableBorrowIndex: big.NewInt(3e9),
		TotalScaledSupply:   big.NewInt(1_000),
		LastUpdateTimestamp: 1_700_000_000,
		Config: lending.ReserveConfig{
			CollateralFactorBps:     8_000,
			LiquidationThresholdBps: 9_000,
			Active:                  true,
			Interest:                lending.InterestParams{BaseRateBps: 500, KinkBps: 8_000},
		},
	}
	require.NoError(t, store.PutReserve("USDC", reserve))

	loaded, err := store.GetReserve("USDC")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, reserve.Asset, loaded.Asset)
	require.Zero(t, loaded.LiquidityIndex.Cmp(reserve.LiquidityIndex))
	require.True(t, loaded.Config.Active)
	require.Equal(t, uint64(500), loaded.Config.Interest.BaseRateBps)

	listed, err := store.ListReserves()
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// Overwrites must not duplicate the list entry.
	require.NoError(t, store.PutReserve("USDC", reserve))
	listed, err = store.ListReserves()
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestLendingStorePositionsIndexedByAddress(t *testing.T) {
	store := NewLendingStore(NewMemDB())
	user := testAddress(0x01)
	other := testAddress(0x02)

	position := &lending.UserPosition{
		Address:            user,
		Asset:              "ETH",
		ScaledSupply:       big.NewInt(10),
		ScaledVariableDebt: big.NewInt(0),
		StableDebt:         big.NewInt(0),
		StableRate:         big.NewInt(0),
		UsingAsCollateral:  true,
	}
	require.NoError(t, store.PutPosition(position))
	require.NoError(t, store.PutPosition(&lending.UserPosition{
		Address:      user,
		Asset:        "DAI",
		ScaledSupply: big.NewInt(5),
	}))
	require.NoError(t, store.PutPosition(&lending.UserPosition{
		Address:      other,
		Asset:        "ETH",
		ScaledSupply: big.NewInt(99),
	}))

	loaded, err := store.GetPosition("ETH", user)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, user.String(), loaded.Address.String())
	require.Zero(t, loaded.ScaledSupply.Cmp(big.NewInt(10)))
	require.True(t, loaded.UsingAsCollateral)

	all, err := store.PositionsOf(user)
	require.NoError(t, err)
	require.Len(t, all, 2)

	none, err := store.PositionsOf(testAddress(0x03))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestLendingStoreAccounts(t *testing.T) {
	store := NewLendingStore(NewMemDB())
	user := testAddress(0x01)

	missing, err := store.GetAccount(user)
	require.NoError(t, err)
	require.Nil(t, missing)

	account := &types.Account{Nonce: 7}
	account.SetBalance("USDC", big.NewInt(123))
	require.NoError(t, store.PutAccount(user, account))

	loaded, err := store.GetAccount(user)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Zero(t, loaded.Balance("USDC").Cmp(big.NewInt(123)))
}

func TestMemDBDeleteAndMiss(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}
