package server

import (
	"math/big"

	"openlend/crypto"
	"openlend/native/lending"
)

// Wire DTOs. Big integers travel as base-10 strings so precision survives
// JSON number handling in clients.

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type reservePayload struct {
	Asset               string `json:"asset"`
	ID                  uint32 `json:"id"`
	TotalSupplied       string `json:"totalSupplied"`
	TotalVariableDebt   string `json:"totalVariableDebt"`
	TotalStableDebt     string `json:"totalStableDebt"`
	AvailableLiquidity  string `json:"availableLiquidity"`
	Utilization         string `json:"utilization"`
	LiquidityRate       string `json:"liquidityRate"`
	VariableBorrowRate  string `json:"variableBorrowRate"`
	StableBorrowRate    string `json:"stableBorrowRate"`
	LiquidityIndex      string `json:"liquidityIndex"`
	VariableBorrowIndex string `json:"variableBorrowIndex"`
	LastUpdateTimestamp uint64 `json:"lastUpdateTimestamp"`
}

func reserveToPayload(data *lending.ReserveData) *reservePayload {
	if data == nil {
		return nil
	}
	return &reservePayload{
		Asset:               data.Asset,
		ID:                  data.ID,
		TotalSupplied:       bigString(data.TotalSupplied),
		TotalVariableDebt:   bigString(data.TotalVariableDebt),
		TotalStableDebt:     bigString(data.TotalStableDebt),
		AvailableLiquidity:  bigString(data.AvailableLiquidity),
		Utilization:         bigString(data.Utilization),
		LiquidityRate:       bigString(data.LiquidityRate),
		VariableBorrowRate:  bigString(data.VariableBorrowRate),
		StableBorrowRate:    bigString(data.StableBorrowRate),
		LiquidityIndex:      bigString(data.LiquidityIndex),
		VariableBorrowIndex: bigString(data.VariableBorrowIndex),
		LastUpdateTimestamp: data.LastUpdateTimestamp,
	}
}

type accountPayload struct {
	Address                     string `json:"address"`
	TotalCollateralValue        string `json:"totalCollateralValue"`
	TotalDebtValue              string `json:"totalDebtValue"`
	AvailableBorrowValue        string `json:"availableBorrowValue"`
	CurrentLiquidationThreshold uint64 `json:"currentLiquidationThreshold"`
	LTV                         uint64 `json:"ltv"`
	HealthFactor                string `json:"healthFactor"`
}

func accountToPayload(addr crypto.Address, data *lending.AccountData) *accountPayload {
	if data == nil {
		return nil
	}
	return &accountPayload{
		Address:                     addr.String(),
		TotalCollateralValue:        bigString(data.TotalCollateralValue),
		TotalDebtValue:              bigString(data.TotalDebtValue),
		AvailableBorrowValue:        bigString(data.AvailableBorrowValue),
		CurrentLiquidationThreshold: data.CurrentLiquidationThreshold,
		LTV:                         data.LTV,
		HealthFactor:                bigString(data.HealthFactor),
	}
}

type positionPayload struct {
	Address            string `json:"address"`
	Asset              string `json:"asset"`
	ScaledSupply       string `json:"scaledSupply"`
	ScaledVariableDebt string `json:"scaledVariableDebt"`
	StableDebt         string `json:"stableDebt"`
	StableRate         string `json:"stableRate"`
	UsingAsCollateral  bool   `json:"usingAsCollateral"`
}

func positionToPayload(position *lending.UserPosition) *positionPayload {
	if position == nil {
		return nil
	}
	return &positionPayload{
		Address:            position.Address.String(),
		Asset:              position.Asset,
		ScaledSupply:       bigString(position.ScaledSupply),
		ScaledVariableDebt: bigString(position.ScaledVariableDebt),
		StableDebt:         bigString(position.StableDebt),
		StableRate:         bigString(position.StableRate),
		UsingAsCollateral:  position.UsingAsCollateral,
	}
}
