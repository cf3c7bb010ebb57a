package types

import "math/big"

// Account tracks the underlying asset balances held by a protocol participant
// or by one of the module treasury addresses. Balances are denominated in wei
// and keyed by the reserve's asset symbol.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// Balance returns the account's balance for the given asset, treating missing
// entries as zero.
func (a *Account) Balance(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[asset]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance records the balance for the given asset, initialising the balance
// map on first use.
func (a *Account) SetBalance(asset string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[asset] = amount
}

// Clone returns a deep copy of the account so staged mutations never leak into
// persisted state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.Balances != nil {
		clone.Balances = make(map[string]*big.Int, len(a.Balances))
		for asset, bal := range a.Balances {
			if bal == nil {
				bal = big.NewInt(0)
			}
			clone.Balances[asset] = new(big.Int).Set(bal)
		}
	}
	return clone
}
