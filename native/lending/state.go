package lending

import (
	"openlend/core/types"
	"openlend/crypto"
)

// State is the persistence boundary for the lending engine. Implementations
// return nil (not an error) for absent reserves, positions and accounts, and
// must return values the engine may mutate freely before persisting.
type State interface {
	GetReserve(asset string) (*Reserve, error)
	PutReserve(asset string, reserve *Reserve) error
	ListReserves() ([]*Reserve, error)

	GetPosition(asset string, addr crypto.Address) (*UserPosition, error)
	PutPosition(position *UserPosition) error
	// PositionsOf returns every position the address holds across reserves.
	PositionsOf(addr crypto.Address) ([]*UserPosition, error)

	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}
