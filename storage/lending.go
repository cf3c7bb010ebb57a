package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"openlend/core/types"
	"openlend/crypto"
	"openlend/native/lending"
)

const (
	reserveKeyPrefix  = "lending/reserve/"
	reserveListKey    = "lending/reserves"
	positionKeyPrefix = "lending/pos/"
	positionIdxPrefix = "lending/posidx/"
	accountKeyPrefix  = "lending/acct/"
)

// LendingStore persists the lending protocol state as JSON records in a
// key-value database. It implements lending.State.
type LendingStore struct {
	mu sync.RWMutex
	db Database
}

var _ lending.State = (*LendingStore)(nil)

func NewLendingStore(db Database) *LendingStore {
	return &LendingStore{db: db}
}

// positionRecord is the wire form of a position; addresses travel bech32
// encoded.
type positionRecord struct {
	Address            string   `json:"address"`
	Asset              string   `json:"asset"`
	ScaledSupply       *big.Int `json:"scaledSupply"`
	ScaledVariableDebt *big.Int `json:"scaledVariableDebt"`
	StableDebt         *big.Int `json:"stableDebt"`
	StableRate         *big.Int `json:"stableRate"`
	LastStableAccrual  uint64   `json:"lastStableAccrual"`
	UsingAsCollateral  bool     `json:"usingAsCollateral"`
}

func (s *LendingStore) getJSON(key string, out interface{}) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *LendingStore) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

func (s *LendingStore) GetReserve(asset string) (*lending.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reserve := new(lending.Reserve)
	found, err := s.getJSON(reserveKeyPrefix+asset, reserve)
	if err != nil || !found {
		return nil, err
	}
	return reserve, nil
}

func (s *LendingStore) PutReserve(asset string, reserve *lending.Reserve) error {
	if reserve == nil {
		return fmt.Errorf("storage: nil reserve for %s", asset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendToIndex(reserveListKey, asset); err != nil {
		return err
	}
	return s.putJSON(reserveKeyPrefix+asset, reserve)
}

func (s *LendingStore) ListReserves() ([]*lending.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var assets []string
	if _, err := s.getJSON(reserveListKey, &assets); err != nil {
		return nil, err
	}
	out := make([]*lending.Reserve, 0, len(assets))
	for _, asset := range assets {
		reserve := new(lending.Reserve)
		found, err := s.getJSON(reserveKeyPrefix+asset, reserve)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, reserve)
		}
	}
	return out, nil
}

func positionStoreKey(asset string, addr crypto.Address) string {
	return positionKeyPrefix + addr.String() + "/" + asset
}

func (s *LendingStore) GetPosition(asset string, addr crypto.Address) (*lending.UserPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadPosition(asset, addr)
}

func (s *LendingStore) loadPosition(asset string, addr crypto.Address) (*lending.UserPosition, error) {
	record := new(positionRecord)
	found, err := s.getJSON(positionStoreKey(asset, addr), record)
	if err != nil || !found {
		return nil, err
	}
	return &lending.UserPosition{
		Address:            addr,
		Asset:              record.Asset,
		ScaledSupply:       record.ScaledSupply,
		ScaledVariableDebt: record.ScaledVariableDebt,
		StableDebt:         record.StableDebt,
		StableRate:         record.StableRate,
		LastStableAccrual:  record.LastStableAccrual,
		UsingAsCollateral:  record.UsingAsCollateral,
	}, nil
}

func (s *LendingStore) PutPosition(position *lending.UserPosition) error {
	if position == nil {
		return fmt.Errorf("storage: nil position")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := &positionRecord{
		Address:            position.Address.String(),
		Asset:              position.Asset,
		ScaledSupply:       position.ScaledSupply,
		ScaledVariableDebt: position.ScaledVariableDebt,
		StableDebt:         position.StableDebt,
		StableRate:         position.StableRate,
		LastStableAccrual:  position.LastStableAccrual,
		UsingAsCollateral:  position.UsingAsCollateral,
	}
	if err := s.appendToIndex(positionIdxPrefix+record.Address, position.Asset); err != nil {
		return err
	}
	return s.putJSON(positionStoreKey(position.Asset, position.Address), record)
}

func (s *LendingStore) PositionsOf(addr crypto.Address) ([]*lending.UserPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var assets []string
	if _, err := s.getJSON(positionIdxPrefix+addr.String(), &assets); err != nil {
		return nil, err
	}
	out := make([]*lending.UserPosition, 0, len(assets))
	for _, asset := range assets {
		position, err := s.loadPosition(asset, addr)
		if err != nil {
			return nil, err
		}
		if position != nil {
			out = append(out, position)
		}
	}
	return out, nil
}

func (s *LendingStore) GetAccount(addr crypto.Address) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account := new(types.Account)
	found, err := s.getJSON(accountKeyPrefix+addr.String(), account)
	if err != nil || !found {
		return nil, err
	}
	return account, nil
}

func (s *LendingStore) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("storage: nil account for %s", addr.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(accountKeyPrefix+addr.String(), account)
}

// appendToIndex adds the entry to the sorted string list stored under key,
// if not already present.
func (s *LendingStore) appendToIndex(key, entry string) error {
	var entries []string
	if _, err := s.getJSON(key, &entries); err != nil {
		return err
	}
	for _, existing := range entries {
		if existing == entry {
			return nil
		}
	}
	entries = append(entries, entry)
	sort.Strings(entries)
	return s.putJSON(key, entries)
}
