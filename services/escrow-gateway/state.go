package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/x402kamiyo/x402resolve/core/types"
	"github.com/x402kamiyo/x402resolve/native/escrow"
)

var (
	errVaultNotFound     = errors.New("state: holding account not found")
	errVaultUnderfunded  = errors.New("state: holding account balance too low")
	errInvalidCapability = errors.New("state: transfer capability rejected")
)

// MemoryState is the in-process state backend for the gateway. It implements
// the escrow engine's state view plus the key/value contract the reputation
// and rate limit ledgers persist through. Callers serialize access externally;
// the gateway holds its node mutex across every engine operation.
type MemoryState struct {
	escrows  map[[32]byte]*escrow.Escrow
	accounts map[[20]byte]*types.Account
	vaults   map[[32]byte]uint64
	kv       map[string][]byte
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		escrows:  make(map[[32]byte]*escrow.Escrow),
		accounts: make(map[[20]byte]*types.Account),
		vaults:   make(map[[32]byte]uint64),
		kv:       make(map[string][]byte),
	}
}

func (m *MemoryState) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.escrows[sanitized.ID] = sanitized
	return nil
}

func (m *MemoryState) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	e, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (m *MemoryState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *MemoryState) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	m.accounts[addr] = account.Clone()
	return nil
}

// Mint credits an account directly, bypassing the escrow flow. Used by the
// dev faucet and by tests to seed balances.
func (m *MemoryState) Mint(addr [20]byte, amount uint64) error {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = &types.Account{}
	}
	if acc.Balance > math.MaxUint64-amount {
		return escrow.ErrArithmeticOverflow
	}
	acc.Balance += amount
	m.accounts[addr] = acc
	return nil
}

func (m *MemoryState) VaultCredit(id [32]byte, amount uint64) error {
	balance := m.vaults[id]
	if balance > math.MaxUint64-amount {
		return escrow.ErrArithmeticOverflow
	}
	m.vaults[id] = balance + amount
	return nil
}

// VaultDebit releases funds from the holding account. The caller must present
// the capability derived from the escrow's transaction id and bump; anything
// else is rejected before the balance is touched.
func (m *MemoryState) VaultDebit(id [32]byte, capability escrow.Capability, amount uint64) error {
	esc, ok := m.escrows[id]
	if !ok {
		return errVaultNotFound
	}
	expected, err := escrow.AuthorizeTransfer(esc.TransactionID, esc.Bump)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected[:], capability[:]) != 1 {
		return errInvalidCapability
	}
	balance, ok := m.vaults[id]
	if !ok {
		return errVaultNotFound
	}
	if balance < amount {
		return errVaultUnderfunded
	}
	m.vaults[id] = balance - amount
	return nil
}

func (m *MemoryState) VaultBalance(id [32]byte) (uint64, error) {
	balance, ok := m.vaults[id]
	if !ok {
		return 0, errVaultNotFound
	}
	return balance, nil
}

// KVGet loads the JSON-encoded record stored under key into out. The boolean
// reports whether the key was present.
func (m *MemoryState) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut stores value under key as JSON.
func (m *MemoryState) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.kv[string(key)] = raw
	return nil
}
