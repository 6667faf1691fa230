// Package custody defines the fungible-asset interface the engine
// debits and credits. The real token ledger lives outside this system;
// Vault is the boundary, and InMemoryVault backs tests and local runs.
package custody

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"PerpEngine/internal/state"
)

// Well-known system accounts inside the vault.
var (
	FeeAccount       = uuid.MustParse("00000000-0000-0000-0000-00000000fee5")
	InsuranceAccount = uuid.MustParse("00000000-0000-0000-0000-0000000005af")
)

// Vault is the custody boundary: balances in quote units.
type Vault interface {
	// Debit removes amount from the owner's balance, failing with
	// state.ErrInsufficientBalance when the balance cannot cover it.
	Debit(owner uuid.UUID, amount int64) error
	// Credit adds amount to the owner's balance.
	Credit(owner uuid.UUID, amount int64) error
	// BalanceOf returns the owner's current balance.
	BalanceOf(owner uuid.UUID) int64
}

// InMemoryVault is a concurrency-safe Vault for tests and single-node
// deployments.
type InMemoryVault struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
}

func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{balances: make(map[uuid.UUID]int64)}
}

// Mint seeds a balance. Test/genesis helper, not part of Vault.
func (v *InMemoryVault) Mint(owner uuid.UUID, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[owner] += amount
}

func (v *InMemoryVault) Debit(owner uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative debit", state.ErrInvalidInput)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[owner] < amount {
		return fmt.Errorf("%w: balance %d < %d", state.ErrInsufficientBalance, v.balances[owner], amount)
	}
	v.balances[owner] -= amount
	return nil
}

func (v *InMemoryVault) Credit(owner uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative credit", state.ErrInvalidInput)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[owner] += amount
	return nil
}

func (v *InMemoryVault) BalanceOf(owner uuid.UUID) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[owner]
}
