// Package collateral performs custody accounting for position margin:
// locking collateral out of the vault at open, releasing it at close,
// and splitting seized collateral between liquidator bonus and the
// insurance account on liquidation.
package collateral

import (
	"fmt"

	"github.com/google/uuid"

	"PerpEngine/internal/custody"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/state"
)

// Manager wraps a Vault with locked-collateral bookkeeping. It holds no
// lock of its own: the engine serializes all mutations.
type Manager struct {
	vault       custody.Vault
	locked      map[uuid.UUID]int64
	totalLocked int64
}

func NewManager(vault custody.Vault) *Manager {
	return &Manager{
		vault:  vault,
		locked: make(map[uuid.UUID]int64),
	}
}

// Lock debits the owner's vault balance into engine custody.
func (m *Manager) Lock(owner uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: collateral must be positive", state.ErrInvalidInput)
	}
	if err := m.vault.Debit(owner, amount); err != nil {
		return err
	}
	m.locked[owner] += amount
	m.totalLocked += amount
	return nil
}

// Release returns locked collateral to the owner's vault balance.
// Amounts beyond the tracked lock indicate an engine bug and fail.
func (m *Manager) Release(owner uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative release", state.ErrInvalidInput)
	}
	if amount == 0 {
		return nil
	}
	if m.locked[owner] < amount {
		return fmt.Errorf("%w: locked %d < release %d", state.ErrInsufficientCollateral, m.locked[owner], amount)
	}
	if err := m.vault.Credit(owner, amount); err != nil {
		return err
	}
	m.locked[owner] -= amount
	m.totalLocked -= amount
	return nil
}

// Burn removes locked collateral without crediting the owner (funding
// paid out of a position, or losses absorbed at close). The amount is
// credited to the insurance account so vault totals stay whole.
func (m *Manager) Burn(owner uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative burn", state.ErrInvalidInput)
	}
	if amount == 0 {
		return nil
	}
	if m.locked[owner] < amount {
		return fmt.Errorf("%w: locked %d < burn %d", state.ErrInsufficientCollateral, m.locked[owner], amount)
	}
	if err := m.vault.Credit(custody.InsuranceAccount, amount); err != nil {
		return err
	}
	m.locked[owner] -= amount
	m.totalLocked -= amount
	return nil
}

// AdjustLocked shifts an owner's locked collateral without a matching
// vault movement: funding settlement redistributes locked collateral
// between payers and receivers. Callers reconcile the pass's net flow
// through SettleDrift.
func (m *Manager) AdjustLocked(owner uuid.UUID, delta int64) error {
	if delta < 0 && m.locked[owner] < -delta {
		return fmt.Errorf("%w: locked %d < adjustment %d", state.ErrInsufficientCollateral, m.locked[owner], -delta)
	}
	m.locked[owner] += delta
	m.totalLocked += delta
	return nil
}

// SettleDrift reconciles the net flow of a funding pass against the
// insurance account. A negative net (payments exceeded receipts, the
// usual case with rounding and collateral caps) credits insurance; a
// positive net draws it down.
func (m *Manager) SettleDrift(netFlow int64) error {
	if netFlow < 0 {
		return m.vault.Credit(custody.InsuranceAccount, -netFlow)
	}
	if netFlow > 0 {
		return m.vault.Debit(custody.InsuranceAccount, netFlow)
	}
	return nil
}

// Award moves locked collateral to a beneficiary's vault balance
// (liquidator incentives).
func (m *Manager) Award(owner, beneficiary uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative award", state.ErrInvalidInput)
	}
	if amount == 0 {
		return nil
	}
	return m.transferLocked(owner, beneficiary, amount)
}

func (m *Manager) transferLocked(owner, beneficiary uuid.UUID, amount int64) error {
	if m.locked[owner] < amount {
		return fmt.Errorf("%w: locked %d < transfer %d", state.ErrInsufficientCollateral, m.locked[owner], amount)
	}
	if err := m.vault.Credit(beneficiary, amount); err != nil {
		return err
	}
	m.locked[owner] -= amount
	m.totalLocked -= amount
	return nil
}

// CollectFee moves a fee from the owner's locked collateral to the fee
// account.
func (m *Manager) CollectFee(owner uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative fee", state.ErrInvalidInput)
	}
	if amount == 0 {
		return nil
	}
	return m.transferLocked(owner, custody.FeeAccount, amount)
}

// Seize takes seized collateral from a liquidated owner: the liquidator
// receives a penalty bonus share, the remainder goes to the insurance
// account. Returns the bonus paid.
func (m *Manager) Seize(owner, liquidator uuid.UUID, amount, penaltyBps int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative seizure", state.ErrInvalidInput)
	}
	if amount == 0 {
		return 0, nil
	}
	if m.locked[owner] < amount {
		return 0, fmt.Errorf("%w: locked %d < seize %d", state.ErrInsufficientCollateral, m.locked[owner], amount)
	}

	bonus := fixedpoint.MulDiv(amount, penaltyBps, state.BpsDenom, fixedpoint.RoundDown)
	if bonus > amount {
		bonus = amount
	}
	if err := m.transferLocked(owner, liquidator, bonus); err != nil {
		return 0, err
	}
	if err := m.transferLocked(owner, custody.InsuranceAccount, amount-bonus); err != nil {
		return 0, err
	}
	return bonus, nil
}

// Locked returns the owner's collateral currently held by the engine.
func (m *Manager) Locked(owner uuid.UUID) int64 {
	return m.locked[owner]
}

// TotalLocked is the engine-wide locked collateral (TVL).
func (m *Manager) TotalLocked() int64 {
	return m.totalLocked
}
