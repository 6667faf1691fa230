package collateral_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpEngine/internal/collateral"
	"PerpEngine/internal/custody"
	"PerpEngine/internal/state"
)

func newFunded(t *testing.T, amount int64) (*collateral.Manager, *custody.InMemoryVault, uuid.UUID) {
	t.Helper()
	v := custody.NewInMemoryVault()
	owner := uuid.New()
	v.Mint(owner, amount)
	return collateral.NewManager(v), v, owner
}

func TestManager_LockMovesFundsIntoCustody(t *testing.T) {
	m, v, owner := newFunded(t, 1_000)

	if err := m.Lock(owner, 600); err != nil {
		t.Fatal(err)
	}
	if got := v.BalanceOf(owner); got != 400 {
		t.Errorf("vault balance = %d, want 400", got)
	}
	if got := m.Locked(owner); got != 600 {
		t.Errorf("locked = %d, want 600", got)
	}
	if got := m.TotalLocked(); got != 600 {
		t.Errorf("total locked = %d, want 600", got)
	}
}

func TestManager_LockInsufficientBalance(t *testing.T) {
	m, _, owner := newFunded(t, 100)

	err := m.Lock(owner, 200)
	if !errors.Is(err, state.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := m.TotalLocked(); got != 0 {
		t.Errorf("total locked = %d after failed lock", got)
	}
}

func TestManager_ReleaseRoundTrip(t *testing.T) {
	m, v, owner := newFunded(t, 1_000)

	if err := m.Lock(owner, 600); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(owner, 600); err != nil {
		t.Fatal(err)
	}

	if got := v.BalanceOf(owner); got != 1_000 {
		t.Errorf("vault balance = %d, want 1_000 after round trip", got)
	}
	if got := m.TotalLocked(); got != 0 {
		t.Errorf("total locked = %d, want 0", got)
	}
}

func TestManager_ReleaseBeyondLockedFails(t *testing.T) {
	m, _, owner := newFunded(t, 1_000)
	if err := m.Lock(owner, 100); err != nil {
		t.Fatal(err)
	}

	err := m.Release(owner, 101)
	if !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Errorf("err = %v, want ErrInsufficientCollateral", err)
	}
}

func TestManager_SeizeSplitsPenalty(t *testing.T) {
	m, v, owner := newFunded(t, 10_000)
	liquidator := uuid.New()

	if err := m.Lock(owner, 10_000); err != nil {
		t.Fatal(err)
	}

	// 5% penalty on 10_000 seized: 500 to the liquidator, 9_500 insurance.
	bonus, err := m.Seize(owner, liquidator, 10_000, 500)
	if err != nil {
		t.Fatal(err)
	}
	if bonus != 500 {
		t.Errorf("bonus = %d, want 500", bonus)
	}
	if got := v.BalanceOf(liquidator); got != 500 {
		t.Errorf("liquidator balance = %d, want 500", got)
	}
	if got := v.BalanceOf(custody.InsuranceAccount); got != 9_500 {
		t.Errorf("insurance balance = %d, want 9_500", got)
	}
	if got := m.Locked(owner); got != 0 {
		t.Errorf("locked = %d, want 0 after seizure", got)
	}
}

func TestManager_CollectFeeGoesToFeeAccount(t *testing.T) {
	m, v, owner := newFunded(t, 1_000)
	if err := m.Lock(owner, 1_000); err != nil {
		t.Fatal(err)
	}

	if err := m.CollectFee(owner, 10); err != nil {
		t.Fatal(err)
	}
	if got := v.BalanceOf(custody.FeeAccount); got != 10 {
		t.Errorf("fee account = %d, want 10", got)
	}
	if got := m.Locked(owner); got != 990 {
		t.Errorf("locked = %d, want 990", got)
	}
}

func TestManager_BurnCreditsInsurance(t *testing.T) {
	m, v, owner := newFunded(t, 1_000)
	if err := m.Lock(owner, 1_000); err != nil {
		t.Fatal(err)
	}

	if err := m.Burn(owner, 250); err != nil {
		t.Fatal(err)
	}
	if got := v.BalanceOf(custody.InsuranceAccount); got != 250 {
		t.Errorf("insurance = %d, want 250", got)
	}
	if got := m.Locked(owner); got != 750 {
		t.Errorf("locked = %d, want 750", got)
	}
}
