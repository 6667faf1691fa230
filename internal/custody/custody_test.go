package custody_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpEngine/internal/custody"
	"PerpEngine/internal/state"
)

func TestInMemoryVault_MintAndBalance(t *testing.T) {
	v := custody.NewInMemoryVault()
	owner := uuid.New()

	v.Mint(owner, 5_000)
	if got := v.BalanceOf(owner); got != 5_000 {
		t.Errorf("balance = %d, want 5_000", got)
	}
}

func TestInMemoryVault_DebitInsufficient(t *testing.T) {
	v := custody.NewInMemoryVault()
	owner := uuid.New()
	v.Mint(owner, 100)

	err := v.Debit(owner, 101)
	if !errors.Is(err, state.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := v.BalanceOf(owner); got != 100 {
		t.Errorf("balance changed on failed debit: %d", got)
	}
}

func TestInMemoryVault_DebitCreditRoundTrip(t *testing.T) {
	v := custody.NewInMemoryVault()
	a, b := uuid.New(), uuid.New()
	v.Mint(a, 1_000)

	if err := v.Debit(a, 400); err != nil {
		t.Fatal(err)
	}
	if err := v.Credit(b, 400); err != nil {
		t.Fatal(err)
	}

	if got := v.BalanceOf(a); got != 600 {
		t.Errorf("a = %d, want 600", got)
	}
	if got := v.BalanceOf(b); got != 400 {
		t.Errorf("b = %d, want 400", got)
	}
}

func TestInMemoryVault_RejectsNegativeAmounts(t *testing.T) {
	v := custody.NewInMemoryVault()
	owner := uuid.New()

	if err := v.Debit(owner, -1); !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("debit err = %v, want ErrInvalidInput", err)
	}
	if err := v.Credit(owner, -1); !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("credit err = %v, want ErrInvalidInput", err)
	}
}
