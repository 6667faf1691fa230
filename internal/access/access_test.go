package access_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpEngine/internal/access"
	"PerpEngine/internal/state"
)

func TestController_OwnerIsAdmin(t *testing.T) {
	owner := uuid.New()
	c := access.NewController(owner)

	if !c.HasRole(owner, access.RoleAdmin) {
		t.Error("owner should hold ADMIN")
	}
	// ADMIN implies the other roles
	if !c.HasRole(owner, access.RoleOperator) {
		t.Error("ADMIN should imply OPERATOR")
	}
}

func TestController_GrantRevoke(t *testing.T) {
	owner := uuid.New()
	op := uuid.New()
	c := access.NewController(owner)

	if err := c.Grant(owner, access.RoleOperator, op); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !c.HasRole(op, access.RoleOperator) {
		t.Error("operator role not granted")
	}
	if c.HasRole(op, access.RoleLiquidator) {
		t.Error("operator should not hold LIQUIDATOR")
	}

	if err := c.Revoke(owner, access.RoleOperator, op); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if c.HasRole(op, access.RoleOperator) {
		t.Error("operator role not revoked")
	}
}

func TestController_NonAdminCannotGrant(t *testing.T) {
	c := access.NewController(uuid.New())
	stranger := uuid.New()

	err := c.Grant(stranger, access.RoleOperator, uuid.New())
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestController_OwnerAdminIsPermanent(t *testing.T) {
	owner := uuid.New()
	c := access.NewController(owner)

	err := c.Revoke(owner, access.RoleAdmin, owner)
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if !c.HasRole(owner, access.RoleAdmin) {
		t.Error("owner lost ADMIN")
	}
}

func TestAuthorize_ReturnsTypedError(t *testing.T) {
	c := access.NewController(uuid.New())
	err := c.Authorize(uuid.New(), access.RoleLiquidator)
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
