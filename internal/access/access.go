// Package access implements the role gate checked by every mutating
// entry point. Authorization is a single capability check up front,
// never a branch deep in business logic.
package access

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"PerpEngine/internal/state"
)

// Role is a named capability.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleOperator   Role = "OPERATOR"
	RoleLiquidator Role = "LIQUIDATOR"
)

// Controller tracks role grants. The deploying admin holds ADMIN from
// construction and cannot lose it through Revoke.
type Controller struct {
	mu    sync.RWMutex
	owner uuid.UUID
	roles map[uuid.UUID]map[Role]struct{}
}

func NewController(owner uuid.UUID) *Controller {
	c := &Controller{
		owner: owner,
		roles: make(map[uuid.UUID]map[Role]struct{}),
	}
	c.roles[owner] = map[Role]struct{}{RoleAdmin: {}}
	return c
}

// Grant assigns a role. Caller must hold ADMIN.
func (c *Controller) Grant(caller uuid.UUID, role Role, principal uuid.UUID) error {
	if err := c.Authorize(caller, RoleAdmin); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.roles[principal]
	if held == nil {
		held = make(map[Role]struct{})
		c.roles[principal] = held
	}
	held[role] = struct{}{}
	return nil
}

// Revoke removes a role. Caller must hold ADMIN. The owner's ADMIN
// grant is permanent.
func (c *Controller) Revoke(caller uuid.UUID, role Role, principal uuid.UUID) error {
	if err := c.Authorize(caller, RoleAdmin); err != nil {
		return err
	}
	if principal == c.owner && role == RoleAdmin {
		return fmt.Errorf("%w: cannot revoke owner admin role", state.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roles[principal], role)
	return nil
}

// HasRole reports whether the principal holds the role. ADMIN implies
// every other role.
func (c *Controller) HasRole(principal uuid.UUID, role Role) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	held := c.roles[principal]
	if held == nil {
		return false
	}
	if _, ok := held[RoleAdmin]; ok {
		return true
	}
	_, ok := held[role]
	return ok
}

// Authorize returns ErrUnauthorized unless the caller holds the role.
func (c *Controller) Authorize(caller uuid.UUID, role Role) error {
	if !c.HasRole(caller, role) {
		return fmt.Errorf("%w: %s requires role %s", state.ErrUnauthorized, caller, role)
	}
	return nil
}
