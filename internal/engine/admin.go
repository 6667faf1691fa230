package engine

import (
	"fmt"

	"github.com/google/uuid"

	"PerpEngine/internal/access"
	"PerpEngine/internal/event"
	"PerpEngine/internal/state"
)

// EmergencyPause halts every mutating operation except admin actions.
// Admin role required.
func (e *Engine) EmergencyPause(actor uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Authorize(actor, access.RoleAdmin); err != nil {
		return err
	}
	if e.paused {
		return fmt.Errorf("%w: already paused", state.ErrInvalidInput)
	}
	e.paused = true
	e.emit(&event.SystemPaused{By: actor})
	e.log.Warn().Str("by", actor.String()).Msg("system paused")
	return nil
}

// EmergencyResume lifts an emergency pause. Admin role required.
func (e *Engine) EmergencyResume(actor uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Authorize(actor, access.RoleAdmin); err != nil {
		return err
	}
	if !e.paused {
		return fmt.Errorf("%w: not paused", state.ErrInvalidInput)
	}
	e.paused = false
	e.emit(&event.SystemResumed{By: actor})
	e.log.Warn().Str("by", actor.String()).Msg("system resumed")
	return nil
}

// SetRiskParameters replaces the risk parameter set. Admin role
// required; the new set must satisfy the margin ordering invariant.
func (e *Engine) SetRiskParameters(actor uuid.UUID, params state.RiskParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Authorize(actor, access.RoleAdmin); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	e.riskParams = params
	e.emit(&event.RiskParamsUpdated{
		By:                      actor,
		InitialMarginBps:        params.InitialMarginBps,
		MaintenanceMarginBps:    params.MaintenanceMarginBps,
		LiquidationThresholdBps: params.LiquidationThresholdBps,
		MaxLeverage:             params.MaxLeverage,
		LiquidationPenaltyBps:   params.LiquidationPenaltyBps,
		ProtocolFeeBps:          params.ProtocolFeeBps,
	})
	e.log.Info().Msg("risk parameters updated")
	return nil
}

// SetFundingParameters replaces the funding parameter set. Admin role
// required. Takes effect from the next rate update.
func (e *Engine) SetFundingParameters(actor uuid.UUID, params state.FundingParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Authorize(actor, access.RoleAdmin); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	e.fundingParams = params
	e.emit(&event.FundingParamsUpdated{
		By:                  actor,
		IntervalBlocks:      params.IntervalBlocks,
		PremiumThresholdBps: params.PremiumThresholdBps,
		SensitivityX100:     params.SensitivityX100,
		MaxRateBps:          params.MaxRateBps,
		SkewCoeffBps:        params.SkewCoeffBps,
	})
	e.log.Info().Msg("funding parameters updated")
	return nil
}

// SetProtocolFeeRate changes only the open fee. Admin role required.
func (e *Engine) SetProtocolFeeRate(actor uuid.UUID, feeBps int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Authorize(actor, access.RoleAdmin); err != nil {
		return err
	}
	if feeBps < 0 || feeBps >= state.BpsDenom {
		return fmt.Errorf("%w: fee %d bps out of range", state.ErrInvalidInput, feeBps)
	}
	params := e.riskParams
	params.ProtocolFeeBps = feeBps
	e.riskParams = params
	e.emit(&event.RiskParamsUpdated{
		By:                      actor,
		InitialMarginBps:        params.InitialMarginBps,
		MaintenanceMarginBps:    params.MaintenanceMarginBps,
		LiquidationThresholdBps: params.LiquidationThresholdBps,
		MaxLeverage:             params.MaxLeverage,
		LiquidationPenaltyBps:   params.LiquidationPenaltyBps,
		ProtocolFeeBps:          params.ProtocolFeeBps,
	})
	return nil
}

// TripCircuitBreaker opens the breaker by operator action.
func (e *Engine) TripCircuitBreaker(actor uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Authorize(actor, access.RoleOperator); err != nil {
		return err
	}
	e.breaker.Trip(e.height)
	e.emit(&event.BreakerTripped{Manual: true, Failures: e.breaker.Status().FailureCount})
	if e.metrics != nil {
		e.metrics.BreakerState.Set(float64(e.breaker.Status().State))
	}
	e.log.Warn().Msg("circuit breaker tripped")
	return nil
}

// ResetCircuitBreaker closes the breaker and clears its counters. Admin
// role required.
func (e *Engine) ResetCircuitBreaker(actor uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Authorize(actor, access.RoleAdmin); err != nil {
		return err
	}
	e.breaker.Reset(e.height)
	e.emit(&event.BreakerReset{})
	if e.metrics != nil {
		e.metrics.BreakerState.Set(float64(e.breaker.Status().State))
	}
	e.log.Info().Msg("circuit breaker reset")
	return nil
}

// GrantRole assigns a role to a principal. Admin role required.
func (e *Engine) GrantRole(actor uuid.UUID, role access.Role, grantee uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Grant(actor, role, grantee); err != nil {
		return err
	}
	e.emit(&event.RoleGranted{By: actor, Role: string(role), Grantee: grantee})
	return nil
}

// RevokeRole removes a role from a principal. Admin role required.
func (e *Engine) RevokeRole(actor uuid.UUID, role access.Role, revokee uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.Revoke(actor, role, revokee); err != nil {
		return err
	}
	e.emit(&event.RoleRevoked{By: actor, Role: string(role), Revokee: revokee})
	return nil
}

// HasRole reports role membership without taking the engine lock; the
// controller has its own.
func (e *Engine) HasRole(principal uuid.UUID, role access.Role) bool {
	return e.roles.HasRole(principal, role)
}
