// Package risk assesses position health against margin parameters and
// gates the engine behind a circuit breaker. All ratios are in basis
// points of marked notional.
package risk

import (
	"fmt"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/state"
)

// Assessment is a position health snapshot at one mark price.
type Assessment struct {
	MarkPrice          int64
	UnrealizedPnL      int64
	Equity             int64 // collateral + unrealized PnL
	NotionalAtMark     int64
	CollateralRatioBps int64
	BelowMaintenance   bool
	Liquidatable       bool
	StopLossHit        bool
	TakeProfitHit      bool
}

// CollateralRatioBps returns (collateral + uPnL) / marked notional in
// basis points. A deeply underwater position yields a negative ratio.
func CollateralRatioBps(p *state.Position, markPrice int64) int64 {
	notional := p.NotionalAt(markPrice)
	if notional <= 0 {
		return 0
	}
	equity := p.Collateral + p.UnrealizedPnL(markPrice)
	return fixedpoint.MulDiv(equity, state.BpsDenom, notional, fixedpoint.RoundHalfEven)
}

// Assess evaluates a position at the given mark price.
func Assess(p *state.Position, markPrice int64, params state.RiskParams) Assessment {
	pnl := p.UnrealizedPnL(markPrice)
	ratio := CollateralRatioBps(p, markPrice)

	a := Assessment{
		MarkPrice:          markPrice,
		UnrealizedPnL:      pnl,
		Equity:             p.Collateral + pnl,
		NotionalAtMark:     p.NotionalAt(markPrice),
		CollateralRatioBps: ratio,
		BelowMaintenance:   ratio < params.MaintenanceMarginBps,
		Liquidatable:       ratio < params.LiquidationThresholdBps,
	}

	if p.Side == state.SideLong {
		a.StopLossHit = p.StopLoss != 0 && markPrice <= p.StopLoss
		a.TakeProfitHit = p.TakeProfit != 0 && markPrice >= p.TakeProfit
	} else {
		a.StopLossHit = p.StopLoss != 0 && markPrice >= p.StopLoss
		a.TakeProfitHit = p.TakeProfit != 0 && markPrice <= p.TakeProfit
	}
	return a
}

// EnsureLiquidatable fails with state.ErrPositionHealthy unless the
// position's ratio is strictly below the liquidation threshold.
func EnsureLiquidatable(p *state.Position, markPrice int64, params state.RiskParams) error {
	if ratio := CollateralRatioBps(p, markPrice); ratio >= params.LiquidationThresholdBps {
		return fmt.Errorf("%w: ratio %d bps >= threshold %d bps",
			state.ErrPositionHealthy, ratio, params.LiquidationThresholdBps)
	}
	return nil
}

// MeetsInitialMargin checks a prospective or adjusted position against
// the initial margin requirement.
func MeetsInitialMargin(collateral, size int64, params state.RiskParams) bool {
	if size <= 0 {
		return collateral >= 0
	}
	ratio := fixedpoint.MulDiv(collateral, state.BpsDenom, size, fixedpoint.RoundHalfEven)
	return ratio >= params.InitialMarginBps
}

// Reduction is a computed partial-liquidation plan: close SizeDelta of
// the position, deduct RealizedLoss and Penalty from collateral.
type Reduction struct {
	SizeDelta    int64
	RealizedLoss int64 // loss on the closed slice, absorbed by insurance
	Penalty      int64 // liquidation penalty on the closed collateral share
	RatioAfter   int64
}

// PlanReduction computes a partial liquidation closing fractionBps of
// the position. The plan must leave the remainder at or above the
// maintenance margin; a fraction too small to restore health fails with
// state.ErrInvalidInput so callers escalate to full liquidation.
func PlanReduction(p *state.Position, markPrice, fractionBps int64, params state.RiskParams) (Reduction, error) {
	if fractionBps <= 0 || fractionBps >= state.BpsDenom {
		return Reduction{}, fmt.Errorf("%w: fraction must be in (0, %d)", state.ErrInvalidInput, state.BpsDenom)
	}
	if err := EnsureLiquidatable(p, markPrice, params); err != nil {
		return Reduction{}, err
	}

	r := Reduction{
		SizeDelta: fixedpoint.MulDiv(p.Size, fractionBps, state.BpsDenom, fixedpoint.RoundDown),
	}
	if r.SizeDelta <= 0 {
		return Reduction{}, fmt.Errorf("%w: fraction closes zero size", state.ErrInvalidInput)
	}

	if pnl := p.UnrealizedPnL(markPrice); pnl < 0 {
		r.RealizedLoss = fixedpoint.MulDiv(-pnl, fractionBps, state.BpsDenom, fixedpoint.RoundUp)
	}
	closedCollateral := fixedpoint.MulDiv(p.Collateral, fractionBps, state.BpsDenom, fixedpoint.RoundDown)
	r.Penalty = fixedpoint.MulDiv(closedCollateral, params.LiquidationPenaltyBps, state.BpsDenom, fixedpoint.RoundDown)

	if r.RealizedLoss+r.Penalty > p.Collateral {
		return Reduction{}, fmt.Errorf("%w: slice loss exceeds collateral", state.ErrInsufficientCollateral)
	}

	remainder := *p
	remainder.Size -= r.SizeDelta
	remainder.Collateral -= r.RealizedLoss + r.Penalty
	r.RatioAfter = CollateralRatioBps(&remainder, markPrice)
	if r.RatioAfter < params.MaintenanceMarginBps {
		return Reduction{}, fmt.Errorf("%w: fraction %d bps leaves ratio %d bps below maintenance",
			state.ErrInvalidInput, fractionBps, r.RatioAfter)
	}
	return r, nil
}
