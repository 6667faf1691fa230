package state

import "fmt"

// RiskParams gate position health. All ratios are in basis points.
// Invariant: LiquidationThresholdBps <= MaintenanceMarginBps <=
// InitialMarginBps.
type RiskParams struct {
	InitialMarginBps        int64
	MaintenanceMarginBps    int64
	LiquidationThresholdBps int64
	MaxLeverage             int64 // leverage scale: 5_000 = 50x
	LiquidationPenaltyBps   int64 // liquidator bonus on seized collateral
	ProtocolFeeBps          int64 // charged on opened notional
}

func DefaultRiskParams() RiskParams {
	return RiskParams{
		InitialMarginBps:        1_000, // 10%
		MaintenanceMarginBps:    500,   // 5%
		LiquidationThresholdBps: 400,   // 4%
		MaxLeverage:             5_000, // 50x
		LiquidationPenaltyBps:   500,   // 5%
		ProtocolFeeBps:          10,    // 0.1%
	}
}

// Validate enforces the ordering invariant and positive bounds.
func (rp RiskParams) Validate() error {
	if rp.MaxLeverage <= 0 {
		return fmt.Errorf("%w: max leverage must be positive", ErrInvalidInput)
	}
	if rp.LiquidationThresholdBps <= 0 {
		return fmt.Errorf("%w: liquidation threshold must be positive", ErrInvalidInput)
	}
	if rp.LiquidationThresholdBps > rp.MaintenanceMarginBps {
		return fmt.Errorf("%w: liquidation threshold above maintenance margin", ErrInvalidInput)
	}
	if rp.MaintenanceMarginBps > rp.InitialMarginBps {
		return fmt.Errorf("%w: maintenance margin above initial margin", ErrInvalidInput)
	}
	if rp.LiquidationPenaltyBps < 0 || rp.LiquidationPenaltyBps >= BpsDenom {
		return fmt.Errorf("%w: liquidation penalty out of range", ErrInvalidInput)
	}
	if rp.ProtocolFeeBps < 0 || rp.ProtocolFeeBps >= BpsDenom {
		return fmt.Errorf("%w: protocol fee out of range", ErrInvalidInput)
	}
	return nil
}

// FundingParams shape the periodic funding-rate computation per asset.
type FundingParams struct {
	IntervalBlocks      int64 // minimum blocks between rate updates
	PremiumThresholdBps int64 // |premium| below this clamps the base term to zero
	SensitivityX100     int64 // rate multiplier, scale 100 (1_000 = 10x)
	MaxRateBps          int64 // clamp on |rate|
	SkewCoeffBps        int64 // weight of full one-sided skew, in bps of rate
}

func DefaultFundingParams() FundingParams {
	return FundingParams{
		IntervalBlocks:      144, // ~1 day at 10-minute blocks
		PremiumThresholdBps: 100, // 1%
		SensitivityX100:     1_000,
		MaxRateBps:          100, // 1% per interval
		SkewCoeffBps:        100,
	}
}

func (fp FundingParams) Validate() error {
	if fp.IntervalBlocks <= 0 {
		return fmt.Errorf("%w: funding interval must be positive", ErrInvalidInput)
	}
	if fp.MaxRateBps <= 0 {
		return fmt.Errorf("%w: max funding rate must be positive", ErrInvalidInput)
	}
	if fp.SensitivityX100 <= 0 {
		return fmt.Errorf("%w: sensitivity must be positive", ErrInvalidInput)
	}
	if fp.PremiumThresholdBps < 0 {
		return fmt.Errorf("%w: premium threshold must be non-negative", ErrInvalidInput)
	}
	if fp.SkewCoeffBps < 0 {
		return fmt.Errorf("%w: skew coefficient must be non-negative", ErrInvalidInput)
	}
	return nil
}
