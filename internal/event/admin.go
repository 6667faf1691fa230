package event

import "github.com/google/uuid"

// BreakerTripped is emitted when the circuit breaker opens, whether by
// threshold or operator action.
type BreakerTripped struct {
	Manual   bool  `json:"manual,omitempty"`
	Failures int64 `json:"failures"`
}

func (e *BreakerTripped) EventType() EventType { return EventTypeBreakerTripped }
func (e *BreakerTripped) AssetID() string      { return "" }

// BreakerReset is emitted when an operator closes the breaker.
type BreakerReset struct{}

func (e *BreakerReset) EventType() EventType { return EventTypeBreakerReset }
func (e *BreakerReset) AssetID() string      { return "" }

// SystemPaused halts all mutating operations until resumed.
type SystemPaused struct {
	By uuid.UUID `json:"by"`
}

func (e *SystemPaused) EventType() EventType { return EventTypeSystemPaused }
func (e *SystemPaused) AssetID() string      { return "" }

// SystemResumed lifts an emergency pause.
type SystemResumed struct {
	By uuid.UUID `json:"by"`
}

func (e *SystemResumed) EventType() EventType { return EventTypeSystemResumed }
func (e *SystemResumed) AssetID() string      { return "" }

// RiskParamsUpdated records a governance parameter change.
type RiskParamsUpdated struct {
	By                      uuid.UUID `json:"by"`
	InitialMarginBps        int64     `json:"initial_margin_bps"`
	MaintenanceMarginBps    int64     `json:"maintenance_margin_bps"`
	LiquidationThresholdBps int64     `json:"liquidation_threshold_bps"`
	MaxLeverage             int64     `json:"max_leverage"`
	LiquidationPenaltyBps   int64     `json:"liquidation_penalty_bps"`
	ProtocolFeeBps          int64     `json:"protocol_fee_bps"`
}

func (e *RiskParamsUpdated) EventType() EventType { return EventTypeRiskParamsUpdated }
func (e *RiskParamsUpdated) AssetID() string      { return "" }

// FundingParamsUpdated records a funding configuration change.
type FundingParamsUpdated struct {
	By                  uuid.UUID `json:"by"`
	IntervalBlocks      int64     `json:"interval_blocks"`
	PremiumThresholdBps int64     `json:"premium_threshold_bps"`
	SensitivityX100     int64     `json:"sensitivity_x100"`
	MaxRateBps          int64     `json:"max_rate_bps"`
	SkewCoeffBps        int64     `json:"skew_coeff_bps"`
}

func (e *FundingParamsUpdated) EventType() EventType { return EventTypeFundingParamsUpdated }
func (e *FundingParamsUpdated) AssetID() string      { return "" }

// RoleGranted records an access-control grant.
type RoleGranted struct {
	By      uuid.UUID `json:"by"`
	Role    string    `json:"role"`
	Grantee uuid.UUID `json:"grantee"`
}

func (e *RoleGranted) EventType() EventType { return EventTypeRoleGranted }
func (e *RoleGranted) AssetID() string      { return "" }

// RoleRevoked records an access-control revocation.
type RoleRevoked struct {
	By      uuid.UUID `json:"by"`
	Role    string    `json:"role"`
	Revokee uuid.UUID `json:"revokee"`
}

func (e *RoleRevoked) EventType() EventType { return EventTypeRoleRevoked }
func (e *RoleRevoked) AssetID() string      { return "" }
