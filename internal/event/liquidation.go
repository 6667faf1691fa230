package event

import "github.com/google/uuid"

// PositionLiquidated is emitted after a full or emergency liquidation.
type PositionLiquidated struct {
	PositionID int64     `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Liquidator uuid.UUID `json:"liquidator"`
	Asset      string    `json:"asset"`
	MarkPrice  int64     `json:"mark_price"`
	RatioBps   int64     `json:"ratio_bps"` // collateral ratio at liquidation
	Seized     int64     `json:"seized"`
	Bonus      int64     `json:"bonus"` // liquidator's share of the seizure
	Emergency  bool      `json:"emergency,omitempty"`
	BadDebt    int64     `json:"bad_debt,omitempty"` // equity shortfall absorbed by insurance
}

func (e *PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }
func (e *PositionLiquidated) AssetID() string      { return e.Asset }

// PositionReduced is emitted after a partial liquidation.
type PositionReduced struct {
	PositionID   int64     `json:"position_id"`
	Owner        uuid.UUID `json:"owner"`
	Liquidator   uuid.UUID `json:"liquidator"`
	Asset        string    `json:"asset"`
	MarkPrice    int64     `json:"mark_price"`
	SizeDelta    int64     `json:"size_delta"`
	RealizedLoss int64     `json:"realized_loss"`
	Penalty      int64     `json:"penalty"`
	RatioAfter   int64     `json:"ratio_after"`
}

func (e *PositionReduced) EventType() EventType { return EventTypePositionReduced }
func (e *PositionReduced) AssetID() string      { return e.Asset }
