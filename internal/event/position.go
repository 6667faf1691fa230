package event

import "github.com/google/uuid"

// PositionOpened is emitted after a position enters the book.
type PositionOpened struct {
	PositionID int64     `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Asset      string    `json:"asset"`
	Side       string    `json:"side"`
	Collateral int64     `json:"collateral"`
	Leverage   int64     `json:"leverage"`
	Size       int64     `json:"size"`
	EntryPrice int64     `json:"entry_price"`
	Fee        int64     `json:"fee"`
}

func (e *PositionOpened) EventType() EventType { return EventTypePositionOpened }
func (e *PositionOpened) AssetID() string      { return e.Asset }

// PositionClosed is emitted after a voluntary close settles.
type PositionClosed struct {
	PositionID  int64     `json:"position_id"`
	Owner       uuid.UUID `json:"owner"`
	Asset       string    `json:"asset"`
	ExitPrice   int64     `json:"exit_price"`
	RealizedPnL int64     `json:"realized_pnl"`
	Payout      int64     `json:"payout"`
	Trigger     string    `json:"trigger,omitempty"` // "stop_loss" or "take_profit" when auto-closed
}

func (e *PositionClosed) EventType() EventType { return EventTypePositionClosed }
func (e *PositionClosed) AssetID() string      { return e.Asset }

// CollateralAdded is emitted after margin top-up.
type CollateralAdded struct {
	PositionID int64     `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Asset      string    `json:"asset"`
	Amount     int64     `json:"amount"`
	Collateral int64     `json:"collateral"` // new total
}

func (e *CollateralAdded) EventType() EventType { return EventTypeCollateralAdded }
func (e *CollateralAdded) AssetID() string      { return e.Asset }

// CollateralRemoved is emitted after a margin withdrawal.
type CollateralRemoved struct {
	PositionID int64     `json:"position_id"`
	Owner      uuid.UUID `json:"owner"`
	Asset      string    `json:"asset"`
	Amount     int64     `json:"amount"`
	Collateral int64     `json:"collateral"` // new total
}

func (e *CollateralRemoved) EventType() EventType { return EventTypeCollateralRemoved }
func (e *CollateralRemoved) AssetID() string      { return e.Asset }
