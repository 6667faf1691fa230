package state

import (
	"PerpEngine/internal/fixedpoint"

	"github.com/google/uuid"
)

// Fixed-point scales used throughout the engine.
const (
	PriceScale    = 1_000_000 // 6 decimals: 1_000_000 = $1.00
	LeverageScale = 100       // 2_000 = 20.00x
	BpsDenom      = 10_000    // ratios and rates in basis points
)

// Side is the direction of a position.
type Side int8

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Position is a single leveraged position. Collateral, prices and PnL are
// scaled integers; funding settlements mutate Collateral directly and are
// mirrored in FundingAccrued (signed: positive = received, negative = paid).
//
// Size is the notional exposure in quote units, fixed at open as
// collateral * leverage. Later collateral adjustments and funding do not
// change it; only partial liquidation reduces it.
type Position struct {
	ID         int64
	Owner      uuid.UUID
	Asset      string
	Collateral int64
	Leverage   int64
	Size       int64
	Side       Side
	EntryPrice int64

	// Optional price triggers; 0 means unset.
	StopLoss   int64
	TakeProfit int64

	FundingAccrued   int64
	LastFundingEpoch int64

	Active   bool
	OpenedAt int64 // block height
	ClosedAt int64 // block height, 0 while active
	Version  int64
}

// NotionalSize computes the quote-unit exposure for a given collateral
// and leverage. Used at open to fix Position.Size.
func NotionalSize(collateral, leverage int64) int64 {
	return fixedpoint.MulDiv(collateral, leverage, LeverageScale, fixedpoint.RoundHalfEven)
}

// NotionalAt returns the exposure marked to the given price.
func (p *Position) NotionalAt(price int64) int64 {
	return fixedpoint.MulDiv(p.Size, price, p.EntryPrice, fixedpoint.RoundHalfEven)
}

// UnrealizedPnL returns the signed profit at the given mark price:
// sign * (mark - entry) * size / entry.
func (p *Position) UnrealizedPnL(markPrice int64) int64 {
	diff := (markPrice - p.EntryPrice) * p.Side.Sign()
	return fixedpoint.MulDiv(diff, p.Size, p.EntryPrice, fixedpoint.RoundHalfEven)
}

// ValidateTriggers checks stop-loss/take-profit ordering against the entry
// price for the position's direction. Zero values are unset and skipped.
func ValidateTriggers(side Side, entryPrice, stopLoss, takeProfit int64) error {
	if stopLoss < 0 || takeProfit < 0 {
		return ErrInvalidStopLoss
	}
	if side == SideLong {
		if stopLoss != 0 && stopLoss >= entryPrice {
			return ErrInvalidStopLoss
		}
		if takeProfit != 0 && takeProfit <= entryPrice {
			return ErrInvalidStopLoss
		}
	} else {
		if stopLoss != 0 && stopLoss <= entryPrice {
			return ErrInvalidStopLoss
		}
		if takeProfit != 0 && takeProfit >= entryPrice {
			return ErrInvalidStopLoss
		}
	}
	return nil
}
