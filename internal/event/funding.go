package event

// FundingRateUpdated is emitted once per funding epoch per asset.
type FundingRateUpdated struct {
	Asset      string `json:"asset"`
	RateBps    int64  `json:"rate_bps"` // signed: positive = longs pay shorts
	Epoch      int64  `json:"epoch"`    // monotonic per asset
	MarkPrice  int64  `json:"mark_price"`
	IndexPrice int64  `json:"index_price"`
	PremiumBps int64  `json:"premium_bps"`
	SkewBps    int64  `json:"skew_bps"`
}

func (e *FundingRateUpdated) EventType() EventType { return EventTypeFundingRateUpdated }
func (e *FundingRateUpdated) AssetID() string      { return e.Asset }

// FundingSettled is emitted after an epoch's payments are applied across
// an asset's positions.
type FundingSettled struct {
	Asset     string `json:"asset"`
	Epoch     int64  `json:"epoch"`
	Positions int64  `json:"positions"` // positions settled this pass
	NetFlow   int64  `json:"net_flow"`  // sum of collateral deltas (rounding drift)
}

func (e *FundingSettled) EventType() EventType { return EventTypeFundingSettled }
func (e *FundingSettled) AssetID() string      { return e.Asset }
