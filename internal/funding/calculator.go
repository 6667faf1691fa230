// Package funding computes periodic funding rates per asset and settles
// them against positions. Rates derive from the mark/index premium plus
// an open-interest skew term, scaled by sensitivity and clamped.
package funding

import (
	"fmt"
	"math/big"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/state"
)

// historySize bounds the per-asset rate ring used by the analytics
// queries.
const historySize = 256

// State is the funding snapshot for one asset.
type State struct {
	Asset            string
	RateBps          int64 // signed: positive = longs pay shorts
	Epoch            int64
	LastUpdateHeight int64
	MarkPrice        int64
	IndexPrice       int64
	PremiumBps       int64
	SkewBps          int64
}

// Sample is one historical rate observation.
type Sample struct {
	RateBps int64
	Epoch   int64
	Height  int64
}

// Calculator owns funding state for all assets. It holds no lock: the
// engine serializes all calls.
type Calculator struct {
	states  map[string]*State
	history map[string][]Sample
}

func NewCalculator() *Calculator {
	return &Calculator{
		states:  make(map[string]*State),
		history: make(map[string][]Sample),
	}
}

// StateFor returns the current snapshot for an asset. The zero snapshot
// is returned before the first update.
func (c *Calculator) StateFor(asset string) State {
	if st, ok := c.states[asset]; ok {
		return *st
	}
	return State{Asset: asset}
}

// UpdateRate recomputes the funding rate for an asset and advances its
// epoch. Calls earlier than IntervalBlocks after the previous update
// fail with state.ErrInvalidInput; the first update for an asset is
// always accepted.
//
// The rate is (premium + skew) * sensitivity, where the premium term is
// zero while |mark - index| stays inside the premium threshold, and the
// skew term weighs long/short open-interest imbalance. The result is
// clamped to ±MaxRateBps.
func (c *Calculator) UpdateRate(asset string, markPrice, indexPrice int64, oi state.OpenInterest, params state.FundingParams, height int64) (State, error) {
	if markPrice <= 0 || indexPrice <= 0 {
		return State{}, fmt.Errorf("%w: prices must be positive", state.ErrInvalidInput)
	}

	st, ok := c.states[asset]
	if !ok {
		st = &State{Asset: asset}
		c.states[asset] = st
	} else if height-st.LastUpdateHeight < params.IntervalBlocks {
		return *st, fmt.Errorf("%w: funding interval not elapsed (height %d, last %d)",
			state.ErrInvalidInput, height, st.LastUpdateHeight)
	}

	premiumBps := fixedpoint.MulDiv(markPrice-indexPrice, state.BpsDenom, indexPrice, fixedpoint.RoundHalfEven)

	base := premiumBps
	if abs64(premiumBps) < params.PremiumThresholdBps {
		base = 0
	}

	var skewTerm int64
	if total := oi.Long + oi.Short; total > 0 {
		skewBps := fixedpoint.MulDiv(oi.Long-oi.Short, state.BpsDenom, total, fixedpoint.RoundHalfEven)
		skewTerm = fixedpoint.MulDiv(skewBps, params.SkewCoeffBps, state.BpsDenom, fixedpoint.RoundHalfEven)
		st.SkewBps = skewBps
	} else {
		st.SkewBps = 0
	}

	rate := fixedpoint.MulDiv(base+skewTerm, params.SensitivityX100, 100, fixedpoint.RoundHalfEven)
	if rate > params.MaxRateBps {
		rate = params.MaxRateBps
	} else if rate < -params.MaxRateBps {
		rate = -params.MaxRateBps
	}

	st.RateBps = rate
	st.Epoch++
	st.LastUpdateHeight = height
	st.MarkPrice = markPrice
	st.IndexPrice = indexPrice
	st.PremiumBps = premiumBps

	c.record(asset, Sample{RateBps: rate, Epoch: st.Epoch, Height: height})
	return *st, nil
}

// ApplyToPosition settles the current epoch's funding against a
// position, mutating Collateral and FundingAccrued. A position already
// settled for the epoch is left untouched. Returns the signed collateral
// delta (negative = position paid).
//
// Positive rates flow from longs to shorts; the payment is proportional
// to notional size and capped at remaining collateral.
func (c *Calculator) ApplyToPosition(p *state.Position, st State) int64 {
	if st.Epoch == 0 || p.LastFundingEpoch >= st.Epoch {
		return 0
	}

	delta := -p.Side.Sign() * fixedpoint.MulDiv(p.Size, st.RateBps, state.BpsDenom, fixedpoint.RoundHalfEven)
	if delta < -p.Collateral {
		delta = -p.Collateral
	}

	p.Collateral += delta
	p.FundingAccrued += delta
	p.LastFundingEpoch = st.Epoch
	return delta
}

// History returns up to n most recent samples, newest last.
func (c *Calculator) History(asset string, n int) []Sample {
	h := c.history[asset]
	if n <= 0 || n > len(h) {
		n = len(h)
	}
	out := make([]Sample, n)
	copy(out, h[len(h)-n:])
	return out
}

// TimeWeightedRate is the mean of the last n recorded rates, in bps.
// Zero when no history exists.
func (c *Calculator) TimeWeightedRate(asset string, n int) int64 {
	h := c.History(asset, n)
	if len(h) == 0 {
		return 0
	}
	var sum int64
	for _, s := range h {
		sum += s.RateBps
	}
	return fixedpoint.MulDiv(sum, 1, int64(len(h)), fixedpoint.RoundHalfEven)
}

// Volatility is the standard deviation of the last n rates, in bps.
func (c *Calculator) Volatility(asset string, n int) (int64, error) {
	h := c.History(asset, n)
	if len(h) < 2 {
		return 0, nil
	}

	mean := c.TimeWeightedRate(asset, n)
	var sq int64
	for _, s := range h {
		d := s.RateBps - mean
		sq += d * d
	}
	variance := sq / int64(len(h))

	root, err := fixedpoint.Sqrt(new(big.Int).Mul(big.NewInt(variance), fixedpoint.Unit))
	if err != nil {
		return 0, err
	}
	return root.Div(root, fixedpoint.Unit).Int64(), nil
}

// ewmaDecay is e^(-1/8) at 1e18 scale: an eight-sample decay constant
// for the rate forecast.
var ewmaDecay = func() *big.Int {
	x := new(big.Int).Div(fixedpoint.Unit, big.NewInt(8))
	d, err := fixedpoint.Exp(x.Neg(x))
	if err != nil {
		panic(err)
	}
	return d
}()

// PredictNextRate forecasts the next funding rate as an exponentially
// weighted average of recent history, most recent sample weighted
// highest. Falls back to the current rate with a single sample.
func (c *Calculator) PredictNextRate(asset string, n int) int64 {
	h := c.History(asset, n)
	if len(h) == 0 {
		return 0
	}

	weight := new(big.Int).Set(fixedpoint.Unit)
	num := new(big.Int)
	den := new(big.Int)
	for i := len(h) - 1; i >= 0; i-- {
		num.Add(num, new(big.Int).Mul(big.NewInt(h[i].RateBps), weight))
		den.Add(den, weight)
		weight = fixedpoint.Mul(weight, ewmaDecay)
	}
	return new(big.Int).Quo(num, den).Int64()
}

func (c *Calculator) record(asset string, s Sample) {
	h := append(c.history[asset], s)
	if len(h) > historySize {
		h = h[len(h)-historySize:]
	}
	c.history[asset] = h
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
