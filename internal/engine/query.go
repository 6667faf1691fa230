package engine

import (
	"github.com/google/uuid"

	"PerpEngine/internal/funding"
	"PerpEngine/internal/risk"
	"PerpEngine/internal/state"
)

// GetPosition returns a copy of an active position.
func (e *Engine) GetPosition(id int64) (state.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.store.Get(id)
	if err != nil {
		return state.Position{}, err
	}
	return *p, nil
}

// UserPositions returns copies of all of an owner's positions, active
// and closed, ordered by id.
func (e *Engine) UserPositions(owner uuid.UUID) []state.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	ptrs := e.store.UserPositions(owner)
	out := make([]state.Position, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// TotalPositions returns the count of positions ever opened.
func (e *Engine) TotalPositions() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.TotalPositions()
}

// OpenInterestFor returns the long/short aggregate for an asset.
func (e *Engine) OpenInterestFor(asset string) state.OpenInterest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.OpenInterest(asset)
}

// CalculatePnL returns the unrealized PnL of an active position at the
// current oracle price.
func (e *Engine) CalculatePnL(id int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.store.Get(id)
	if err != nil {
		return 0, err
	}
	mark, err := e.oracle.Price(p.Asset)
	if err != nil {
		return 0, err
	}
	return p.UnrealizedPnL(mark), nil
}

// Stats returns protocol counters with live TVL.
func (e *Engine) Stats() state.ProtocolStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.store.Stats()
	st.TotalValueLocked = e.collateral.TotalLocked()
	return st
}

// CheckPositionRisk assesses an active position at the current oracle
// price.
func (e *Engine) CheckPositionRisk(id int64) (risk.Assessment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.store.Get(id)
	if err != nil {
		return risk.Assessment{}, err
	}
	mark, err := e.oracle.Price(p.Asset)
	if err != nil {
		return risk.Assessment{}, err
	}
	return risk.Assess(p, mark, e.riskParams), nil
}

// BreakerStatus returns the circuit breaker snapshot.
func (e *Engine) BreakerStatus() risk.BreakerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaker.Status()
}

// Paused reports whether the system is under emergency pause.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// RiskParameters returns the active risk parameter set.
func (e *Engine) RiskParameters() state.RiskParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.riskParams
}

// FundingParameters returns the active funding parameter set.
func (e *Engine) FundingParameters() state.FundingParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fundingParams
}

// FundingState returns the current funding snapshot for an asset.
func (e *Engine) FundingState(asset string) funding.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calc.StateFor(asset)
}

// FundingHistory returns up to n recent funding samples, newest last.
func (e *Engine) FundingHistory(asset string, n int) []funding.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calc.History(asset, n)
}

// TimeWeightedFundingRate averages the last n funding rates.
func (e *Engine) TimeWeightedFundingRate(asset string, n int) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calc.TimeWeightedRate(asset, n)
}

// FundingVolatility is the standard deviation of recent rates in bps.
func (e *Engine) FundingVolatility(asset string, n int) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calc.Volatility(asset, n)
}

// PredictedFundingRate forecasts the next rate from recent history.
func (e *Engine) PredictedFundingRate(asset string, n int) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calc.PredictNextRate(asset, n)
}
