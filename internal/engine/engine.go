// Package engine is the serialized mutation core: every state change to
// positions, funding, parameters, or the breaker passes through one
// mutex so each operation observes and produces consistent state.
//
// Block height is a versioned input supplied through AdvanceBlock; the
// engine never reads wall-clock time for domain logic.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpEngine/internal/access"
	"PerpEngine/internal/collateral"
	"PerpEngine/internal/custody"
	"PerpEngine/internal/event"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/funding"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/risk"
	"PerpEngine/internal/state"
)

// Config carries the initial parameter set.
type Config struct {
	Risk    state.RiskParams
	Funding state.FundingParams
	Breaker risk.BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		Risk:    state.DefaultRiskParams(),
		Funding: state.DefaultFundingParams(),
		Breaker: risk.DefaultBreakerConfig(),
	}
}

// Engine owns all mutable trading state. Construct with New; all
// methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	height int64
	paused bool
	seq    int64

	store      *state.Store
	collateral *collateral.Manager
	vault      custody.Vault
	calc       *funding.Calculator
	breaker    *risk.Breaker
	roles      *access.Controller
	oracle     oracle.PriceOracle

	riskParams    state.RiskParams
	fundingParams state.FundingParams

	log     zerolog.Logger
	metrics *observability.Metrics

	// Persistence: blocking send, no event is lost. Publishing:
	// non-blocking send, subscribers catch up from the event log.
	persistCh chan<- event.Envelope
	publishCh chan<- event.Envelope
}

// Option configures optional engine wiring.
type Option func(*Engine)

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithPersistChannel(ch chan<- event.Envelope) Option {
	return func(e *Engine) { e.persistCh = ch }
}

func WithPublishChannel(ch chan<- event.Envelope) Option {
	return func(e *Engine) { e.publishCh = ch }
}

func New(owner uuid.UUID, vault custody.Vault, priceOracle oracle.PriceOracle, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Funding.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:         state.NewStore(),
		collateral:    collateral.NewManager(vault),
		vault:         vault,
		calc:          funding.NewCalculator(),
		breaker:       risk.NewBreaker(cfg.Breaker),
		roles:         access.NewController(owner),
		oracle:        priceOracle,
		riskParams:    cfg.Risk,
		fundingParams: cfg.Funding,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AdvanceBlock moves the engine to a new block height. Heights are
// strictly increasing.
func (e *Engine) AdvanceBlock(height int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if height <= e.height {
		return fmt.Errorf("%w: height %d not beyond %d", state.ErrInvalidInput, height, e.height)
	}
	e.height = height
	return nil
}

// Height returns the current block height.
func (e *Engine) Height() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

// OpenParams are the inputs to OpenPosition.
type OpenParams struct {
	Owner      uuid.UUID
	Asset      string
	Collateral int64
	Leverage   int64 // scale 100: 2_000 = 20x
	Side       state.Side
	StopLoss   int64 // 0 = unset
	TakeProfit int64 // 0 = unset
}

// OpenPosition validates, debits collateral, charges the protocol fee,
// and enters the position at the current oracle price. No state is
// touched until every check has passed.
func (e *Engine) OpenPosition(p OpenParams) (state.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("open_position", time.Now())

	if e.paused {
		e.reject(p.Asset, "paused")
		return state.Position{}, state.ErrSystemPaused
	}
	if !e.breaker.Allow(e.height) {
		e.reject(p.Asset, "breaker")
		return state.Position{}, state.ErrCircuitBreakerActive
	}
	if p.Asset == "" || p.Collateral <= 0 {
		e.reject(p.Asset, "invalid_input")
		return state.Position{}, fmt.Errorf("%w: asset and positive collateral required", state.ErrInvalidInput)
	}
	if p.Leverage < state.LeverageScale || p.Leverage > e.riskParams.MaxLeverage {
		e.reject(p.Asset, "leverage")
		return state.Position{}, fmt.Errorf("%w: %d outside [%d, %d]",
			state.ErrInvalidLeverage, p.Leverage, int64(state.LeverageScale), e.riskParams.MaxLeverage)
	}

	entry, err := e.markPrice(p.Asset)
	if err != nil {
		e.reject(p.Asset, "oracle")
		return state.Position{}, err
	}
	if err := state.ValidateTriggers(p.Side, entry, p.StopLoss, p.TakeProfit); err != nil {
		e.reject(p.Asset, "triggers")
		return state.Position{}, err
	}

	size := state.NotionalSize(p.Collateral, p.Leverage)
	fee := fixedpoint.MulDiv(size, e.riskParams.ProtocolFeeBps, state.BpsDenom, fixedpoint.RoundUp)
	if fee >= p.Collateral {
		e.reject(p.Asset, "collateral")
		return state.Position{}, fmt.Errorf("%w: fee %d consumes collateral %d", state.ErrInsufficientCollateral, fee, p.Collateral)
	}

	if err := e.collateral.Lock(p.Owner, p.Collateral); err != nil {
		e.reject(p.Asset, "balance")
		return state.Position{}, err
	}
	if err := e.collateral.CollectFee(p.Owner, fee); err != nil {
		return state.Position{}, err
	}

	pos := &state.Position{
		Owner:            p.Owner,
		Asset:            p.Asset,
		Collateral:       p.Collateral - fee,
		Leverage:         p.Leverage,
		Size:             size,
		Side:             p.Side,
		EntryPrice:       entry,
		StopLoss:         p.StopLoss,
		TakeProfit:       p.TakeProfit,
		LastFundingEpoch: e.calc.StateFor(p.Asset).Epoch,
		Active:           true,
		OpenedAt:         e.height,
		Version:          1,
	}
	e.store.Insert(pos)
	e.store.AddFees(fee)

	e.emit(&event.PositionOpened{
		PositionID: pos.ID,
		Owner:      pos.Owner,
		Asset:      pos.Asset,
		Side:       pos.Side.String(),
		Collateral: pos.Collateral,
		Leverage:   pos.Leverage,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		Fee:        fee,
	})
	if e.metrics != nil {
		e.metrics.PositionsOpened.WithLabelValues(pos.Asset, pos.Side.String()).Inc()
		e.observeOpenInterest(pos.Asset)
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	e.log.Info().
		Int64("position_id", pos.ID).
		Str("asset", pos.Asset).
		Str("side", pos.Side.String()).
		Int64("size", pos.Size).
		Int64("entry_price", pos.EntryPrice).
		Msg("position opened")

	return *pos, nil
}

// ClosePosition settles a position at the current oracle price and
// returns the owner's payout. maxSlippageBps (0 = unguarded) rejects the
// close when the mark has diverged from the index beyond the bound.
// Closes are allowed while the breaker is open: they only reduce risk.
func (e *Engine) ClosePosition(actor uuid.UUID, id int64, maxSlippageBps int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("close_position", time.Now())

	if e.paused {
		return 0, state.ErrSystemPaused
	}
	p, err := e.store.Get(id)
	if err != nil {
		return 0, err
	}
	if p.Owner != actor {
		return 0, fmt.Errorf("%w: not position owner", state.ErrUnauthorized)
	}

	mark, err := e.markPrice(p.Asset)
	if err != nil {
		return 0, err
	}
	if maxSlippageBps > 0 {
		index, err := oracle.IndexPrice(e.oracle, p.Asset)
		if err != nil {
			return 0, err
		}
		divergence := fixedpoint.MulDiv(abs64(mark-index), state.BpsDenom, index, fixedpoint.RoundUp)
		if divergence > maxSlippageBps {
			return 0, fmt.Errorf("%w: mark/index divergence %d bps exceeds %d",
				state.ErrInvalidInput, divergence, maxSlippageBps)
		}
	}

	payout, pnl, err := e.settleClose(p, mark, "")
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.PositionsClosed.WithLabelValues(p.Asset, p.Side.String()).Inc()
		e.observeOpenInterest(p.Asset)
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	e.log.Info().
		Int64("position_id", p.ID).
		Int64("exit_price", mark).
		Int64("realized_pnl", pnl).
		Int64("payout", payout).
		Msg("position closed")
	return payout, nil
}

// settleClose realizes PnL at mark, releases collateral, and
// deactivates. Losses are capped at collateral and absorbed by the
// insurance account; profits are credited on top of the release.
func (e *Engine) settleClose(p *state.Position, mark int64, trigger string) (int64, int64, error) {
	pnl := p.UnrealizedPnL(mark)

	var payout int64
	if pnl < 0 {
		loss := -pnl
		if loss > p.Collateral {
			loss = p.Collateral
		}
		if err := e.collateral.Burn(p.Owner, loss); err != nil {
			return 0, 0, err
		}
		payout = p.Collateral - loss
		if err := e.collateral.Release(p.Owner, payout); err != nil {
			return 0, 0, err
		}
	} else {
		payout = p.Collateral + pnl
		if err := e.collateral.Release(p.Owner, p.Collateral); err != nil {
			return 0, 0, err
		}
		if pnl > 0 {
			if err := e.vault.Credit(p.Owner, pnl); err != nil {
				return 0, 0, err
			}
		}
	}

	e.store.Deactivate(p, e.height, false)
	e.emit(&event.PositionClosed{
		PositionID:  p.ID,
		Owner:       p.Owner,
		Asset:       p.Asset,
		ExitPrice:   mark,
		RealizedPnL: pnl,
		Payout:      payout,
		Trigger:     trigger,
	})
	return payout, pnl, nil
}

// AddCollateral tops up a position's margin. Allowed while the breaker
// is open: margin top-ups reduce risk.
func (e *Engine) AddCollateral(actor uuid.UUID, id, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("add_collateral", time.Now())

	if e.paused {
		return state.ErrSystemPaused
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", state.ErrInvalidInput)
	}
	p, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if p.Owner != actor {
		return fmt.Errorf("%w: not position owner", state.ErrUnauthorized)
	}
	if err := e.collateral.Lock(actor, amount); err != nil {
		return err
	}

	p.Collateral += amount
	p.Version++
	e.emit(&event.CollateralAdded{
		PositionID: p.ID,
		Owner:      p.Owner,
		Asset:      p.Asset,
		Amount:     amount,
		Collateral: p.Collateral,
	})
	if e.metrics != nil {
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	return nil
}

// RemoveCollateral withdraws margin. The remainder must keep the
// position at or above the maintenance collateral ratio at the current
// mark.
func (e *Engine) RemoveCollateral(actor uuid.UUID, id, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("remove_collateral", time.Now())

	if e.paused {
		return state.ErrSystemPaused
	}
	if !e.breaker.Allow(e.height) {
		return state.ErrCircuitBreakerActive
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", state.ErrInvalidInput)
	}
	p, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if p.Owner != actor {
		return fmt.Errorf("%w: not position owner", state.ErrUnauthorized)
	}
	if amount >= p.Collateral {
		return fmt.Errorf("%w: withdrawal %d >= collateral %d", state.ErrInsufficientCollateral, amount, p.Collateral)
	}

	mark, err := e.markPrice(p.Asset)
	if err != nil {
		return err
	}
	remainder := *p
	remainder.Collateral -= amount
	if ratio := risk.CollateralRatioBps(&remainder, mark); ratio < e.riskParams.MaintenanceMarginBps {
		return fmt.Errorf("%w: ratio %d bps would fall below maintenance margin %d",
			state.ErrInsufficientCollateral, ratio, e.riskParams.MaintenanceMarginBps)
	}

	if err := e.collateral.Release(actor, amount); err != nil {
		return err
	}
	p.Collateral -= amount
	p.Version++
	e.emit(&event.CollateralRemoved{
		PositionID: p.ID,
		Owner:      p.Owner,
		Asset:      p.Asset,
		Amount:     amount,
		Collateral: p.Collateral,
	})
	if e.metrics != nil {
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	return nil
}

// UpdateFundingRate computes the asset's next funding epoch from oracle
// prices and open interest. Operator role required; the per-asset
// interval gate lives in the calculator.
func (e *Engine) UpdateFundingRate(actor uuid.UUID, asset string) (funding.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("update_funding_rate", time.Now())

	if err := e.roles.Authorize(actor, access.RoleOperator); err != nil {
		return funding.State{}, err
	}
	if e.paused {
		return funding.State{}, state.ErrSystemPaused
	}

	mark, err := e.markPrice(asset)
	if err != nil {
		return funding.State{}, err
	}
	index, err := oracle.IndexPrice(e.oracle, asset)
	if err != nil {
		e.recordOracleFailure(asset)
		return funding.State{}, err
	}

	st, err := e.calc.UpdateRate(asset, mark, index, e.store.OpenInterest(asset), e.fundingParams, e.height)
	if err != nil {
		return funding.State{}, err
	}

	e.emit(&event.FundingRateUpdated{
		Asset:      asset,
		RateBps:    st.RateBps,
		Epoch:      st.Epoch,
		MarkPrice:  st.MarkPrice,
		IndexPrice: st.IndexPrice,
		PremiumBps: st.PremiumBps,
		SkewBps:    st.SkewBps,
	})
	if e.metrics != nil {
		e.metrics.FundingRateUpdates.WithLabelValues(asset).Inc()
		e.metrics.FundingRateBps.WithLabelValues(asset).Set(float64(st.RateBps))
	}
	e.log.Info().
		Str("asset", asset).
		Int64("rate_bps", st.RateBps).
		Int64("epoch", st.Epoch).
		Msg("funding rate updated")
	return st, nil
}

// ApplyFunding settles the current funding epoch across all active
// positions for the asset. Anyone may call it; settlement is idempotent
// per epoch, so a second pass touches nothing.
func (e *Engine) ApplyFunding(asset string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("apply_funding", time.Now())

	if e.paused {
		return 0, state.ErrSystemPaused
	}
	st := e.calc.StateFor(asset)
	if st.Epoch == 0 {
		return 0, fmt.Errorf("%w: no funding epoch for %s", state.ErrInvalidInput, asset)
	}

	var settled, netFlow int64
	for _, p := range e.store.ActiveByAsset(asset) {
		if p.LastFundingEpoch >= st.Epoch {
			continue
		}
		delta := e.calc.ApplyToPosition(p, st)
		if delta != 0 {
			if err := e.collateral.AdjustLocked(p.Owner, delta); err != nil {
				return settled, err
			}
			netFlow += delta
		}
		p.Version++
		settled++
	}
	if err := e.collateral.SettleDrift(netFlow); err != nil {
		// Insurance could not back the net receipts. Locked totals are
		// still internally consistent; surface for operators.
		e.log.Error().Err(err).Str("asset", asset).Int64("net_flow", netFlow).
			Msg("funding drift settlement failed")
	}

	e.emit(&event.FundingSettled{
		Asset:     asset,
		Epoch:     st.Epoch,
		Positions: settled,
		NetFlow:   netFlow,
	})
	if e.metrics != nil {
		e.metrics.FundingSettlements.WithLabelValues(asset).Add(float64(settled))
		e.metrics.FundingNetFlow.WithLabelValues(asset).Set(float64(netFlow))
	}
	e.log.Info().
		Str("asset", asset).
		Int64("epoch", st.Epoch).
		Int64("positions", settled).
		Int64("net_flow", netFlow).
		Msg("funding applied")
	return settled, nil
}

// ApplyFundingToPosition settles the current funding epoch against one
// position. Anyone may call it, so a counterparty can pull settlement
// for a position whose owner is waiting out a favorable rate. Returns
// the signed collateral delta; zero when already settled for the epoch.
func (e *Engine) ApplyFundingToPosition(id int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("apply_funding_to_position", time.Now())

	if e.paused {
		return 0, state.ErrSystemPaused
	}
	p, err := e.store.Get(id)
	if err != nil {
		return 0, err
	}
	st := e.calc.StateFor(p.Asset)
	if st.Epoch == 0 {
		return 0, fmt.Errorf("%w: no funding epoch for %s", state.ErrInvalidInput, p.Asset)
	}
	if p.LastFundingEpoch >= st.Epoch {
		return 0, nil
	}

	delta := e.calc.ApplyToPosition(p, st)
	if delta != 0 {
		if err := e.collateral.AdjustLocked(p.Owner, delta); err != nil {
			return 0, err
		}
		if err := e.collateral.SettleDrift(delta); err != nil {
			e.log.Error().Err(err).Int64("position_id", id).Int64("delta", delta).
				Msg("funding drift settlement failed")
		}
	}
	p.Version++

	e.emit(&event.FundingSettled{
		Asset:     p.Asset,
		Epoch:     st.Epoch,
		Positions: 1,
		NetFlow:   delta,
	})
	if e.metrics != nil {
		e.metrics.FundingSettlements.WithLabelValues(p.Asset).Inc()
	}
	return delta, nil
}

// LiquidatePosition seizes an unhealthy position's collateral, paying
// the liquidator the penalty bonus and the remainder to insurance.
// Liquidator role required. Blocked while the breaker is open; only
// EmergencyLiquidate stays available then.
func (e *Engine) LiquidatePosition(actor uuid.UUID, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("liquidate_position", time.Now())

	if err := e.roles.Authorize(actor, access.RoleLiquidator); err != nil {
		return err
	}
	if e.paused {
		return state.ErrSystemPaused
	}
	if !e.breaker.Allow(e.height) {
		return state.ErrCircuitBreakerActive
	}
	p, err := e.store.Get(id)
	if err != nil {
		return err
	}
	mark, err := e.markPrice(p.Asset)
	if err != nil {
		return err
	}
	if err := risk.EnsureLiquidatable(p, mark, e.riskParams); err != nil {
		return err
	}

	ratio := risk.CollateralRatioBps(p, mark)
	pnl := p.UnrealizedPnL(mark)
	var badDebt int64
	if deficit := p.Collateral + pnl; deficit < 0 {
		badDebt = -deficit
	}

	seized := p.Collateral
	bonus, err := e.collateral.Seize(p.Owner, actor, seized, e.riskParams.LiquidationPenaltyBps)
	if err != nil {
		return err
	}
	p.Collateral = 0
	e.store.Deactivate(p, e.height, true)

	e.emit(&event.PositionLiquidated{
		PositionID: p.ID,
		Owner:      p.Owner,
		Liquidator: actor,
		Asset:      p.Asset,
		MarkPrice:  mark,
		RatioBps:   ratio,
		Seized:     seized,
		Bonus:      bonus,
		BadDebt:    badDebt,
	})
	if e.metrics != nil {
		e.metrics.Liquidations.WithLabelValues(p.Asset, "full").Inc()
		e.metrics.LiquidationSeized.WithLabelValues(p.Asset).Add(float64(seized))
		e.observeOpenInterest(p.Asset)
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	e.log.Warn().
		Int64("position_id", p.ID).
		Int64("mark_price", mark).
		Int64("ratio_bps", ratio).
		Int64("seized", seized).
		Int64("bad_debt", badDebt).
		Msg("position liquidated")
	return nil
}

// PartialLiquidation closes fractionBps of an unhealthy position,
// leaving the remainder at or above maintenance margin. Blocked while
// the breaker is open, like a full liquidation.
func (e *Engine) PartialLiquidation(actor uuid.UUID, id, fractionBps int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("partial_liquidation", time.Now())

	if err := e.roles.Authorize(actor, access.RoleLiquidator); err != nil {
		return err
	}
	if e.paused {
		return state.ErrSystemPaused
	}
	if !e.breaker.Allow(e.height) {
		return state.ErrCircuitBreakerActive
	}
	p, err := e.store.Get(id)
	if err != nil {
		return err
	}
	mark, err := e.markPrice(p.Asset)
	if err != nil {
		return err
	}

	plan, err := risk.PlanReduction(p, mark, fractionBps, e.riskParams)
	if err != nil {
		return err
	}
	if err := e.collateral.Burn(p.Owner, plan.RealizedLoss); err != nil {
		return err
	}
	if err := e.collateral.Award(p.Owner, actor, plan.Penalty); err != nil {
		return err
	}
	p.Collateral -= plan.RealizedLoss + plan.Penalty
	e.store.ReduceSize(p, plan.SizeDelta)

	e.emit(&event.PositionReduced{
		PositionID:   p.ID,
		Owner:        p.Owner,
		Liquidator:   actor,
		Asset:        p.Asset,
		MarkPrice:    mark,
		SizeDelta:    plan.SizeDelta,
		RealizedLoss: plan.RealizedLoss,
		Penalty:      plan.Penalty,
		RatioAfter:   plan.RatioAfter,
	})
	if e.metrics != nil {
		e.metrics.PartialLiquidations.WithLabelValues(p.Asset).Inc()
		e.observeOpenInterest(p.Asset)
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	e.log.Warn().
		Int64("position_id", p.ID).
		Int64("size_delta", plan.SizeDelta).
		Int64("ratio_after", plan.RatioAfter).
		Msg("position partially liquidated")
	return nil
}

// EmergencyLiquidate force-closes a position at the current mark with
// no health check and no penalty, returning remaining equity to the
// owner. Operator role required; works while paused so insolvent
// positions can always be cleared.
func (e *Engine) EmergencyLiquidate(actor uuid.UUID, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("emergency_liquidate", time.Now())

	if err := e.roles.Authorize(actor, access.RoleOperator); err != nil {
		return err
	}
	p, err := e.store.Get(id)
	if err != nil {
		return err
	}
	mark, err := e.markPrice(p.Asset)
	if err != nil {
		return err
	}

	pnl := p.UnrealizedPnL(mark)
	seized := int64(0)
	if pnl < 0 {
		seized = -pnl
		if seized > p.Collateral {
			seized = p.Collateral
		}
		if err := e.collateral.Burn(p.Owner, seized); err != nil {
			return err
		}
	}
	remainder := p.Collateral - seized
	if err := e.collateral.Release(p.Owner, remainder); err != nil {
		return err
	}
	if pnl > 0 {
		if err := e.vault.Credit(p.Owner, pnl); err != nil {
			return err
		}
	}
	e.store.Deactivate(p, e.height, true)

	e.emit(&event.PositionLiquidated{
		PositionID: p.ID,
		Owner:      p.Owner,
		Liquidator: actor,
		Asset:      p.Asset,
		MarkPrice:  mark,
		RatioBps:   risk.CollateralRatioBps(p, mark),
		Seized:     seized,
		Emergency:  true,
	})
	if e.metrics != nil {
		e.metrics.Liquidations.WithLabelValues(p.Asset, "emergency").Inc()
		e.observeOpenInterest(p.Asset)
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	e.log.Warn().Int64("position_id", p.ID).Msg("position emergency liquidated")
	return nil
}

// ExecuteTriggers closes every active position for the asset whose
// stop-loss or take-profit fired at the current mark. Returns the count
// of positions closed. Operator role required.
func (e *Engine) ExecuteTriggers(actor uuid.UUID, asset string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.observeDuration("execute_triggers", time.Now())

	if err := e.roles.Authorize(actor, access.RoleOperator); err != nil {
		return 0, err
	}
	if e.paused {
		return 0, state.ErrSystemPaused
	}
	mark, err := e.markPrice(asset)
	if err != nil {
		return 0, err
	}

	var closed int64
	for _, p := range e.store.ActiveByAsset(asset) {
		a := risk.Assess(p, mark, e.riskParams)
		trigger := ""
		switch {
		case a.StopLossHit:
			trigger = "stop_loss"
		case a.TakeProfitHit:
			trigger = "take_profit"
		default:
			continue
		}
		if _, _, err := e.settleClose(p, mark, trigger); err != nil {
			return closed, err
		}
		closed++
		if e.metrics != nil {
			e.metrics.PositionsClosed.WithLabelValues(p.Asset, p.Side.String()).Inc()
		}
		e.log.Info().
			Int64("position_id", p.ID).
			Str("trigger", trigger).
			Msg("position closed by trigger")
	}
	if closed > 0 && e.metrics != nil {
		e.observeOpenInterest(asset)
		e.metrics.TotalValueLocked.Set(float64(e.collateral.TotalLocked()))
	}
	return closed, nil
}

func (e *Engine) markPrice(asset string) (int64, error) {
	price, err := e.oracle.Price(asset)
	if err != nil {
		e.recordOracleFailure(asset)
		return 0, err
	}
	e.breaker.RecordSuccess(e.height)
	return price, nil
}

func (e *Engine) recordOracleFailure(asset string) {
	e.breaker.RecordFailure(e.height)
	if e.metrics != nil {
		e.metrics.OracleFailures.WithLabelValues(asset).Inc()
		e.metrics.BreakerFailures.Inc()
		e.metrics.BreakerState.Set(float64(e.breaker.Status().State))
	}
}

func (e *Engine) reject(asset, reason string) {
	if e.metrics != nil {
		e.metrics.PositionsRejected.WithLabelValues(asset, reason).Inc()
	}
}

// observeDuration records mutating-operation latency; deferred with
// time.Now() at the top of each entry point.
func (e *Engine) observeDuration(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) observeOpenInterest(asset string) {
	oi := e.store.OpenInterest(asset)
	e.metrics.OpenInterestLong.WithLabelValues(asset).Set(float64(oi.Long))
	e.metrics.OpenInterestShort.WithLabelValues(asset).Set(float64(oi.Short))
}

// emit assigns the next sequence and fans the event out: blocking to
// persistence, non-blocking to publishing.
func (e *Engine) emit(payload event.Event) {
	e.seq++
	env := event.Envelope{
		Sequence: e.seq,
		Type:     payload.EventType(),
		Asset:    payload.AssetID(),
		Height:   e.height,
		Payload:  payload,
	}
	if e.metrics != nil {
		e.metrics.EventsEmitted.WithLabelValues(env.Type.String()).Inc()
	}
	if e.persistCh != nil {
		e.persistCh <- env
	}
	if e.publishCh != nil {
		select {
		case e.publishCh <- env:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
