package engine_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PerpEngine/internal/access"
	"PerpEngine/internal/custody"
	"PerpEngine/internal/engine"
	"PerpEngine/internal/event"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/state"
)

type fixture struct {
	engine *engine.Engine
	vault  *custody.InMemoryVault
	oracle *oracle.Cache
	admin  uuid.UUID
	trader uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		vault:  custody.NewInMemoryVault(),
		oracle: oracle.NewCache(),
		admin:  uuid.New(),
		trader: uuid.New(),
	}
	eng, err := engine.New(f.admin, f.vault, f.oracle, engine.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	f.engine = eng

	f.vault.Mint(f.trader, 10_000_000)
	f.oracle.SetPrice("BTC", 1_000_000)
	if err := f.engine.AdvanceBlock(1); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) open(t *testing.T, collateral, leverage int64, side state.Side) state.Position {
	t.Helper()
	p, err := f.engine.OpenPosition(engine.OpenParams{
		Owner:      f.trader,
		Asset:      "BTC",
		Collateral: collateral,
		Leverage:   leverage,
		Side:       side,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// =============================================================================
// Test: open validation
// =============================================================================

func TestOpenPosition_RejectsLeverageOutOfRange(t *testing.T) {
	f := newFixture(t)

	for _, lev := range []int64{0, 50, 99, 5_100} {
		_, err := f.engine.OpenPosition(engine.OpenParams{
			Owner: f.trader, Asset: "BTC", Collateral: 100_000, Leverage: lev, Side: state.SideLong,
		})
		if !errors.Is(err, state.ErrInvalidLeverage) {
			t.Errorf("leverage %d err = %v, want ErrInvalidLeverage", lev, err)
		}
	}
	if got := f.engine.TotalPositions(); got != 0 {
		t.Errorf("positions = %d after rejected opens, want 0", got)
	}
}

func TestOpenPosition_RejectsZeroCollateral(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 0, Leverage: 1_000, Side: state.SideLong,
	})
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestOpenPosition_RejectsInsufficientBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 10_000_001, Leverage: 1_000, Side: state.SideLong,
	})
	if !errors.Is(err, state.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestOpenPosition_RejectsBadTriggers(t *testing.T) {
	f := newFixture(t)

	// Long with stop loss above entry.
	_, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 100_000, Leverage: 1_000,
		Side: state.SideLong, StopLoss: 1_100_000,
	})
	if !errors.Is(err, state.ErrInvalidStopLoss) {
		t.Errorf("err = %v, want ErrInvalidStopLoss", err)
	}
}

func TestOpenPosition_ChargesProtocolFee(t *testing.T) {
	f := newFixture(t)

	// 10x on 100_000: size 1_000_000, fee 0.1% of size = 1_000.
	p := f.open(t, 100_000, 1_000, state.SideLong)
	if p.Collateral != 99_000 {
		t.Errorf("collateral = %d, want 99_000 after fee", p.Collateral)
	}
	if got := f.vault.BalanceOf(custody.FeeAccount); got != 1_000 {
		t.Errorf("fee account = %d, want 1_000", got)
	}
	if got := f.engine.Stats().TotalFees; got != 1_000 {
		t.Errorf("stats fees = %d, want 1_000", got)
	}
}

func TestOpenPosition_FailsWithoutOraclePrice(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "DOGE", Collateral: 100_000, Leverage: 1_000, Side: state.SideLong,
	})
	if !errors.Is(err, state.ErrOracleUnavailable) {
		t.Errorf("err = %v, want ErrOracleUnavailable", err)
	}
}

// =============================================================================
// Test: open interest invariant
// =============================================================================

func TestOpenInterest_TracksActivePositions(t *testing.T) {
	f := newFixture(t)

	a := f.open(t, 100_000, 1_000, state.SideLong) // size 1_000_000
	f.open(t, 50_000, 2_000, state.SideLong)       // size 1_000_000
	f.open(t, 200_000, 500, state.SideShort)       // size 1_000_000

	oi := f.engine.OpenInterestFor("BTC")
	if oi.Long != 2_000_000 || oi.Short != 1_000_000 {
		t.Fatalf("oi = %+v, want long 2_000_000 short 1_000_000", oi)
	}

	if _, err := f.engine.ClosePosition(f.trader, a.ID, 0); err != nil {
		t.Fatal(err)
	}
	oi = f.engine.OpenInterestFor("BTC")
	if oi.Long != 1_000_000 || oi.Short != 1_000_000 {
		t.Errorf("oi after close = %+v, want long 1_000_000 short 1_000_000", oi)
	}
}

// =============================================================================
// Test: close settlement
// =============================================================================

func TestClosePosition_RoundTripAtUnchangedPrice(t *testing.T) {
	f := newFixture(t)
	before := f.vault.BalanceOf(f.trader)

	p := f.open(t, 100_000, 1_000, state.SideLong)
	payout, err := f.engine.ClosePosition(f.trader, p.ID, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Only the open fee is lost on an immediate round trip.
	if payout != 99_000 {
		t.Errorf("payout = %d, want 99_000", payout)
	}
	if got := f.vault.BalanceOf(f.trader); got != before-1_000 {
		t.Errorf("balance = %d, want %d (fee only)", got, before-1_000)
	}
}

func TestClosePosition_ProfitAndLossSymmetry(t *testing.T) {
	f := newFixture(t)

	long := f.open(t, 100_000, 1_000, state.SideLong) // size 1_000_000 at 1.00

	// +5%: pnl = +50_000 on top of 99_000 collateral.
	f.oracle.SetPrice("BTC", 1_050_000)
	payout, err := f.engine.ClosePosition(f.trader, long.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 149_000 {
		t.Errorf("payout = %d, want 149_000", payout)
	}

	f.oracle.SetPrice("BTC", 1_000_000)
	short := f.open(t, 100_000, 1_000, state.SideShort)
	// +5% against the short: loss 50_000.
	f.oracle.SetPrice("BTC", 1_050_000)
	payout, err = f.engine.ClosePosition(f.trader, short.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 49_000 {
		t.Errorf("payout = %d, want 49_000", payout)
	}
	// The loss lands in insurance.
	if got := f.vault.BalanceOf(custody.InsuranceAccount); got != 50_000 {
		t.Errorf("insurance = %d, want 50_000", got)
	}
}

func TestClosePosition_LossCappedAtCollateral(t *testing.T) {
	f := newFixture(t)

	p := f.open(t, 100_000, 2_000, state.SideLong) // size 2_000_000
	// -20%: pnl -400_000 dwarfs 98_000 collateral.
	f.oracle.SetPrice("BTC", 800_000)
	payout, err := f.engine.ClosePosition(f.trader, p.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if payout != 0 {
		t.Errorf("payout = %d, want 0 when wiped out", payout)
	}
}

func TestClosePosition_OnlyOwnerMayClose(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, 100_000, 1_000, state.SideLong)

	_, err := f.engine.ClosePosition(uuid.New(), p.ID, 0)
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestClosePosition_SlippageGuard(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, 100_000, 1_000, state.SideLong)

	// Index sources agree at 1.10 while mark sits at 1.00: ~909 bps
	// divergence trips a 100 bps bound.
	f.oracle.SetSourcePrice("BTC", "a", 1_100_000)
	f.oracle.SetSourcePrice("BTC", "b", 1_100_000)
	f.oracle.SetSourcePrice("BTC", "c", 1_100_000)

	_, err := f.engine.ClosePosition(f.trader, p.ID, 100)
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput on divergence", err)
	}

	// Unguarded close proceeds.
	if _, err := f.engine.ClosePosition(f.trader, p.ID, 0); err != nil {
		t.Errorf("unguarded close failed: %v", err)
	}
}

func TestClosePosition_NotFoundAndDoubleClose(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, 100_000, 1_000, state.SideLong)

	if _, err := f.engine.ClosePosition(f.trader, p.ID, 0); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.ClosePosition(f.trader, p.ID, 0)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("double close err = %v, want ErrPositionNotFound", err)
	}
	_, err = f.engine.ClosePosition(f.trader, 9_999, 0)
	if !errors.Is(err, state.ErrPositionNotFound) {
		t.Errorf("missing id err = %v, want ErrPositionNotFound", err)
	}
}

// =============================================================================
// Test: collateral adjustments
// =============================================================================

func TestCollateral_AddAndRemove(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, 100_000, 1_000, state.SideLong)

	if err := f.engine.AddCollateral(f.trader, p.ID, 50_000); err != nil {
		t.Fatal(err)
	}
	got, err := f.engine.GetPosition(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Collateral != 149_000 {
		t.Errorf("collateral = %d, want 149_000", got.Collateral)
	}

	if err := f.engine.RemoveCollateral(f.trader, p.ID, 40_000); err != nil {
		t.Fatal(err)
	}
	got, _ = f.engine.GetPosition(p.ID)
	if got.Collateral != 109_000 {
		t.Errorf("collateral = %d, want 109_000", got.Collateral)
	}
}

func TestRemoveCollateral_MaintenanceFloor(t *testing.T) {
	f := newFixture(t)
	// 10x: collateral 99_000 on size 1_000_000 is 990 bps. Withdrawals
	// are allowed down to the 500 bps maintenance ratio.
	p := f.open(t, 100_000, 1_000, state.SideLong)

	// 59_000 remaining is 590 bps, above maintenance.
	if err := f.engine.RemoveCollateral(f.trader, p.ID, 40_000); err != nil {
		t.Fatalf("removal above maintenance failed: %v", err)
	}

	// 49_000 remaining would be 490 bps, below maintenance.
	err := f.engine.RemoveCollateral(f.trader, p.ID, 10_000)
	if !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Errorf("err = %v, want ErrInsufficientCollateral", err)
	}
	got, _ := f.engine.GetPosition(p.ID)
	if got.Collateral != 59_000 {
		t.Errorf("collateral = %d, want 59_000 after rejected withdrawal", got.Collateral)
	}
}

// =============================================================================
// Test: funding integration
// =============================================================================

func TestUpdateFundingRate_IntervalGate(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.UpdateFundingRate(f.admin, "BTC"); err != nil {
		t.Fatal(err)
	}
	// Same height: second update must be rejected.
	_, err := f.engine.UpdateFundingRate(f.admin, "BTC")
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput inside interval", err)
	}

	if err := f.engine.AdvanceBlock(1 + f.engine.FundingParameters().IntervalBlocks); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.UpdateFundingRate(f.admin, "BTC"); err != nil {
		t.Errorf("update after interval failed: %v", err)
	}
}

func TestUpdateFundingRate_RequiresOperator(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.UpdateFundingRate(f.trader, "BTC")
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestApplyFunding_MovesCollateralLongToShort(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	f.vault.Mint(other, 1_000_000)

	long := f.open(t, 100_000, 1_000, state.SideLong)
	short, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: other, Asset: "BTC", Collateral: 100_000, Leverage: 1_000, Side: state.SideShort,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Mark 2% above a pinned 1.00 index: positive rate, longs pay.
	f.oracle.SetSourcePrice("BTC", "a", 1_000_000)
	f.oracle.SetPrice("BTC", 1_020_000)
	st, err := f.engine.UpdateFundingRate(f.admin, "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if st.RateBps <= 0 {
		t.Fatalf("rate = %d, want positive", st.RateBps)
	}

	// Settlement needs no role; any caller can pull it.
	settled, err := f.engine.ApplyFunding("BTC")
	if err != nil {
		t.Fatal(err)
	}
	if settled != 2 {
		t.Errorf("settled = %d, want 2", settled)
	}

	longPos, _ := f.engine.GetPosition(long.ID)
	shortPos, _ := f.engine.GetPosition(short.ID)
	if longPos.FundingAccrued >= 0 {
		t.Errorf("long accrued = %d, want negative (paid)", longPos.FundingAccrued)
	}
	if shortPos.FundingAccrued <= 0 {
		t.Errorf("short accrued = %d, want positive (received)", shortPos.FundingAccrued)
	}

	// Second pass in the same epoch settles nothing.
	settled, err = f.engine.ApplyFunding("BTC")
	if err != nil {
		t.Fatal(err)
	}
	if settled != 0 {
		t.Errorf("second pass settled = %d, want 0", settled)
	}
}

func TestApplyFundingToPosition_PullSettlement(t *testing.T) {
	f := newFixture(t)
	long := f.open(t, 100_000, 1_000, state.SideLong)

	f.oracle.SetSourcePrice("BTC", "a", 1_000_000)
	f.oracle.SetPrice("BTC", 1_020_000)
	if _, err := f.engine.UpdateFundingRate(f.admin, "BTC"); err != nil {
		t.Fatal(err)
	}

	delta, err := f.engine.ApplyFundingToPosition(long.ID)
	if err != nil {
		t.Fatal(err)
	}
	if delta >= 0 {
		t.Errorf("delta = %d, want negative (long pays)", delta)
	}

	p, _ := f.engine.GetPosition(long.ID)
	if p.FundingAccrued != delta {
		t.Errorf("accrued = %d, want %d", p.FundingAccrued, delta)
	}

	// Already settled for the epoch.
	delta, err = f.engine.ApplyFundingToPosition(long.ID)
	if err != nil {
		t.Fatal(err)
	}
	if delta != 0 {
		t.Errorf("second pull delta = %d, want 0", delta)
	}
}

// =============================================================================
// Test: liquidation
// =============================================================================

func TestLiquidation_TwentyXFallsOneXSurvives(t *testing.T) {
	f := newFixture(t)
	liquidator := uuid.New()
	if err := f.engine.GrantRole(f.admin, access.RoleLiquidator, liquidator); err != nil {
		t.Fatal(err)
	}

	leveraged := f.open(t, 100_000, 2_000, state.SideLong)
	unleveraged := f.open(t, 100_000, 100, state.SideLong)

	f.oracle.SetPrice("BTC", 800_000) // -20%

	if err := f.engine.LiquidatePosition(liquidator, leveraged.ID); err != nil {
		t.Errorf("20x at -20%% should liquidate, got %v", err)
	}
	err := f.engine.LiquidatePosition(liquidator, unleveraged.ID)
	if !errors.Is(err, state.ErrPositionHealthy) {
		t.Errorf("1x at -20%% err = %v, want ErrPositionHealthy", err)
	}

	// Liquidator earns the 5% penalty on the 98_000 seized.
	if got := f.vault.BalanceOf(liquidator); got != 4_900 {
		t.Errorf("liquidator bonus = %d, want 4_900", got)
	}
	if got := f.engine.Stats().Liquidations; got != 1 {
		t.Errorf("liquidation count = %d, want 1", got)
	}
}

func TestLiquidation_RequiresRole(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, 100_000, 2_000, state.SideLong)
	f.oracle.SetPrice("BTC", 800_000)

	err := f.engine.LiquidatePosition(f.trader, p.ID)
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestEmergencyLiquidate_WorksWhilePaused(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, 100_000, 1_000, state.SideLong)

	if err := f.engine.EmergencyPause(f.admin); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.ClosePosition(f.trader, p.ID, 0); !errors.Is(err, state.ErrSystemPaused) {
		t.Errorf("close while paused err = %v, want ErrSystemPaused", err)
	}
	if err := f.engine.EmergencyLiquidate(f.admin, p.ID); err != nil {
		t.Errorf("emergency liquidate while paused failed: %v", err)
	}
	// Equity returned to the owner, no penalty.
	if got := f.vault.BalanceOf(f.trader); got != 10_000_000-1_000 {
		t.Errorf("balance = %d, want fee-only loss", got)
	}
}

// =============================================================================
// Test: stop loss / take profit execution
// =============================================================================

func TestExecuteTriggers_ClosesFiredPositions(t *testing.T) {
	f := newFixture(t)

	stopped, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 100_000, Leverage: 500,
		Side: state.SideLong, StopLoss: 950_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	untouched := f.open(t, 100_000, 500, state.SideLong)

	f.oracle.SetPrice("BTC", 940_000)
	closed, err := f.engine.ExecuteTriggers(f.admin, "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}
	if _, err := f.engine.GetPosition(stopped.ID); !errors.Is(err, state.ErrPositionNotFound) {
		t.Error("stopped position should be closed")
	}
	if _, err := f.engine.GetPosition(untouched.ID); err != nil {
		t.Error("position without trigger should survive")
	}
}

// =============================================================================
// Test: circuit breaker and pause gating
// =============================================================================

func TestBreaker_OpensAfterTenthOracleFailure(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		_, err := f.engine.OpenPosition(engine.OpenParams{
			Owner: f.trader, Asset: "DOGE", Collateral: 100_000, Leverage: 1_000, Side: state.SideLong,
		})
		if !errors.Is(err, state.ErrOracleUnavailable) {
			t.Fatalf("attempt %d err = %v, want ErrOracleUnavailable", i, err)
		}
	}

	// Breaker is now open: even a priced asset is refused.
	_, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 100_000, Leverage: 1_000, Side: state.SideLong,
	})
	if !errors.Is(err, state.ErrCircuitBreakerActive) {
		t.Errorf("err = %v, want ErrCircuitBreakerActive", err)
	}

	// Closes stay available while the breaker is open.
	if err := f.engine.ResetCircuitBreaker(f.admin); err != nil {
		t.Fatal(err)
	}
	p := f.open(t, 100_000, 1_000, state.SideLong)
	if err := f.engine.TripCircuitBreaker(f.admin); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.ClosePosition(f.trader, p.ID, 0); err != nil {
		t.Errorf("close with open breaker failed: %v", err)
	}
}

func TestBreaker_BlocksLiquidationsButNotEmergency(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, 100_000, 2_000, state.SideLong)

	f.oracle.SetPrice("BTC", 800_000) // -20%, well past the threshold
	if err := f.engine.TripCircuitBreaker(f.admin); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.LiquidatePosition(f.admin, p.ID); !errors.Is(err, state.ErrCircuitBreakerActive) {
		t.Errorf("liquidate err = %v, want ErrCircuitBreakerActive", err)
	}
	if err := f.engine.PartialLiquidation(f.admin, p.ID, 5_000); !errors.Is(err, state.ErrCircuitBreakerActive) {
		t.Errorf("partial liquidate err = %v, want ErrCircuitBreakerActive", err)
	}

	// The emergency path stays open so insolvency can still be cleared.
	if err := f.engine.EmergencyLiquidate(f.admin, p.ID); err != nil {
		t.Errorf("emergency liquidate with open breaker failed: %v", err)
	}
	if _, err := f.engine.GetPosition(p.ID); !errors.Is(err, state.ErrPositionNotFound) {
		t.Error("position should be closed after emergency liquidation")
	}
}

func TestPause_BlocksMutationsUntilResume(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.EmergencyPause(f.admin); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 100_000, Leverage: 1_000, Side: state.SideLong,
	})
	if !errors.Is(err, state.ErrSystemPaused) {
		t.Errorf("open err = %v, want ErrSystemPaused", err)
	}
	if _, err := f.engine.UpdateFundingRate(f.admin, "BTC"); !errors.Is(err, state.ErrSystemPaused) {
		t.Errorf("funding err = %v, want ErrSystemPaused", err)
	}

	if err := f.engine.EmergencyResume(f.admin); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 100_000, Leverage: 1_000, Side: state.SideLong,
	}); err != nil {
		t.Errorf("open after resume failed: %v", err)
	}
}

func TestPause_OnlyAdmin(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.EmergencyPause(f.trader); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

// =============================================================================
// Test: parameters and height
// =============================================================================

func TestSetRiskParameters_ValidatesOrdering(t *testing.T) {
	f := newFixture(t)

	bad := state.DefaultRiskParams()
	bad.LiquidationThresholdBps = bad.MaintenanceMarginBps + 1
	if err := f.engine.SetRiskParameters(f.admin, bad); !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}

	good := state.DefaultRiskParams()
	good.MaxLeverage = 2_000
	if err := f.engine.SetRiskParameters(f.admin, good); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.OpenPosition(engine.OpenParams{
		Owner: f.trader, Asset: "BTC", Collateral: 100_000, Leverage: 2_100, Side: state.SideLong,
	})
	if !errors.Is(err, state.ErrInvalidLeverage) {
		t.Errorf("err = %v, want ErrInvalidLeverage under tightened cap", err)
	}
}

func TestAdvanceBlock_MonotonicOnly(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.AdvanceBlock(5); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.AdvanceBlock(5); !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("equal height err = %v, want ErrInvalidInput", err)
	}
	if err := f.engine.AdvanceBlock(4); !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("lower height err = %v, want ErrInvalidInput", err)
	}
}

// =============================================================================
// Test: event emission
// =============================================================================

func TestEngine_EmitsLifecycleEvents(t *testing.T) {
	vault := custody.NewInMemoryVault()
	cache := oracle.NewCache()
	admin := uuid.New()
	trader := uuid.New()
	persist := make(chan event.Envelope, 64)

	eng, err := engine.New(admin, vault, cache, engine.DefaultConfig(),
		engine.WithPersistChannel(persist))
	if err != nil {
		t.Fatal(err)
	}
	vault.Mint(trader, 1_000_000)
	cache.SetPrice("BTC", 1_000_000)
	if err := eng.AdvanceBlock(1); err != nil {
		t.Fatal(err)
	}

	p, err := eng.OpenPosition(engine.OpenParams{
		Owner: trader, Asset: "BTC", Collateral: 100_000, Leverage: 1_000, Side: state.SideLong,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ClosePosition(trader, p.ID, 0); err != nil {
		t.Fatal(err)
	}

	first := <-persist
	second := <-persist
	if first.Type != event.EventTypePositionOpened || first.Sequence != 1 {
		t.Errorf("first = %v seq %d, want PositionOpened seq 1", first.Type, first.Sequence)
	}
	if second.Type != event.EventTypePositionClosed || second.Sequence != 2 {
		t.Errorf("second = %v seq %d, want PositionClosed seq 2", second.Type, second.Sequence)
	}
	if first.Asset != "BTC" || first.Height != 1 {
		t.Errorf("envelope context = %+v, want BTC at height 1", first)
	}
}
