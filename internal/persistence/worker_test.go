package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpEngine/internal/event"
	"PerpEngine/internal/persistence"
	"PerpEngine/internal/testutil"
)

// =============================================================================
// Test: event log round trip (requires Postgres, INTEGRATION_TEST=1)
// =============================================================================

func TestWorker_PersistsEnvelopes(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	input := make(chan event.Envelope, 8)
	worker := persistence.NewWorker(db, input, 2, 50*time.Millisecond, nil, zerolog.Nop())

	owner := uuid.New()
	input <- event.Envelope{
		Sequence: 1, Type: event.EventTypePositionOpened, Asset: "BTC", Height: 10,
		Payload: &event.PositionOpened{
			PositionID: 1, Owner: owner, Asset: "BTC", Side: "long",
			Collateral: 99_000, Leverage: 1_000, Size: 1_000_000, EntryPrice: 1_000_000, Fee: 1_000,
		},
	}
	input <- event.Envelope{
		Sequence: 2, Type: event.EventTypeFundingRateUpdated, Asset: "BTC", Height: 11,
		Payload: &event.FundingRateUpdated{
			Asset: "BTC", RateBps: 25, Epoch: 1, MarkPrice: 1_010_000, IndexPrice: 1_000_000,
			PremiumBps: 100, SkewBps: 0,
		},
	}
	input <- event.Envelope{
		Sequence: 3, Type: event.EventTypePositionLiquidated, Asset: "BTC", Height: 12,
		Payload: &event.PositionLiquidated{
			PositionID: 1, Owner: owner, Liquidator: uuid.New(), Asset: "BTC",
			MarkPrice: 900_000, RatioBps: 300, Seized: 99_000, Bonus: 4_950,
		},
	}
	close(input)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("worker run: %v", err)
	}

	ctx := context.Background()
	reader := persistence.NewReader(db)

	last, err := reader.LastSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != 3 {
		t.Errorf("last sequence = %d, want 3", last)
	}

	events, err := reader.EventsSince(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].EventType != "PositionOpened" || events[0].Height != 10 {
		t.Errorf("first event = %+v", events[0])
	}

	rates, err := reader.FundingRates(ctx, "BTC", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rates) != 1 || rates[0].RateBps != 25 {
		t.Errorf("funding rates = %+v", rates)
	}

	liqs, err := reader.Liquidations(ctx, "BTC", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(liqs) != 1 || liqs[0].Seized != 99_000 || liqs[0].Partial {
		t.Errorf("liquidations = %+v", liqs)
	}
}

func TestWorker_RetriedBatchIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	run := func() {
		input := make(chan event.Envelope, 1)
		input <- event.Envelope{
			Sequence: 1, Type: event.EventTypeSystemPaused, Height: 5,
			Payload: &event.SystemPaused{By: uuid.New()},
		}
		close(input)
		worker := persistence.NewWorker(db, input, 10, 50*time.Millisecond, nil, zerolog.Nop())
		if err := worker.Run(context.Background()); err != nil {
			t.Fatalf("worker run: %v", err)
		}
	}
	run()
	run() // same sequence again, must not duplicate

	events, err := persistence.NewReader(db).EventsSince(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 after duplicate write", len(events))
	}
}
