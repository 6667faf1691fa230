package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"
)

// Worker drains the engine's persist channel and batch-writes to
// Postgres. The engine's sends are blocking: if the worker falls
// behind, mutations stall rather than losing events.
type Worker struct {
	writer       *Writer
	input        <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	input <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches envelopes and flushes when the batch fills or the flush
// timeout expires. Blocks until ctx is cancelled or the input channel
// closes; either way the pending batch is flushed first.
func (w *Worker) Run(ctx context.Context) error {
	batch := newBatch(w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := w.flushWithRetry(context.Background(), batch); err != nil {
				w.log.Error().Err(err).Msg("final flush failed")
			}
			return ctx.Err()

		case env, ok := <-w.input:
			if !ok {
				if err := w.flushWithRetry(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
				return nil
			}
			if err := batch.add(env); err != nil {
				w.log.Error().Err(err).Int64("sequence", env.Sequence).
					Msg("dropping unencodable event")
				continue
			}
			if len(batch.events) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					return err
				}
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// batch accumulates event rows plus the derived history rows that keep
// funding and liquidation data queryable without replaying the log.
type batch struct {
	events       []EventRow
	fundingRates []FundingRow
	liquidations []LiquidationRow
}

func newBatch(size int) *batch {
	return &batch{events: make([]EventRow, 0, size)}
}

func (b *batch) add(env event.Envelope) error {
	payload, err := MarshalPayload(env.Payload)
	if err != nil {
		return err
	}
	b.events = append(b.events, EventRow{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Asset:     env.Asset,
		Height:    env.Height,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})

	switch p := env.Payload.(type) {
	case *event.FundingRateUpdated:
		b.fundingRates = append(b.fundingRates, FundingRow{
			Asset:      p.Asset,
			Epoch:      p.Epoch,
			RateBps:    p.RateBps,
			PremiumBps: p.PremiumBps,
			SkewBps:    p.SkewBps,
			MarkPrice:  p.MarkPrice,
			IndexPrice: p.IndexPrice,
			Height:     env.Height,
		})
	case *event.PositionLiquidated:
		b.liquidations = append(b.liquidations, LiquidationRow{
			Sequence:   env.Sequence,
			PositionID: p.PositionID,
			Asset:      p.Asset,
			MarkPrice:  p.MarkPrice,
			Seized:     p.Seized,
			Emergency:  p.Emergency,
			Height:     env.Height,
		})
	case *event.PositionReduced:
		b.liquidations = append(b.liquidations, LiquidationRow{
			Sequence:   env.Sequence,
			PositionID: p.PositionID,
			Asset:      p.Asset,
			MarkPrice:  p.MarkPrice,
			Seized:     p.RealizedLoss + p.Penalty,
			Partial:    true,
			Height:     env.Height,
		})
	}
	return nil
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.fundingRates = b.fundingRates[:0]
	b.liquidations = b.liquidations[:0]
}

// flushWithRetry retries with exponential backoff. Events are never
// dropped: on shutdown one final attempt runs with a background
// context so the batch still lands.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) error {
	if len(b.events) == 0 {
		return nil
	}
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(b.events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), b); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				b.reset()
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, b); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("retry").Inc()
			}
			continue
		}
		if attempt > 0 {
			w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
		}
		b.reset()
		return nil
	}
}

func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEvents(ctx, tx, b.events); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}
	if err := w.writer.WriteFundingRates(ctx, tx, b.fundingRates); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_funding").Inc()
		}
		return err
	}
	if err := w.writer.WriteLiquidations(ctx, tx, b.liquidations); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_liquidations").Inc()
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistEventsWritten.Add(float64(len(b.events)))
		w.metrics.PersistLastSequence.Set(float64(b.events[len(b.events)-1].Sequence))
	}
	return nil
}
