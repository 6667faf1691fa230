// Package persistence drains the engine's persist channel into Postgres.
// The engine sends with a blocking channel, so a stalled writer applies
// backpressure instead of losing events.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventRow is one row in event_log.events. Payload is the JSON-encoded
// event body; the envelope fields are broken out into columns for
// querying.
type EventRow struct {
	Sequence  int64
	EventType string
	Asset     string
	Height    int64
	Payload   []byte
	CreatedAt time.Time
}

// FundingRow is one row in event_log.funding_rates, written for every
// FundingRateUpdated event so rate history survives restarts.
type FundingRow struct {
	Asset      string
	Epoch      int64
	RateBps    int64
	PremiumBps int64
	SkewBps    int64
	MarkPrice  int64
	IndexPrice int64
	Height     int64
}

// LiquidationRow is one row in event_log.liquidations.
type LiquidationRow struct {
	Sequence   int64
	PositionID int64
	Asset      string
	MarkPrice  int64
	Seized     int64
	Partial    bool
	Emergency  bool
	Height     int64
}

// Writer batch-inserts event rows with multi-row INSERT. ON CONFLICT
// DO NOTHING makes retried batches idempotent: the engine is the only
// writer and sequences never repeat.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) WriteEvents(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, asset, height, payload, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)
	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, r.Sequence, r.EventType, r.Asset, r.Height, r.Payload, r.CreatedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *Writer) WriteFundingRates(ctx context.Context, tx *sql.Tx, rows []FundingRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.funding_rates
		(asset, epoch, rate_bps, premium_bps, skew_bps, mark_price, index_price, height)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)
	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args, r.Asset, r.Epoch, r.RateBps, r.PremiumBps, r.SkewBps,
			r.MarkPrice, r.IndexPrice, r.Height)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (asset, epoch) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *Writer) WriteLiquidations(ctx context.Context, tx *sql.Tx, rows []LiquidationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.liquidations
		(sequence, position_id, asset, mark_price, seized, partial, emergency, height)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)
	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args, r.Sequence, r.PositionID, r.Asset, r.MarkPrice,
			r.Seized, r.Partial, r.Emergency, r.Height)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload JSON-encodes an event payload for the payload column.
func MarshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
