package persistence

import (
	"context"
	"database/sql"
	"time"
)

// Reader serves queries against the persisted event log. The in-memory
// engine answers live state; the reader answers history that outlives
// the process.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// LastSequence returns the highest persisted event sequence, or 0 when
// the log is empty.
func (r *Reader) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.events`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// EventsSince returns up to limit events with sequence > after, oldest
// first.
func (r *Reader) EventsSince(ctx context.Context, after int64, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_type, asset, height, payload, created_at
		FROM event_log.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var created time.Time
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Asset, &e.Height, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created
		out = append(out, e)
	}
	return out, rows.Err()
}

// FundingRates returns up to limit funding epochs for an asset, newest
// first.
func (r *Reader) FundingRates(ctx context.Context, asset string, limit int) ([]FundingRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT asset, epoch, rate_bps, premium_bps, skew_bps, mark_price, index_price, height
		FROM event_log.funding_rates
		WHERE asset = $1
		ORDER BY epoch DESC
		LIMIT $2
	`, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FundingRow
	for rows.Next() {
		var f FundingRow
		if err := rows.Scan(&f.Asset, &f.Epoch, &f.RateBps, &f.PremiumBps, &f.SkewBps,
			&f.MarkPrice, &f.IndexPrice, &f.Height); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Liquidations returns up to limit liquidation records for an asset,
// newest first.
func (r *Reader) Liquidations(ctx context.Context, asset string, limit int) ([]LiquidationRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, position_id, asset, mark_price, seized, partial, emergency, height
		FROM event_log.liquidations
		WHERE asset = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationRow
	for rows.Next() {
		var l LiquidationRow
		if err := rows.Scan(&l.Sequence, &l.PositionID, &l.Asset, &l.MarkPrice,
			&l.Seized, &l.Partial, &l.Emergency, &l.Height); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
