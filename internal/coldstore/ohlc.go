package coldstore

import (
	"context"
	"fmt"
	"time"

	"github.com/gemscap/quantpipe/internal/model"
)

// InsertOHLCBatch upserts bars keyed by (time, symbol, interval). Re-archiving
// a bucket replaces the previous row.
func (s *Store) InsertOHLCBatch(ctx context.Context, bars []model.OHLCBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin bar batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ohlc (time, symbol, interval, open, high, low, close, volume, trade_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (time, symbol, interval) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err = stmt.ExecContext(ctx, b.Time.UTC(), b.Symbol, b.Interval,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert bar %s/%s: %w", b.Symbol, b.Interval, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bar batch: %w", err)
	}
	return len(bars), nil
}

type ohlcRow struct {
	Time       time.Time `db:"time"`
	Symbol     string    `db:"symbol"`
	Interval   string    `db:"interval"`
	Open       float64   `db:"open"`
	High       float64   `db:"high"`
	Low        float64   `db:"low"`
	Close      float64   `db:"close"`
	Volume     float64   `db:"volume"`
	TradeCount int       `db:"trade_count"`
}

// GetOHLC returns stored bars for a symbol and interval in [from, to],
// oldest first.
func (s *Store) GetOHLC(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.OHLCBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []ohlcRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT time, symbol, interval, open, high, low, close, volume, trade_count
		FROM ohlc
		WHERE symbol = $1 AND interval = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s/%s: %w", symbol, interval, err)
	}

	bars := make([]model.OHLCBar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, model.OHLCBar{
			Symbol:     r.Symbol,
			Interval:   r.Interval,
			Time:       r.Time,
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			TradeCount: r.TradeCount,
		})
	}
	return bars, nil
}

// ComputeOHLCFromTicks aggregates archived ticks into bars of bucket width,
// oldest first. Open and close break intra-timestamp ties by trade ID so the
// result is deterministic under duplicate tick timestamps.
func (s *Store) ComputeOHLCFromTicks(ctx context.Context, symbol string, bucket time.Duration, from, to time.Time) ([]model.OHLCBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	interval := bucket.String()
	var rows []ohlcRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT
			time_bucket($1::interval, time) AS time,
			symbol,
			$2::text AS interval,
			(array_agg(price ORDER BY time ASC, trade_id ASC))[1] AS open,
			MAX(price) AS high,
			MIN(price) AS low,
			(array_agg(price ORDER BY time DESC, trade_id DESC))[1] AS close,
			SUM(quantity) AS volume,
			COUNT(*)::int AS trade_count
		FROM ticks
		WHERE symbol = $3 AND time >= $4 AND time <= $5
		GROUP BY 1, 2
		ORDER BY 1 ASC`,
		fmt.Sprintf("%d milliseconds", bucket.Milliseconds()), interval, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate bars for %s: %w", symbol, err)
	}

	bars := make([]model.OHLCBar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, model.OHLCBar{
			Symbol:     r.Symbol,
			Interval:   r.Interval,
			Time:       r.Time,
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			TradeCount: r.TradeCount,
		})
	}
	return bars, nil
}
