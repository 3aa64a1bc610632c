package coldstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/gemscap/quantpipe/internal/model"
)

// InsertTicksBatch bulk-loads ticks through COPY inside one transaction.
// Returns the number of rows written.
func (s *Store) InsertTicksBatch(ctx context.Context, ticks []model.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tick batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("ticks",
		"time", "symbol", "trade_id", "price", "quantity", "is_buyer_maker"))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare tick copy: %w", err)
	}

	for _, t := range ticks {
		_, err = stmt.ExecContext(ctx,
			time.UnixMilli(t.Timestamp).UTC(), t.Symbol, t.TradeID,
			t.Price, t.Qty, t.IsBuyerMaker)
		if err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("failed to buffer tick %s/%d: %w", t.Symbol, t.TradeID, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return 0, fmt.Errorf("failed to flush tick copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close tick copy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tick batch: %w", err)
	}
	return len(ticks), nil
}

type tickRow struct {
	Time         time.Time `db:"time"`
	Symbol       string    `db:"symbol"`
	TradeID      int64     `db:"trade_id"`
	Price        float64   `db:"price"`
	Quantity     float64   `db:"quantity"`
	IsBuyerMaker bool      `db:"is_buyer_maker"`
}

// GetTicks returns archived ticks for a symbol in [from, to], newest first.
// limit <= 0 falls back to 1000 rows.
func (s *Store) GetTicks(ctx context.Context, symbol string, from, to time.Time, limit int) ([]model.Tick, error) {
	if limit <= 0 {
		limit = 1000
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []tickRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT time, symbol, trade_id, price, quantity, is_buyer_maker
		FROM ticks
		WHERE symbol = $1 AND time >= $2 AND time <= $3
		ORDER BY time DESC, trade_id DESC
		LIMIT $4`, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks for %s: %w", symbol, err)
	}

	ticks := make([]model.Tick, 0, len(rows))
	for _, r := range rows {
		ticks = append(ticks, model.Tick{
			Symbol:       r.Symbol,
			TradeID:      r.TradeID,
			Price:        r.Price,
			Qty:          r.Quantity,
			Timestamp:    r.Time.UnixMilli(),
			IsBuyerMaker: r.IsBuyerMaker,
		})
	}
	return ticks, nil
}

// ExportTicksCSV streams archived ticks for a symbol to w as CSV, oldest
// first, with a header row. Returns the number of data rows written.
func (s *Store) ExportTicksCSV(ctx context.Context, w io.Writer, symbol string, from, to time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT time, symbol, trade_id, price, quantity, is_buyer_maker
		FROM ticks
		WHERE symbol = $1 AND time >= $2 AND time <= $3
		ORDER BY time ASC, trade_id ASC`, symbol, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to query ticks for export: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp_ms", "symbol", "trade_id", "price", "quantity", "is_buyer_maker"}); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}

	count := 0
	for rows.Next() {
		var r tickRow
		if err := rows.StructScan(&r); err != nil {
			return count, fmt.Errorf("failed to scan tick row: %w", err)
		}
		maker := "0"
		if r.IsBuyerMaker {
			maker = "1"
		}
		record := []string{
			strconv.FormatInt(r.Time.UnixMilli(), 10),
			r.Symbol,
			strconv.FormatInt(r.TradeID, 10),
			strconv.FormatFloat(r.Price, 'g', -1, 64),
			strconv.FormatFloat(r.Quantity, 'g', -1, 64),
			maker,
		}
		if err := cw.Write(record); err != nil {
			return count, fmt.Errorf("failed to write CSV row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("tick export scan failed: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return count, nil
}
