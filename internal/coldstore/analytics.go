package coldstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gemscap/quantpipe/internal/model"
)

// InsertAnalyticsSnapshot archives one analytics row. Nil optionals become
// SQL NULLs.
func (s *Store) InsertAnalyticsSnapshot(ctx context.Context, snap model.AnalyticsSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var pair sql.NullString
	if snap.PairSymbol != "" {
		pair = sql.NullString{String: snap.PairSymbol, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics
		(time, symbol, pair_symbol, last_price, price_change_pct, vwap,
		 spread, hedge_ratio, z_score, correlation,
		 adf_statistic, adf_pvalue, is_stationary, validity_status, tick_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		time.UnixMilli(snap.Timestamp).UTC(), snap.Symbol, pair,
		snap.LastPrice, snap.PriceChangePct, snap.VWAP,
		snap.Spread, snap.HedgeRatio, snap.ZScore, snap.Correl,
		snap.ADFStatistic, snap.ADFPValue, snap.IsStationary,
		string(snap.ValidityStatus), snap.TickCount)
	if err != nil {
		return fmt.Errorf("failed to archive analytics for %s: %w", snap.Key(), err)
	}
	return nil
}

type analyticsRow struct {
	Time           time.Time      `db:"time"`
	Symbol         string         `db:"symbol"`
	PairSymbol     sql.NullString `db:"pair_symbol"`
	LastPrice      float64        `db:"last_price"`
	PriceChangePct *float64       `db:"price_change_pct"`
	VWAP           *float64       `db:"vwap"`
	Spread         *float64       `db:"spread"`
	HedgeRatio     *float64       `db:"hedge_ratio"`
	ZScore         *float64       `db:"z_score"`
	Correlation    *float64       `db:"correlation"`
	ADFStatistic   *float64       `db:"adf_statistic"`
	ADFPValue      *float64       `db:"adf_pvalue"`
	IsStationary   *bool          `db:"is_stationary"`
	ValidityStatus string         `db:"validity_status"`
	TickCount      int            `db:"tick_count"`
}

func (r analyticsRow) toSnapshot() model.AnalyticsSnapshot {
	return model.AnalyticsSnapshot{
		Symbol:         r.Symbol,
		PairSymbol:     r.PairSymbol.String,
		Timestamp:      r.Time.UnixMilli(),
		LastPrice:      r.LastPrice,
		PriceChangePct: r.PriceChangePct,
		VWAP:           r.VWAP,
		Spread:         r.Spread,
		HedgeRatio:     r.HedgeRatio,
		ZScore:         r.ZScore,
		Correl:         r.Correlation,
		ADFStatistic:   r.ADFStatistic,
		ADFPValue:      r.ADFPValue,
		IsStationary:   r.IsStationary,
		ValidityStatus: model.ValidityStatus(r.ValidityStatus),
		TickCount:      r.TickCount,
	}
}

const analyticsColumns = `time, symbol, pair_symbol, last_price, price_change_pct, vwap,
	spread, hedge_ratio, z_score, correlation,
	adf_statistic, adf_pvalue, is_stationary, validity_status, tick_count`

// GetAnalyticsHistory returns archived single-symbol snapshots in [from, to],
// oldest first.
func (s *Store) GetAnalyticsHistory(ctx context.Context, symbol string, from, to time.Time) ([]model.AnalyticsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []analyticsRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+analyticsColumns+`
		FROM analytics
		WHERE symbol = $1 AND pair_symbol IS NULL AND time >= $2 AND time <= $3
		ORDER BY time ASC`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics history for %s: %w", symbol, err)
	}
	return snapshotsFromRows(rows), nil
}

// GetPairAnalyticsHistory returns archived pair snapshots in [from, to],
// oldest first.
func (s *Store) GetPairAnalyticsHistory(ctx context.Context, symbol, pairSymbol string, from, to time.Time) ([]model.AnalyticsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []analyticsRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+analyticsColumns+`
		FROM analytics
		WHERE symbol = $1 AND pair_symbol = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`, symbol, pairSymbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query pair analytics history for %s:%s: %w", symbol, pairSymbol, err)
	}
	return snapshotsFromRows(rows), nil
}

func snapshotsFromRows(rows []analyticsRow) []model.AnalyticsSnapshot {
	snaps := make([]model.AnalyticsSnapshot, 0, len(rows))
	for _, r := range rows {
		snaps = append(snaps, r.toSnapshot())
	}
	return snaps
}
