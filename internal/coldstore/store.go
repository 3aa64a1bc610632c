package coldstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Store is the durable archive behind the hot store. Backed by TimescaleDB
// but degrades to plain PostgreSQL when the extension is unavailable.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to the cold store and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("invalid cold store URL: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cold store unreachable: %w", err)
	}
	return &Store{db: db, timeout: 30 * time.Second}, nil
}

// NewFromDB wraps an existing connection. Used by tests.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: 30 * time.Second}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ticks (
		time        TIMESTAMPTZ NOT NULL,
		symbol      TEXT NOT NULL,
		trade_id    BIGINT NOT NULL,
		price       DOUBLE PRECISION NOT NULL,
		quantity    DOUBLE PRECISION NOT NULL,
		is_buyer_maker BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS ohlc (
		time        TIMESTAMPTZ NOT NULL,
		symbol      TEXT NOT NULL,
		interval    TEXT NOT NULL,
		open        DOUBLE PRECISION NOT NULL,
		high        DOUBLE PRECISION NOT NULL,
		low         DOUBLE PRECISION NOT NULL,
		close       DOUBLE PRECISION NOT NULL,
		volume      DOUBLE PRECISION NOT NULL,
		trade_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE (time, symbol, interval)
	)`,
	`CREATE TABLE IF NOT EXISTS analytics (
		time            TIMESTAMPTZ NOT NULL,
		symbol          TEXT NOT NULL,
		pair_symbol     TEXT,
		last_price      DOUBLE PRECISION,
		price_change_pct DOUBLE PRECISION,
		vwap            DOUBLE PRECISION,
		spread          DOUBLE PRECISION,
		hedge_ratio     DOUBLE PRECISION,
		z_score         DOUBLE PRECISION,
		correlation     DOUBLE PRECISION,
		adf_statistic   DOUBLE PRECISION,
		adf_pvalue      DOUBLE PRECISION,
		is_stationary   BOOLEAN,
		validity_status TEXT,
		tick_count      INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		time        TIMESTAMPTZ NOT NULL,
		alert_id    TEXT NOT NULL,
		alert_type  TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		severity    TEXT NOT NULL,
		message     TEXT,
		value       DOUBLE PRECISION,
		threshold   DOUBLE PRECISION,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ticks_symbol_time ON ticks (symbol, time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ohlc_symbol_time ON ohlc (symbol, interval, time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_symbol_time ON analytics (symbol, time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts (time DESC)`,
}

var hypertableStatements = []string{
	`SELECT create_hypertable('ticks', 'time', if_not_exists => TRUE)`,
	`SELECT create_hypertable('ohlc', 'time', if_not_exists => TRUE)`,
	`SELECT create_hypertable('analytics', 'time', if_not_exists => TRUE)`,
	`SELECT create_hypertable('alerts', 'time', if_not_exists => TRUE)`,
}

// Bootstrap creates the schema if it does not exist. Hypertable conversion is
// attempted but not required; without the timescaledb extension the tables
// stay plain.
func (s *Store) Bootstrap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	for _, stmt := range hypertableStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.Warn().Err(err).Msg("hypertable conversion skipped")
			break
		}
	}
	return nil
}
