package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/metrics"
	"github.com/gemscap/quantpipe/internal/model"
)

const (
	flushInterval     = 100 * time.Millisecond
	heartbeatInterval = 30 * time.Second
)

// Broker is the slice of hot-store operations the gateway needs.
type Broker interface {
	WriteTicks(ctx context.Context, symbol string, ticks []model.Tick) (int, error)
	Publish(ctx context.Context, channel string, payload interface{}) error
	AddAlert(ctx context.Context, a model.Alert) error
}

// Gateway ingests exchange trade streams and fans ticks into the hot store.
// One listener per symbol, one shared flush worker, one heartbeat reporter.
type Gateway struct {
	cfg    config.Settings
	broker Broker
	parser TradeParser

	buffers map[string]*tickBuffer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a gateway for the configured symbols.
func New(cfg config.Settings, broker Broker, parser TradeParser) *Gateway {
	if parser == nil {
		parser = BinanceParser{}
	}
	buffers := make(map[string]*tickBuffer, len(cfg.Symbols))
	for _, sym := range cfg.UpperSymbols() {
		buffers[sym] = &tickBuffer{}
	}
	return &Gateway{
		cfg:     cfg,
		broker:  broker,
		parser:  parser,
		buffers: buffers,
	}
}

// Start launches the listeners and workers. Returns immediately.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("gateway already running")
	}

	ctx, g.cancel = context.WithCancel(ctx)
	g.running = true

	for sym := range g.buffers {
		l := &listener{
			symbol: sym,
			url:    g.parser.StreamURL(g.cfg.ExchangeWSURL, sym),
			parser: g.parser,
			buf:    g.buffers[sym],
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			l.run(ctx)
		}()
	}

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.flushLoop(ctx)
	}()
	go func() {
		defer g.wg.Done()
		g.heartbeatLoop(ctx)
	}()

	log.Info().Int("symbols", len(g.buffers)).Msg("gateway started")
	return nil
}

// Stop shuts down listeners and drains buffered ticks.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	cancel := g.cancel
	g.mu.Unlock()

	cancel()
	g.wg.Wait()

	// Final drain so a clean shutdown loses nothing already parsed.
	drainCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	g.flushOnce(drainCtx)
	log.Info().Msg("gateway stopped")
}

func (g *Gateway) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.flushOnce(ctx)
		}
	}
}

func (g *Gateway) flushOnce(ctx context.Context) {
	for sym, buf := range g.buffers {
		ticks := buf.Take()
		if len(ticks) == 0 {
			continue
		}
		n, err := g.broker.WriteTicks(ctx, sym, ticks)
		if err != nil {
			log.Error().Err(err).Str("symbol", sym).Int("buffered", len(ticks)).
				Msg("tick flush failed")
			continue
		}
		metrics.TicksIngested.WithLabelValues(sym).Add(float64(n))
		metrics.FlushBatchSize.Observe(float64(n))
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.heartbeat(ctx, now)
		}
	}
}

// heartbeat reports the cumulative per-symbol tick count and freshness on the
// log channel and raises staleness alerts when enabled.
func (g *Gateway) heartbeat(ctx context.Context, now time.Time) {
	for sym, buf := range g.buffers {
		received, lastTick := buf.Stats()

		freshness := int64(-1)
		if !lastTick.IsZero() {
			freshness = now.Sub(lastTick).Milliseconds()
			metrics.TickFreshness.WithLabelValues(sym).Set(float64(freshness))
		}

		level := "INFO"
		if freshness > g.cfg.DataStaleThresholdMs {
			level = "WARN"
		}
		entry := model.LogEntry{
			Timestamp: now.UnixMilli(),
			Service:   "gateway",
			Level:     level,
			Operation: "heartbeat",
			Key:       sym,
			Message:   fmt.Sprintf("ticks=%d freshness_ms=%d", received, freshness),
		}
		if err := g.broker.Publish(ctx, config.ChannelLogs, entry); err != nil {
			log.Error().Err(err).Str("symbol", sym).Msg("heartbeat publish failed")
		}

		if g.cfg.DataStaleAlertEnabled && freshness > g.cfg.DataStaleThresholdMs {
			g.raiseStaleAlert(ctx, sym, freshness, now)
		}
	}
}

func (g *Gateway) raiseStaleAlert(ctx context.Context, sym string, freshnessMs int64, now time.Time) {
	a := model.Alert{
		ID:        uuid.NewString(),
		Type:      model.AlertDataStale,
		Symbol:    sym,
		Message:   fmt.Sprintf("No ticks for %dms (threshold %dms)", freshnessMs, g.cfg.DataStaleThresholdMs),
		Timestamp: now.UnixMilli(),
		Severity:  model.SeverityWarning,
		Value:     model.Float64Ptr(float64(freshnessMs)),
		Threshold: model.Float64Ptr(float64(g.cfg.DataStaleThresholdMs)),
	}
	if err := g.broker.AddAlert(ctx, a); err != nil {
		log.Error().Err(err).Str("symbol", sym).Msg("stale alert store failed")
		return
	}
	if err := g.broker.Publish(ctx, config.ChannelAlerts, a.Fields()); err != nil {
		log.Error().Err(err).Str("symbol", sym).Msg("stale alert publish failed")
	}
	metrics.AlertsRaised.WithLabelValues(string(model.AlertDataStale)).Inc()
}
