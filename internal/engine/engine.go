package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gemscap/quantpipe/internal/broker"
	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/metrics"
	"github.com/gemscap/quantpipe/internal/model"
)

const (
	readCount    = 100
	readBlock    = 500 * time.Millisecond
	singleEvery  = 500 * time.Millisecond
	pairEvery    = 1000 * time.Millisecond
	errorBackoff = time.Second
	adfMinPoints = 50
)

// Broker is the slice of hot-store operations the engine needs.
type Broker interface {
	StreamRead(ctx context.Context, cursors map[string]string, count int64, block time.Duration) ([]broker.StreamBatch, error)
	StreamLastID(ctx context.Context, key string) (string, error)
	HashPut(ctx context.Context, key string, fields map[string]interface{}) error
	AddAlert(ctx context.Context, a model.Alert) error
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// pair is one ordered symbol pairing, first symbol regressed on the second.
type pair struct {
	a, b string
}

func (p pair) key() string { return p.a + ":" + p.b }

// Engine consumes tick streams and publishes rolling analytics. Single-symbol
// snapshots refresh on a faster cadence than the heavier pair snapshots.
type Engine struct {
	cfg    config.Settings
	broker Broker

	symbols []string
	pairs   []pair
	windows map[string]*Window

	// previous stationarity verdict per pair, for change alerts
	wasStationary map[string]bool

	alertGate map[string]*rate.Limiter

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an engine over the configured symbols. Every unordered symbol
// combination becomes one analytics pair.
func New(cfg config.Settings, b Broker) *Engine {
	symbols := cfg.UpperSymbols()
	windows := make(map[string]*Window, len(symbols))
	for _, s := range symbols {
		windows[s] = NewWindow(cfg.RollingWindowTicks)
	}
	var pairs []pair
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			pairs = append(pairs, pair{a: symbols[i], b: symbols[j]})
		}
	}
	return &Engine{
		cfg:           cfg,
		broker:        b,
		symbols:       symbols,
		pairs:         pairs,
		windows:       windows,
		wasStationary: make(map[string]bool, len(pairs)),
		alertGate:     make(map[string]*rate.Limiter),
	}
}

// Start launches the consume loop. Returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already running")
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()
	log.Info().Int("symbols", len(e.symbols)).Int("pairs", len(e.pairs)).Msg("engine started")
	return nil
}

// Stop halts the consume loop and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	log.Info().Msg("engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	cursors := e.bootstrapCursors(ctx)

	var lastSingle, lastPair time.Time
	for ctx.Err() == nil {
		batches, err := e.broker.StreamRead(ctx, cursors, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("tick stream read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}
		now := time.Now()
		e.ingest(batches, cursors)

		if now.Sub(lastSingle) >= singleEvery {
			lastSingle = now
			e.computeSingles(ctx, now)
		}
		if now.Sub(lastPair) >= pairEvery {
			lastPair = now
			e.computePairs(ctx, now)
		}
	}
}

// bootstrapCursors probes each stream's tail so only ticks arriving after
// startup are consumed. Probe failures fall back to reading the whole stream.
func (e *Engine) bootstrapCursors(ctx context.Context) map[string]string {
	cursors := make(map[string]string, len(e.symbols))
	for _, sym := range e.symbols {
		key := config.TickStreamKey(sym)
		id, err := e.broker.StreamLastID(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("stream", key).Msg("cursor bootstrap failed, reading from start")
			id = "0"
		}
		cursors[key] = id
	}
	return cursors
}

func (e *Engine) ingest(batches []broker.StreamBatch, cursors map[string]string) {
	for _, batch := range batches {
		for _, entry := range batch.Entries {
			tick, err := model.TickFromFields(entry.Fields)
			if err != nil {
				log.Warn().Err(err).Str("stream", batch.Key).Str("id", entry.ID).
					Msg("skipping malformed tick entry")
				continue
			}
			if w, ok := e.windows[tick.Symbol]; ok {
				w.Push(tick.Price, tick.Qty, tick.Timestamp)
			}
		}
		if n := len(batch.Entries); n > 0 {
			cursors[batch.Key] = batch.Entries[n-1].ID
		}
	}
}

func (e *Engine) computeSingles(ctx context.Context, now time.Time) {
	started := time.Now()
	for _, sym := range e.symbols {
		snap := e.singleSnapshot(sym, now)
		if snap == nil {
			continue
		}
		key := config.AnalyticsStateKey(snap.Key())
		if err := e.broker.HashPut(ctx, key, snap.Fields()); err != nil {
			log.Error().Err(err).Str("key", key).Msg("snapshot publish failed")
		}
	}
	metrics.ComputeDuration.WithLabelValues("single").Observe(time.Since(started).Seconds())
}

// singleSnapshot builds the per-symbol snapshot. VWAP and price change are
// reported whenever computable; the warm-up floor only affects
// validity_status and the pair pipeline.
func (e *Engine) singleSnapshot(sym string, now time.Time) *model.AnalyticsSnapshot {
	w := e.windows[sym]
	if w.Len() == 0 {
		return nil
	}
	last, _ := w.Last()
	snap := &model.AnalyticsSnapshot{
		Symbol:          sym,
		Timestamp:       now.UnixMilli(),
		LastPrice:       last,
		DataFreshnessMs: freshness(now, w),
		ValidityStatus:  model.ValidityFor(w.Len(), w.Cap()),
		TickCount:       w.Len(),
	}
	if pct, ok := w.PriceChangePct(); ok {
		snap.PriceChangePct = model.Float64Ptr(pct)
	}
	if vwap, ok := w.VWAP(); ok {
		snap.VWAP = model.Float64Ptr(vwap)
	}
	return snap
}

func (e *Engine) computePairs(ctx context.Context, now time.Time) {
	started := time.Now()
	for _, p := range e.pairs {
		snap := e.pairSnapshot(p, now)
		if snap == nil {
			continue
		}
		key := config.AnalyticsStateKey(snap.Key())
		if err := e.broker.HashPut(ctx, key, snap.Fields()); err != nil {
			log.Error().Err(err).Str("key", key).Msg("pair snapshot publish failed")
			continue
		}
		e.checkZScoreAlert(ctx, p, snap, now)
		e.checkStationarityChange(ctx, p, snap, now)
	}
	metrics.ComputeDuration.WithLabelValues("pair").Observe(time.Since(started).Seconds())
}

// pairSnapshot runs the pair pipeline: hedge ratio by OLS, spread, spread
// z-score, price correlation, and a stationarity test once enough points
// accumulated.
func (e *Engine) pairSnapshot(p pair, now time.Time) *model.AnalyticsSnapshot {
	wa, wb := e.windows[p.a], e.windows[p.b]
	if wa.Len() == 0 || wb.Len() == 0 {
		return nil
	}
	n := wa.Len()
	if wb.Len() < n {
		n = wb.Len()
	}
	lastA, _ := wa.Last()

	snap := &model.AnalyticsSnapshot{
		Symbol:          p.a,
		PairSymbol:      p.b,
		Timestamp:       now.UnixMilli(),
		LastPrice:       lastA,
		DataFreshnessMs: freshness(now, wa, wb),
		ValidityStatus:  model.ValidityFor(n, wa.Cap()),
		TickCount:       n,
	}
	if n < model.MinPointsForAnalytics {
		return snap
	}

	ya, xb := alignTails(wa.Prices(), wb.Prices())
	beta, ok := olsBeta(ya, xb)
	if !ok {
		return snap
	}
	snap.HedgeRatio = model.Float64Ptr(beta)

	spread := spreadSeries(ya, xb, beta)
	snap.Spread = model.Float64Ptr(spread[len(spread)-1])
	snap.ZScore = model.Float64Ptr(zScore(spread, zScoreWindow))

	if corr, ok := correlation(ya, xb, correlationWindow); ok {
		snap.Correl = model.Float64Ptr(corr)
	}

	if len(spread) >= adfMinPoints {
		if res, ok := adfTest(spread); ok {
			snap.ADFStatistic = model.Float64Ptr(res.Statistic)
			snap.ADFPValue = model.Float64Ptr(res.PValue)
			snap.IsStationary = model.BoolPtr(res.PValue < stationaryPValue)
		}
	}
	return snap
}

// freshness is the time since the newest tick, by exchange event timestamp.
// For a pair it is measured from the staler side. -1 when any window is empty.
func freshness(now time.Time, windows ...*Window) int64 {
	oldest := int64(0)
	seen := false
	for _, w := range windows {
		ts, ok := w.LastTimestamp()
		if !ok {
			return -1
		}
		if !seen || ts < oldest {
			oldest = ts
			seen = true
		}
	}
	if !seen {
		return -1
	}
	return now.UnixMilli() - oldest
}

// allowAlert gates one alert key by the configured minimum interval. A zero
// interval means no gating.
func (e *Engine) allowAlert(key string) bool {
	if e.cfg.AlertMinIntervalSeconds <= 0 {
		return true
	}
	lim, ok := e.alertGate[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Duration(e.cfg.AlertMinIntervalSeconds)*time.Second), 1)
		e.alertGate[key] = lim
	}
	return lim.Allow()
}

func (e *Engine) checkZScoreAlert(ctx context.Context, p pair, snap *model.AnalyticsSnapshot, now time.Time) {
	if snap.ZScore == nil {
		return
	}
	z := *snap.ZScore
	threshold := e.cfg.ZScoreAlertThreshold

	var kind model.AlertType
	var msg string
	switch {
	case z > threshold:
		kind = model.AlertZScoreHigh
		msg = fmt.Sprintf("Z-score above threshold: %.2f > %g", z, threshold)
	case z < -threshold:
		kind = model.AlertZScoreLow
		msg = fmt.Sprintf("Z-score below threshold: %.2f < -%g", z, threshold)
	default:
		return
	}
	if !e.allowAlert(p.key() + ":" + string(kind)) {
		return
	}
	e.raise(ctx, model.Alert{
		ID:        uuid.NewString(),
		Type:      kind,
		Symbol:    p.key(),
		Message:   msg,
		Timestamp: now.UnixMilli(),
		Severity:  model.SeverityWarning,
		Value:     model.Float64Ptr(z),
		Threshold: model.Float64Ptr(threshold),
	})
}

// checkStationarityChange raises an informational alert when a pair's spread
// flips between stationary and non-stationary.
func (e *Engine) checkStationarityChange(ctx context.Context, p pair, snap *model.AnalyticsSnapshot, now time.Time) {
	if snap.IsStationary == nil {
		return
	}
	prev, seen := e.wasStationary[p.key()]
	e.wasStationary[p.key()] = *snap.IsStationary
	if !seen || prev == *snap.IsStationary {
		return
	}
	state := "non-stationary"
	if *snap.IsStationary {
		state = "stationary"
	}
	if !e.allowAlert(p.key() + ":" + string(model.AlertStationarityChange)) {
		return
	}
	e.raise(ctx, model.Alert{
		ID:        uuid.NewString(),
		Type:      model.AlertStationarityChange,
		Symbol:    p.key(),
		Message:   fmt.Sprintf("Spread became %s (p=%.4f)", state, *snap.ADFPValue),
		Timestamp: now.UnixMilli(),
		Severity:  model.SeverityInfo,
		Value:     snap.ADFPValue,
		Threshold: model.Float64Ptr(stationaryPValue),
	})
}

func (e *Engine) raise(ctx context.Context, a model.Alert) {
	if err := e.broker.AddAlert(ctx, a); err != nil {
		log.Error().Err(err).Str("type", string(a.Type)).Str("symbol", a.Symbol).
			Msg("alert store failed")
		return
	}
	if err := e.broker.Publish(ctx, config.ChannelAlerts, a.Fields()); err != nil {
		log.Error().Err(err).Str("type", string(a.Type)).Str("symbol", a.Symbol).
			Msg("alert publish failed")
	}
	metrics.AlertsRaised.WithLabelValues(string(a.Type)).Inc()
}
