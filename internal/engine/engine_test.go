package engine

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemscap/quantpipe/internal/broker"
	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/model"
)

type fakeBroker struct {
	mu      sync.Mutex
	hashes  map[string]map[string]interface{}
	alerts  []model.Alert
	pubs    []string
	lastIDs map[string]string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		hashes:  make(map[string]map[string]interface{}),
		lastIDs: make(map[string]string),
	}
}

func (f *fakeBroker) StreamRead(context.Context, map[string]string, int64, time.Duration) ([]broker.StreamBatch, error) {
	return nil, nil
}

func (f *fakeBroker) StreamLastID(_ context.Context, key string) (string, error) {
	if id, ok := f.lastIDs[key]; ok {
		return id, nil
	}
	return "0", nil
}

func (f *fakeBroker) HashPut(_ context.Context, key string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[key] = fields
	return nil
}

func (f *fakeBroker) AddAlert(_ context.Context, a model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, channel)
	return nil
}

func testSettings() config.Settings {
	s, _ := config.Load("")
	s.Symbols = []string{"btcusdt", "ethusdt"}
	return s
}

func tickEntry(id string, t model.Tick) broker.StreamEntry {
	return broker.StreamEntry{ID: id, Fields: t.Fields()}
}

func TestIngestAdvancesCursorsAndFillsWindows(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	cursors := map[string]string{config.TickStreamKey("BTCUSDT"): "0"}

	batches := []broker.StreamBatch{{
		Key: config.TickStreamKey("BTCUSDT"),
		Entries: []broker.StreamEntry{
			tickEntry("1-0", model.Tick{Symbol: "BTCUSDT", TradeID: 1, Price: 100, Qty: 1, Timestamp: 1}),
			tickEntry("2-0", model.Tick{Symbol: "BTCUSDT", TradeID: 2, Price: 101, Qty: 2, Timestamp: 2}),
		},
	}}
	e.ingest(batches, cursors)

	assert.Equal(t, "2-0", cursors[config.TickStreamKey("BTCUSDT")])
	assert.Equal(t, 2, e.windows["BTCUSDT"].Len())
	assert.Zero(t, e.windows["ETHUSDT"].Len())
}

func TestIngestSkipsMalformedEntries(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	cursors := map[string]string{config.TickStreamKey("BTCUSDT"): "0"}

	batches := []broker.StreamBatch{{
		Key: config.TickStreamKey("BTCUSDT"),
		Entries: []broker.StreamEntry{
			{ID: "1-0", Fields: map[string]interface{}{"price": "not a number"}},
			tickEntry("2-0", model.Tick{Symbol: "BTCUSDT", TradeID: 2, Price: 101, Qty: 2, Timestamp: 2}),
		},
	}}
	e.ingest(batches, cursors)

	assert.Equal(t, 1, e.windows["BTCUSDT"].Len())
	assert.Equal(t, "2-0", cursors[config.TickStreamKey("BTCUSDT")])
}

func TestSingleSnapshotWarmup(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	now := time.Now()

	assert.Nil(t, e.singleSnapshot("BTCUSDT", now))

	ts := now.Add(-time.Second).UnixMilli()
	for i := 0; i < 5; i++ {
		e.windows["BTCUSDT"].Push(100+float64(i), 1, ts)
	}
	snap := e.singleSnapshot("BTCUSDT", now)
	require.NotNil(t, snap)
	assert.Equal(t, model.ValidityInsufficient, snap.ValidityStatus)
	assert.Equal(t, 5, snap.TickCount)
	assert.Equal(t, 104.0, snap.LastPrice)
	// VWAP and price change do not wait for the warm-up floor.
	require.NotNil(t, snap.VWAP)
	assert.InDelta(t, 102.0, *snap.VWAP, 1e-12)
	require.NotNil(t, snap.PriceChangePct)
	assert.InDelta(t, 4.0, *snap.PriceChangePct, 1e-12)
	assert.Equal(t, now.UnixMilli()-ts, snap.DataFreshnessMs)
}

func TestSingleSnapshotFull(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	now := time.Now()
	ts := now.Add(-250 * time.Millisecond).UnixMilli()

	for i := 0; i < 100; i++ {
		e.windows["BTCUSDT"].Push(100+float64(i)*0.1, 2, ts)
	}
	snap := e.singleSnapshot("BTCUSDT", now)
	require.NotNil(t, snap)
	assert.Equal(t, model.ValidityValid, snap.ValidityStatus)
	require.NotNil(t, snap.VWAP)
	require.NotNil(t, snap.PriceChangePct)
	assert.Equal(t, now.UnixMilli()-ts, snap.DataFreshnessMs)
}

func TestFreshnessUsesTickEventTime(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	now := time.Now()

	// One tick whose exchange timestamp is 10 s old: freshness reflects the
	// event time, not when the engine read it.
	e.windows["BTCUSDT"].Push(100, 1, now.Add(-10*time.Second).UnixMilli())
	snap := e.singleSnapshot("BTCUSDT", now)
	require.NotNil(t, snap)
	assert.Equal(t, int64(10_000), snap.DataFreshnessMs)
}

func TestPairFreshnessUsesStalerSide(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	now := time.Now()

	e.windows["BTCUSDT"].Push(100, 1, now.Add(-time.Second).UnixMilli())
	e.windows["ETHUSDT"].Push(2000, 1, now.Add(-7*time.Second).UnixMilli())

	snap := e.pairSnapshot(pair{a: "BTCUSDT", b: "ETHUSDT"}, now)
	require.NotNil(t, snap)
	assert.Equal(t, int64(7_000), snap.DataFreshnessMs)
}

func TestComputeSinglesPublishesState(t *testing.T) {
	fb := newFakeBroker()
	e := New(testSettings(), fb)
	for i := 0; i < 30; i++ {
		e.windows["BTCUSDT"].Push(100, 1, int64(i))
	}
	e.computeSingles(context.Background(), time.Now())

	fields, ok := fb.hashes[config.AnalyticsStateKey("BTCUSDT")]
	require.True(t, ok)
	assert.Equal(t, "warming_up", fields["validity_status"])
	_, hasPair := fb.hashes[config.AnalyticsStateKey("ETHUSDT")]
	assert.False(t, hasPair) // empty window publishes nothing
}

func TestPairSnapshotHedgeRatioAndStationarity(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	now := time.Now()

	// ETH drives BTC at a fixed ratio with a small oscillation so the spread
	// is stationary and both series have variance.
	for i := 0; i < 100; i++ {
		x := 2000 + float64(i)
		osc := 0.5
		if i%2 == 0 {
			osc = -0.5
		}
		e.windows["ETHUSDT"].Push(x, 1, int64(i))
		e.windows["BTCUSDT"].Push(16*x+osc, 1, int64(i))
	}

	snap := e.pairSnapshot(pair{a: "BTCUSDT", b: "ETHUSDT"}, now)
	require.NotNil(t, snap)
	assert.Equal(t, "BTCUSDT:ETHUSDT", snap.Key())
	require.NotNil(t, snap.HedgeRatio)
	assert.InDelta(t, 16.0, *snap.HedgeRatio, 1e-3)
	require.NotNil(t, snap.ZScore)
	require.NotNil(t, snap.Correl)
	assert.InDelta(t, 1.0, *snap.Correl, 1e-3)
	require.NotNil(t, snap.IsStationary)
	assert.True(t, *snap.IsStationary)
}

func TestPairSnapshotConstantRegressor(t *testing.T) {
	e := New(testSettings(), newFakeBroker())
	now := time.Now()

	// A flat regressor has no variance. The hedge ratio falls back to zero
	// so the spread is the dependent series itself, and the pair metrics are
	// still published rather than dropped.
	for i := 0; i < 30; i++ {
		e.windows["ETHUSDT"].Push(2000, 1, int64(i))
		e.windows["BTCUSDT"].Push(100+float64(i%4), 1, int64(i))
	}

	snap := e.pairSnapshot(pair{a: "BTCUSDT", b: "ETHUSDT"}, now)
	require.NotNil(t, snap)
	assert.Equal(t, 30, snap.TickCount)
	require.NotNil(t, snap.HedgeRatio)
	assert.Zero(t, *snap.HedgeRatio)
	require.NotNil(t, snap.Spread)
	assert.Equal(t, snap.LastPrice, *snap.Spread)
	require.NotNil(t, snap.ZScore)
	require.NotNil(t, snap.Correl)
	assert.Zero(t, *snap.Correl)
}

func TestPairSnapshotBelowADFFloor(t *testing.T) {
	e := New(testSettings(), newFakeBroker())

	push := func(n int) {
		for i := 0; i < n; i++ {
			x := 2000 + float64(i)
			e.windows["ETHUSDT"].Push(x, 1, int64(i))
			e.windows["BTCUSDT"].Push(16*x+float64(i%3), 1, int64(i))
		}
	}

	push(49)
	snap := e.pairSnapshot(pair{a: "BTCUSDT", b: "ETHUSDT"}, time.Now())
	require.NotNil(t, snap)
	assert.NotNil(t, snap.HedgeRatio)
	assert.Nil(t, snap.ADFStatistic)
	assert.Nil(t, snap.ADFPValue)
	assert.Nil(t, snap.IsStationary)

	push(1)
	snap = e.pairSnapshot(pair{a: "BTCUSDT", b: "ETHUSDT"}, time.Now())
	require.NotNil(t, snap)
	assert.NotNil(t, snap.ADFStatistic)
	assert.NotNil(t, snap.ADFPValue)
	assert.NotNil(t, snap.IsStationary)
}

func TestPairSnapshotDeterministic(t *testing.T) {
	build := func() *model.AnalyticsSnapshot {
		e := New(testSettings(), newFakeBroker())
		for i := 0; i < 80; i++ {
			x := 1000 + float64(i*i%17)
			e.windows["ETHUSDT"].Push(x, 1, int64(i))
			e.windows["BTCUSDT"].Push(3*x+float64(i%5), 1, int64(i))
		}
		snap := e.pairSnapshot(pair{a: "BTCUSDT", b: "ETHUSDT"}, time.Time{})
		return snap
	}
	s1, s2 := build(), build()
	require.NotNil(t, s1)
	assert.Equal(t, s1, s2)
}

func TestZScoreAlertRaisedAndGated(t *testing.T) {
	fb := newFakeBroker()
	cfg := testSettings()
	cfg.AlertMinIntervalSeconds = 3600
	e := New(cfg, fb)
	now := time.Now()

	snap := &model.AnalyticsSnapshot{
		Symbol: "BTCUSDT", PairSymbol: "ETHUSDT",
		ZScore: model.Float64Ptr(2.5),
	}
	p := pair{a: "BTCUSDT", b: "ETHUSDT"}
	e.checkZScoreAlert(context.Background(), p, snap, now)

	require.Len(t, fb.alerts, 1)
	a := fb.alerts[0]
	assert.Equal(t, model.AlertZScoreHigh, a.Type)
	assert.Equal(t, "BTCUSDT:ETHUSDT", a.Symbol)
	assert.Equal(t, "Z-score above threshold: 2.50 > 2", a.Message)
	assert.Equal(t, model.SeverityWarning, a.Severity)
	assert.NotEmpty(t, a.ID)
	require.Len(t, fb.pubs, 1)
	assert.Equal(t, config.ChannelAlerts, fb.pubs[0])

	// Within the minimum interval the same alert key stays silent.
	e.checkZScoreAlert(context.Background(), p, snap, now)
	assert.Len(t, fb.alerts, 1)
}

func TestZScoreAlertLowSide(t *testing.T) {
	fb := newFakeBroker()
	e := New(testSettings(), fb)
	snap := &model.AnalyticsSnapshot{ZScore: model.Float64Ptr(-3.2)}
	e.checkZScoreAlert(context.Background(), pair{a: "A", b: "B"}, snap, time.Now())

	require.Len(t, fb.alerts, 1)
	assert.Equal(t, model.AlertZScoreLow, fb.alerts[0].Type)
	assert.Equal(t, "Z-score below threshold: -3.20 < -2", fb.alerts[0].Message)
}

func TestZScoreAlertWithinThresholdSilent(t *testing.T) {
	fb := newFakeBroker()
	e := New(testSettings(), fb)
	snap := &model.AnalyticsSnapshot{ZScore: model.Float64Ptr(1.5)}
	e.checkZScoreAlert(context.Background(), pair{a: "A", b: "B"}, snap, time.Now())
	assert.Empty(t, fb.alerts)
}

func TestStationarityChangeAlert(t *testing.T) {
	fb := newFakeBroker()
	e := New(testSettings(), fb)
	p := pair{a: "BTCUSDT", b: "ETHUSDT"}
	now := time.Now()

	stationary := &model.AnalyticsSnapshot{
		IsStationary: model.BoolPtr(true),
		ADFPValue:    model.Float64Ptr(0.01),
	}
	nonStationary := &model.AnalyticsSnapshot{
		IsStationary: model.BoolPtr(false),
		ADFPValue:    model.Float64Ptr(0.40),
	}

	// First observation only records the baseline.
	e.checkStationarityChange(context.Background(), p, stationary, now)
	assert.Empty(t, fb.alerts)

	e.checkStationarityChange(context.Background(), p, nonStationary, now)
	require.Len(t, fb.alerts, 1)
	assert.Equal(t, model.AlertStationarityChange, fb.alerts[0].Type)
	assert.Equal(t, model.SeverityInfo, fb.alerts[0].Severity)
	assert.Contains(t, fb.alerts[0].Message, "non-stationary")

	// Unchanged verdict stays silent.
	e.checkStationarityChange(context.Background(), p, nonStationary, now)
	assert.Len(t, fb.alerts, 1)
}

func TestBootstrapCursors(t *testing.T) {
	fb := newFakeBroker()
	fb.lastIDs[config.TickStreamKey("BTCUSDT")] = "1700000000000-3"
	e := New(testSettings(), fb)

	cursors := e.bootstrapCursors(context.Background())
	assert.Equal(t, "1700000000000-3", cursors[config.TickStreamKey("BTCUSDT")])
	assert.Equal(t, "0", cursors[config.TickStreamKey("ETHUSDT")])
}

func TestSnapshotFieldsRoundTripThroughState(t *testing.T) {
	fb := newFakeBroker()
	e := New(testSettings(), fb)
	for i := 0; i < 100; i++ {
		x := 2000 + float64(i)
		e.windows["ETHUSDT"].Push(x, 1, int64(i))
		e.windows["BTCUSDT"].Push(16*x+float64(i%2), 1, int64(i))
	}
	e.computePairs(context.Background(), time.Now())

	raw, ok := fb.hashes[config.AnalyticsStateKey("BTCUSDT:ETHUSDT")]
	require.True(t, ok)
	asStrings := make(map[string]string, len(raw))
	for k, v := range raw {
		asStrings[k] = v.(string)
	}
	snap, err := model.SnapshotFromFields(asStrings)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", snap.PairSymbol)
	require.NotNil(t, snap.HedgeRatio)
	hr, err := strconv.ParseFloat(asStrings["hedge_ratio"], 64)
	require.NoError(t, err)
	assert.Equal(t, hr, *snap.HedgeRatio)
}
