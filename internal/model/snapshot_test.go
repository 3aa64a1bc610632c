package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidityFor(t *testing.T) {
	window := 100

	assert.Equal(t, ValidityInsufficient, ValidityFor(0, window))
	assert.Equal(t, ValidityInsufficient, ValidityFor(19, window))
	assert.Equal(t, ValidityWarmingUp, ValidityFor(20, window))
	assert.Equal(t, ValidityWarmingUp, ValidityFor(99, window))
	assert.Equal(t, ValidityValid, ValidityFor(100, window))
	assert.Equal(t, ValidityValid, ValidityFor(150, window))
}

func TestSnapshotFieldsOmitsNilOptionals(t *testing.T) {
	s := AnalyticsSnapshot{
		Symbol:          "BTCUSDT",
		Timestamp:       1717000000000,
		LastPrice:       65000,
		DataFreshnessMs: 12,
		ValidityStatus:  ValidityWarmingUp,
		TickCount:       42,
	}
	fields := s.Fields()

	assert.NotContains(t, fields, "vwap")
	assert.NotContains(t, fields, "z_score")
	assert.NotContains(t, fields, "pair_symbol")
	assert.NotContains(t, fields, "is_stationary")
	assert.Equal(t, "warming_up", fields["validity_status"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := AnalyticsSnapshot{
		Symbol:          "BTCUSDT",
		PairSymbol:      "ETHUSDT",
		Timestamp:       1717000000000,
		LastPrice:       65000.25,
		Spread:          Float64Ptr(-13.75),
		HedgeRatio:      Float64Ptr(18.0421),
		ZScore:          Float64Ptr(2.31),
		Correl:          Float64Ptr(0.985),
		ADFStatistic:    Float64Ptr(-3.72),
		ADFPValue:       Float64Ptr(0.0039),
		IsStationary:    BoolPtr(true),
		DataFreshnessMs: 85,
		ValidityStatus:  ValidityValid,
		TickCount:       100,
	}

	encoded := make(map[string]string, len(s.Fields()))
	for k, v := range s.Fields() {
		encoded[k] = v.(string)
	}
	got, err := SnapshotFromFields(encoded)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSnapshotKey(t *testing.T) {
	single := AnalyticsSnapshot{Symbol: "BTCUSDT"}
	pair := AnalyticsSnapshot{Symbol: "BTCUSDT", PairSymbol: "ETHUSDT"}

	assert.Equal(t, "BTCUSDT", single.Key())
	assert.Equal(t, "BTCUSDT:ETHUSDT", pair.Key())
}

func TestAlertRoundTrip(t *testing.T) {
	a := Alert{
		ID:        "a6e0f2a4",
		Type:      AlertZScoreHigh,
		Symbol:    "BTCUSDT:ETHUSDT",
		Message:   "Z-score above threshold: 2.31 > 2.0",
		Timestamp: 1717000000000,
		Severity:  SeverityWarning,
		Value:     Float64Ptr(2.31),
		Threshold: Float64Ptr(2.0),
	}

	encoded := make(map[string]string)
	for k, v := range a.Fields() {
		encoded[k] = v.(string)
	}
	got, err := AlertFromFields(encoded)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestAlertFieldsEmptyOptionals(t *testing.T) {
	a := Alert{ID: "x", Type: AlertCustom, Symbol: "BTCUSDT", Timestamp: 1}
	fields := a.Fields()

	assert.Equal(t, "", fields["value"])
	assert.Equal(t, "", fields["threshold"])
	assert.Equal(t, "0", fields["acknowledged"])
}
