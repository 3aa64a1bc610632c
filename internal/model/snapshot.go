package model

import "strconv"

// ValidityStatus indicates whether enough data is present for reliable analytics.
type ValidityStatus string

const (
	ValidityInsufficient ValidityStatus = "insufficient"
	ValidityWarmingUp    ValidityStatus = "warming_up"
	ValidityValid        ValidityStatus = "valid"
)

// MinPointsForAnalytics is the warm-up floor: below this many ticks a window
// is insufficient for any analytics.
const MinPointsForAnalytics = 20

// ValidityFor classifies a window of tickCount ticks against windowSize.
func ValidityFor(tickCount, windowSize int) ValidityStatus {
	switch {
	case tickCount < MinPointsForAnalytics:
		return ValidityInsufficient
	case tickCount < windowSize:
		return ValidityWarmingUp
	default:
		return ValidityValid
	}
}

// AnalyticsSnapshot is a point-in-time analytics result for a symbol or pair.
// Optional fields are pointers; nil means the field is omitted from the hot
// store hash entirely.
type AnalyticsSnapshot struct {
	Symbol     string
	PairSymbol string // empty for single-symbol snapshots
	Timestamp  int64  // milliseconds

	LastPrice      float64
	PriceChangePct *float64
	VWAP           *float64

	// Pair analytics
	Spread     *float64
	HedgeRatio *float64
	ZScore     *float64
	Correl     *float64

	// Stationarity
	ADFStatistic *float64
	ADFPValue    *float64
	IsStationary *bool

	DataFreshnessMs int64
	ValidityStatus  ValidityStatus
	TickCount       int
}

// Key returns the analytics state key suffix: SYMBOL or SYMBOL:PAIR.
func (s AnalyticsSnapshot) Key() string {
	if s.PairSymbol != "" {
		return s.Symbol + ":" + s.PairSymbol
	}
	return s.Symbol
}

// Fields encodes the snapshot for hot-store hash storage. Nil optionals are
// simply not present.
func (s AnalyticsSnapshot) Fields() map[string]interface{} {
	m := map[string]interface{}{
		"symbol":            s.Symbol,
		"timestamp":         strconv.FormatInt(s.Timestamp, 10),
		"last_price":        formatFloat(s.LastPrice),
		"data_freshness_ms": strconv.FormatInt(s.DataFreshnessMs, 10),
		"validity_status":   string(s.ValidityStatus),
		"tick_count":        strconv.Itoa(s.TickCount),
	}
	if s.PairSymbol != "" {
		m["pair_symbol"] = s.PairSymbol
	}
	putFloat(m, "price_change_pct", s.PriceChangePct)
	putFloat(m, "vwap", s.VWAP)
	putFloat(m, "spread", s.Spread)
	putFloat(m, "hedge_ratio", s.HedgeRatio)
	putFloat(m, "z_score", s.ZScore)
	putFloat(m, "correlation", s.Correl)
	putFloat(m, "adf_statistic", s.ADFStatistic)
	putFloat(m, "adf_pvalue", s.ADFPValue)
	if s.IsStationary != nil {
		if *s.IsStationary {
			m["is_stationary"] = "1"
		} else {
			m["is_stationary"] = "0"
		}
	}
	return m
}

// SnapshotFromFields decodes a snapshot from a hot-store hash. Missing
// optional fields stay nil; malformed scalar fields are an error.
func SnapshotFromFields(fields map[string]string) (AnalyticsSnapshot, error) {
	var s AnalyticsSnapshot
	s.Symbol = fields["symbol"]
	s.PairSymbol = fields["pair_symbol"]
	s.ValidityStatus = ValidityStatus(fields["validity_status"])

	var err error
	if v, ok := fields["timestamp"]; ok {
		if s.Timestamp, err = strconv.ParseInt(v, 10, 64); err != nil {
			return s, err
		}
	}
	if v, ok := fields["last_price"]; ok {
		if s.LastPrice, err = strconv.ParseFloat(v, 64); err != nil {
			return s, err
		}
	}
	if v, ok := fields["data_freshness_ms"]; ok {
		if s.DataFreshnessMs, err = strconv.ParseInt(v, 10, 64); err != nil {
			return s, err
		}
	}
	if v, ok := fields["tick_count"]; ok {
		if s.TickCount, err = strconv.Atoi(v); err != nil {
			return s, err
		}
	}
	if s.PriceChangePct, err = parseOptFloat(fields, "price_change_pct"); err != nil {
		return s, err
	}
	if s.VWAP, err = parseOptFloat(fields, "vwap"); err != nil {
		return s, err
	}
	if s.Spread, err = parseOptFloat(fields, "spread"); err != nil {
		return s, err
	}
	if s.HedgeRatio, err = parseOptFloat(fields, "hedge_ratio"); err != nil {
		return s, err
	}
	if s.ZScore, err = parseOptFloat(fields, "z_score"); err != nil {
		return s, err
	}
	if s.Correl, err = parseOptFloat(fields, "correlation"); err != nil {
		return s, err
	}
	if s.ADFStatistic, err = parseOptFloat(fields, "adf_statistic"); err != nil {
		return s, err
	}
	if s.ADFPValue, err = parseOptFloat(fields, "adf_pvalue"); err != nil {
		return s, err
	}
	if v, ok := fields["is_stationary"]; ok {
		b := v == "1"
		s.IsStationary = &b
	}
	return s, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func putFloat(m map[string]interface{}, key string, v *float64) {
	if v != nil {
		m[key] = formatFloat(*v)
	}
}

func parseOptFloat(fields map[string]string, key string) (*float64, error) {
	v, ok := fields[key]
	if !ok || v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Float64Ptr returns a pointer to v. Convenience for optional snapshot fields.
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
