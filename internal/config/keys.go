package config

import "strings"

// Centralized hot-store key patterns. Symbols are always upper-cased in keys.

const (
	ChannelAlerts = "channel:alerts"
	ChannelLogs   = "channel:logs"

	AlertsActiveKey = "alerts:active"
)

// TickStreamKey returns the append-only tick stream key: stream:ticks:BTCUSDT.
func TickStreamKey(symbol string) string {
	return "stream:ticks:" + strings.ToUpper(symbol)
}

// PriceSeriesKey returns the raw price time-series key: ts:price:BTCUSDT.
func PriceSeriesKey(symbol string) string {
	return "ts:price:" + strings.ToUpper(symbol)
}

// AnalyticsStateKey returns the latest-analytics hash key for a symbol or a
// pair key of the form A:B.
func AnalyticsStateKey(key string) string {
	return "state:analytics:" + strings.ToUpper(key)
}

// AlertKey returns the hot alert hash key: alert:<id>.
func AlertKey(id string) string {
	return "alert:" + id
}
