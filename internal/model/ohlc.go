package model

import "time"

// OHLCBar is one candlestick bucket.
type OHLCBar struct {
	Symbol     string
	Interval   string
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int
}
