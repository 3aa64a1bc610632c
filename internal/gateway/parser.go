package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gemscap/quantpipe/internal/model"
)

// TradeParser turns one raw websocket frame into a tick. ok is false for
// frames that are valid but not trades (subscription acks, other event
// types); those are skipped without logging.
type TradeParser interface {
	Parse(data []byte) (tick model.Tick, ok bool, err error)
	// StreamURL returns the full websocket URL for a symbol's trade stream.
	StreamURL(baseURL, symbol string) string
}

// binanceTradeEvent is the futures trade stream payload.
type binanceTradeEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	IsMaker   bool   `json:"m"`
}

// BinanceParser decodes Binance futures trade stream frames.
type BinanceParser struct{}

func (BinanceParser) Parse(data []byte) (model.Tick, bool, error) {
	var ev binanceTradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Tick{}, false, fmt.Errorf("malformed frame: %w", err)
	}
	if ev.EventType != "trade" {
		return model.Tick{}, false, nil
	}
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return model.Tick{}, false, fmt.Errorf("bad price %q: %w", ev.Price, err)
	}
	qty, err := strconv.ParseFloat(ev.Quantity, 64)
	if err != nil {
		return model.Tick{}, false, fmt.Errorf("bad quantity %q: %w", ev.Quantity, err)
	}
	return model.Tick{
		Symbol:       strings.ToUpper(ev.Symbol),
		TradeID:      ev.TradeID,
		Price:        price,
		Qty:          qty,
		Timestamp:    ev.TradeTime,
		IsBuyerMaker: ev.IsMaker,
	}, true, nil
}

func (BinanceParser) StreamURL(baseURL, symbol string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.ToLower(symbol) + "@trade"
}
