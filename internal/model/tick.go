package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Tick is a single normalized trade event from the exchange.
// Ticks are immutable once produced by the gateway.
type Tick struct {
	Symbol       string
	TradeID      int64
	Price        float64
	Qty          float64
	Timestamp    int64 // event time, milliseconds since epoch
	IsBuyerMaker bool
}

// Fields encodes the tick as string fields for broker stream storage.
// Floats use the shortest representation that round-trips exactly.
func (t Tick) Fields() map[string]interface{} {
	maker := "0"
	if t.IsBuyerMaker {
		maker = "1"
	}
	return map[string]interface{}{
		"symbol":         t.Symbol,
		"trade_id":       strconv.FormatInt(t.TradeID, 10),
		"price":          strconv.FormatFloat(t.Price, 'g', -1, 64),
		"qty":            strconv.FormatFloat(t.Qty, 'g', -1, 64),
		"timestamp":      strconv.FormatInt(t.Timestamp, 10),
		"is_buyer_maker": maker,
	}
}

// TickFromFields decodes a tick from broker stream fields.
func TickFromFields(fields map[string]interface{}) (Tick, error) {
	get := func(k string) (string, error) {
		v, ok := fields[k]
		if !ok {
			return "", fmt.Errorf("missing field %q", k)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("field %q is not a string", k)
		}
		return s, nil
	}

	var t Tick
	var err error

	if t.Symbol, err = get("symbol"); err != nil {
		return t, err
	}
	t.Symbol = strings.ToUpper(t.Symbol)

	s, err := get("trade_id")
	if err != nil {
		return t, err
	}
	if t.TradeID, err = strconv.ParseInt(s, 10, 64); err != nil {
		return t, fmt.Errorf("invalid trade_id %q: %w", s, err)
	}

	if s, err = get("price"); err != nil {
		return t, err
	}
	if t.Price, err = strconv.ParseFloat(s, 64); err != nil {
		return t, fmt.Errorf("invalid price %q: %w", s, err)
	}

	if s, err = get("qty"); err != nil {
		return t, err
	}
	if t.Qty, err = strconv.ParseFloat(s, 64); err != nil {
		return t, fmt.Errorf("invalid qty %q: %w", s, err)
	}

	if s, err = get("timestamp"); err != nil {
		return t, err
	}
	if t.Timestamp, err = strconv.ParseInt(s, 10, 64); err != nil {
		return t, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}

	if s, err = get("is_buyer_maker"); err != nil {
		return t, err
	}
	t.IsBuyerMaker = s == "1"

	return t, nil
}
