package archivist

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gemscap/quantpipe/internal/model"
)

// barsFromTicks rolls a tick batch into per-symbol bars of the given bucket
// width, oldest first. Ties on timestamp break by trade ID so open and close
// are deterministic.
func barsFromTicks(ticks []model.Tick, bucket time.Duration) []model.OHLCBar {
	if len(ticks) == 0 {
		return nil
	}
	sorted := make([]model.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].TradeID < sorted[j].TradeID
	})

	bucketMs := bucket.Milliseconds()
	type bkey struct {
		symbol string
		start  int64
	}
	bars := make(map[bkey]*model.OHLCBar)
	var order []bkey
	for _, t := range sorted {
		k := bkey{symbol: t.Symbol, start: t.Timestamp / bucketMs * bucketMs}
		b, ok := bars[k]
		if !ok {
			b = &model.OHLCBar{
				Symbol:   t.Symbol,
				Interval: bucket.String(),
				Time:     time.UnixMilli(k.start).UTC(),
				Open:     t.Price,
				High:     t.Price,
				Low:      t.Price,
			}
			bars[k] = b
			order = append(order, k)
		}
		if t.Price > b.High {
			b.High = t.Price
		}
		if t.Price < b.Low {
			b.Low = t.Price
		}
		b.Close = t.Price
		b.Volume += t.Qty
		b.TradeCount++
	}

	out := make([]model.OHLCBar, 0, len(order))
	for _, k := range order {
		out = append(out, *bars[k])
	}
	return out
}

// decodeAlertPayload parses the JSON hash published on the alert channel.
func decodeAlertPayload(payload string) (model.Alert, error) {
	var fields map[string]string
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return model.Alert{}, fmt.Errorf("bad alert payload: %w", err)
	}
	alert, err := model.AlertFromFields(fields)
	if err != nil {
		return model.Alert{}, fmt.Errorf("bad alert fields: %w", err)
	}
	if alert.ID == "" {
		return model.Alert{}, fmt.Errorf("alert payload missing id")
	}
	return alert, nil
}
