package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/model"
)

// WriteTicks flushes a batch of ticks for one symbol in a single round trip:
// one stream append and one price sample per tick. Returns the number of
// ticks durably appended to the stream.
func (c *Client) WriteTicks(ctx context.Context, symbol string, ticks []model.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	streamKey := config.TickStreamKey(symbol)
	seriesKey := config.PriceSeriesKey(symbol)
	minID := retentionMinID(time.Now())

	started := time.Now()
	pipe := c.rdb.Pipeline()
	streamCmds := make([]*redis.StringCmd, 0, len(ticks))
	seriesCmds := make([]*redis.Cmd, 0, len(ticks))
	for _, t := range ticks {
		streamCmds = append(streamCmds, pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey,
			MinID:  minID,
			Approx: true,
			Values: t.Fields(),
		}))
		seriesCmds = append(seriesCmds, pipe.Do(ctx, "TS.ADD", seriesKey, t.Timestamp, t.Price,
			"RETENTION", SeriesRetentionMs,
			"ON_DUPLICATE", "LAST"))
	}
	_, execErr := pipe.Exec(ctx)

	appended := 0
	for _, cmd := range streamCmds {
		if cmd.Err() != nil {
			return appended, fmt.Errorf("tick batch append to %s failed: %w", streamKey, cmd.Err())
		}
		appended++
	}
	// Series writes can fail independently, typically when the key exists
	// with incompatible creation options. Replay those through the slow path
	// which creates the series.
	if execErr != nil {
		for i, cmd := range seriesCmds {
			if cmd.Err() == nil {
				continue
			}
			if !strings.Contains(cmd.Err().Error(), "TSDB") {
				return appended, fmt.Errorf("price sample write to %s failed: %w", seriesKey, cmd.Err())
			}
			if err := c.TSAdd(ctx, seriesKey, ticks[i].Timestamp, ticks[i].Price); err != nil {
				return appended, err
			}
		}
	}
	c.observe("stream_write", streamKey, fmt.Sprintf("flushed %d ticks", appended), started)
	return appended, nil
}
