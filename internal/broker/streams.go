package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamEntry is one entry of an append-only stream.
type StreamEntry struct {
	ID     string
	Fields map[string]interface{}
}

// StreamBatch holds the entries read from one stream.
type StreamBatch struct {
	Key     string
	Entries []StreamEntry
}

// retentionMinID returns the MINID trim boundary: entries with IDs below
// (now - retention) may be dropped.
func retentionMinID(now time.Time) string {
	return strconv.FormatInt(now.Add(-StreamRetention).UnixMilli(), 10) + "-0"
}

// StreamAppend appends fields to a stream and trims entries older than the
// retention window. Trimming is approximate: drops may lag behind the
// boundary.
func (c *Client) StreamAppend(ctx context.Context, key string, fields map[string]interface{}) (string, error) {
	started := time.Now()
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MinID:  retentionMinID(started),
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("stream append to %s failed: %w", key, err)
	}
	c.observe("stream_write", key, "added entry "+id, started)
	return id, nil
}

// StreamRead blocks up to block for new entries past each stream's cursor.
// A cursor of "$" means only entries newer than the call. Returns nil batches
// when the block elapses with nothing to read. Cursors are advanced by the
// caller using the last observed entry ID.
func (c *Client) StreamRead(ctx context.Context, cursors map[string]string, count int64, block time.Duration) ([]StreamBatch, error) {
	streams := make([]string, 0, len(cursors)*2)
	ids := make([]string, 0, len(cursors))
	for key := range cursors {
		streams = append(streams, key)
	}
	for _, key := range streams {
		ids = append(ids, cursors[key])
	}
	streams = append(streams, ids...)

	started := time.Now()
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: streams,
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if err == redis.Nil || isTimeout(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	batches := make([]StreamBatch, 0, len(res))
	total := 0
	for _, xs := range res {
		batch := StreamBatch{Key: xs.Stream, Entries: make([]StreamEntry, 0, len(xs.Messages))}
		for _, msg := range xs.Messages {
			batch.Entries = append(batch.Entries, StreamEntry{ID: msg.ID, Fields: msg.Values})
			total++
		}
		batches = append(batches, batch)
	}
	c.observe("stream_read", "", fmt.Sprintf("read %d entries", total), started)
	return batches, nil
}

// StreamRange reads entries in [from, to] ascending; "-" and "+" denote the
// stream's beginning and end. max <= 0 means no limit.
func (c *Client) StreamRange(ctx context.Context, key, from, to string, max int64) ([]StreamEntry, error) {
	started := time.Now()
	var (
		msgs []redis.XMessage
		err  error
	)
	if max > 0 {
		msgs, err = c.rdb.XRangeN(ctx, key, from, to, max).Result()
	} else {
		msgs, err = c.rdb.XRange(ctx, key, from, to).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("stream range on %s failed: %w", key, err)
	}
	entries := make([]StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, StreamEntry{ID: msg.ID, Fields: msg.Values})
	}
	c.observe("stream_xrange", key, fmt.Sprintf("read %d entries", len(entries)), started)
	return entries, nil
}

// StreamLastID returns the ID of the newest entry in a stream, or "0" when
// the stream is empty or absent. Converts the "$" new-only bootstrap into a
// concrete cursor usable with non-blocking reads: everything appended after
// the probe is new by definition.
func (c *Client) StreamLastID(ctx context.Context, key string) (string, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		if err == redis.Nil {
			return "0", nil
		}
		return "", fmt.Errorf("stream tail probe on %s failed: %w", key, err)
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}
