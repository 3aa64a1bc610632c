package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sample is one (timestamp, value) point of a numeric time series.
type Sample struct {
	Timestamp int64
	Value     float64
}

// TSAdd appends a sample to a numeric time series. The series is created on
// first write with the default retention and a keep-latest duplicate policy.
func (c *Client) TSAdd(ctx context.Context, key string, ts int64, value float64) error {
	started := time.Now()
	err := c.rdb.Do(ctx, "TS.ADD", key, ts, value,
		"RETENTION", SeriesRetentionMs,
		"ON_DUPLICATE", "LAST").Err()
	if err != nil {
		if !strings.Contains(err.Error(), "TSDB") {
			return fmt.Errorf("ts append to %s failed: %w", key, err)
		}
		// Key exists with incompatible options or create raced; make sure the
		// series exists and retry the bare add.
		createErr := c.rdb.Do(ctx, "TS.CREATE", key,
			"RETENTION", SeriesRetentionMs,
			"DUPLICATE_POLICY", "LAST").Err()
		if createErr != nil && !strings.Contains(createErr.Error(), "already exists") {
			return fmt.Errorf("ts create %s failed: %w", key, createErr)
		}
		if err := c.rdb.Do(ctx, "TS.ADD", key, ts, value).Err(); err != nil {
			return fmt.Errorf("ts append to %s failed: %w", key, err)
		}
	}
	c.observe("ts_write", key, "added sample at "+strconv.FormatInt(ts, 10), started)
	return nil
}

// TSRange queries samples in [from, to] ascending. When agg is non-empty the
// result is aggregated into epoch-aligned buckets of bucketMs.
func (c *Client) TSRange(ctx context.Context, key string, from, to int64, agg string, bucketMs int64) ([]Sample, error) {
	started := time.Now()
	args := []interface{}{"TS.RANGE", key, from, to}
	if agg != "" {
		args = append(args, "AGGREGATION", agg, bucketMs)
	}
	raw, err := c.rdb.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("ts range on %s failed: %w", key, err)
	}

	rows, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("ts range on %s: unexpected reply type %T", key, raw)
	}
	samples := make([]Sample, 0, len(rows))
	for _, row := range rows {
		pair, ok := row.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("ts range on %s: malformed sample", key)
		}
		ts, err := coerceInt64(pair[0])
		if err != nil {
			return nil, fmt.Errorf("ts range on %s: bad timestamp: %w", key, err)
		}
		val, err := coerceFloat64(pair[1])
		if err != nil {
			return nil, fmt.Errorf("ts range on %s: bad value: %w", key, err)
		}
		samples = append(samples, Sample{Timestamp: ts, Value: val})
	}
	c.observe("ts_read", key, fmt.Sprintf("retrieved %d samples", len(samples)), started)
	return samples, nil
}

func coerceInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func coerceFloat64(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
