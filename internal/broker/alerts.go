package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/model"
)

// AlertTTL bounds how long an alert hash survives in the hot store.
const AlertTTL = 24 * time.Hour

// AddAlert stores the alert hash with a TTL and indexes its ID in the active
// set, scored by timestamp so newest-first listing is a reverse range.
func (c *Client) AddAlert(ctx context.Context, a model.Alert) error {
	started := time.Now()
	key := config.AlertKey(a.ID)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, a.Fields())
	pipe.Expire(ctx, key, AlertTTL)
	pipe.ZAdd(ctx, config.AlertsActiveKey, &redis.Z{
		Score:  float64(a.Timestamp),
		Member: a.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("alert store for %s failed: %w", a.ID, err)
	}
	c.observe("alert_write", key, string(a.Type)+" "+a.Symbol, started)
	return nil
}

// ListActiveAlerts returns up to limit alerts newest first, optionally
// filtered by symbol. Index members whose hashes have expired are removed
// from the index as they are encountered.
func (c *Client) ListActiveAlerts(ctx context.Context, symbol string, limit int64) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := c.rdb.ZRevRange(ctx, config.AlertsActiveKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("alert index read failed: %w", err)
	}

	alerts := make([]model.Alert, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		fields, err := c.rdb.HGetAll(ctx, config.AlertKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("alert read for %s failed: %w", id, err)
		}
		if len(fields) == 0 {
			stale = append(stale, id)
			continue
		}
		a, err := model.AlertFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("alert decode for %s failed: %w", id, err)
		}
		if symbol != "" && a.Symbol != symbol {
			continue
		}
		alerts = append(alerts, a)
	}
	if len(stale) > 0 {
		if err := c.rdb.ZRem(ctx, config.AlertsActiveKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("alert index prune failed: %w", err)
		}
	}
	return alerts, nil
}

// AckAlert marks an alert acknowledged. Returns false when the alert no
// longer exists.
func (c *Client) AckAlert(ctx context.Context, id string) (bool, error) {
	key := config.AlertKey(id)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("alert lookup for %s failed: %w", id, err)
	}
	if exists == 0 {
		return false, nil
	}
	if err := c.rdb.HSet(ctx, key, "acknowledged", "1").Err(); err != nil {
		return false, fmt.Errorf("alert ack for %s failed: %w", id, err)
	}
	return true, nil
}

// PruneAlerts drops index entries older than the TTL horizon. The hashes
// themselves expire on their own.
func (c *Client) PruneAlerts(ctx context.Context, now time.Time) (int64, error) {
	horizon := now.Add(-AlertTTL).UnixMilli()
	removed, err := c.rdb.ZRemRangeByScore(ctx, config.AlertsActiveKey,
		"-inf", fmt.Sprintf("%d", horizon)).Result()
	if err != nil {
		return 0, fmt.Errorf("alert index prune failed: %w", err)
	}
	return removed, nil
}
