package broker

import (
	"context"
	"fmt"
	"time"
)

// HashPut replaces or extends the fields of a hash in one round trip.
func (c *Client) HashPut(ctx context.Context, key string, fields map[string]interface{}) error {
	started := time.Now()
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("hash write to %s failed: %w", key, err)
	}
	c.observe("hash_write", key, fmt.Sprintf("set %d fields", len(fields)), started)
	return nil
}

// HashGetAll returns every field of a hash. An absent key yields an empty map.
func (c *Client) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	started := time.Now()
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hash read on %s failed: %w", key, err)
	}
	c.observe("hash_read", key, fmt.Sprintf("read %d fields", len(fields)), started)
	return fields, nil
}

// HashGet returns one field of a hash. ok is false when the field or key is
// absent.
func (c *Client) HashGet(ctx context.Context, key, field string) (value string, ok bool, err error) {
	value, err = c.rdb.HGet(ctx, key, field).Result()
	if err != nil {
		if isNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("hash read on %s.%s failed: %w", key, field, err)
	}
	return value, true, nil
}
