package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/gemscap/quantpipe/internal/model"
)

// StreamRetention is how long tick stream entries are kept before trimming.
const StreamRetention = 24 * time.Hour

// SeriesRetentionMs is the retention applied to price time series on creation.
const SeriesRetentionMs = int64(24 * 60 * 60 * 1000)

// OpLogFunc receives an observability record after each broker operation.
// Implementations must not call back into the Client synchronously for
// pubsub_publish entries or they will recurse.
type OpLogFunc func(entry model.LogEntry)

// Client provides uniform access to the hot store primitives: append-trimmed
// streams, numeric time series, hashes, pub/sub and the alert index. Each
// service owns exactly one Client; the underlying pool is safe for concurrent
// use, the Client must not be shared across unrelated lifecycles.
type Client struct {
	rdb     *redis.Client
	service string
	opLog   OpLogFunc
}

// NewClient connects to the broker at url and verifies the connection.
func NewClient(ctx context.Context, url, service string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 10 * time.Second
	opts.WriteTimeout = 10 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("broker unreachable: %w", err)
	}

	log.Info().Str("service", service).Str("addr", opts.Addr).Msg("connected to broker")
	return &Client{rdb: rdb, service: service}, nil
}

// NewClientFromRedis wraps an existing go-redis client. Used by tests.
func NewClientFromRedis(rdb *redis.Client, service string) *Client {
	return &Client{rdb: rdb, service: service}
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetOpLog installs the per-operation observability hook.
func (c *Client) SetOpLog(fn OpLogFunc) { c.opLog = fn }

// Close releases the connection pool.
func (c *Client) Close() error {
	c.observe("disconnect", "", "closed broker connection", time.Time{})
	return c.rdb.Close()
}

func (c *Client) observe(operation, key, message string, started time.Time) {
	if c.opLog == nil {
		return
	}
	var dur float64
	if !started.IsZero() {
		dur = float64(time.Since(started).Microseconds()) / 1000.0
	}
	c.opLog(model.LogEntry{
		Timestamp:  time.Now().UnixMilli(),
		Service:    c.service,
		Level:      "INFO",
		Operation:  operation,
		Key:        key,
		Message:    message,
		DurationMs: dur,
	})
}

// Publish sends payload on a pub/sub channel. Non-string payloads are JSON
// encoded.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) error {
	msg, ok := payload.(string)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", channel, err)
		}
		msg = string(data)
	}
	started := time.Now()
	if err := c.rdb.Publish(ctx, channel, msg).Err(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", channel, err)
	}
	c.observe("pubsub_publish", channel, "published message", started)
	return nil
}

// Subscription wraps a pub/sub subscription on one or more channels.
type Subscription struct {
	ps *redis.PubSub
}

// Subscribe opens a subscription on the given channels.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *Subscription {
	c.observe("pubsub_subscribe", strings.Join(channels, ","), "subscribed", time.Time{})
	return &Subscription{ps: c.rdb.Subscribe(ctx, channels...)}
}

// Next returns the next message payload, or ok=false if the timeout elapsed
// without one.
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (channel, payload string, ok bool, err error) {
	msg, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		// Timeouts are the steady state of a polling consumer.
		if isTimeout(err) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	m, isMsg := msg.(*redis.Message)
	if !isMsg {
		return "", "", false, nil // subscribe confirmations etc.
	}
	return m.Channel, m.Payload, true, nil
}

// Close terminates the subscription.
func (s *Subscription) Close() error { return s.ps.Close() }

func isNil(err error) bool { return err == redis.Nil }

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}
