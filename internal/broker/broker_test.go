package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/model"
)

// matchCmdAndKey compares only the command name and the first argument,
// ignoring variadic field payloads whose map iteration order is random.
func matchCmdAndKey(expected, actual []interface{}) error {
	if len(expected) < 2 || len(actual) < 2 {
		return fmt.Errorf("expected at least command and key, got %v", actual)
	}
	if expected[0] != actual[0] || expected[1] != actual[1] {
		return fmt.Errorf("command mismatch: want %v %v, got %v %v",
			expected[0], expected[1], actual[0], actual[1])
	}
	return nil
}

func newTestClient(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewClientFromRedis(db, "test"), mock
}

func TestRetentionMinID(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	want := fmt.Sprintf("%d-0", now.Add(-24*time.Hour).UnixMilli())
	assert.Equal(t, want, retentionMinID(now))
}

func TestStreamAppend(t *testing.T) {
	c, mock := newTestClient(t)
	key := config.TickStreamKey("btcusdt")

	// The expectation mirrors the real call's argument arity (MINID trim plus
	// one field pair) because redismock compares lengths before running the
	// custom matcher; matchCmdAndKey still ignores the values themselves.
	mock.CustomMatch(matchCmdAndKey).ExpectXAdd(&redis.XAddArgs{
		Stream: key,
		MinID:  "0",
		Approx: true,
		Values: map[string]interface{}{"price": "50000"},
	}).SetVal("1700000000000-0")

	id, err := c.StreamAppend(context.Background(), key, map[string]interface{}{"price": "50000"})
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamReadReturnsBatches(t *testing.T) {
	c, mock := newTestClient(t)
	key := config.TickStreamKey("btcusdt")

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{key, "0"},
		Count:   100,
		Block:   500 * time.Millisecond,
	}).SetVal([]redis.XStream{{
		Stream: key,
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"price": "100"}},
			{ID: "2-0", Values: map[string]interface{}{"price": "101"}},
		},
	}})

	batches, err := c.StreamRead(context.Background(), map[string]string{key: "0"}, 100, 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, key, batches[0].Key)
	require.Len(t, batches[0].Entries, 2)
	assert.Equal(t, "2-0", batches[0].Entries[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamReadEmptyBlock(t *testing.T) {
	c, mock := newTestClient(t)
	key := config.TickStreamKey("btcusdt")

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{key, "5-0"},
		Count:   100,
		Block:   500 * time.Millisecond,
	}).RedisNil()

	batches, err := c.StreamRead(context.Background(), map[string]string{key: "5-0"}, 100, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, batches)
}

func TestStreamLastID(t *testing.T) {
	c, mock := newTestClient(t)
	key := config.TickStreamKey("ethusdt")

	mock.ExpectXRevRangeN(key, "+", "-", 1).SetVal([]redis.XMessage{
		{ID: "1700000000123-4", Values: map[string]interface{}{}},
	})
	id, err := c.StreamLastID(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "1700000000123-4", id)

	mock.ExpectXRevRangeN(key, "+", "-", 1).SetVal([]redis.XMessage{})
	id, err = c.StreamLastID(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "0", id)
}

func TestHashGet(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectHGet("state:analytics:BTCUSDT", "vwap").SetVal("50123.5")
	v, ok, err := c.HashGet(context.Background(), "state:analytics:BTCUSDT", "vwap")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "50123.5", v)

	mock.ExpectHGet("state:analytics:BTCUSDT", "missing").RedisNil()
	_, ok, err = c.HashGet(context.Background(), "state:analytics:BTCUSDT", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddAlert(t *testing.T) {
	c, mock := newTestClient(t)
	a := model.Alert{
		ID:        "a1",
		Type:      model.AlertZScoreHigh,
		Symbol:    "BTCUSDT",
		Message:   "Z-score above threshold: 2.50 > 2",
		Timestamp: 1_700_000_000_000,
		Severity:  model.SeverityWarning,
		Value:     model.Float64Ptr(2.5),
		Threshold: model.Float64Ptr(2.0),
	}

	// All nine field pairs are listed so the expectation's argument count
	// matches the real HSet call; redismock checks lengths before invoking
	// matchCmdAndKey, which only compares the command and key.
	mock.CustomMatch(matchCmdAndKey).ExpectHSet("alert:a1",
		"id", "a1",
		"alert_type", "z_score_high",
		"symbol", "BTCUSDT",
		"message", "Z-score above threshold: 2.50 > 2",
		"timestamp", "1700000000000",
		"severity", "warning",
		"value", "2.5",
		"threshold", "2",
		"acknowledged", "0",
	).SetVal(9)
	mock.ExpectExpire("alert:a1", AlertTTL).SetVal(true)
	mock.ExpectZAdd(config.AlertsActiveKey, &redis.Z{
		Score:  float64(a.Timestamp),
		Member: "a1",
	}).SetVal(1)

	require.NoError(t, c.AddAlert(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveAlertsPrunesStaleIndex(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectZRevRange(config.AlertsActiveKey, 0, 99).SetVal([]string{"fresh", "expired"})
	mock.ExpectHGetAll("alert:fresh").SetVal(map[string]string{
		"id":         "fresh",
		"alert_type": "z_score_low",
		"symbol":     "ETHUSDT",
		"message":    "Z-score below threshold: -2.10 < -2",
		"timestamp":  "1700000000000",
		"severity":   "warning",
		"value":      "-2.1",
		"threshold":  "-2",
	})
	mock.ExpectHGetAll("alert:expired").SetVal(map[string]string{})
	mock.ExpectZRem(config.AlertsActiveKey, "expired").SetVal(1)

	alerts, err := c.ListActiveAlerts(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "fresh", alerts[0].ID)
	assert.Equal(t, model.AlertZScoreLow, alerts[0].Type)
	require.NotNil(t, alerts[0].Value)
	assert.InDelta(t, -2.1, *alerts[0].Value, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveAlertsSymbolFilter(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectZRevRange(config.AlertsActiveKey, 0, 9).SetVal([]string{"a1", "a2"})
	mock.ExpectHGetAll("alert:a1").SetVal(map[string]string{
		"id": "a1", "alert_type": "z_score_high", "symbol": "BTCUSDT",
		"timestamp": "1", "severity": "warning",
	})
	mock.ExpectHGetAll("alert:a2").SetVal(map[string]string{
		"id": "a2", "alert_type": "z_score_high", "symbol": "ETHUSDT",
		"timestamp": "2", "severity": "warning",
	})

	alerts, err := c.ListActiveAlerts(context.Background(), "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a2", alerts[0].ID)
}

func TestAckAlert(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectExists("alert:a1").SetVal(1)
	mock.ExpectHSet("alert:a1", "acknowledged", "1").SetVal(0)
	ok, err := c.AckAlert(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExists("alert:gone").SetVal(0)
	ok, err = c.AckAlert(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPruneAlerts(t *testing.T) {
	c, mock := newTestClient(t)
	now := time.UnixMilli(1_700_000_000_000)
	horizon := now.Add(-AlertTTL).UnixMilli()

	mock.ExpectZRemRangeByScore(config.AlertsActiveKey, "-inf", fmt.Sprintf("%d", horizon)).SetVal(3)
	removed, err := c.PruneAlerts(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestPublishEncodesJSON(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectPublish(config.ChannelLogs, `{"timestamp":1,"service":"test","level":"INFO","operation":"connect","message":"up"}`).SetVal(1)
	err := c.Publish(context.Background(), config.ChannelLogs, model.LogEntry{
		Timestamp: 1,
		Service:   "test",
		Level:     "INFO",
		Operation: "connect",
		Message:   "up",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteTicksEmptyBatch(t *testing.T) {
	c, _ := newTestClient(t)
	n, err := c.WriteTicks(context.Background(), "BTCUSDT", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
