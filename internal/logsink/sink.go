package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/model"
)

const (
	aggregateWindow = time.Second
	// Aggregate flushes piggyback on the poll, so an idle channel still
	// flushes within one timeout of the window closing.
	recvTimeout = time.Second
)

// aggregatedOps are high-frequency operations collapsed into one line per
// aggregation window.
var aggregatedOps = map[string]bool{
	"stream_write": true,
	"ts_write":     true,
}

// accessOps are data-path operations mirrored into the access log.
var accessOps = map[string]bool{
	"stream_write":   true,
	"stream_read":    true,
	"stream_xrange":  true,
	"ts_write":       true,
	"ts_read":        true,
	"hash_write":     true,
	"hash_read":      true,
	"alert_write":    true,
	"pubsub_publish": true,
}

// Source yields log payloads from the log channel.
type Source interface {
	Next(ctx context.Context, timeout time.Duration) (channel, payload string, ok bool, err error)
	Close() error
}

// SubscribeFunc opens the log channel subscription.
type SubscribeFunc func(ctx context.Context) Source

type aggState struct {
	last  model.LogEntry
	count int
	durMs float64
}

// Sink consumes the central log channel and writes three rotating files: the
// full firehose, errors only, and data-path access lines. High-frequency
// write operations are aggregated per service so one busy gateway cannot
// drown the files.
type Sink struct {
	subscribe SubscribeFunc

	all    io.Writer
	errors io.Writer
	access io.Writer
	closer []io.Closer

	agg       map[string]*aggState
	lastFlush time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a sink writing rotated files under cfg.LogDir.
func New(cfg config.Settings, subscribe SubscribeFunc) *Sink {
	rotated := func(name string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, name),
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogBackupCount,
		}
	}
	all := rotated("all.log")
	errs := rotated("errors.log")
	access := rotated("access.log")
	s := newWithWriters(subscribe, all, errs, access)
	s.closer = []io.Closer{all, errs, access}
	return s
}

func newWithWriters(subscribe SubscribeFunc, all, errs, access io.Writer) *Sink {
	return &Sink{
		subscribe: subscribe,
		all:       all,
		errors:    errs,
		access:    access,
		agg:       make(map[string]*aggState),
	}
}

// Start launches the consume loop. Returns immediately.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("log sink already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	log.Info().Msg("log sink started")
	return nil
}

// Stop halts the loop, flushes pending aggregates and closes the files.
func (s *Sink) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.flushAggregates(time.Now())
	for _, c := range s.closer {
		_ = c.Close()
	}
	log.Info().Msg("log sink stopped")
}

func (s *Sink) run(ctx context.Context) {
	sub := s.subscribe(ctx)
	defer sub.Close()
	s.lastFlush = time.Now()

	for ctx.Err() == nil {
		_, payload, ok, err := sub.Next(ctx, recvTimeout)
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("log subscription read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if ok {
			s.consume(payload, now)
		}
		if now.Sub(s.lastFlush) >= aggregateWindow {
			s.flushAggregates(now)
		}
	}
}

func (s *Sink) consume(payload string, now time.Time) {
	var entry model.LogEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		log.Warn().Err(err).Msg("skipping malformed log payload")
		return
	}
	if aggregatedOps[entry.Operation] {
		key := entry.Service + "|" + entry.Operation
		st, ok := s.agg[key]
		if !ok {
			st = &aggState{}
			s.agg[key] = st
		}
		st.last = entry
		st.count++
		st.durMs += entry.DurationMs
		return
	}
	s.write(entry)
}

// flushAggregates emits one line per aggregated (service, operation) with the
// window's count and average duration.
func (s *Sink) flushAggregates(now time.Time) {
	for key, st := range s.agg {
		entry := st.last
		entry.AggregatedCount = st.count
		if st.count > 0 {
			entry.DurationMs = st.durMs / float64(st.count)
		}
		s.write(entry)
		delete(s.agg, key)
	}
	s.lastFlush = now
}

func (s *Sink) write(entry model.LogEntry) {
	line := formatLine(entry)
	if _, err := io.WriteString(s.all, line); err != nil {
		log.Error().Err(err).Msg("log write failed")
	}
	switch entry.Level {
	case "ERROR", "WARN", "WARNING":
		if _, err := io.WriteString(s.errors, line); err != nil {
			log.Error().Err(err).Msg("error log write failed")
		}
	}
	if accessOps[entry.Operation] {
		if _, err := io.WriteString(s.access, line); err != nil {
			log.Error().Err(err).Msg("access log write failed")
		}
	}
}

// formatLine renders one entry as a single text line.
func formatLine(e model.LogEntry) string {
	ts := time.UnixMilli(e.Timestamp).UTC().Format("2006-01-02T15:04:05.000Z")
	line := fmt.Sprintf("%s %-5s %s %s", ts, e.Level, e.Service, e.Operation)
	if e.Key != "" {
		line += " key=" + e.Key
	}
	if e.Message != "" {
		line += " " + e.Message
	}
	if e.DurationMs > 0 {
		line += fmt.Sprintf(" duration_ms=%.3f", e.DurationMs)
	}
	if e.AggregatedCount > 1 {
		line += fmt.Sprintf(" aggregated=%d", e.AggregatedCount)
	}
	return line + "\n"
}
