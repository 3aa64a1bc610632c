package archivist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/gemscap/quantpipe/internal/broker"
	"github.com/gemscap/quantpipe/internal/config"
	"github.com/gemscap/quantpipe/internal/metrics"
	"github.com/gemscap/quantpipe/internal/model"
)

const (
	readBlock  = 100 * time.Millisecond
	retrySleep = 10 * time.Second
	errorPause = time.Second
)

// Broker is the slice of hot-store operations the archivist needs.
type Broker interface {
	StreamRead(ctx context.Context, cursors map[string]string, count int64, block time.Duration) ([]broker.StreamBatch, error)
	StreamLastID(ctx context.Context, key string) (string, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ColdStore is the slice of durable-archive operations the archivist needs.
type ColdStore interface {
	InsertTicksBatch(ctx context.Context, ticks []model.Tick) (int, error)
	InsertOHLCBatch(ctx context.Context, bars []model.OHLCBar) (int, error)
	InsertAnalyticsSnapshot(ctx context.Context, snap model.AnalyticsSnapshot) error
	ArchiveAlert(ctx context.Context, a model.Alert) error
}

// AlertSource yields alert payloads from the alert channel.
type AlertSource interface {
	Next(ctx context.Context, timeout time.Duration) (channel, payload string, ok bool, err error)
	Close() error
}

// SubscribeFunc opens the alert channel subscription.
type SubscribeFunc func(ctx context.Context) AlertSource

// Archivist periodically copies hot-store data into the cold store. Stream
// cursors advance only after a successful insert so a cold store outage never
// loses ticks, it only delays them.
type Archivist struct {
	cfg     config.Settings
	broker  Broker
	store   ColdStore
	breaker *gobreaker.CircuitBreaker

	subscribe SubscribeFunc

	cursors map[string]string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an archivist. subscribe may be nil to disable alert archival.
func New(cfg config.Settings, b Broker, store ColdStore, subscribe SubscribeFunc) *Archivist {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "coldstore",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("cold store breaker state changed")
		},
	})
	return &Archivist{
		cfg:       cfg,
		broker:    b,
		store:     store,
		breaker:   breaker,
		subscribe: subscribe,
		cursors:   make(map[string]string),
	}
}

// Start bootstraps cursors and launches the archive and alert loops.
func (a *Archivist) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("archivist already running")
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.running = true

	a.bootstrapCursors(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
	if a.subscribe != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.alertLoop(ctx)
		}()
	}
	log.Info().Int("streams", len(a.cursors)).
		Int("interval_s", a.cfg.ArchiveIntervalSeconds).Msg("archivist started")
	return nil
}

// Stop halts the loops and runs one final archive pass so a clean shutdown
// flushes everything already in the hot store.
func (a *Archivist) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()

	drainCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	a.cycle(drainCtx)
	log.Info().Msg("archivist stopped")
}

// bootstrapCursors probes each stream's tail so only ticks arriving after
// startup are archived. Ticks already in the stream belong to an earlier run.
func (a *Archivist) bootstrapCursors(ctx context.Context) {
	for _, sym := range a.cfg.UpperSymbols() {
		key := config.TickStreamKey(sym)
		id, err := a.broker.StreamLastID(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("stream", key).Msg("cursor bootstrap failed, reading from start")
			id = "0"
		}
		a.cursors[key] = id
	}
}

func (a *Archivist) run(ctx context.Context) {
	interval := time.Duration(a.cfg.ArchiveIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.cycle(ctx); err != nil {
				log.Error().Err(err).Msg("archive cycle failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(retrySleep):
				}
			}
		}
	}
}

// cycle archives one batch of ticks per stream plus the current analytics
// state. Partial failure leaves the affected cursor in place for the next
// cycle.
func (a *Archivist) cycle(ctx context.Context) error {
	var firstErr error
	for key := range a.cursors {
		if err := a.archiveStream(ctx, key); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.archiveAnalytics(ctx)
	return firstErr
}

func (a *Archivist) archiveStream(ctx context.Context, key string) error {
	cursors := map[string]string{key: a.cursors[key]}
	batches, err := a.broker.StreamRead(ctx, cursors, int64(a.cfg.ArchiveBatchSize), readBlock)
	if err != nil {
		return fmt.Errorf("archive read on %s failed: %w", key, err)
	}
	for _, batch := range batches {
		if len(batch.Entries) == 0 {
			continue
		}
		ticks := make([]model.Tick, 0, len(batch.Entries))
		for _, entry := range batch.Entries {
			tick, err := model.TickFromFields(entry.Fields)
			if err != nil {
				log.Warn().Err(err).Str("stream", batch.Key).Str("id", entry.ID).
					Msg("skipping malformed tick entry")
				continue
			}
			ticks = append(ticks, tick)
		}

		_, err := a.breaker.Execute(func() (interface{}, error) {
			n, err := a.store.InsertTicksBatch(ctx, ticks)
			return n, err
		})
		if err != nil {
			return fmt.Errorf("archive insert for %s failed: %w", batch.Key, err)
		}
		metrics.ArchivedRows.WithLabelValues("ticks").Add(float64(len(ticks)))

		bars := barsFromTicks(ticks, time.Minute)
		if len(bars) > 0 {
			if _, err := a.breaker.Execute(func() (interface{}, error) {
				n, err := a.store.InsertOHLCBatch(ctx, bars)
				return n, err
			}); err != nil {
				log.Error().Err(err).Str("stream", batch.Key).Msg("bar archive failed")
			} else {
				metrics.ArchivedRows.WithLabelValues("ohlc").Add(float64(len(bars)))
			}
		}

		// The cursor moves only after the rows are durable.
		a.cursors[batch.Key] = batch.Entries[len(batch.Entries)-1].ID
	}
	return nil
}

// archiveAnalytics copies the latest analytics state hashes, single symbols
// and pairs, into the cold store.
func (a *Archivist) archiveAnalytics(ctx context.Context) {
	for _, key := range a.analyticsKeys() {
		fields, err := a.broker.HashGetAll(ctx, config.AnalyticsStateKey(key))
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("analytics state read failed")
			continue
		}
		if len(fields) == 0 {
			continue
		}
		snap, err := model.SnapshotFromFields(fields)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed analytics state")
			continue
		}
		if _, err := a.breaker.Execute(func() (interface{}, error) {
			return nil, a.store.InsertAnalyticsSnapshot(ctx, snap)
		}); err != nil {
			log.Error().Err(err).Str("key", key).Msg("analytics archive failed")
			continue
		}
		metrics.ArchivedRows.WithLabelValues("analytics").Inc()
	}
}

func (a *Archivist) analyticsKeys() []string {
	symbols := a.cfg.UpperSymbols()
	keys := make([]string, 0, len(symbols)*2)
	keys = append(keys, symbols...)
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			keys = append(keys, symbols[i]+":"+symbols[j])
		}
	}
	return keys
}

func (a *Archivist) alertLoop(ctx context.Context) {
	sub := a.subscribe(ctx)
	defer sub.Close()
	for ctx.Err() == nil {
		_, payload, ok, err := sub.Next(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("alert subscription read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorPause):
			}
			continue
		}
		if !ok {
			continue
		}
		a.archiveAlertPayload(ctx, payload)
	}
}

func (a *Archivist) archiveAlertPayload(ctx context.Context, payload string) {
	alert, err := decodeAlertPayload(payload)
	if err != nil {
		log.Warn().Err(err).Msg("skipping malformed alert payload")
		return
	}
	if _, err := a.breaker.Execute(func() (interface{}, error) {
		return nil, a.store.ArchiveAlert(ctx, alert)
	}); err != nil {
		log.Error().Err(err).Str("id", alert.ID).Msg("alert archive failed")
		return
	}
	metrics.ArchivedRows.WithLabelValues("alerts").Inc()
}
