package gateway

import (
	"sync"
	"time"

	"github.com/gemscap/quantpipe/internal/model"
)

// tickBuffer accumulates ticks between flushes for one symbol. Take swaps
// the slice out so the websocket reader never blocks on a flush in progress.
type tickBuffer struct {
	mu       sync.Mutex
	ticks    []model.Tick
	lastTick time.Time
	received int64
}

func (b *tickBuffer) Add(t model.Tick, now time.Time) {
	b.mu.Lock()
	b.ticks = append(b.ticks, t)
	b.lastTick = now
	b.received++
	b.mu.Unlock()
}

func (b *tickBuffer) Take() []model.Tick {
	b.mu.Lock()
	ticks := b.ticks
	b.ticks = nil
	b.mu.Unlock()
	return ticks
}

// Stats returns the running tick count and the time of the last tick. A zero
// time means no tick has arrived since start.
func (b *tickBuffer) Stats() (received int64, lastTick time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received, b.lastTick
}
