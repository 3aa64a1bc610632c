package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Push(float64(i), 1, int64(i))
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{3, 4, 5}, w.Prices())

	first, ok := w.First()
	require.True(t, ok)
	assert.Equal(t, 3.0, first)
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 5.0, last)
	ts, ok := w.LastTimestamp()
	require.True(t, ok)
	assert.Equal(t, int64(5), ts)
}

func TestWindowVWAPMatchesDirectComputation(t *testing.T) {
	w := NewWindow(4)
	type pq struct{ p, q float64 }
	ticks := []pq{{100, 1}, {101, 2}, {99, 0.5}, {102, 3}, {98, 1.5}, {103, 2.5}}
	for i, tk := range ticks {
		w.Push(tk.p, tk.q, int64(i))
	}

	// Direct computation over the surviving four ticks.
	held := ticks[len(ticks)-4:]
	var sumPQ, sumQ float64
	for _, tk := range held {
		sumPQ += tk.p * tk.q
		sumQ += tk.q
	}
	vwap, ok := w.VWAP()
	require.True(t, ok)
	assert.InDelta(t, sumPQ/sumQ, vwap, 1e-6)
}

func TestWindowVWAPZeroQuantity(t *testing.T) {
	w := NewWindow(3)
	w.Push(100, 0, 1)
	_, ok := w.VWAP()
	assert.False(t, ok)
}

func TestWindowPriceChangePct(t *testing.T) {
	w := NewWindow(5)
	_, ok := w.PriceChangePct()
	assert.False(t, ok)

	w.Push(100, 1, 1)
	_, ok = w.PriceChangePct()
	assert.False(t, ok)

	w.Push(110, 1, 2)
	pct, ok := w.PriceChangePct()
	require.True(t, ok)
	assert.InDelta(t, 10.0, pct, 1e-12)
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(2)
	assert.Zero(t, w.Len())
	_, ok := w.First()
	assert.False(t, ok)
	_, ok = w.Last()
	assert.False(t, ok)
	_, ok = w.LastTimestamp()
	assert.False(t, ok)
	assert.Empty(t, w.Prices())
}
