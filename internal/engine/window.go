package engine

// Window is a fixed-capacity ring buffer of ticks for one symbol. VWAP terms
// are maintained incrementally: evicted ticks subtract their contribution so
// a push is O(1) regardless of capacity.
type Window struct {
	prices []float64
	qtys   []float64
	times  []int64

	head  int
	count int

	sumPQ float64
	sumQ  float64
}

// NewWindow allocates a window holding up to size ticks.
func NewWindow(size int) *Window {
	return &Window{
		prices: make([]float64, size),
		qtys:   make([]float64, size),
		times:  make([]int64, size),
	}
}

// Push appends a tick, evicting the oldest when full.
func (w *Window) Push(price, qty float64, ts int64) {
	idx := (w.head + w.count) % len(w.prices)
	if w.count == len(w.prices) {
		w.sumPQ -= w.prices[w.head] * w.qtys[w.head]
		w.sumQ -= w.qtys[w.head]
		w.head = (w.head + 1) % len(w.prices)
		idx = (w.head + w.count - 1) % len(w.prices)
	} else {
		w.count++
	}
	w.prices[idx] = price
	w.qtys[idx] = qty
	w.times[idx] = ts
	w.sumPQ += price * qty
	w.sumQ += qty
}

// Len returns the number of ticks currently held.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.prices) }

func (w *Window) at(i int) int { return (w.head + i) % len(w.prices) }

// Prices returns the held prices oldest first.
func (w *Window) Prices() []float64 {
	out := make([]float64, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.prices[w.at(i)]
	}
	return out
}

// First returns the oldest price.
func (w *Window) First() (float64, bool) {
	if w.count == 0 {
		return 0, false
	}
	return w.prices[w.at(0)], true
}

// Last returns the newest price.
func (w *Window) Last() (float64, bool) {
	if w.count == 0 {
		return 0, false
	}
	return w.prices[w.at(w.count-1)], true
}

// LastTimestamp returns the newest tick's exchange timestamp in milliseconds.
func (w *Window) LastTimestamp() (int64, bool) {
	if w.count == 0 {
		return 0, false
	}
	return w.times[w.at(w.count-1)], true
}

// VWAP returns the volume-weighted average price. ok is false when the held
// quantity sums to zero.
func (w *Window) VWAP() (float64, bool) {
	if w.sumQ <= 0 {
		return 0, false
	}
	return w.sumPQ / w.sumQ, true
}

// PriceChangePct returns the percent change from the oldest to the newest
// held price. ok is false with fewer than two ticks or a zero base price.
func (w *Window) PriceChangePct() (float64, bool) {
	if w.count < 2 {
		return 0, false
	}
	first := w.prices[w.at(0)]
	if first == 0 {
		return 0, false
	}
	last := w.prices[w.at(w.count-1)]
	return (last - first) / first * 100, true
}
