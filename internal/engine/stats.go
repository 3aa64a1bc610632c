package engine

import "math"

// Windows used for the derived pair statistics. Each is clamped to the
// number of available points.
const (
	zScoreWindow      = 20
	correlationWindow = 60
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		d := x - m
		s += d * d
	}
	return math.Sqrt(s / float64(len(xs)))
}

// olsBeta returns the slope of the least-squares fit y = alpha + beta*x.
// A regressor with no variance yields a zero slope so the spread degrades to
// y itself. ok is false only for series too short to fit.
func olsBeta(y, x []float64) (beta float64, ok bool) {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0, false
	}
	mx, my := mean(x), mean(y)
	var sxx, sxy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		sxx += dx * dx
		sxy += dx * (y[i] - my)
	}
	if sxx == 0 {
		return 0, true
	}
	return sxy / sxx, true
}

// spreadSeries returns y_i - beta*x_i.
func spreadSeries(y, x []float64, beta float64) []float64 {
	out := make([]float64, len(y))
	for i := range y {
		out[i] = y[i] - beta*x[i]
	}
	return out
}

// zScore measures how far the last value of xs sits from the mean of the
// trailing window, in standard deviations. A flat window yields zero.
func zScore(xs []float64, window int) float64 {
	if len(xs) == 0 {
		return 0
	}
	if window > len(xs) {
		window = len(xs)
	}
	tail := xs[len(xs)-window:]
	sd := stddev(tail)
	if sd == 0 {
		return 0
	}
	return (xs[len(xs)-1] - mean(tail)) / sd
}

// correlation is the Pearson coefficient over the trailing window of both
// series. Degenerate variance on either side yields zero; ok is false only
// for series too short to correlate.
func correlation(a, b []float64, window int) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if window < n {
		n = window
	}
	if n < 2 {
		return 0, false
	}
	at := a[len(a)-n:]
	bt := b[len(b)-n:]
	ma, mb := mean(at), mean(bt)
	var saa, sbb, sab float64
	for i := 0; i < n; i++ {
		da := at[i] - ma
		db := bt[i] - mb
		saa += da * da
		sbb += db * db
		sab += da * db
	}
	if saa == 0 || sbb == 0 {
		return 0, true
	}
	return sab / math.Sqrt(saa*sbb), true
}

// alignTails truncates both series to their common trailing length.
func alignTails(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}
