package engine

import "math"

// adfResult is the outcome of an augmented Dickey-Fuller test with constant.
type adfResult struct {
	Statistic float64
	PValue    float64
	Lags      int
}

// stationaryPValue is the significance level below which a spread is
// considered stationary.
const stationaryPValue = 0.05

// adfTest runs an augmented Dickey-Fuller unit-root test on series, with a
// constant term and AIC lag selection. ok is false when the series is too
// short or degenerate.
func adfTest(series []float64) (adfResult, bool) {
	n := len(series)
	if n < 10 {
		return adfResult{}, false
	}

	maxLag := int(math.Ceil(12.0 * math.Pow(float64(n)/100.0, 0.25)))
	// Keep enough observations for the widest regression.
	if maxLag > (n-1)/3 {
		maxLag = (n - 1) / 3
	}
	if maxLag < 0 {
		maxLag = 0
	}

	diff := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diff[i-1] = series[i] - series[i-1]
	}

	// All candidate lags share the same sample so AIC values are comparable.
	bestLag, bestAIC := 0, math.Inf(1)
	for lag := 0; lag <= maxLag; lag++ {
		_, _, ssr, nobs, k, ok := adfRegression(series, diff, lag, maxLag)
		if !ok || ssr <= 0 {
			continue
		}
		aic := float64(nobs)*math.Log(ssr/float64(nobs)) + 2*float64(k)
		if aic < bestAIC {
			bestAIC = aic
			bestLag = lag
		}
	}

	coef, se, _, _, _, ok := adfRegression(series, diff, bestLag, bestLag)
	if !ok || se[1] == 0 {
		return adfResult{}, false
	}
	stat := coef[1] / se[1]
	return adfResult{
		Statistic: stat,
		PValue:    mackinnonP(stat),
		Lags:      bestLag,
	}, true
}

// adfRegression fits diff_t = a + g*series_{t-1} + sum phi_i*diff_{t-i} over
// the sample determined by startLag. Returns coefficients, standard errors,
// the residual sum of squares and the sample dimensions.
func adfRegression(series, diff []float64, lag, startLag int) (coef, se []float64, ssr float64, nobs, k int, ok bool) {
	m := len(diff)
	nobs = m - startLag
	k = 2 + lag
	if nobs <= k {
		return nil, nil, 0, 0, 0, false
	}

	X := make([][]float64, nobs)
	y := make([]float64, nobs)
	for i := 0; i < nobs; i++ {
		t := startLag + i
		row := make([]float64, k)
		row[0] = 1
		row[1] = series[t] // level lagged one step behind diff[t]
		for j := 1; j <= lag; j++ {
			row[1+j] = diff[t-j]
		}
		X[i] = row
		y[i] = diff[t]
	}
	coef, se, ssr, ok = olsFit(X, y)
	return coef, se, ssr, nobs, k, ok
}

// olsFit solves ordinary least squares by normal equations, returning the
// coefficients, their standard errors and the residual sum of squares.
func olsFit(X [][]float64, y []float64) (coef, se []float64, ssr float64, ok bool) {
	n := len(X)
	if n == 0 {
		return nil, nil, 0, false
	}
	k := len(X[0])

	xtx := make([][]float64, k)
	xty := make([]float64, k)
	for i := 0; i < k; i++ {
		xtx[i] = make([]float64, k)
	}
	for r, row := range X {
		for i := 0; i < k; i++ {
			xty[i] += row[i] * y[r]
			for j := 0; j < k; j++ {
				xtx[i][j] += row[i] * row[j]
			}
		}
	}

	inv, okInv := invertMatrix(xtx)
	if !okInv {
		return nil, nil, 0, false
	}
	coef = make([]float64, k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			coef[i] += inv[i][j] * xty[j]
		}
	}

	for r, row := range X {
		pred := 0.0
		for i := 0; i < k; i++ {
			pred += row[i] * coef[i]
		}
		resid := y[r] - pred
		ssr += resid * resid
	}

	dof := n - k
	if dof <= 0 {
		return nil, nil, 0, false
	}
	sigma2 := ssr / float64(dof)
	se = make([]float64, k)
	for i := 0; i < k; i++ {
		v := sigma2 * inv[i][i]
		if v < 0 {
			v = 0
		}
		se[i] = math.Sqrt(v)
	}
	return coef, se, ssr, true
}

// invertMatrix inverts a symmetric positive matrix by Gauss-Jordan
// elimination with partial pivoting.
func invertMatrix(a [][]float64) ([][]float64, bool) {
	k := len(a)
	aug := make([][]float64, k)
	for i := 0; i < k; i++ {
		aug[i] = make([]float64, 2*k)
		copy(aug[i], a[i])
		aug[i][k+i] = 1
	}
	for col := 0; col < k; col++ {
		pivot := col
		for r := col + 1; r < k; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		pv := aug[col][col]
		for j := 0; j < 2*k; j++ {
			aug[col][j] /= pv
		}
		for r := 0; r < k; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			if f == 0 {
				continue
			}
			for j := 0; j < 2*k; j++ {
				aug[r][j] -= f * aug[col][j]
			}
		}
	}
	inv := make([][]float64, k)
	for i := 0; i < k; i++ {
		inv[i] = aug[i][k:]
	}
	return inv, true
}

// MacKinnon (1994) approximate asymptotic p-values for the constant-only
// Dickey-Fuller distribution.
var (
	tauMax    = 2.74
	tauMin    = -18.83
	tauStar   = -1.61
	tauSmallP = []float64{2.1659, 1.4412, 0.038269}
	tauLargeP = []float64{1.7339, 0.93202, -0.05977, -0.00675}
)

func mackinnonP(stat float64) float64 {
	if stat > tauMax {
		return 1.0
	}
	if stat < tauMin {
		return 0.0
	}
	coeffs := tauLargeP
	if stat <= tauStar {
		coeffs = tauSmallP
	}
	x := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		x = x*stat + coeffs[i]
	}
	return normCDF(x)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
