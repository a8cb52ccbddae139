// Package stats contains robust statistics used when cleaning, scoring and bounding demand
// series. NaN values are treated as missing and skipped by every function.
package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrEmptySeries      = errors.New("series has no valid values")
	ErrInvalidQuantile  = errors.New("quantile must be within [0, 1]")
	ErrInsufficientLags = errors.New("series too short for requested lag")
)

// madScale makes the median absolute deviation a consistent estimator of the standard
// deviation for normally distributed data.
const madScale = 0.6745

// Valid returns a copy of y with NaNs removed
func Valid(y []float64) []float64 {
	res := make([]float64, 0, len(y))
	for _, v := range y {
		if math.IsNaN(v) {
			continue
		}
		res = append(res, v)
	}
	return res
}

// Median returns the median of the non NaN values
func Median(y []float64) (float64, error) {
	return Quantile(y, 0.5)
}

// Quantile returns the q-th empirical quantile of y using linear interpolation between
// order statistics.
func Quantile(y []float64, q float64) (float64, error) {
	if q < 0 || q > 1 {
		return 0, ErrInvalidQuantile
	}
	sorted := Valid(y)
	if len(sorted) == 0 {
		return 0, ErrEmptySeries
	}
	sort.Float64s(sorted)
	return sortedQuantile(sorted, q), nil
}

// sortedQuantile interpolates linearly between the order statistics bracketing (n-1)*q
func sortedQuantile(sorted []float64, q float64) float64 {
	h := float64(len(sorted)-1) * q
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// MAD returns the median and median absolute deviation of y
func MAD(y []float64) (float64, float64, error) {
	med, err := Median(y)
	if err != nil {
		return 0, 0, err
	}
	dev := make([]float64, 0, len(y))
	for _, v := range y {
		if math.IsNaN(v) {
			continue
		}
		dev = append(dev, math.Abs(v-med))
	}
	mad, err := Median(dev)
	if err != nil {
		return 0, 0, err
	}
	return med, mad, nil
}

// DetectOutliers returns the indices of values outside the inter-percentile range expanded by the
// tukey factor.
func DetectOutliers(y []float64, lowerPerc, upperPerc, tukeyFactor float64) []int {
	lowerPerc = math.Max(lowerPerc, 0.0)
	upperPerc = math.Min(upperPerc, 1.0)
	tukeyFactor = math.Max(tukeyFactor, 0.0)

	lower, err := Quantile(y, lowerPerc)
	if err != nil {
		return nil
	}
	upper, err := Quantile(y, upperPerc)
	if err != nil {
		return nil
	}
	innerRange := upper - lower
	lower -= innerRange * tukeyFactor
	upper += innerRange * tukeyFactor

	var outlierIdx []int
	for i := 0; i < len(y); i++ {
		if math.IsNaN(y[i]) {
			continue
		}
		if y[i] > upper || y[i] < lower {
			outlierIdx = append(outlierIdx, i)
		}
	}
	return outlierIdx
}

// DetectMADOutliers returns the indices whose modified z-score, 0.6745*|y-median|/MAD, is
// above threshold. When the MAD is zero any value different from the median is an outlier.
func DetectMADOutliers(y []float64, threshold float64) []int {
	med, mad, err := MAD(y)
	if err != nil {
		return nil
	}

	var outlierIdx []int
	for i, v := range y {
		if math.IsNaN(v) {
			continue
		}
		dev := math.Abs(v - med)
		if mad == 0 {
			if dev > 1e-9*math.Max(1, math.Abs(med)) {
				outlierIdx = append(outlierIdx, i)
			}
			continue
		}
		if madScale*dev/mad > threshold {
			outlierIdx = append(outlierIdx, i)
		}
	}
	return outlierIdx
}

// MeanStdDev returns the mean and sample standard deviation of the non NaN values. A single
// value has a standard deviation of zero.
func MeanStdDev(y []float64) (float64, float64, error) {
	valid := Valid(y)
	if len(valid) == 0 {
		return 0, 0, ErrEmptySeries
	}
	if len(valid) == 1 {
		return valid[0], 0, nil
	}
	mean, std := stat.MeanStdDev(valid, nil)
	return mean, std, nil
}

// Autocorrelation returns the sample autocorrelation of y at the given lag
func Autocorrelation(y []float64, lag int) (float64, error) {
	if lag <= 0 || lag >= len(y) {
		return 0, ErrInsufficientLags
	}
	mean := stat.Mean(y, nil)
	centered := make([]float64, len(y))
	copy(centered, y)
	floats.AddConst(-mean, centered)

	denom := floats.Dot(centered, centered)
	if denom == 0 {
		return 0, nil
	}
	return floats.Dot(centered[lag:], centered[:len(y)-lag]) / denom, nil
}

// DominantPeriod returns the lag between minLag and maxLag with the highest autocorrelation
// that is also a local peak. Returns false if no lag reaches minCorr.
func DominantPeriod(y []float64, minLag, maxLag int, minCorr float64) (int, bool) {
	if maxLag >= len(y) {
		maxLag = len(y) - 1
	}
	acf := make([]float64, maxLag+2)
	for lag := 1; lag <= maxLag && lag < len(y); lag++ {
		acf[lag], _ = Autocorrelation(y, lag)
	}

	best, bestCorr := 0, minCorr
	for lag := minLag; lag <= maxLag; lag++ {
		isPeak := acf[lag] >= acf[lag-1] && acf[lag] >= acf[lag+1]
		if isPeak && acf[lag] > bestCorr {
			best, bestCorr = lag, acf[lag]
		}
	}
	return best, best > 0
}
