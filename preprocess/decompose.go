package preprocess

import (
	"errors"
	"math"
	"time"

	"github.com/fuelcast/go-demandcast/stats"
	"github.com/fuelcast/go-demandcast/timedataset"
	"gonum.org/v1/gonum/stat"
)

var ErrInvalidPeriod = errors.New("seasonal period must be at least 2")

// Components holds an additive decomposition y = trend + seasonality + residual
type Components struct {
	Trend       []float64 `json:"trend"`
	Seasonality []float64 `json:"seasonality"`
	Residual    []float64 `json:"residual"`

	// Pattern is one seasonal cycle indexed by position modulo Period
	Pattern []float64 `json:"pattern"`
	Period  int       `json:"period"`

	// TrendWindow is the number of trailing trend points used for extrapolation
	TrendWindow int `json:"trend_window"`
}

// Projection is the deterministic part of the series continued into the future
type Projection struct {
	T           []time.Time `json:"t"`
	Trend       []float64   `json:"trend"`
	Seasonality []float64   `json:"seasonality"`
}

// Decompose splits y into trend, seasonality and residual. The trend is a centered moving
// average over one period and the seasonality is the per-phase median of the detrended
// values, re-centered to sum to zero over a cycle. Both are refined for the given number of
// iterations. y must not contain NaN.
func Decompose(y []float64, period, iterations int) (*Components, error) {
	if period < 2 {
		return nil, ErrInvalidPeriod
	}
	if len(y) < period {
		return nil, ErrInsufficientData
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	n := len(y)
	trend := movingAverage(y, period)
	pattern := make([]float64, period)
	seasonality := make([]float64, n)
	deseasoned := make([]float64, n)
	detrended := make([]float64, n)

	for iter := 0; iter < iterations; iter++ {
		for i := range y {
			detrended[i] = y[i] - trend[i]
		}
		pattern = phaseMedians(detrended, period)
		for i := range y {
			seasonality[i] = pattern[i%period]
			deseasoned[i] = y[i] - seasonality[i]
		}
		trend = movingAverage(deseasoned, period)
	}

	residual := make([]float64, n)
	for i := range y {
		residual[i] = y[i] - trend[i] - seasonality[i]
	}

	return &Components{
		Trend:       trend,
		Seasonality: seasonality,
		Residual:    residual,
		Pattern:     pattern,
		Period:      period,
		TrendWindow: 2 * period,
	}, nil
}

// Project continues the trend as the least squares line over the trailing trend window and
// repeats the seasonal pattern for horizon steps after the last observation.
func (c *Components) Project(t []time.Time) *Projection {
	n := len(c.Trend)
	horizon := len(t)
	proj := &Projection{
		T:           t,
		Trend:       make([]float64, horizon),
		Seasonality: make([]float64, horizon),
	}
	if n == 0 {
		return proj
	}

	window := c.TrendWindow
	if window <= 1 || window > n {
		window = n
	}
	intercept, slope := c.Trend[n-1], 0.0
	if window > 1 {
		x := make([]float64, window)
		for i := range x {
			x[i] = float64(i)
		}
		intercept, slope = stat.LinearRegression(x, c.Trend[n-window:], nil, false)
	}

	for h := 0; h < horizon; h++ {
		proj.Trend[h] = intercept + slope*float64(window+h)
		if c.Period > 0 && len(c.Pattern) == c.Period {
			proj.Seasonality[h] = c.Pattern[(n+h)%c.Period]
		}
	}
	return proj
}

// Level returns the projected trend plus seasonality at step h
func (p *Projection) Level(h int) float64 {
	return p.Trend[h] + p.Seasonality[h]
}

// DetectPeriod picks the seasonal period by autocorrelation, falling back to the granularity
// default when no lag shows a clear peak.
func DetectPeriod(y []float64, g timedataset.Granularity) int {
	def := g.DefaultPeriod()
	maxLag := len(y) / 2
	if limit := 2 * def; maxLag > limit {
		maxLag = limit
	}
	if maxLag < 3 {
		return def
	}
	period, ok := stats.DominantPeriod(y, 2, maxLag, 0.3)
	if !ok {
		return def
	}
	return period
}

// movingAverage computes a centered moving average of one period. Even periods use the
// 2xperiod weighting so the window stays centered. The half window at each end is filled by
// extending the least squares line through the nearest period of computed values.
func movingAverage(y []float64, period int) []float64 {
	n := len(y)
	res := make([]float64, n)

	half := period / 2
	weights := make([]float64, 2*half+1)
	if period%2 == 1 {
		for i := range weights {
			weights[i] = 1.0 / float64(period)
		}
	} else {
		for i := range weights {
			weights[i] = 1.0 / float64(period)
		}
		weights[0] /= 2
		weights[len(weights)-1] /= 2
	}

	first, last := half, n-half-1
	if first > last {
		mean := stat.Mean(y, nil)
		for i := range res {
			res[i] = mean
		}
		return res
	}

	for i := first; i <= last; i++ {
		var sum float64
		for j, w := range weights {
			sum += w * y[i-half+j]
		}
		res[i] = sum
	}

	fit := period
	if avail := last - first + 1; fit > avail {
		fit = avail
	}
	extend(res, first, first+fit, 0, first)
	extend(res, last-fit+1, last+1, last+1, n)
	return res
}

// extend fits a line through res[from:to] and writes its values over res[dst:dstEnd]
func extend(res []float64, from, to, dst, dstEnd int) {
	if dst >= dstEnd {
		return
	}
	cnt := to - from
	if cnt == 1 {
		for i := dst; i < dstEnd; i++ {
			res[i] = res[from]
		}
		return
	}
	x := make([]float64, cnt)
	for i := range x {
		x[i] = float64(from + i)
	}
	alpha, beta := stat.LinearRegression(x, res[from:to], nil, false)
	for i := dst; i < dstEnd; i++ {
		res[i] = alpha + beta*float64(i)
	}
}

// phaseMedians returns the median of each phase of the cycle, shifted to average zero
func phaseMedians(y []float64, period int) []float64 {
	buckets := make([][]float64, period)
	for i, v := range y {
		buckets[i%period] = append(buckets[i%period], v)
	}
	pattern := make([]float64, period)
	for p, b := range buckets {
		med, err := stats.Median(b)
		if err != nil {
			continue
		}
		pattern[p] = med
	}
	mean := stat.Mean(pattern, nil)
	for p := range pattern {
		pattern[p] -= mean
		if math.Abs(pattern[p]) < 1e-12 {
			pattern[p] = 0
		}
	}
	return pattern
}
