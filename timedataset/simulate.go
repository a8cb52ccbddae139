package timedataset

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
)

// GenerateGrid creates n time points starting at start stepping by the granularity
func GenerateGrid(start time.Time, n int, g Granularity) []time.Time {
	t := make([]time.Time, n)
	for i := 0; i < n; i++ {
		t[i] = g.Step(start, i)
	}
	return t
}

type Series []float64

func (s Series) Add(src Series) Series {
	floats.Add(s, src)
	return s
}

// Outage marks the values at timestamps within [start, end] as missing
func (s Series) Outage(t []time.Time, start, end time.Time) Series {
	for i := range s {
		if !t[i].Before(start) && !t[i].After(end) {
			s[i] = math.NaN()
		}
	}
	return s
}

// Points zips the series with its timestamps
func (s Series) Points(t []time.Time) []HistoricalPoint {
	points := make([]HistoricalPoint, len(s))
	for i := range s {
		points[i] = HistoricalPoint{Timestamp: t[i], Value: s[i]}
	}
	return points
}

func GenerateConstY(n int, val float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, val)
	}
	return Series(y)
}

// GenerateLinearY generates intercept + slope*i for i in [0, n)
func GenerateLinearY(n int, intercept, slope float64) Series {
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = intercept + slope*float64(i)
	}
	return Series(y)
}

func GenerateWaveY(t []time.Time, amp, periodSec, order, timeOffset float64) Series {
	n := len(t)
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		val := amp * math.Sin(2.0*math.Pi*order/periodSec*(float64(t[i].Unix())+timeOffset))
		y = append(y, val)
	}
	return Series(y)
}

// GenerateNoise creates normally distributed noise using the provided source so that
// simulated series are reproducible.
func GenerateNoise(n int, scale float64, rng *rand.Rand) Series {
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = rng.NormFloat64() * scale
	}
	return Series(y)
}
