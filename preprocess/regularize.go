package preprocess

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fuelcast/go-demandcast/timedataset"
)

var (
	ErrNoData             = errors.New("no historical data")
	ErrDuplicateTimestamp = errors.New("duplicate timestamp within series")
)

// Regularize places the points on the granularity grid spanning the first to the last
// observation. Steps without an observation are NaN so that they are never mistaken for zero
// demand.
func Regularize(points []timedataset.HistoricalPoint, g timedataset.Granularity) (*timedataset.TimeDataset, error) {
	if len(points) == 0 {
		return nil, ErrNoData
	}

	sorted := make([]timedataset.HistoricalPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	start := g.Truncate(sorted[0].Timestamp)
	end := g.Truncate(sorted[len(sorted)-1].Timestamp)
	n := g.Steps(start, end) + 1

	t := make([]time.Time, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		t[i] = g.Step(start, i)
		y[i] = math.NaN()
	}

	seen := make([]bool, n)
	for _, p := range sorted {
		idx := g.Steps(start, g.Truncate(p.Timestamp))
		if idx < 0 || idx >= n {
			continue
		}
		if seen[idx] {
			return nil, fmt.Errorf("at %s, %w", p.Timestamp, ErrDuplicateTimestamp)
		}
		seen[idx] = true
		y[idx] = p.Value
	}
	return timedataset.NewUnivariateDataset(t, y)
}

// Interpolate linearly fills NaN runs of at most maxGap steps that are bounded on both sides
// by observations. Longer runs and leading or trailing runs are left as NaN.
func Interpolate(y []float64, maxGap int) []float64 {
	res := make([]float64, len(y))
	copy(res, y)

	i := 0
	for i < len(res) {
		if !math.IsNaN(res[i]) {
			i++
			continue
		}
		start := i
		for i < len(res) && math.IsNaN(res[i]) {
			i++
		}
		end := i // first valid index after the run
		runLen := end - start
		if start == 0 || end == len(res) || runLen > maxGap {
			continue
		}
		left, right := res[start-1], res[end]
		for j := start; j < end; j++ {
			frac := float64(j-start+1) / float64(runLen+1)
			res[j] = left + frac*(right-left)
		}
	}
	return res
}

// trailingSegment returns the start index of the longest suffix that contains no NaN
func trailingSegment(y []float64) int {
	for i := len(y) - 1; i >= 0; i-- {
		if math.IsNaN(y[i]) {
			return i + 1
		}
	}
	return 0
}
