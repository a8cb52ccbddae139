package timedataset

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNoTrainingData     = errors.New("no training data")
	ErrNonMontonic        = errors.New("time feature is not monotonic")
	ErrDatasetLenMismatch = errors.New("time feature has a different length than observations")
)

// HistoricalPoint is a single observation of demand at a point in time. A NaN value
// represents an explicit "no data" marker and is never treated as zero demand.
type HistoricalPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TimeDataset represents a time series storing a slice of time points and values.
// Both must be of the same length.
type TimeDataset struct {
	T []time.Time
	Y []float64
}

// NewUnivariateDataset returns an instance of a TimeDataset given a time and value slice.
func NewUnivariateDataset(t []time.Time, y []float64) (*TimeDataset, error) {
	if len(y) == 0 {
		return nil, ErrNoTrainingData
	}
	if len(t) != len(y) {
		return nil, fmt.Errorf(
			"time feature has length of %d, but values has a length of %d, %w",
			len(t), len(y), ErrDatasetLenMismatch,
		)
	}

	var lastT time.Time
	for i := 0; i < len(t); i++ {
		currT := t[i]
		if i > 0 && !currT.After(lastT) {
			return nil, fmt.Errorf("non-monotonic at %d, %w", i, ErrNonMontonic)
		}
		lastT = currT
	}

	tSeries := make([]time.Time, len(t))
	ySeries := make([]float64, len(t))
	copy(tSeries, t)
	copy(ySeries, y)
	td := &TimeDataset{
		T: tSeries,
		Y: ySeries,
	}

	return td, nil
}

// FromPoints builds a dataset out of historical points. Points must already be ordered by
// timestamp with no duplicates.
func FromPoints(points []HistoricalPoint) (*TimeDataset, error) {
	t := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		t[i] = p.Timestamp
		y[i] = p.Value
	}
	return NewUnivariateDataset(t, y)
}

// Points converts the dataset back into historical points
func (td *TimeDataset) Points() []HistoricalPoint {
	points := make([]HistoricalPoint, len(td.T))
	for i := range td.T {
		points[i] = HistoricalPoint{Timestamp: td.T[i], Value: td.Y[i]}
	}
	return points
}

// Len returns the number of observations including no data markers
func (td *TimeDataset) Len() int {
	return len(td.T)
}

// Valid returns the number of observations that are not NaN
func (td *TimeDataset) Valid() int {
	var n int
	for _, v := range td.Y {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

func (td *TimeDataset) Copy() *TimeDataset {
	tSeries := make([]time.Time, len(td.T))
	ySeries := make([]float64, len(td.T))
	copy(tSeries, td.T)
	copy(ySeries, td.Y)
	return &TimeDataset{
		T: tSeries,
		Y: ySeries,
	}
}

// Slice returns a copy of the dataset between the start (inclusive) and end (exclusive) index
func (td *TimeDataset) Slice(start, end int) *TimeDataset {
	sub := &TimeDataset{
		T: make([]time.Time, end-start),
		Y: make([]float64, end-start),
	}
	copy(sub.T, td.T[start:end])
	copy(sub.Y, td.Y[start:end])
	return sub
}
