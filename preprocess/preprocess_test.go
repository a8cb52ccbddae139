package preprocess

import (
	"math"
	"testing"
	"time"

	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dailyPoints(y []float64) []timedataset.HistoricalPoint {
	t := timedataset.GenerateGrid(start, len(y), timedataset.Daily)
	return timedataset.Series(y).Points(t)
}

func dropIdx(points []timedataset.HistoricalPoint, idx ...int) []timedataset.HistoricalPoint {
	skip := make(map[int]bool)
	for _, i := range idx {
		skip[i] = true
	}
	var res []timedataset.HistoricalPoint
	for i, p := range points {
		if !skip[i] {
			res = append(res, p)
		}
	}
	return res
}

func TestRegularize(t *testing.T) {
	points := dropIdx(dailyPoints([]float64{1, 2, 3, 4, 5}), 2)
	points[0], points[1] = points[1], points[0]

	td, err := Regularize(points, timedataset.Daily)
	require.Nil(t, err)
	require.Equal(t, 5, td.Len())
	assert.Equal(t, 1.0, td.Y[0])
	assert.Equal(t, 2.0, td.Y[1])
	assert.True(t, math.IsNaN(td.Y[2]))
	assert.Equal(t, start.AddDate(0, 0, 2), td.T[2])

	dup := append(dailyPoints([]float64{1, 2}), timedataset.HistoricalPoint{Timestamp: start, Value: 9})
	_, err = Regularize(dup, timedataset.Daily)
	assert.ErrorIs(t, err, ErrDuplicateTimestamp)

	_, err = Regularize(nil, timedataset.Daily)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRegularizeWeekly(t *testing.T) {
	// 2024-02-05 is a monday
	points := []timedataset.HistoricalPoint{
		{Timestamp: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), Value: 70},
		{Timestamp: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), Value: 71},
		{Timestamp: time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC), Value: 72},
		{Timestamp: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), Value: 73},
	}

	td, err := Regularize(points, timedataset.Weekly)
	require.Nil(t, err)
	require.Equal(t, 5, td.Len())
	assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), td.T[0])
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), td.T[4])
	assert.Equal(t, 71.0, td.Y[1])
	assert.Equal(t, 72.0, td.Y[2])
	assert.True(t, math.IsNaN(td.Y[3]))
	assert.Equal(t, 73.0, td.Y[4])

	sameWeek := []timedataset.HistoricalPoint{
		{Timestamp: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), Value: 1},
		{Timestamp: time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC), Value: 2},
	}
	_, err = Regularize(sameWeek, timedataset.Weekly)
	assert.ErrorIs(t, err, ErrDuplicateTimestamp)
}

func TestInterpolate(t *testing.T) {
	nan := math.NaN()
	testData := map[string]struct {
		y        []float64
		maxGap   int
		expected []float64
	}{
		"no gaps": {
			y:        []float64{1, 2, 3},
			maxGap:   3,
			expected: []float64{1, 2, 3},
		},
		"short gap": {
			y:        []float64{1, nan, nan, 4},
			maxGap:   3,
			expected: []float64{1, 2, 3, 4},
		},
		"long gap": {
			y:        []float64{1, nan, nan, nan, nan, 6},
			maxGap:   3,
			expected: []float64{1, nan, nan, nan, nan, 6},
		},
		"leading and trailing": {
			y:        []float64{nan, 2, nan, 4, nan},
			maxGap:   3,
			expected: []float64{nan, 2, 3, 4, nan},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res := Interpolate(td.y, td.maxGap)
			require.Equal(t, len(td.expected), len(res))
			for i := range td.expected {
				if math.IsNaN(td.expected[i]) {
					assert.True(t, math.IsNaN(res[i]), "index %d", i)
					continue
				}
				assert.InDelta(t, td.expected[i], res[i], 1e-9, "index %d", i)
			}
		})
	}
}

func TestProcessLinearTrend(t *testing.T) {
	n := 400
	y := timedataset.GenerateLinearY(n, 50, 0.5)

	res, err := Process(dailyPoints(y), nil)
	require.Nil(t, err)
	require.Equal(t, n, len(res.T))
	assert.Equal(t, 7, res.Period)
	assert.Empty(t, res.OutlierIdx)

	for i := 0; i < n; i++ {
		assert.InDelta(t, y[i], res.Trend[i], 1e-6)
		assert.InDelta(t, 0.0, res.Seasonality[i], 1e-6)
		assert.InDelta(t, 0.0, res.Residual[i], 1e-6)
	}
	assert.Equal(t, 1.0, res.Scaler.Scale)

	future := res.Future(7)
	assert.Equal(t, start.AddDate(0, 0, n), future[0])
	proj := res.Project(future)
	for h := 0; h < 7; h++ {
		assert.InDelta(t, 50+0.5*float64(n+h), proj.Level(h), 1e-6)
	}
}

func TestProcessSeasonal(t *testing.T) {
	pattern := []float64{-3, -1, 0, 1, 2, 4, -3}
	n := 70
	y := make([]float64, n)
	for i := range y {
		y[i] = 100 + pattern[i%7]
	}

	res, err := Process(dailyPoints(y), &Options{Granularity: timedataset.Daily})
	require.Nil(t, err)
	for i := 0; i < 7; i++ {
		assert.InDelta(t, pattern[i], res.Pattern[i], 1e-6)
	}
	for i := 10; i < n-10; i++ {
		assert.InDelta(t, 100, res.Trend[i], 1e-6)
	}

	proj := res.Project(res.Future(7))
	for h := 0; h < 7; h++ {
		assert.InDelta(t, 100+pattern[(n+h)%7], proj.Level(h), 1e-6)
	}
}

func TestProcessOutlier(t *testing.T) {
	y := timedataset.GenerateConstY(60, 100)
	y[30] = 1000

	res, err := Process(dailyPoints(y), nil)
	require.Nil(t, err)
	assert.Contains(t, res.OutlierIdx, 30)
	assert.Equal(t, 1000.0, res.Original[30])
	assert.InDelta(t, 100.0, res.Cleaned[30], 1e-6)
	assert.InDelta(t, 100.0, res.Trend[30], 1e-6)

	res, err = Process(dailyPoints(y), &Options{Granularity: timedataset.Daily, RemoveOutliers: true, OutlierMethod: OutlierTukey})
	require.Nil(t, err)
	assert.Contains(t, res.OutlierIdx, 30)
	assert.Equal(t, 1000.0, res.Original[30])
	assert.InDelta(t, 100.0, res.Cleaned[30], 1e-6)

	res, err = Process(dailyPoints(y), &Options{Granularity: timedataset.Daily, RemoveOutliers: false})
	require.Nil(t, err)
	assert.Empty(t, res.OutlierIdx)
	assert.Equal(t, 1000.0, res.Cleaned[30])

	_, err = Process(dailyPoints(y), &Options{Granularity: timedataset.Daily, RemoveOutliers: true, OutlierMethod: "zscore"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestProcessGaps(t *testing.T) {
	y := timedataset.GenerateLinearY(60, 10, 1)

	testData := map[string]struct {
		missing     []int
		expectedLen int
		dropped     int
		err         error
	}{
		"short gap is filled": {
			missing:     []int{20, 21},
			expectedLen: 60,
		},
		"long gap splits series": {
			missing:     []int{10, 11, 12, 13},
			expectedLen: 46,
			dropped:     14,
		},
		"trailing segment too short": {
			missing: []int{45, 46, 47, 48, 49},
			err:     ErrInsufficientData,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res, err := Process(dropIdx(dailyPoints(y), td.missing...), nil)
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, td.expectedLen, len(res.Cleaned))
			assert.Equal(t, td.dropped, res.Dropped)
			for i, v := range res.Cleaned {
				assert.InDelta(t, y[i+td.dropped], v, 1e-9)
			}
		})
	}
}

func TestProcessInsufficient(t *testing.T) {
	_, err := Process(dailyPoints(timedataset.GenerateConstY(10, 1)), nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Process(nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDetectPeriod(t *testing.T) {
	n := 24 * 14
	tt := timedataset.GenerateGrid(start, n, timedataset.Hourly)
	y := timedataset.GenerateWaveY(tt, 10, 86400, 1, 0)
	assert.Equal(t, 24, DetectPeriod(y, timedataset.Hourly))

	assert.Equal(t, 7, DetectPeriod(timedataset.GenerateConstY(50, 3), timedataset.Daily))
}

func TestScaler(t *testing.T) {
	s := NewScaler([]float64{1, 2, 3, 4, 5})
	assert.InDelta(t, 3, s.Offset, 1e-9)
	z := s.Transform([]float64{1, 5})
	assert.InDelta(t, 1, s.InverseValue(z[0]), 1e-9)
	assert.InDelta(t, 5, s.Inverse(z)[1], 1e-9)

	flat := NewScaler([]float64{2, 2, 2})
	assert.Equal(t, 1.0, flat.Scale)
	assert.Equal(t, 2.0, flat.Offset)
}
