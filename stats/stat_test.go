package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantile(t *testing.T) {
	testData := map[string]struct {
		y        []float64
		q        float64
		expected float64
		err      error
	}{
		"odd median":       {y: []float64{3, 1, 2}, q: 0.5, expected: 2},
		"even median":      {y: []float64{4, 1, 3, 2}, q: 0.5, expected: 2.5},
		"skip nans":        {y: []float64{math.NaN(), 1, 2, 3}, q: 0.5, expected: 2},
		"upper bound":      {y: []float64{1, 2, 3}, q: 1, expected: 3},
		"lower bound":      {y: []float64{1, 2, 3}, q: 0, expected: 1},
		"interpolated":     {y: []float64{0, 10}, q: 0.25, expected: 2.5},
		"all nan":          {y: []float64{math.NaN()}, q: 0.5, err: ErrEmptySeries},
		"invalid quantile": {y: []float64{1}, q: 1.5, err: ErrInvalidQuantile},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res, err := Quantile(td.y, td.q)
			if td.err != nil {
				require.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.InDelta(t, td.expected, res, 1e-9)
		})
	}
}

func TestMAD(t *testing.T) {
	med, mad, err := MAD([]float64{1, 1, 2, 2, 4, 6, 9})
	require.Nil(t, err)
	assert.Equal(t, 2.0, med)
	assert.Equal(t, 1.0, mad)
}

func TestDetectOutliers(t *testing.T) {
	y := []float64{10, 11, 9, 10, 10, 100, 10, 11, 9, -50}
	res := DetectOutliers(y, 0.25, 0.75, 1.5)
	assert.Equal(t, []int{5, 9}, res)
}

func TestDetectMADOutliers(t *testing.T) {
	testData := map[string]struct {
		y         []float64
		threshold float64
		expected  []int
	}{
		"single spike": {
			y:         []float64{10, 11, 9, 10, 10, 100, 10, 11, 9, 10},
			threshold: 3.5,
			expected:  []int{5},
		},
		"flat series with spike": {
			y:         []float64{5, 5, 5, 50, 5, 5},
			threshold: 3.5,
			expected:  []int{3},
		},
		"no outliers": {
			y:         []float64{1, 2, 3, 4, 5},
			threshold: 3.5,
		},
		"ignores nan": {
			y:         []float64{5, math.NaN(), 5, 5},
			threshold: 3.5,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res := DetectMADOutliers(td.y, td.threshold)
			assert.Equal(t, td.expected, res)
		})
	}
}

func TestMeanStdDev(t *testing.T) {
	mean, std, err := MeanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.Nil(t, err)
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.138, std, 1e-3)

	mean, std, err = MeanStdDev([]float64{3})
	require.Nil(t, err)
	assert.Equal(t, 3.0, mean)
	assert.Equal(t, 0.0, std)

	_, _, err = MeanStdDev(nil)
	assert.ErrorIs(t, err, ErrEmptySeries)
}

func TestDominantPeriod(t *testing.T) {
	y := make([]float64, 140)
	for i := range y {
		y[i] = math.Sin(2 * math.Pi * float64(i) / 7.0)
	}
	period, ok := DominantPeriod(y, 2, 30, 0.3)
	require.True(t, ok)
	assert.Equal(t, 7, period)

	_, ok = DominantPeriod(make([]float64, 50), 2, 20, 0.3)
	assert.False(t, ok)
}
