package timedataset

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeries(t *testing.T) {
	numPnts := 7
	s := Series(GenerateConstY(numPnts, 1))

	res := s.Add(GenerateConstY(numPnts, 2))
	require.Equal(t, Series([]float64{3, 3, 3, 3, 3, 3, 3}), res)

	start := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	tSeries := GenerateGrid(start, numPnts, Daily)
	s.Outage(tSeries, start.AddDate(0, 0, 2), start.AddDate(0, 0, 4))
	assert.Equal(t, 3.0, s[1])
	assert.True(t, math.IsNaN(s[2]))
	assert.True(t, math.IsNaN(s[4]))
	assert.Equal(t, 3.0, s[5])

	points := s.Points(tSeries)
	require.Len(t, points, numPnts)
	assert.Equal(t, tSeries[6], points[6].Timestamp)
}

func TestGenerateLinearAndNoise(t *testing.T) {
	assert.Equal(t, Series{100, 100.5, 101}, GenerateLinearY(3, 100, 0.5))

	a := GenerateNoise(5, 1.0, rand.New(rand.NewPCG(1, 2)))
	b := GenerateNoise(5, 1.0, rand.New(rand.NewPCG(1, 2)))
	assert.Equal(t, a, b)
}
