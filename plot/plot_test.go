package plot

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineData(t *testing.T) {
	res := lineData([]float64{1, math.NaN(), 3})
	require.Len(t, res, 3)
	assert.Equal(t, 1.0, res[0].Value)
	assert.Nil(t, res[1].Value)
	assert.Equal(t, 3.0, res[2].Value)
}

func TestAxis(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []timedataset.HistoricalPoint{
		{Timestamp: start.Add(24 * time.Hour), Value: 2},
		{Timestamp: start, Value: 1},
	}
	predictions := []confidence.Prediction{
		{Timestamp: start.Add(24 * time.Hour), Value: 2},
		{Timestamp: start.Add(48 * time.Hour), Value: 3},
	}
	assert.Equal(t,
		[]time.Time{start, start.Add(24 * time.Hour), start.Add(48 * time.Hour)},
		axis(history, predictions),
	)
}

func TestRender(t *testing.T) {
	g := timedataset.Daily
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tHist := timedataset.GenerateGrid(start, 10, g)
	history := timedataset.GenerateLinearY(10, 5, 1).Points(tHist)

	lower, upper := 14.0, 16.0
	predictions := []confidence.Prediction{
		{Timestamp: g.Step(start, 10), Value: 15, LowerBound: &lower, UpperBound: &upper},
	}
	records := []models.AnomalyRecord{
		{Timestamp: tHist[3], Value: 8, AnomalyScore: 0.8, Severity: models.SeverityCritical},
	}

	var buf bytes.Buffer
	err := Render(&buf,
		LineForecast("Forecast", history, predictions),
		LineAnomalies("Anomalies", history, records),
	)
	require.Nil(t, err)

	out := buf.String()
	for _, name := range []string{"Actual", "Forecast", "Upper", "Lower", "Critical"} {
		assert.Contains(t, out, name)
	}
}
