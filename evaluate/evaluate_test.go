package evaluate

import (
	"math"
	"testing"
	"time"

	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMetrics(t *testing.T) {
	nan := math.NaN()
	testData := map[string]struct {
		predicted []float64
		actual    []float64
		mape      float64
		rmse      float64
		mae       float64
		err       error
	}{
		"perfect": {
			predicted: []float64{1, 2, 3},
			actual:    []float64{1, 2, 3},
		},
		"ten percent over": {
			predicted: []float64{110, 220},
			actual:    []float64{100, 200},
			mape:      0.1,
			rmse:      math.Sqrt((100.0 + 400.0) / 2),
			mae:       15,
		},
		"zero actual skipped for mape": {
			predicted: []float64{1, 90},
			actual:    []float64{0, 100},
			mape:      0.1,
			rmse:      math.Sqrt((1.0 + 100.0) / 2),
			mae:       5.5,
		},
		"nan skipped": {
			predicted: []float64{nan, 50},
			actual:    []float64{10, 40},
			mape:      0.25,
			rmse:      10,
			mae:       10,
		},
		"length mismatch": {
			predicted: []float64{1},
			actual:    []float64{1, 2},
			err:       ErrResLenMismatch,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res, err := NewAccuracyMetrics(td.predicted, td.actual, start)
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.InDelta(t, td.mape, res.MAPE, 1e-9)
			assert.InDelta(t, td.rmse, res.RMSE, 1e-9)
			assert.InDelta(t, td.mae, res.MAE, 1e-9)
			assert.Equal(t, start, res.EvaluatedAt)
		})
	}
}

func TestEvaluate(t *testing.T) {
	tt := timedataset.GenerateGrid(start, 3, timedataset.Daily)
	preds := []confidence.Prediction{
		{Timestamp: tt[0], Value: 110},
		{Timestamp: tt[1], Value: 90},
		{Timestamp: tt[2], Value: 100},
	}
	actuals := timedataset.Series{100, 100, 100}.Points(tt)

	res, err := Evaluate(preds, actuals)
	require.Nil(t, err)
	assert.InDelta(t, 2.0/30, res.MAPE, 1e-9)
	assert.InDelta(t, 20.0/3, res.MAE, 1e-9)

	testData := map[string]struct {
		preds   []confidence.Prediction
		actuals []timedataset.HistoricalPoint
	}{
		"fewer actuals": {preds: preds, actuals: actuals[:2]},
		"shifted actuals": {
			preds:   preds,
			actuals: timedataset.Series{100, 100, 100}.Points(timedataset.GenerateGrid(tt[1], 3, timedataset.Daily)),
		},
		"empty": {},
		"missing actual value": {
			preds:   preds,
			actuals: timedataset.Series{100, math.NaN(), 100}.Points(tt),
		},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			_, err := Evaluate(td.preds, td.actuals)
			assert.ErrorIs(t, err, ErrEvaluationMismatch)
		})
	}
}

func TestCalculateErrors(t *testing.T) {
	tt := timedataset.GenerateGrid(start, 4, timedataset.Daily)
	perModel := map[string][]float64{
		"autoregressive": {100, 100, 100, 100},
		"gbt":            {90, 110, 100, 100},
	}
	actuals := timedataset.Series{100, 100}.Points(tt[:2])

	res, err := CalculateErrors(tt, perModel, actuals)
	require.Nil(t, err)
	assert.InDelta(t, 0.0, res["autoregressive"], 1e-9)
	assert.InDelta(t, 0.1, res["gbt"], 1e-9)

	_, err = CalculateErrors(tt, perModel, timedataset.Series{1}.Points([]time.Time{start.AddDate(0, 0, 10)}))
	assert.ErrorIs(t, err, ErrEvaluationMismatch)

	_, err = CalculateErrors(tt, map[string][]float64{"gbt": {1}}, actuals)
	assert.ErrorIs(t, err, ErrEvaluationMismatch)

	_, err = CalculateErrors(tt, perModel, nil)
	assert.ErrorIs(t, err, ErrEvaluationMismatch)

	_, err = CalculateErrors(tt, perModel, timedataset.Series{100, math.NaN()}.Points(tt[:2]))
	assert.ErrorIs(t, err, ErrEvaluationMismatch)
}

func TestRSquared(t *testing.T) {
	r2, err := RSquared([]float64{1, 2, 3}, []float64{1, 2, 3})
	require.Nil(t, err)
	assert.InDelta(t, 1.0, r2, 1e-9)
}
