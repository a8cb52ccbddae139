// Package evaluate scores forecasts against observed demand
package evaluate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/timedataset"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrEvaluationMismatch = errors.New("predictions and actuals do not align")
	ErrResLenMismatch     = errors.New("predicted and actual have different lengths")
)

// AccuracyMetrics summarizes forecast error. MAPE is a fraction, 0.05 is five percent.
type AccuracyMetrics struct {
	MAPE        float64   `json:"mape"`
	RMSE        float64   `json:"rmse"`
	MAE         float64   `json:"mae"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// NewAccuracyMetrics computes all metrics over the pairs where both values are present
func NewAccuracyMetrics(predicted, actual []float64, now time.Time) (AccuracyMetrics, error) {
	mape, err := MAPE(predicted, actual)
	if err != nil {
		return AccuracyMetrics{}, fmt.Errorf("unable to compute mean absolute percent error, %w", err)
	}
	rmse, err := RMSE(predicted, actual)
	if err != nil {
		return AccuracyMetrics{}, fmt.Errorf("unable to compute root mean squared error, %w", err)
	}
	mae, err := MAE(predicted, actual)
	if err != nil {
		return AccuracyMetrics{}, fmt.Errorf("unable to compute mean absolute error, %w", err)
	}
	return AccuracyMetrics{
		MAPE:        mape,
		RMSE:        rmse,
		MAE:         mae,
		EvaluatedAt: now,
	}, nil
}

// Evaluate matches every prediction to the actual with the same timestamp and scores them
func Evaluate(predictions []confidence.Prediction, actuals []timedataset.HistoricalPoint) (AccuracyMetrics, error) {
	if len(predictions) != len(actuals) {
		return AccuracyMetrics{}, fmt.Errorf(
			"%d predictions and %d actuals, %w", len(predictions), len(actuals), ErrEvaluationMismatch,
		)
	}
	if len(predictions) == 0 {
		return AccuracyMetrics{}, fmt.Errorf("nothing to evaluate, %w", ErrEvaluationMismatch)
	}

	if err := checkObserved(actuals); err != nil {
		return AccuracyMetrics{}, err
	}
	byTime := make(map[int64]float64, len(actuals))
	for _, a := range actuals {
		byTime[a.Timestamp.UnixNano()] = a.Value
	}

	predicted := make([]float64, len(predictions))
	actual := make([]float64, len(predictions))
	for i, p := range predictions {
		v, exists := byTime[p.Timestamp.UnixNano()]
		if !exists {
			return AccuracyMetrics{}, fmt.Errorf(
				"no actual at %s, %w", p.Timestamp.Format(time.RFC3339), ErrEvaluationMismatch,
			)
		}
		predicted[i] = p.Value
		actual[i] = v
	}
	return NewAccuracyMetrics(predicted, actual, time.Now())
}

// checkObserved rejects actuals without a value. Skipping them would score the forecast on
// fewer points than the caller supplied.
func checkObserved(actuals []timedataset.HistoricalPoint) error {
	for _, a := range actuals {
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			return fmt.Errorf("no actual value at %s, %w", a.Timestamp.Format(time.RFC3339), ErrEvaluationMismatch)
		}
	}
	return nil
}

// Align returns, for every actual, the index of the forecast timestamp it belongs to. The
// actuals may cover only part of the forecast horizon but every one of them needs a value.
func Align(t []time.Time, actuals []timedataset.HistoricalPoint) ([]int, error) {
	if len(actuals) == 0 {
		return nil, fmt.Errorf("no actuals, %w", ErrEvaluationMismatch)
	}
	if err := checkObserved(actuals); err != nil {
		return nil, err
	}
	idx := make(map[int64]int, len(t))
	for i, tPnt := range t {
		idx[tPnt.UnixNano()] = i
	}
	res := make([]int, len(actuals))
	for i, a := range actuals {
		j, exists := idx[a.Timestamp.UnixNano()]
		if !exists {
			return nil, fmt.Errorf(
				"actual at %s was not forecast, %w", a.Timestamp.Format(time.RFC3339), ErrEvaluationMismatch,
			)
		}
		res[i] = j
	}
	return res, nil
}

// CalculateErrors computes the MAPE of every model's forecast over the timestamps covered by
// actuals. Models are visited in name order.
func CalculateErrors(t []time.Time, perModel map[string][]float64, actuals []timedataset.HistoricalPoint) (map[string]float64, error) {
	idx, err := Align(t, actuals)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(perModel))
	for name := range perModel {
		names = append(names, name)
	}
	sort.Strings(names)

	actual := make([]float64, len(actuals))
	for i, a := range actuals {
		actual[i] = a.Value
	}

	res := make(map[string]float64, len(names))
	for _, name := range names {
		forecast := perModel[name]
		if len(forecast) != len(t) {
			return nil, fmt.Errorf(
				"model %s has %d values for %d timestamps, %w", name, len(forecast), len(t), ErrEvaluationMismatch,
			)
		}
		predicted := make([]float64, len(idx))
		for i, j := range idx {
			predicted[i] = forecast[j]
		}
		mape, err := MAPE(predicted, actual)
		if err != nil {
			return nil, fmt.Errorf("unable to score model %s, %w", name, err)
		}
		res[name] = mape
	}
	return res, nil
}

// MSE computes the mean squared error over the pairs where both values are present. A score of
// 0 means a perfect match with no errors.
func MSE(predicted, actual []float64) (float64, error) {
	if len(predicted) != len(actual) {
		return 0, fmt.Errorf("expected %d, but got %d, %w", len(actual), len(predicted), ErrResLenMismatch)
	}

	var mse float64
	var cnt int
	for i := 0; i < len(actual); i++ {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		mse += math.Pow(actual[i]-predicted[i], 2.0)
		cnt++
	}
	if cnt == 0 {
		return 0, nil
	}
	return mse / float64(cnt), nil
}

func RMSE(predicted, actual []float64) (float64, error) {
	mse, err := MSE(predicted, actual)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

func MAE(predicted, actual []float64) (float64, error) {
	if len(predicted) != len(actual) {
		return 0, fmt.Errorf("expected %d, but got %d, %w", len(actual), len(predicted), ErrResLenMismatch)
	}

	var mae float64
	var cnt int
	for i := 0; i < len(actual); i++ {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		mae += math.Abs(actual[i] - predicted[i])
		cnt++
	}
	if cnt == 0 {
		return 0, nil
	}
	return mae / float64(cnt), nil
}

// MAPE calculates the mean absolute percent error as a fraction. Pairs with a zero actual are
// skipped since their percent error is undefined.
func MAPE(predicted, actual []float64) (float64, error) {
	if len(predicted) != len(actual) {
		return 0, fmt.Errorf("expected %d, but got %d, %w", len(actual), len(predicted), ErrResLenMismatch)
	}

	var mape float64
	var cnt int
	for i := 0; i < len(actual); i++ {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) || actual[i] == 0 {
			continue
		}
		mape += math.Abs((actual[i] - predicted[i]) / actual[i])
		cnt++
	}
	if cnt == 0 {
		return 0, nil
	}
	return mape / float64(cnt), nil
}

// RSquared computes the r squared value between the predicted and actual where 1.0 means perfect
// fit and 0 represents no relationship
func RSquared(predicted, actual []float64) (float64, error) {
	if len(predicted) != len(actual) {
		return 0, fmt.Errorf("expected %d, but got %d, %w", len(actual), len(predicted), ErrResLenMismatch)
	}

	predictCopy := make([]float64, 0, len(predicted))
	actualCopy := make([]float64, 0, len(actual))
	for i := 0; i < len(predicted); i++ {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		predictCopy = append(predictCopy, predicted[i])
		actualCopy = append(actualCopy, actual[i])
	}
	r2 := stat.RSquaredFrom(predictCopy, actualCopy, nil)
	if math.IsNaN(r2) {
		return 1.0, nil
	}
	return r2, nil
}
