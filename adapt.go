package demandcast

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/evaluate"
	"github.com/fuelcast/go-demandcast/timedataset"
)

// UpdateModelsWithActuals evaluates the latest forecast of a series against observed demand.
// The per member errors move the ensemble weights, and an ensemble error above the retrain
// threshold incrementally trains the members on the history extended by the actuals.
//
// Failures are logged and returned; the pool keeps serving with its previous state.
func (e *Engine) UpdateModelsWithActuals(ctx context.Context, key SeriesKey, actuals []timedataset.HistoricalPoint) (*Adaptation, error) {
	ctx, span := e.startSpan(ctx, "UpdateModelsWithActuals", key)
	defer span.End()

	start := time.Now()
	res, err := e.adapt(ctx, key, actuals)
	e.finish(span, opAdapt, start, err)
	if err != nil {
		e.logger.Warn("unable to adapt models", "series", key.String(), "actuals", len(actuals), "error", err)
	}
	return res, err
}

func (e *Engine) adapt(ctx context.Context, key SeriesKey, actuals []timedataset.HistoricalPoint) (*Adaptation, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w, %w", ErrInvalidRequest, err)
	}
	cached, exists := e.forecasts.Get(key)
	if !exists {
		return nil, fmt.Errorf("%s, %w", key, ErrNoForecast)
	}
	s, err := e.lookup(key)
	if err != nil {
		return nil, err
	}

	idx, err := evaluate.Align(cached.t, actuals)
	if err != nil {
		return nil, fmt.Errorf("unable to align actuals with forecast, %w", err)
	}
	predictions := make([]confidence.Prediction, len(idx))
	for i, j := range idx {
		predictions[i] = confidence.Prediction{Timestamp: cached.t[j], Value: cached.values[j]}
	}
	acc, err := evaluate.Evaluate(predictions, actuals)
	if err != nil {
		return nil, fmt.Errorf("unable to evaluate ensemble, %w", err)
	}
	modelErrors, err := evaluate.CalculateErrors(cached.t, cached.members, actuals)
	if err != nil {
		return nil, fmt.Errorf("unable to evaluate models, %w", err)
	}

	s.train.Lock()
	defer s.train.Unlock()

	e.scoreForecasts(s, cached, idx, actuals, acc.EvaluatedAt)
	weights := s.combiner.UpdateWeights(modelErrors)
	s.update(func(c *calibration) {
		c.accuracy = &acc
	})
	e.metrics.Weights(key.String(), weights)
	e.metrics.EnsembleMAPE(key.String(), acc.MAPE)

	res := &Adaptation{
		Key:         key,
		Accuracy:    acc,
		ModelErrors: modelErrors,
		Weights:     weights,
	}
	if !s.combiner.ShouldRetrain(acc.MAPE) {
		e.persist(ctx, s)
		return res, nil
	}

	e.metrics.Retrain(key.String())
	e.logger.Info("ensemble error above threshold, retraining", "series", key.String(), "mape", acc.MAPE)
	res.Retrained, err = e.incremental(ctx, s, cached, actuals)
	e.persist(ctx, s)
	return res, err
}

// scoreForecasts replaces the accuracy of every forecasting member with its error against the
// actuals
func (e *Engine) scoreForecasts(s *series, cached *cachedForecast, idx []int, actuals []timedataset.HistoricalPoint, now time.Time) {
	actual := make([]float64, len(actuals))
	for i, a := range actuals {
		actual[i] = a.Value
	}
	pool := s.combiner.Pool()
	for name, forecast := range cached.members {
		h, err := pool.Get(name)
		if err != nil {
			continue
		}
		predicted := make([]float64, len(idx))
		for i, j := range idx {
			predicted[i] = forecast[j]
		}
		acc, err := evaluate.NewAccuracyMetrics(predicted, actual, now)
		if err != nil {
			e.logger.Debug("unable to score model", "series", s.key.String(), "model", name, "error", err)
			continue
		}
		h.SetAccuracy(acc)
	}
}

// incremental continues training of every member on the history with the actuals appended
func (e *Engine) incremental(ctx context.Context, s *series, cached *cachedForecast, actuals []timedataset.HistoricalPoint) ([]string, error) {
	key := s.key
	points, err := e.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	prep, err := e.preprocess(key, merge(points, actuals))
	if err != nil {
		return nil, err
	}
	cal := s.calibration()
	in, err := e.input(key, prep, cal.factors, cached.external, 0)
	if err != nil {
		return nil, err
	}

	done, err := s.combiner.IncrementalTrain(ctx, in)
	if len(done) > 0 {
		residuals := e.residuals(s, prep)
		s.update(func(c *calibration) {
			c.period = prep.Period
			c.residuals = residuals
		})
	}
	if err != nil {
		return done, fmt.Errorf("unable to incrementally train models of %s, %w", key, err)
	}
	return done, nil
}

// merge appends the actuals to the history, actuals replacing history at the same timestamp
func merge(history, actuals []timedataset.HistoricalPoint) []timedataset.HistoricalPoint {
	seen := make(map[int64]bool, len(actuals))
	for _, a := range actuals {
		seen[a.Timestamp.UnixNano()] = true
	}
	res := make([]timedataset.HistoricalPoint, 0, len(history)+len(actuals))
	for _, p := range history {
		if !seen[p.Timestamp.UnixNano()] {
			res = append(res, p)
		}
	}
	res = append(res, actuals...)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.Before(res[j].Timestamp)
	})
	return res
}
