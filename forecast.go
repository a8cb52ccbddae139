package demandcast

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/feature"
	"github.com/google/uuid"
)

// cachedForecast keeps what is needed to evaluate a forecast once actuals arrive
type cachedForecast struct {
	t        []time.Time
	values   []float64
	members  map[string][]float64
	external feature.External
}

// GenerateForecast forecasts a series with the ensemble of its pool. Every failure is
// returned: missing history, a series too short after gap handling, misaligned external
// factors or a pool with no ready member.
func (e *Engine) GenerateForecast(ctx context.Context, req ForecastRequest) (*ForecastResult, error) {
	ctx, span := e.startSpan(ctx, "GenerateForecast", req.Key())
	defer span.End()

	start := time.Now()
	res, err := e.forecast(ctx, req, true)
	e.finish(span, opForecast, start, err)
	if err == nil {
		e.metrics.Forecast(string(req.Granularity))
	}
	return res, err
}

func (e *Engine) forecast(ctx context.Context, req ForecastRequest, cache bool) (*ForecastResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.opt.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	key := req.Key()
	s, err := e.lookup(key)
	if err != nil {
		return nil, err
	}

	points, err := e.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	prep, err := e.preprocess(key, points)
	if err != nil {
		return nil, err
	}
	if !s.combiner.Pool().Ready() {
		return nil, fmt.Errorf("no model of %s is trained, %w", key, ErrModelNotReady)
	}

	cal := s.calibration()
	ext := req.external()
	in, err := e.input(key, prep, cal.factors, ext, req.Horizon)
	if err != nil {
		return nil, err
	}

	blend, err := s.combiner.Predict(ctx, in, req.Horizon)
	if err != nil {
		return nil, fmt.Errorf("unable to combine forecasts of %s, %w", key, err)
	}
	for _, name := range missing(s.combiner.Pool().Names(), blend.Order) {
		e.metrics.DroppedMember(name)
	}

	future := in.Future[:req.Horizon]
	fc := blend.PostProcess(prep.Scaler, prep.Project(future))

	residuals := cal.residuals
	if len(residuals) == 0 {
		// restored pools without calibration fall back to the decomposition residual
		residuals = prep.Residual
	}
	est, err := confidence.NewEstimator(e.opt.Confidence, residuals)
	if err != nil {
		return nil, fmt.Errorf("unable to calibrate prediction intervals, %w", err)
	}

	res := &ForecastResult{
		ID:                 uuid.New(),
		Key:                key,
		Predictions:        est.Attach(future, fc.Values, fc.Spread, req.IncludeConfidenceInterval),
		Accuracy:           cal.accuracy,
		ModelsUsed:         slices.Clone(blend.Order),
		Weights:            blend.Weights,
		TrainingDataPoints: len(prep.T),
		GeneratedAt:        time.Now(),
		Horizon:            req.Horizon,
		Granularity:        key.Granularity,
	}
	if cache {
		e.forecasts.Add(key, &cachedForecast{
			t:        future,
			values:   fc.Values,
			members:  fc.Members,
			external: ext.Copy(),
		})
	}
	return res, nil
}
