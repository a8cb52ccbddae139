package demandcast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fuelcast/go-demandcast/feature"
	"golang.org/x/sync/errgroup"
)

// Op is how an adjustment changes an external factor
type Op string

const (
	OpScale Op = "scale"
	OpShift Op = "shift"
	OpSet   Op = "set"
)

// Adjustment changes the future values of one external factor
type Adjustment struct {
	Factor string  `json:"factor" mapstructure:"factor"`
	Op     Op      `json:"op" mapstructure:"op"`
	Value  float64 `json:"value" mapstructure:"value"`
}

func (a Adjustment) apply(v float64) float64 {
	switch a.Op {
	case OpScale:
		return v * a.Value
	case OpShift:
		return v + a.Value
	case OpSet:
		return a.Value
	}
	return v
}

// Scenario is a named what-if variation of a forecast request
type Scenario struct {
	Name        string       `json:"name" mapstructure:"name"`
	Adjustments []Adjustment `json:"adjustments" mapstructure:"adjustments"`
}

// ScenarioResult pairs a scenario with its forecast
type ScenarioResult struct {
	Name     string          `json:"name"`
	Forecast *ForecastResult `json:"forecast"`
}

func (s Scenario) validate(factors feature.External) error {
	if s.Name == "" {
		return fmt.Errorf("unnamed scenario, %w", ErrInvalidRequest)
	}
	for _, a := range s.Adjustments {
		if _, exists := factors[a.Factor]; !exists {
			return fmt.Errorf("scenario %q adjusts %q, %w", s.Name, a.Factor, ErrUnknownFactor)
		}
		switch a.Op {
		case OpScale, OpShift, OpSet:
		default:
			return fmt.Errorf("scenario %q has operation %q, %w", s.Name, a.Op, ErrInvalidRequest)
		}
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			return fmt.Errorf("scenario %q has a non finite value, %w", s.Name, ErrInvalidRequest)
		}
	}
	return nil
}

// Apply returns a copy of the factors with the adjustments applied to every value after last.
// Adjustments of the same factor are applied in order.
func (s Scenario) Apply(factors feature.External, last time.Time) feature.External {
	res := factors.Copy()
	for _, a := range s.Adjustments {
		points := res[a.Factor]
		for i := range points {
			if points[i].Timestamp.After(last) {
				points[i].Value = a.apply(points[i].Value)
			}
		}
	}
	return res
}

// RunScenarios forecasts the base request once per scenario, each with its own adjusted copy
// of the external factors. Only the values after the last observation of the series are
// adjusted. Results are in the order of scenarios and the base request is not modified.
func (e *Engine) RunScenarios(ctx context.Context, base ForecastRequest, scenarios []Scenario) ([]ScenarioResult, error) {
	ctx, span := e.startSpan(ctx, "RunScenarios", base.Key())
	defer span.End()

	start := time.Now()
	res, err := e.scenarios(ctx, base, scenarios)
	e.finish(span, opScenarios, start, err)
	return res, err
}

func (e *Engine) scenarios(ctx context.Context, base ForecastRequest, scenarios []Scenario) ([]ScenarioResult, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	factors := base.external()
	names := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		if names[s.Name] {
			return nil, fmt.Errorf("duplicate scenario %q, %w", s.Name, ErrInvalidRequest)
		}
		names[s.Name] = true
		if err := s.validate(factors); err != nil {
			return nil, err
		}
	}
	if len(scenarios) == 0 {
		return nil, nil
	}

	points, err := e.fetch(ctx, base.Key())
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no history for %s, %w", base.Key(), ErrInsufficientData)
	}
	var last time.Time
	for _, p := range points {
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}

	res := make([]ScenarioResult, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opt.ScenarioConcurrency)
	for i, s := range scenarios {
		g.Go(func() error {
			req := base
			req.ExternalFactors = s.Apply(factors, last)
			fc, err := e.forecast(gctx, req, false)
			if err != nil {
				return fmt.Errorf("unable to forecast scenario %q, %w", s.Name, err)
			}
			res[i] = ScenarioResult{Name: s.Name, Forecast: fc}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
