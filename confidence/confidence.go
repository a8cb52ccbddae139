// Package confidence attaches prediction intervals to point forecasts using the empirical
// distribution of in-sample residuals.
package confidence

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

const DefaultLevel = 0.95

var ErrInvalidLevel = errors.New("confidence level must be within (0, 1)")

// Prediction is a single forecast point. The bound fields are nil unless intervals were
// requested.
type Prediction struct {
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	LowerBound *float64  `json:"lower_bound,omitempty"`
	UpperBound *float64  `json:"upper_bound,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

type Options struct {
	Level float64 `json:"level" mapstructure:"level"`
}

func NewDefaultOptions() *Options {
	return &Options{Level: DefaultLevel}
}

func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	res := *o
	if res.Level == 0 {
		res.Level = DefaultLevel
	}
	if res.Level <= 0 || res.Level >= 1 {
		return nil, ErrInvalidLevel
	}
	return &res, nil
}

// Estimator holds the calibrated residual quantiles of a trained series
type Estimator struct {
	level float64
	z     float64
	lower float64
	upper float64
}

// NewEstimator calibrates on residuals, actual minus fitted in original units. NaN residuals
// are ignored.
func NewEstimator(opt *Options, residuals []float64) (*Estimator, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}

	sorted := make([]float64, 0, len(residuals))
	for _, r := range residuals {
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			sorted = append(sorted, r)
		}
	}
	sort.Float64s(sorted)

	alpha := 1 - opt.Level
	e := &Estimator{
		level: opt.Level,
		z:     distuv.UnitNormal.Quantile(1 - alpha/2),
	}
	if len(sorted) > 0 {
		e.lower = math.Min(0, conformalQuantile(sorted, alpha/2))
		e.upper = math.Max(0, conformalQuantile(sorted, 1-alpha/2))
	}
	return e, nil
}

func (e *Estimator) Level() float64 {
	return e.level
}

// Attach converts point forecasts into predictions. When requested is false no bounds are
// computed. Otherwise the residual quantiles are widened by the square root of the step ahead
// and by the spread between ensemble members. Lower bounds never drop below zero.
func (e *Estimator) Attach(t []time.Time, values, spread []float64, requested bool) []Prediction {
	res := make([]Prediction, len(values))
	for h, v := range values {
		res[h] = Prediction{Timestamp: t[h], Value: v}
		if !requested {
			continue
		}

		var s float64
		if h < len(spread) && !math.IsNaN(spread[h]) {
			s = spread[h]
		}
		growth := math.Sqrt(float64(h + 1))
		lower := math.Max(0, v+e.lower*growth-e.z*s)
		upper := v + e.upper*growth + e.z*s
		lower = math.Min(lower, v)
		upper = math.Max(upper, v)

		level := e.level
		res[h].LowerBound = &lower
		res[h].UpperBound = &upper
		res[h].Confidence = &level
	}
	return res
}

// conformalQuantile interpolates the q quantile at position q*(n+1) of the sorted scores
func conformalQuantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	pos := q * float64(n+1)
	idx := int(math.Floor(pos)) - 1
	frac := pos - math.Floor(pos)

	if idx < 0 {
		return sorted[0]
	}
	if idx >= n-1 {
		return sorted[n-1]
	}
	return sorted[idx] + frac*(sorted[idx+1]-sorted[idx])
}
