package models

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fuelcast/go-demandcast/linearmodel"
	"github.com/fuelcast/go-demandcast/stats"
)

const zeroVariance = 1e-12

type AutoregressiveOptions struct {
	// Order is the number of lags p. Zero uses the seasonal period of the input.
	Order int `json:"order" mapstructure:"order"`

	// Ridge stabilizes the fit on short or nearly collinear histories
	Ridge float64 `json:"ridge" mapstructure:"ridge"`
}

func NewDefaultAutoregressiveOptions() *AutoregressiveOptions {
	return &AutoregressiveOptions{Ridge: 1e-6}
}

type arParams struct {
	Order     int       `json:"order"`
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

// Autoregressive is an AR(p) model fit by least squares on lagged values and forecast
// recursively.
type Autoregressive struct {
	state
	opt    *AutoregressiveOptions
	params arParams
}

func NewAutoregressive(opt *AutoregressiveOptions, retrainEvery time.Duration) (*Autoregressive, error) {
	if opt == nil {
		opt = NewDefaultAutoregressiveOptions()
	}
	if opt.Order < 0 || opt.Ridge < 0 {
		return nil, ErrInvalidParameters
	}
	return &Autoregressive{
		state: state{retrainEvery: retrainEvery},
		opt:   opt,
	}, nil
}

func (a *Autoregressive) Name() string {
	return NameAutoregressive
}

func (a *Autoregressive) order(in *Input) int {
	p := a.opt.Order
	if p == 0 {
		p = in.Period
	}
	if p <= 0 {
		p = 1
	}
	// leave at least four observations per coefficient
	if limit := len(in.Y) / 4; p > limit {
		p = limit
	}
	return p
}

func (a *Autoregressive) Train(ctx context.Context, in *Input) error {
	if err := in.validateTrain(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p := a.order(in)
	if p < 1 {
		return fmt.Errorf("%d observations, %w", len(in.Y), ErrInsufficientLags)
	}

	params, err := fitAR(in.Y, p, a.opt.Ridge)
	if err != nil {
		return fmt.Errorf("unable to fit autoregressive model, %w", err)
	}
	a.params = params
	a.markTrained(a.fitted(in.Y))
	return nil
}

// IncrementalTrain refits on the latest history. The fit is a single least squares solve so a
// full refit is as cheap as an update.
func (a *Autoregressive) IncrementalTrain(ctx context.Context, in *Input) error {
	return a.Train(ctx, in)
}

func fitAR(y []float64, p int, ridge float64) (arParams, error) {
	mean, std, err := stats.MeanStdDev(y)
	if err != nil {
		return arParams{}, err
	}
	if std < zeroVariance {
		return arParams{Order: p, Intercept: mean, Coef: make([]float64, p)}, nil
	}

	rows := make([][]float64, 0, len(y)-p)
	target := make([]float64, 0, len(y)-p)
	for t := p; t < len(y); t++ {
		rows = append(rows, lagRow(y[:t], p))
		target = append(target, y[t])
	}
	model, err := linearmodel.FitRows(rows, target, &linearmodel.OLSOptions{FitIntercept: true, Ridge: ridge})
	if err != nil {
		return arParams{}, err
	}
	return arParams{Order: p, Intercept: model.Intercept(), Coef: model.Coef()}, nil
}

// lagRow returns the last p values of history, most recent first
func lagRow(history []float64, p int) []float64 {
	row := make([]float64, p)
	n := len(history)
	for k := 0; k < p; k++ {
		row[k] = history[n-1-k]
	}
	return row
}

func (a *Autoregressive) step(history []float64) float64 {
	v := a.params.Intercept
	n := len(history)
	for k, c := range a.params.Coef {
		idx := n - 1 - k
		if idx < 0 {
			idx = 0
		}
		v += c * history[idx]
	}
	return v
}

func (a *Autoregressive) fitted(y []float64) []float64 {
	res := nanSlice(len(y))
	for t := a.params.Order; t < len(y); t++ {
		res[t] = a.step(y[:t])
	}
	return res
}

func (a *Autoregressive) Predict(ctx context.Context, in *Input, horizon int) ([]float64, error) {
	if !a.ready {
		return nil, ErrModelNotReady
	}
	if err := in.validatePredict(horizon); err != nil {
		return nil, err
	}

	history := make([]float64, len(in.Y), len(in.Y)+horizon)
	copy(history, in.Y)
	res := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := a.step(history)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		res[h] = v
		history = append(history, v)
	}
	return res, nil
}

func (a *Autoregressive) Model() (Model, error) {
	return a.snapshot(a.Name(), a.params)
}

func (a *Autoregressive) Load(m Model) error {
	var params arParams
	valid := func() bool {
		return params.Order >= 0 && len(params.Coef) == params.Order
	}
	if err := a.restore(a.Name(), m, &params, valid); err != nil {
		return err
	}
	a.params = params
	return nil
}
