package models

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/fuelcast/go-demandcast/event"
	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/linearmodel"
	"github.com/fuelcast/go-demandcast/timedataset"
	"gonum.org/v1/gonum/mat"
)

type DecompositionOptions struct {
	DailyOrders  int `json:"daily_orders" mapstructure:"daily_orders"`
	WeeklyOrders int `json:"weekly_orders" mapstructure:"weekly_orders"`
	YearlyOrders int `json:"yearly_orders" mapstructure:"yearly_orders"`

	// Regularization is the L1 penalty. Zero fits ordinary least squares.
	Regularization float64 `json:"regularization" mapstructure:"regularization"`
}

func NewDefaultDecompositionOptions() *DecompositionOptions {
	return &DecompositionOptions{
		DailyOrders:  4,
		WeeklyOrders: 3,
		YearlyOrders: 5,
	}
}

type decompositionParams struct {
	Granularity timedataset.Granularity `json:"granularity"`
	T0          time.Time               `json:"t0"`
	SpanSec     float64                 `json:"span_sec"`
	Yearly      bool                    `json:"yearly"`
	External    []string                `json:"external"`
	Labels      []string                `json:"labels"`
	Intercept   float64                 `json:"intercept"`
	Coef        []float64               `json:"coef"`
}

// Decomposition regresses the series on a linear trend, fourier seasonalities, holiday
// indicators and external regressors.
type Decomposition struct {
	state
	opt    *DecompositionOptions
	cal    *event.Calendar
	params decompositionParams
}

func NewDecomposition(opt *DecompositionOptions, retrainEvery time.Duration) (*Decomposition, error) {
	if opt == nil {
		opt = NewDefaultDecompositionOptions()
	}
	if opt.DailyOrders < 0 || opt.WeeklyOrders < 0 || opt.YearlyOrders < 0 || opt.Regularization < 0 {
		return nil, ErrInvalidParameters
	}
	return &Decomposition{
		state: state{retrainEvery: retrainEvery},
		opt:   opt,
		cal:   event.NewCalendar(),
	}, nil
}

func (d *Decomposition) Name() string {
	return NameDecomposition
}

func externalNames(in *Input) []string {
	if in.Engineer != nil {
		return in.Engineer.Options().ExternalFactors
	}
	return in.External.Names()
}

// design builds the regressors for t. Rows with a missing external value are marked invalid.
func (d *Decomposition) design(p decompositionParams, t []time.Time, ext feature.External) (*feature.Set, []bool) {
	s := feature.NewSet()
	valid := make([]bool, len(t))
	for i := range valid {
		valid[i] = true
	}

	trend := make([]float64, len(t))
	for i, tPnt := range t {
		trend[i] = tPnt.Sub(p.T0).Seconds() / p.SpanSec
	}
	s.Set(feature.NewTrend(feature.TrendLinear), trend)

	g := p.Granularity
	if g == timedataset.Hourly && d.opt.DailyOrders > 0 {
		feature.AddFourier(s, "daily", t, feature.Daily, d.opt.DailyOrders)
	}
	if (g == timedataset.Hourly || g == timedataset.Daily) && d.opt.WeeklyOrders > 0 {
		feature.AddFourier(s, "weekly", t, feature.Weekly, d.opt.WeeklyOrders)
	}
	if p.Yearly && d.opt.YearlyOrders > 0 {
		feature.AddFourier(s, "yearly", t, feature.Yearly, d.opt.YearlyOrders)
	}
	if g == timedataset.Hourly || g == timedataset.Daily {
		hol := make([]float64, len(t))
		for i, tPnt := range t {
			if d.cal.IsHoliday(tPnt) {
				hol[i] = 1
			}
		}
		s.Set(feature.NewHoliday("us"), hol)
	}

	for _, name := range p.External {
		col := make([]float64, len(t))
		for i, tPnt := range t {
			v, err := ext.Lookup(name, tPnt)
			if err != nil {
				valid[i] = false
				continue
			}
			col[i] = v
		}
		s.Set(feature.NewFactor(name), col)
	}
	return s, valid
}

func (d *Decomposition) Train(ctx context.Context, in *Input) error {
	return d.train(ctx, in, nil)
}

// IncrementalTrain refits on the latest history starting from the current coefficients
func (d *Decomposition) IncrementalTrain(ctx context.Context, in *Input) error {
	if !d.ready {
		return d.Train(ctx, in)
	}
	warm := append([]float64{d.params.Intercept}, d.params.Coef...)
	return d.train(ctx, in, warm)
}

func (d *Decomposition) train(ctx context.Context, in *Input, warm []float64) error {
	if err := in.validateTrain(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	span := in.T[len(in.T)-1].Sub(in.T[0]).Seconds()
	if span <= 0 {
		span = 1
	}
	p := decompositionParams{
		Granularity: in.Granularity,
		T0:          in.T[0],
		SpanSec:     span,
		Yearly:      in.T[len(in.T)-1].Sub(in.T[0]) >= feature.Yearly,
		External:    externalNames(in),
	}
	s, valid := d.design(p, in.T, in.External)
	labels := s.Labels()
	cols := s.MatrixSlice(false)

	// drop rows with missing values
	var rows [][]float64
	var target []float64
	for i := range in.Y {
		if !valid[i] || math.IsNaN(in.Y[i]) {
			continue
		}
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col[i]
		}
		rows = append(rows, row)
		target = append(target, in.Y[i])
	}
	if len(rows) <= len(cols) {
		return fmt.Errorf("%d complete rows for %d regressors, %w", len(rows), len(cols), ErrNoTrainingData)
	}

	x, err := linearmodel.NewDenseFromRows(rows)
	if err != nil {
		return err
	}
	y := mat.NewDense(len(target), 1, target)

	var reg linearmodel.Regressor
	if d.opt.Regularization > 0 {
		lopt := linearmodel.NewDefaultLassoOptions()
		lopt.Lambda = d.opt.Regularization
		if len(warm) == len(cols)+1 && slices.Equal(labels.Strings(), d.params.Labels) {
			lopt.WarmStartBeta = warm
		}
		lasso, err := linearmodel.NewLassoRegression(lopt)
		if err != nil {
			return err
		}
		reg = lasso
	} else {
		ols, err := linearmodel.NewOLSRegression(&linearmodel.OLSOptions{FitIntercept: true, Ridge: 1e-6})
		if err != nil {
			return err
		}
		reg = ols
	}
	if err := reg.Fit(x, y); err != nil {
		return fmt.Errorf("unable to fit decomposition regression, %w", err)
	}

	p.Labels = labels.Strings()
	p.Intercept = reg.Intercept()
	p.Coef = append([]float64(nil), reg.Coef()...)
	d.params = p

	fitted := nanSlice(len(in.Y))
	full := s.Matrix(false)
	for i := range fitted {
		if valid[i] {
			fitted[i] = d.dot(mat.Row(nil, i, full))
		}
	}
	d.markTrained(fitted)
	return nil
}

func (d *Decomposition) dot(row []float64) float64 {
	v := d.params.Intercept
	for j, c := range d.params.Coef {
		v += c * row[j]
	}
	return v
}

func (d *Decomposition) Predict(ctx context.Context, in *Input, horizon int) ([]float64, error) {
	if !d.ready {
		return nil, ErrModelNotReady
	}
	if err := in.validatePredict(horizon); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := in.Future[:horizon]
	s, valid := d.design(d.params, t, in.External)
	if !slices.Equal(s.Labels().Strings(), d.params.Labels) {
		return nil, fmt.Errorf("regressors changed since training, %w", feature.ErrFeatureAlignment)
	}
	x := s.Matrix(false)

	res := make([]float64, horizon)
	for h := range res {
		if !valid[h] {
			return nil, fmt.Errorf("missing external value at %s, %w", t[h].Format(time.RFC3339), feature.ErrFeatureAlignment)
		}
		res[h] = d.dot(mat.Row(nil, h, x))
	}
	return res, nil
}

// Coefficients returns the fitted regression weight of every regressor
func (d *Decomposition) Coefficients() map[string]float64 {
	res := make(map[string]float64, len(d.params.Labels))
	for i, l := range d.params.Labels {
		res[l] = d.params.Coef[i]
	}
	return res
}

func (d *Decomposition) Model() (Model, error) {
	return d.snapshot(d.Name(), d.params)
}

func (d *Decomposition) Load(m Model) error {
	var params decompositionParams
	valid := func() bool {
		return len(params.Labels) == len(params.Coef) && params.SpanSec > 0
	}
	if err := d.restore(d.Name(), m, &params, valid); err != nil {
		return err
	}
	d.params = params
	return nil
}
