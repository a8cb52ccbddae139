package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/preprocess"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLearningRate = 0.2
	DefaultRetrainMAPE  = 0.05
)

var ErrInvalidOptions = errors.New("invalid ensemble options")

type Options struct {
	// LearningRate is the step of the exponential moving weight update in [0, 1]
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate"`

	// RetrainMAPE is the ensemble MAPE above which members are incrementally trained
	RetrainMAPE float64 `json:"retrain_mape" mapstructure:"retrain_mape"`
}

func NewDefaultOptions() *Options {
	return &Options{
		LearningRate: DefaultLearningRate,
		RetrainMAPE:  DefaultRetrainMAPE,
	}
}

func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	if o.LearningRate < 0 || o.LearningRate > 1 {
		return nil, fmt.Errorf("learning rate %.3f, %w", o.LearningRate, ErrInvalidOptions)
	}
	if o.RetrainMAPE < 0 {
		return nil, fmt.Errorf("retrain mape %.3f, %w", o.RetrainMAPE, ErrInvalidOptions)
	}
	res := *o
	return &res, nil
}

// Combiner blends the forecasts of a pool
type Combiner struct {
	pool *Pool
	opt  *Options
}

func NewCombiner(pool *Pool, opt *Options) (*Combiner, error) {
	if pool == nil {
		return nil, ErrEmptyPool
	}
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &Combiner{pool: pool, opt: opt}, nil
}

func (c *Combiner) Pool() *Pool {
	return c.pool
}

func (c *Combiner) Options() *Options {
	return c.opt
}

// Blend is a weighted forecast in normalized units
type Blend struct {
	Values []float64

	// Spread is the weighted standard deviation of the member forecasts at every step
	Spread []float64

	// Members holds the forecast of every member that answered, Weights their renormalized
	// weights
	Members map[string][]float64
	Weights map[string]float64

	// Order lists the answering members in pool order
	Order []string
}

type memberResult struct {
	idx    int
	values []float64
	weight float64
	err    error
}

// Predict runs every ready member concurrently and blends the answers that arrive before ctx
// is done. Members that are not ready, fail or do not answer in time are dropped and the
// weights are renormalized over the rest. A feature alignment failure is returned since it
// concerns the caller's input rather than a member.
func (c *Combiner) Predict(ctx context.Context, in *models.Input, horizon int) (*Blend, error) {
	if horizon <= 0 {
		return nil, models.ErrInvalidHorizon
	}
	handles := c.pool.Handles()
	results := make(chan memberResult, len(handles))
	for i, h := range handles {
		go func(i int, h *Handle) {
			values, weight, err := h.Predict(ctx, in, horizon)
			results <- memberResult{idx: i, values: values, weight: weight, err: err}
		}(i, h)
	}

	answers := make([]*memberResult, len(handles))
	var alignErr error
collect:
	for pending := len(handles); pending > 0; pending-- {
		select {
		case r := <-results:
			switch {
			case r.err == nil && len(r.values) == horizon:
				answers[r.idx] = &r
			case errors.Is(r.err, feature.ErrFeatureAlignment):
				alignErr = r.err
			case errors.Is(r.err, models.ErrModelNotReady):
			default:
				slog.Warn("dropping ensemble member", "model", handles[r.idx].Name(), "error", r.err)
			}
		case <-ctx.Done():
			slog.Warn("ensemble deadline reached", "pending", pending, "error", ctx.Err())
			break collect
		}
	}
	if alignErr != nil {
		return nil, alignErr
	}
	return blend(handles, answers, horizon)
}

func blend(handles []*Handle, answers []*memberResult, horizon int) (*Blend, error) {
	var total float64
	var count int
	for _, a := range answers {
		if a == nil {
			continue
		}
		total += a.weight
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("no ensemble member answered, %w", models.ErrModelNotReady)
	}

	b := &Blend{
		Values:  make([]float64, horizon),
		Spread:  make([]float64, horizon),
		Members: make(map[string][]float64, count),
		Weights: make(map[string]float64, count),
	}
	for i, a := range answers {
		if a == nil {
			continue
		}
		w := 1 / float64(count)
		if total > 0 {
			w = a.weight / total
		}
		name := handles[i].Name()
		b.Order = append(b.Order, name)
		b.Members[name] = a.values
		b.Weights[name] = w
		for h, v := range a.values {
			b.Values[h] += w * v
		}
	}
	for h := range b.Spread {
		var variance float64
		for _, name := range b.Order {
			d := b.Members[name][h] - b.Values[h]
			variance += b.Weights[name] * d * d
		}
		b.Spread[h] = math.Sqrt(variance)
	}
	return b, nil
}

// UpdateWeights applies NextWeights to the pool with the configured learning rate. All
// handles are write locked for the update so predictions see either the old or the new
// weights.
func (c *Combiner) UpdateWeights(errorsByModel map[string]float64) map[string]float64 {
	unlock := c.pool.lockAll()
	defer unlock()

	current := make(map[string]float64, len(c.pool.handles))
	for _, h := range c.pool.handles {
		current[h.name] = h.weight
	}
	next := NextWeights(current, errorsByModel, c.opt.LearningRate)
	for _, h := range c.pool.handles {
		h.weight = next[h.name]
	}
	return next
}

// ShouldRetrain reports whether the ensemble error calls for incremental training
func (c *Combiner) ShouldRetrain(ensembleMAPE float64) bool {
	return ensembleMAPE > c.opt.RetrainMAPE
}

// Fitted blends the in-sample predictions of the members over n points with the current
// weights. Members whose fit does not span n points are skipped and the weights are
// renormalized per point over the members with a value. Points without any value are NaN.
func (c *Combiner) Fitted(n int) []float64 {
	weights := c.pool.Weights()
	sum := make([]float64, n)
	total := make([]float64, n)
	for _, h := range c.pool.Handles() {
		fitted := h.Fitted()
		w := weights[h.Name()]
		if len(fitted) != n || w <= 0 {
			continue
		}
		for i, v := range fitted {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum[i] += w * v
			total[i] += w
		}
	}
	res := make([]float64, n)
	for i := range res {
		if total[i] == 0 {
			res[i] = math.NaN()
			continue
		}
		res[i] = sum[i] / total[i]
	}
	return res
}

// Train fully trains every member concurrently, each under its own write lock. It returns
// the members that trained and the joined failures of the rest.
func (c *Combiner) Train(ctx context.Context, in *models.Input) ([]string, error) {
	return c.each(ctx, func(ctx context.Context, h *Handle) error {
		return h.Train(ctx, in)
	})
}

// IncrementalTrain updates every member with newly observed data
func (c *Combiner) IncrementalTrain(ctx context.Context, in *models.Input) ([]string, error) {
	return c.each(ctx, func(ctx context.Context, h *Handle) error {
		return h.IncrementalTrain(ctx, in)
	})
}

func (c *Combiner) each(ctx context.Context, fn func(context.Context, *Handle) error) ([]string, error) {
	handles := c.pool.Handles()
	errs := make([]error, len(handles))

	var g errgroup.Group
	for i, h := range handles {
		g.Go(func() error {
			if err := fn(ctx, h); err != nil {
				errs[i] = fmt.Errorf("unable to train %s, %w", h.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var done []string
	for i, h := range handles {
		if errs[i] == nil {
			done = append(done, h.Name())
		}
	}
	return done, errors.Join(errs...)
}

// Forecast is a blend mapped back to demand units
type Forecast struct {
	Values  []float64
	Spread  []float64
	Members map[string][]float64
}

// PostProcess inverts the normalization of the blend, re-adds the projected trend and
// seasonality and floors the forecasts at zero. Member forecasts are mapped the same way.
func (b *Blend) PostProcess(scaler *preprocess.Scaler, proj *preprocess.Projection) *Forecast {
	f := &Forecast{
		Values:  PostProcess(b.Values, scaler, proj),
		Spread:  make([]float64, len(b.Spread)),
		Members: make(map[string][]float64, len(b.Members)),
	}
	scale := 1.0
	if scaler != nil {
		scale = math.Abs(scaler.Scale)
	}
	for h, s := range b.Spread {
		f.Spread[h] = s * scale
	}
	for name, values := range b.Members {
		f.Members[name] = PostProcess(values, scaler, proj)
	}
	return f
}

// PostProcess maps normalized residual forecasts to non negative demand
func PostProcess(values []float64, scaler *preprocess.Scaler, proj *preprocess.Projection) []float64 {
	res := make([]float64, len(values))
	for h, v := range values {
		if scaler != nil {
			v = scaler.InverseValue(v)
		}
		if proj != nil && h < len(proj.Trend) {
			v += proj.Level(h)
		}
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		res[h] = v
	}
	return res
}
