package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/fuelcast/go-demandcast/floatsunrolled"
)

// clipped forecasts keep recursive inference bounded in normalized units
const maxNormalized = 10.0

type SequenceOptions struct {
	// Window is the lookback length. Zero uses two seasonal periods.
	Window int `json:"window" mapstructure:"window"`
	Hidden int `json:"hidden" mapstructure:"hidden"`

	Epochs            int     `json:"epochs" mapstructure:"epochs"`
	IncrementalEpochs int     `json:"incremental_epochs" mapstructure:"incremental_epochs"`
	LearningRate      float64 `json:"learning_rate" mapstructure:"learning_rate"`
}

func NewDefaultSequenceOptions() *SequenceOptions {
	return &SequenceOptions{
		Hidden:            16,
		Epochs:            40,
		IncrementalEpochs: 10,
		LearningRate:      0.01,
	}
}

type sequenceParams struct {
	Window  int       `json:"window"`
	Hidden  int       `json:"hidden"`
	W1      []float64 `json:"w1"`
	B1      []float64 `json:"b1"`
	W2      []float64 `json:"w2"`
	B2      float64   `json:"b2"`
	Updates uint64    `json:"updates"`
}

// Sequence is a windowed neural network with one tanh hidden layer over a long lookback,
// trained with stochastic gradient descent from a seeded initialization.
type Sequence struct {
	state
	opt    *SequenceOptions
	seed   uint64
	params sequenceParams
}

func NewSequence(opt *SequenceOptions, seed uint64, retrainEvery time.Duration) (*Sequence, error) {
	if opt == nil {
		opt = NewDefaultSequenceOptions()
	}
	if opt.Window < 0 || opt.Hidden <= 0 || opt.Epochs < 0 || opt.IncrementalEpochs < 0 || opt.LearningRate <= 0 {
		return nil, ErrInvalidParameters
	}
	return &Sequence{
		state: state{retrainEvery: retrainEvery},
		opt:   opt,
		seed:  seed,
	}, nil
}

func (s *Sequence) Name() string {
	return NameSequence
}

func (s *Sequence) window(in *Input) int {
	w := s.opt.Window
	if w == 0 {
		w = 2 * in.Period
	}
	if limit := len(in.Y) / 3; w > limit {
		w = limit
	}
	return w
}

func (s *Sequence) Train(ctx context.Context, in *Input) error {
	if err := in.validateTrain(); err != nil {
		return err
	}
	w := s.window(in)
	if w < 2 {
		return fmt.Errorf("%d observations, %w", len(in.Y), ErrInsufficientLags)
	}

	rng := rand.New(rand.NewPCG(s.seed, 0))
	p := sequenceParams{
		Window: w,
		Hidden: s.opt.Hidden,
		W1:     make([]float64, s.opt.Hidden*w),
		B1:     make([]float64, s.opt.Hidden),
		W2:     make([]float64, s.opt.Hidden),
	}
	scale1 := 1 / math.Sqrt(float64(w))
	for i := range p.W1 {
		p.W1[i] = (rng.Float64()*2 - 1) * scale1
	}
	scale2 := 1 / math.Sqrt(float64(s.opt.Hidden))
	for i := range p.W2 {
		p.W2[i] = (rng.Float64()*2 - 1) * scale2
	}

	if err := p.fit(ctx, in.Y, s.opt.Epochs, s.opt.LearningRate, rng); err != nil {
		return err
	}
	s.params = p
	s.markTrained(s.fitted(in.Y))
	return nil
}

// IncrementalTrain continues gradient descent from the current weights on the latest history
func (s *Sequence) IncrementalTrain(ctx context.Context, in *Input) error {
	if !s.ready {
		return s.Train(ctx, in)
	}
	if err := in.validateTrain(); err != nil {
		return err
	}
	if len(in.Y) <= s.params.Window {
		return fmt.Errorf("%d observations for window %d, %w", len(in.Y), s.params.Window, ErrInsufficientLags)
	}

	p := s.params.clone()
	p.Updates++
	rng := rand.New(rand.NewPCG(s.seed, p.Updates))
	if err := p.fit(ctx, in.Y, s.opt.IncrementalEpochs, s.opt.LearningRate, rng); err != nil {
		return err
	}
	s.params = p
	s.markTrained(s.fitted(in.Y))
	return nil
}

func (p *sequenceParams) clone() sequenceParams {
	res := *p
	res.W1 = append([]float64(nil), p.W1...)
	res.B1 = append([]float64(nil), p.B1...)
	res.W2 = append([]float64(nil), p.W2...)
	return res
}

// forward returns the network output and the hidden activations for the window x
func (p *sequenceParams) forward(x []float64, hidden []float64) float64 {
	out := p.B2
	for j := 0; j < p.Hidden; j++ {
		row := p.W1[j*p.Window : (j+1)*p.Window]
		hidden[j] = math.Tanh(p.B1[j] + floatsunrolled.Dot(row, x))
		out += p.W2[j] * hidden[j]
	}
	return out
}

func (p *sequenceParams) fit(ctx context.Context, y []float64, epochs int, lr float64, rng *rand.Rand) error {
	samples := len(y) - p.Window
	if samples <= 0 {
		return ErrInsufficientLags
	}
	hidden := make([]float64, p.Hidden)
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, i := range rng.Perm(samples) {
			t := i + p.Window
			x := y[i:t]
			out := p.forward(x, hidden)

			grad := clip(out-y[t], 1)
			p.B2 -= lr * grad
			for j := 0; j < p.Hidden; j++ {
				gh := grad * p.W2[j] * (1 - hidden[j]*hidden[j])
				p.W2[j] -= lr * grad * hidden[j]
				p.B1[j] -= lr * gh
				floatsunrolled.AddScaled(p.W1[j*p.Window:(j+1)*p.Window], -lr*gh, x)
			}
		}
	}
	return nil
}

func clip(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

func (s *Sequence) fitted(y []float64) []float64 {
	res := nanSlice(len(y))
	hidden := make([]float64, s.params.Hidden)
	for t := s.params.Window; t < len(y); t++ {
		res[t] = s.params.forward(y[t-s.params.Window:t], hidden)
	}
	return res
}

func (s *Sequence) Predict(ctx context.Context, in *Input, horizon int) ([]float64, error) {
	if !s.ready {
		return nil, ErrModelNotReady
	}
	if err := in.validatePredict(horizon); err != nil {
		return nil, err
	}
	w := s.params.Window

	history := make([]float64, 0, w+horizon)
	if len(in.Y) < w {
		// pad short histories with their first value
		for i := 0; i < w-len(in.Y); i++ {
			history = append(history, in.Y[0])
		}
		history = append(history, in.Y...)
	} else {
		history = append(history, in.Y[len(in.Y)-w:]...)
	}

	hidden := make([]float64, s.params.Hidden)
	res := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := clip(s.params.forward(history[len(history)-w:], hidden), maxNormalized)
		if math.IsNaN(v) {
			v = 0
		}
		res[h] = v
		history = append(history, v)
	}
	return res, nil
}

func (s *Sequence) Model() (Model, error) {
	return s.snapshot(s.Name(), s.params)
}

func (s *Sequence) Load(m Model) error {
	var params sequenceParams
	valid := func() bool {
		return params.Window > 0 && params.Hidden > 0 &&
			len(params.W1) == params.Window*params.Hidden &&
			len(params.B1) == params.Hidden && len(params.W2) == params.Hidden
	}
	if err := s.restore(s.Name(), m, &params, valid); err != nil {
		return err
	}
	s.params = params
	return nil
}
