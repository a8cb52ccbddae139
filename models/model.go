// Package models holds the forecasting members of the ensemble. Every member forecasts the
// normalized residual of a decomposed demand series and is driven through the Predictor
// interface.
package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fuelcast/go-demandcast/evaluate"
	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/goccy/go-json"
)

var (
	ErrModelNotReady     = errors.New("model not ready")
	ErrNoTrainingData    = errors.New("no training data")
	ErrUnknownModel      = errors.New("unknown model")
	ErrModelMismatch     = errors.New("model snapshot does not belong to this predictor")
	ErrInvalidHorizon    = errors.New("horizon must be positive")
	ErrMissingFuture     = errors.New("future timestamps do not cover the horizon")
	ErrMissingEngineer   = errors.New("no feature engineer")
	ErrInsufficientLags  = errors.New("not enough observations for the lookback window")
	ErrInvalidParameters = errors.New("invalid model parameters")
)

const (
	NameSequence       = "sequence"
	NameDecomposition  = "decomposition"
	NameAutoregressive = "autoregressive"
	NameGBT            = "gbt"
)

// Names lists every member in a stable order
func Names() []string {
	return []string{NameSequence, NameDecomposition, NameAutoregressive, NameGBT}
}

// Input is the training or inference context of a member
type Input struct {
	Granularity timedataset.Granularity
	Period      int

	// T and Y are the history, Y being the normalized residual
	T []time.Time
	Y []float64

	// Matrix holds the engineered features of the history
	Matrix   *feature.Matrix
	Engineer *feature.Engineer
	External feature.External

	// Future are the timestamps to forecast
	Future []time.Time
}

func (in *Input) validateTrain() error {
	if in == nil || len(in.Y) == 0 {
		return ErrNoTrainingData
	}
	if len(in.T) != len(in.Y) {
		return fmt.Errorf("%d timestamps for %d values, %w", len(in.T), len(in.Y), ErrNoTrainingData)
	}
	return nil
}

func (in *Input) validatePredict(horizon int) error {
	if horizon <= 0 {
		return ErrInvalidHorizon
	}
	if in == nil || len(in.Y) == 0 {
		return ErrNoTrainingData
	}
	if len(in.Future) < horizon {
		return fmt.Errorf("%d future timestamps for horizon %d, %w", len(in.Future), horizon, ErrMissingFuture)
	}
	return nil
}

// Predictor is a member of the ensemble. Implementations are not safe for concurrent use;
// callers serialize writes and may run Predict concurrently with other Predict calls.
type Predictor interface {
	Name() string
	Train(ctx context.Context, in *Input) error
	Predict(ctx context.Context, in *Input, horizon int) ([]float64, error)
	IncrementalTrain(ctx context.Context, in *Input) error

	IsReady() bool
	LastTrained() time.Time
	NextRetraining() time.Time
	Accuracy() evaluate.AccuracyMetrics
	SetAccuracy(evaluate.AccuracyMetrics)

	// Fitted returns the in-sample one step predictions of the last training run, NaN where
	// the member had no prediction.
	Fitted() []float64

	Model() (Model, error)
	Load(Model) error
}

// Model is a serializable snapshot of a trained member
type Model struct {
	Name      string                   `json:"name"`
	TrainedAt time.Time                `json:"trained_at"`
	Accuracy  evaluate.AccuracyMetrics `json:"accuracy"`
	Params    json.RawMessage          `json:"params"`
}

// Options configures every member
type Options struct {
	// Seed makes stochastic members reproducible
	Seed uint64 `json:"seed" mapstructure:"seed"`

	// RetrainEvery is added to the training time to report the next scheduled retrain
	RetrainEvery time.Duration `json:"retrain_every" mapstructure:"retrain_every"`

	Autoregressive *AutoregressiveOptions `json:"autoregressive" mapstructure:"autoregressive"`
	Decomposition  *DecompositionOptions  `json:"decomposition" mapstructure:"decomposition"`
	Sequence       *SequenceOptions       `json:"sequence" mapstructure:"sequence"`
	GBT            *GBTOptions            `json:"gbt" mapstructure:"gbt"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Seed:           42,
		RetrainEvery:   24 * time.Hour,
		Autoregressive: NewDefaultAutoregressiveOptions(),
		Decomposition:  NewDefaultDecompositionOptions(),
		Sequence:       NewDefaultSequenceOptions(),
		GBT:            NewDefaultGBTOptions(),
	}
}

// New creates an untrained member by name
func New(name string, opt *Options) (Predictor, error) {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	switch name {
	case NameAutoregressive:
		return NewAutoregressive(opt.Autoregressive, opt.RetrainEvery)
	case NameDecomposition:
		return NewDecomposition(opt.Decomposition, opt.RetrainEvery)
	case NameSequence:
		return NewSequence(opt.Sequence, opt.Seed, opt.RetrainEvery)
	case NameGBT:
		return NewGBT(opt.GBT, opt.Seed, opt.RetrainEvery)
	}
	return nil, fmt.Errorf("%q, %w", name, ErrUnknownModel)
}

// state tracks the lifecycle shared by every member
type state struct {
	ready        bool
	trainedAt    time.Time
	retrainEvery time.Duration
	accuracy     evaluate.AccuracyMetrics
	fitted       []float64
}

func (s *state) IsReady() bool {
	return s.ready
}

func (s *state) LastTrained() time.Time {
	return s.trainedAt
}

func (s *state) NextRetraining() time.Time {
	if s.trainedAt.IsZero() || s.retrainEvery <= 0 {
		return time.Time{}
	}
	return s.trainedAt.Add(s.retrainEvery)
}

func (s *state) Accuracy() evaluate.AccuracyMetrics {
	return s.accuracy
}

func (s *state) SetAccuracy(a evaluate.AccuracyMetrics) {
	s.accuracy = a
}

func (s *state) Fitted() []float64 {
	res := make([]float64, len(s.fitted))
	copy(res, s.fitted)
	return res
}

func (s *state) markTrained(fitted []float64) {
	s.ready = true
	s.trainedAt = time.Now()
	s.fitted = fitted
}

func (s *state) snapshot(name string, params any) (Model, error) {
	if !s.ready {
		return Model{}, ErrModelNotReady
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return Model{}, fmt.Errorf("unable to marshal %s parameters, %w", name, err)
	}
	return Model{
		Name:      name,
		TrainedAt: s.trainedAt,
		Accuracy:  s.accuracy,
		Params:    raw,
	}, nil
}

// restore decodes the snapshot parameters into params and, once valid reports them usable,
// marks the member ready with the snapshot's training time and accuracy. A rejected snapshot
// leaves the member untouched.
func (s *state) restore(name string, m Model, params any, valid func() bool) error {
	if m.Name != name {
		return fmt.Errorf("snapshot %q loaded into %q, %w", m.Name, name, ErrModelMismatch)
	}
	if err := json.Unmarshal(m.Params, params); err != nil {
		return fmt.Errorf("unable to unmarshal %s parameters, %w", name, err)
	}
	if !valid() {
		return fmt.Errorf("snapshot of %s, %w", name, ErrInvalidParameters)
	}
	s.ready = true
	s.trainedAt = m.TrainedAt
	s.accuracy = m.Accuracy
	s.fitted = nil
	return nil
}

func nanSlice(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = math.NaN()
	}
	return res
}
