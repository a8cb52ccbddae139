// Package ensemble blends the forecasts of the model pool with adaptive weights.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fuelcast/go-demandcast/evaluate"
	"github.com/fuelcast/go-demandcast/models"
)

var (
	ErrEmptyPool       = errors.New("no members in pool")
	ErrDuplicateMember = errors.New("duplicate pool member")
	ErrUnknownMember   = errors.New("unknown pool member")
)

// ModelState is the externally visible state of one pool member
type ModelState struct {
	Name           string                   `json:"name"`
	Ready          bool                     `json:"ready"`
	TrainedAt      time.Time                `json:"trained_at"`
	NextRetraining time.Time                `json:"next_retraining"`
	Accuracy       evaluate.AccuracyMetrics `json:"accuracy"`
	Weight         float64                  `json:"weight"`
}

// Handle guards a single member. Predictions take the read lock while training, loading and
// weight updates take the write lock, so state never changes mid inference.
type Handle struct {
	mu        sync.RWMutex
	name      string
	predictor models.Predictor
	weight    float64
}

func (h *Handle) Name() string {
	return h.name
}

// State returns a consistent snapshot of the member
func (h *Handle) State() ModelState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state()
}

func (h *Handle) state() ModelState {
	return ModelState{
		Name:           h.name,
		Ready:          h.predictor.IsReady(),
		TrainedAt:      h.predictor.LastTrained(),
		NextRetraining: h.predictor.NextRetraining(),
		Accuracy:       h.predictor.Accuracy(),
		Weight:         h.weight,
	}
}

// Predict runs inference under the read lock and returns the weight the forecast was made with
func (h *Handle) Predict(ctx context.Context, in *models.Input, horizon int) ([]float64, float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.predictor.IsReady() {
		return nil, 0, models.ErrModelNotReady
	}
	res, err := h.predictor.Predict(ctx, in, horizon)
	return res, h.weight, err
}

func (h *Handle) Train(ctx context.Context, in *models.Input) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.predictor.Train(ctx, in)
}

func (h *Handle) IncrementalTrain(ctx context.Context, in *models.Input) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.predictor.IncrementalTrain(ctx, in)
}

func (h *Handle) SetAccuracy(a evaluate.AccuracyMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.predictor.SetAccuracy(a)
}

// Model snapshots the member and its weight
func (h *Handle) Model() (models.Model, float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, err := h.predictor.Model()
	return m, h.weight, err
}

// Load restores a persisted member. A non positive weight keeps the current one.
func (h *Handle) Load(m models.Model, weight float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.predictor.Load(m); err != nil {
		return err
	}
	if weight > 0 {
		h.weight = weight
	}
	return nil
}

// Fitted returns a copy of the in-sample predictions of the member
func (h *Handle) Fitted() []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.predictor.Fitted())
}

// Scorer returns the anomaly scoring capability of the member if it has one. Scoring runs
// under the read lock of the handle.
func (h *Handle) Scorer() (models.AnomalyScorer, bool) {
	if _, ok := h.predictor.(models.AnomalyScorer); !ok {
		return nil, false
	}
	return lockedScorer{h: h}, true
}

type lockedScorer struct {
	h *Handle
}

func (s lockedScorer) DetectAnomalies(t []time.Time, y []float64, threshold float64) ([]models.AnomalyRecord, error) {
	s.h.mu.RLock()
	defer s.h.mu.RUnlock()
	return s.h.predictor.(models.AnomalyScorer).DetectAnomalies(t, y, threshold)
}

// Pool is an arena of member handles indexed by name
type Pool struct {
	handles []*Handle
	index   map[string]int
}

// NewPool wraps the predictors with equal starting weights
func NewPool(predictors ...models.Predictor) (*Pool, error) {
	if len(predictors) == 0 {
		return nil, ErrEmptyPool
	}
	p := &Pool{index: make(map[string]int, len(predictors))}
	w := 1 / float64(len(predictors))
	for _, pred := range predictors {
		name := pred.Name()
		if _, exists := p.index[name]; exists {
			return nil, fmt.Errorf("%q, %w", name, ErrDuplicateMember)
		}
		p.index[name] = len(p.handles)
		p.handles = append(p.handles, &Handle{name: name, predictor: pred, weight: w})
	}
	return p, nil
}

// NewDefaultPool creates an untrained pool with the named members, every member when names is
// empty
func NewDefaultPool(opt *models.Options, names ...string) (*Pool, error) {
	if len(names) == 0 {
		names = models.Names()
	}
	predictors := make([]models.Predictor, 0, len(names))
	for _, name := range names {
		pred, err := models.New(name, opt)
		if err != nil {
			return nil, err
		}
		predictors = append(predictors, pred)
	}
	return NewPool(predictors...)
}

func (p *Pool) Get(name string) (*Handle, error) {
	i, exists := p.index[name]
	if !exists {
		return nil, fmt.Errorf("%q, %w", name, ErrUnknownMember)
	}
	return p.handles[i], nil
}

// Handles returns the members in pool order
func (p *Pool) Handles() []*Handle {
	return p.handles
}

func (p *Pool) Names() []string {
	names := make([]string, len(p.handles))
	for i, h := range p.handles {
		names[i] = h.name
	}
	return names
}

func (p *Pool) States() []ModelState {
	res := make([]ModelState, len(p.handles))
	for i, h := range p.handles {
		res[i] = h.State()
	}
	return res
}

// Weights returns the current weight of every member
func (p *Pool) Weights() map[string]float64 {
	res := make(map[string]float64, len(p.handles))
	for _, h := range p.handles {
		h.mu.RLock()
		res[h.name] = h.weight
		h.mu.RUnlock()
	}
	return res
}

// Ready reports whether at least one member can forecast
func (p *Pool) Ready() bool {
	for _, h := range p.handles {
		if h.State().Ready {
			return true
		}
	}
	return false
}

// lockAll write locks every handle in pool order and returns the unlock function
func (p *Pool) lockAll() func() {
	for _, h := range p.handles {
		h.mu.Lock()
	}
	return func() {
		for i := len(p.handles) - 1; i >= 0; i-- {
			p.handles[i].mu.Unlock()
		}
	}
}
