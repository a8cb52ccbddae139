// Package demandcast forecasts fuel demand per station and product with an adaptive ensemble of
// statistical and machine learning models.
//
// An Engine owns one model pool per series. Pools start untrained; Train or LoadModels makes
// them ready, GenerateForecast serves forecasts concurrently, and UpdateModelsWithActuals feeds
// observed demand back into the ensemble weights and the members.
package demandcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/fuelcast/go-demandcast/alert"
	"github.com/fuelcast/go-demandcast/ensemble"
	"github.com/fuelcast/go-demandcast/evaluate"
	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/history"
	"github.com/fuelcast/go-demandcast/metrics"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/preprocess"
	"github.com/fuelcast/go-demandcast/store"
	"github.com/fuelcast/go-demandcast/timedataset"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fuelcast/go-demandcast"

const (
	opTrain           = "train"
	opLoad            = "load"
	opForecast        = "forecast"
	opAdapt           = "adapt"
	opAnomalies       = "anomalies"
	opScenarios       = "scenarios"
	opCannibalization = "cannibalization"
)

// Option configures the collaborators of an Engine
type Option func(*Engine)

// WithModelStore persists trained pools and enables LoadModels
func WithModelStore(s store.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithAlertSink receives critical anomalies
func WithAlertSink(s alert.Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine is the forecasting service. It is safe for concurrent use.
type Engine struct {
	opt     *Options
	src     history.Source
	store   store.Store
	sink    alert.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	mu     sync.Mutex
	series map[SeriesKey]*series

	// forecasts holds the latest forecast of every series for evaluation against actuals
	forecasts *lru.Cache[SeriesKey, *cachedForecast]
}

// New creates an engine reading history from src. Every pool starts in the training state.
func New(opt *Options, src history.Source, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[SeriesKey, *cachedForecast](opt.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("unable to create forecast cache, %w", err)
	}

	e := &Engine{
		opt:       opt,
		src:       src,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		series:    make(map[SeriesKey]*series),
		forecasts: cache,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "demandcast")
	return e, nil
}

func (e *Engine) Options() *Options {
	return e.opt
}

// calibration is what a training run learns about a series besides the member parameters
type calibration struct {
	period    int
	factors   []string
	residuals []float64
	accuracy  *evaluate.AccuracyMetrics
}

type series struct {
	key      SeriesKey
	combiner *ensemble.Combiner

	// train serializes training, loading and adaptation of the series
	train sync.Mutex

	mu  sync.RWMutex
	cal calibration
}

func (s *series) calibration() calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := s.cal
	res.factors = slices.Clone(s.cal.factors)
	if s.cal.accuracy != nil {
		acc := *s.cal.accuracy
		res.accuracy = &acc
	}
	return res
}

func (s *series) update(fn func(*calibration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cal)
}

// lookup returns the state of key, creating an untrained pool on first use
func (e *Engine) lookup(key SeriesKey) (*series, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, exists := e.series[key]; exists {
		return s, nil
	}

	pool, err := ensemble.NewDefaultPool(e.opt.Models, e.opt.Members...)
	if err != nil {
		return nil, fmt.Errorf("unable to create model pool, %w", err)
	}
	combiner, err := ensemble.NewCombiner(pool, e.opt.Ensemble)
	if err != nil {
		return nil, fmt.Errorf("unable to create combiner, %w", err)
	}
	s := &series{key: key, combiner: combiner}
	e.series[key] = s
	return s, nil
}

func (e *Engine) startSpan(ctx context.Context, name string, key SeriesKey) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "demandcast."+name,
		trace.WithAttributes(attribute.String("series", key.String())),
	)
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, err error) {
	e.metrics.Since(op, start)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.metrics.Failure(op)
}

func (e *Engine) fetch(ctx context.Context, key SeriesKey) ([]timedataset.HistoricalPoint, error) {
	ctx, span := e.tracer.Start(ctx, "demandcast.fetch")
	defer span.End()

	points, err := e.src.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch history of %s, %w", key, err)
	}
	return points, nil
}

func (e *Engine) preprocess(key SeriesKey, points []timedataset.HistoricalPoint) (*preprocess.Result, error) {
	prep, err := preprocess.Process(points, e.opt.preprocessOptions(key.Granularity))
	if err != nil {
		return nil, fmt.Errorf("unable to preprocess %s, %w", key, err)
	}
	return prep, nil
}

// input engineers the features of the normalized residual and the timestamps of the horizon
func (e *Engine) input(key SeriesKey, prep *preprocess.Result, factors []string, ext feature.External, horizon int) (*models.Input, error) {
	eng, err := feature.NewEngineer(e.opt.featureOptions(key.Granularity, factors))
	if err != nil {
		return nil, fmt.Errorf("unable to create feature engineer, %w", err)
	}
	m, err := eng.Generate(prep.T, prep.Normalized, ext)
	if err != nil {
		return nil, fmt.Errorf("unable to engineer features of %s, %w", key, err)
	}
	in := &models.Input{
		Granularity: key.Granularity,
		Period:      prep.Period,
		T:           prep.T,
		Y:           prep.Normalized,
		Matrix:      m,
		Engineer:    eng,
		External:    ext,
	}
	if horizon > 0 {
		in.Future = prep.Future(horizon)
	}
	return in, nil
}

// Train fetches the history of the series and fully trains every member of its pool. The run
// succeeds when at least one member trained; the others are reported as failed.
func (e *Engine) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	ctx, span := e.startSpan(ctx, "Train", req.Key)
	defer span.End()

	start := time.Now()
	res, err := e.train(ctx, req)
	e.finish(span, opTrain, start, err)
	return res, err
}

func (e *Engine) train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	key := req.Key
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w, %w", ErrInvalidRequest, err)
	}
	s, err := e.lookup(key)
	if err != nil {
		return nil, err
	}
	s.train.Lock()
	defer s.train.Unlock()

	points, err := e.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	prep, err := e.preprocess(key, points)
	if err != nil {
		return nil, err
	}
	ext := feature.External(req.ExternalFactors)
	factors := ext.Names()
	in, err := e.input(key, prep, factors, ext, 0)
	if err != nil {
		return nil, err
	}

	trained, err := s.combiner.Train(ctx, in)
	if len(trained) == 0 {
		return nil, fmt.Errorf("unable to train any model of %s, %w", key, err)
	}
	res := &TrainResult{
		Key:                key,
		Trained:            trained,
		TrainingDataPoints: len(prep.T),
		Period:             prep.Period,
		Outliers:           len(prep.OutlierIdx),
		TrainedAt:          time.Now(),
	}
	if err != nil {
		res.Failed = missing(s.combiner.Pool().Names(), trained)
		e.logger.Warn("models failed to train", "series", key.String(), "failed", res.Failed, "error", err)
	}

	e.scoreMembers(s, prep)
	residuals := e.residuals(s, prep)
	s.update(func(c *calibration) {
		c.period = prep.Period
		c.factors = factors
		c.residuals = residuals
	})
	res.Persisted = e.persist(ctx, s)

	e.metrics.Weights(key.String(), s.combiner.Pool().Weights())
	e.logger.Info("trained models", "series", key.String(), "models", trained, "points", len(prep.T), "period", prep.Period)
	return res, nil
}

// LoadModels restores the persisted pool of a series. Members missing from the snapshot stay
// in the training state. It returns the restored members.
func (e *Engine) LoadModels(ctx context.Context, key SeriesKey) ([]string, error) {
	ctx, span := e.startSpan(ctx, "LoadModels", key)
	defer span.End()

	start := time.Now()
	res, err := e.load(ctx, key)
	e.finish(span, opLoad, start, err)
	return res, err
}

func (e *Engine) load(ctx context.Context, key SeriesKey) ([]string, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w, %w", ErrInvalidRequest, err)
	}
	if e.store == nil {
		return nil, ErrNoModelStore
	}
	snap, err := e.store.Load(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("unable to load models of %s, %w", key, err)
	}

	s, err := e.lookup(key)
	if err != nil {
		return nil, err
	}
	s.train.Lock()
	defer s.train.Unlock()

	pool := s.combiner.Pool()
	var loaded []string
	for _, m := range snap.Members {
		h, err := pool.Get(m.Model.Name)
		if err != nil {
			e.logger.Warn("skipping persisted model", "series", key.String(), "model", m.Model.Name, "error", err)
			continue
		}
		if err := h.Load(m.Model, m.Weight); err != nil {
			e.logger.Warn("unable to restore model", "series", key.String(), "model", m.Model.Name, "error", err)
			continue
		}
		loaded = append(loaded, h.Name())
	}
	if len(loaded) == 0 {
		return nil, fmt.Errorf("no model of %s could be restored, %w", key, ErrModelNotReady)
	}

	// renormalize over the restored members
	s.combiner.UpdateWeights(nil)
	s.update(func(c *calibration) {
		c.period = snap.Period
		c.factors = slices.Clone(snap.Factors)
		c.residuals = slices.Clone(snap.Residuals)
	})
	e.logger.Info("restored models", "series", key.String(), "models", loaded, "saved_at", snap.SavedAt)
	return loaded, nil
}

// ModelStatus reports the members of the pool of a series
func (e *Engine) ModelStatus(key SeriesKey) ([]ModelStatus, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w, %w", ErrInvalidRequest, err)
	}
	s, err := e.lookup(key)
	if err != nil {
		return nil, err
	}
	states := s.combiner.Pool().States()
	res := make([]ModelStatus, len(states))
	for i, st := range states {
		status := StatusTraining
		if st.Ready {
			status = StatusReady
		}
		res[i] = ModelStatus{
			Name:           st.Name,
			Status:         status,
			LastTrained:    st.TrainedAt,
			NextRetraining: st.NextRetraining,
			Accuracy:       st.Accuracy,
			Weight:         st.Weight,
		}
	}
	return res, nil
}

// scoreMembers sets the in-sample accuracy of every member in demand units
func (e *Engine) scoreMembers(s *series, prep *preprocess.Result) {
	now := time.Now()
	for _, h := range s.combiner.Pool().Handles() {
		fitted := h.Fitted()
		if len(fitted) != len(prep.T) {
			continue
		}
		acc, err := evaluate.NewAccuracyMetrics(inSample(prep, fitted), prep.Cleaned, now)
		if err != nil {
			e.logger.Debug("unable to score model", "series", s.key.String(), "model", h.Name(), "error", err)
			continue
		}
		h.SetAccuracy(acc)
	}
}

// residuals are the in-sample errors of the blended fit in demand units
func (e *Engine) residuals(s *series, prep *preprocess.Result) []float64 {
	fitted := s.combiner.Fitted(len(prep.Normalized))
	scale := math.Abs(prep.Scaler.Scale)
	res := make([]float64, 0, len(fitted))
	for i, f := range fitted {
		if math.IsNaN(f) {
			continue
		}
		res = append(res, (prep.Normalized[i]-f)*scale)
	}
	return res
}

// inSample maps normalized fitted values back onto the demand scale of the history
func inSample(prep *preprocess.Result, fitted []float64) []float64 {
	res := make([]float64, len(fitted))
	for i, f := range fitted {
		if math.IsNaN(f) {
			res[i] = math.NaN()
			continue
		}
		res[i] = math.Max(0, prep.Trend[i]+prep.Seasonality[i]+prep.Scaler.InverseValue(f))
	}
	return res
}

// persist saves the ready members of the series. Failures are logged since the pool keeps
// serving from memory.
func (e *Engine) persist(ctx context.Context, s *series) bool {
	if e.store == nil {
		return false
	}
	cal := s.calibration()
	snap := store.Snapshot{
		Key:       s.key.String(),
		SavedAt:   time.Now(),
		Period:    cal.period,
		Factors:   cal.factors,
		Residuals: cal.residuals,
	}
	for _, h := range s.combiner.Pool().Handles() {
		m, w, err := h.Model()
		if err != nil {
			if !errors.Is(err, ErrModelNotReady) {
				e.logger.Warn("unable to snapshot model", "series", s.key.String(), "model", h.Name(), "error", err)
			}
			continue
		}
		snap.Members = append(snap.Members, store.Member{Model: m, Weight: w})
	}
	if len(snap.Members) == 0 {
		return false
	}
	if err := e.store.Save(ctx, snap); err != nil {
		e.logger.Warn("unable to persist models", "series", s.key.String(), "error", err)
		return false
	}
	return true
}

// missing returns the names not in subset, in the order of all
func missing(all, subset []string) []string {
	var res []string
	for _, name := range all {
		if !slices.Contains(subset, name) {
			res = append(res, name)
		}
	}
	return res
}
