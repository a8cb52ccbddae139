package models

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var weekly = []float64{-1.5, -0.5, 0, 0.5, 1, 1.5, -1}

func weeklySeries(n int) []float64 {
	y := make([]float64, n)
	for i := range y {
		y[i] = weekly[i%7]
	}
	return y
}

// newInput builds a daily training input with future timestamps covering horizon
func newInput(t *testing.T, y []float64, ext feature.External, fopt *feature.Options, horizon int) *Input {
	t.Helper()
	tt := timedataset.GenerateGrid(start, len(y), timedataset.Daily)
	if fopt == nil {
		fopt = feature.NewDefaultOptions(timedataset.Daily)
	}
	fopt.ExternalFactors = ext.Names()
	eng, err := feature.NewEngineer(fopt)
	require.Nil(t, err)
	m, err := eng.Generate(tt, y, ext)
	require.Nil(t, err)
	return &Input{
		Granularity: timedataset.Daily,
		Period:      7,
		T:           tt,
		Y:           y,
		Matrix:      m,
		Engineer:    eng,
		External:    ext,
		Future:      timedataset.Daily.Future(tt[len(tt)-1], horizon),
	}
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		p, err := New(name, nil)
		require.Nil(t, err)
		assert.Equal(t, name, p.Name())
		assert.False(t, p.IsReady())
		assert.True(t, p.LastTrained().IsZero())
		assert.True(t, p.NextRetraining().IsZero())
	}
	_, err := New("prophet", nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestNotReady(t *testing.T) {
	in := newInput(t, weeklySeries(70), nil, nil, 7)
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, nil)
			require.Nil(t, err)

			_, err = p.Predict(context.Background(), in, 7)
			assert.ErrorIs(t, err, ErrModelNotReady)

			_, err = p.Model()
			assert.ErrorIs(t, err, ErrModelNotReady)
		})
	}
}

func TestTrainPredictAll(t *testing.T) {
	in := newInput(t, weeklySeries(140), nil, nil, 14)
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, nil)
			require.Nil(t, err)
			require.Nil(t, p.Train(context.Background(), in))
			assert.True(t, p.IsReady())
			assert.False(t, p.LastTrained().IsZero())
			assert.Equal(t, p.LastTrained().Add(24*time.Hour), p.NextRetraining())
			assert.Len(t, p.Fitted(), len(in.Y))

			res, err := p.Predict(context.Background(), in, 14)
			require.Nil(t, err)
			require.Len(t, res, 14)
			for _, v := range res {
				assert.False(t, math.IsNaN(v))
				assert.LessOrEqual(t, math.Abs(v), maxNormalized)
			}

			_, err = p.Predict(context.Background(), in, 0)
			assert.ErrorIs(t, err, ErrInvalidHorizon)

			_, err = p.Predict(context.Background(), in, 30)
			assert.ErrorIs(t, err, ErrMissingFuture)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = p.Predict(ctx, in, 14)
			assert.ErrorIs(t, err, context.Canceled)

			require.Nil(t, p.IncrementalTrain(context.Background(), in))
			assert.True(t, p.IsReady())
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	in := newInput(t, weeklySeries(140), nil, nil, 7)
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, nil)
			require.Nil(t, err)
			require.Nil(t, p.Train(context.Background(), in))
			expected, err := p.Predict(context.Background(), in, 7)
			require.Nil(t, err)

			m, err := p.Model()
			require.Nil(t, err)
			assert.Equal(t, name, m.Name)

			data, err := json.Marshal(m)
			require.Nil(t, err)
			var decoded Model
			require.Nil(t, json.Unmarshal(data, &decoded))

			restored, err := New(name, nil)
			require.Nil(t, err)
			require.Nil(t, restored.Load(decoded))
			assert.True(t, restored.IsReady())
			assert.True(t, p.LastTrained().Equal(restored.LastTrained()))

			res, err := restored.Predict(context.Background(), in, 7)
			require.Nil(t, err)
			assert.InDeltaSlice(t, expected, res, 1e-9)
		})
	}

	ar, err := NewAutoregressive(nil, 0)
	require.Nil(t, err)
	err = ar.Load(Model{Name: NameGBT, Params: []byte("{}")})
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.False(t, ar.IsReady())
}

func TestModelLoadRejectedKeepsState(t *testing.T) {
	in := newInput(t, weeklySeries(140), nil, nil, 7)
	invalid := map[string]string{
		NameSequence:       `{"window":0}`,
		NameDecomposition:  `{"labels":["trend"],"coef":[]}`,
		NameAutoregressive: `{"order":3,"coef":[1]}`,
		NameGBT:            `{"trees":[{"nodes":[]}]}`,
	}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, nil)
			require.Nil(t, err)
			require.Nil(t, p.Train(context.Background(), in))
			expected, err := p.Predict(context.Background(), in, 7)
			require.Nil(t, err)
			trainedAt := p.LastTrained()

			stale := Model{
				Name:      name,
				TrainedAt: trainedAt.Add(-time.Hour),
				Params:    []byte(invalid[name]),
			}
			err = p.Load(stale)
			require.ErrorIs(t, err, ErrInvalidParameters)

			assert.True(t, p.IsReady())
			assert.True(t, trainedAt.Equal(p.LastTrained()))
			res, err := p.Predict(context.Background(), in, 7)
			require.Nil(t, err)
			assert.InDeltaSlice(t, expected, res, 1e-9)
		})
	}
}

func TestAutoregressive(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	n := 2000
	y := make([]float64, n)
	for i := 1; i < n; i++ {
		y[i] = 0.7*y[i-1] + rng.NormFloat64()
	}
	in := newInput(t, y, nil, &feature.Options{Lags: []int{1}}, 3)

	ar, err := NewAutoregressive(&AutoregressiveOptions{Order: 1}, 0)
	require.Nil(t, err)
	require.Nil(t, ar.Train(context.Background(), in))
	assert.InDelta(t, 0.7, ar.params.Coef[0], 0.05)

	res, err := ar.Predict(context.Background(), in, 3)
	require.Nil(t, err)
	step1 := ar.params.Intercept + ar.params.Coef[0]*y[n-1]
	assert.InDelta(t, step1, res[0], 1e-9)
	assert.InDelta(t, ar.params.Intercept+ar.params.Coef[0]*step1, res[1], 1e-9)

	flat := newInput(t, timedataset.GenerateConstY(50, 0.25), nil, &feature.Options{Lags: []int{1}}, 5)
	require.Nil(t, ar.Train(context.Background(), flat))
	res, err = ar.Predict(context.Background(), flat, 5)
	require.Nil(t, err)
	for _, v := range res {
		assert.InDelta(t, 0.25, v, 1e-12)
	}
}

func TestDecompositionExternal(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	n := 140
	horizon := 7
	all := timedataset.GenerateGrid(start, n+horizon, timedataset.Daily)
	price := make([]float64, n+horizon)
	for i := range price {
		price[i] = 3 + rng.Float64()
	}
	y := weeklySeries(n)
	for i := range y {
		y[i] += 2 * price[i]
	}
	ext := feature.External{"price": timedataset.Series(price).Points(all)}
	in := newInput(t, y, ext, &feature.Options{Lags: []int{1}}, horizon)

	d, err := NewDecomposition(nil, 0)
	require.Nil(t, err)
	require.Nil(t, d.Train(context.Background(), in))
	assert.InDelta(t, 2.0, d.Coefficients()["ext_price"], 1e-3)

	res, err := d.Predict(context.Background(), in, horizon)
	require.Nil(t, err)
	for h := 0; h < horizon; h++ {
		assert.InDelta(t, weekly[(n+h)%7]+2*price[n+h], res[h], 1e-3)
	}

	shifted := ext.Copy()
	for i := n; i < n+horizon; i++ {
		shifted["price"][i].Value += 1
	}
	in.External = shifted
	moved, err := d.Predict(context.Background(), in, horizon)
	require.Nil(t, err)
	for h := 0; h < horizon; h++ {
		assert.InDelta(t, res[h]+2, moved[h], 1e-3)
	}

	in.External = feature.External{"price": ext["price"][:n]}
	_, err = d.Predict(context.Background(), in, horizon)
	assert.ErrorIs(t, err, feature.ErrFeatureAlignment)
}

func TestDecompositionLasso(t *testing.T) {
	in := newInput(t, weeklySeries(140), nil, nil, 7)
	d, err := NewDecomposition(&DecompositionOptions{WeeklyOrders: 3, Regularization: 1e-4}, 0)
	require.Nil(t, err)
	require.Nil(t, d.Train(context.Background(), in))
	res, err := d.Predict(context.Background(), in, 7)
	require.Nil(t, err)
	for h := range res {
		assert.InDelta(t, weekly[(140+h)%7], res[h], 0.05)
	}
	require.Nil(t, d.IncrementalTrain(context.Background(), in))
}

func TestSequenceDeterministic(t *testing.T) {
	in := newInput(t, weeklySeries(140), nil, nil, 7)

	var runs [][]float64
	for i := 0; i < 2; i++ {
		s, err := NewSequence(nil, 7, 0)
		require.Nil(t, err)
		require.Nil(t, s.Train(context.Background(), in))
		res, err := s.Predict(context.Background(), in, 7)
		require.Nil(t, err)
		runs = append(runs, res)
	}
	assert.Equal(t, runs[0], runs[1])

	s, err := NewSequence(nil, 7, 0)
	require.Nil(t, err)
	require.Nil(t, s.Train(context.Background(), in))
	before := s.params.clone()
	require.Nil(t, s.IncrementalTrain(context.Background(), in))
	assert.NotEqual(t, before.W1, s.params.W1)
	assert.Equal(t, uint64(1), s.params.Updates)
}

func TestSequenceLearnsPattern(t *testing.T) {
	y := weeklySeries(210)
	in := newInput(t, y, nil, nil, 7)
	s, err := NewSequence(&SequenceOptions{Hidden: 16, Epochs: 200, LearningRate: 0.01}, 1, 0)
	require.Nil(t, err)
	require.Nil(t, s.Train(context.Background(), in))

	var sse float64
	var cnt int
	for i, v := range s.Fitted() {
		if math.IsNaN(v) {
			continue
		}
		sse += (v - y[i]) * (v - y[i])
		cnt++
	}
	require.Equal(t, 210-14, cnt)
	assert.Less(t, math.Sqrt(sse/float64(cnt)), 0.5)
}

func TestGBTLearnsPattern(t *testing.T) {
	in := newInput(t, weeklySeries(210), nil, nil, 7)
	g, err := NewGBT(nil, 1, 0)
	require.Nil(t, err)
	require.Nil(t, g.Train(context.Background(), in))

	res, err := g.Predict(context.Background(), in, 7)
	require.Nil(t, err)
	for h := range res {
		assert.InDelta(t, weekly[(210+h)%7], res[h], 0.15)
	}

	trees := len(g.params.Trees)
	require.Nil(t, g.IncrementalTrain(context.Background(), in))
	assert.Equal(t, trees+g.opt.IncrementalRounds, len(g.params.Trees))

	in.Engineer = nil
	_, err = g.Predict(context.Background(), in, 7)
	assert.ErrorIs(t, err, ErrMissingEngineer)
}

func TestInvalidOptions(t *testing.T) {
	_, err := NewAutoregressive(&AutoregressiveOptions{Order: -1}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewDecomposition(&DecompositionOptions{WeeklyOrders: -1}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewSequence(&SequenceOptions{Hidden: 0, LearningRate: 0.1}, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewGBT(&GBTOptions{MaxDepth: 0}, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}
