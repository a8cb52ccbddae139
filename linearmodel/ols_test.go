package linearmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestOLSOptionsValidate(t *testing.T) {
	testData := map[string]struct {
		opt      *OLSOptions
		err      error
		expected *OLSOptions
	}{
		"nil": {nil, nil, NewDefaultOLSOptions()},
		"valid": {
			&OLSOptions{FitIntercept: true, Ridge: 0.1}, nil,
			&OLSOptions{FitIntercept: true, Ridge: 0.1},
		},
		"negative ridge": {&OLSOptions{Ridge: -1}, ErrNegativeRidge, nil},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			opt, err := td.opt.Validate()
			if td.err != nil {
				require.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, td.expected, opt)
		})
	}
}

func TestOLSRegression(t *testing.T) {
	tol := 1e-5
	testData := map[string]struct {
		x         [][]float64
		y         []float64
		opt       *OLSOptions
		intercept float64
		coef      []float64
	}{
		"ols model intercept": {
			x: [][]float64{
				{0, 0},
				{3, 5},
				{9, 20},
				{12, 6},
				{15, 10},
			},
			y:         []float64{2, 31, 109, 62, 87},
			opt:       NewDefaultOLSOptions(),
			intercept: 2.0,
			coef:      []float64{3.0, 4.0},
		},
		"ols model no intercept": {
			x: [][]float64{
				{1, 0},
				{1, 5},
				{1, 20},
				{1, 6},
				{1, 10},
			},
			y:    []float64{2, 22, 82, 26, 42},
			opt:  &OLSOptions{},
			coef: []float64{2.0, 4.0},
		},
		"collinear column pinned to zero": {
			x: [][]float64{
				{1, 2},
				{2, 4},
				{3, 6},
				{4, 8},
			},
			y:         []float64{3, 5, 7, 9},
			opt:       NewDefaultOLSOptions(),
			intercept: 1.0,
			coef:      []float64{2.0, 0.0},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			model, err := FitRows(td.x, td.y, td.opt)
			require.Nil(t, err)

			assert.InDelta(t, td.intercept, model.Intercept(), tol, "intercept")
			assert.InDeltaSlice(t, td.coef, model.Coef(), tol, "coefficients")

			x := mat.NewDense(len(td.x), len(td.x[0]), nil)
			for i, row := range td.x {
				x.SetRow(i, row)
			}
			r2, err := model.Score(x, mat.NewDense(len(td.y), 1, td.y))
			require.Nil(t, err)
			assert.InDelta(t, 1.0, r2, tol, "score")
		})
	}
}

func TestOLSZeroTarget(t *testing.T) {
	x := [][]float64{{0, 0}, {0, 0}, {0, 0}, {0, 0}}
	y := []float64{0, 0, 0, 0}
	model, err := FitRows(x, y, NewDefaultOLSOptions())
	require.Nil(t, err)
	assert.Equal(t, 0.0, model.Intercept())
	assert.Equal(t, []float64{0, 0}, model.Coef())

	res, err := model.PredictRow([]float64{1, 2})
	require.Nil(t, err)
	assert.Equal(t, 0.0, res)
}

func TestOLSRidgeShrinks(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}, {5}}
	y := []float64{2, 4, 6, 8, 10}

	ols, err := FitRows(x, y, &OLSOptions{FitIntercept: true})
	require.Nil(t, err)
	ridge, err := FitRows(x, y, &OLSOptions{FitIntercept: true, Ridge: 10})
	require.Nil(t, err)

	assert.InDelta(t, 2.0, ols.Coef()[0], 1e-9)
	assert.Less(t, ridge.Coef()[0], ols.Coef()[0])
}

func TestOLSErrors(t *testing.T) {
	_, err := FitRows(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoTrainingMatrix)

	_, err = FitRows([][]float64{{1}}, []float64{1, 2}, nil)
	assert.ErrorIs(t, err, ErrTargetLenMismatch)

	_, err = FitRows([][]float64{{1, 2, 3}}, []float64{1}, nil)
	assert.ErrorIs(t, err, ErrUnderdetermined)

	model, err := NewOLSFromCoef(nil, 1, []float64{2})
	require.Nil(t, err)
	_, err = model.PredictRow([]float64{1, 2})
	assert.ErrorIs(t, err, ErrFeatureLenMismatch)
	res, err := model.PredictRow([]float64{3})
	require.Nil(t, err)
	assert.Equal(t, 7.0, res)
}

func TestNewDenseFromRows(t *testing.T) {
	testData := map[string]struct {
		err error
		x   [][]float64
		m   int
		n   int
	}{
		"nil input": {
			ErrNoTrainingMatrix,
			nil,
			0, 0,
		},
		"empty row": {
			ErrNoTrainingMatrix,
			[][]float64{{}},
			0, 0,
		},
		"single element": {
			nil,
			[][]float64{{1}},
			1, 1,
		},
		"one row multiple cols": {
			nil,
			[][]float64{{1, 2, 3}},
			1, 3,
		},
		"multiple rows one col": {
			nil,
			[][]float64{{1}, {2}, {3}},
			3, 1,
		},
		"multiple rows and cols": {
			nil,
			[][]float64{{1, 2, 3}, {4, 5, 6}},
			2, 3,
		},
		"inconsistent cols": {
			ErrFeatureLenMismatch,
			[][]float64{{1, 2, 3}, {4, 5}},
			0, 0,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			mx, err := NewDenseFromRows(td.x)
			if td.err != nil {
				require.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)

			m, n := mx.Dims()
			assert.Equal(t, td.m, m, "m")
			assert.Equal(t, td.n, n, "n")

			for ri, row := range td.x {
				assert.Equal(t, row, mat.Row(nil, ri, mx), "row")
			}
		})
	}
}
