package linearmodel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrNoOptions          = errors.New("no initialized model options")
	ErrNoTrainingMatrix   = errors.New("no training matrix")
	ErrNoTargetMatrix     = errors.New("no target matrix")
	ErrNoDesignMatrix     = errors.New("no design matrix for inference")
	ErrTargetLenMismatch  = errors.New("target length does not match target rows")
	ErrFeatureLenMismatch = errors.New("number of features does not match number of model coefficients")
	ErrUnderdetermined    = errors.New("fewer observations than features")
	ErrNegativeRidge      = errors.New("ridge penalty must be non-negative")
)

// singularTol is the magnitude below which a diagonal entry of R is treated as a linearly
// dependent column. The matching coefficient is pinned to zero.
const singularTol = 1e-10

// OLSOptions represents input options to run the OLS Regression
type OLSOptions struct {
	// FitIntercept adds a constant 1.0 feature as the first column if set to true
	FitIntercept bool

	// Ridge adds an L2 penalty on every coefficient except the intercept
	Ridge float64
}

// Validate runs basic validation on OLS options
func (o *OLSOptions) Validate() (*OLSOptions, error) {
	if o == nil {
		o = NewDefaultOLSOptions()
	}
	if o.Ridge < 0 {
		return nil, ErrNegativeRidge
	}

	return o, nil
}

// NewDefaultOLSOptions returns a default set of OLS Regression options
func NewDefaultOLSOptions() *OLSOptions {
	return &OLSOptions{
		FitIntercept: true,
	}
}

// OLSRegression computes ordinary least squares using QR factorization
type OLSRegression struct {
	opt       *OLSOptions
	coef      []float64
	intercept float64
}

// NewOLSRegression initializes an ordinary least squares model ready for fitting
func NewOLSRegression(opt *OLSOptions) (*OLSRegression, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &OLSRegression{
		opt: opt,
	}, nil
}

// NewOLSFromCoef restores a fitted model from its intercept and coefficients
func NewOLSFromCoef(opt *OLSOptions, intercept float64, coef []float64) (*OLSRegression, error) {
	o, err := NewOLSRegression(opt)
	if err != nil {
		return nil, err
	}
	o.intercept = intercept
	o.coef = make([]float64, len(coef))
	copy(o.coef, coef)
	return o, nil
}

func withOnes(x mat.Matrix) mat.Matrix {
	m, _ := x.Dims()
	ones := make([]float64, m)
	floats.AddConst(1.0, ones)
	onesMx := mat.NewDense(1, m, ones)
	xT := x.T()

	var xWithOnes mat.Dense
	xWithOnes.Stack(onesMx, xT)
	return xWithOnes.T()
}

// Fit the model according to the given training data
func (o *OLSRegression) Fit(x, y mat.Matrix) error {
	if o.opt == nil {
		return ErrNoOptions
	}
	if x == nil {
		return ErrNoTrainingMatrix
	}
	if y == nil {
		return ErrNoTargetMatrix
	}
	m, n := x.Dims()

	ym, _ := y.Dims()
	if ym != m {
		return fmt.Errorf("training data has %d rows and target has %d row, %w", m, ym, ErrTargetLenMismatch)
	}

	if o.opt.FitIntercept {
		x = withOnes(x)
		_, n = x.Dims()
	}

	if o.opt.Ridge > 0 {
		// augment with sqrt(lambda)*I rows so the least squares solution is the ridge solution
		penalty := mat.NewDense(n, n, nil)
		start := 0
		if o.opt.FitIntercept {
			start = 1
		}
		for i := start; i < n; i++ {
			penalty.Set(i, i, math.Sqrt(o.opt.Ridge))
		}
		var xAug mat.Dense
		xAug.Stack(x, penalty)
		x = &xAug

		var yAug mat.Dense
		yAug.Stack(y, mat.NewDense(n, 1, nil))
		y = &yAug
		m += n
	}

	if m < n {
		return fmt.Errorf("got %d observations for %d features, %w", m, n, ErrUnderdetermined)
	}

	yT := y.T()

	qr := new(mat.QR)
	qr.Factorize(x)

	q := new(mat.Dense)
	r := new(mat.Dense)

	qr.QTo(q)
	qr.RTo(r)
	yq := new(mat.Dense)
	yq.Mul(yT, q)

	c := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		if math.Abs(r.At(i, i)) < singularTol {
			c[i] = 0
			continue
		}
		c[i] = yq.At(0, i)
		for j := i + 1; j < n; j++ {
			c[i] -= c[j] * r.At(i, j)
		}
		c[i] /= r.At(i, i)
	}

	if o.opt.FitIntercept {
		o.intercept = c[0]
		o.coef = c[1:]
	} else {
		o.coef = c
	}

	return nil
}

// Predict using the OLS model
func (o *OLSRegression) Predict(x mat.Matrix) ([]float64, error) {
	if o.opt == nil {
		return nil, ErrNoOptions
	}
	if x == nil {
		return nil, ErrNoDesignMatrix
	}

	coef := o.coef
	if o.opt.FitIntercept {
		coef = append([]float64{o.intercept}, o.coef...)
		x = withOnes(x)
	}
	n := len(coef)

	xT := x.T()
	xn, _ := xT.Dims()
	if xn != n {
		return nil, fmt.Errorf("got %d features in design matrix, but expected %d, %w", xn, n, ErrFeatureLenMismatch)
	}
	coefMx := mat.NewDense(1, n, coef)

	var res mat.Dense
	res.Mul(coefMx, xT)
	return res.RawRowView(0), nil
}

// PredictRow evaluates the model on a single observation
func (o *OLSRegression) PredictRow(row []float64) (float64, error) {
	if len(row) != len(o.coef) {
		return 0, fmt.Errorf("got %d features in row, but expected %d, %w", len(row), len(o.coef), ErrFeatureLenMismatch)
	}
	return o.intercept + floats.Dot(o.coef, row), nil
}

// Score computes the coefficient of determination of the prediction
func (o *OLSRegression) Score(x, y mat.Matrix) (float64, error) {
	if o.opt == nil {
		return 0.0, ErrNoOptions
	}
	if x == nil {
		return 0.0, ErrNoDesignMatrix
	}
	if y == nil {
		return 0.0, ErrNoTargetMatrix
	}

	m, _ := x.Dims()

	ym, _ := y.Dims()
	if m != ym {
		return 0.0, fmt.Errorf("design matrix has %d rows and target has %d rows, %w", m, ym, ErrTargetLenMismatch)
	}

	res, err := o.Predict(x)
	if err != nil {
		return 0.0, err
	}

	ySlice := mat.Col(nil, 0, y)

	return stat.RSquaredFrom(res, ySlice, nil), nil
}

// Intercept returns the computed intercept if FitIntercept is set to true. Defaults to 0.0 if not set.
func (o *OLSRegression) Intercept() float64 {
	return o.intercept
}

// Coef returns a slice of the trained coefficients in the same order of the training feature Matrix by column.
func (o *OLSRegression) Coef() []float64 {
	c := make([]float64, len(o.coef))
	copy(c, o.coef)
	return c
}

// NewDenseFromRows copies row major observations into a dense matrix. Every row must have the
// same, non zero, number of features.
func NewDenseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrNoTrainingMatrix
	}
	n := len(rows[0])

	// flatten to row order
	data := make([]float64, 0, len(rows)*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d features, expected %d, %w", i, len(row), n, ErrFeatureLenMismatch)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), n, data), nil
}

// FitRows is a convenience wrapper fitting a row major slice of observations
func FitRows(rows [][]float64, y []float64, opt *OLSOptions) (*OLSRegression, error) {
	if len(rows) == 0 {
		return nil, ErrNoTrainingMatrix
	}
	if len(rows) != len(y) {
		return nil, fmt.Errorf("training data has %d rows and target has %d row, %w", len(rows), len(y), ErrTargetLenMismatch)
	}
	x, err := NewDenseFromRows(rows)
	if err != nil {
		return nil, err
	}
	ys := make([]float64, len(y))
	copy(ys, y)

	model, err := NewOLSRegression(opt)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(x, mat.NewDense(len(ys), 1, ys)); err != nil {
		return nil, err
	}
	return model, nil
}
