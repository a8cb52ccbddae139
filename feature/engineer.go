package feature

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/fuelcast/go-demandcast/event"
	"github.com/fuelcast/go-demandcast/timedataset"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrFeatureAlignment = errors.New("feature alignment error")
	ErrInvalidOptions   = errors.New("invalid feature options")
	ErrEmptyHistory     = errors.New("no history to derive features from")
)

// Options selects the engineered features
type Options struct {
	Granularity     timedataset.Granularity `json:"granularity" mapstructure:"granularity"`
	Lags            []int                   `json:"lags" mapstructure:"lags"`
	RollingWindows  []int                   `json:"rolling_windows" mapstructure:"rolling_windows"`
	TimeFeatures    bool                    `json:"time_features" mapstructure:"time_features"`
	Holidays        bool                    `json:"holidays" mapstructure:"holidays"`
	ExternalFactors []string                `json:"external_factors" mapstructure:"external_factors"`
}

// NewDefaultOptions derives lags and windows from the seasonal period of the granularity
func NewDefaultOptions(g timedataset.Granularity) *Options {
	if g == "" {
		g = timedataset.Daily
	}
	p := g.DefaultPeriod()
	return &Options{
		Granularity:    g,
		Lags:           []int{1, 2, 3, p, 2 * p},
		RollingWindows: []int{p, 4 * p},
		TimeFeatures:   true,
		Holidays:       true,
	}
}

// Validate de-duplicates and sorts lags, windows and factor names
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(timedataset.Daily), nil
	}
	res := *o
	if res.Granularity == "" {
		res.Granularity = timedataset.Daily
	}
	if err := res.Granularity.Validate(); err != nil {
		return nil, err
	}
	for _, l := range res.Lags {
		if l <= 0 {
			return nil, fmt.Errorf("lag %d, %w", l, ErrInvalidOptions)
		}
	}
	for _, w := range res.RollingWindows {
		if w <= 0 {
			return nil, fmt.Errorf("rolling window %d, %w", w, ErrInvalidOptions)
		}
	}
	res.Lags = uniqueInts(res.Lags)
	res.RollingWindows = uniqueInts(res.RollingWindows)

	names := make([]string, 0, len(res.ExternalFactors))
	seen := make(map[string]bool)
	for _, name := range res.ExternalFactors {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	res.ExternalFactors = names
	return &res, nil
}

// MaxLookback is the number of past steps any feature reads
func (o *Options) MaxLookback() int {
	var res int
	for _, l := range o.Lags {
		res = max(res, l)
	}
	for _, w := range o.RollingWindows {
		res = max(res, w)
	}
	return res
}

func uniqueInts(v []int) []int {
	seen := make(map[int]bool)
	res := make([]int, 0, len(v))
	for _, x := range v {
		if !seen[x] {
			seen[x] = true
			res = append(res, x)
		}
	}
	sort.Ints(res)
	return res
}

// External maps an external factor name to its observations
type External map[string][]timedataset.HistoricalPoint

// Names returns the factor names in sorted order
func (e External) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copy deep copies the factor series
func (e External) Copy() External {
	if e == nil {
		return nil
	}
	res := make(External, len(e))
	for name, points := range e {
		cp := make([]timedataset.HistoricalPoint, len(points))
		copy(cp, points)
		res[name] = cp
	}
	return res
}

// Lookup returns the value of factor name at t
func (e External) Lookup(name string, t time.Time) (float64, error) {
	points, exists := e[name]
	if !exists {
		return 0, fmt.Errorf("factor %q missing, %w", name, ErrFeatureAlignment)
	}
	idx := sort.Search(len(points), func(i int) bool {
		return !points[i].Timestamp.Before(t)
	})
	if idx < len(points) && points[idx].Timestamp.Equal(t) && !math.IsNaN(points[idx].Value) {
		return points[idx].Value, nil
	}
	// fall back to a scan for unsorted input
	for _, p := range points {
		if p.Timestamp.Equal(t) && !math.IsNaN(p.Value) {
			return p.Value, nil
		}
	}
	return 0, fmt.Errorf("factor %q has no value at %s, %w", name, t.Format(time.RFC3339), ErrFeatureAlignment)
}

// Matrix is a feature matrix with one row per timestamp and labelled columns
type Matrix struct {
	T      []time.Time
	Y      []float64
	Labels *Labels
	X      *mat.Dense
}

func (m *Matrix) Rows() int {
	if m == nil || m.X == nil {
		return 0
	}
	r, _ := m.X.Dims()
	return r
}

// Row returns a copy of row i
func (m *Matrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.X)
}

// RowSlices returns the matrix as a slice of rows
func (m *Matrix) RowSlices() [][]float64 {
	rows := make([][]float64, m.Rows())
	for i := range rows {
		rows[i] = m.Row(i)
	}
	return rows
}

// Engineer derives feature rows from a target series, its timestamps and external factors
type Engineer struct {
	opt    *Options
	cal    *event.Calendar
	labels *Labels
}

func NewEngineer(opt *Options) (*Engineer, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	e := &Engineer{
		opt: opt,
		cal: event.NewCalendar(),
	}
	e.labels = e.template().Labels()
	return e, nil
}

func (e *Engineer) Options() *Options {
	return e.opt
}

// Labels returns the feature columns in the order produced by Generate and Row
func (e *Engineer) Labels() *Labels {
	return e.labels
}

// template builds an empty single row set so that label order is fixed by the options alone
func (e *Engineer) template() *Set {
	s := NewSet()
	t := []time.Time{time.Unix(0, 0).UTC()}
	e.addCalendar(s, t)
	for _, l := range e.opt.Lags {
		s.Set(NewLag(l), []float64{0})
	}
	for _, w := range e.opt.RollingWindows {
		s.Set(NewRolling(w, RollingMean), []float64{0})
		s.Set(NewRolling(w, RollingStd), []float64{0})
	}
	for _, name := range e.opt.ExternalFactors {
		s.Set(NewFactor(name), []float64{0})
	}
	return s
}

// Generate builds the feature matrix for y observed at t. Lags reaching before the start use
// the earliest observation and rolling statistics only read values before each row, so no
// row depends on its own target. The first row has nothing before it and its lag and rolling
// columns are zero.
func (e *Engineer) Generate(t []time.Time, y []float64, ext External) (*Matrix, error) {
	if len(t) != len(y) {
		return nil, fmt.Errorf("%d timestamps for %d values, %w", len(t), len(y), ErrFeatureAlignment)
	}
	if len(y) == 0 {
		return nil, ErrEmptyHistory
	}
	for i, v := range y {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("missing target at %s, %w", t[i].Format(time.RFC3339), ErrFeatureAlignment)
		}
	}

	s := NewSet()
	e.addCalendar(s, t)

	n := len(y)
	for _, k := range e.opt.Lags {
		col := make([]float64, n)
		for i := 1; i < n; i++ {
			col[i] = y[max(i-k, 0)]
		}
		s.Set(NewLag(k), col)
	}

	for _, w := range e.opt.RollingWindows {
		s.Set(NewRolling(w, RollingMean), rollingMeans(y, w))
		std := make([]float64, n)
		for i := range std {
			std[i] = windowStd(y[max(i-w, 0):i])
		}
		s.Set(NewRolling(w, RollingStd), std)
	}

	for _, name := range e.opt.ExternalFactors {
		col := make([]float64, n)
		for i, tPnt := range t {
			v, err := ext.Lookup(name, tPnt)
			if err != nil {
				return nil, err
			}
			col[i] = v
		}
		s.Set(NewFactor(name), col)
	}

	target := make([]float64, n)
	copy(target, y)
	tCopy := make([]time.Time, n)
	copy(tCopy, t)
	return &Matrix{
		T:      tCopy,
		Y:      target,
		Labels: s.Labels(),
		X:      s.Matrix(false),
	}, nil
}

// Row derives the feature row for timestamp t given every value observed before it
func (e *Engineer) Row(history []float64, t time.Time, ext External) ([]float64, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}
	n := len(history)
	row := make([]float64, e.labels.Len())

	calSet := NewSet()
	e.addCalendar(calSet, []time.Time{t})

	for i, label := range e.labels.Labels() {
		switch f := label.(type) {
		case *Lag:
			row[i] = history[max(n-f.K, 0)]
		case *Rolling:
			window := history[max(n-f.Window, 0):]
			if f.Stat == RollingMean {
				row[i] = stat.Mean(window, nil)
			} else {
				row[i] = windowStd(window)
			}
		case *Factor:
			v, err := ext.Lookup(f.Name, t)
			if err != nil {
				return nil, err
			}
			row[i] = v
		default:
			col, exists := calSet.Get(label)
			if !exists {
				return nil, fmt.Errorf("unknown feature %s, %w", label, ErrFeatureAlignment)
			}
			row[i] = col[0]
		}
	}
	return row, nil
}

// addCalendar sets the time of day, day of week, month and holiday columns that apply to the
// granularity.
func (e *Engineer) addCalendar(s *Set, t []time.Time) {
	g := e.opt.Granularity
	if e.opt.TimeFeatures {
		if g == timedataset.Hourly {
			hod := make([]float64, len(t))
			for i, tPnt := range t {
				hod[i] = float64(tPnt.Hour())
			}
			sinFeat, cosFeat := fourierComponent(hod, 1, 24)
			s.Set(NewCalendar("hour_sin"), sinFeat)
			s.Set(NewCalendar("hour_cos"), cosFeat)
		}
		if g == timedataset.Hourly || g == timedataset.Daily {
			for d := time.Sunday; d <= time.Saturday; d++ {
				col := make([]float64, len(t))
				for i, tPnt := range t {
					if tPnt.Weekday() == d {
						col[i] = 1
					}
				}
				s.Set(NewCalendar(fmt.Sprintf("dow_%d", int(d))), col)
			}
		}
		month := make([]float64, len(t))
		for i, tPnt := range t {
			month[i] = float64(tPnt.Month() - 1)
		}
		sinFeat, cosFeat := fourierComponent(month, 1, 12)
		s.Set(NewCalendar("month_sin"), sinFeat)
		s.Set(NewCalendar("month_cos"), cosFeat)
	}
	if e.opt.Holidays && (g == timedataset.Hourly || g == timedataset.Daily) {
		col := make([]float64, len(t))
		for i, tPnt := range t {
			if e.cal.IsHoliday(tPnt) {
				col[i] = 1
			}
		}
		s.Set(NewHoliday("us"), col)
	}
}

// rollingMeans returns the mean of y over the w values before each index. The first w rows
// use the values available so far and row zero, with nothing before it, is zero.
func rollingMeans(y []float64, w int) []float64 {
	n := len(y)
	res := make([]float64, n)
	for i := 1; i < n && i <= w; i++ {
		res[i] = stat.Mean(y[:i], nil)
	}
	if n <= w {
		return res
	}

	sma := helper.ChanToSlice(trend.NewSmaWithPeriod[float64](w).Compute(helper.SliceToChan(y)))
	if len(sma) != n-w+1 {
		for i := w + 1; i < n; i++ {
			res[i] = stat.Mean(y[i-w:i], nil)
		}
		return res
	}
	// sma[j] is the mean of y[j:j+w], which is the window preceding index j+w
	for i := w + 1; i < n; i++ {
		res[i] = sma[i-w]
	}
	return res
}

func windowStd(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	return stat.StdDev(window, nil)
}
