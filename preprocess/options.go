package preprocess

import (
	"errors"

	"github.com/fuelcast/go-demandcast/timedataset"
)

const (
	DefaultMaxGap       = 3
	DefaultMADThreshold = 3.5
	DefaultMinCycles    = 2
	DefaultIterations   = 2
	DefaultTukeyFactor  = 1.5
)

// Outlier detection methods applied to the decomposition residual
const (
	OutlierMAD   = "mad"
	OutlierTukey = "tukey"
)

var ErrInvalidOptions = errors.New("invalid preprocess options")

// Options configures cleaning and decomposition of a raw demand series
type Options struct {
	Granularity timedataset.Granularity `json:"granularity" mapstructure:"granularity"`

	// Period is the seasonal cycle length in steps. Zero uses the granularity default or the
	// autocorrelation peak when AutoPeriod is set.
	Period     int  `json:"period" mapstructure:"period"`
	AutoPeriod bool `json:"auto_period" mapstructure:"auto_period"`

	// MaxGap is the longest run of missing steps that is interpolated. Longer runs split the
	// series and only the trailing segment is used.
	MaxGap int `json:"max_gap" mapstructure:"max_gap"`

	RemoveOutliers bool `json:"remove_outliers" mapstructure:"remove_outliers"`

	// OutlierMethod is mad, a modified z-score above MADThreshold, or tukey, outside the
	// interquartile range widened by TukeyFactor
	OutlierMethod string  `json:"outlier_method" mapstructure:"outlier_method"`
	MADThreshold  float64 `json:"mad_threshold" mapstructure:"mad_threshold"`
	TukeyFactor   float64 `json:"tukey_factor" mapstructure:"tukey_factor"`

	// MinCycles is the number of full seasonal cycles the usable segment must cover
	MinCycles int `json:"min_cycles" mapstructure:"min_cycles"`

	// Iterations of the seasonal/trend refinement loop
	Iterations int `json:"iterations" mapstructure:"iterations"`

	// TrendWindow is the number of trailing trend points used to extrapolate the trend.
	// Zero uses two seasonal periods.
	TrendWindow int `json:"trend_window" mapstructure:"trend_window"`
}

// NewDefaultOptions returns the default preprocessing options for daily data
func NewDefaultOptions() *Options {
	return &Options{
		Granularity:    timedataset.Daily,
		MaxGap:         DefaultMaxGap,
		RemoveOutliers: true,
		OutlierMethod:  OutlierMAD,
		MADThreshold:   DefaultMADThreshold,
		TukeyFactor:    DefaultTukeyFactor,
		MinCycles:      DefaultMinCycles,
		Iterations:     DefaultIterations,
	}
}

// Validate fills in defaults for unset values and checks the remaining ones
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	res := *o
	if res.Granularity == "" {
		res.Granularity = timedataset.Daily
	}
	if err := res.Granularity.Validate(); err != nil {
		return nil, err
	}
	if res.Period < 0 || res.MaxGap < 0 || res.MinCycles < 0 || res.TrendWindow < 0 {
		return nil, ErrInvalidOptions
	}
	if res.Period == 1 {
		return nil, ErrInvalidOptions
	}
	switch res.OutlierMethod {
	case "":
		res.OutlierMethod = OutlierMAD
	case OutlierMAD, OutlierTukey:
	default:
		return nil, ErrInvalidOptions
	}
	if res.MADThreshold <= 0 {
		res.MADThreshold = DefaultMADThreshold
	}
	if res.TukeyFactor <= 0 {
		res.TukeyFactor = DefaultTukeyFactor
	}
	if res.MinCycles == 0 {
		res.MinCycles = DefaultMinCycles
	}
	if res.Iterations <= 0 {
		res.Iterations = DefaultIterations
	}
	return &res, nil
}
