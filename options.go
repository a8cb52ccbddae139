package demandcast

import (
	"fmt"
	"time"

	"github.com/fuelcast/go-demandcast/anomaly"
	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/crossproduct"
	"github.com/fuelcast/go-demandcast/ensemble"
	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/preprocess"
	"github.com/fuelcast/go-demandcast/timedataset"
)

const (
	DefaultCacheSize           = 1024
	DefaultScenarioConcurrency = 4
	DefaultTimeout             = 30 * time.Second
)

// Options configures every stage of the engine. The granularity of the preprocess and feature
// options is replaced by the granularity of the series being processed.
type Options struct {
	Preprocess *preprocess.Options `json:"preprocess" mapstructure:"preprocess"`

	// Features selects the engineered features. Nil derives lags and windows from the
	// seasonal period of each series granularity.
	Features *feature.Options `json:"features" mapstructure:"features"`

	Models       *models.Options       `json:"models" mapstructure:"models"`
	Ensemble     *ensemble.Options     `json:"ensemble" mapstructure:"ensemble"`
	Confidence   *confidence.Options   `json:"confidence" mapstructure:"confidence"`
	Anomaly      *anomaly.Options      `json:"anomaly" mapstructure:"anomaly"`
	CrossProduct *crossproduct.Options `json:"cross_product" mapstructure:"cross_product"`

	// Members lists the pool members of every series, all of them when empty
	Members []string `json:"members" mapstructure:"members"`

	// CacheSize bounds the number of series whose latest forecast is kept for adaptation
	CacheSize int `json:"cache_size" mapstructure:"cache_size"`

	// ScenarioConcurrency bounds the number of scenarios forecast at once
	ScenarioConcurrency int `json:"scenario_concurrency" mapstructure:"scenario_concurrency"`

	// Timeout applies to forecast requests that do not set their own
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewDefaultOptions returns the options used when none are given to New
func NewDefaultOptions() *Options {
	return &Options{
		Preprocess:          preprocess.NewDefaultOptions(),
		Models:              models.NewDefaultOptions(),
		Ensemble:            ensemble.NewDefaultOptions(),
		Confidence:          confidence.NewDefaultOptions(),
		Anomaly:             anomaly.NewDefaultOptions(),
		CrossProduct:        crossproduct.NewDefaultOptions(),
		CacheSize:           DefaultCacheSize,
		ScenarioConcurrency: DefaultScenarioConcurrency,
		Timeout:             DefaultTimeout,
	}
}

// Validate fills in defaults for every unset stage and checks the rest
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		o = NewDefaultOptions()
	}
	res := *o

	var err error
	if res.Preprocess, err = res.Preprocess.Validate(); err != nil {
		return nil, fmt.Errorf("unable to validate preprocess options, %w", err)
	}
	if res.Features != nil {
		if res.Features, err = res.Features.Validate(); err != nil {
			return nil, fmt.Errorf("unable to validate feature options, %w", err)
		}
	}
	if res.Models == nil {
		res.Models = models.NewDefaultOptions()
	}
	if res.Ensemble, err = res.Ensemble.Validate(); err != nil {
		return nil, fmt.Errorf("unable to validate ensemble options, %w", err)
	}
	if res.Confidence, err = res.Confidence.Validate(); err != nil {
		return nil, fmt.Errorf("unable to validate confidence options, %w", err)
	}
	if res.Anomaly, err = res.Anomaly.Validate(); err != nil {
		return nil, fmt.Errorf("unable to validate anomaly options, %w", err)
	}
	if res.CrossProduct, err = res.CrossProduct.Validate(); err != nil {
		return nil, fmt.Errorf("unable to validate cross product options, %w", err)
	}

	known := make(map[string]bool)
	for _, name := range models.Names() {
		known[name] = true
	}
	for _, name := range res.Members {
		if !known[name] {
			return nil, fmt.Errorf("pool member %q, %w", name, models.ErrUnknownModel)
		}
	}

	if res.CacheSize <= 0 {
		res.CacheSize = DefaultCacheSize
	}
	if res.ScenarioConcurrency <= 0 {
		res.ScenarioConcurrency = DefaultScenarioConcurrency
	}
	if res.Timeout < 0 {
		return nil, fmt.Errorf("negative timeout, %w", ErrInvalidRequest)
	}
	if res.Timeout == 0 {
		res.Timeout = DefaultTimeout
	}
	return &res, nil
}

func (o *Options) preprocessOptions(g timedataset.Granularity) *preprocess.Options {
	res := *o.Preprocess
	res.Granularity = g
	return &res
}

func (o *Options) featureOptions(g timedataset.Granularity, factors []string) *feature.Options {
	var res feature.Options
	if o.Features == nil {
		res = *feature.NewDefaultOptions(g)
	} else {
		res = *o.Features
		res.Granularity = g
	}
	res.ExternalFactors = factors
	return &res
}
