// Package anomaly flags unusual demand observations on the raw, uncleaned series and routes
// critical ones to an alert sink.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fuelcast/go-demandcast/alert"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/preprocess"
	"github.com/fuelcast/go-demandcast/timedataset"
)

const (
	DefaultThreshold         = 0.6
	DefaultCriticalThreshold = 0.75
)

var (
	ErrInvalidThreshold = errors.New("anomaly threshold must be in (0, 1)")
	ErrNoScorer         = errors.New("no anomaly scorer")
)

type Options struct {
	// Threshold is used when the caller passes a non positive threshold
	Threshold float64 `json:"threshold" mapstructure:"threshold"`

	// CriticalThreshold separates critical from merely flagged anomalies
	CriticalThreshold float64 `json:"critical_threshold" mapstructure:"critical_threshold"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Threshold:         DefaultThreshold,
		CriticalThreshold: DefaultCriticalThreshold,
	}
}

func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	res := *o
	if res.Threshold == 0 {
		res.Threshold = DefaultThreshold
	}
	if res.CriticalThreshold == 0 {
		res.CriticalThreshold = DefaultCriticalThreshold
	}
	if !validThreshold(res.Threshold) || !validThreshold(res.CriticalThreshold) {
		return nil, ErrInvalidThreshold
	}
	return &res, nil
}

func validThreshold(v float64) bool {
	return v > 0 && v < 1
}

// Classify returns the severity of a score that already passed the detection threshold
func Classify(score, critical float64) models.Severity {
	if score > critical {
		return models.SeverityCritical
	}
	return models.SeverityFlagged
}

// Detector scores regularized, uncleaned series
type Detector struct {
	scorer models.AnomalyScorer
	opt    *Options
	sink   alert.Sink
	logger *slog.Logger
}

// NewDetector creates a detector. sink may be nil to skip alerting.
func NewDetector(scorer models.AnomalyScorer, opt *Options, sink alert.Sink) (*Detector, error) {
	if scorer == nil {
		return nil, ErrNoScorer
	}
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &Detector{
		scorer: scorer,
		opt:    opt,
		sink:   sink,
		logger: slog.Default(),
	}, nil
}

func (d *Detector) WithLogger(logger *slog.Logger) *Detector {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// Detect returns the observations of points scoring above threshold, ordered by time. Points
// are placed on the granularity grid without gap filling or outlier removal so that the
// anomalies stay visible. Critical records are published to the sink; a failed publication is
// logged and does not fail detection.
func (d *Detector) Detect(ctx context.Context, series string, points []timedataset.HistoricalPoint, g timedataset.Granularity, threshold float64) ([]models.AnomalyRecord, error) {
	if threshold <= 0 {
		threshold = d.opt.Threshold
	}
	if !validThreshold(threshold) {
		return nil, fmt.Errorf("threshold %.3f, %w", threshold, ErrInvalidThreshold)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	td, err := preprocess.Regularize(points, g)
	if err != nil {
		return nil, fmt.Errorf("unable to regularize series, %w", err)
	}
	records, err := d.scorer.DetectAnomalies(td.T, td.Y, threshold)
	if err != nil {
		return nil, fmt.Errorf("unable to score series, %w", err)
	}

	var critical []models.AnomalyRecord
	for i := range records {
		records[i].Severity = Classify(records[i].AnomalyScore, d.opt.CriticalThreshold)
		if records[i].Severity == models.SeverityCritical {
			critical = append(critical, records[i])
		}
	}

	if len(critical) > 0 && d.sink != nil {
		if err := d.sink.Publish(ctx, alert.New(series, critical)); err != nil {
			d.logger.Error("unable to publish anomaly alert", "series", series, "critical", len(critical), "error", err)
		}
	}
	return records, nil
}
