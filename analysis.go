package demandcast

import (
	"context"
	"fmt"
	"time"

	"github.com/fuelcast/go-demandcast/anomaly"
	"github.com/fuelcast/go-demandcast/crossproduct"
	"github.com/fuelcast/go-demandcast/models"
)

// DetectAnomalies scores the raw history of a series with the isolation forest of the gradient
// boosted member. A threshold of zero uses the configured default. Critical anomalies are
// published to the alert sink; a failed publication is logged only.
func (e *Engine) DetectAnomalies(ctx context.Context, key SeriesKey, threshold float64) ([]models.AnomalyRecord, error) {
	ctx, span := e.startSpan(ctx, "DetectAnomalies", key)
	defer span.End()

	start := time.Now()
	res, err := e.detect(ctx, key, threshold)
	e.finish(span, opAnomalies, start, err)
	for _, r := range res {
		e.metrics.Anomaly(string(r.Severity))
	}
	return res, err
}

func (e *Engine) detect(ctx context.Context, key SeriesKey, threshold float64) ([]models.AnomalyRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w, %w", ErrInvalidRequest, err)
	}
	s, err := e.lookup(key)
	if err != nil {
		return nil, err
	}
	h, err := s.combiner.Pool().Get(models.NameGBT)
	if err != nil {
		return nil, fmt.Errorf("%w, %w", anomaly.ErrNoScorer, err)
	}
	scorer, ok := h.Scorer()
	if !ok {
		return nil, anomaly.ErrNoScorer
	}
	detector, err := anomaly.NewDetector(scorer, e.opt.Anomaly, e.sink)
	if err != nil {
		return nil, err
	}
	detector.WithLogger(e.logger)

	points, err := e.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	records, err := detector.Detect(ctx, key.String(), points, key.Granularity, threshold)
	if err != nil {
		return nil, fmt.Errorf("unable to detect anomalies of %s, %w", key, err)
	}
	return records, nil
}

// AnalyzeCannibalization estimates the cross price elasticities between the products of a
// station and the substitution patterns between them
func (e *Engine) AnalyzeCannibalization(ctx context.Context, stationID string, products []string) (*crossproduct.Report, error) {
	key := SeriesKey{StationID: stationID, Granularity: e.opt.CrossProduct.Granularity}
	ctx, span := e.startSpan(ctx, "AnalyzeCannibalization", key)
	defer span.End()

	start := time.Now()
	res, err := e.cannibalization(ctx, stationID, products)
	e.finish(span, opCannibalization, start, err)
	return res, err
}

func (e *Engine) cannibalization(ctx context.Context, stationID string, products []string) (*crossproduct.Report, error) {
	records, err := e.src.Sales(ctx, stationID, products)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch sales of %s, %w", stationID, err)
	}
	report, err := crossproduct.Analyze(records, products, e.opt.CrossProduct)
	if err != nil {
		return nil, fmt.Errorf("unable to analyze products of %s, %w", stationID, err)
	}
	return report, nil
}
