package preprocess

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fuelcast/go-demandcast/stats"
	"github.com/fuelcast/go-demandcast/timedataset"
)

var ErrInsufficientData = errors.New("insufficient data")

// Result is a cleaned, decomposed and normalized demand series
type Result struct {
	T []time.Time `json:"t"`

	// Original holds the grid aligned observations of the usable segment with outliers kept
	Original []float64 `json:"original"`
	Cleaned  []float64 `json:"cleaned"`

	*Components

	// Normalized is the residual after z-score scaling
	Normalized []float64 `json:"normalized"`
	Scaler     *Scaler   `json:"scaler"`

	OutlierIdx []int `json:"outlier_idx"`

	// Dropped counts grid steps before the last unfillable gap
	Dropped     int                     `json:"dropped"`
	Granularity timedataset.Granularity `json:"granularity"`
}

// Last returns the timestamp of the final observation
func (r *Result) Last() time.Time {
	return r.T[len(r.T)-1]
}

// Future returns the timestamps of the next horizon steps
func (r *Result) Future(horizon int) []time.Time {
	return r.Granularity.Future(r.Last(), horizon)
}

// Process regularizes, gap fills, cleans outliers from, decomposes and normalizes a raw
// demand series.
func Process(points []timedataset.HistoricalPoint, opt *Options) (*Result, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}

	td, err := Regularize(points, opt.Granularity)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, fmt.Errorf("%w, %w", ErrInsufficientData, err)
		}
		return nil, fmt.Errorf("unable to regularize series, %w", err)
	}

	filled := Interpolate(td.Y, opt.MaxGap)
	start := trailingSegment(filled)
	if start > 0 {
		slog.Debug("dropping history before unfillable gap", "dropped", start, "kept", len(filled)-start)
	}
	t := td.T[start:]
	filled = filled[start:]
	original := make([]float64, len(filled))
	copy(original, td.Y[start:])

	period := opt.Period
	if period == 0 {
		if opt.AutoPeriod {
			period = DetectPeriod(filled, opt.Granularity)
		} else {
			period = opt.Granularity.DefaultPeriod()
		}
	}

	if len(filled) < opt.MinCycles*period {
		return nil, fmt.Errorf(
			"%w, %d usable points is fewer than %d cycles of period %d",
			ErrInsufficientData, len(filled), opt.MinCycles, period,
		)
	}

	comp, err := Decompose(filled, period, opt.Iterations)
	if err != nil {
		return nil, fmt.Errorf("unable to decompose series, %w", err)
	}

	cleaned := filled
	var outliers []int
	if opt.RemoveOutliers {
		outliers = significant(comp.Residual, detectOutliers(comp.Residual, opt), filled)
		if len(outliers) > 0 {
			cleaned = replaceOutliers(filled, comp, outliers)
			comp, err = Decompose(cleaned, period, opt.Iterations)
			if err != nil {
				return nil, fmt.Errorf("unable to decompose cleaned series, %w", err)
			}
		}
	}
	if opt.TrendWindow > 0 {
		comp.TrendWindow = opt.TrendWindow
	}

	scaler := NewScaler(comp.Residual)
	return &Result{
		T:           t,
		Original:    original,
		Cleaned:     cleaned,
		Components:  comp,
		Normalized:  scaler.Transform(comp.Residual),
		Scaler:      scaler,
		OutlierIdx:  outliers,
		Dropped:     start,
		Granularity: opt.Granularity,
	}, nil
}

// significant drops flagged residuals that are numerically indistinguishable from the
// residual median relative to the magnitude of the series
func detectOutliers(residual []float64, opt *Options) []int {
	if opt.OutlierMethod == OutlierTukey {
		return stats.DetectOutliers(residual, 0.25, 0.75, opt.TukeyFactor)
	}
	return stats.DetectMADOutliers(residual, opt.MADThreshold)
}

func significant(residual []float64, flagged []int, y []float64) []int {
	if len(flagged) == 0 {
		return nil
	}
	med, err := stats.Median(residual)
	if err != nil {
		return nil
	}
	var level float64
	for _, v := range y {
		level += math.Abs(v)
	}
	tol := 1e-6 * math.Max(1, level/float64(len(y)))

	res := make([]int, 0, len(flagged))
	for _, idx := range flagged {
		if math.Abs(residual[idx]-med) > tol {
			res = append(res, idx)
		}
	}
	return res
}

// replaceOutliers linearly interpolates the deseasoned series across outliers and adds the
// seasonality back. Outliers at either end fall back to the fitted trend plus seasonality.
func replaceOutliers(y []float64, comp *Components, outliers []int) []float64 {
	res := make([]float64, len(y))
	for i, v := range y {
		res[i] = v - comp.Seasonality[i]
	}
	for _, idx := range outliers {
		res[idx] = math.NaN()
	}
	res = Interpolate(res, len(res))
	for i, v := range res {
		if math.IsNaN(v) {
			res[i] = comp.Trend[i]
		}
		res[i] += comp.Seasonality[i]
	}
	return res
}
