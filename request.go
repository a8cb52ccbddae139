package demandcast

import (
	"fmt"
	"time"

	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/evaluate"
	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/history"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/google/uuid"
)

// SeriesKey identifies a demand series, an empty station being the network aggregate
type SeriesKey = history.SeriesKey

// ForecastRequest asks for a forecast of one series
type ForecastRequest struct {
	// StationID is nil for the network wide forecast
	StationID   *string                 `json:"station_id,omitempty"`
	ProductType string                  `json:"product_type"`
	Granularity timedataset.Granularity `json:"granularity"`
	Horizon     int                     `json:"horizon"`

	// ExternalFactors must cover the history and the forecast horizon of every factor the
	// series was trained with
	ExternalFactors map[string][]timedataset.HistoricalPoint `json:"external_factors,omitempty"`

	IncludeConfidenceInterval bool `json:"include_confidence_interval"`

	// Timeout bounds the request. Zero uses the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Key returns the series the request is about
func (r ForecastRequest) Key() SeriesKey {
	var station string
	if r.StationID != nil {
		station = *r.StationID
	}
	return SeriesKey{StationID: station, ProductType: r.ProductType, Granularity: r.Granularity}
}

func (r ForecastRequest) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return fmt.Errorf("%w, %w", ErrInvalidRequest, err)
	}
	if r.Horizon <= 0 {
		return fmt.Errorf("horizon %d is not positive, %w", r.Horizon, ErrInvalidRequest)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("negative timeout, %w", ErrInvalidRequest)
	}
	return nil
}

func (r ForecastRequest) external() feature.External {
	return feature.External(r.ExternalFactors)
}

// ForecastResult is a completed forecast. It is not modified after it is returned.
type ForecastResult struct {
	ID          uuid.UUID               `json:"id"`
	Key         SeriesKey               `json:"key"`
	Predictions []confidence.Prediction `json:"predictions"`

	// Accuracy is the latest evaluation of the ensemble against actuals, nil before any
	Accuracy *evaluate.AccuracyMetrics `json:"accuracy,omitempty"`

	ModelsUsed         []string                `json:"models_used"`
	Weights            map[string]float64      `json:"weights"`
	TrainingDataPoints int                     `json:"training_data_points"`
	GeneratedAt        time.Time               `json:"generated_at"`
	Horizon            int                     `json:"horizon"`
	Granularity        timedataset.Granularity `json:"granularity"`
}

// Values returns the point forecasts
func (r *ForecastResult) Values() []float64 {
	res := make([]float64, len(r.Predictions))
	for i, p := range r.Predictions {
		res[i] = p.Value
	}
	return res
}

// TrainRequest asks for a full training run of the pool of one series
type TrainRequest struct {
	Key SeriesKey `json:"key"`

	// ExternalFactors become regressors of the members and must cover the history
	ExternalFactors map[string][]timedataset.HistoricalPoint `json:"external_factors,omitempty"`
}

// TrainResult reports a training run
type TrainResult struct {
	Key                SeriesKey `json:"key"`
	Trained            []string  `json:"trained"`
	Failed             []string  `json:"failed,omitempty"`
	TrainingDataPoints int       `json:"training_data_points"`
	Period             int       `json:"period"`
	Outliers           int       `json:"outliers"`
	TrainedAt          time.Time `json:"trained_at"`
	Persisted          bool      `json:"persisted"`
}

// Adaptation reports the outcome of feeding actuals back into the pool
type Adaptation struct {
	Key      SeriesKey                `json:"key"`
	Accuracy evaluate.AccuracyMetrics `json:"accuracy"`

	// ModelErrors is the MAPE of every member over the evaluated steps
	ModelErrors map[string]float64 `json:"model_errors"`
	Weights     map[string]float64 `json:"weights"`

	// Retrained lists the members incrementally trained because the ensemble error exceeded
	// the retrain threshold
	Retrained []string `json:"retrained,omitempty"`
}

const (
	StatusReady    = "ready"
	StatusTraining = "training"
)

// ModelStatus describes one pool member of a series
type ModelStatus struct {
	Name           string                   `json:"name"`
	Status         string                   `json:"status"`
	LastTrained    time.Time                `json:"last_trained"`
	NextRetraining time.Time                `json:"next_retraining"`
	Accuracy       evaluate.AccuracyMetrics `json:"accuracy"`
	Weight         float64                  `json:"weight"`
}
