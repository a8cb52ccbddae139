package preprocess

import (
	"github.com/fuelcast/go-demandcast/stats"
)

const minScale = 1e-9

// Scaler is a z-score normalization
type Scaler struct {
	Offset float64 `json:"offset"`
	Scale  float64 `json:"scale"`
}

// NewScaler fits a scaler on the non NaN values of y. Degenerate input keeps a scale of 1.
func NewScaler(y []float64) *Scaler {
	mean, std, err := stats.MeanStdDev(y)
	if err != nil {
		return &Scaler{Scale: 1}
	}
	if std < minScale {
		std = 1
	}
	return &Scaler{Offset: mean, Scale: std}
}

func (s *Scaler) Transform(y []float64) []float64 {
	res := make([]float64, len(y))
	for i, v := range y {
		res[i] = (v - s.Offset) / s.Scale
	}
	return res
}

func (s *Scaler) Inverse(y []float64) []float64 {
	res := make([]float64, len(y))
	for i, v := range y {
		res[i] = s.InverseValue(v)
	}
	return res
}

func (s *Scaler) InverseValue(v float64) float64 {
	return v*s.Scale + s.Offset
}
