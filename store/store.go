// Package store persists trained ensemble snapshots so that a restarted engine can serve
// forecasts without retraining.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fuelcast/go-demandcast/models"
)

var (
	ErrNotFound   = errors.New("snapshot not found")
	ErrInvalidKey = errors.New("invalid snapshot key")
)

// Member is a persisted pool member and its ensemble weight
type Member struct {
	Model  models.Model `json:"model"`
	Weight float64      `json:"weight"`
}

// Snapshot is the persisted state of the pool of one series
type Snapshot struct {
	Key     string    `json:"key"`
	SavedAt time.Time `json:"saved_at"`

	// Period is the seasonal period the members were trained with
	Period int `json:"period"`

	// Factors are the external factors the members were trained on
	Factors []string `json:"factors,omitempty"`

	// Residuals are the in-sample ensemble residuals in demand units used to calibrate
	// prediction intervals
	Residuals []float64 `json:"residuals,omitempty"`

	Members []Member `json:"members"`
}

// Store saves and loads snapshots by series key
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, key string) (Snapshot, error)
	Delete(ctx context.Context, key string) error
}
