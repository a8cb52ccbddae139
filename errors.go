package demandcast

import (
	"errors"

	"github.com/fuelcast/go-demandcast/evaluate"
	"github.com/fuelcast/go-demandcast/feature"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/preprocess"
)

// Errors of the stages are re-exported so callers only need this package to test for them
var (
	ErrInsufficientData   = preprocess.ErrInsufficientData
	ErrModelNotReady      = models.ErrModelNotReady
	ErrFeatureAlignment   = feature.ErrFeatureAlignment
	ErrEvaluationMismatch = evaluate.ErrEvaluationMismatch
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownFactor  = errors.New("unknown external factor")
	ErrNoSource       = errors.New("no history source")
	ErrNoModelStore   = errors.New("no model store configured")
	ErrNoForecast     = errors.New("no cached forecast for series")
)
