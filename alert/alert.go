// Package alert delivers critical anomaly notifications to the surrounding system.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fuelcast/go-demandcast/models"
	"github.com/google/uuid"
)

var ErrNoRecords = errors.New("alert has no records")

// Alert groups the critical anomalies of one series found by one detection run
type Alert struct {
	ID       string                 `json:"id"`
	Series   string                 `json:"series"`
	RaisedAt time.Time              `json:"raised_at"`
	Records  []models.AnomalyRecord `json:"records"`
}

// New stamps the records with an id and the current time
func New(series string, records []models.AnomalyRecord) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Series:   series,
		RaisedAt: time.Now().UTC(),
		Records:  records,
	}
}

// Sink publishes alerts
type Sink interface {
	Publish(ctx context.Context, a Alert) error
}

// LogSink writes alerts to a structured logger
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("component", "alert"))}
}

func (s *LogSink) Publish(ctx context.Context, a Alert) error {
	if len(a.Records) == 0 {
		return ErrNoRecords
	}
	for _, r := range a.Records {
		s.logger.WarnContext(ctx, "critical demand anomaly",
			"alert_id", a.ID,
			"series", a.Series,
			"timestamp", r.Timestamp,
			"value", r.Value,
			"score", r.AnomalyScore,
			"threshold", r.ThresholdUsed,
		)
	}
	return nil
}

// MultiSink publishes to every sink and joins their failures
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
