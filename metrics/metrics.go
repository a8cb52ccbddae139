// Package metrics exposes engine activity as prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "demandcast"

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	forecasts      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	retrains       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	weights        *prometheus.GaugeVec
	ensembleMAPE   *prometheus.GaugeVec
	droppedMembers *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		forecasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecasts_total",
				Help:      "Forecasts generated",
			},
			[]string{"granularity"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Failed engine operations",
			},
			[]string{"operation"},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_total",
				Help:      "Anomalous observations detected",
			},
			[]string{"severity"},
		),
		retrains: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incremental_retrains_total",
				Help:      "Incremental training runs triggered by ensemble error",
			},
			[]string{"series"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_seconds",
				Help:      "Engine operation latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		weights: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ensemble_weight",
				Help:      "Current ensemble weight of a member",
			},
			[]string{"series", "model"},
		),
		ensembleMAPE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ensemble_mape",
				Help:      "Ensemble MAPE over the last evaluated window",
			},
			[]string{"series"},
		),
		droppedMembers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_members_total",
				Help:      "Members left out of a blend because they were not ready, failed or timed out",
			},
			[]string{"model"},
		),
	}
}

func (m *Metrics) Forecast(granularity string) {
	if m == nil {
		return
	}
	m.forecasts.WithLabelValues(granularity).Inc()
}

func (m *Metrics) Failure(operation string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation).Inc()
}

func (m *Metrics) Anomaly(severity string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(severity).Inc()
}

func (m *Metrics) Retrain(series string) {
	if m == nil {
		return
	}
	m.retrains.WithLabelValues(series).Inc()
}

func (m *Metrics) DroppedMember(model string) {
	if m == nil {
		return
	}
	m.droppedMembers.WithLabelValues(model).Inc()
}

// Since observes the time elapsed since start for operation
func (m *Metrics) Since(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Weights(series string, weights map[string]float64) {
	if m == nil {
		return
	}
	for model, w := range weights {
		m.weights.WithLabelValues(series, model).Set(w)
	}
}

func (m *Metrics) EnsembleMAPE(series string, mape float64) {
	if m == nil {
		return
	}
	m.ensembleMAPE.WithLabelValues(series).Set(mape)
}
