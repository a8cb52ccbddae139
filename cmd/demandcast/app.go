package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	demandcast "github.com/fuelcast/go-demandcast"
	"github.com/fuelcast/go-demandcast/alert"
	"github.com/fuelcast/go-demandcast/config"
	"github.com/fuelcast/go-demandcast/history"
	"github.com/fuelcast/go-demandcast/metrics"
	"github.com/fuelcast/go-demandcast/store"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var errNoHistory = errors.New("no history file or postgres dsn configured")

// app is the engine and everything it was wired to for one command
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	source history.Source
	store  store.Store
	engine *demandcast.Engine

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, historyPath, metricsAddr string, g timedataset.Granularity, stderr io.Writer) (*app, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: lvl})),
	}

	if err := a.openSource(ctx, historyPath, g); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if metricsAddr != "" {
		a.serveMetrics(metricsAddr, reg)
	}

	opts := []demandcast.Option{
		demandcast.WithLogger(a.logger),
		demandcast.WithMetrics(metrics.New(reg)),
		demandcast.WithAlertSink(a.sink()),
	}
	if a.store != nil {
		opts = append(opts, demandcast.WithModelStore(a.store))
	}
	a.engine, err = demandcast.New(cfg.Engine, a.source, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("unable to create engine, %w", err)
	}
	return a, nil
}

func (a *app) openSource(ctx context.Context, historyPath string, g timedataset.Granularity) error {
	if a.cfg.Postgres.DSN != "" {
		src, err := history.NewPostgresSource(ctx, a.cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		a.source = src
		a.closers = append(a.closers, src.Close)
		return nil
	}

	if historyPath == "" {
		historyPath = a.cfg.History
	}
	if historyPath == "" {
		return errNoHistory
	}
	src, err := history.LoadCSVFile(historyPath, g)
	if err != nil {
		return err
	}
	a.source = src
	a.logger.Debug("loaded history", "path", historyPath, "series", len(src.Keys()))
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Storage.Type {
	case config.StorageFile:
		s, err := store.NewFileStore(a.cfg.Storage.Dir)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorageRedis:
		r := a.cfg.Storage.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("unable to reach redis at %s, %w", r.Addr, err)
		}
		a.store = store.NewRedisStore(client, r.Prefix, r.TTL)
	}
	return nil
}

// sink always logs alerts and also publishes them to kafka when brokers are configured
func (a *app) sink() alert.Sink {
	logSink := alert.NewLogSink(a.logger)
	if len(a.cfg.Kafka.Brokers) == 0 {
		return logSink
	}
	k := alert.NewKafkaSink(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
	a.closers = append(a.closers, k.Close)
	return alert.MultiSink{logSink, k}
}

func (a *app) serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// prepare restores the models of key from the store, training them when nothing was saved
func (a *app) prepare(ctx context.Context, key demandcast.SeriesKey, factors map[string][]timedataset.HistoricalPoint) error {
	if len(factors) == 0 {
		_, err := a.engine.LoadModels(ctx, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, demandcast.ErrNoModelStore) && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	res, err := a.engine.Train(ctx, demandcast.TrainRequest{Key: key, ExternalFactors: factors})
	if err != nil {
		return err
	}
	a.logger.Info("trained models", "series", key.String(), "trained", res.Trained, "failed", res.Failed)
	return nil
}

// Close releases every connection opened by the app
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
