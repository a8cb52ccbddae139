package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	demandcast "github.com/fuelcast/go-demandcast"
	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/config"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/plot"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

var errUnknownProfile = errors.New("unknown profile mode")

// cli holds the flags shared by every command
type cli struct {
	configFile  string
	envFile     string
	historyFile string
	metricsAddr string
	profileMode string

	station     string
	product     string
	granularity string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "demandcast",
		Short:         "Ensemble demand forecasting for fuel stations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "Config file (yaml), ./demandcast.yaml when unset")
	flags.StringVar(&c.envFile, "env-file", ".env", "Environment file loaded before the config")
	flags.StringVar(&c.historyFile, "history", "", "Sales history csv, overrides the config")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running")
	flags.StringVar(&c.profileMode, "profile", "", "Write a cpu or mem profile to the working directory")
	flags.StringVar(&c.station, "station", "", "Station id, the network aggregate when unset")
	flags.StringVar(&c.product, "product", "", "Product type")
	flags.StringVar(&c.granularity, "granularity", string(timedataset.Daily), "hourly, daily, weekly or monthly")

	root.AddCommand(
		c.trainCmd(),
		c.forecastCmd(),
		c.statusCmd(),
		c.anomaliesCmd(),
		c.scenariosCmd(),
		c.cannibalizationCmd(),
		c.plotCmd(),
	)
	return root
}

// run wires an app for the command and releases it afterwards
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to load %s, %w", c.envFile, err)
	}
	switch c.profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("%q, %w", c.profileMode, errUnknownProfile)
	}

	cfg, err := config.Load(c.configFile)
	if err != nil {
		return err
	}
	g, err := timedataset.ParseGranularity(c.granularity)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, c.historyFile, c.metricsAddr, g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("unable to release resources", "error", err)
		}
	}()
	return fn(ctx, a)
}

func (c *cli) key() demandcast.SeriesKey {
	return demandcast.SeriesKey{
		StationID:   c.station,
		ProductType: c.product,
		Granularity: timedataset.Granularity(strings.ToLower(c.granularity)),
	}
}

func (c *cli) request(horizon int, interval bool, factors map[string][]timedataset.HistoricalPoint) demandcast.ForecastRequest {
	key := c.key()
	req := demandcast.ForecastRequest{
		ProductType:               key.ProductType,
		Granularity:               key.Granularity,
		Horizon:                   horizon,
		ExternalFactors:           factors,
		IncludeConfidenceInterval: interval,
	}
	if key.StationID != "" {
		req.StationID = &key.StationID
	}
	return req
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) trainCmd() *cobra.Command {
	var factorsFile string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train every model of a series and save them to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				factors, err := loadFactors(factorsFile)
				if err != nil {
					return err
				}
				res, err := a.engine.Train(ctx, demandcast.TrainRequest{Key: c.key(), ExternalFactors: factors})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&factorsFile, "factors", "", "External factors csv (timestamp,factor,value)")
	return cmd
}

func (c *cli) forecastCmd() *cobra.Command {
	var (
		horizon     int
		interval    bool
		factorsFile string
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast a series, training it first when no saved models exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				factors, err := loadFactors(factorsFile)
				if err != nil {
					return err
				}
				if err := a.prepare(ctx, c.key(), factors); err != nil {
					return err
				}
				res, err := a.engine.GenerateForecast(ctx, c.request(horizon, interval, factors))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&horizon, "horizon", 7, "Number of steps to forecast")
	cmd.Flags().BoolVar(&interval, "interval", true, "Include prediction intervals")
	cmd.Flags().StringVar(&factorsFile, "factors", "", "External factors csv (timestamp,factor,value)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the models of a series",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.prepare(ctx, c.key(), nil); err != nil {
					return err
				}
				status, err := a.engine.ModelStatus(c.key())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), status)
			})
		},
	}
}

func (c *cli) anomaliesCmd() *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Detect anomalous observations in the history of a series",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				records, err := a.engine.DetectAnomalies(ctx, c.key(), threshold)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Anomaly score threshold in (0, 1), the configured default when zero")
	return cmd
}

func (c *cli) scenariosCmd() *cobra.Command {
	var (
		horizon       int
		factorsFile   string
		scenariosFile string
	)
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Forecast a series under what-if adjustments of its external factors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				factors, err := loadFactors(factorsFile)
				if err != nil {
					return err
				}
				scenarios, err := loadScenarios(scenariosFile)
				if err != nil {
					return err
				}
				if err := a.prepare(ctx, c.key(), factors); err != nil {
					return err
				}
				res, err := a.engine.RunScenarios(ctx, c.request(horizon, false, factors), scenarios)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&horizon, "horizon", 7, "Number of steps to forecast")
	cmd.Flags().StringVar(&factorsFile, "factors", "", "External factors csv (timestamp,factor,value)")
	cmd.Flags().StringVar(&scenariosFile, "scenarios", "", "Scenarios json file")
	_ = cmd.MarkFlagRequired("factors")
	_ = cmd.MarkFlagRequired("scenarios")
	return cmd
}

func (c *cli) cannibalizationCmd() *cobra.Command {
	var products []string
	cmd := &cobra.Command{
		Use:   "cannibalization",
		Short: "Estimate cross price elasticities between the products of a station",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				report, err := a.engine.AnalyzeCannibalization(ctx, c.station, products)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringSliceVar(&products, "products", nil, "Products to analyze")
	_ = cmd.MarkFlagRequired("products")
	return cmd
}

func (c *cli) plotCmd() *cobra.Command {
	var (
		horizon int
		out     string
	)
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render the history, forecast and anomalies of a series as html",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app) error {
				key := c.key()
				if err := a.prepare(ctx, key, nil); err != nil {
					return err
				}
				points, err := a.source.Fetch(ctx, key)
				if err != nil {
					return err
				}
				fc, err := a.engine.GenerateForecast(ctx, c.request(horizon, true, nil))
				if err != nil {
					return err
				}
				records, err := a.engine.DetectAnomalies(ctx, key, 0)
				if err != nil {
					return err
				}
				return renderFile(out, key.String(), points, fc.Predictions, records)
			})
		},
	}
	cmd.Flags().IntVar(&horizon, "horizon", 14, "Number of steps to forecast")
	cmd.Flags().StringVarP(&out, "out", "o", "forecast.html", "Output html file")
	return cmd
}

func renderFile(path, title string, points []timedataset.HistoricalPoint, predictions []confidence.Prediction, records []models.AnomalyRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create %s, %w", path, err)
	}
	charts := []components.Charter{
		plot.LineForecast(title+" forecast", points, predictions),
		plot.LineAnomalies(title+" anomalies", points, records),
	}
	if err := plot.Render(f, charts...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
