// Package config loads the engine configuration from a yaml file and DEMANDCAST_ prefixed
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	demandcast "github.com/fuelcast/go-demandcast"
	"github.com/fuelcast/go-demandcast/store"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "DEMANDCAST"

	StorageNone  = "none"
	StorageFile  = "file"
	StorageRedis = "redis"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// History is the csv file read when no postgres dsn is configured
	History  string         `mapstructure:"history"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`

	Engine *demandcast.Options `mapstructure:"engine"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Dir   string      `mapstructure:"dir"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load reads the config file at path, or demandcast.yaml in the working directory or ./configs
// when path is empty. A missing default file is not an error. Environment variables override
// file values, e.g. DEMANDCAST_ENGINE_ENSEMBLE_LEARNING_RATE.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("demandcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config, %w", err)
		}
	}

	cfg := &Config{Engine: demandcast.NewDefaultOptions()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config, %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key that can be overridden from the environment
func setDefaults(v *viper.Viper) {
	def := demandcast.NewDefaultOptions()

	v.SetDefault("log_level", "info")
	v.SetDefault("history", "")
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("storage.type", StorageNone)
	v.SetDefault("storage.dir", "./models")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", store.DefaultRedisPrefix)
	v.SetDefault("storage.redis.ttl", "0s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "demand-anomalies")

	v.SetDefault("engine.cache_size", def.CacheSize)
	v.SetDefault("engine.scenario_concurrency", def.ScenarioConcurrency)
	v.SetDefault("engine.timeout", def.Timeout)

	v.SetDefault("engine.preprocess.max_gap", def.Preprocess.MaxGap)
	v.SetDefault("engine.preprocess.outlier_method", def.Preprocess.OutlierMethod)
	v.SetDefault("engine.preprocess.mad_threshold", def.Preprocess.MADThreshold)
	v.SetDefault("engine.preprocess.tukey_factor", def.Preprocess.TukeyFactor)
	v.SetDefault("engine.preprocess.remove_outliers", def.Preprocess.RemoveOutliers)

	v.SetDefault("engine.models.seed", def.Models.Seed)
	v.SetDefault("engine.models.retrain_every", def.Models.RetrainEvery)
	v.SetDefault("engine.models.sequence.epochs", def.Models.Sequence.Epochs)
	v.SetDefault("engine.models.gbt.rounds", def.Models.GBT.Rounds)

	v.SetDefault("engine.ensemble.learning_rate", def.Ensemble.LearningRate)
	v.SetDefault("engine.ensemble.retrain_mape", def.Ensemble.RetrainMAPE)
	v.SetDefault("engine.confidence.level", def.Confidence.Level)
	v.SetDefault("engine.anomaly.threshold", def.Anomaly.Threshold)
	v.SetDefault("engine.anomaly.critical_threshold", def.Anomaly.CriticalThreshold)
}

func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Storage.Type {
	case StorageNone, StorageFile, StorageRedis:
	default:
		return fmt.Errorf("storage type %q, %w", c.Storage.Type, ErrInvalidConfig)
	}
	if c.Storage.Type == StorageFile && c.Storage.Dir == "" {
		return fmt.Errorf("file storage without a directory, %w", ErrInvalidConfig)
	}
	if c.Storage.Type == StorageRedis && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("redis storage without an address, %w", ErrInvalidConfig)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka brokers without a topic, %w", ErrInvalidConfig)
	}
	opt, err := c.Engine.Validate()
	if err != nil {
		return fmt.Errorf("%w, %w", ErrInvalidConfig, err)
	}
	c.Engine = opt
	return nil
}

// Level parses the log level
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("log level %q, %w", c.LogLevel, ErrInvalidConfig)
	}
	return lvl, nil
}
