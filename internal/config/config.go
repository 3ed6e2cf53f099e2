package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Storage and station network.
	DBPath       string
	StationsFile string

	// Quality control.
	ValidationThreshold float64
	FallbackLookback    time.Duration
	FallbackMinSources  int

	// Forecast job.
	ForecastInterval    time.Duration
	ForecastHorizon     int
	ForecastLookback    time.Duration
	FitTimeout          time.Duration
	ForecastConcurrency int
	ModelCacheTTL       time.Duration
	ModelCacheSize      int

	// Forecast snapshots. An empty RedisAddr disables publication.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SnapshotTTL   time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "sealevel-readings"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "sealevel-qc-results"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "sealevel-monitor"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DBPath:        sharedcfg.EnvOrDefault("DB_PATH", "sealevel.db"),
		StationsFile:  os.Getenv("STATIONS_FILE"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	durations := []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"FALLBACK_LOOKBACK", "72h", &cfg.FallbackLookback},
		{"FORECAST_INTERVAL", "1h", &cfg.ForecastInterval},
		{"FORECAST_LOOKBACK", "720h", &cfg.ForecastLookback},
		{"FIT_TIMEOUT", "2m", &cfg.FitTimeout},
		{"MODEL_CACHE_TTL", "6h", &cfg.ModelCacheTTL},
		{"SNAPSHOT_TTL", "2h", &cfg.SnapshotTTL},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.name, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		name string
		def  int
		dst  *int
	}{
		{"FALLBACK_MIN_SOURCES", 2, &cfg.FallbackMinSources},
		{"FORECAST_HORIZON", 240, &cfg.ForecastHorizon},
		{"FORECAST_CONCURRENCY", 4, &cfg.ForecastConcurrency},
		{"MODEL_CACHE_SIZE", 64, &cfg.ModelCacheSize},
	}
	for _, n := range ints {
		if *n.dst, err = parsePositiveInt(n.name, n.def); err != nil {
			return nil, err
		}
	}

	if cfg.ValidationThreshold, err = parseValidationThreshold(); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = parseRedisDB(); err != nil {
		return nil, err
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}

	return cfg, nil
}

func parseDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}

func parseValidationThreshold() (float64, error) {
	s := os.Getenv("VALIDATION_THRESHOLD")
	if s == "" {
		return 0.05, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !(v > 0) || v > 1 {
		return 0, errors.New("invalid VALIDATION_THRESHOLD: must be in (0, 1] meters")
	}
	return v, nil
}

func parseRedisDB() (int, error) {
	s := os.Getenv("REDIS_DB")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid REDIS_DB")
	}
	return n, nil
}
