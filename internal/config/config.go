package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
)

// Source kinds.
const (
	SourceStub      = "stub"
	SourceOpenMeteo = "openmeteo"
	SourceFixture   = "fixture"
)

// Sink kinds.
const (
	SinkSupabase = "supabase"
	SinkSQLite   = "sqlite"
)

// Site failure policies.
const (
	PolicyAbort = "abort"
	PolicySkip  = "skip"
)

// Config holds all worker settings, populated from environment variables.
type Config struct {
	SitesFile         string
	Sites             []string // subset of site keys to run; empty means all
	Horizon           int
	SiteFailurePolicy string

	Source               string
	SourceTimeout        time.Duration
	SourceCacheSize      int
	FixtureFile          string
	OpenMeteoMarineURL   string
	OpenMeteoForecastURL string

	Sink        string
	SinkTimeout time.Duration
	DryRun      bool

	// Supabase (PostgREST) table store.
	SupabaseURL        string
	SupabaseKey        string
	SupabaseTable      string
	SupabaseOnConflict string

	SQLitePath string

	// Optional publication of upserted rows.
	KafkaBrokers []string
	KafkaTopic   string

	RunInterval     time.Duration
	HTTPAddr        string
	PushgatewayURL  string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// KafkaEnabled reports whether rows should also be published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Scheduled reports whether the worker loops instead of running once.
func (c *Config) Scheduled() bool { return c.RunInterval > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
// Every error wraps domain.ErrConfig. Sink credentials are not checked here; commands
// that write rows call ValidateSink.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	sourceTimeout, err := parsePositiveDuration("SOURCE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	sinkTimeout, err := parsePositiveDuration("SINK_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}

	runInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("RUN_INTERVAL", "0s"))
	if err != nil || runInterval < 0 {
		return nil, fmt.Errorf("%w: invalid RUN_INTERVAL", domain.ErrConfig)
	}

	horizon, err := parseIntInRange("FORECAST_HORIZON", 24, 1, 384)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseIntInRange("SOURCE_CACHE_SIZE", 0, 0, 100000)
	if err != nil {
		return nil, err
	}

	dryRun, err := strconv.ParseBool(sharedcfg.EnvOrDefault("DRY_RUN", "false"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DRY_RUN", domain.ErrConfig)
	}

	cfg := &Config{
		SitesFile:         sharedcfg.EnvOrDefault("SITES_FILE", "config/sites.yaml"),
		Sites:             sharedcfg.ParseBrokers(os.Getenv("SITES")),
		Horizon:           horizon,
		SiteFailurePolicy: sharedcfg.EnvOrDefault("SITE_FAILURE_POLICY", PolicyAbort),

		Source:               sharedcfg.EnvOrDefault("SOURCE", SourceStub),
		SourceTimeout:        sourceTimeout,
		SourceCacheSize:      cacheSize,
		FixtureFile:          os.Getenv("FIXTURE_FILE"),
		OpenMeteoMarineURL:   sharedcfg.EnvOrDefault("OPENMETEO_MARINE_URL", "https://marine-api.open-meteo.com/v1/marine"),
		OpenMeteoForecastURL: sharedcfg.EnvOrDefault("OPENMETEO_FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),

		Sink:        sharedcfg.EnvOrDefault("SINK", SinkSupabase),
		SinkTimeout: sinkTimeout,
		DryRun:      dryRun,

		SupabaseURL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseKey:        os.Getenv("SUPABASE_KEY"),
		SupabaseTable:      sharedcfg.EnvOrDefault("SUPABASE_TABLE", "forecasts"),
		SupabaseOnConflict: os.Getenv("SUPABASE_ON_CONFLICT"),

		SQLitePath: sharedcfg.EnvOrDefault("SQLITE_PATH", "data/forecasts.db"),

		KafkaBrokers: sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "surf-forecasts"),

		RunInterval:     runInterval,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		PushgatewayURL:  os.Getenv("PUSHGATEWAY_URL"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SitesFile == "" {
		return fmt.Errorf("%w: SITES_FILE is required", domain.ErrConfig)
	}

	switch c.SiteFailurePolicy {
	case PolicyAbort, PolicySkip:
	default:
		return fmt.Errorf("%w: invalid SITE_FAILURE_POLICY %q (must be abort or skip)", domain.ErrConfig, c.SiteFailurePolicy)
	}

	switch c.Source {
	case SourceStub, SourceOpenMeteo:
	case SourceFixture:
		if c.FixtureFile == "" {
			return fmt.Errorf("%w: SOURCE is fixture but FIXTURE_FILE is not set", domain.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: invalid SOURCE %q (must be stub, openmeteo, or fixture)", domain.ErrConfig, c.Source)
	}

	switch c.Sink {
	case SinkSupabase, SinkSQLite:
	default:
		return fmt.Errorf("%w: invalid SINK %q (must be supabase or sqlite)", domain.ErrConfig, c.Sink)
	}

	if c.KafkaEnabled() && c.KafkaTopic == "" {
		return fmt.Errorf("%w: KAFKA_BROKERS is set but KAFKA_TOPIC is empty", domain.ErrConfig)
	}
	return nil
}

// ValidateSink checks the settings of the selected sink. The Supabase
// credentials have no defaults, so they are required unless DRY_RUN is set.
func (c *Config) ValidateSink() error {
	switch c.Sink {
	case SinkSupabase:
		if c.DryRun {
			return nil
		}
		if c.SupabaseURL == "" {
			return fmt.Errorf("%w: SUPABASE_URL is required for the supabase sink", domain.ErrConfig)
		}
		if c.SupabaseKey == "" {
			return fmt.Errorf("%w: SUPABASE_KEY is required for the supabase sink", domain.ErrConfig)
		}
	case SinkSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH is required for the sqlite sink", domain.ErrConfig)
		}
	}
	return nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrConfig, key)
	}
	return d, nil
}

func parseIntInRange(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: invalid %s: must be an integer in [%d, %d]", domain.ErrConfig, key, lo, hi)
	}
	return n, nil
}
