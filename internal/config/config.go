package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Scraper  ScraperConfig
	Database DatabaseConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// ScraperConfig controls scheduling and the ingestion pipeline.
type ScraperConfig struct {
	Schedule        string // cron-style expression
	Timezone        string // IANA zone the schedule is evaluated in
	RunOnStartup    bool
	AdapterTimeout  time.Duration
	StoreTimeout    time.Duration
	MatchWindow     time.Duration
	InactiveAfter   time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	BrowserHeadless bool
	SourcesFile     string // optional YAML source catalog
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MigrationsDir  string
}

// MetricsConfig configures the operational listener.
type MetricsConfig struct {
	Addr string // empty disables the listener
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

const (
	defaultSchedule        = "0 */12 * * *"
	defaultTimezone        = "Australia/Sydney"
	defaultAdapterTimeout  = 30 * time.Second
	defaultStoreTimeout    = 10 * time.Second
	defaultMatchWindow     = 2 * time.Hour
	defaultInactiveAfter   = 7 * 24 * time.Hour
	defaultBreakerFailures = 3
	defaultBreakerCooldown = time.Hour

	defaultMaxConnections = 10
	defaultMigrationsDir  = "./migrations"
	defaultMetricsAddr    = ":9090"

	defaultLogFormat = "json"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	cfg := Config{
		Scraper: ScraperConfig{
			Schedule:        getEnv("SCRAPER_CRON_SCHEDULE", defaultSchedule),
			Timezone:        getEnv("SCRAPER_TIMEZONE", defaultTimezone),
			AdapterTimeout:  defaultAdapterTimeout,
			StoreTimeout:    defaultStoreTimeout,
			MatchWindow:     defaultMatchWindow,
			InactiveAfter:   defaultInactiveAfter,
			BreakerFailures: defaultBreakerFailures,
			BreakerCooldown: defaultBreakerCooldown,
			BrowserHeadless: true,
			SourcesFile:     os.Getenv("SOURCES_FILE"),
		},
		Database: DatabaseConfig{
			MaxConnections: defaultMaxConnections,
			MigrationsDir:  getEnv("MIGRATIONS_DIR", defaultMigrationsDir),
		},
		Metrics: MetricsConfig{
			Addr: defaultMetricsAddr,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
	}

	if _, err := time.LoadLocation(cfg.Scraper.Timezone); err != nil {
		return Config{}, fmt.Errorf("invalid SCRAPER_TIMEZONE: %w", err)
	}

	if v := os.Getenv("RUN_ON_STARTUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RUN_ON_STARTUP: %w", err)
		}
		cfg.Scraper.RunOnStartup = b
	}

	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BROWSER_HEADLESS: %w", err)
		}
		cfg.Scraper.BrowserHeadless = b
	}

	durations := []struct {
		key    string
		unit   time.Duration
		target *time.Duration
	}{
		{"ADAPTER_TIMEOUT_SECONDS", time.Second, &cfg.Scraper.AdapterTimeout},
		{"STORE_TIMEOUT_SECONDS", time.Second, &cfg.Scraper.StoreTimeout},
		{"MATCH_WINDOW_MINUTES", time.Minute, &cfg.Scraper.MatchWindow},
		{"INACTIVE_AFTER_DAYS", 24 * time.Hour, &cfg.Scraper.InactiveAfter},
		{"BREAKER_COOLDOWN_MINUTES", time.Minute, &cfg.Scraper.BreakerCooldown},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := parseUnits(v, d.unit)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if v := os.Getenv("BREAKER_MAX_FAILURES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("invalid BREAKER_MAX_FAILURES: must be a positive integer")
		}
		cfg.Scraper.BreakerFailures = uint32(n)
	}

	dbURL, err := buildDatabaseURL()
	if err != nil {
		return Config{}, err
	}
	cfg.Database.URL = dbURL

	if v := os.Getenv("DB_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNECTIONS: must be a positive integer")
		}
		cfg.Database.MaxConnections = n
	}

	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.Metrics.Addr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

// Location resolves the scraper timezone. Load has already validated it.
func (c ScraperConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// buildDatabaseURL prefers DATABASE_URL and falls back to a Cloud SQL unix
// socket DSN assembled from INSTANCE_CONNECTION_NAME, DB_USER, DB_PASSWORD
// and DB_NAME.
func buildDatabaseURL() (string, error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL, nil
	}

	instance := os.Getenv("INSTANCE_CONNECTION_NAME")
	if instance == "" {
		return "", nil
	}

	user := os.Getenv("DB_USER")
	name := os.Getenv("DB_NAME")
	if user == "" || name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	parts := []string{
		"host=/cloudsql/" + instance,
		"user=" + user,
		"dbname=" + name,
		"sslmode=disable",
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		parts = append(parts, "password="+password)
	}
	return strings.Join(parts, " "), nil
}

func parseUnits(raw string, unit time.Duration) (time.Duration, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return time.Duration(n) * unit, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
