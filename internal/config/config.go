package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/robfig/cron/v3"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	BronzeRoot       string
	SilverRoot       string
	SourceExtensions []string
	KeySeparator     string
	OutputFormats    []string
	RowAxisTables    []string
	RecordsKey       string
	Workers          int

	// Schedule is a standard five-field cron expression. Empty runs once.
	Schedule   string
	RunOnStart bool

	CatalogDriver string
	CatalogDSN    string

	// Kafka publishing is disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

var (
	supportedExtensions = map[string]struct{}{".json": {}, ".csv": {}}
	supportedFormats    = map[string]struct{}{"csv": {}, "parquet": {}}
	supportedDrivers    = map[string]struct{}{"sqlite": {}, "postgres": {}}
)

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("WORKERS", 1)
	if err != nil {
		return nil, err
	}

	runOnStart, err := parseBool("RUN_ON_START", true)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BronzeRoot:       sharedcfg.EnvOrDefault("BRONZE_ROOT", "data/bronze"),
		SilverRoot:       sharedcfg.EnvOrDefault("SILVER_ROOT", "data/silver"),
		SourceExtensions: parseList(sharedcfg.EnvOrDefault("SOURCE_EXTENSIONS", ".json,.csv")),
		KeySeparator:     sharedcfg.EnvOrDefault("KEY_SEPARATOR", "_"),
		OutputFormats:    parseList(sharedcfg.EnvOrDefault("OUTPUT_FORMATS", "csv,parquet")),
		RowAxisTables:    parseList(os.Getenv("ROW_AXIS_TABLES")),
		RecordsKey:       os.Getenv("RECORDS_KEY"),
		Workers:          workers,
		Schedule:         strings.TrimSpace(os.Getenv("SCHEDULE")),
		RunOnStart:       runOnStart,
		CatalogDriver:    strings.ToLower(sharedcfg.EnvOrDefault("CATALOG_DRIVER", "sqlite")),
		CatalogDSN:       envOrDefaultAllowEmpty("CATALOG_DSN", "data/catalog.db"),
		KafkaBrokers:     parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       sharedcfg.EnvOrDefault("KAFKA_TOPIC", "silver-tables"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BronzeRoot == "" {
		return errors.New("BRONZE_ROOT is required")
	}
	if c.SilverRoot == "" {
		return errors.New("SILVER_ROOT is required")
	}
	if c.KeySeparator == "" {
		return errors.New("KEY_SEPARATOR must not be empty")
	}
	if len(c.SourceExtensions) == 0 {
		return errors.New("SOURCE_EXTENSIONS is required")
	}
	for i, ext := range c.SourceExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := supportedExtensions[ext]; !ok {
			return fmt.Errorf("invalid SOURCE_EXTENSIONS: unsupported extension %q", ext)
		}
		c.SourceExtensions[i] = ext
	}
	if len(c.OutputFormats) == 0 {
		return errors.New("OUTPUT_FORMATS is required")
	}
	for i, f := range c.OutputFormats {
		f = strings.ToLower(f)
		if _, ok := supportedFormats[f]; !ok {
			return fmt.Errorf("invalid OUTPUT_FORMATS: unsupported format %q", f)
		}
		c.OutputFormats[i] = f
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid SCHEDULE: %w", err)
		}
	}
	if _, ok := supportedDrivers[c.CatalogDriver]; !ok {
		return fmt.Errorf("invalid CATALOG_DRIVER: %q", c.CatalogDriver)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// parseList splits a comma-separated value, trimming blanks.
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseBrokers treats an unset or blank KAFKA_BROKERS as "publishing off".
func parseBrokers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, b := range sharedcfg.ParseBrokers(s) {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// envOrDefaultAllowEmpty returns def only when key is unset, so an explicit
// empty value can disable a feature.
func envOrDefaultAllowEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
