// Package config loads harvester configuration from an optional YAML file
// overlaid with HARVEST_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of one harvest job.
type Config struct {
	Job      JobConfig      `yaml:"job"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	HTTP     HTTPConfig     `yaml:"http"`
	Perf     PerfConfig     `yaml:"perf"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Registry RegistryConfig `yaml:"registry"`
	Mirror   MirrorConfig   `yaml:"mirror"`
}

// JobConfig describes what to harvest and where to put it.
type JobConfig struct {
	// Destination is the local root. It must exist before the job starts;
	// datasets/, metadata/ and log/ subtrees are created lazily under it.
	Destination string `yaml:"destination"`

	// Format is the target file extension ("csv", "json", ...). Resources
	// land under datasets/<format>/.
	Format string `yaml:"format"`

	// BatchSize is the metadata pagination page size.
	BatchSize int `yaml:"batch_size"`

	// MaxEntries caps how many catalog entries are resolved.
	MaxEntries int `yaml:"max_entries"`

	// FromIndex is the starting offset in the catalog's own ordering.
	FromIndex int `yaml:"from_index"`

	// MaxResourceSize rejects resources whose declared size exceeds it.
	MaxResourceSize int64 `yaml:"max_resource_size"`

	// KeepResourceName prefixes stored filenames with the sanitized
	// resource display name, joined as name::id.
	KeepResourceName bool `yaml:"keep_resource_name"`

	// SaveMetadata persists the kept-metadata document next to the
	// resource list.
	SaveMetadata bool `yaml:"save_metadata"`

	// FilterFormats, when non-empty, accepts only resources whose declared
	// format matches one of the listed values (case-insensitive). Callers
	// embedding the harvester can install an arbitrary predicate instead.
	FilterFormats []string `yaml:"filter_formats"`

	// SearchFilters are passed through to the catalog search call
	// (e.g. fq for CKAN).
	SearchFilters map[string]string `yaml:"search_filters"`
}

// CatalogConfig selects and parameterizes the catalog backend.
type CatalogConfig struct {
	Kind       string `yaml:"kind"`   // "ckan" | "socrata"
	Preset     string `yaml:"preset"` // "canada" | "italy" | "uk" | "modena" | "chicago"
	BaseURL    string `yaml:"base_url"`
	ActionPath string `yaml:"action_path"`
	Domain     string `yaml:"domain"`
	AppToken   string `yaml:"app_token"`
}

// HTTPConfig tunes the per-outer-worker pooled clients.
type HTTPConfig struct {
	Headers             map[string]string `yaml:"headers"`
	ResourceTimeout     time.Duration     `yaml:"resource_timeout"`
	MaxIdleConnsPerHost int               `yaml:"max_idle_conns_per_host"`
	RetryAttempts       int               `yaml:"retry_attempts"`
	RetryBackoff        time.Duration     `yaml:"retry_backoff"`
	RetryMaxBackoff     time.Duration     `yaml:"retry_max_backoff"`
}

// PerfConfig bounds the two concurrency tiers.
type PerfConfig struct {
	OuterWorkers int `yaml:"outer_workers"`
	InnerWorkers int `yaml:"inner_workers"`

	// RunDeadline aborts the whole run when exceeded. Zero means no
	// deadline.
	RunDeadline time.Duration `yaml:"run_deadline"`
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// RegistryConfig enables run-summary records in Postgres. Empty DSN
// disables the registry.
type RegistryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MirrorConfig enables post-run upload of the datasets tree to a bucket.
// Empty URL disables mirroring.
type MirrorConfig struct {
	URL    string `yaml:"url"` // s3://, gs:// or file:// bucket URL
	Prefix string `yaml:"prefix"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Job: JobConfig{
			Format:          "csv",
			BatchSize:       1000,
			MaxEntries:      1 << 30,
			MaxResourceSize: 1 << 20,
			SaveMetadata:    true,
		},
		Catalog: CatalogConfig{
			Kind: "ckan",
		},
		HTTP: HTTPConfig{
			ResourceTimeout:     60 * time.Second,
			MaxIdleConnsPerHost: 100,
			RetryAttempts:       3,
			RetryBackoff:        time.Second,
			RetryMaxBackoff:     30 * time.Second,
		},
		Perf: PerfConfig{
			OuterWorkers: 4,
			InnerWorkers: 4,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for main: it resolves the config path from HARVEST_CONFIG
// and exits on error.
func MustLoad() Config {
	cfg, err := Load(os.Getenv("HARVEST_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// loadFromEnv overlays HARVEST_* environment variables.
func (c *Config) loadFromEnv() error {
	setString(&c.Job.Destination, "HARVEST_DESTINATION")
	setString(&c.Job.Format, "HARVEST_FORMAT")
	if err := setInt(&c.Job.BatchSize, "HARVEST_BATCH_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Job.MaxEntries, "HARVEST_MAX_ENTRIES"); err != nil {
		return err
	}
	if err := setInt(&c.Job.FromIndex, "HARVEST_FROM_INDEX"); err != nil {
		return err
	}
	if err := setInt64(&c.Job.MaxResourceSize, "HARVEST_MAX_RESOURCE_SIZE"); err != nil {
		return err
	}
	setBool(&c.Job.KeepResourceName, "HARVEST_KEEP_RESOURCE_NAME")
	setBool(&c.Job.SaveMetadata, "HARVEST_SAVE_METADATA")
	if v := os.Getenv("HARVEST_FILTER_FORMATS"); v != "" {
		c.Job.FilterFormats = splitCSV(v)
	}

	setString(&c.Catalog.Kind, "HARVEST_CATALOG_KIND")
	setString(&c.Catalog.Preset, "HARVEST_CATALOG_PRESET")
	setString(&c.Catalog.BaseURL, "HARVEST_CATALOG_BASE_URL")
	setString(&c.Catalog.ActionPath, "HARVEST_CATALOG_ACTION_PATH")
	setString(&c.Catalog.Domain, "HARVEST_CATALOG_DOMAIN")
	setString(&c.Catalog.AppToken, "HARVEST_CATALOG_APP_TOKEN")

	if err := setDuration(&c.HTTP.ResourceTimeout, "HARVEST_RESOURCE_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&c.HTTP.MaxIdleConnsPerHost, "HARVEST_MAX_IDLE_CONNS"); err != nil {
		return err
	}
	if err := setInt(&c.HTTP.RetryAttempts, "HARVEST_RETRY_ATTEMPTS"); err != nil {
		return err
	}

	if err := setInt(&c.Perf.OuterWorkers, "HARVEST_OUTER_WORKERS"); err != nil {
		return err
	}
	if err := setInt(&c.Perf.InnerWorkers, "HARVEST_INNER_WORKERS"); err != nil {
		return err
	}
	if err := setDuration(&c.Perf.RunDeadline, "HARVEST_RUN_DEADLINE"); err != nil {
		return err
	}

	setString(&c.Logging.Format, "HARVEST_LOG_FORMAT")
	setString(&c.Logging.Level, "HARVEST_LOG_LEVEL")

	setBool(&c.Metrics.Enabled, "HARVEST_METRICS_ENABLED")
	setString(&c.Metrics.Address, "HARVEST_METRICS_ADDRESS")

	setString(&c.Registry.PostgresDSN, "HARVEST_REGISTRY_DSN")

	setString(&c.Mirror.URL, "HARVEST_MIRROR_URL")
	setString(&c.Mirror.Prefix, "HARVEST_MIRROR_PREFIX")

	return nil
}

// Validate checks invariants the orchestrator relies on.
func (c *Config) Validate() error {
	if c.Job.Destination == "" {
		return fmt.Errorf("config: job.destination is required")
	}
	info, err := os.Stat(c.Job.Destination)
	if err != nil {
		return fmt.Errorf("config: destination does not exist: %s", c.Job.Destination)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: destination is not a directory: %s", c.Job.Destination)
	}
	if c.Job.Format == "" {
		return fmt.Errorf("config: job.format is required")
	}
	if c.Job.BatchSize <= 0 {
		return fmt.Errorf("config: job.batch_size must be positive")
	}
	if c.Job.MaxResourceSize <= 0 {
		return fmt.Errorf("config: job.max_resource_size must be positive")
	}
	if c.Perf.OuterWorkers <= 0 || c.Perf.InnerWorkers <= 0 {
		return fmt.Errorf("config: perf workers must be positive")
	}
	switch c.Catalog.Kind {
	case "ckan", "socrata":
	default:
		return fmt.Errorf("config: unknown catalog kind: %s", c.Catalog.Kind)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
