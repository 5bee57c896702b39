package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration for a docjobs service: the store
// connection, queue concurrency, logging, the metrics endpoint, and the
// set of scheduled reports this service runs.
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Store       StoreConfig    `toml:"store"`
	Queue       QueueConfig    `toml:"queue"`
	Logging     LoggingConfig  `toml:"logging"`
	Metrics     MetricsConfig  `toml:"metrics"`
	Reports     []ReportConfig `toml:"report"`
}

// StoreConfig is the connection to the remote document store (the "oada"
// connection parameter: domain, token, timeout).
type StoreConfig struct {
	Domain  string `toml:"domain"`  // store host, e.g. "api.example.com"
	Token   string `toml:"token"`   // bearer token
	Timeout string `toml:"timeout"` // per-request timeout, e.g. "30s"
}

// QueueConfig controls how many jobs a service's Queue runs concurrently
// and how it behaves around the store's change-subscription transport.
type QueueConfig struct {
	Concurrency          int    `toml:"concurrency"`            // bounded worker count
	WatchReconnectDelay  string `toml:"watch_reconnect_delay"`   // backoff before re-subscribing after a dropped watch
	DefaultWorkerTimeout string `toml:"default_worker_timeout"`  // not read by the Runner, which uses a fixed 5m when a worker type registers no timeout
}

// LoggingConfig configures the arbor logger.
type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddress string `toml:"listen_address"` // e.g. ":9090"
	Path          string `toml:"path"`           // default: "/metrics"
}

// ReportConfig describes one scheduled report: the cron expression it
// fires on, the store path its rows accumulate under, and where the
// rendered CSV's email job gets posted.
type ReportConfig struct {
	Name           string `toml:"name"`
	Schedule       string `toml:"schedule"`         // six-field cron, seconds precision
	EmailQueuePath string `toml:"email_queue_path"` // pending-jobs path of the downstream email service
	Recipients     []string `toml:"recipients"`
	Subject        string `toml:"subject"`
}

// NewDefaultConfig returns a Config with conservative defaults; every
// value here can be overridden by a config file, and the fields handled
// by applyEnvOverrides also by an environment variable.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Store: StoreConfig{
			Timeout: "30s",
		},
		Queue: QueueConfig{
			Concurrency:          10,
			WatchReconnectDelay:  "2s",
			DefaultWorkerTimeout: "5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
	}
}

// LoadFromFiles loads configuration from multiple TOML files with priority
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// ones, matching the override order a caller lists them in.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies DOCJOBS_* environment variable overrides,
// which take priority over every config file.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DOCJOBS_ENV"); env != "" {
		config.Environment = env
	}

	if domain := os.Getenv("DOCJOBS_STORE_DOMAIN"); domain != "" {
		config.Store.Domain = domain
	}
	if token := os.Getenv("DOCJOBS_STORE_TOKEN"); token != "" {
		config.Store.Token = token
	}
	if timeout := os.Getenv("DOCJOBS_STORE_TIMEOUT"); timeout != "" {
		config.Store.Timeout = timeout
	}

	if concurrency := os.Getenv("DOCJOBS_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}

	if level := os.Getenv("DOCJOBS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("DOCJOBS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if addr := os.Getenv("DOCJOBS_METRICS_LISTEN_ADDRESS"); addr != "" {
		config.Metrics.ListenAddress = addr
	}
}

// StoreTimeout parses Store.Timeout, falling back to 30s if unset or
// unparseable.
func (c *Config) StoreTimeout() time.Duration {
	if c.Store.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Store.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// WatchReconnectDelay parses Queue.WatchReconnectDelay, falling back to 2s.
func (c *Config) WatchReconnectDelay() time.Duration {
	if c.Queue.WatchReconnectDelay == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(c.Queue.WatchReconnectDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateSchedule validates a six-field, seconds-precision cron
// expression, the format every ReportConfig.Schedule must use.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}
