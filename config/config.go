// Package config defines the application configuration: a JSON file as
// the base, environment variables as overrides, validated before use.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
)

// Duration is a time.Duration that marshals as a human-readable string
// ("90s", "2h") in both JSON and environment values.
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or raw nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return d.UnmarshalText([]byte(asString))
	}
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	return fmt.Errorf("invalid duration %s", data)
}

// UnmarshalText parses a duration string; used by the env override layer.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete application configuration.
type Config struct {
	Upstream UpstreamConfig `json:"upstream"`
	Scan     ScanConfig     `json:"scan"`
	Cache    CacheConfig    `json:"cache"`
	NATS     NATSConfig     `json:"nats"`
	HTTP     HTTPConfig     `json:"http"`
	Log      LogConfig      `json:"log"`
}

// UpstreamConfig covers the odds provider client.
type UpstreamConfig struct {
	APIKey         string   `json:"apiKey" env:"STATTRACKR_API_KEY"`
	BaseURL        string   `json:"baseUrl" env:"STATTRACKR_BASE_URL"`
	Sport          string   `json:"sport" env:"STATTRACKR_SPORT"`
	RequestTimeout Duration `json:"requestTimeout" env:"STATTRACKR_REQUEST_TIMEOUT"`
	RetryCeiling   int      `json:"retryCeiling" env:"STATTRACKR_RETRY_CEILING"`
	BackoffBase    Duration `json:"backoffBase" env:"STATTRACKR_BACKOFF_BASE"`
	MaxPages       int      `json:"maxPages" env:"STATTRACKR_MAX_PAGES"`
}

// ScanConfig sizes the batch scanner and its scheduler.
type ScanConfig struct {
	GroupSize           int      `json:"groupSize" env:"STATTRACKR_SCAN_GROUP_SIZE"`
	Concurrency         int      `json:"concurrency" env:"STATTRACKR_SCAN_CONCURRENCY"`
	GroupDelay          Duration `json:"groupDelay" env:"STATTRACKR_SCAN_GROUP_DELAY"`
	Budget              Duration `json:"budget" env:"STATTRACKR_SCAN_BUDGET"`
	CadenceHours        int      `json:"cadenceHours" env:"STATTRACKR_SCAN_CADENCE_HOURS"`
	TriggerInterval     Duration `json:"triggerInterval" env:"STATTRACKR_SCAN_TRIGGER_INTERVAL"`
	CheckpointStaleness Duration `json:"checkpointStaleness" env:"STATTRACKR_CHECKPOINT_STALENESS"`
}

// CacheConfig covers both cache tiers.
type CacheConfig struct {
	SweepInterval Duration `json:"sweepInterval" env:"STATTRACKR_CACHE_SWEEP_INTERVAL"`
	Bucket        string   `json:"bucket" env:"STATTRACKR_CACHE_BUCKET"`
}

// NATSConfig covers the durable-tier connection.
type NATSConfig struct {
	URL           string   `json:"url" env:"STATTRACKR_NATS_URL"`
	Name          string   `json:"name" env:"STATTRACKR_NATS_NAME"`
	MaxReconnects int      `json:"maxReconnects" env:"STATTRACKR_NATS_MAX_RECONNECTS"`
	ReconnectWait Duration `json:"reconnectWait" env:"STATTRACKR_NATS_RECONNECT_WAIT"`
}

// HTTPConfig covers the API and metrics listeners.
type HTTPConfig struct {
	Port        int `json:"port" env:"STATTRACKR_HTTP_PORT"`
	MetricsPort int `json:"metricsPort" env:"STATTRACKR_METRICS_PORT"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `json:"level" env:"STATTRACKR_LOG_LEVEL"`
	Format string `json:"format" env:"STATTRACKR_LOG_FORMAT"`
}

// Default returns the configuration used when the file and environment
// say nothing.
func Default() Config {
	return Config{
		Upstream: UpstreamConfig{
			BaseURL:        "https://api.oddsfeed.example.com",
			Sport:          "nba",
			RequestTimeout: Duration(10 * time.Second),
			RetryCeiling:   4,
			BackoffBase:    Duration(500 * time.Millisecond),
			MaxPages:       10,
		},
		Scan: ScanConfig{
			GroupSize:           5,
			Concurrency:         4,
			GroupDelay:          Duration(2 * time.Second),
			Budget:              Duration(45 * time.Second),
			CadenceHours:        24,
			TriggerInterval:     Duration(10 * time.Minute),
			CheckpointStaleness: Duration(26 * time.Hour),
		},
		Cache: CacheConfig{
			SweepInterval: Duration(5 * time.Minute),
			Bucket:        "stattrackr-cache",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "stattrackr",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		HTTP: HTTPConfig{
			Port:        8080,
			MetricsPort: 9090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "upstream apiKey is required")
	}
	if c.Upstream.BaseURL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "upstream baseUrl is required")
	}
	if c.Upstream.RetryCeiling < 1 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "retryCeiling must be at least 1")
	}
	if c.Upstream.MaxPages < 1 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "maxPages must be at least 1")
	}
	if c.Scan.GroupSize < 1 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "scan groupSize must be at least 1")
	}
	if c.Scan.Concurrency < 1 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "scan concurrency must be at least 1")
	}
	if c.Scan.Budget.Std() <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "scan budget must be positive")
	}
	if c.Scan.CadenceHours < 1 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "scan cadenceHours must be at least 1")
	}
	if c.Scan.CheckpointStaleness.Std() <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "checkpointStaleness must be positive")
	}
	if c.Cache.SweepInterval.Std() <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate", "cache sweepInterval must be positive")
	}
	if c.Cache.Bucket == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "cache bucket is required")
	}
	if c.NATS.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "nats url is required")
	}
	if err := validatePort(c.HTTP.Port); err != nil {
		return errors.WrapFatal(err, "config", "Validate", "http port")
	}
	if err := validatePort(c.HTTP.MetricsPort); err != nil {
		return errors.WrapFatal(err, "config", "Validate", "metrics port")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", errors.ErrInvalidConfig, port)
	}
	return nil
}

// Cadence returns the full-scan cadence as a duration.
func (c *ScanConfig) Cadence() time.Duration {
	return time.Duration(c.CadenceHours) * time.Hour
}
