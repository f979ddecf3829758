// Package config loads and validates the bridge's YAML configuration:
// the pubsub/variable/enterprise adapter sections, the static mapping
// list, the buffer/optimization/monitoring/logging sections.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PubSub configures the pub/sub-side adapter (NATS-backed by default).
type PubSub struct {
	URL            string        `mapstructure:"url"`
	ClientName     string        `mapstructure:"client_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

// Variable configures the variable-server-side adapter.
type Variable struct {
	Endpoint     string        `mapstructure:"endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Enterprise configures the enterprise HTTP request/response adapter.
type Enterprise struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RateLimitRPS  float64       `mapstructure:"rate_limit_rps"`
}

// MappingEntry is one static (source,destination) route declaration.
type MappingEntry struct {
	ID                 string `mapstructure:"id"`
	SourceSide         string `mapstructure:"source_side"`
	SourceAddress      string `mapstructure:"source_address"`
	DestinationSide    string `mapstructure:"destination_side"`
	DestinationAddress string `mapstructure:"destination_address"`
	DataType           string `mapstructure:"data_type"`
	Direction          string `mapstructure:"direction"`
	Priority           string `mapstructure:"priority"`
	Transform          string `mapstructure:"transform"`
	Description        string `mapstructure:"description"`
}

// PriorityLimits are optional soft enqueue caps per priority name.
type PriorityLimits struct {
	High   int `mapstructure:"high"`
	Normal int `mapstructure:"normal"`
	Low    int `mapstructure:"low"`
}

// Buffer configures the durable store and the Buffer API built on top of it.
type Buffer struct {
	Enabled             bool           `mapstructure:"enabled"`
	DBPath              string         `mapstructure:"db_path"`
	MaxSize             int            `mapstructure:"max_size"`
	TTLMinutes          int            `mapstructure:"ttl_minutes"`
	CleanupInterval     time.Duration  `mapstructure:"cleanup_interval"`
	BatchSize           int            `mapstructure:"batch_size"`
	WorkerThreads       int            `mapstructure:"worker_threads"`
	RetryMaxAttempts    int            `mapstructure:"retry_max_attempts"`
	PriorityLimits      PriorityLimits `mapstructure:"priority_limits"`
	WALEnabled          bool           `mapstructure:"wal_enabled"`
	RetryBackoffEnabled bool           `mapstructure:"retry_backoff_enabled"`
	RetryBackoffBase    time.Duration  `mapstructure:"retry_backoff_base"`
}

// Optimization configures worker-pool pacing shared by every egress pool.
type Optimization struct {
	PollBackoff   time.Duration `mapstructure:"poll_backoff"`
	BreakerWindow time.Duration `mapstructure:"breaker_window"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	BreakerFailureThreshold float64 `mapstructure:"breaker_failure_threshold"`
	BreakerMinSamples int     `mapstructure:"breaker_min_samples"`
}

// Monitoring configures the operator surface and the archive sinks it feeds.
type Monitoring struct {
	MetricsPort          int           `mapstructure:"metrics_port"`
	ReportInterval       time.Duration `mapstructure:"report_interval"`
	AnomalyInterval      time.Duration `mapstructure:"anomaly_interval"`
	ArchiveBackend       string        `mapstructure:"archive_backend"` // file|s3|clickhouse|postgres
	ArchivePath          string        `mapstructure:"archive_path"`
	ArchiveCompress      bool          `mapstructure:"archive_compress"`
	ClickHouseDSN        string        `mapstructure:"clickhouse_dsn"`
	ClickHouseDatabase   string        `mapstructure:"clickhouse_database"`
	ClickHouseTable      string        `mapstructure:"clickhouse_table"`
	S3Bucket             string        `mapstructure:"s3_bucket"`
	S3Region             string        `mapstructure:"s3_region"`
	S3KeyPrefix          string        `mapstructure:"s3_key_prefix"`
	PostgresDSN          string        `mapstructure:"postgres_dsn"`
	WorkerUnstableCount  int           `mapstructure:"worker_unstable_count"`
	WorkerUnstableWindow time.Duration `mapstructure:"worker_unstable_window"`
}

// Logging configures zap and optional log-file rotation.
type Logging struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Tracing configures the optional OpenTelemetry exporter.
type Tracing struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Config is the full bridge configuration tree.
type Config struct {
	PubSub       PubSub         `mapstructure:"pubsub"`
	Variable     Variable       `mapstructure:"variable"`
	Enterprise   Enterprise     `mapstructure:"enterprise"`
	Mappings     []MappingEntry `mapstructure:"mappings"`
	Buffer       Buffer         `mapstructure:"buffer"`
	Optimization Optimization   `mapstructure:"optimization"`
	Monitoring   Monitoring     `mapstructure:"monitoring"`
	Logging      Logging        `mapstructure:"logging"`
	Tracing      Tracing        `mapstructure:"tracing"`
}

func defaultConfig() *Config {
	return &Config{
		PubSub: PubSub{
			URL:            "nats://127.0.0.1:4222",
			ClientName:     "protocol-bridge",
			ConnectTimeout: 5 * time.Second,
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  60,
		},
		Variable: Variable{
			Endpoint:     "memory://local",
			PollInterval: 1 * time.Second,
		},
		Enterprise: Enterprise{
			Timeout:      10 * time.Second,
			PollInterval: 5 * time.Second,
			RateLimitRPS: 20,
		},
		Buffer: Buffer{
			Enabled:          true,
			DBPath:           "./data/bridge.db",
			MaxSize:          10000,
			TTLMinutes:       60,
			CleanupInterval:  5 * time.Minute,
			BatchSize:        50,
			WorkerThreads:    4,
			RetryMaxAttempts: 3,
			PriorityLimits:   PriorityLimits{High: 5000, Normal: 3000, Low: 1000},
			WALEnabled:       true,
		},
		Optimization: Optimization{
			PollBackoff:             250 * time.Millisecond,
			BreakerWindow:           1 * time.Minute,
			BreakerCooldown:         30 * time.Second,
			BreakerFailureThreshold: 0.5,
			BreakerMinSamples:       20,
		},
		Monitoring: Monitoring{
			MetricsPort:          9090,
			ReportInterval:       1 * time.Hour,
			AnomalyInterval:      1 * time.Minute,
			ArchiveBackend:       "file",
			ArchivePath:          "./data/archive",
			WorkerUnstableCount:  5,
			WorkerUnstableWindow: 60 * time.Second,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads configuration from a YAML file (if present) with env overrides,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("pubsub.url", def.PubSub.URL)
	v.SetDefault("pubsub.client_name", def.PubSub.ClientName)
	v.SetDefault("pubsub.connect_timeout", def.PubSub.ConnectTimeout)
	v.SetDefault("pubsub.reconnect_wait", def.PubSub.ReconnectWait)
	v.SetDefault("pubsub.max_reconnects", def.PubSub.MaxReconnects)

	v.SetDefault("variable.endpoint", def.Variable.Endpoint)
	v.SetDefault("variable.poll_interval", def.Variable.PollInterval)

	v.SetDefault("enterprise.timeout", def.Enterprise.Timeout)
	v.SetDefault("enterprise.poll_interval", def.Enterprise.PollInterval)
	v.SetDefault("enterprise.rate_limit_rps", def.Enterprise.RateLimitRPS)

	v.SetDefault("buffer.enabled", def.Buffer.Enabled)
	v.SetDefault("buffer.db_path", def.Buffer.DBPath)
	v.SetDefault("buffer.max_size", def.Buffer.MaxSize)
	v.SetDefault("buffer.ttl_minutes", def.Buffer.TTLMinutes)
	v.SetDefault("buffer.cleanup_interval", def.Buffer.CleanupInterval)
	v.SetDefault("buffer.batch_size", def.Buffer.BatchSize)
	v.SetDefault("buffer.worker_threads", def.Buffer.WorkerThreads)
	v.SetDefault("buffer.retry_max_attempts", def.Buffer.RetryMaxAttempts)
	v.SetDefault("buffer.priority_limits.high", def.Buffer.PriorityLimits.High)
	v.SetDefault("buffer.priority_limits.normal", def.Buffer.PriorityLimits.Normal)
	v.SetDefault("buffer.priority_limits.low", def.Buffer.PriorityLimits.Low)
	v.SetDefault("buffer.wal_enabled", def.Buffer.WALEnabled)
	v.SetDefault("buffer.retry_backoff_enabled", def.Buffer.RetryBackoffEnabled)
	v.SetDefault("buffer.retry_backoff_base", def.Buffer.RetryBackoffBase)

	v.SetDefault("optimization.poll_backoff", def.Optimization.PollBackoff)
	v.SetDefault("optimization.breaker_window", def.Optimization.BreakerWindow)
	v.SetDefault("optimization.breaker_cooldown", def.Optimization.BreakerCooldown)
	v.SetDefault("optimization.breaker_failure_threshold", def.Optimization.BreakerFailureThreshold)
	v.SetDefault("optimization.breaker_min_samples", def.Optimization.BreakerMinSamples)

	v.SetDefault("monitoring.metrics_port", def.Monitoring.MetricsPort)
	v.SetDefault("monitoring.report_interval", def.Monitoring.ReportInterval)
	v.SetDefault("monitoring.anomaly_interval", def.Monitoring.AnomalyInterval)
	v.SetDefault("monitoring.archive_backend", def.Monitoring.ArchiveBackend)
	v.SetDefault("monitoring.archive_path", def.Monitoring.ArchivePath)
	v.SetDefault("monitoring.worker_unstable_count", def.Monitoring.WorkerUnstableCount)
	v.SetDefault("monitoring.worker_unstable_window", def.Monitoring.WorkerUnstableWindow)

	v.SetDefault("logging.level", def.Logging.Level)
}

var validDataTypes = map[string]bool{
	"Boolean": true, "Int32": true, "Float": true, "Double": true,
	"String": true, "DateTime": true, "JSON": true,
}

var validDirections = map[string]bool{"A->B": true, "B->A": true, "bidirectional": true}

var validPriorities = map[string]bool{"low": true, "normal": true, "high": true, "critical": true}

var validSides = map[string]bool{"pubsub": true, "variable": true, "enterprise": true}

// Validate rejects configuration that would otherwise fail silently at
// runtime: unknown enum values, missing mapping fields, nonsensical sizes.
// This is the fatal "validation error" class from the error taxonomy.
func Validate(cfg *Config) error {
	if cfg.Buffer.MaxSize <= 0 {
		return fmt.Errorf("buffer.max_size must be > 0")
	}
	if cfg.Buffer.TTLMinutes <= 0 {
		return fmt.Errorf("buffer.ttl_minutes must be > 0")
	}
	if cfg.Buffer.RetryMaxAttempts < 0 {
		return fmt.Errorf("buffer.retry_max_attempts must be >= 0")
	}
	if cfg.Buffer.WorkerThreads <= 0 {
		return fmt.Errorf("buffer.worker_threads must be >= 1")
	}
	if cfg.Buffer.BatchSize <= 0 {
		return fmt.Errorf("buffer.batch_size must be >= 1")
	}

	seen := map[string]bool{}
	for i, m := range cfg.Mappings {
		if m.ID == "" {
			return fmt.Errorf("mappings[%d]: id is required", i)
		}
		if !validSides[m.SourceSide] {
			return fmt.Errorf("mappings[%d] (%s): unknown source_side %q", i, m.ID, m.SourceSide)
		}
		if !validSides[m.DestinationSide] {
			return fmt.Errorf("mappings[%d] (%s): unknown destination_side %q", i, m.ID, m.DestinationSide)
		}
		if !validDataTypes[m.DataType] {
			return fmt.Errorf("mappings[%d] (%s): unknown data_type %q", i, m.ID, m.DataType)
		}
		if !validDirections[m.Direction] {
			return fmt.Errorf("mappings[%d] (%s): unknown direction %q", i, m.ID, m.Direction)
		}
		if m.Priority != "" && !validPriorities[strings.ToLower(m.Priority)] {
			return fmt.Errorf("mappings[%d] (%s): unknown priority %q", i, m.ID, m.Priority)
		}
		key := m.SourceSide + "/" + m.SourceAddress
		if seen[key] {
			// Duplicate source address: warn-only per spec, never fatal.
			fmt.Fprintf(os.Stderr, "config: warning: duplicate mapping source address %s (mapping %s)\n", key, m.ID)
		}
		seen[key] = true
	}

	if cfg.Monitoring.MetricsPort <= 0 || cfg.Monitoring.MetricsPort > 65535 {
		return fmt.Errorf("monitoring.metrics_port must be 1..65535")
	}
	switch cfg.Monitoring.ArchiveBackend {
	case "file", "s3", "clickhouse", "postgres":
	default:
		return fmt.Errorf("monitoring.archive_backend must be one of file|s3|clickhouse|postgres, got %q", cfg.Monitoring.ArchiveBackend)
	}
	return nil
}
