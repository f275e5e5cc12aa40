// Package config defines the process configuration and its viper-based
// loader. Precedence is ENV > file > defaults.
package config

import (
	"time"
)

// Config is the root configuration for worker and status processes.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Management ManagementConfig `mapstructure:"management"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ManagementConfig controls the management HTTP endpoint serving /healthz
// and /metrics.
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TracingConfig controls the OTLP tracer provider.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// RedisConfig controls broker connections and pooling.
type RedisConfig struct {
	URL                 string        `mapstructure:"url"`
	PoolSize            int           `mapstructure:"pool_size"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	KeepAlive           bool          `mapstructure:"keep_alive"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// JobsConfig controls queues, worker behavior and retry defaults.
type JobsConfig struct {
	Prefix            string        `mapstructure:"prefix"`
	DefaultQueue      string        `mapstructure:"default_queue"`
	Queues            []string      `mapstructure:"queues"`
	Concurrency       int           `mapstructure:"concurrency"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatWindow   time.Duration `mapstructure:"heartbeat_window"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	ExponentialBase   float64       `mapstructure:"exponential_base"`
	Jitter            bool          `mapstructure:"jitter"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "curatorq",
			Version:     "dev",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         9090,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			SampleRate: 0.1,
		},
		Redis: RedisConfig{
			URL:                 "redis://localhost:6379/0",
			PoolSize:            10,
			DialTimeout:         5 * time.Second,
			ReadTimeout:         3 * time.Second,
			WriteTimeout:        3 * time.Second,
			KeepAlive:           true,
			HealthCheckInterval: 30 * time.Second,
		},
		Jobs: JobsConfig{
			Prefix:            "curatorq:jobs",
			DefaultQueue:      "default",
			Queues:            []string{"default"},
			Concurrency:       4,
			LeaseTTL:          30 * time.Second,
			DefaultTimeout:    30 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			HeartbeatWindow:   15 * time.Second,
			MaxRetries:        3,
			BaseDelay:         60 * time.Second,
			MaxDelay:          30 * time.Minute,
			ExponentialBase:   2.0,
			Jitter:            true,
		},
	}
}
