package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/smontoya86/curatorq/pkg/retry"
)

// Loader defines the interface for loading configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using viper.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix is the
// prefix for environment variables (e.g. "CURATORQ").
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  strings.TrimSpace(envPrefix),
	}
}

// Load loads configuration with precedence ENV > file > defaults.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s failed: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.version", l.prefixedEnv("SERVICE_VERSION"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	v.BindEnv("logging.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("logging.format", l.prefixedEnv("LOG_FORMAT"))

	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))

	v.BindEnv("tracing.enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("tracing.sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))

	// REDIS_URL stays unprefixed: every deployment platform exports it that way.
	v.BindEnv("redis.url", "REDIS_URL", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("redis.pool_size", l.prefixedEnv("REDIS_POOL_SIZE"))
	v.BindEnv("redis.dial_timeout", l.prefixedEnv("REDIS_DIAL_TIMEOUT"))
	v.BindEnv("redis.read_timeout", l.prefixedEnv("REDIS_READ_TIMEOUT"))
	v.BindEnv("redis.write_timeout", l.prefixedEnv("REDIS_WRITE_TIMEOUT"))
	v.BindEnv("redis.keep_alive", l.prefixedEnv("REDIS_KEEP_ALIVE"))
	v.BindEnv("redis.health_check_interval", l.prefixedEnv("REDIS_HEALTH_CHECK_INTERVAL"))

	v.BindEnv("jobs.prefix", l.prefixedEnv("JOBS_PREFIX"))
	v.BindEnv("jobs.default_queue", l.prefixedEnv("JOBS_DEFAULT_QUEUE"))
	v.BindEnv("jobs.queues", l.prefixedEnv("JOBS_QUEUES"))
	v.BindEnv("jobs.concurrency", l.prefixedEnv("JOBS_CONCURRENCY"))
	v.BindEnv("jobs.lease_ttl", l.prefixedEnv("JOBS_LEASE_TTL"))
	v.BindEnv("jobs.default_timeout", l.prefixedEnv("JOBS_DEFAULT_TIMEOUT"))
	v.BindEnv("jobs.heartbeat_interval", l.prefixedEnv("JOBS_HEARTBEAT_INTERVAL"))
	v.BindEnv("jobs.heartbeat_window", l.prefixedEnv("JOBS_HEARTBEAT_WINDOW"))
	v.BindEnv("jobs.max_retries", l.prefixedEnv("JOBS_MAX_RETRIES"))
	v.BindEnv("jobs.base_delay", l.prefixedEnv("JOBS_BASE_DELAY"))
	v.BindEnv("jobs.max_delay", l.prefixedEnv("JOBS_MAX_DELAY"))
	v.BindEnv("jobs.exponential_base", l.prefixedEnv("JOBS_EXPONENTIAL_BASE"))
	v.BindEnv("jobs.jitter", l.prefixedEnv("JOBS_JITTER"))
}

func (l *ViperLoader) prefixedEnv(name string) string {
	if l.envPrefix == "" {
		return name
	}
	return l.envPrefix + "_" + name
}

func (l *ViperLoader) setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("service.name", defaults.Service.Name)
	v.SetDefault("service.version", defaults.Service.Version)
	v.SetDefault("service.environment", defaults.Service.Environment)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	v.SetDefault("management.enabled", defaults.Management.Enabled)
	v.SetDefault("management.port", defaults.Management.Port)
	v.SetDefault("management.read_timeout", defaults.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", defaults.Management.WriteTimeout)

	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	v.SetDefault("redis.url", defaults.Redis.URL)
	v.SetDefault("redis.pool_size", defaults.Redis.PoolSize)
	v.SetDefault("redis.dial_timeout", defaults.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", defaults.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", defaults.Redis.WriteTimeout)
	v.SetDefault("redis.keep_alive", defaults.Redis.KeepAlive)
	v.SetDefault("redis.health_check_interval", defaults.Redis.HealthCheckInterval)

	v.SetDefault("jobs.prefix", defaults.Jobs.Prefix)
	v.SetDefault("jobs.default_queue", defaults.Jobs.DefaultQueue)
	v.SetDefault("jobs.queues", defaults.Jobs.Queues)
	v.SetDefault("jobs.concurrency", defaults.Jobs.Concurrency)
	v.SetDefault("jobs.lease_ttl", defaults.Jobs.LeaseTTL)
	v.SetDefault("jobs.default_timeout", defaults.Jobs.DefaultTimeout)
	v.SetDefault("jobs.heartbeat_interval", defaults.Jobs.HeartbeatInterval)
	v.SetDefault("jobs.heartbeat_window", defaults.Jobs.HeartbeatWindow)
	v.SetDefault("jobs.max_retries", defaults.Jobs.MaxRetries)
	v.SetDefault("jobs.base_delay", defaults.Jobs.BaseDelay)
	v.SetDefault("jobs.max_delay", defaults.Jobs.MaxDelay)
	v.SetDefault("jobs.exponential_base", defaults.Jobs.ExponentialBase)
	v.SetDefault("jobs.jitter", defaults.Jobs.Jitter)
}

// Validate checks cross-field constraints the structs cannot express.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Service.Name) == "" {
		return fmt.Errorf("service.name is required")
	}
	if strings.TrimSpace(cfg.Redis.URL) == "" {
		return fmt.Errorf("redis.url is required")
	}
	if cfg.Management.Enabled && (cfg.Management.Port <= 0 || cfg.Management.Port > 65535) {
		return fmt.Errorf("management.port must be in 1..65535")
	}
	if cfg.Tracing.Enabled && (cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	if cfg.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be positive")
	}
	if cfg.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries must be >= 0")
	}
	if cfg.Jobs.ExponentialBase <= 1 {
		return fmt.Errorf("jobs.exponential_base must be > 1")
	}
	if len(queuesOf(cfg)) == 0 {
		return fmt.Errorf("jobs.queues must name at least one queue")
	}
	return nil
}

// RetryPolicy builds the retry policy described by the jobs section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Name:            "default",
		MaxRetries:      c.Jobs.MaxRetries,
		BaseDelay:       c.Jobs.BaseDelay,
		MaxDelay:        c.Jobs.MaxDelay,
		ExponentialBase: c.Jobs.ExponentialBase,
		Jitter:          c.Jobs.Jitter,
	}
}

// Queues returns the configured queue list with blanks removed, falling back
// to the default queue.
func (c *Config) Queues() []string {
	return queuesOf(c)
}

func queuesOf(c *Config) []string {
	queues := make([]string, 0, len(c.Jobs.Queues))
	for _, queue := range c.Jobs.Queues {
		if q := strings.TrimSpace(queue); q != "" {
			queues = append(queues, q)
		}
	}
	if len(queues) == 0 && strings.TrimSpace(c.Jobs.DefaultQueue) != "" {
		queues = append(queues, strings.TrimSpace(c.Jobs.DefaultQueue))
	}
	return queues
}
