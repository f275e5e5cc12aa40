// Package brokerpool manages pooled Redis broker connections: one cached
// pool per broker URL, retry-on-connect with ping verification, scoped
// connection acquisition and rolling connection health statistics.
package brokerpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smontoya86/curatorq/pkg/observability/logger"
)

const (
	// DefaultMaxRetries is the total number of connection attempts before
	// giving up with ErrBrokerUnavailable.
	DefaultMaxRetries = 5
	// DefaultBackoffFactor scales the fixed exponential connect backoff:
	// sleep backoffFactor * 2^attempt between attempts. Connect backoff is
	// deliberately not jittered; only broker-visible job requeues are.
	DefaultBackoffFactor = 500 * time.Millisecond

	defaultPoolSize            = 10
	defaultDialTimeout         = 5 * time.Second
	defaultSocketTimeout       = 3 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	defaultIdleTimeout         = 30 * time.Second
)

// ErrBrokerUnavailable is returned once connection establishment has
// exhausted its retry budget. The last underlying failure is wrapped.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Config holds pool construction settings. One instance per manager, created
// at startup and never mutated afterwards.
type Config struct {
	PoolSize            int
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	KeepAlive           bool
	HealthCheckInterval time.Duration
}

func (c *Config) normalize() {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultSocketTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultSocketTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
}

// Manager owns one pooled client per broker URL. It is constructed explicitly
// and injected into producers and workers; there is no process-wide singleton.
// Pools live until Close, called once at process shutdown.
type Manager struct {
	defaultURL string
	config     Config
	log        logger.Logger
	stats      *HealthStats

	mu    sync.Mutex
	pools map[string]*redis.Client

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(time.Duration)
}

// NewManager creates a pool manager with a default broker URL used whenever a
// caller passes an empty URL.
func NewManager(defaultURL string, cfg Config, log logger.Logger) (*Manager, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(defaultURL) == "" {
		return nil, errors.New("default broker url is required")
	}
	if _, err := redis.ParseURL(defaultURL); err != nil {
		return nil, fmt.Errorf("parse broker url failed: %w", err)
	}
	cfg.normalize()

	return &Manager{
		defaultURL: strings.TrimSpace(defaultURL),
		config:     cfg,
		log:        log,
		stats:      newHealthStats(),
		pools:      map[string]*redis.Client{},
		sleep:      time.Sleep,
	}, nil
}

// Config returns the immutable pool configuration.
func (m *Manager) Config() Config {
	return m.config
}

// DefaultURL returns the broker URL used when callers pass an empty one.
func (m *Manager) DefaultURL() string {
	return m.defaultURL
}

// GetPool returns the cached pool for the URL, creating it on first use.
func (m *Manager) GetPool(url string) (*redis.Client, error) {
	url = m.resolveURL(url)

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.pools[url]; ok {
		return client, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url failed: %w", err)
	}
	opts.PoolSize = m.config.PoolSize
	opts.DialTimeout = m.config.DialTimeout
	opts.ReadTimeout = m.config.ReadTimeout
	opts.WriteTimeout = m.config.WriteTimeout
	if !m.config.KeepAlive {
		opts.ConnMaxIdleTime = defaultIdleTimeout
	}

	client := redis.NewClient(opts)
	m.pools[url] = client
	m.log.Debug("broker pool created", "url_host", opts.Addr, "pool_size", opts.PoolSize)
	return client, nil
}

// GetConnection obtains a ping-verified connection from the pool using the
// default retry budget.
func (m *Manager) GetConnection(ctx context.Context, url string) (*redis.Conn, error) {
	return m.GetConnectionWithRetry(ctx, url, DefaultMaxRetries, DefaultBackoffFactor)
}

// GetConnectionWithRetry obtains a connection from the URL's pool and
// verifies it with a ping. On failure it retries up to maxRetries total
// attempts, sleeping backoffFactor * 2^attempt between attempts, and finally
// fails with ErrBrokerUnavailable wrapping the last underlying error. Every
// attempt, successful or not, is recorded in the health stats.
func (m *Manager) GetConnectionWithRetry(ctx context.Context, url string, maxRetries int, backoffFactor time.Duration) (*redis.Conn, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoffFactor <= 0 {
		backoffFactor = DefaultBackoffFactor
	}

	pool, err := m.GetPool(url)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn := pool.Conn()
		pingCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
		err := conn.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			m.stats.recordAttempt(nil)
			return conn, nil
		}
		_ = conn.Close()
		lastErr = err
		m.stats.recordAttempt(err)
		m.log.Warn("broker connection attempt failed",
			"attempt", attempt+1, "max_retries", maxRetries, "error", err)

		if attempt < maxRetries-1 {
			m.sleep(backoffFactor << attempt)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrBrokerUnavailable, maxRetries, lastErr)
}

// WithConnection acquires a verified connection, runs fn and releases the
// connection on every exit path including panics.
func (m *Manager) WithConnection(ctx context.Context, url string, fn func(ctx context.Context, conn *redis.Conn) error) error {
	conn, err := m.GetConnection(ctx, url)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	return fn(ctx, conn)
}

// HealthCheck pings the default pool once. Satisfies health.Checkable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	pool, err := m.GetPool("")
	if err != nil {
		return err
	}
	err = pool.Ping(ctx).Err()
	m.stats.recordPing(err)
	return err
}

// Stats returns a read-only snapshot of the manager's health counters.
func (m *Manager) Stats() StatsSnapshot {
	return m.stats.snapshot()
}

// Close closes every pooled client. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for url, client := range m.pools {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.pools, url)
	}
	return firstErr
}

func (m *Manager) resolveURL(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return m.defaultURL
	}
	return url
}
