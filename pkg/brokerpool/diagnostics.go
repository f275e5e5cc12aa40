package brokerpool

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// ConnectionTestResult is a one-shot broker diagnostic. Server metadata is
// best-effort: a reachable broker that refuses INFO still tests as connected.
type ConnectionTestResult struct {
	URL              string        `json:"url"`
	Connected        bool          `json:"connected"`
	Latency          time.Duration `json:"latency"`
	ServerVersion    string        `json:"server_version,omitempty"`
	UptimeSeconds    int64         `json:"uptime_seconds,omitempty"`
	ConnectedClients int           `json:"connected_clients,omitempty"`
	PoolSize         int           `json:"pool_size"`
	CheckedAt        time.Time     `json:"checked_at"`
	Error            string        `json:"error,omitempty"`
}

// TestConnection pings the broker once and gathers round-trip latency plus
// server metadata. It never returns an error; failures populate the result's
// Error field.
func (m *Manager) TestConnection(ctx context.Context, url string) *ConnectionTestResult {
	result := &ConnectionTestResult{
		URL:       m.resolveURL(url),
		PoolSize:  m.config.PoolSize,
		CheckedAt: time.Now().UTC(),
	}

	pool, err := m.GetPool(url)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	pingErr := pool.Ping(ctx).Err()
	result.Latency = time.Since(start)
	m.stats.recordPing(pingErr)
	if pingErr != nil {
		result.Error = pingErr.Error()
		return result
	}
	result.Connected = true

	if info, err := pool.Info(ctx, "server").Result(); err == nil {
		fields := parseInfoFields(info)
		result.ServerVersion = fields["redis_version"]
		if uptime, err := strconv.ParseInt(fields["uptime_in_seconds"], 10, 64); err == nil {
			result.UptimeSeconds = uptime
		}
	}
	if info, err := pool.Info(ctx, "clients").Result(); err == nil {
		fields := parseInfoFields(info)
		if clients, err := strconv.Atoi(fields["connected_clients"]); err == nil {
			result.ConnectedClients = clients
		}
	}
	return result
}

// parseInfoFields parses the "key:value" lines of an INFO reply.
func parseInfoFields(info string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}
